// Package crate provides an in-memory container model for game resource
// archives: a tree of directories and entries mirroring an on-disk archive
// format, with change tracking, signal-based notifications, and lazy
// payload loading.
//
// An [Archive] owns one root [Dir] and delegates load/save to a
// [FormatHandler] selected from a [Registry], either explicitly or by
// probing magic signatures. Format codecs live under the formats
// subpackages; formats.Default wires the standard set.
//
// # Quick Start
//
// Open an archive from disk and walk its tree:
//
//	a, err := crate.OpenFile("textures.zip", crate.WithRegistry(formats.Default()))
//	if err != nil {
//	    return err
//	}
//	for _, e := range a.Root().Flatten() {
//	    fmt.Println(e.Path(), e.Size())
//	}
//
// Mutate and save:
//
//	e := crate.NewEntry("README.TXT")
//	_ = e.ImportData(content, 0, len(content))
//	if err := a.Root().AddEntry(e, -1); err != nil {
//	    return err
//	}
//	data, err := a.Write()
//
// Mutations must be confined to a single goroutine per Archive. Payload
// reads are safe from multiple goroutines once population has completed
// and no mutation is concurrent.
package crate
