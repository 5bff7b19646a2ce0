// Package formats wires the standard format handlers into a registry.
package formats

import (
	"github.com/meigma/crate"
	"github.com/meigma/crate/formats/bundle"
	"github.com/meigma/crate/formats/pak"
	"github.com/meigma/crate/formats/sevenzip"
	"github.com/meigma/crate/formats/wad"
	"github.com/meigma/crate/formats/zip"
)

// Default returns a registry with every built-in handler, in probe
// priority order. Formats with unambiguous multi-byte signatures probe
// first; the PAK dialects, whose headers are weakest, probe last.
func Default() *crate.Registry {
	return crate.NewRegistry(
		sevenzip.New(),
		zip.New(),
		bundle.New(),
		wad.New(),
		pak.SiN(),
		pak.Quake(),
	)
}
