// Package pathutil provides path manipulation for slash-separated archive paths.
//
// Archive paths always use forward slashes regardless of platform, since
// they name records inside a container, not files on disk.
package pathutil

import "strings"

// Clean normalizes an archive path: backslashes become slashes, repeated
// slashes and "." segments collapse, and leading/trailing slashes are
// trimmed. The root is the empty string.
func Clean(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, part := range parts {
		if part == "" || part == "." {
			continue
		}
		out = append(out, part)
	}
	return strings.Join(out, "/")
}

// Split divides a cleaned path into its directory part and final element.
// The directory part is empty for top-level names.
func Split(p string) (dir, name string) {
	p = Clean(p)
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return "", p
	}
	return p[:i], p[i+1:]
}

// Segments returns the path's components, or nil for the root.
func Segments(p string) []string {
	p = Clean(p)
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// Join concatenates a directory part and a name with a slash, handling an
// empty directory part.
func Join(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}
