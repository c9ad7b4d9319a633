package lock

import (
	"path"
	"strings"
)

// Normalize canonicalizes a client-supplied path so that equivalent
// spellings ("/data/foo/", "data\\foo", "/data//foo") collide on the
// same lock. It does not touch the filesystem.
func Normalize(p string) string {
	p = strings.TrimSpace(p)
	p = strings.ReplaceAll(p, "\\", "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	p = path.Clean(p)
	p = strings.ToLower(p)
	if p != "/" {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}
