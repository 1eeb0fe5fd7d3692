// Package web embeds the status and decision page served by the daemon.
package web

import (
	"embed"
	"io/fs"
)

//go:embed dist/*
var distFS embed.FS

// DistFS returns the page assets rooted at the dist/ directory.
func DistFS() (fs.FS, error) {
	return fs.Sub(distFS, "dist")
}

// HasDist reports whether any assets were embedded.
func HasDist() bool {
	entries, err := fs.ReadDir(distFS, "dist")
	if err != nil {
		return false
	}
	return len(entries) > 0
}
