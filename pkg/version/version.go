package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var raw string

// Version is the release tag embedded at build time
var Version = strings.TrimSpace(raw)

// Get returns the current version of the application
func Get() string {
	return Version
}
