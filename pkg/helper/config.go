package helper

import (
	"os"
	"path/filepath"
)

const (
	// ConfDirEnv names a directory holding the configuration file. It takes
	// the place of /etc/agent-gateway, e.g. for a mounted config volume.
	ConfDirEnv = "AGENT_GATEWAY_CONF_DIR"

	defaultConfDir = "/etc/agent-gateway"
)

// GetCfgPath returns the path to the configuration file.
//
// Priority:
// 1. If filename is an absolute path, return it directly.
// 2. Check ./{filename} and ./configs/{filename}
// 3. Otherwise, fallback to $AGENT_GATEWAY_CONF_DIR/{filename}, or
// /etc/agent-gateway/{filename} when the variable is unset
func GetCfgPath(filename string) string {
	if filename == "" {
		panic("filename cannot be empty")
	}

	if filepath.IsAbs(filename) {
		return filename
	}

	if p := findUnder(cwd(), filename, ".", "configs"); p != "" {
		return p
	}

	return filepath.Join(confDir(), filename)
}

func confDir() string {
	if dir := os.Getenv(ConfDirEnv); dir != "" {
		return dir
	}
	return defaultConfDir
}

func cwd() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	return dir
}

// findUnder returns the absolute path of the first existing base/sub/filename
func findUnder(base, filename string, subdirs ...string) string {
	if base == "" {
		return ""
	}
	for _, sub := range subdirs {
		candidate := filepath.Join(base, sub, filename)
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		if abs, err := filepath.Abs(candidate); err == nil {
			return abs
		}
	}
	return ""
}
