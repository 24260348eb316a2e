package helper

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const defaultPIDPath = "/var/run/agent-gateway.pid"

// GetPIDPath returns the path to the PID file.
//
// Priority:
// 1. If filename is an absolute path, return it directly.
// 2. A relative filename resolves under the working directory when its parent exists.
// 3. Otherwise, fallback to /var/run/agent-gateway.pid
func GetPIDPath(filename string) string {
	if filepath.IsAbs(filename) {
		return filename
	}
	if p := pidUnderCwd(filename); p != "" {
		return p
	}
	return defaultPIDPath
}

// WritePIDFile writes the current process id to path, creating parent directories
func WritePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create pid directory: %w", err)
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644)
}

// RemovePIDFile removes the pid file, ignoring a missing file
func RemovePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func pidUnderCwd(filename string) string {
	if filename == "" {
		return ""
	}
	currentDir, err := os.Getwd()
	if err != nil || currentDir == "" {
		return ""
	}
	absPath, err := filepath.Abs(filepath.Join(currentDir, filename))
	if err != nil {
		return ""
	}
	if _, err := os.Stat(filepath.Dir(absPath)); err == nil {
		return absPath
	}
	return ""
}
