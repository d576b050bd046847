package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir is ~/.fusesearch/logs, or a temp directory when the home
// directory is unknown.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".fusesearch", "logs")
	}
	return filepath.Join(home, ".fusesearch", "logs")
}

// DefaultLogPath is the server log file.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "server.log")
}
