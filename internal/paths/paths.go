// Package paths resolves the single application-data directory shared by
// every component. A prior split between independently resolved directories
// produced empty vector tables because two call sites disagreed on the
// home directory; this package exists so that never happens again.
package paths

import (
	"os"
	"path/filepath"
)

const appDirName = ".mailengine"

// Dir returns the application-data root, creating it if necessary.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, appDirName)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

// DB returns the directory holding sqlite files, creating it if necessary.
func DB() (string, error) {
	root, err := Dir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(root, "db")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

// MessagesDB returns the path to the metadata database file.
func MessagesDB() (string, error) {
	dir, err := DB()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "messages.sqlite"), nil
}

// VectorsDB returns the path to the vector database file.
func VectorsDB() (string, error) {
	dir, err := DB()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "vectors.sqlite"), nil
}

// Models returns the directory holding downloaded language models,
// creating it if necessary.
func Models() (string, error) {
	root, err := Dir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(root, "models")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

// Credentials returns the path to the fallback credential file.
func Credentials() (string, error) {
	root, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "credentials.json"), nil
}

// Settings returns the path to the user-tunable settings file.
func Settings() (string, error) {
	root, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "settings.json"), nil
}

// Socket returns the path to the daemon's control-plane unix socket.
func Socket() (string, error) {
	root, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "daemon.sock"), nil
}

// PID returns the path to the daemon's PID file.
func PID() (string, error) {
	root, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "daemon.pid"), nil
}

// Log returns the path to the daemon's log file.
func Log() (string, error) {
	root, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "daemon.log"), nil
}
