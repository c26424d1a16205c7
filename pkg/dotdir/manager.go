// Package dotdir manages the .chronicle/ and ~/.chronicle directories.
//
// The directory holds config.toml, the default SQLite database, stored audio
// and the inbox ledger used by "chronicle watch".
package dotdir

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// dirName is the name of the chronicle directory.
	dirName = ".chronicle"
)

type Manager struct{}

func NewManager() *Manager {
	return &Manager{}
}

// Target returns the target absolute path to a .chronicle/ directory.
// Order of precedence is as follows:
//  1. Provided override
//  2. Local ./.chronicle/ dir
//  3. Home ~/.chronicle/ dir
//  4. If none found, attempt to create ~/.chronicle/ dir
func (m *Manager) Target(overrideDir string) (string, error) {
	var dir string

	switch {
	case overrideDir != "":
		dir = overrideDir

	case m.localDirExists():
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getting current directory: %w", err)
		}
		dir = filepath.Join(cwd, dirName)

	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		dir = filepath.Join(home, dirName)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating chronicle directory %s: %w", dir, err)
	}

	return filepath.Abs(dir)
}

// Resolve returns p when it is set, otherwise name joined onto the target
// directory.
func (m *Manager) Resolve(overrideDir, p, name string) (string, error) {
	if p != "" {
		return p, nil
	}
	dir, err := m.Target(overrideDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// localDirExists checks whether a .chronicle/ directory exists in the current
// working directory.
func (m *Manager) localDirExists() bool {
	cwd, err := os.Getwd()
	if err != nil {
		return false
	}

	info, err := os.Stat(filepath.Join(cwd, dirName))
	return err == nil && info.IsDir()
}
