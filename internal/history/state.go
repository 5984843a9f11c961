package history

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

const (
	stateDirName  = ".agrovoice"
	stateFileName = "current_session"
)

// stateFilePath returns the path to the current-session state file under
// baseDir, creating the state directory if needed.
func stateFilePath(baseDir string) (string, error) {
	dir := filepath.Join(baseDir, stateDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	return filepath.Join(dir, stateFileName), nil
}

// StateBaseDir returns the directory state files are kept under, normally
// the user's home directory.
func StateBaseDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return homeDir, nil
}

// LoadCurrentSessionID loads the active session id from the state file
// under baseDir. Returns ("", nil) when no current session is set; a
// missing state file is not an error.
func LoadCurrentSessionID(baseDir string) (string, error) {
	filePath, err := stateFilePath(baseDir)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read state file: %w", err)
	}

	return strings.TrimSpace(string(data)), nil
}

// SaveCurrentSessionID marks the given session as current. The write is
// atomic (temp file + rename) and serialized against concurrent CLI
// invocations with an advisory file lock.
func SaveCurrentSessionID(baseDir, sessionID string) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}

	filePath, err := stateFilePath(baseDir)
	if err != nil {
		return err
	}

	lock := flock.New(filePath + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock state file: %w", err)
	}
	defer lock.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(filePath), stateFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.WriteString(sessionID); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close state file: %w", err)
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// ClearCurrentSessionID removes the current session state file. Idempotent;
// clearing when no current session exists is not an error.
func ClearCurrentSessionID(baseDir string) error {
	filePath, err := stateFilePath(baseDir)
	if err != nil {
		return err
	}

	lock := flock.New(filePath + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock state file: %w", err)
	}
	defer lock.Unlock()

	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove state file: %w", err)
	}
	return nil
}
