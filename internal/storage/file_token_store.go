package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileTokenStore keeps the OAuth refresh token in a local file, for CLI use.
type FileTokenStore struct {
	path string
}

// NewFileTokenStore creates a new FileTokenStore that reads and writes the given path.
func NewFileTokenStore(path string) (*FileTokenStore, error) {
	if path == "" {
		return nil, errors.New("token file path is required")
	}
	return &FileTokenStore{path: path}, nil
}

// Path returns the token file location.
func (s *FileTokenStore) Path() string {
	return s.path
}

// RefreshToken returns the current refresh token from the file.
func (s *FileTokenStore) RefreshToken(_ context.Context) (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("token file not found: %s (run 'crmsync auth' to authenticate)", s.path)
		}
		return "", fmt.Errorf("reading token file: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file is empty: %s (run 'crmsync auth' to authenticate)", s.path)
	}

	return token, nil
}

// SaveRefreshToken writes the refresh token, replacing the file atomically.
func (s *FileTokenStore) SaveRefreshToken(_ context.Context, token string) error {
	if token == "" {
		return errors.New("token cannot be empty")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".token-*")
	if err != nil {
		return fmt.Errorf("creating temporary token file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.WriteString(token + "\n"); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing token file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("setting token file permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing token file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing token file: %w", err)
	}

	return nil
}
