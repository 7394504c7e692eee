// Package session provides the anonymous client identity: a uuid created on
// first use and reused afterwards.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Ensure returns the session id stored at path, creating one if the file is
// missing or does not hold a valid uuid.
func Ensure(path string) (string, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if id, parseErr := uuid.Parse(strings.TrimSpace(string(data))); parseErr == nil {
			return id.String(), nil
		}
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("read session: %w", err)
	}

	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write session: %w", err)
	}
	return id, nil
}
