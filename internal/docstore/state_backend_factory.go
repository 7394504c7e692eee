package docstore

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

type InMemoryStateBackend struct {
	mu       sync.Mutex
	snapshot *persistedState
}

func NewInMemoryStateBackend() *InMemoryStateBackend {
	return &InMemoryStateBackend{}
}

func (b *InMemoryStateBackend) Load() (*persistedState, error) {
	if b == nil {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snapshot == nil {
		return nil, nil
	}
	return cloneState(b.snapshot)
}

func (b *InMemoryStateBackend) Save(state *persistedState) error {
	if b == nil || state == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	clone, err := cloneState(state)
	if err != nil {
		return err
	}
	b.snapshot = clone
	return nil
}

func cloneState(state *persistedState) (*persistedState, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	var clone persistedState
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, err
	}
	return &clone, nil
}

func init() {
	RegisterStateBackendFactory("file", fileStateBackendFactory)
	for _, scheme := range []string{"memory", "mem", "inmem"} {
		RegisterStateBackendFactory(scheme, func(string) (StateBackend, error) {
			return NewInMemoryStateBackend(), nil
		})
	}
	for _, scheme := range []string{"postgres", "postgresql"} {
		RegisterStateBackendFactory(scheme, func(dsn string) (StateBackend, error) {
			return NewPostgresStateBackend(dsn)
		})
	}
	for _, scheme := range []string{"sqlite", "sqlite3"} {
		RegisterStateBackendFactory(scheme, func(dsn string) (StateBackend, error) {
			path, err := parseDSNPath(dsn)
			if err != nil {
				return nil, err
			}
			return NewSQLiteStateBackend(path)
		})
	}
	RegisterStateBackendFactory("s3", func(dsn string) (StateBackend, error) {
		parsed, err := url.Parse(dsn)
		if err != nil {
			return nil, err
		}
		return NewS3StateBackendFromURL(parsed)
	})
	for _, scheme := range []string{"mysql", "redis"} {
		scheme := scheme
		RegisterStateBackendFactory(scheme, func(string) (StateBackend, error) {
			return nil, fmt.Errorf("%w: state backend %s", ErrNotImplemented, scheme)
		})
	}
}

func fileStateBackendFactory(dsn string) (StateBackend, error) {
	path, err := parseDSNPath(dsn)
	if err != nil {
		return nil, err
	}
	return NewJSONFileStateBackend(path), nil
}

func parseDSNPath(dsn string) (string, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	return dsnPath(parsed, dsn)
}

// BuildStateBackendFromDSN picks a registered backend by DSN scheme. A DSN
// without a scheme is a file path; an empty DSN means no persistence.
func BuildStateBackendFromDSN(dsn string) (StateBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeBackendScheme(parsed.Scheme)
	if scheme == "" {
		return fileStateBackendFactory(dsn)
	}
	factory, ok := lookupStateBackendFactory(scheme)
	if !ok {
		return nil, fmt.Errorf("unsupported state backend scheme: %s", scheme)
	}
	return factory(dsn)
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", ErrInvalidInput
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrInvalidInput
		}
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Path)
	if host := strings.TrimSpace(parsed.Host); host != "" && path != "" {
		// sqlite://data/state.db names a relative path.
		return host + path, nil
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Host)
	}
	if path == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}
