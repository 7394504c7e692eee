package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/agentworkforce/focusspace/internal/docstore/migrations"
	"github.com/agentworkforce/focusspace/internal/workspace"
)

const (
	sqliteVersionCounterKey = "version_counter"
	sqliteOperationTimeout  = 5 * time.Second
)

// SQLiteStateBackend stores one row per workspace document. The schema is
// managed by the migrations package.
type SQLiteStateBackend struct {
	path string

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewSQLiteStateBackend(path string) (*SQLiteStateBackend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	return &SQLiteStateBackend{path: path}, nil
}

func (b *SQLiteStateBackend) ensureReady() error {
	if b == nil {
		return ErrInvalidInput
	}
	b.initOnce.Do(func() {
		db, err := sql.Open("sqlite3", b.path)
		if err != nil {
			b.initErr = fmt.Errorf("failed to open database: %w", err)
			return
		}
		if b.path == ":memory:" {
			db.SetMaxOpenConns(1)
		}
		if err := migrations.MigrateUp(db); err != nil {
			_ = db.Close()
			b.initErr = err
			return
		}
		b.db = db
	})
	return b.initErr
}

func (b *SQLiteStateBackend) Load() (*persistedState, error) {
	if err := b.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOperationTimeout)
	defer cancel()

	var counter int64
	err := b.db.QueryRowContext(ctx, "SELECT meta_value FROM store_meta WHERE meta_key = ?", sqliteVersionCounterKey).Scan(&counter)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading version counter: %w", err)
	}

	rows, err := b.db.QueryContext(ctx, "SELECT workspace_id, version, updated_at, document FROM documents")
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	state := &persistedState{VersionCounter: counter, Records: map[string]*Record{}}
	for rows.Next() {
		var record Record
		var payload string
		if err := rows.Scan(&record.WorkspaceID, &record.Version, &record.UpdatedAt, &payload); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		doc, err := workspace.Decode([]byte(payload))
		if err != nil {
			return nil, fmt.Errorf("decoding document %s: %w", record.WorkspaceID, err)
		}
		record.Document = doc
		state.Records[record.WorkspaceID] = &record
	}
	return state, rows.Err()
}

// Save rewrites the documents table to match state in one transaction.
func (b *SQLiteStateBackend) Save(state *persistedState) error {
	if state == nil {
		return nil
	}
	if err := b.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOperationTimeout)
	defer cancel()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM documents"); err != nil {
		return fmt.Errorf("clearing documents: %w", err)
	}
	for id, record := range state.Records {
		if record == nil {
			continue
		}
		payload, err := json.Marshal(record.Document)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO documents (workspace_id, version, updated_at, document) VALUES (?, ?, ?, ?)",
			id, record.Version, record.UpdatedAt, string(payload))
		if err != nil {
			return fmt.Errorf("inserting document %s: %w", id, err)
		}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO store_meta (meta_key, meta_value) VALUES (?, ?)
		ON CONFLICT (meta_key) DO UPDATE SET meta_value = excluded.meta_value`,
		sqliteVersionCounterKey, state.VersionCounter)
	if err != nil {
		return fmt.Errorf("updating version counter: %w", err)
	}
	return tx.Commit()
}

func (b *SQLiteStateBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
