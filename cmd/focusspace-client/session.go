package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/agentworkforce/focusspace/internal/config"
	"github.com/agentworkforce/focusspace/internal/docstore"
	"github.com/agentworkforce/focusspace/internal/mirror"
	"github.com/agentworkforce/focusspace/internal/remote"
	"github.com/agentworkforce/focusspace/internal/session"
	"github.com/agentworkforce/focusspace/internal/statesync"
	"github.com/agentworkforce/focusspace/internal/workspace"
)

var errNotFound = errors.New("not found")

// clientSession is one loaded workspace: a synchronizer over either the
// server or an in-process store seeded from the mirror file.
type clientSession struct {
	cfg    *config.Config
	logger zerolog.Logger
	mirror *mirror.Mirror
	sync   *statesync.Synchronizer
	local  *docstore.Store
	closed bool
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, wrapExitError(exitCommandError, "load config", err)
	}
	if opts.BaseURL != "" {
		cfg.Client.BaseURL = opts.BaseURL
	}
	if opts.Workspace != "" {
		cfg.Client.Workspace = opts.Workspace
	}
	if opts.MirrorFile != "" {
		cfg.Client.MirrorFile = opts.MirrorFile
	}
	if opts.Offline {
		cfg.Client.Offline = true
	}
	return cfg, nil
}

// newLogger logs at the configured level; --verbose lowers it to debug.
func newLogger(cfg *config.Config, opts *rootOptions, w io.Writer) zerolog.Logger {
	level := cfg.Level()
	if opts.Verbose && level > zerolog.DebugLevel {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: zerolog.SyncWriter(w), NoColor: true}).Level(level).With().Timestamp().Logger()
}

// openSession loads the workspace and waits until the first snapshot has been
// accepted.
func openSession(cmd *cobra.Command, opts *rootOptions, onChange func(workspace.Document)) (*clientSession, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, opts, cmd.ErrOrStderr())
	s := &clientSession{
		cfg:    cfg,
		logger: logger,
		mirror: mirror.New(cfg.Client.MirrorFile, logger),
	}

	var store remote.Store
	if cfg.Client.Offline {
		s.local = docstore.NewStore()
		if _, err := s.local.Write(docstore.WriteRequest{
			WorkspaceID: cfg.Client.Workspace,
			Document:    s.mirror.Load(time.Now()),
		}); err != nil {
			s.local.Close()
			return nil, wrapExitError(exitFailure, "seed local workspace", err)
		}
		store = remote.NewLocalAdapter(s.local, cfg.Client.Workspace)
	} else {
		sessionID, err := session.Ensure(cfg.Client.SessionFile)
		if err != nil {
			return nil, wrapExitError(exitFailure, "session id", err)
		}
		store = remote.NewHTTPAdapter(cfg.Client.BaseURL, cfg.Client.Workspace, sessionID, nil, remote.HTTPAdapterOptions{Logger: logger})
	}

	s.sync = statesync.New(statesync.Options{
		Store:        store,
		QuietPeriod:  cfg.Client.QuietPeriod,
		WriteTimeout: cfg.Client.WriteTimeout,
		Logger:       logger,
		OnChange:     onChange,
	})
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.sync.Start(ctx); err != nil {
		s.release()
		return nil, wrapExitError(exitFailure, "start sync", err)
	}

	wait := cfg.Client.WriteTimeout
	if wait <= 0 {
		wait = config.DefaultWriteTimeout
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-s.sync.Ready():
	case <-ctx.Done():
		s.release()
		return nil, ctx.Err()
	case <-timer.C:
		s.release()
		return nil, newExitError(exitFailure, "workspace %q did not load within %s", cfg.Client.Workspace, wait)
	}
	logger.Debug().Str("workspace", cfg.Client.Workspace).Bool("offline", cfg.Client.Offline).Msg("workspace loaded")
	return s, nil
}

// mutate applies fn and reports errNotFound as a command error.
func (s *clientSession) mutate(fn func(doc *workspace.Document) error) error {
	err := s.sync.Mutate(fn)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errNotFound), errors.Is(err, workspace.ErrEmptyTitle):
		return &exitError{Code: exitCommandError, Message: err.Error()}
	default:
		return wrapExitError(exitFailure, "update workspace", err)
	}
}

// Close writes pending changes, refreshes the mirror and releases the store.
func (s *clientSession) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	flushErr := s.sync.Flush(ctx)
	doc := s.sync.Document()
	s.release()
	if err := s.mirror.Save(doc); err != nil {
		s.logger.Warn().Err(err).Msg("save mirror")
	}
	if flushErr != nil {
		return wrapExitError(exitFailure, "save workspace", flushErr)
	}
	return nil
}

func (s *clientSession) release() {
	s.closed = true
	if err := s.sync.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("close subscription")
	}
	if s.local != nil {
		s.local.Close()
	}
}

func missing(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, errNotFound)
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
