package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/focusspace/internal/workspace"
)

func newSyncCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Keep the mirror file and the workspace in step until interrupted",
		Long: `sync writes every workspace change to the mirror file and sends edits made
to that file by other programs back to the workspace. It runs until it receives
an interrupt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Every save writes the newest document, so saves racing each other
			// cannot leave an older state on disk. Changes delivered before
			// openSession returns are covered by the first save below.
			var (
				current atomic.Pointer[clientSession]
				saveMu  sync.Mutex
			)
			saveLatest := func(s *clientSession) {
				saveMu.Lock()
				defer saveMu.Unlock()
				if err := s.mirror.Save(s.sync.Document()); err != nil {
					s.logger.Warn().Err(err).Msg("save mirror")
				}
			}
			s, err := openSession(cmd, opts, func(workspace.Document) {
				if s := current.Load(); s != nil {
					saveLatest(s)
				}
			})
			if err != nil {
				return err
			}
			current.Store(s)
			saveLatest(s)

			watcher, err := s.mirror.Watch(func(p workspace.Patch) {
				if err := s.sync.ApplyLocalMutation(p); err != nil {
					s.logger.Warn().Err(err).Msg("apply mirror edit")
				}
			})
			if err != nil {
				_ = s.Close(cmd.Context())
				return wrapExitError(exitFailure, "watch mirror", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Syncing workspace %q with %s\n", s.cfg.Client.Workspace, s.mirror.Path())
			<-cmd.Context().Done()

			_ = watcher.Close()
			// The command context is already cancelled; flush on a fresh one.
			return s.Close(context.WithoutCancel(cmd.Context()))
		},
	}
}
