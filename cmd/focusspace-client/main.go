package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/focusspace/internal/config"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
	BaseURL    string
	Workspace  string
	MirrorFile string
	Offline    bool
	Verbose    bool
	Format     string // "json" | "text"
}

var validFormats = []string{"text", "json"}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "focusspace",
		Short: "Tasks, links, sheets and sticky notes in one synchronized workspace",
		Long: `focusspace edits a workspace document shared through a focusspace server.

Every command loads the workspace, applies its change locally and writes the
result back before exiting. With --offline the local mirror file is used
instead of the server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range validFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", config.DefaultPath(), "config file path")
	cmd.PersistentFlags().StringVar(&opts.BaseURL, "base-url", "", "focusspace server URL")
	cmd.PersistentFlags().StringVarP(&opts.Workspace, "workspace", "w", "", "workspace ID")
	cmd.PersistentFlags().StringVar(&opts.MirrorFile, "mirror-file", "", "local mirror file")
	cmd.PersistentFlags().BoolVar(&opts.Offline, "offline", false, "work on the local mirror only")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newShowCommand(opts))
	cmd.AddCommand(newTasksCommand(opts))
	cmd.AddCommand(newTaskCommand(opts))
	cmd.AddCommand(newLinksCommand(opts))
	cmd.AddCommand(newLinkCommand(opts))
	cmd.AddCommand(newSheetCommand(opts))
	cmd.AddCommand(newNoteCommand(opts))
	cmd.AddCommand(newCaptureCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newConfigCommand(opts))

	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(exitCode(err))
	}
}
