package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/focusspace/internal/categorize"
	"github.com/agentworkforce/focusspace/internal/workspace"
)

func newCaptureCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "capture [text...]",
		Short: "Sort free text into tasks, links, sheets and notes",
		Long: `capture sends the text to the Gemini categorizer and adds everything it
finds to the workspace in one change. Without arguments the text is read from
standard input. The API key comes from GEMINI_API_KEY or [categorize] api_key.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text := joinArgs(args)
			if len(args) == 0 {
				raw, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return wrapExitError(exitCommandError, "read input", err)
				}
				text = string(raw)
			}

			s, err := openSession(cmd, opts, nil)
			if err != nil {
				return err
			}
			cfg := s.cfg.Categorize
			capturer := &categorize.Capturer{
				Categorizer: categorize.NewClient(categorize.Options{
					APIKey:  cfg.APIKey,
					Model:   cfg.Model,
					BaseURL: cfg.BaseURL,
					Timeout: cfg.Timeout,
					Logger:  s.logger,
				}),
				Target: s.sync,
				Logger: s.logger,
			}
			added, captureErr := capturer.Capture(cmd.Context(), text)
			if err := s.Close(cmd.Context()); err != nil && captureErr == nil {
				return err
			}

			var failed *categorize.CaptureError
			switch {
			case errors.Is(captureErr, categorize.ErrEmptyInput):
				return newExitError(exitCommandError, "nothing to capture")
			case errors.As(captureErr, &failed):
				return &exitError{Code: exitFailure, Message: failed.Error()}
			case captureErr != nil:
				return wrapExitError(exitFailure, "capture", captureErr)
			}
			return printCaptured(opts, cmd, added)
		},
	}
}

type capturedItems struct {
	Tasks  []workspace.Task       `json:"tasks"`
	Links  []workspace.LinkItem   `json:"links"`
	Sheets []workspace.SheetItem  `json:"sheets"`
	Notes  []workspace.StickyNote `json:"notes"`
}

func printCaptured(opts *rootOptions, cmd *cobra.Command, added workspace.Collections) error {
	items := capturedItems{
		Tasks:  append([]workspace.Task{}, added.Tasks...),
		Links:  append([]workspace.LinkItem{}, added.Links...),
		Sheets: append([]workspace.SheetItem{}, added.Sheets...),
		Notes:  append([]workspace.StickyNote{}, added.Notes...),
	}
	return newPrinter(opts, cmd.OutOrStdout()).result(items, func(w io.Writer) {
		if added.Empty() {
			fmt.Fprintln(w, "Nothing found to add.")
			return
		}
		for _, task := range items.Tasks {
			fmt.Fprintf(w, "task   %s  %s (%s)\n", task.ID, task.Title, task.Priority)
		}
		for _, link := range items.Links {
			fmt.Fprintf(w, "link   %s  %s [%s]\n", link.ID, link.Title, link.Category)
		}
		for _, sheet := range items.Sheets {
			fmt.Fprintf(w, "sheet  %s  %s\n", sheet.ID, sheet.Title)
		}
		for _, note := range items.Notes {
			fmt.Fprintf(w, "note   %s  %s\n", note.ID, note.Content)
		}
	})
}
