package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/focusspace/internal/workspace"
)

func newLinksCommand(opts *rootOptions) *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "links",
		Short: "List saved links, grouped by category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, opts, nil)
			if err != nil {
				return err
			}
			doc := s.sync.Document()
			if err := s.Close(cmd.Context()); err != nil {
				return err
			}
			links := make([]workspace.LinkItem, 0, len(doc.Links))
			for _, link := range doc.Links {
				if category == "" || link.Category == category {
					links = append(links, link)
				}
			}
			return newPrinter(opts, cmd.OutOrStdout()).result(links, func(w io.Writer) {
				var order []string
				grouped := map[string][]workspace.LinkItem{}
				for _, link := range links {
					if _, seen := grouped[link.Category]; !seen {
						order = append(order, link.Category)
					}
					grouped[link.Category] = append(grouped[link.Category], link)
				}
				for _, name := range order {
					fmt.Fprintf(w, "%s\n", name)
					for _, link := range grouped[name] {
						fmt.Fprintf(w, "  %s  %s  %s\n", link.ID, link.Title, link.URL)
					}
				}
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "only this category")
	return cmd
}

func newLinkCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Add or delete links",
	}

	var title, category string
	add := &cobra.Command{
		Use:   "add <url>",
		Short: "Save a link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, opts, nil)
			if err != nil {
				return err
			}
			ids, now := s.sync.IDs(), s.sync.Now()
			var added workspace.LinkItem
			mutateErr := s.mutate(func(doc *workspace.Document) error {
				added = doc.AddLink(title, args[0], category, ids, now)
				return nil
			})
			if err := finish(cmd, s, mutateErr); err != nil {
				return err
			}
			return newPrinter(opts, cmd.OutOrStdout()).result(added, func(w io.Writer) {
				fmt.Fprintf(w, "Added link %s: %s [%s]\n", added.ID, added.Title, added.Category)
			})
		},
	}
	add.Flags().StringVarP(&title, "title", "t", "", "display title (defaults to the URL)")
	add.Flags().StringVarP(&category, "category", "c", "", "category (defaults to "+workspace.DefaultLinkCategory+")")

	cmd.AddCommand(add, &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a link",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return deleteItem(cmd, opts, "link", args[0], (*workspace.Document).DeleteLink)
		},
	})
	return cmd
}

func newSheetCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sheet",
		Short: "List, add or delete spreadsheets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, opts, nil)
			if err != nil {
				return err
			}
			doc := s.sync.Document()
			if err := s.Close(cmd.Context()); err != nil {
				return err
			}
			return newPrinter(opts, cmd.OutOrStdout()).result(doc.Sheets, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				for _, sheet := range doc.Sheets {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", sheet.ID, sheet.Title, sheet.URL)
				}
				_ = tw.Flush()
			})
		},
	}

	var title string
	add := &cobra.Command{
		Use:   "add <url>",
		Short: "Save a spreadsheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, opts, nil)
			if err != nil {
				return err
			}
			ids, now := s.sync.IDs(), s.sync.Now()
			var added workspace.SheetItem
			mutateErr := s.mutate(func(doc *workspace.Document) error {
				added = doc.AddSheet(title, args[0], ids, now)
				return nil
			})
			if err := finish(cmd, s, mutateErr); err != nil {
				return err
			}
			return newPrinter(opts, cmd.OutOrStdout()).result(added, func(w io.Writer) {
				fmt.Fprintf(w, "Added sheet %s: %s\n", added.ID, added.Title)
			})
		},
	}
	add.Flags().StringVarP(&title, "title", "t", "", "display title (defaults to "+workspace.DefaultSheetTitle+")")

	cmd.AddCommand(add, &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a spreadsheet",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return deleteItem(cmd, opts, "sheet", args[0], (*workspace.Document).DeleteSheet)
		},
	})
	return cmd
}

func newNoteCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "note",
		Short: "List, add, edit, recolor or delete sticky notes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, opts, nil)
			if err != nil {
				return err
			}
			doc := s.sync.Document()
			if err := s.Close(cmd.Context()); err != nil {
				return err
			}
			return newPrinter(opts, cmd.OutOrStdout()).result(doc.Notes, func(w io.Writer) {
				for _, note := range doc.Notes {
					fmt.Fprintf(w, "%s (%s)\n  %s\n", note.ID, note.Color, note.Content)
				}
			})
		},
	}

	var color string
	add := &cobra.Command{
		Use:   "add [content...]",
		Short: "Add a sticky note",
		RunE: func(cmd *cobra.Command, args []string) error {
			if color != "" && !workspace.Color(color).Valid() {
				return newExitError(exitCommandError, "invalid color %q", color)
			}
			s, err := openSession(cmd, opts, nil)
			if err != nil {
				return err
			}
			ids, now := s.sync.IDs(), s.sync.Now()
			content := joinArgs(args)
			var added workspace.StickyNote
			mutateErr := s.mutate(func(doc *workspace.Document) error {
				added = doc.AddNote(ids, now)
				if content != "" {
					doc.EditNote(added.ID, content)
					added.Content = content
				}
				if color != "" {
					doc.ColorNote(added.ID, workspace.Color(color))
					added.Color = workspace.Color(color)
				}
				return nil
			})
			if err := finish(cmd, s, mutateErr); err != nil {
				return err
			}
			return printNote(opts, cmd, "Added", added)
		},
	}
	add.Flags().StringVar(&color, "color", "", "note color (yellow|blue|green|red|purple)")

	edit := &cobra.Command{
		Use:   "edit <id> <content...>",
		Short: "Replace a note's text",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return updateNote(cmd, opts, args[0], func(doc *workspace.Document) bool {
				return doc.EditNote(args[0], joinArgs(args[1:]))
			})
		},
	}

	recolor := &cobra.Command{
		Use:   "color <id> <color>",
		Short: "Change a note's color",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := workspace.Color(args[1])
			if !c.Valid() {
				return newExitError(exitCommandError, "invalid color %q", args[1])
			}
			return updateNote(cmd, opts, args[0], func(doc *workspace.Document) bool {
				return doc.ColorNote(args[0], c)
			})
		},
	}

	cmd.AddCommand(add, edit, recolor, &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a sticky note",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return deleteItem(cmd, opts, "note", args[0], (*workspace.Document).DeleteNote)
		},
	})
	return cmd
}

func updateNote(cmd *cobra.Command, opts *rootOptions, id string, change func(*workspace.Document) bool) error {
	s, err := openSession(cmd, opts, nil)
	if err != nil {
		return err
	}
	var updated workspace.StickyNote
	mutateErr := s.mutate(func(doc *workspace.Document) error {
		if !change(doc) {
			return missing("note", id)
		}
		for _, note := range doc.Notes {
			if note.ID == id {
				updated = note
			}
		}
		return nil
	})
	if err := finish(cmd, s, mutateErr); err != nil {
		return err
	}
	return printNote(opts, cmd, "Updated", updated)
}

func printNote(opts *rootOptions, cmd *cobra.Command, verb string, note workspace.StickyNote) error {
	return newPrinter(opts, cmd.OutOrStdout()).result(note, func(w io.Writer) {
		fmt.Fprintf(w, "%s note %s (%s)\n", verb, note.ID, note.Color)
	})
}
