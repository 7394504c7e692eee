package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/focusspace/internal/workspace"
)

func newShowCommand(opts *rootOptions) *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the workspace dashboard",
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
			out := newPrinter(opts, cmd.OutOrStdout())
			if full {
				out.format = "json"
				return out.result(doc, nil)
			}
			summary := workspace.Summarize(doc)
			return out.result(summary, func(w io.Writer) {
				fmt.Fprintf(w, "Pending tasks:  %d (%d high priority)\n", summary.PendingTasks, summary.HighPriorityTasks)
				fmt.Fprintf(w, "Links:          %d\n", summary.LinkCount)
				fmt.Fprintf(w, "Sheets:         %d\n", summary.SheetCount)
				fmt.Fprintf(w, "Notes:          %d\n", summary.NoteCount)
				if len(summary.RecentLinks) > 0 {
					fmt.Fprintln(w, "\nRecent links:")
					for _, link := range summary.RecentLinks {
						fmt.Fprintf(w, "  %s  %s\n", link.Title, link.URL)
					}
				}
				if len(summary.RecentSheets) > 0 {
					fmt.Fprintln(w, "\nRecent sheets:")
					for _, sheet := range summary.RecentSheets {
						fmt.Fprintf(w, "  %s  %s\n", sheet.Title, sheet.URL)
					}
				}
			})
		},
	}
	cmd.Flags().BoolVar(&full, "document", false, "print the whole document as JSON")
	return cmd
}

func newTasksCommand(opts *rootOptions) *cobra.Command {
	var search, priority, status, sortBy string
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := workspace.TaskQuery{
				Search: search,
				Status: workspace.TaskStatus(status),
				Sort:   workspace.TaskSort(sortBy),
			}
			if priority != "" && priority != "all" {
				query.Priority = workspace.Priority(priority)
				if !query.Priority.Valid() {
					return newExitError(exitCommandError, "invalid priority %q", priority)
				}
			}
			switch query.Status {
			case "", workspace.StatusAll, workspace.StatusPending, workspace.StatusCompleted:
			default:
				return newExitError(exitCommandError, "invalid status %q", status)
			}
			switch query.Sort {
			case "", workspace.SortNewest, workspace.SortOldest, workspace.SortPriority, workspace.SortDueDate:
			default:
				return newExitError(exitCommandError, "invalid sort %q", sortBy)
			}

			s, err := openSession(cmd, opts, nil)
			if err != nil {
				return err
			}
			doc := s.sync.Document()
			if err := s.Close(cmd.Context()); err != nil {
				return err
			}
			tasks := workspace.FilterTasks(doc.Tasks, query)
			return newPrinter(opts, cmd.OutOrStdout()).result(tasks, func(w io.Writer) {
				if len(tasks) == 0 {
					fmt.Fprintln(w, "No tasks.")
					return
				}
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				for _, task := range tasks {
					mark := "[ ]"
					if task.Completed {
						mark = "[x]"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", mark, task.ID, task.Priority, task.DueDate, task.Title)
				}
				_ = tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "case-insensitive title filter")
	cmd.Flags().StringVar(&priority, "priority", "all", "priority filter (all|low|medium|high)")
	cmd.Flags().StringVar(&status, "status", "all", "status filter (all|pending|completed)")
	cmd.Flags().StringVar(&sortBy, "sort", "newest", "order (newest|oldest|priority|dueDate)")
	return cmd
}

func newTaskCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Add, complete, edit or delete tasks",
	}
	cmd.AddCommand(newTaskAddCommand(opts))
	cmd.AddCommand(newTaskToggleCommand(opts))
	cmd.AddCommand(newTaskEditCommand(opts))
	cmd.AddCommand(newTaskDeleteCommand(opts))
	return cmd
}

// taskFlags are the optional attributes shared by task add and task edit.
type taskFlags struct {
	priority   string
	dueDate    string
	recurrence string
	color      string
}

func (f *taskFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.priority, "priority", "p", "", "priority (low|medium|high)")
	cmd.Flags().StringVar(&f.dueDate, "due", "", "due date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.recurrence, "repeat", "", "recurrence (daily|weekly|monthly, empty for none)")
	cmd.Flags().StringVar(&f.color, "color", "", "accent color (yellow|blue|green|red|purple)")
}

func (f *taskFlags) validate() error {
	if f.priority != "" && !workspace.Priority(f.priority).Valid() {
		return newExitError(exitCommandError, "invalid priority %q", f.priority)
	}
	if f.recurrence != "" && !workspace.Recurrence(f.recurrence).Valid() {
		return newExitError(exitCommandError, "invalid recurrence %q", f.recurrence)
	}
	if f.color != "" && !workspace.Color(f.color).Valid() {
		return newExitError(exitCommandError, "invalid color %q", f.color)
	}
	return nil
}

func newTaskAddCommand(opts *rootOptions) *cobra.Command {
	flags := &taskFlags{}
	cmd := &cobra.Command{
		Use:   "add <title...>",
		Short: "Add a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.validate(); err != nil {
				return err
			}
			s, err := openSession(cmd, opts, nil)
			if err != nil {
				return err
			}
			ids, now := s.sync.IDs(), s.sync.Now()
			var added workspace.Task
			mutateErr := s.mutate(func(doc *workspace.Document) error {
				var err error
				added, err = doc.AddTask(workspace.NewTask{
					Title:      joinArgs(args),
					Priority:   workspace.Priority(flags.priority),
					DueDate:    flags.dueDate,
					Recurrence: workspace.Recurrence(flags.recurrence),
					Color:      workspace.Color(flags.color),
				}, ids, now)
				return err
			})
			if err := finish(cmd, s, mutateErr); err != nil {
				return err
			}
			return printTask(opts, cmd, "Added", added)
		},
	}
	flags.register(cmd)
	return cmd
}

func newTaskToggleCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <id>",
		Short: "Mark a task done or not done",
		Long:  "Completing a recurring task also adds its next occurrence.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, opts, nil)
			if err != nil {
				return err
			}
			ids, now := s.sync.IDs(), s.sync.Now()
			var toggled workspace.Task
			mutateErr := s.mutate(func(doc *workspace.Document) error {
				task, ok := doc.ToggleTask(args[0], ids, now)
				if !ok {
					return missing("task", args[0])
				}
				toggled = task
				return nil
			})
			if err := finish(cmd, s, mutateErr); err != nil {
				return err
			}
			verb := "Reopened"
			if toggled.Completed {
				verb = "Completed"
			}
			return printTask(opts, cmd, verb, toggled)
		},
	}
}

func newTaskEditCommand(opts *rootOptions) *cobra.Command {
	flags := &taskFlags{}
	var title string
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change a task's attributes",
		Long:  "Only the flags given are changed. Pass --repeat \"\" to stop a task recurring.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.validate(); err != nil {
				return err
			}
			s, err := openSession(cmd, opts, nil)
			if err != nil {
				return err
			}
			changed := cmd.Flags().Changed
			var edited workspace.Task
			mutateErr := s.mutate(func(doc *workspace.Document) error {
				var current *workspace.Task
				for i := range doc.Tasks {
					if doc.Tasks[i].ID == args[0] {
						current = &doc.Tasks[i]
						break
					}
				}
				if current == nil {
					return missing("task", args[0])
				}
				edit := workspace.TaskEdit{
					Title:      current.Title,
					Priority:   current.Priority,
					DueDate:    current.DueDate,
					Recurrence: current.Recurrence,
					Color:      current.Color,
				}
				if changed("title") {
					edit.Title = title
				}
				if changed("priority") {
					edit.Priority = workspace.Priority(flags.priority)
				}
				if changed("due") {
					edit.DueDate = flags.dueDate
				}
				if changed("repeat") {
					edit.Recurrence = workspace.Recurrence(flags.recurrence)
				}
				if changed("color") {
					edit.Color = workspace.Color(flags.color)
				}
				if _, err := doc.EditTask(args[0], edit); err != nil {
					return err
				}
				edited = *current
				return nil
			})
			if err := finish(cmd, s, mutateErr); err != nil {
				return err
			}
			return printTask(opts, cmd, "Updated", edited)
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "new title")
	flags.register(cmd)
	return cmd
}

func newTaskDeleteCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return deleteItem(cmd, opts, "task", args[0], (*workspace.Document).DeleteTask)
		},
	}
}

func printTask(opts *rootOptions, cmd *cobra.Command, verb string, task workspace.Task) error {
	return newPrinter(opts, cmd.OutOrStdout()).result(task, func(w io.Writer) {
		fmt.Fprintf(w, "%s task %s: %s\n", verb, task.ID, task.Title)
	})
}

// finish closes the session after a mutation. A failed mutation still closes
// the session but its error wins.
func finish(cmd *cobra.Command, s *clientSession, mutateErr error) error {
	closeErr := s.Close(cmd.Context())
	if mutateErr != nil {
		return mutateErr
	}
	return closeErr
}

// deleteItem removes one item by ID with one of the Document.Delete* methods.
func deleteItem(cmd *cobra.Command, opts *rootOptions, kind, id string, remove func(*workspace.Document, string) bool) error {
	s, err := openSession(cmd, opts, nil)
	if err != nil {
		return err
	}
	mutateErr := s.mutate(func(doc *workspace.Document) error {
		if !remove(doc, id) {
			return missing(kind, id)
		}
		return nil
	})
	if err := finish(cmd, s, mutateErr); err != nil {
		return err
	}
	return newPrinter(opts, cmd.OutOrStdout()).result(map[string]string{"deleted": id, "kind": kind}, func(w io.Writer) {
		fmt.Fprintf(w, "Deleted %s %s\n", kind, id)
	})
}
