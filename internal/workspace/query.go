package workspace

import (
	"sort"
	"strings"
)

type TaskStatus string

const (
	StatusAll       TaskStatus = "all"
	StatusPending   TaskStatus = "pending"
	StatusCompleted TaskStatus = "completed"
)

type TaskSort string

const (
	SortNewest   TaskSort = "newest"
	SortOldest   TaskSort = "oldest"
	SortPriority TaskSort = "priority"
	SortDueDate  TaskSort = "dueDate"
)

// TaskQuery filters and orders tasks for display. Zero values mean "all" and
// "newest".
type TaskQuery struct {
	Search   string
	Priority Priority
	Status   TaskStatus
	Sort     TaskSort
}

func FilterTasks(tasks []Task, q TaskQuery) []Task {
	search := strings.ToLower(strings.TrimSpace(q.Search))
	out := make([]Task, 0, len(tasks))
	for _, task := range tasks {
		if search != "" && !strings.Contains(strings.ToLower(task.Title), search) {
			continue
		}
		if q.Priority != "" && task.Priority != q.Priority {
			continue
		}
		switch q.Status {
		case StatusPending:
			if task.Completed {
				continue
			}
		case StatusCompleted:
			if !task.Completed {
				continue
			}
		}
		out = append(out, task)
	}

	switch q.Sort {
	case SortOldest:
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	case SortPriority:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Priority.rank() > out[j].Priority.rank() })
	case SortDueDate:
		sort.SliceStable(out, func(i, j int) bool {
			a, b := out[i].DueDate, out[j].DueDate
			if a == "" {
				return false
			}
			if b == "" {
				return true
			}
			return a < b
		})
	default:
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	}
	return out
}

type Summary struct {
	PendingTasks      int         `json:"pendingTasks"`
	HighPriorityTasks int         `json:"highPriorityTasks"`
	LinkCount         int         `json:"linkCount"`
	SheetCount        int         `json:"sheetCount"`
	NoteCount         int         `json:"noteCount"`
	RecentLinks       []LinkItem  `json:"recentLinks"`
	RecentSheets      []SheetItem `json:"recentSheets"`
}

// Summarize computes the dashboard view of doc.
func Summarize(doc Document) Summary {
	summary := Summary{
		LinkCount:    len(doc.Links),
		SheetCount:   len(doc.Sheets),
		NoteCount:    len(doc.Notes),
		RecentLinks:  append([]LinkItem{}, doc.Links[:min(5, len(doc.Links))]...),
		RecentSheets: append([]SheetItem{}, doc.Sheets[:min(3, len(doc.Sheets))]...),
	}
	for _, task := range doc.Tasks {
		if task.Completed {
			continue
		}
		summary.PendingTasks++
		if task.Priority == PriorityHigh {
			summary.HighPriorityTasks++
		}
	}
	return summary
}
