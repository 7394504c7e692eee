package workspace

import (
	"errors"
	"strings"
	"time"
)

var ErrEmptyTitle = errors.New("title is required")

const (
	DefaultLinkCategory = "General"
	DefaultSheetTitle   = "Untitled Sheet"
)

type NewTask struct {
	Title      string
	Priority   Priority
	DueDate    string
	Recurrence Recurrence
	Color      Color
}

// AddTask prepends a new uncompleted task and returns it.
func (d *Document) AddTask(in NewTask, ids IDGenerator, now time.Time) (Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Task{}, ErrEmptyTitle
	}
	priority := in.Priority
	if !priority.Valid() {
		priority = PriorityMedium
	}
	task := Task{
		ID:         ids.New(),
		Title:      title,
		Completed:  false,
		Priority:   priority,
		DueDate:    strings.TrimSpace(in.DueDate),
		Recurrence: in.Recurrence,
		Color:      in.Color,
		CreatedAt:  Millis(now),
	}
	d.Tasks = append([]Task{task}, d.Tasks...)
	return task, nil
}

// ToggleTask flips completion. Completing a recurring task also prepends the
// next occurrence, due one interval after the current due date (or today).
func (d *Document) ToggleTask(id string, ids IDGenerator, now time.Time) (Task, bool) {
	idx := d.taskIndex(id)
	if idx < 0 {
		return Task{}, false
	}
	task := d.Tasks[idx]
	task.Completed = !task.Completed
	d.Tasks[idx] = task
	if task.Completed && task.Recurrence.Valid() {
		next := task
		next.ID = ids.New()
		next.Completed = false
		next.DueDate = NextDueDate(task.DueDate, task.Recurrence, now)
		next.CreatedAt = Millis(now)
		d.Tasks = append([]Task{next}, d.Tasks...)
	}
	return task, true
}

type TaskEdit struct {
	Title      string
	Priority   Priority
	DueDate    string
	Recurrence Recurrence
	Color      Color
}

func (d *Document) EditTask(id string, edit TaskEdit) (bool, error) {
	if strings.TrimSpace(edit.Title) == "" {
		return false, ErrEmptyTitle
	}
	idx := d.taskIndex(id)
	if idx < 0 {
		return false, nil
	}
	task := d.Tasks[idx]
	task.Title = strings.TrimSpace(edit.Title)
	if edit.Priority.Valid() {
		task.Priority = edit.Priority
	}
	task.DueDate = strings.TrimSpace(edit.DueDate)
	task.Recurrence = edit.Recurrence
	task.Color = edit.Color
	d.Tasks[idx] = task
	return true, nil
}

func (d *Document) DeleteTask(id string) bool {
	idx := d.taskIndex(id)
	if idx < 0 {
		return false
	}
	d.Tasks = append(d.Tasks[:idx:idx], d.Tasks[idx+1:]...)
	return true
}

func (d *Document) taskIndex(id string) int {
	for i, task := range d.Tasks {
		if task.ID == id {
			return i
		}
	}
	return -1
}

// NextDueDate advances a calendar date by one recurrence interval. An empty or
// unparseable current date counts from today.
func NextDueDate(current string, interval Recurrence, now time.Time) string {
	base := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if parsed, err := time.Parse(DateLayout, strings.TrimSpace(current)); err == nil {
		base = parsed
	}
	switch interval {
	case RecurrenceDaily:
		base = base.AddDate(0, 0, 1)
	case RecurrenceWeekly:
		base = base.AddDate(0, 0, 7)
	case RecurrenceMonthly:
		base = base.AddDate(0, 1, 0)
	}
	return base.Format(DateLayout)
}

func (d *Document) AddLink(title, url, category string, ids IDGenerator, now time.Time) LinkItem {
	if title == "" {
		title = url
	}
	if category == "" {
		category = DefaultLinkCategory
	}
	link := LinkItem{ID: ids.New(), Title: title, URL: url, Category: category, CreatedAt: Millis(now)}
	d.Links = append([]LinkItem{link}, d.Links...)
	return link
}

func (d *Document) DeleteLink(id string) bool {
	for i, link := range d.Links {
		if link.ID == id {
			d.Links = append(d.Links[:i:i], d.Links[i+1:]...)
			return true
		}
	}
	return false
}

func (d *Document) AddSheet(title, url string, ids IDGenerator, now time.Time) SheetItem {
	if title == "" {
		title = DefaultSheetTitle
	}
	sheet := SheetItem{ID: ids.New(), Title: title, URL: url, LastOpened: Millis(now)}
	d.Sheets = append([]SheetItem{sheet}, d.Sheets...)
	return sheet
}

func (d *Document) DeleteSheet(id string) bool {
	for i, sheet := range d.Sheets {
		if sheet.ID == id {
			d.Sheets = append(d.Sheets[:i:i], d.Sheets[i+1:]...)
			return true
		}
	}
	return false
}

func (d *Document) AddNote(ids IDGenerator, now time.Time) StickyNote {
	note := StickyNote{ID: ids.New(), Content: "", Color: ColorYellow, CreatedAt: Millis(now)}
	d.Notes = append([]StickyNote{note}, d.Notes...)
	return note
}

func (d *Document) EditNote(id, content string) bool {
	for i := range d.Notes {
		if d.Notes[i].ID == id {
			d.Notes[i].Content = content
			return true
		}
	}
	return false
}

func (d *Document) ColorNote(id string, color Color) bool {
	if !color.Valid() {
		return false
	}
	for i := range d.Notes {
		if d.Notes[i].ID == id {
			d.Notes[i].Color = color
			return true
		}
	}
	return false
}

func (d *Document) DeleteNote(id string) bool {
	for i, note := range d.Notes {
		if note.ID == id {
			d.Notes = append(d.Notes[:i:i], d.Notes[i+1:]...)
			return true
		}
	}
	return false
}
