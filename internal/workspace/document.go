package workspace

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

type Recurrence string

const (
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
)

func (r Recurrence) Valid() bool {
	switch r {
	case RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly:
		return true
	}
	return false
}

type Color string

const (
	ColorYellow Color = "yellow"
	ColorBlue   Color = "blue"
	ColorGreen  Color = "green"
	ColorRed    Color = "red"
	ColorPurple Color = "purple"
)

var Colors = []Color{ColorYellow, ColorBlue, ColorGreen, ColorRed, ColorPurple}

func (c Color) Valid() bool {
	for _, known := range Colors {
		if c == known {
			return true
		}
	}
	return false
}

// DateLayout is the calendar-date format of Task.DueDate.
const DateLayout = "2006-01-02"

type Task struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Completed  bool       `json:"completed"`
	Priority   Priority   `json:"priority"`
	DueDate    string     `json:"dueDate,omitempty"`
	Recurrence Recurrence `json:"recurrence,omitempty"`
	CreatedAt  int64      `json:"createdAt"`
	Color      Color      `json:"color,omitempty"`
}

type LinkItem struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	Category  string `json:"category"`
	CreatedAt int64  `json:"createdAt"`
}

type SheetItem struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	LastOpened int64  `json:"lastOpened,omitempty"`
}

// StickyNote positions are reserved for freeform placement and are always zero today.
type StickyNote struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Color     Color  `json:"color"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	CreatedAt int64  `json:"createdAt"`
}

// Document is the single synchronized aggregate. RevisionTimestamp is
// milliseconds since epoch; zero means the document has never been written.
type Document struct {
	Tasks             []Task       `json:"tasks"`
	Links             []LinkItem   `json:"links"`
	Sheets            []SheetItem  `json:"sheets"`
	Notes             []StickyNote `json:"notes"`
	RevisionTimestamp int64        `json:"lastUpdated,omitempty"`
}

// Collections groups new items per collection, e.g. a categorized batch.
type Collections struct {
	Tasks  []Task
	Links  []LinkItem
	Sheets []SheetItem
	Notes  []StickyNote
}

func (c Collections) Empty() bool {
	return len(c.Tasks) == 0 && len(c.Links) == 0 && len(c.Sheets) == 0 && len(c.Notes) == 0
}

// EnsureCollections replaces nil collections with empty ones.
func (d *Document) EnsureCollections() {
	if d.Tasks == nil {
		d.Tasks = []Task{}
	}
	if d.Links == nil {
		d.Links = []LinkItem{}
	}
	if d.Sheets == nil {
		d.Sheets = []SheetItem{}
	}
	if d.Notes == nil {
		d.Notes = []StickyNote{}
	}
}

// Normalize deep-clones doc through its storage encoding, which drops absent
// optional fields and never emits null collections.
func Normalize(doc Document) (Document, error) {
	doc.EnsureCollections()
	data, err := json.Marshal(doc)
	if err != nil {
		return Document{}, err
	}
	return Decode(data)
}

// Clone is Normalize for callers that hold a document known to encode.
func Clone(doc Document) Document {
	clone, err := Normalize(doc)
	if err != nil {
		doc.EnsureCollections()
		return doc
	}
	return clone
}

func Encode(doc Document) ([]byte, error) {
	doc.EnsureCollections()
	return json.Marshal(doc)
}

func Decode(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, err
	}
	doc.EnsureCollections()
	return doc, nil
}

func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

type IDGenerator interface {
	New() string
}

type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }
