// Package categorize turns free text into workspace items through a
// language model. Model output is validated and typed before it is folded
// into a document patch; a batch is applied whole or not at all.
package categorize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentworkforce/focusspace/internal/workspace"
)

var (
	ErrMissingAPIKey   = errors.New("categorize: api key is not configured")
	ErrInvalidResponse = errors.New("categorize: invalid model response")
	ErrEmptyInput      = errors.New("categorize: input is empty")
)

const (
	DefaultLinkCategory = "Unsorted"
	DefaultSheetTitle   = "New Sheet"
)

type TaskDraft struct {
	Title    string             `json:"title"`
	Priority workspace.Priority `json:"priority,omitempty"`
}

type LinkDraft struct {
	Title    string `json:"title,omitempty"`
	URL      string `json:"url"`
	Category string `json:"category,omitempty"`
}

type SheetDraft struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url"`
}

type NoteDraft struct {
	Content string          `json:"content"`
	Color   workspace.Color `json:"color,omitempty"`
}

// Result is one categorized batch. Items carry no ids or timestamps yet.
type Result struct {
	Tasks  []TaskDraft  `json:"tasks,omitempty"`
	Links  []LinkDraft  `json:"links,omitempty"`
	Sheets []SheetDraft `json:"sheets,omitempty"`
	Notes  []NoteDraft  `json:"notes,omitempty"`
}

func (r *Result) Empty() bool {
	return r == nil || len(r.Tasks)+len(r.Links)+len(r.Sheets)+len(r.Notes) == 0
}

const resultSchemaURL = "https://focusspace.local/schemas/categorize-result.json"

const resultSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "tasks": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["title"],
        "properties": {
          "title": {"type": "string", "minLength": 1},
          "priority": {"enum": ["low", "medium", "high"]}
        }
      }
    },
    "links": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["url"],
        "properties": {
          "title": {"type": "string"},
          "url": {"type": "string", "minLength": 1},
          "category": {"type": "string"}
        }
      }
    },
    "sheets": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["url"],
        "properties": {
          "title": {"type": "string"},
          "url": {"type": "string", "minLength": 1}
        }
      }
    },
    "notes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["content"],
        "properties": {
          "content": {"type": "string"},
          "color": {"enum": ["yellow", "blue", "green", "red", "purple"]}
        }
      }
    }
  }
}`

var (
	resultSchemaOnce     sync.Once
	resultSchemaCompiled *jsonschema.Schema
	resultSchemaErr      error
)

func compiledResultSchema() (*jsonschema.Schema, error) {
	resultSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(resultSchema))
		if err != nil {
			resultSchemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(resultSchemaURL, doc); err != nil {
			resultSchemaErr = err
			return
		}
		resultSchemaCompiled, resultSchemaErr = compiler.Compile(resultSchemaURL)
	})
	return resultSchemaCompiled, resultSchemaErr
}

// ParseResult validates raw model output and decodes it. Any invalid item
// rejects the whole batch.
func ParseResult(raw []byte) (*Result, error) {
	schema, err := compiledResultSchema()
	if err != nil {
		return nil, fmt.Errorf("compile result schema: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if err := schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	var out Result
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return &out, nil
}

// Fold assigns ids and creation times to every draft and returns a patch
// that prepends the batch to the document.
func Fold(r *Result, ids workspace.IDGenerator, now time.Time) workspace.Patch {
	if r.Empty() {
		return workspace.Patch{}
	}
	ms := workspace.Millis(now)
	var batch workspace.Collections
	for _, d := range r.Tasks {
		priority := d.Priority
		if !priority.Valid() {
			priority = workspace.PriorityMedium
		}
		batch.Tasks = append(batch.Tasks, workspace.Task{
			ID:        ids.New(),
			Title:     d.Title,
			Priority:  priority,
			CreatedAt: ms,
		})
	}
	for _, d := range r.Links {
		title := d.Title
		if title == "" {
			title = d.URL
		}
		category := d.Category
		if category == "" {
			category = DefaultLinkCategory
		}
		batch.Links = append(batch.Links, workspace.LinkItem{
			ID:        ids.New(),
			Title:     title,
			URL:       d.URL,
			Category:  category,
			CreatedAt: ms,
		})
	}
	for _, d := range r.Sheets {
		title := d.Title
		if title == "" {
			title = DefaultSheetTitle
		}
		batch.Sheets = append(batch.Sheets, workspace.SheetItem{
			ID:         ids.New(),
			Title:      title,
			URL:        d.URL,
			LastOpened: ms,
		})
	}
	for _, d := range r.Notes {
		color := d.Color
		if !color.Valid() {
			color = workspace.ColorYellow
		}
		batch.Notes = append(batch.Notes, workspace.StickyNote{
			ID:        ids.New(),
			Content:   d.Content,
			Color:     color,
			CreatedAt: ms,
		})
	}
	return workspace.PrependBatch(batch)
}
