package workspace

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const documentSchemaURL = "https://focusspace.local/schemas/document.json"

// documentSchema describes the persisted shape. Every typed field rejects
// null, which the store cannot hold.
const documentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "tasks": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "title", "completed", "priority", "createdAt"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "title": {"type": "string"},
          "completed": {"type": "boolean"},
          "priority": {"enum": ["low", "medium", "high"]},
          "dueDate": {"type": "string"},
          "recurrence": {"enum": ["daily", "weekly", "monthly"]},
          "createdAt": {"type": "integer"},
          "color": {"$ref": "#/$defs/color"}
        }
      }
    },
    "links": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "title", "url", "category", "createdAt"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "title": {"type": "string"},
          "url": {"type": "string"},
          "category": {"type": "string"},
          "createdAt": {"type": "integer"}
        }
      }
    },
    "sheets": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "title", "url"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "title": {"type": "string"},
          "url": {"type": "string"},
          "lastOpened": {"type": "integer"}
        }
      }
    },
    "notes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "content", "color", "x", "y", "createdAt"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "content": {"type": "string"},
          "color": {"$ref": "#/$defs/color"},
          "x": {"type": "integer"},
          "y": {"type": "integer"},
          "createdAt": {"type": "integer"}
        }
      }
    },
    "lastUpdated": {"type": "integer", "minimum": 0}
  },
  "$defs": {
    "color": {"enum": ["yellow", "blue", "green", "red", "purple"]}
  }
}`

var (
	documentSchemaOnce     sync.Once
	documentSchemaCompiled *jsonschema.Schema
	documentSchemaErr      error
)

func compiledDocumentSchema() (*jsonschema.Schema, error) {
	documentSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(documentSchema))
		if err != nil {
			documentSchemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(documentSchemaURL, doc); err != nil {
			documentSchemaErr = err
			return
		}
		documentSchemaCompiled, documentSchemaErr = compiler.Compile(documentSchemaURL)
	})
	return documentSchemaCompiled, documentSchemaErr
}

// ValidateDocumentJSON checks raw against the persisted document shape.
func ValidateDocumentJSON(raw []byte) error {
	schema, err := compiledDocumentSchema()
	if err != nil {
		return fmt.Errorf("compile document schema: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("parse document: %w", err)
	}
	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("invalid document: %w", err)
	}
	return nil
}
