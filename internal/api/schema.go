package api

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const schemaURL = "https://planner.local/schemas/calendar-put.json"

// calendarSchema describes PUT /calendar bodies. Colors are free-form
// strings because unknown colors are normalized to default, not rejected.
const calendarSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["events", "ranges"],
  "properties": {
    "events": {
      "type": ["array", "null"],
      "maxItems": 5000,
      "items": {
        "type": "object",
        "required": ["id", "start", "end"],
        "properties": {
          "id": {"type": "string", "minLength": 1, "maxLength": 200},
          "start": {"type": "string", "minLength": 1},
          "end": {"type": "string", "minLength": 1},
          "title": {"type": "string", "maxLength": 1024},
          "color": {"type": "string"},
          "description": {"type": "string", "maxLength": 8192},
          "tags": {"type": ["array", "null"], "items": {"type": "string"}},
          "creator": {"type": "string"},
          "createdAt": {"type": "string"},
          "origin": {"type": "string"},
          "remoteEventId": {"type": "string"},
          "remoteCalendarId": {"type": "string"},
          "syncedHash": {"type": "string"}
        }
      }
    },
    "ranges": {
      "type": ["array", "null"],
      "maxItems": 1000,
      "items": {
        "type": "object",
        "required": ["id", "start", "end"],
        "properties": {
          "id": {"type": "string", "minLength": 1, "maxLength": 200},
          "start": {"type": "string", "minLength": 1},
          "end": {"type": "string", "minLength": 1},
          "label": {"type": "string", "maxLength": 1024},
          "colorIndex": {"type": ["integer", "null"]},
          "remoteEventId": {"type": "string"},
          "syncedHash": {"type": "string"}
        }
      }
    }
  }
}`

func compileSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(calendarSchema))
	if err != nil {
		return nil, fmt.Errorf("parse calendar schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("add calendar schema: %w", err)
	}
	return c.Compile(schemaURL)
}

func validate(schema *jsonschema.Schema, body []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return err
	}
	return schema.Validate(inst)
}
