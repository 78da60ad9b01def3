package http

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// assistRequestSchema constrains the /v1/assist request body before it
// reaches the decoder
const assistRequestSchema = `{
	"type": "object",
	"required": ["row_id", "task", "user_prompt"],
	"properties": {
		"row_id":         {"type": "string", "minLength": 1},
		"task":           {"type": "string", "minLength": 1},
		"query":          {"type": "string"},
		"selection":      {"type": "string"},
		"context_hash":   {"type": "string"},
		"system_prompt":  {"type": "string"},
		"user_prompt":    {"type": "string", "minLength": 1},
		"max_tokens":     {"type": "integer", "minimum": 1, "maximum": 32768},
		"temperature":    {"type": "number", "minimum": 0, "maximum": 2},
		"top_p":          {"type": "number", "minimum": 0, "maximum": 1},
		"seed":           {"type": "integer"},
		"stream":         {"type": "boolean"},
		"session_token":  {"type": "string"},
		"role":           {"type": "string"}
	},
	"additionalProperties": false
}`

var assistSchemaLoader = gojsonschema.NewStringLoader(assistRequestSchema)

// validateAssistBody validates a raw request body against the schema
func validateAssistBody(body []byte) error {
	result, err := gojsonschema.Validate(assistSchemaLoader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("request is not valid JSON: %w", err)
	}
	if !result.Valid() {
		var errs []string
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("invalid request: %s", strings.Join(errs, "; "))
	}
	return nil
}
