package agent

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Response schemas enforced at the client boundary. A payload that does
// not satisfy its stage schema is a malformed_response failure, never
// silently passed through to the quality gate.
const (
	planResponseSchema = `{
		"type": "object",
		"required": ["modules", "learning_objectives", "quality"],
		"properties": {
			"modules": {"type": "array", "minItems": 1},
			"learning_objectives": {"type": "array"},
			"quality": {"type": "number", "minimum": 0, "maximum": 100},
			"approved": {"type": "boolean"}
		}
	}`

	contentResponseSchema = `{
		"type": "object",
		"required": ["lessons_created"],
		"properties": {
			"lessons_created": {"type": "number", "minimum": 0},
			"exercises_created": {"type": "number", "minimum": 0},
			"assessments_created": {"type": "number", "minimum": 0}
		}
	}`

	reviewResponseSchema = `{
		"type": "object",
		"required": ["overall_score", "approved_for_release"],
		"properties": {
			"overall_score": {"type": "number", "minimum": 0, "maximum": 100},
			"approved_for_release": {"type": "boolean"},
			"issues_found": {"type": "array", "items": {"type": "string"}},
			"recommendations": {"type": "array", "items": {"type": "string"}}
		}
	}`
)

// Stage route constants shared with the orchestrator.
const (
	PathPlanCourse    = "/plan-course"
	PathCreateLesson  = "/create-lesson"
	PathReviewContent = "/review-content"
	PathHealth        = "/health"
	PathCapabilities  = "/capabilities"
)

func compileResponseSchemas() (map[string]*gojsonschema.Schema, error) {
	raw := map[string]string{
		PathPlanCourse:    planResponseSchema,
		PathCreateLesson:  contentResponseSchema,
		PathReviewContent: reviewResponseSchema,
	}

	compiled := make(map[string]*gojsonschema.Schema, len(raw))

	for path, doc := range raw {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(doc))
		if err != nil {
			return nil, fmt.Errorf("compile response schema for %s: %w", path, err)
		}

		compiled[path] = schema
	}

	return compiled, nil
}

// validateResponse checks body against the registered schema for path.
// Paths without a registered schema are accepted as-is.
func (c *Client) validateResponse(path string, body []byte) error {
	schema, ok := c.schemas[path]
	if !ok {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("response is not valid JSON: %w", err)
	}

	if !result.Valid() {
		return fmt.Errorf("response failed schema validation: %s", formatSchemaErrors(result))
	}

	return nil
}

func formatSchemaErrors(result *gojsonschema.Result) string {
	msg := ""

	for i, desc := range result.Errors() {
		if i > 0 {
			msg += "; "
		}

		msg += desc.String()
	}

	return msg
}
