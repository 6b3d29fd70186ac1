// Package callback validates and normalizes the payloads the workflow engine
// posts back with task progress, results and failures. The engine's payloads
// are loosely shaped; everything past Parse is a strict Report.
package callback

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Kind is the normalized report type.
type Kind string

const (
	KindProgress  Kind = "progress"
	KindCompleted Kind = "completed"
	KindFailed    Kind = "failed"
)

// Report is a normalized workflow callback.
type Report struct {
	TaskID   string
	Kind     Kind
	Progress int
	Images   []string
	Error    string
}

// schema accepts every shape the engine is known to send. Coercion of the
// loosely typed fields happens in normalize.
const schema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["taskId"],
  "properties": {
    "taskId":       {"type": "string", "minLength": 1},
    "status":       {"type": "string", "enum": ["progress", "processing", "completed", "success", "failed", "error"]},
    "progress":     {"type": ["number", "string", "null"]},
    "imageUrls":    {"type": ["array", "string", "null"], "items": {"type": "string"}},
    "resultImages": {"type": ["array", "string", "null"], "items": {"type": "string"}},
    "error":        {"type": ["string", "null"]},
    "message":      {"type": ["string", "null"]}
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(schema)

// ValidationError lists every problem found in a payload.
type ValidationError struct {
	Errors []FieldError
}

// FieldError is a single problem at a field path.
type FieldError struct {
	Field   string
	Message string
}

func (ve *ValidationError) Error() string {
	parts := make([]string, 0, len(ve.Errors))
	for _, e := range ve.Errors {
		parts = append(parts, e.Field+": "+e.Message)
	}
	return "callback: invalid payload: " + strings.Join(parts, "; ")
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Errors: []FieldError{{Field: field, Message: fmt.Sprintf(format, args...)}}}
}

// payload mirrors the schema after validation.
type payload struct {
	TaskID       string          `json:"taskId"`
	Status       string          `json:"status"`
	Progress     json.RawMessage `json:"progress"`
	ImageURLs    json.RawMessage `json:"imageUrls"`
	ResultImages json.RawMessage `json:"resultImages"`
	Error        *string         `json:"error"`
	Message      *string         `json:"message"`
}

// Parse validates data against the callback schema and normalizes it.
func Parse(data []byte) (*Report, error) {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, invalid("(root)", "not valid JSON: %v", err)
	}
	if !result.Valid() {
		ve := &ValidationError{}
		for _, e := range result.Errors() {
			ve.Errors = append(ve.Errors, FieldError{Field: e.Field(), Message: e.Description()})
		}
		return nil, ve
	}

	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, invalid("(root)", "decode: %v", err)
	}
	return normalize(&p)
}

func normalize(p *payload) (*Report, error) {
	r := &Report{TaskID: p.TaskID}

	raw := p.ImageURLs
	field := "imageUrls"
	if isEmpty(raw) {
		raw = p.ResultImages
		field = "resultImages"
	}
	images, err := parseImages(raw)
	if err != nil {
		return nil, invalid(field, "%v", err)
	}
	r.Images = images

	progress, hasProgress, err := parseProgress(p.Progress)
	if err != nil {
		return nil, invalid("progress", "%v", err)
	}
	r.Progress = progress

	switch p.Status {
	case "completed", "success":
		r.Kind = KindCompleted
	case "failed", "error":
		r.Kind = KindFailed
	case "progress", "processing":
		r.Kind = KindProgress
	default:
		// No status: result images imply completion, otherwise it must be progress.
		switch {
		case len(images) > 0:
			r.Kind = KindCompleted
		case hasProgress:
			r.Kind = KindProgress
		default:
			return nil, invalid("status", "status, progress or images required")
		}
	}

	if r.Kind == KindCompleted && len(images) == 0 {
		return nil, invalid(field, "completed report carries no images")
	}
	if r.Kind == KindProgress && !hasProgress {
		return nil, invalid("progress", "progress report carries no progress")
	}
	if r.Kind == KindFailed {
		switch {
		case p.Error != nil && *p.Error != "":
			r.Error = *p.Error
		case p.Message != nil:
			r.Error = *p.Message
		}
	}
	return r, nil
}

func isEmpty(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null" || s == `""` || s == "[]"
}

// parseImages accepts a JSON array, a string holding a JSON array, or a
// single URL string.
func parseImages(raw json.RawMessage) ([]string, error) {
	if isEmpty(raw) {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return compact(list), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("want list of URLs")
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		if err := json.Unmarshal([]byte(s), &list); err != nil {
			return nil, fmt.Errorf("malformed encoded list: %v", err)
		}
		return compact(list), nil
	}
	if strings.ContainsAny(s, " \t\n") {
		return nil, fmt.Errorf("not a URL: %q", s)
	}
	return []string{s}, nil
}

func compact(list []string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// parseProgress accepts a number or a numeric string with an optional "%".
func parseProgress(raw json.RawMessage) (int, bool, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false, fmt.Errorf("want number")
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "%")
		if s == "" {
			return 0, false, nil
		}
		f, err = strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false, fmt.Errorf("not a number: %q", s)
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false, fmt.Errorf("not a finite number: %v", f)
	}
	if f < 0 || f > 100 {
		return 0, false, fmt.Errorf("out of range: %v", f)
	}
	return int(f), true, nil
}
