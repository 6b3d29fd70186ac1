package task

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/zulandar/darkroom/internal/apperr"
	"github.com/zulandar/darkroom/internal/models"
)

type fieldKind int

const (
	kindString fieldKind = iota
	kindRequiredString
	kindStringList
	kindImageCount
	kindProgress
	kindStatus
	kindSyncStatus
)

type fieldSpec struct {
	column string
	kind   fieldKind
}

// writableFields maps the JSON field names clients send to task columns.
// Identity, version and conflict bookkeeping are not writable here.
var writableFields = map[string]fieldSpec{
	"prompt":          {"prompt", kindRequiredString},
	"originalPrompt":  {"original_prompt", kindString},
	"optimizedPrompt": {"optimized_prompt", kindString},
	"inputImages":     {"input_images", kindStringList},
	"sceneImages":     {"scene_images", kindStringList},
	"resultImages":    {"result_images", kindStringList},
	"aiModel":         {"ai_model", kindString},
	"aspectRatio":     {"aspect_ratio", kindString},
	"imageCount":      {"image_count", kindImageCount},
	"quality":         {"quality", kindString},
	"status":          {"status", kindStatus},
	"progress":        {"progress", kindProgress},
	"syncStatus":      {"sync_status", kindSyncStatus},
	"errorMessage":    {"error_message", kindString},
}

// WritableFields returns the sorted list of field names accepted by updates.
func WritableFields() []string {
	names := make([]string, 0, len(writableFields))
	for name := range writableFields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// normalizeFields validates a client field map and converts it to a
// column-keyed map suitable for gorm Updates. Either every field is valid or
// an error is returned and nothing should be written.
func normalizeFields(fields map[string]any) (map[string]any, error) {
	cols := make(map[string]any, len(fields))
	for name, raw := range fields {
		def, ok := writableFields[name]
		if !ok {
			return nil, fmt.Errorf("task: %w: field %q is not writable", apperr.ErrInvalidInput, name)
		}
		v, err := coerce(def.kind, raw)
		if err != nil {
			return nil, fmt.Errorf("task: %w: field %q: %v", apperr.ErrInvalidInput, name, err)
		}
		cols[def.column] = v
	}
	return cols, nil
}

func coerce(kind fieldKind, raw any) (any, error) {
	switch kind {
	case kindString:
		if raw == nil {
			return "", nil
		}
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("want string, got %T", raw)
		}
		return s, nil
	case kindRequiredString:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("want string, got %T", raw)
		}
		if s == "" {
			return nil, fmt.Errorf("must not be empty")
		}
		return s, nil
	case kindStringList:
		return toStringList(raw)
	case kindImageCount:
		n, err := toInt(raw)
		if err != nil {
			return nil, err
		}
		if n < 1 {
			return nil, fmt.Errorf("must be at least 1, got %d", n)
		}
		return n, nil
	case kindProgress:
		n, err := toInt(raw)
		if err != nil {
			return nil, err
		}
		if n < 0 || n > 100 {
			return nil, fmt.Errorf("must be between 0 and 100, got %d", n)
		}
		return n, nil
	case kindStatus:
		s, ok := raw.(string)
		if !ok || !models.ValidStatus(s) {
			return nil, fmt.Errorf("unknown status %v", raw)
		}
		return s, nil
	case kindSyncStatus:
		s, ok := raw.(string)
		if !ok || !models.ValidSyncStatus(s) {
			return nil, fmt.Errorf("unknown sync status %v", raw)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unsupported field kind %d", kind)
}

func toStringList(raw any) (models.StringList, error) {
	switch v := raw.(type) {
	case nil:
		return models.StringList{}, nil
	case []string:
		return models.StringList(append([]string(nil), v...)), nil
	case models.StringList:
		return append(models.StringList(nil), v...), nil
	case []any:
		out := make(models.StringList, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("element %d: want string, got %T", i, item)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("want list of strings, got %T", raw)
}

func toInt(raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("want integer, got %v", v)
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("want integer, got %q", v.String())
		}
		return int(n), nil
	}
	return 0, fmt.Errorf("want integer, got %T", raw)
}
