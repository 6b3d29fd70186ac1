package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringList is a []string persisted as a JSON array in a text column.
type StringList []string

// Value implements driver.Valuer. A nil list is stored as "[]".
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*l = StringList{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("models: scan StringList from %T", src)
	}
	if len(data) == 0 {
		*l = StringList{}
		return nil
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("models: scan StringList: %w", err)
	}
	*l = StringList(out)
	return nil
}

// MarshalJSON renders a nil list as [] rather than null.
func (l StringList) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(l))
}
