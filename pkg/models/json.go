package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONState holds a serialized entity snapshot. It is stored as text so the
// same column works on PostgreSQL and SQLite.
type JSONState json.RawMessage

// NewJSONState marshals v into a snapshot. A nil v yields an empty state.
func NewJSONState(v interface{}) (JSONState, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return JSONState(b), nil
}

func (s JSONState) Value() (driver.Value, error) {
	if len(s) == 0 {
		return nil, nil
	}
	return string(s), nil
}

func (s *JSONState) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	switch v := value.(type) {
	case string:
		*s = JSONState(v)
	case []byte:
		b := make([]byte, len(v))
		copy(b, v)
		*s = JSONState(b)
	default:
		return fmt.Errorf("unsupported type: %T", value)
	}
	return nil
}

// MarshalJSON emits the stored snapshot verbatim.
func (s JSONState) MarshalJSON() ([]byte, error) {
	if len(s) == 0 {
		return []byte("null"), nil
	}
	return []byte(s), nil
}

func (s *JSONState) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = nil
		return nil
	}
	*s = append((*s)[0:0], data...)
	return nil
}

// Decode unmarshals the snapshot into v.
func (s JSONState) Decode(v interface{}) error {
	if len(s) == 0 {
		return fmt.Errorf("empty state")
	}
	return json.Unmarshal(s, v)
}
