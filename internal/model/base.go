package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Organization is the tenant a sequence, contact and template belong to. Its
// name is the sender context handed to AI content generation.
type Organization struct {
	ID   uuid.UUID `json:"id" db:"id"`
	Name string    `json:"name" db:"name"`
}

// JSONMap represents a generic JSON object
type JSONMap map[string]interface{}

// Value implements driver.Valuer for jsonb columns.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for jsonb columns.
func (m *JSONMap) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*m = JSONMap{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported JSONMap source %T", src)
	}
	out := JSONMap{}
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*m = out
	return nil
}

// String returns the value under key when it is a string.
func (m JSONMap) String(key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
