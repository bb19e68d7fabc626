package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap is a generic JSON object that implements sql.Scanner and
// driver.Valuer for JSONB column storage.
type JSONMap map[string]any

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	data, err := jsonbBytes(value)
	if err != nil {
		return fmt.Errorf("jsonmap: %w", err)
	}
	return json.Unmarshal(data, m)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (c *CropProfile) Scan(value interface{}) error {
	if value == nil {
		*c = CropProfile{}
		return nil
	}
	data, err := jsonbBytes(value)
	if err != nil {
		return fmt.Errorf("crop profile: %w", err)
	}
	return json.Unmarshal(data, c)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
func (c CropProfile) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Weekdays is a set of lowercase weekday names stored as a JSONB array.
type Weekdays []string

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (w *Weekdays) Scan(value interface{}) error {
	if value == nil {
		*w = nil
		return nil
	}
	data, err := jsonbBytes(value)
	if err != nil {
		return fmt.Errorf("weekdays: %w", err)
	}
	return json.Unmarshal(data, w)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
func (w Weekdays) Value() (driver.Value, error) {
	if w == nil {
		return nil, nil
	}
	return json.Marshal(w)
}

// Contains reports whether the set includes the given lowercase weekday name.
func (w Weekdays) Contains(day string) bool {
	for _, d := range w {
		if d == day {
			return true
		}
	}
	return false
}

// jsonbBytes normalizes the driver value of a JSONB column to a byte slice.
func jsonbBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported scan type %T", value)
	}
}
