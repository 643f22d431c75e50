// Package dbtypes holds GORM column types shared by the docflow stores.
package dbtypes

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

func scanJSON(value any, dst any, typeName string) error {
	var raw []byte
	switch v := value.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported type for %s: %T", typeName, value)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// StringSlice is a []string stored as a JSON text column.
type StringSlice []string

// Scan implements the sql.Scanner interface.
func (s *StringSlice) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}
	return scanJSON(value, s, "StringSlice")
}

// Value implements the driver.Valuer interface.
func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// ContainsFold reports whether s holds v, ignoring case.
func (s StringSlice) ContainsFold(v string) bool {
	return slices.ContainsFunc(s, func(e string) bool { return strings.EqualFold(e, v) })
}

// Map is a map[string]any stored as a JSON text column.
type Map map[string]any

// Scan implements the sql.Scanner interface.
func (m *Map) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	return scanJSON(value, m, "Map")
}

// Value implements the driver.Valuer interface.
func (m Map) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
