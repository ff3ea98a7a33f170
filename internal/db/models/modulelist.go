package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// ModuleList is a list of module names stored as a JSONB array. It implements
// sql.Scanner and driver.Valuer so sqlx can read and write the column
// directly. A nil list scans from and stores as SQL NULL.
type ModuleList []string

// Scan implements sql.Scanner.
func (m *ModuleList) Scan(src interface{}) error {
	if src == nil {
		*m = nil
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into ModuleList", src)
	}

	return json.Unmarshal(data, m)
}

// Value implements driver.Valuer.
func (m ModuleList) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}
