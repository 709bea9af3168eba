package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Compile-time interface assertions.
// These ensure the JSONB column types implement both sql.Scanner and
// driver.Valuer, catching method signature drift at compile time.
// Scan is on pointer receivers; Value is on value receivers.
var (
	_ sql.Scanner   = (*OrderItemList)(nil)
	_ driver.Valuer = OrderItemList(nil)
	_ sql.Scanner   = (*IngredientList)(nil)
	_ driver.Valuer = IngredientList(nil)
)

// scanJSONB scans a JSONB database value into a Go pointer. It handles nil
// values, []byte, and string representations from different drivers.
func scanJSONB(dest interface{}, value interface{}) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (l *OrderItemList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	return scanJSONB(l, value)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
func (l OrderItemList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (l *IngredientList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	return scanJSONB(l, value)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
func (l IngredientList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}
