package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONText stores an opaque JSON value in a text/jsonb column. It keeps the
// raw bytes untouched so agent output survives a round trip bit-for-bit.
type JSONText json.RawMessage

// Value implements driver.Valuer.
func (j JSONText) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

// Scan implements sql.Scanner.
func (j *JSONText) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*j = nil
		return nil
	case []byte:
		*j = append((*j)[:0], v...)
		return nil
	case string:
		*j = JSONText(v)
		return nil
	default:
		return fmt.Errorf("cannot scan %T into JSONText", src)
	}
}

// MarshalJSON returns the raw bytes, or null when empty.
func (j JSONText) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

// UnmarshalJSON stores the raw bytes.
func (j *JSONText) UnmarshalJSON(data []byte) error {
	*j = append((*j)[:0], data...)
	return nil
}

// JSONStrings stores an ordered string slice as a JSON array column.
// Used for Session.FailedSteps and Report.KeyFindings.
type JSONStrings []string

// Value implements driver.Valuer.
func (s JSONStrings) Value() (driver.Value, error) {
	if s == nil {
		s = JSONStrings{}
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (s *JSONStrings) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONStrings", src)
	}
	return json.Unmarshal(data, (*[]string)(s))
}
