package models

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Time is a timestamp that emits RFC 3339 on JSON output and a native
// datetime on BSON output, while tolerating either form on input. Stored
// documents written by earlier producers carry string timestamps.
type Time struct {
	time.Time
}

// Now returns the current instant truncated to millisecond precision,
// matching what the document store can represent.
func Now() Time {
	return Time{Time: time.Now().UTC().Truncate(time.Millisecond)}
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.UTC().Format(time.RFC3339Nano) + `"`), nil
}

func (t *Time) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		t.Time = time.Time{}
		return nil
	}
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("timestamp must be a JSON string, got %s", s)
	}
	parsed, err := time.Parse(time.RFC3339Nano, s[1:len(s)-1])
	if err != nil {
		return fmt.Errorf("parse timestamp: %w", err)
	}
	t.Time = parsed
	return nil
}

func (t Time) MarshalBSONValue() (byte, []byte, error) {
	typ, data, err := bson.MarshalValue(bson.NewDateTimeFromTime(t.Time))
	return byte(typ), data, err
}

func (t *Time) UnmarshalBSONValue(typ byte, data []byte) error {
	raw := bson.RawValue{Type: bson.Type(typ), Value: data}
	switch bson.Type(typ) {
	case bson.TypeDateTime:
		t.Time = raw.Time().UTC()
		return nil
	case bson.TypeString:
		parsed, err := time.Parse(time.RFC3339Nano, raw.StringValue())
		if err != nil {
			return fmt.Errorf("parse stored timestamp: %w", err)
		}
		t.Time = parsed
		return nil
	case bson.TypeNull:
		t.Time = time.Time{}
		return nil
	default:
		return fmt.Errorf("cannot decode bson %s into timestamp", bson.Type(typ))
	}
}
