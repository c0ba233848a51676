package quark

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"time"
)

const Version = "v0.4.2"

// TimeLayout is the wire format for all timestamps: UTC, millisecond
// precision, trailing Z. It is also the storage format, chosen so that
// lexicographic order on the stored text equals chronological order.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Timestamp wraps time.Time with the judge's wire/storage codec.
type Timestamp struct {
	time.Time
}

func Now() Timestamp {
	return Timestamp{time.Now().UTC().Truncate(time.Millisecond)}
}

func ParseTimestamp(s string) (Timestamp, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Timestamp{}, err
	}
	return Timestamp{t.UTC()}, nil
}

func (t Timestamp) String() string {
	return t.UTC().Format(TimeLayout)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(t.String())), nil
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return err
	}
	ts, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = ts
	return nil
}

// Value implements driver.Valuer, storing the formatted text.
func (t Timestamp) Value() (driver.Value, error) {
	return t.String(), nil
}

func (t *Timestamp) Scan(src any) error {
	switch v := src.(type) {
	case string:
		ts, err := ParseTimestamp(v)
		if err != nil {
			return err
		}
		*t = ts
		return nil
	case []byte:
		return t.Scan(string(v))
	case time.Time:
		*t = Timestamp{v.UTC()}
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Timestamp", src)
	}
}
