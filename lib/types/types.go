// Package types holds the duration types of vuflow configs and the helpers
// converting decoded config values to Go numbers.
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Duration is a time.Duration written to JSON as a string like "1m30s".
type Duration time.Duration

func (d Duration) String() string {
	return time.Duration(d).String()
}

// ParseExtendedDuration parses a human duration string. Plain numbers are
// seconds, otherwise Go duration units (ms, s, m, h, ...) are accepted, plus a
// leading day component ("2d12h"). An empty string is a zero duration.
func ParseExtendedDuration(data string) (time.Duration, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(data, 64); err == nil {
		return secondsToDuration(secs)
	}

	days, rest, found := strings.Cut(data, "d")
	if !found {
		return time.ParseDuration(data)
	}
	n, err := strconv.ParseInt(days, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number of days in '%s'", data)
	}
	var extra time.Duration
	if rest != "" {
		if extra, err = time.ParseDuration(rest); err != nil {
			return 0, err
		}
		if extra < 0 {
			return 0, fmt.Errorf("invalid time format '%s'", rest)
		}
	}
	total := time.Duration(n) * 24 * time.Hour
	if strings.HasPrefix(days, "-") {
		return total - extra, nil
	}
	return total + extra, nil
}

func secondsToDuration(s float64) (time.Duration, error) {
	if math.IsNaN(s) || math.IsInf(s, 0) || math.Abs(s) > float64(math.MaxInt64)/float64(time.Second) {
		return 0, fmt.Errorf("%v seconds is not a valid duration", s)
	}
	return time.Duration(s * float64(time.Second)), nil
}

// UnmarshalText converts text data to Duration
func (d *Duration) UnmarshalText(data []byte) error {
	v, err := ParseExtendedDuration(string(data))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// UnmarshalJSON accepts a duration string or a number of seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v == nil {
		return fmt.Errorf("'%s' is not a valid duration value", data)
	}
	res, err := GetDurationValue(v)
	if err != nil {
		return err
	}
	*d = Duration(res)
	return nil
}

// MarshalJSON returns the JSON representation of d
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// NullDuration is a Duration that remembers whether it was set, like the
// null.Int and null.Bool config values.
type NullDuration struct {
	Duration
	Valid bool
}

// NewNullDuration returns a NullDuration; defaults are built with valid false.
func NewNullDuration(d time.Duration, valid bool) NullDuration {
	return NullDuration{Duration(d), valid}
}

// NullDurationFrom returns a new valid NullDuration from a time.Duration.
func NullDurationFrom(d time.Duration) NullDuration {
	return NullDuration{Duration(d), true}
}

// UnmarshalText converts text data to a NullDuration. Empty text leaves it unset.
func (d *NullDuration) UnmarshalText(data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		*d = NullDuration{}
		return nil
	}
	if err := d.Duration.UnmarshalText(data); err != nil {
		return err
	}
	d.Valid = true
	return nil
}

// UnmarshalJSON converts JSON data to a NullDuration
func (d *NullDuration) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte(`null`)) || bytes.Equal(data, []byte(`""`)) {
		*d = NullDuration{}
		return nil
	}
	if err := json.Unmarshal(data, &d.Duration); err != nil {
		return err
	}
	d.Valid = true
	return nil
}

// MarshalJSON returns the JSON representation of d
func (d NullDuration) MarshalJSON() ([]byte, error) {
	if !d.Valid {
		return []byte(`null`), nil
	}
	return d.Duration.MarshalJSON()
}

// TimeDuration returns a NullDuration's value as a stdlib Duration.
func (d NullDuration) TimeDuration() time.Duration {
	return time.Duration(d.Duration)
}

// GetDurationValue converts a decoded JSON value (a number of seconds or a
// duration string) or a native time.Duration to a time.Duration.
func GetDurationValue(v interface{}) (time.Duration, error) {
	switch d := v.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return d, nil
	case Duration:
		return time.Duration(d), nil
	case string:
		return ParseExtendedDuration(d)
	case float32:
		return secondsToDuration(float64(d))
	case float64:
		return secondsToDuration(d)
	default:
		n, err := getInt64(v)
		if err != nil {
			return 0, fmt.Errorf("unable to use type %T as a duration value", v)
		}
		return secondsToDuration(float64(n))
	}
}

// GetInt64Value converts a decoded JSON number or a numeric string to an
// int64. Fractional values are rejected.
func GetInt64Value(v interface{}) (int64, error) {
	switch n := v.(type) {
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", n)
		}
		return floatToInt64(f)
	case float64:
		return floatToInt64(n)
	case float32:
		return floatToInt64(float64(n))
	default:
		return getInt64(v)
	}
}

func floatToInt64(f float64) (int64, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("%v is not an integer", f)
	}
	// float64(math.MaxInt64) rounds up to 2^63, which doesn't fit
	if f >= 1<<63 || f < math.MinInt64 {
		return 0, fmt.Errorf("%v is out of range", f)
	}
	return int64(f), nil
}

func getInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("%d is too big", n)
		}
		return int64(n), nil
	default:
		return 0, fmt.Errorf("unable to use type %T as a number", v)
	}
}
