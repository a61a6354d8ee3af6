package core

// convert.go provides the value coercion used by the layer extractor.
//
// These functions handle the conventions found in hand-edited term sheets:
//   - Thousands separators and stray whitespace in numbers
//   - Percentages ("12.5%" is 0.125)
//   - Boolean flags spelled in any case
//   - Dates in most common layouts, with or without a time zone
//
// Float and Int coercion return ok=false for null: a nil or NaN cell, or text
// that is not a number. Callers decide whether null is an error.

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// numericRegex validates that a string is a valid numeric format after cleanup.
// Matches integers, decimals, and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// UnlimitedToken in a limit field means "no limit".
const UnlimitedToken = "unlimited"

// Unlimited is the value an unlimited limit coerces to.
const Unlimited = math.MaxFloat64

// ErrNotNumeric is wrapped by parse errors for text that is not a number.
var ErrNotNumeric = errors.New("not a number")

// ErrUnrecognizedDate is wrapped by parse errors for text that is not a date.
var ErrUnrecognizedDate = errors.New("unrecognized date")

// ErrOutOfRange is wrapped by parse errors for numbers a field cannot hold.
var ErrOutOfRange = errors.New("number out of range")

// cleanNumeric strips whitespace and thousands separators and reports whether
// the value carried a trailing percent sign.
func cleanNumeric(s string) (string, bool) {
	s = strings.Join(strings.Fields(s), "")
	s = strings.ReplaceAll(s, ",", "")
	if strings.HasSuffix(s, "%") {
		return strings.TrimSuffix(s, "%"), true
	}
	return s, false
}

// parseNumber parses cleaned text. Empty text is zero.
func parseNumber(s string) (float64, bool) {
	clean, percent := cleanNumeric(s)
	if clean == "" {
		return 0, true
	}
	if !numericRegex.MatchString(clean) {
		return 0, false
	}
	f, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, false
	}
	if percent {
		f /= 100
	}
	return f, true
}

// ToFloat coerces a cell to float64.
func ToFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		if math.IsNaN(x) {
			return 0, false
		}
		return x, true
	case float32:
		if math.IsNaN(float64(x)) {
			return 0, false
		}
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		return parseNumber(x)
	case []byte:
		return parseNumber(string(x))
	default:
		return 0, false
	}
}

// ToInt coerces a cell to int. Percentages divide by 100 and, like any
// fractional value, truncate toward zero. A number outside the int range is
// not an int.
func ToInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int32:
		return int(x), true
	case int64:
		return int(x), true
	}
	f, ok := ToFloat(v)
	if !ok {
		return 0, false
	}
	f = math.Trunc(f)
	if math.IsNaN(f) || f < math.MinInt || f >= -math.MinInt {
		return 0, false
	}
	return int(f), true
}

// intCell is ToInt with the reason for a failure: ErrNotNumeric for text,
// ErrOutOfRange for a number that does not fit.
func intCell(v any) (int, error) {
	if n, ok := ToInt(v); ok {
		return n, nil
	}
	if _, ok := ToFloat(v); ok {
		return 0, ErrOutOfRange
	}
	return 0, ErrNotNumeric
}

// ToBool is true only for the case-insensitive literal "true" (or a bool true).
func ToBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		return strings.EqualFold(strings.TrimSpace(x), "true")
	case []byte:
		return strings.EqualFold(strings.TrimSpace(string(x)), "true")
	default:
		return false
	}
}

// ToDate parses a cell leniently. Any zone in the input is dropped and the
// wall-clock time is stamped UTC. Null or blank cells return nil without
// error; anything unparseable is a ParseError naming field and value.
func ToDate(field string, v any) (*time.Time, error) {
	var s string
	switch x := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		t := asUTC(x)
		return &t, nil
	case string:
		s = strings.TrimSpace(x)
	case []byte:
		s = strings.TrimSpace(string(x))
	default:
		if IsNull(v) {
			return nil, nil
		}
		s = CellString(v)
	}
	if s == "" {
		return nil, nil
	}

	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return nil, &ParseError{Field: field, Value: s, Err: ErrUnrecognizedDate}
	}
	t = asUTC(t)
	return &t, nil
}

// asUTC keeps the wall clock and replaces the location with UTC.
func asUTC(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// isLimitField reports whether a canonical field accepts the unlimited token.
func isLimitField(field string) bool {
	return strings.Contains(field, "limit")
}

// CoerceMoney builds a monetary amount from a cell. The currency is the first
// non-empty code in precedence order. ok is false when the value is null or
// not numeric. "unlimited" in a limit field yields Unlimited.
func CoerceMoney(field string, v any, currencies ...string) (MonetaryAmount, bool) {
	ccy := ""
	for _, c := range currencies {
		if c = strings.TrimSpace(c); c != "" {
			ccy = c
			break
		}
	}

	if isLimitField(field) {
		if s, ok := v.(string); ok && strings.EqualFold(strings.TrimSpace(s), UnlimitedToken) {
			return MonetaryAmount{Value: Unlimited, Currency: ccy}, true
		}
	}

	f, ok := ToFloat(v)
	if !ok {
		return MonetaryAmount{}, false
	}
	return MonetaryAmount{Value: f, Currency: ccy}, true
}

// isFiniteLimit reports whether a limit is a real bound: non-zero, finite and
// not the unlimited sentinel.
func isFiniteLimit(f float64) bool {
	return f != 0 && !math.IsInf(f, 0) && !math.IsNaN(f) && f != Unlimited
}
