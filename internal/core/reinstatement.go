package core

// reinstatement.go decodes reinstatement terms.
//
// Two input styles are supported, never both in one table:
//   - Delimited: a single "reinstatements" column holding premium/brokerage
//     pairs, e.g. "1.0;0.05|0.5;0.025". Both separators are inferred per cell.
//   - Columns: reinstatement_count copies of (reinstatement_premium,
//     reinstatement_brokerage). Brokerage may be omitted and is then zero.

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ReinstatementSeparators are the characters that may separate premium from
// brokerage or one reinstatement from the next.
const ReinstatementSeparators = "~!@#$%^&*_+=|;:/"

// Sentinels wrapped by ReinstatementError.
var (
	ErrAmbiguousReinstatements = errors.New("reinstatements value is a bare number")
	ErrMalformedReinstatements = errors.New("malformed reinstatements value")
	ErrNegativeReinstatement   = errors.New("reinstatement terms must not be negative")
	ErrTooManyReinstatements   = errors.New("too many reinstatements")
)

// MaxReinstatements bounds reinstatement_count.
const MaxReinstatements = 100

// ReinstatementError describes a reinstatement value that could not be decoded.
type ReinstatementError struct {
	Value  string // The whole cell
	Record string // The offending pair, if the failure is local to one
	Detail string
	Err    error
}

func (e *ReinstatementError) Error() string {
	msg := e.Err.Error()
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if e.Record != "" && e.Record != e.Value {
		return fmt.Sprintf("%s: record %q in %q", msg, e.Record, e.Value)
	}
	return fmt.Sprintf("%s: %q", msg, e.Value)
}

func (e *ReinstatementError) Unwrap() error { return e.Err }

func (e *ReinstatementError) Code() Code { return CodeParseFailed }

// ReinstatementStyle is how a layer table expresses reinstatements.
type ReinstatementStyle int

const (
	ReinstatementsNone ReinstatementStyle = iota
	ReinstatementsDelimited
	ReinstatementsColumns
)

func (s ReinstatementStyle) String() string {
	switch s {
	case ReinstatementsDelimited:
		return "delimited"
	case ReinstatementsColumns:
		return "columns"
	default:
		return "none"
	}
}

// ResolveReinstatementStyle decides the style from the columns present. Mixing
// styles, or supplying only part of the column style, is a ConfigError.
func ResolveReinstatementStyle(schema ColumnSchema, t *Table) (ReinstatementStyle, error) {
	delimited, hasDelimited := schema.Lookup(t, FieldReinstatements)
	count, hasCount := schema.Lookup(t, FieldReinstatementCount)
	premium, hasPremium := schema.Lookup(t, FieldReinstatementPremium)
	brokerage, hasBrokerage := schema.Lookup(t, FieldReinstatementBrokerage)

	anyColumns := hasCount || hasPremium || hasBrokerage

	switch {
	case hasDelimited && anyColumns:
		return ReinstatementsNone, &ConfigError{
			Section: schema.Section(),
			Key:     FieldReinstatements,
			Message: fmt.Sprintf(
				"ambiguous reinstatement columns: use either %q or %q with %q (and optionally %q)",
				delimited, count, premium, brokerage),
		}
	case hasDelimited:
		return ReinstatementsDelimited, nil
	case hasCount && hasPremium:
		return ReinstatementsColumns, nil
	case anyColumns:
		var missing []string
		if !hasCount {
			missing = append(missing, count)
		}
		if !hasPremium {
			missing = append(missing, premium)
		}
		return ReinstatementsNone, &ConfigError{
			Section: schema.Section(),
			Key:     FieldReinstatementCount,
			Message: "incomplete reinstatement columns, missing " + strings.Join(missing, ", "),
		}
	default:
		return ReinstatementsNone, nil
	}
}

// ParseReinstatements decodes a delimited reinstatements string.
//
// The separators are inferred from the candidate characters present. With one
// candidate, it must occur once and the string is a single pair. With two, the
// one occurring exactly once more than the other separates premium from
// brokerage and the other separates pairs. Any other count is malformed, as
// is a string that is itself a number.
func ParseReinstatements(s string) ([]Reinstatement, error) {
	value := strings.TrimSpace(s)
	if value == "" {
		return []Reinstatement{}, nil
	}
	if numericRegex.MatchString(value) {
		return nil, &ReinstatementError{Value: value, Err: ErrAmbiguousReinstatements}
	}

	// Candidates in order of first appearance.
	var seps []rune
	counts := make(map[rune]int)
	for _, r := range value {
		if !strings.ContainsRune(ReinstatementSeparators, r) {
			continue
		}
		if counts[r] == 0 {
			seps = append(seps, r)
		}
		counts[r]++
	}

	var pairSep, recordSep rune
	switch len(seps) {
	case 1:
		pairSep = seps[0]
		if counts[pairSep] != 1 {
			return nil, &ReinstatementError{
				Value:  value,
				Err:    ErrMalformedReinstatements,
				Detail: fmt.Sprintf("separator %q occurs %d times", pairSep, counts[pairSep]),
			}
		}
	case 2:
		a, b := seps[0], seps[1]
		switch counts[a] - counts[b] {
		case 1:
			pairSep, recordSep = a, b
		case -1:
			pairSep, recordSep = b, a
		default:
			return nil, &ReinstatementError{
				Value: value,
				Err:   ErrMalformedReinstatements,
				Detail: fmt.Sprintf("separators %q and %q occur %d and %d times",
					a, b, counts[a], counts[b]),
			}
		}
	default:
		return nil, &ReinstatementError{
			Value:  value,
			Err:    ErrMalformedReinstatements,
			Detail: fmt.Sprintf("found %d separator characters, expected 1 or 2", len(seps)),
		}
	}

	records := []string{value}
	if recordSep != 0 {
		records = strings.Split(value, string(recordSep))
		if len(records) < 2 {
			return nil, &ReinstatementError{Value: value, Err: ErrMalformedReinstatements}
		}
	}

	out := make([]Reinstatement, 0, len(records))
	for _, rec := range records {
		ri, err := parseReinstatementPair(value, rec, string(pairSep))
		if err != nil {
			return nil, err
		}
		out = append(out, ri)
	}
	return out, nil
}

func parseReinstatementPair(value, record, sep string) (Reinstatement, error) {
	parts := strings.Split(record, sep)
	if len(parts) != 2 {
		return Reinstatement{}, &ReinstatementError{
			Value:  value,
			Record: record,
			Err:    ErrMalformedReinstatements,
			Detail: "expected premium and brokerage",
		}
	}

	var terms [2]float64
	for i, p := range parts {
		tok := strings.TrimSpace(p)
		if !numericRegex.MatchString(tok) {
			return Reinstatement{}, &ReinstatementError{
				Value:  value,
				Record: record,
				Err:    ErrMalformedReinstatements,
				Detail: fmt.Sprintf("%q is not a number", tok),
			}
		}
		f, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return Reinstatement{}, &ReinstatementError{Value: value, Record: record, Err: ErrMalformedReinstatements, Detail: err.Error()}
		}
		if f < 0 {
			return Reinstatement{}, &ReinstatementError{Value: value, Record: record, Err: ErrNegativeReinstatement}
		}
		terms[i] = f
	}
	return Reinstatement{Premium: terms[0], Brokerage: terms[1]}, nil
}

// RepeatReinstatements returns count copies of one reinstatement.
func RepeatReinstatements(count int, premium, brokerage float64) ([]Reinstatement, error) {
	if count < 0 {
		return nil, &ReinstatementError{Value: strconv.Itoa(count), Err: ErrNegativeReinstatement, Detail: "count"}
	}
	if count > MaxReinstatements {
		return nil, &ReinstatementError{
			Value:  strconv.Itoa(count),
			Err:    ErrTooManyReinstatements,
			Detail: fmt.Sprintf("count, at most %d", MaxReinstatements),
		}
	}
	if premium < 0 || brokerage < 0 {
		return nil, &ReinstatementError{
			Value: fmt.Sprintf("premium %g, brokerage %g", premium, brokerage),
			Err:   ErrNegativeReinstatement,
		}
	}
	out := make([]Reinstatement, count)
	for i := range out {
		out[i] = Reinstatement{Premium: premium, Brokerage: brokerage}
	}
	return out, nil
}

// AdvisoryReinstatementCount is the number of reinstatements implied by the
// aggregate and occurrence limits: ceil(aggregate/limit - 1). ok is false
// unless both limits are finite and non-zero.
func AdvisoryReinstatementCount(aggregateLimit, limit float64) (int, bool) {
	if !isFiniteLimit(aggregateLimit) || !isFiniteLimit(limit) {
		return 0, false
	}
	n := math.Ceil(aggregateLimit/limit - 1)
	if n < 0 {
		n = 0
	}
	return int(n), true
}
