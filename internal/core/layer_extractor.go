package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

// LossSetIDSeparator separates several loss set ids in one layer cell.
const LossSetIDSeparator = ";"

// LayerOptions configures layer extraction.
type LayerOptions struct {
	// DefaultCurrency applies when neither a term currency column nor the
	// shared currency column has a value.
	DefaultCurrency string

	// Logger receives the advisory reinstatement checks. Defaults to slog.Default().
	Logger *slog.Logger
}

// ExtractLayers validates a layer table and coerces every row into a
// LayerRecord, in input order.
//
// Table-level problems (reinstatement column style, empty input, missing or
// duplicate layer ids) are returned on their own, before any row is read.
// Row-level parse errors are collected across all rows and returned together.
func ExtractLayers(t *Table, schema ColumnSchema, opts LayerOptions) ([]LayerRecord, error) {
	style, err := ResolveReinstatementStyle(schema, t)
	if err != nil {
		return nil, err
	}
	if t.Len() == 0 {
		return nil, &ValidationError{Message: "layer input is empty", Err: ErrEmptyInput}
	}

	idCol := schema.Source(FieldLayerID)
	if err := RequireColumns(t, "layer", []string{idCol}); err != nil {
		return nil, err
	}

	seen := make(map[string]int, t.Len())
	for i := 0; i < t.Len(); i++ {
		id := CellString(t.Row(i).Get(idCol))
		if id == "" {
			return nil, &ValidationError{
				Field:   idCol,
				Message: fmt.Sprintf("row %d has no layer id", i+1),
				Err:     ErrNullValue,
			}
		}
		if first, dup := seen[id]; dup {
			return nil, &ValidationError{
				Field:   idCol,
				Value:   id,
				Message: fmt.Sprintf("layer id on rows %d and %d is not unique", first+1, i+1),
				Err:     ErrDuplicateID,
			}
		}
		seen[id] = i
	}

	x := layerExtractor{
		t:       t,
		schema:  schema,
		style:   style,
		opts:    opts,
		claimed: LayerFields(),
	}
	if x.opts.Logger == nil {
		x.opts.Logger = slog.Default()
	}

	var errs *multierror.Error
	layers := make([]LayerRecord, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		rec, err := x.extract(t.Row(i))
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		layers = append(layers, rec)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return layers, nil
}

type layerExtractor struct {
	t       *Table
	schema  ColumnSchema
	style   ReinstatementStyle
	opts    LayerOptions
	claimed []string
}

// cell returns the value for a canonical field and whether it is present
// and non-blank.
func (x *layerExtractor) cell(row Row, field string) (any, string, bool) {
	col, ok := x.schema.Lookup(x.t, field)
	if !ok {
		return nil, col, false
	}
	v := row.Get(col)
	if IsNull(v) || CellString(v) == "" {
		return nil, col, false
	}
	return v, col, true
}

func (x *layerExtractor) text(row Row, field string) string {
	v, _, ok := x.cell(row, field)
	if !ok {
		return ""
	}
	return CellString(v)
}

func (x *layerExtractor) extract(row Row) (LayerRecord, error) {
	id := CellString(row.Get(x.schema.Source(FieldLayerID)))
	rec := LayerRecord{
		ID:              id,
		Type:            ParseLayerType(x.text(row, FieldLayerType)),
		Description:     x.text(row, FieldDescription),
		Currency:        x.text(row, FieldCurrency),
		LossSetCurrency: x.text(row, FieldLossSetCurrency),
		Terms:           make(map[string]MonetaryAmount),
	}
	if rec.Currency == "" {
		rec.Currency = x.opts.DefaultCurrency
	}

	if _, ok := x.schema.Lookup(x.t, FieldLossSetID); ok {
		for _, part := range strings.Split(x.text(row, FieldLossSetID), LossSetIDSeparator) {
			if part = strings.TrimSpace(part); part != "" {
				rec.LossSetIDs = append(rec.LossSetIDs, part)
			}
		}
	} else {
		rec.LossSetIDs = []string{id}
	}

	var errs *multierror.Error
	fail := func(err error) {
		var pe *ParseError
		if errors.As(err, &pe) && pe.Record == "" {
			pe.Record = "layer " + id
		}
		errs = multierror.Append(errs, err)
	}

	var err error
	if rec.LossSetStartDate, err = x.date(row, FieldLossSetStartDate); err != nil {
		fail(err)
	}
	if rec.InceptionDate, err = x.date(row, FieldInceptionDate); err != nil {
		fail(err)
	}
	if rec.ExpiryDate, err = x.date(row, FieldExpiryDate); err != nil {
		fail(err)
	}

	for _, term := range MonetaryTerms {
		v, col, ok := x.cell(row, term)
		if !ok {
			continue
		}
		m, ok := CoerceMoney(term, v, x.text(row, CurrencyField(term)), rec.Currency)
		if !ok {
			fail(&ParseError{Field: col, Value: CellString(v), Err: ErrNotNumeric})
			continue
		}
		rec.Terms[term] = m
	}

	if v, col, ok := x.cell(row, FieldParticipation); ok {
		if f, ok := ToFloat(v); ok {
			rec.Participation = &f
		} else {
			fail(&ParseError{Field: col, Value: CellString(v), Err: ErrNotNumeric})
		}
	}
	if v, col, ok := x.cell(row, FieldNth); ok {
		n, err := intCell(v)
		switch {
		case err != nil:
			fail(&ParseError{Field: col, Value: CellString(v), Err: err})
		case n < 1:
			fail(&ParseError{Field: col, Value: CellString(v), Err: ErrOutOfRange})
		default:
			rec.Nth = &n
		}
	}

	ris, err := x.reinstatements(row)
	if err != nil {
		fail(err)
	}
	rec.Reinstatements = ris
	if err == nil && x.style != ReinstatementsNone {
		x.checkReinstatementCount(rec)
	}

	md, err := x.metadata(row)
	if err != nil {
		fail(err)
	}
	rec.Metadata = md

	if err := errs.ErrorOrNil(); err != nil {
		return LayerRecord{}, err
	}
	return rec, nil
}

func (x *layerExtractor) date(row Row, field string) (*time.Time, error) {
	v, col, ok := x.cell(row, field)
	if !ok {
		return nil, nil
	}
	return ToDate(col, v)
}

func (x *layerExtractor) reinstatements(row Row) ([]Reinstatement, error) {
	switch x.style {
	case ReinstatementsDelimited:
		v, col, ok := x.cell(row, FieldReinstatements)
		if !ok {
			return []Reinstatement{}, nil
		}
		ris, err := ParseReinstatements(CellString(v))
		if err != nil {
			return nil, &ParseError{Field: col, Err: err}
		}
		return ris, nil

	case ReinstatementsColumns:
		v, countCol, ok := x.cell(row, FieldReinstatementCount)
		if !ok {
			return []Reinstatement{}, nil
		}
		count, err := intCell(v)
		if errors.Is(err, ErrOutOfRange) {
			err = &ReinstatementError{Value: CellString(v), Err: ErrTooManyReinstatements, Detail: "count"}
		}
		if err != nil {
			return nil, &ParseError{Field: countCol, Value: CellString(v), Err: err}
		}

		pv, premiumCol, ok := x.cell(row, FieldReinstatementPremium)
		if !ok {
			if count == 0 {
				return []Reinstatement{}, nil
			}
			return nil, &ParseError{Field: premiumCol, Err: errors.New("reinstatement premium is required with a count")}
		}
		premium, ok := ToFloat(pv)
		if !ok {
			return nil, &ParseError{Field: premiumCol, Value: CellString(pv), Err: ErrNotNumeric}
		}

		var brokerage float64
		if bv, brokerageCol, ok := x.cell(row, FieldReinstatementBrokerage); ok {
			if brokerage, ok = ToFloat(bv); !ok {
				return nil, &ParseError{Field: brokerageCol, Value: CellString(bv), Err: ErrNotNumeric}
			}
		}

		ris, err := RepeatReinstatements(count, premium, brokerage)
		if err != nil {
			return nil, &ParseError{Field: countCol, Err: err}
		}
		return ris, nil

	default:
		return []Reinstatement{}, nil
	}
}

// checkReinstatementCount logs the count implied by the row's limits. It is
// only a hint; the parsed reinstatements are kept either way.
func (x *layerExtractor) checkReinstatementCount(rec LayerRecord) {
	if !rec.HasTerm(FieldAggregateLimit) || !rec.HasTerm(FieldLimit) {
		return
	}
	expected, ok := AdvisoryReinstatementCount(rec.Terms[FieldAggregateLimit].Value, rec.Terms[FieldLimit].Value)
	if !ok {
		return
	}
	if expected != len(rec.Reinstatements) {
		x.opts.Logger.Warn("reinstatement count differs from aggregate/limit ratio",
			"layer_id", rec.ID,
			"reinstatements", len(rec.Reinstatements),
			"implied", expected,
		)
		return
	}
	x.opts.Logger.Debug("reinstatement count matches aggregate/limit ratio",
		"layer_id", rec.ID,
		"reinstatements", expected,
	)
}

// metadata merges the meta_data JSON column with every column no canonical
// field claims. Explicit columns win over keys from the JSON.
func (x *layerExtractor) metadata(row Row) (map[string]any, error) {
	md := make(map[string]any)

	if v, col, ok := x.cell(row, FieldMetaData); ok {
		raw := CellString(v)
		if err := json.Unmarshal([]byte(raw), &md); err != nil {
			return nil, &ParseError{Field: col, Value: raw, Err: fmt.Errorf("meta_data is not a JSON object: %w", err)}
		}
		if md == nil {
			md = make(map[string]any)
		}
	}

	for _, col := range x.t.Columns() {
		if x.schema.Claims(col, x.claimed) {
			continue
		}
		v := row.Get(col)
		if IsNull(v) {
			md[col] = ""
			continue
		}
		md[col] = v
	}
	return md, nil
}
