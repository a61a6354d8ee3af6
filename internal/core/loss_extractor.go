package core

import (
	"fmt"
	"sort"
	"strings"
)

// Column names the platform expects in uploaded loss data.
var lossTargets = map[string]string{
	FieldLossSetID:              "LayerId",
	FieldEventID:                "EventId",
	FieldLoss:                   "Loss",
	FieldTrialID:                "Trial",
	FieldDay:                    "Day",
	FieldReinstatementPremium:   "ReinstatementPremium",
	FieldReinstatementBrokerage: "ReinstatementBrokerage",
}

// RequiredLossFields returns the canonical fields every row of the loss type
// must carry, in upload order.
func RequiredLossFields(t LossType) []string {
	switch t {
	case LossELT:
		return []string{FieldEventID, FieldLoss}
	case LossYELT:
		return []string{FieldTrialID, FieldDay, FieldEventID, FieldLoss}
	case LossYLT:
		return []string{FieldTrialID, FieldLoss}
	default:
		return nil
	}
}

// OptionalLossFields returns the canonical fields uploaded when present.
func OptionalLossFields(t LossType) []string {
	switch t {
	case LossYELT, LossYLT:
		return []string{FieldReinstatementPremium, FieldReinstatementBrokerage}
	default:
		return nil
	}
}

// LossSortFields returns the canonical fields loss data is ordered by.
func LossSortFields(t LossType) []string {
	switch t {
	case LossELT:
		return []string{FieldEventID}
	case LossYELT:
		return []string{FieldTrialID, FieldDay, FieldEventID}
	case LossYLT:
		return []string{FieldTrialID}
	default:
		return nil
	}
}

// LossExtractor holds a validated loss table, grouped by loss set id and
// already sorted. It is read-only after construction and safe for concurrent use.
type LossExtractor struct {
	lossType          LossType
	columns           []string // uploaded column names
	ids               []string
	groups            map[string][][]any
	hasReinstatements bool
}

type lossRow struct {
	keys  []float64
	cells []any
}

// NewLossExtractor validates a loss table for the given loss type.
//
// The loss set id and every required column must be present, the table must
// not be empty, and no selected cell may be null or non-numeric.
func NewLossExtractor(t *Table, lossType LossType, schema ColumnSchema) (*LossExtractor, error) {
	required := RequiredLossFields(lossType)
	if required == nil {
		return nil, &ConfigError{Key: "loss_type", Message: fmt.Sprintf("unsupported loss type %s", lossType)}
	}

	idCol := schema.Source(FieldLossSetID)
	if err := RequireColumns(t, lossType.String()+" loss", append([]string{idCol}, schema.Sources(required...)...)); err != nil {
		return nil, err
	}
	if t.Len() == 0 {
		return nil, &ValidationError{Message: lossType.String() + " loss input contains no losses", Err: ErrEmptyInput}
	}

	fields := append([]string{}, required...)
	var present []string
	for _, f := range OptionalLossFields(lossType) {
		if _, ok := schema.Lookup(t, f); ok {
			fields = append(fields, f)
			present = append(present, f)
		}
	}

	x := &LossExtractor{
		lossType:          lossType,
		groups:            make(map[string][][]any),
		hasReinstatements: len(present) == 2,
	}
	for _, f := range fields {
		x.columns = append(x.columns, lossTargets[f])
	}

	sortPos := make([]int, 0, len(LossSortFields(lossType)))
	for _, sf := range LossSortFields(lossType) {
		for i, f := range fields {
			if f == sf {
				sortPos = append(sortPos, i)
			}
		}
	}

	grouped := make(map[string][]lossRow)
	for i := 0; i < t.Len(); i++ {
		row := t.Row(i)

		id := CellString(row.Get(idCol))
		if id == "" {
			return nil, nullCellError(idCol, i)
		}

		values := make([]float64, len(fields))
		cells := make([]any, len(fields))
		for j, f := range fields {
			col := schema.Source(f)
			v := row.Get(col)
			if IsNull(v) || CellString(v) == "" {
				return nil, nullCellError(col, i)
			}
			n, ok := ToFloat(v)
			if !ok {
				return nil, &ParseError{
					Record: fmt.Sprintf("row %d", i+1),
					Field:  col,
					Value:  CellString(v),
					Err:    ErrNotNumeric,
				}
			}
			values[j] = n
			cells[j] = lossCell(v, n)
		}

		keys := make([]float64, len(sortPos))
		for k, p := range sortPos {
			keys[k] = values[p]
		}

		if _, ok := grouped[id]; !ok {
			x.ids = append(x.ids, id)
		}
		grouped[id] = append(grouped[id], lossRow{keys: keys, cells: cells})
	}

	for id, rows := range grouped {
		sort.SliceStable(rows, func(a, b int) bool {
			ka, kb := rows[a].keys, rows[b].keys
			for k := range ka {
				if ka[k] != kb[k] {
					return ka[k] < kb[k]
				}
			}
			return false
		})
		out := make([][]any, len(rows))
		for i, r := range rows {
			out[i] = r.cells
		}
		x.groups[id] = out
	}

	return x, nil
}

func nullCellError(col string, row int) error {
	return &ValidationError{
		Field:   col,
		Message: fmt.Sprintf("loss input has an empty value on row %d", row+1),
		Err:     ErrNullValue,
	}
}

// lossCell keeps numeric text as written so uploaded data matches the
// source; anything else coerced (thousands separators, typed values) is
// replaced by the number.
func lossCell(v any, n float64) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if s = strings.TrimSpace(s); numericRegex.MatchString(s) {
		return s
	}
	return n
}

// LossType returns the shape of the extracted losses.
func (x *LossExtractor) LossType() LossType {
	return x.lossType
}

// IDs returns the distinct loss set ids in first-seen order.
func (x *LossExtractor) IDs() []string {
	out := make([]string, len(x.ids))
	copy(out, x.ids)
	return out
}

// HasReinstatements reports whether both reinstatement columns are uploaded.
func (x *LossExtractor) HasReinstatements() bool {
	return x.hasReinstatements
}

// Columns returns the uploaded column names.
func (x *LossExtractor) Columns() []string {
	out := make([]string, len(x.columns))
	copy(out, x.columns)
	return out
}

// LossSet returns the sorted rows of one loss set, restricted to the uploaded
// columns. An unknown id yields an empty table. Repeated calls return
// equivalent tables.
func (x *LossExtractor) LossSet(id string) *Table {
	return newTableUnchecked(x.Columns(), x.groups[id])
}
