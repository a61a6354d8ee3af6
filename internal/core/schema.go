package core

import (
	"fmt"
	"sort"
	"strings"
)

// Canonical layer field names. Config keys under [layer_columns] use the
// same names.
const (
	FieldLayerID          = "layer_id"
	FieldLossSetID        = "loss_set_id"
	FieldLossSetCurrency  = "loss_set_currency"
	FieldLossSetStartDate = "loss_set_start_date"
	FieldLayerType        = "layer_type"
	FieldDescription      = "description"
	FieldMetaData         = "meta_data"
	FieldCurrency         = "currency"

	FieldInceptionDate = "inception_date"
	FieldExpiryDate    = "expiry_date"

	FieldPremium             = "premium"
	FieldParticipation       = "participation"
	FieldAttachment          = "attachment"
	FieldLimit               = "limit"
	FieldAggregateAttachment = "aggregate_attachment"
	FieldAggregateLimit      = "aggregate_limit"
	FieldFranchise           = "franchise"
	FieldEventLimit          = "event_limit"
	FieldNth                 = "nth"

	FieldReinstatements         = "reinstatements"
	FieldReinstatementCount     = "reinstatement_count"
	FieldReinstatementPremium   = "reinstatement_premium"
	FieldReinstatementBrokerage = "reinstatement_brokerage"
)

// Canonical loss field names. Config keys under [loss_set_columns] use the
// same names; loss_set_id and the reinstatement fields are shared with layers.
const (
	FieldEventID = "event_id"
	FieldLoss    = "loss"
	FieldTrialID = "trial_id"
	FieldDay     = "day"
)

// MonetaryTerms are the layer terms coerced to monetary amounts.
var MonetaryTerms = []string{
	FieldPremium,
	FieldAttachment,
	FieldLimit,
	FieldAggregateAttachment,
	FieldAggregateLimit,
	FieldFranchise,
	FieldEventLimit,
}

// CurrencyField returns the per-term currency override field, e.g. "limit_ccy".
func CurrencyField(term string) string {
	return term + "_ccy"
}

// LayerFields lists every canonical layer field, including the per-term
// currency overrides.
func LayerFields() []string {
	fields := []string{
		FieldLayerID, FieldLossSetID, FieldLossSetCurrency, FieldLossSetStartDate,
		FieldLayerType, FieldDescription, FieldMetaData, FieldCurrency,
		FieldInceptionDate, FieldExpiryDate, FieldParticipation, FieldNth,
		FieldReinstatements, FieldReinstatementCount, FieldReinstatementPremium, FieldReinstatementBrokerage,
	}
	for _, term := range MonetaryTerms {
		fields = append(fields, term, CurrencyField(term))
	}
	return fields
}

// ColumnSchema maps canonical field names to source column names. It is
// immutable once built. Fields without an explicit mapping use their
// canonical name as the source column.
type ColumnSchema struct {
	section string
	columns map[string]string
}

// NewColumnSchema validates a mapping. Every source name must be non-empty,
// and no two canonical fields may share a source column.
func NewColumnSchema(section string, mapping map[string]string) (ColumnSchema, error) {
	columns := make(map[string]string, len(mapping))
	owners := make(map[string]string, len(mapping))

	keys := make([]string, 0, len(mapping))
	for k := range mapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, field := range keys {
		source := strings.TrimSpace(mapping[field])
		if source == "" {
			return ColumnSchema{}, &ConfigError{Section: section, Key: field, Message: "column name is empty"}
		}
		if other, dup := owners[source]; dup {
			return ColumnSchema{}, &ConfigError{
				Section: section,
				Key:     field,
				Message: fmt.Sprintf("column %q is already mapped to %s", source, other),
			}
		}
		owners[source] = field
		columns[field] = source
	}
	return ColumnSchema{section: section, columns: columns}, nil
}

// Section returns the config section the schema was loaded from.
func (s ColumnSchema) Section() string {
	return s.section
}

// Source returns the source column for a canonical field.
func (s ColumnSchema) Source(field string) string {
	if c, ok := s.columns[field]; ok {
		return c
	}
	return field
}

// Lookup returns the source column for field if the table has it.
func (s ColumnSchema) Lookup(t *Table, field string) (string, bool) {
	c := s.Source(field)
	return c, t.Has(c)
}

// Sources returns the source columns for the given fields, in order.
func (s ColumnSchema) Sources(fields ...string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = s.Source(f)
	}
	return out
}

// Claims reports whether a source column belongs to one of the given fields.
func (s ColumnSchema) Claims(column string, fields []string) bool {
	for _, f := range fields {
		if s.Source(f) == column {
			return true
		}
	}
	return false
}
