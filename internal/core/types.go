package core

import (
	"fmt"
	"strings"
	"time"
)

// LayerType is the closed set of layer variants the platform accepts.
type LayerType int

const (
	LayerGeneric LayerType = iota
	LayerCatXL
	LayerAggXL
	LayerQuotaShare
)

// String returns the platform type tag for the layer variant.
func (t LayerType) String() string {
	switch t {
	case LayerCatXL:
		return "CatXL"
	case LayerAggXL:
		return "AggXL"
	case LayerQuotaShare:
		return "QuotaShare"
	default:
		return "Generic"
	}
}

// ParseLayerType maps a layer_type cell to a variant. Whitespace is removed and
// case ignored; "qs" is accepted for QuotaShare. Missing or unrecognized
// values fall back to Generic.
func ParseLayerType(s string) LayerType {
	key := strings.ToLower(strings.Join(strings.Fields(s), ""))
	switch key {
	case "catxl":
		return LayerCatXL
	case "aggxl":
		return LayerAggXL
	case "quotashare", "qs":
		return LayerQuotaShare
	default:
		return LayerGeneric
	}
}

// LossType is the shape of a loss table.
type LossType int

const (
	LossELT LossType = iota + 1
	LossYELT
	LossYLT
)

// String returns the lower-case name used on the command line and in config.
func (t LossType) String() string {
	switch t {
	case LossELT:
		return "elt"
	case LossYELT:
		return "yelt"
	case LossYLT:
		return "ylt"
	default:
		return "unknown"
	}
}

// RemoteType returns the platform resource type for loss sets of this shape.
func (t LossType) RemoteType() string {
	switch t {
	case LossELT:
		return "ELTLossSet"
	case LossYELT:
		return "YELTLossSet"
	case LossYLT:
		return "YLTLossSet"
	default:
		return ""
	}
}

// ParseLossType parses "elt", "yelt" or "ylt" (case-insensitive).
func ParseLossType(s string) (LossType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "elt":
		return LossELT, nil
	case "yelt":
		return LossYELT, nil
	case "ylt":
		return LossYLT, nil
	default:
		return 0, &ConfigError{Key: "loss_type", Message: fmt.Sprintf("unknown loss type %q (use elt, yelt or ylt)", s)}
	}
}

// Phase indicates the current stage of a loss set or layer upload.
type Phase string

const (
	PhaseCreated       Phase = "created"
	PhaseUploadingData Phase = "uploading_data"
	PhaseProcessing    Phase = "processing"
	PhaseSucceeded     Phase = "succeeded"
	PhaseFailed        Phase = "failed"
	PhaseSkipped       Phase = "skipped"
)

// MonetaryAmount is a value with its currency code.
type MonetaryAmount struct {
	Value    float64
	Currency string
}

// Reinstatement restores an exhausted limit at the given premium and brokerage.
type Reinstatement struct {
	Premium   float64
	Brokerage float64
}

// LayerRecord is one validated, coerced row of layer input.
type LayerRecord struct {
	ID          string
	Type        LayerType
	Description string

	// LossSetIDs are the local loss set identifiers this layer references.
	// Defaults to the layer id when the input has no loss_set_id column.
	LossSetIDs []string

	// Currency is the row-level currency: the shared currency column or the
	// configured default.
	Currency string

	LossSetCurrency  string
	LossSetStartDate *time.Time
	InceptionDate    *time.Time
	ExpiryDate       *time.Time

	// Terms holds the monetary terms present in the input, keyed by canonical
	// field name. Absent terms are not defaulted here.
	Terms map[string]MonetaryAmount

	Participation  *float64
	Nth            *int
	Reinstatements []Reinstatement
	Metadata       map[string]any
}

// Term returns the named monetary term, or def in the row currency when the
// input did not supply it.
func (r LayerRecord) Term(name string, def float64) MonetaryAmount {
	if m, ok := r.Terms[name]; ok {
		return m
	}
	return MonetaryAmount{Value: def, Currency: r.Currency}
}

// HasTerm reports whether the input supplied the named monetary term.
func (r LayerRecord) HasTerm(name string) bool {
	_, ok := r.Terms[name]
	return ok
}
