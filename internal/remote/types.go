// Package remote is a client for the Analyze Re platform resources the
// uploader creates: loss sets, their data and layers.
//
// Client talks to the HTTP API. Memory implements the same operations in
// process and backs --dry-run.
package remote

import "time"

// Loss set processing states reported by the platform.
const (
	StatusProcessingSucceeded = "processing_succeeded"
	StatusProcessingFailed    = "processing_failed"
)

// Reference points at another platform resource.
type Reference struct {
	RefID string `json:"ref_id"`
}

// Ref returns a reference to the resource with the given id.
func Ref(id string) Reference {
	return Reference{RefID: id}
}

// MonetaryUnit is an amount in a currency.
type MonetaryUnit struct {
	Value    float64 `json:"value"`
	Currency string  `json:"currency"`
}

// Reinstatement is one layer reinstatement.
type Reinstatement struct {
	Premium   float64 `json:"premium"`
	Brokerage float64 `json:"brokerage"`
}

// AnalysisProfile supplies the event catalogs new loss sets are tied to.
type AnalysisProfile struct {
	ID            string      `json:"id"`
	Description   string      `json:"description,omitempty"`
	EventCatalogs []Reference `json:"event_catalogs"`
}

// LossSet is an ELTLossSet, YELTLossSet or YLTLossSet.
type LossSet struct {
	ID            string         `json:"id,omitempty"`
	Type          string         `json:"_type"`
	Description   string         `json:"description"`
	Currency      string         `json:"currency,omitempty"`
	LossType      string         `json:"loss_type,omitempty"`
	EventCatalogs []Reference    `json:"event_catalogs,omitempty"`
	StartDate     *time.Time     `json:"start_date,omitempty"`
	TrialCount    int            `json:"trial_count,omitempty"`
	MetaData      map[string]any `json:"meta_data,omitempty"`

	Status        string `json:"status,omitempty"`
	StatusMessage string `json:"status_message,omitempty"`
}

// Done reports whether the platform has finished processing the loss data.
func (ls *LossSet) Done() bool {
	return ls.Status == StatusProcessingSucceeded || ls.Status == StatusProcessingFailed
}

// Layer is a CatXL, AggXL, QuotaShare or Generic layer. Terms a variant
// does not accept are left nil and omitted from the request.
type Layer struct {
	ID          string      `json:"id,omitempty"`
	Type        string      `json:"_type"`
	Description string      `json:"description,omitempty"`
	LossSets    []Reference `json:"loss_sets"`

	Premium             *MonetaryUnit   `json:"premium,omitempty"`
	Participation       *float64        `json:"participation,omitempty"`
	Attachment          *MonetaryUnit   `json:"attachment,omitempty"`
	Limit               *MonetaryUnit   `json:"limit,omitempty"`
	AggregateAttachment *MonetaryUnit   `json:"aggregate_attachment,omitempty"`
	AggregateLimit      *MonetaryUnit   `json:"aggregate_limit,omitempty"`
	Franchise           *MonetaryUnit   `json:"franchise,omitempty"`
	EventLimit          *MonetaryUnit   `json:"event_limit,omitempty"`
	Nth                 *int            `json:"nth,omitempty"`
	Reinstatements      []Reinstatement `json:"reinstatements,omitempty"`

	InceptionDate *time.Time     `json:"inception_date,omitempty"`
	ExpiryDate    *time.Time     `json:"expiry_date,omitempty"`
	MetaData      map[string]any `json:"meta_data,omitempty"`
}
