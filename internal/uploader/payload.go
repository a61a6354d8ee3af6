package uploader

import (
	"maps"

	"github.com/JonMunkholm/batchupload/internal/core"
	"github.com/JonMunkholm/batchupload/internal/remote"
)

// Metadata keys that tie uploaded resources back to the batch.
const (
	MetaBatchLayerID = "upload_batch_layer_id"
	MetaBatchID      = "upload_batch_id"
)

// Loss perspectives.
const (
	LossGrossOfFilters      = "LossGrossOfFilters"
	LossNetOfAggregateTerms = "LossNetOfAggregateTerms"
)

// lossSetDescription names the remote loss set created for a local id.
func lossSetDescription(localID string) string {
	return "Loss Set for Layer " + localID
}

// batchMetadata returns a copy of meta with the batch keys set.
func batchMetadata(meta map[string]any, localID, batchID string) map[string]any {
	out := make(map[string]any, len(meta)+2)
	maps.Copy(out, meta)
	out[MetaBatchLayerID] = localID
	out[MetaBatchID] = batchID
	return out
}

// layerPayload builds the platform layer for a record. Each variant carries
// only the terms it accepts; absent monetary terms default to 0, except the
// limits which default to unlimited.
func layerPayload(rec core.LayerRecord, lossSets []string, batchID string) *remote.Layer {
	refs := make([]remote.Reference, 0, len(lossSets))
	for _, id := range lossSets {
		refs = append(refs, remote.Ref(id))
	}

	l := &remote.Layer{
		Type:          rec.Type.String(),
		Description:   rec.Description,
		LossSets:      refs,
		Premium:       money(rec, core.FieldPremium),
		Participation: rec.Participation,
		InceptionDate: rec.InceptionDate,
		ExpiryDate:    rec.ExpiryDate,
		MetaData:      batchMetadata(rec.Metadata, rec.ID, batchID),
	}

	switch rec.Type {
	case core.LayerQuotaShare:
		if rec.HasTerm(core.FieldEventLimit) {
			l.EventLimit = money(rec, core.FieldEventLimit)
		}

	case core.LayerAggXL:
		l.Attachment = money(rec, core.FieldAttachment)
		l.Limit = money(rec, core.FieldLimit)
		l.AggregateAttachment = money(rec, core.FieldAggregateAttachment)
		l.AggregateLimit = money(rec, core.FieldAggregateLimit)
		l.Franchise = money(rec, core.FieldFranchise)

	case core.LayerCatXL:
		l.Attachment = money(rec, core.FieldAttachment)
		l.Limit = money(rec, core.FieldLimit)
		l.Franchise = money(rec, core.FieldFranchise)
		l.Reinstatements = reinstatements(rec.Reinstatements)
		nth := 1
		if rec.Nth != nil {
			nth = *rec.Nth
		}
		l.Nth = &nth

	default:
		l.Attachment = money(rec, core.FieldAttachment)
		l.Limit = money(rec, core.FieldLimit)
		l.AggregateAttachment = money(rec, core.FieldAggregateAttachment)
		l.AggregateLimit = money(rec, core.FieldAggregateLimit)
		l.Franchise = money(rec, core.FieldFranchise)
		l.Reinstatements = reinstatements(rec.Reinstatements)
	}
	return l
}

func money(rec core.LayerRecord, term string) *remote.MonetaryUnit {
	def := 0.0
	if term == core.FieldLimit || term == core.FieldAggregateLimit {
		def = core.Unlimited
	}
	m := rec.Term(term, def)
	return &remote.MonetaryUnit{Value: m.Value, Currency: m.Currency}
}

func reinstatements(rs []core.Reinstatement) []remote.Reinstatement {
	if len(rs) == 0 {
		return nil
	}
	out := make([]remote.Reinstatement, len(rs))
	for i, r := range rs {
		out[i] = remote.Reinstatement{Premium: r.Premium, Brokerage: r.Brokerage}
	}
	return out
}
