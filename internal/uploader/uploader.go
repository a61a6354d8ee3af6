// Package uploader uploads extracted layers and their loss sets to the
// platform.
//
// Each layer is one task: its loss sets are created, filled with data and
// polled until processed, then the layer is created referencing them. Tasks
// run on a fixed-size pool and fail independently; a failed layer never
// cancels its siblings. Loss sets shared by several layers are uploaded once
// per run.
package uploader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/JonMunkholm/batchupload/internal/core"
	"github.com/JonMunkholm/batchupload/internal/logging"
	"github.com/JonMunkholm/batchupload/internal/remote"
)

// DefaultPollInterval is the default delay between loss set status checks.
const DefaultPollInterval = 2 * time.Second

// ErrPollTimeout is matched by errors returned when a loss set does not
// finish processing within the poll timeout.
var ErrPollTimeout = errors.New("loss set processing timed out")

// ErrConflictingLossSet is wrapped when layers sharing a loss set disagree
// on its currency or start date.
var ErrConflictingLossSet = errors.New("conflicting loss set settings")

// PollTimeoutError reports a loss set still processing after the timeout.
type PollTimeoutError struct {
	LossSetID  string
	Timeout    time.Duration
	LastStatus string
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("loss set %s still %q after %s", e.LossSetID, e.LastStatus, e.Timeout)
}

func (e *PollTimeoutError) Unwrap() error { return ErrPollTimeout }

func (e *PollTimeoutError) Code() core.Code { return core.CodeTimeout }

// Platform is the subset of the platform API the uploader needs.
// remote.Client and remote.Memory implement it.
type Platform interface {
	AnalysisProfile(ctx context.Context, id string) (*remote.AnalysisProfile, error)
	CreateLossSet(ctx context.Context, ls *remote.LossSet) (*remote.LossSet, error)
	UploadLossSetData(ctx context.Context, id string, data []byte) error
	RetrieveLossSet(ctx context.Context, id string) (*remote.LossSet, error)
	CreateLayer(ctx context.Context, l *remote.Layer) (*remote.Layer, error)
}

// LossSource provides the loss data of each local loss set.
// core.LossExtractor implements it.
type LossSource interface {
	LossType() core.LossType
	LossSet(id string) *core.Table
	HasReinstatements() bool
}

var (
	_ Platform   = (*remote.Client)(nil)
	_ Platform   = (*remote.Memory)(nil)
	_ LossSource = (*core.LossExtractor)(nil)
)

// Options configures a run.
type Options struct {
	BatchID string

	// Defaults for loss sets whose layer does not override them.
	DefaultCurrency  string
	DefaultStartDate *time.Time
	TrialCount       int
	LossPerspective  string

	AnalysisProfileID string

	PoolSize     int
	PollInterval time.Duration

	// PollTimeout bounds the wait for one loss set; 0 waits until the run
	// context ends.
	PollTimeout time.Duration
}

// Uploader runs upload batches against a platform.
type Uploader struct {
	platform Platform
	opts     Options
	limiter  *Limiter
}

// New creates an uploader. Zero pool size and poll interval take defaults.
func New(platform Platform, opts Options) *Uploader {
	if opts.PoolSize <= 0 {
		opts.PoolSize = DefaultPoolSize
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.LossPerspective == "" {
		opts.LossPerspective = LossGrossOfFilters
	}
	return &Uploader{
		platform: platform,
		opts:     opts,
		limiter:  NewLimiter(opts.PoolSize),
	}
}

// Preflight checks the defaults the loss type depends on and that layers
// sharing a loss set agree on its currency and start date. It makes no
// platform call.
func (o Options) Preflight(layers []core.LayerRecord, lossType core.LossType) error {
	if o.AnalysisProfileID == "" {
		return &core.ConfigError{Section: "defaults", Key: "analysis_profile_uuid", Message: "is required"}
	}
	if o.DefaultCurrency == "" {
		return &core.ConfigError{Section: "defaults", Key: "currency", Message: "is required"}
	}
	switch lossType {
	case core.LossYELT:
		if o.DefaultStartDate == nil {
			return &core.ConfigError{Section: "defaults", Key: "start_date", Message: "is required for yelt losses"}
		}
		if o.TrialCount <= 0 {
			return &core.ConfigError{Section: "defaults", Key: "trial_count", Message: "is required for yelt losses"}
		}
	case core.LossYLT:
		if o.TrialCount <= 0 {
			return &core.ConfigError{Section: "defaults", Key: "trial_count", Message: "is required for ylt losses"}
		}
	case core.LossELT:
	default:
		return &core.ConfigError{Key: "loss_type", Message: fmt.Sprintf("unsupported loss type %s", lossType)}
	}
	return o.checkSharedLossSets(layers, lossType)
}

// checkSharedLossSets rejects layers that would give one loss set two
// different currencies or start dates.
func (o Options) checkSharedLossSets(layers []core.LayerRecord, lossType core.LossType) error {
	type owner struct {
		layerID  string
		currency string
		start    *time.Time
	}

	seen := make(map[string]owner)
	for _, l := range layers {
		cur := owner{layerID: l.ID, currency: o.DefaultCurrency}
		if l.LossSetCurrency != "" {
			cur.currency = l.LossSetCurrency
		}
		if lossType == core.LossYELT {
			cur.start = o.DefaultStartDate
			if l.LossSetStartDate != nil {
				cur.start = l.LossSetStartDate
			}
		}

		for _, id := range l.LossSetIDs {
			prev, ok := seen[id]
			if !ok {
				seen[id] = cur
				continue
			}
			if prev.currency != cur.currency {
				return &core.ValidationError{
					Field:   core.FieldLossSetCurrency,
					Value:   id,
					Message: fmt.Sprintf("layers %s and %s give different currencies (%s, %s) to loss set", prev.layerID, l.ID, prev.currency, cur.currency),
					Err:     ErrConflictingLossSet,
				}
			}
			if !sameDate(prev.start, cur.start) {
				return &core.ValidationError{
					Field:   core.FieldLossSetStartDate,
					Value:   id,
					Message: fmt.Sprintf("layers %s and %s give different start dates to loss set", prev.layerID, l.ID),
					Err:     ErrConflictingLossSet,
				}
			}
		}
	}
	return nil
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// Run uploads every layer and its loss sets. It returns an error only when
// the run cannot start; per-layer failures are reported in the Result.
func (u *Uploader) Run(ctx context.Context, layers []core.LayerRecord, losses LossSource) (*Result, error) {
	if err := u.opts.Preflight(layers, losses.LossType()); err != nil {
		return nil, err
	}
	ctx = logging.WithBatch(ctx, u.opts.BatchID)
	log := logging.FromContext(ctx)

	profile, err := u.platform.AnalysisProfile(ctx, u.opts.AnalysisProfileID)
	if err != nil {
		return nil, fmt.Errorf("analysis profile: %w", err)
	}

	r := &run{
		Uploader: u,
		losses:   losses,
		catalogs: profile.EventCatalogs,
		memo:     newLossSetMemo(),
	}

	log.Info("upload started",
		"layers", len(layers),
		"loss_type", losses.LossType().String(),
		"pool_size", u.opts.PoolSize,
	)
	start := time.Now()

	outcomes := make([]outcome, len(layers))
	var g errgroup.Group
	for i := range layers {
		if err := u.limiter.Acquire(ctx); err != nil {
			for j := i; j < len(layers); j++ {
				outcomes[j] = outcome{err: err}
			}
			break
		}
		i := i
		g.Go(func() error {
			defer u.limiter.Release()
			layer := layers[i]
			res, err := r.uploadLayer(logging.WithLayer(ctx, layer.ID), layer)
			outcomes[i] = outcome{result: res, err: err}
			return nil
		})
	}
	_ = g.Wait()

	result := &Result{BatchID: u.opts.BatchID}
	for i, o := range outcomes {
		if o.err != nil {
			result.Failed = append(result.Failed, LayerFailure{LayerID: layers[i].ID, Err: o.err})
			continue
		}
		result.Uploaded = append(result.Uploaded, o.result)
	}

	log.Info("upload finished",
		"uploaded", len(result.Uploaded),
		"failed", len(result.Failed),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// Limiter returns the pool limiter.
func (u *Uploader) Limiter() *Limiter {
	return u.limiter
}

type outcome struct {
	result UploadResult
	err    error
}

// run is the state shared by the tasks of one Run call.
type run struct {
	*Uploader
	losses   LossSource
	catalogs []remote.Reference
	memo     *lossSetMemo
}

func (r *run) uploadLayer(ctx context.Context, layer core.LayerRecord) (UploadResult, error) {
	log := logging.FromContext(ctx)

	remoteLossSets := make([]string, 0, len(layer.LossSetIDs))
	for _, localID := range layer.LossSetIDs {
		remoteID, err := r.memo.do(localID, func() (string, error) {
			return r.uploadLossSet(ctx, localID, layer)
		})
		if err != nil {
			log.Error("layer failed", "phase", core.PhaseFailed, "loss_set_id", localID, "error", err)
			return UploadResult{}, fmt.Errorf("loss set %s: %w", localID, err)
		}
		if remoteID != "" {
			remoteLossSets = append(remoteLossSets, remoteID)
		}
	}

	created, err := r.platform.CreateLayer(ctx, layerPayload(layer, remoteLossSets, r.opts.BatchID))
	if err != nil {
		log.Error("layer failed", "phase", core.PhaseFailed, "error", err)
		return UploadResult{}, err
	}
	log.Info("layer created", "phase", core.PhaseSucceeded, "type", layer.Type.String(), "remote_id", created.ID)

	return UploadResult{
		LayerID:          layer.ID,
		LossSetIDs:       layer.LossSetIDs,
		RemoteLayerID:    created.ID,
		RemoteLossSetIDs: remoteLossSets,
		Description:      layer.Description,
	}, nil
}

// uploadLossSet creates one loss set, uploads its data and waits for the
// platform to process it. A loss set without rows is skipped and yields "".
func (r *run) uploadLossSet(ctx context.Context, localID string, layer core.LayerRecord) (string, error) {
	log := logging.WithFields(ctx, "loss_set_id", localID)

	data := r.losses.LossSet(localID)
	if data.Len() == 0 {
		log.Warn("no losses for loss set, layer uploaded without it", "phase", core.PhaseSkipped)
		return "", nil
	}

	var buf bytes.Buffer
	if err := data.WriteCSV(&buf); err != nil {
		return "", fmt.Errorf("render loss data: %w", err)
	}

	created, err := r.platform.CreateLossSet(ctx, r.lossSetPayload(localID, layer))
	if err != nil {
		return "", err
	}
	log = log.With("remote_id", created.ID)
	log.Info("loss set created", "phase", core.PhaseCreated)

	log.Info("uploading loss data", "phase", core.PhaseUploadingData, "rows", data.Len(), "bytes", buf.Len())
	if err := r.platform.UploadLossSetData(ctx, created.ID, buf.Bytes()); err != nil {
		return "", err
	}

	log.Info("loss set processing", "phase", core.PhaseProcessing)
	final, err := r.waitForProcessing(ctx, created.ID)
	if err != nil {
		return "", err
	}
	if final.Status == remote.StatusProcessingFailed {
		log.Error("loss set processing failed", "phase", core.PhaseFailed, "status_message", final.StatusMessage)
	} else {
		log.Info("loss set processed", "phase", core.PhaseSucceeded)
	}
	return created.ID, nil
}

func (r *run) lossSetPayload(localID string, layer core.LayerRecord) *remote.LossSet {
	lossType := r.losses.LossType()

	ls := &remote.LossSet{
		Type:          lossType.RemoteType(),
		Description:   lossSetDescription(localID),
		Currency:      r.opts.DefaultCurrency,
		LossType:      r.opts.LossPerspective,
		EventCatalogs: r.catalogs,
		MetaData:      batchMetadata(nil, localID, r.opts.BatchID),
	}
	if layer.LossSetCurrency != "" {
		ls.Currency = layer.LossSetCurrency
	}
	if r.losses.HasReinstatements() {
		ls.LossType = LossNetOfAggregateTerms
	}

	switch lossType {
	case core.LossYELT:
		ls.StartDate = r.opts.DefaultStartDate
		if layer.LossSetStartDate != nil {
			ls.StartDate = layer.LossSetStartDate
		}
		ls.TrialCount = r.opts.TrialCount
	case core.LossYLT:
		ls.TrialCount = r.opts.TrialCount
	}
	return ls
}

// waitForProcessing polls a loss set at a fixed interval until the platform
// reports a final status. Exceeding the poll timeout is fatal for the task.
func (r *run) waitForProcessing(ctx context.Context, id string) (*remote.LossSet, error) {
	pollCtx, cancel := ctx, context.CancelFunc(func() {})
	if r.opts.PollTimeout > 0 {
		pollCtx, cancel = context.WithTimeout(ctx, r.opts.PollTimeout)
	}
	defer cancel()

	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	timeout := func(last string) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &PollTimeoutError{LossSetID: id, Timeout: r.opts.PollTimeout, LastStatus: last}
	}

	last := ""
	for {
		ls, err := r.platform.RetrieveLossSet(pollCtx, id)
		if err != nil {
			if pollCtx.Err() != nil {
				return nil, timeout(last)
			}
			return nil, err
		}
		if ls.Done() {
			return ls, nil
		}
		last = ls.Status

		select {
		case <-pollCtx.Done():
			return nil, timeout(last)
		case <-ticker.C:
		}
	}
}

// lossSetMemo uploads each local loss set at most once per run. Concurrent
// requests for the same id share one upload; later requests get the stored
// outcome, failures included.
type lossSetMemo struct {
	group singleflight.Group

	mu   sync.Mutex
	done map[string]memoEntry
}

type memoEntry struct {
	remoteID string
	err      error
}

func newLossSetMemo() *lossSetMemo {
	return &lossSetMemo{done: make(map[string]memoEntry)}
}

func (m *lossSetMemo) do(localID string, upload func() (string, error)) (string, error) {
	m.mu.Lock()
	if e, ok := m.done[localID]; ok {
		m.mu.Unlock()
		return e.remoteID, e.err
	}
	m.mu.Unlock()

	v, err, _ := m.group.Do(localID, func() (any, error) {
		m.mu.Lock()
		if e, ok := m.done[localID]; ok {
			m.mu.Unlock()
			return e.remoteID, e.err
		}
		m.mu.Unlock()

		id, err := upload()
		m.mu.Lock()
		m.done[localID] = memoEntry{remoteID: id, err: err}
		m.mu.Unlock()
		return id, err
	})
	return v.(string), err
}
