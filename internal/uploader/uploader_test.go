package uploader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/batchupload/internal/core"
	"github.com/JonMunkholm/batchupload/internal/remote"
	"github.com/JonMunkholm/batchupload/internal/remote/remotetest"
)

const testProfile = "ap-1"

func newPlatform(t *testing.T) (*remotetest.Server, *remote.Client) {
	t.Helper()
	srv := remotetest.NewServer("user", "secret")
	t.Cleanup(srv.Close)
	srv.AddProfile(testProfile)

	client, err := remote.NewClient(srv.URL,
		remote.WithCredentials("user", "secret"),
		remote.WithRetryBackoff(time.Millisecond),
	)
	require.NoError(t, err)
	return srv, client
}

func testOptions() Options {
	return Options{
		BatchID:           "ABCDEF",
		DefaultCurrency:   "USD",
		AnalysisProfileID: testProfile,
		PoolSize:          2,
		PollInterval:      time.Millisecond,
		PollTimeout:       5 * time.Second,
	}
}

func lossSchema(t *testing.T) core.ColumnSchema {
	t.Helper()
	schema, err := core.NewColumnSchema("loss_set_columns", nil)
	require.NoError(t, err)
	return schema
}

// eltLosses builds ELT losses from (loss_set_id, event_id, loss) rows.
func eltLosses(t *testing.T, rows ...[]any) *core.LossExtractor {
	t.Helper()
	table, err := core.NewTable([]string{"loss_set_id", "event_id", "loss"}, rows)
	require.NoError(t, err)
	x, err := core.NewLossExtractor(table, core.LossELT, lossSchema(t))
	require.NoError(t, err)
	return x
}

func layer(id string, lossSets ...string) core.LayerRecord {
	if len(lossSets) == 0 {
		lossSets = []string{id}
	}
	return core.LayerRecord{
		ID:          id,
		Type:        core.LayerGeneric,
		Description: "Layer " + id,
		LossSetIDs:  lossSets,
		Currency:    "USD",
	}
}

func TestRun_OneFailingUpload(t *testing.T) {
	srv, client := newPlatform(t)
	srv.FailCreate(lossSetDescription("L2"))

	losses := eltLosses(t,
		[]any{"L1", "2", "200"},
		[]any{"L1", "1", "100"},
		[]any{"L2", "1", "50"},
		[]any{"L3", "7", "70"},
	)
	layers := []core.LayerRecord{layer("L1"), layer("L2"), layer("L3")}

	result, err := New(client, testOptions()).Run(context.Background(), layers, losses)
	require.NoError(t, err)

	require.Len(t, result.Uploaded, 2)
	assert.Equal(t, "L1", result.Uploaded[0].LayerID)
	assert.Equal(t, "L3", result.Uploaded[1].LayerID)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "L2", result.Failed[0].LayerID)

	runErr := result.Err()
	require.Error(t, runErr)
	assert.Contains(t, runErr.Error(), "layer L2")
	code, ok := core.CodeOf(runErr)
	assert.True(t, ok)
	assert.Equal(t, core.CodeRemoteFailed, code)

	assert.Len(t, srv.Layers(), 2)
	assert.Len(t, srv.LossSets(), 2)

	// Loss data is sorted and renamed.
	l1 := result.Uploaded[0]
	require.Len(t, l1.RemoteLossSetIDs, 1)
	assert.Equal(t, "EventId,Loss\n1,100\n2,200\n", string(srv.Data(l1.RemoteLossSetIDs[0])))
}

func TestRun_ZeroRowLossSetSkipped(t *testing.T) {
	srv, client := newPlatform(t)

	losses := eltLosses(t, []any{"L1", "1", "100"})
	layers := []core.LayerRecord{layer("L1"), layer("L2", "nothing")}

	result, err := New(client, testOptions()).Run(context.Background(), layers, losses)
	require.NoError(t, err)
	require.NoError(t, result.Err())
	require.Len(t, result.Uploaded, 2)

	skipped := result.Uploaded[1]
	assert.Equal(t, []string{"nothing"}, skipped.LossSetIDs)
	assert.Empty(t, skipped.RemoteLossSetIDs)
	assert.NotEmpty(t, skipped.RemoteLayerID)
	assert.Len(t, srv.LossSets(), 1)
}

func TestRun_SharedLossSetUploadedOnce(t *testing.T) {
	srv, client := newPlatform(t)
	srv.SetPendingPolls(3)

	losses := eltLosses(t, []any{"LS", "1", "100"})
	layers := []core.LayerRecord{layer("L1", "LS"), layer("L2", "LS"), layer("L3", "LS"), layer("L4", "LS")}

	opts := testOptions()
	opts.PoolSize = 4
	result, err := New(client, opts).Run(context.Background(), layers, losses)
	require.NoError(t, err)
	require.NoError(t, result.Err())

	require.Len(t, srv.LossSets(), 1)
	remoteID := srv.LossSets()[0].ID
	for _, r := range result.Uploaded {
		assert.Equal(t, []string{remoteID}, r.RemoteLossSetIDs, "layer %s", r.LayerID)
	}
	assert.Len(t, srv.Layers(), 4)
}

func TestRun_PollTimeout(t *testing.T) {
	srv, client := newPlatform(t)
	srv.StallProcessing(lossSetDescription("L1"))

	losses := eltLosses(t, []any{"L1", "1", "100"}, []any{"L2", "1", "100"})
	opts := testOptions()
	opts.PollTimeout = 50 * time.Millisecond

	result, err := New(client, opts).Run(context.Background(), []core.LayerRecord{layer("L1"), layer("L2")}, losses)
	require.NoError(t, err)

	require.Len(t, result.Failed, 1)
	assert.Equal(t, "L1", result.Failed[0].LayerID)
	assert.True(t, errors.Is(result.Failed[0].Err, ErrPollTimeout), "error = %v", result.Failed[0].Err)

	var pte *PollTimeoutError
	require.True(t, errors.As(result.Failed[0].Err, &pte))
	assert.Equal(t, remotetest.StatusProcessing, pte.LastStatus)

	code, _ := core.CodeOf(result.Err())
	assert.Equal(t, core.CodeTimeout, code)

	require.Len(t, result.Uploaded, 1)
	assert.Equal(t, "L2", result.Uploaded[0].LayerID)
	assert.Len(t, srv.Layers(), 1)
}

func TestRun_ProcessingFailedIsNotFatal(t *testing.T) {
	srv, client := newPlatform(t)
	srv.FailProcessing(lossSetDescription("L1"), "bad event ids")

	losses := eltLosses(t, []any{"L1", "1", "100"})
	result, err := New(client, testOptions()).Run(context.Background(), []core.LayerRecord{layer("L1")}, losses)
	require.NoError(t, err)
	require.NoError(t, result.Err())

	require.Len(t, result.Uploaded, 1)
	require.Len(t, srv.LossSets(), 1)
	assert.Equal(t, remote.StatusProcessingFailed, srv.LossSets()[0].Status)
	assert.Equal(t, []string{srv.LossSets()[0].ID}, result.Uploaded[0].RemoteLossSetIDs)
}

func TestRun_LossSetPayload(t *testing.T) {
	srv, client := newPlatform(t)

	table, err := core.NewTable(
		[]string{"loss_set_id", "trial_id", "day", "event_id", "loss", "reinstatement_premium", "reinstatement_brokerage"},
		[][]any{
			{"L1", "2", "5", "9", "10", "1", "0"},
			{"L1", "1", "3", "4", "20", "2", "0.1"},
			{"L2", "1", "1", "1", "5", "0", "0"},
		},
	)
	require.NoError(t, err)
	losses, err := core.NewLossExtractor(table, core.LossYELT, lossSchema(t))
	require.NoError(t, err)

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	override := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	l2 := layer("L2")
	l2.LossSetCurrency = "EUR"
	l2.LossSetStartDate = &override

	opts := testOptions()
	opts.PoolSize = 1
	opts.DefaultStartDate = &start
	opts.TrialCount = 10000

	result, err := New(client, opts).Run(context.Background(), []core.LayerRecord{layer("L1"), l2}, losses)
	require.NoError(t, err)
	require.NoError(t, result.Err())

	lossSets := srv.LossSets()
	require.Len(t, lossSets, 2)

	first := lossSets[0]
	assert.Equal(t, "YELTLossSet", first.Type)
	assert.Equal(t, "Loss Set for Layer L1", first.Description)
	assert.Equal(t, "USD", first.Currency)
	assert.Equal(t, LossNetOfAggregateTerms, first.LossType)
	assert.Equal(t, 10000, first.TrialCount)
	require.NotNil(t, first.StartDate)
	assert.True(t, first.StartDate.Equal(start))
	assert.Equal(t, "ABCDEF", first.MetaData[MetaBatchID])
	assert.Equal(t, "L1", first.MetaData[MetaBatchLayerID])
	assert.NotEmpty(t, first.EventCatalogs)

	second := lossSets[1]
	assert.Equal(t, "EUR", second.Currency)
	assert.True(t, second.StartDate.Equal(override))

	data := string(srv.Data(first.ID))
	assert.Equal(t, "Trial,Day,EventId,Loss,ReinstatementPremium,ReinstatementBrokerage\n1,3,4,20,2,0.1\n2,5,9,10,1,0\n", data)
}

func TestRun_PoolBound(t *testing.T) {
	var rows [][]any
	var layers []core.LayerRecord
	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("L%02d", i)
		rows = append(rows, []any{id, "1", "1"})
		layers = append(layers, layer(id))
	}

	u := New(remote.NewMemory(), testOptions())
	result, err := u.Run(context.Background(), layers, eltLosses(t, rows...))
	require.NoError(t, err)
	require.NoError(t, result.Err())

	assert.Len(t, result.Uploaded, 12)
	assert.LessOrEqual(t, u.Limiter().Peak(), 2)
	assert.Equal(t, 0, u.Limiter().ActiveCount())
	for i, r := range result.Uploaded {
		assert.Equal(t, layers[i].ID, r.LayerID, "results keep input order")
	}
}

func TestRun_MissingAnalysisProfile(t *testing.T) {
	srv, client := newPlatform(t)

	opts := testOptions()
	opts.AnalysisProfileID = "unknown"
	_, err := New(client, opts).Run(context.Background(), []core.LayerRecord{layer("L1")}, eltLosses(t, []any{"L1", "1", "1"}))
	require.Error(t, err)
	assert.ErrorIs(t, err, remote.ErrNotFound)
	assert.Empty(t, srv.LossSets())
}

func TestRun_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opts := testOptions()
	opts.PoolSize = 1
	u := New(remote.NewMemory(), opts)

	result, err := u.Run(ctx, []core.LayerRecord{layer("L1"), layer("L2")}, eltLosses(t, []any{"L1", "1", "1"}))
	require.NoError(t, err)
	assert.Empty(t, result.Uploaded)
	require.Len(t, result.Failed, 2)
	assert.ErrorIs(t, result.Failed[0].Err, context.Canceled)
}

func TestPreflight(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		lossType core.LossType
		modify   func(*Options)
		wantKey  string
	}{
		{name: "elt needs nothing extra", lossType: core.LossELT},
		{name: "ylt needs trial count", lossType: core.LossYLT, wantKey: "trial_count"},
		{name: "ylt with trial count", lossType: core.LossYLT, modify: func(o *Options) { o.TrialCount = 10 }},
		{name: "yelt needs start date", lossType: core.LossYELT, modify: func(o *Options) { o.TrialCount = 10 }, wantKey: "start_date"},
		{name: "yelt needs trial count", lossType: core.LossYELT, modify: func(o *Options) { o.DefaultStartDate = &start }, wantKey: "trial_count"},
		{name: "yelt complete", lossType: core.LossYELT, modify: func(o *Options) { o.TrialCount = 10; o.DefaultStartDate = &start }},
		{name: "profile required", lossType: core.LossELT, modify: func(o *Options) { o.AnalysisProfileID = "" }, wantKey: "analysis_profile_uuid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			if tt.modify != nil {
				tt.modify(&opts)
			}
			err := opts.Preflight(nil, tt.lossType)
			if tt.wantKey == "" {
				assert.NoError(t, err)
				return
			}
			var ce *core.ConfigError
			require.True(t, errors.As(err, &ce), "error = %v", err)
			assert.Equal(t, tt.wantKey, ce.Key)
		})
	}
}

func TestLossSetMemo_FailureShared(t *testing.T) {
	m := newLossSetMemo()
	calls := 0
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		_, err := m.do("LS", func() (string, error) {
			calls++
			return "", boom
		})
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, 1, calls)

	id, err := m.do("OK", func() (string, error) { return "remote-1", nil })
	require.NoError(t, err)
	assert.Equal(t, "remote-1", id)
}

func TestResult_ErrNilWhenAllUploaded(t *testing.T) {
	r := &Result{Uploaded: []UploadResult{{LayerID: "L1"}}}
	assert.NoError(t, r.Err())

	r.Failed = []LayerFailure{{LayerID: "L2", Err: errors.New("x")}, {LayerID: "L3", Err: errors.New("y")}}
	err := r.Err()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "layer L2") && strings.Contains(err.Error(), "layer L3"))
}

func TestPreflight_SharedLossSets(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	later := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	withCurrency := func(l core.LayerRecord, ccy string) core.LayerRecord {
		l.LossSetCurrency = ccy
		return l
	}
	withStart := func(l core.LayerRecord, d time.Time) core.LayerRecord {
		l.LossSetStartDate = &d
		return l
	}

	tests := []struct {
		name      string
		lossType  core.LossType
		layers    []core.LayerRecord
		wantField string
	}{
		{
			name:      "different currencies",
			lossType:  core.LossELT,
			layers:    []core.LayerRecord{withCurrency(layer("L1", "LS1"), "EUR"), withCurrency(layer("L2", "LS1"), "GBP")},
			wantField: core.FieldLossSetCurrency,
		},
		{
			name:      "override against default",
			lossType:  core.LossELT,
			layers:    []core.LayerRecord{layer("L1", "LS1"), withCurrency(layer("L2", "LS1"), "EUR")},
			wantField: core.FieldLossSetCurrency,
		},
		{
			name:     "override equal to default",
			lossType: core.LossELT,
			layers:   []core.LayerRecord{layer("L1", "LS1"), withCurrency(layer("L2", "LS1"), "USD")},
		},
		{
			name:      "different start dates",
			lossType:  core.LossYELT,
			layers:    []core.LayerRecord{withStart(layer("L1", "LS1"), later), layer("L2", "LS1")},
			wantField: core.FieldLossSetStartDate,
		},
		{
			name:     "start dates ignored outside yelt",
			lossType: core.LossYLT,
			layers:   []core.LayerRecord{withStart(layer("L1", "LS1"), later), layer("L2", "LS1")},
		},
		{
			name:     "separate loss sets",
			lossType: core.LossELT,
			layers:   []core.LayerRecord{withCurrency(layer("L1"), "EUR"), withCurrency(layer("L2"), "GBP")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			opts.TrialCount = 10
			opts.DefaultStartDate = &start

			err := opts.Preflight(tt.layers, tt.lossType)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var ve *core.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.wantField, ve.Field)
			assert.Equal(t, "LS1", ve.Value)
			assert.ErrorIs(t, err, ErrConflictingLossSet)
		})
	}
}

func TestRun_SharedLossSetCurrencyConflict(t *testing.T) {
	srv, client := newPlatform(t)

	l1 := layer("L1", "LS1")
	l1.LossSetCurrency = "EUR"
	l2 := layer("L2", "LS1")
	l2.LossSetCurrency = "GBP"

	_, err := New(client, testOptions()).Run(context.Background(), []core.LayerRecord{l1, l2}, eltLosses(t, []any{"LS1", "1", "100"}))
	require.ErrorIs(t, err, ErrConflictingLossSet)
	assert.Empty(t, srv.LossSets())
	assert.Equal(t, 0, srv.Requests("GET", "/analysis_profiles/{id}"))
}
