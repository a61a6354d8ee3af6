package remote

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process platform. Loss sets finish processing as soon as
// their data is committed. Used for dry runs.
type Memory struct {
	mu       sync.Mutex
	profiles map[string]AnalysisProfile
	lossSets map[string]*LossSet
	data     map[string][]byte
	layers   map[string]*Layer
}

// NewMemory returns an empty in-process platform. Any analysis profile id
// resolves to a profile with a single event catalog.
func NewMemory() *Memory {
	return &Memory{
		profiles: make(map[string]AnalysisProfile),
		lossSets: make(map[string]*LossSet),
		data:     make(map[string][]byte),
		layers:   make(map[string]*Layer),
	}
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) AnalysisProfile(_ context.Context, id string) (*AnalysisProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[id]
	if !ok {
		p = AnalysisProfile{
			ID:            id,
			Description:   "dry run profile",
			EventCatalogs: []Reference{Ref(uuid.NewString())},
		}
		m.profiles[id] = p
	}
	return &p, nil
}

func (m *Memory) CreateLossSet(_ context.Context, ls *LossSet) (*LossSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	saved := *ls
	saved.ID = uuid.NewString()
	saved.Status = ""
	m.lossSets[saved.ID] = &saved

	slog.Info("dry run: loss set saved", "description", saved.Description, "remote_id", saved.ID)
	out := saved
	return &out, nil
}

func (m *Memory) RetrieveLossSet(_ context.Context, id string) (*LossSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ls, ok := m.lossSets[id]
	if !ok {
		return nil, m.notFound("loss_sets/" + id)
	}
	out := *ls
	return &out, nil
}

func (m *Memory) UploadLossSetData(_ context.Context, id string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ls, ok := m.lossSets[id]
	if !ok {
		return m.notFound("loss_sets/" + id + "/data")
	}
	m.data[id] = append([]byte(nil), data...)
	ls.Status = StatusProcessingSucceeded

	slog.Info("dry run: loss data uploaded", "description", ls.Description, "bytes", len(data))
	return nil
}

func (m *Memory) DownloadLossSetData(_ context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.data[id]
	if !ok {
		return nil, m.notFound("loss_sets/" + id + "/data")
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) CreateLayer(_ context.Context, l *Layer) (*Layer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ref := range l.LossSets {
		if _, ok := m.lossSets[ref.RefID]; !ok {
			return nil, &APIError{
				StatusCode: http.StatusBadRequest,
				Method:     http.MethodPost,
				Path:       "layers/",
				Body:       fmt.Sprintf("unknown loss set %s", ref.RefID),
			}
		}
	}

	saved := *l
	saved.ID = uuid.NewString()
	m.layers[saved.ID] = &saved

	slog.Info("dry run: layer saved", "description", saved.Description, "type", saved.Type, "remote_id", saved.ID)
	out := saved
	return &out, nil
}

func (m *Memory) RetrieveLayer(_ context.Context, id string) (*Layer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.layers[id]
	if !ok {
		return nil, m.notFound("layers/" + id)
	}
	out := *l
	return &out, nil
}

// Counts returns the number of stored loss sets and layers.
func (m *Memory) Counts() (lossSets, layers int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lossSets), len(m.layers)
}

func (m *Memory) notFound(path string) error {
	return &APIError{StatusCode: http.StatusNotFound, Method: http.MethodGet, Path: path}
}
