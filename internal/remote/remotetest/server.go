// Package remotetest provides an in-process HTTP server implementing the
// subset of the platform API used by remote.Client.
//
// Failures are injected per loss set or layer description so tests can make
// selected uploads fail while their siblings succeed.
package remotetest

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/JonMunkholm/batchupload/internal/logging"
	"github.com/JonMunkholm/batchupload/internal/remote"
)

// StatusProcessing is reported while loss data is being processed.
const StatusProcessing = "processing"

var contentRange = regexp.MustCompile(`^bytes (\d+)-(\d+)/(\d+)$`)

// Server is a fake platform. Create it with NewServer and Close it when done.
type Server struct {
	// URL is the API root, with a trailing slash.
	URL string

	username string
	password string
	http     *httptest.Server
	router   *chi.Mux

	mu           sync.Mutex
	profiles     map[string]remote.AnalysisProfile
	lossSets     map[string]*lossSetState
	lossSetOrder []string
	layers       map[string]*remote.Layer
	layerOrder   []string
	requests     map[string]int

	failCreate     map[string]bool
	failProcessing map[string]string
	stall          map[string]bool
	pendingPolls   int
	failNext       int
	failNextStatus int
}

type lossSetState struct {
	ls        remote.LossSet
	upload    []byte
	data      []byte
	committed bool
	polls     int
}

// NewServer starts a fake platform accepting the given basic auth
// credentials.
func NewServer(username, password string) *Server {
	s := &Server{
		username:       username,
		password:       password,
		router:         chi.NewRouter(),
		profiles:       make(map[string]remote.AnalysisProfile),
		lossSets:       make(map[string]*lossSetState),
		layers:         make(map[string]*remote.Layer),
		requests:       make(map[string]int),
		failCreate:     make(map[string]bool),
		failProcessing: make(map[string]string),
		stall:          make(map[string]bool),
	}
	s.setupMiddleware()
	s.setupRoutes()

	s.http = httptest.NewServer(s.router)
	s.URL = s.http.URL + "/"
	return s
}

// Close shuts the server down.
func (s *Server) Close() {
	s.http.Close()
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.logRequests)
	s.router.Use(s.basicAuth)
	s.router.Use(s.injectFailures)
}

func (s *Server) setupRoutes() {
	s.router.Get("/event_catalogs/", s.handleListEventCatalogs)
	s.router.Get("/analysis_profiles/{id}", s.handleGetProfile)

	s.router.Post("/loss_sets/", s.handleCreateLossSet)
	s.router.Get("/loss_sets/{id}", s.handleGetLossSet)
	s.router.Post("/loss_sets/{id}/data", s.handleOpenUpload)
	s.router.Patch("/loss_sets/{id}/data", s.handleUploadChunk)
	s.router.Post("/loss_sets/{id}/data/commit", s.handleCommit)
	s.router.Get("/loss_sets/{id}/data", s.handleDownload)

	s.router.Post("/layers/", s.handleCreateLayer)
	s.router.Get("/layers/{id}", s.handleGetLayer)
}

// AddProfile registers an analysis profile with one event catalog.
func (s *Server) AddProfile(id string) remote.AnalysisProfile {
	p := remote.AnalysisProfile{
		ID:            id,
		Description:   "profile " + id,
		EventCatalogs: []remote.Reference{remote.Ref(uuid.NewString())},
	}
	s.mu.Lock()
	s.profiles[id] = p
	s.mu.Unlock()
	return p
}

// FailCreate makes creation of loss sets or layers with the given
// description fail with 400.
func (s *Server) FailCreate(description string) {
	s.mu.Lock()
	s.failCreate[description] = true
	s.mu.Unlock()
}

// FailProcessing makes the loss set with the given description finish with
// processing_failed and the given status message.
func (s *Server) FailProcessing(description, message string) {
	s.mu.Lock()
	s.failProcessing[description] = message
	s.mu.Unlock()
}

// StallProcessing keeps the loss set with the given description processing
// forever.
func (s *Server) StallProcessing(description string) {
	s.mu.Lock()
	s.stall[description] = true
	s.mu.Unlock()
}

// SetPendingPolls sets how many retrievals of a committed loss set report
// it as still processing.
func (s *Server) SetPendingPolls(n int) {
	s.mu.Lock()
	s.pendingPolls = n
	s.mu.Unlock()
}

// FailNext answers the next n authenticated requests with status.
func (s *Server) FailNext(n, status int) {
	s.mu.Lock()
	s.failNext = n
	s.failNextStatus = status
	s.mu.Unlock()
}

// LossSets returns the created loss sets in creation order.
func (s *Server) LossSets() []remote.LossSet {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]remote.LossSet, 0, len(s.lossSetOrder))
	for _, id := range s.lossSetOrder {
		out = append(out, s.lossSets[id].ls)
	}
	return out
}

// Layers returns the created layers in creation order.
func (s *Server) Layers() []remote.Layer {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]remote.Layer, 0, len(s.layerOrder))
	for _, id := range s.layerOrder {
		out = append(out, *s.layers[id])
	}
	return out
}

// Data returns the committed loss data of a loss set.
func (s *Server) Data(id string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.lossSets[id]; ok {
		return append([]byte(nil), st.data...)
	}
	return nil
}

// Requests returns how often a route was served, e.g.
// Requests("PATCH", "/loss_sets/{id}/data").
func (s *Server) Requests(method, pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[method+" "+pattern]
}

// logRequests logs each request and counts it by route pattern.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		pattern := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			pattern = rctx.RoutePattern()
		}
		s.mu.Lock()
		s.requests[r.Method+" "+pattern]++
		s.mu.Unlock()

		logging.FromContext(r.Context()).Debug("fake platform request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(s.username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(s.password)) != 1 {
			respondError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		fail := s.failNext > 0
		status := s.failNextStatus
		if fail {
			s.failNext--
		}
		s.mu.Unlock()

		if fail {
			respondError(w, status, "injected failure")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleListEventCatalogs(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, []any{})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	p, ok := s.profiles[chi.URLParam(r, "id")]
	s.mu.Unlock()

	if !ok {
		respondError(w, http.StatusNotFound, "analysis profile not found")
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleCreateLossSet(w http.ResponseWriter, r *http.Request) {
	var ls remote.LossSet
	if err := json.NewDecoder(r.Body).Decode(&ls); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if msg := validateLossSet(ls); msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failCreate[ls.Description] {
		respondError(w, http.StatusBadRequest, "loss set rejected")
		return
	}
	ls.ID = uuid.NewString()
	ls.Status = ""
	s.lossSets[ls.ID] = &lossSetState{ls: ls}
	s.lossSetOrder = append(s.lossSetOrder, ls.ID)
	respondJSON(w, http.StatusCreated, ls)
}

func validateLossSet(ls remote.LossSet) string {
	switch ls.Type {
	case "ELTLossSet":
	case "YELTLossSet":
		if ls.StartDate == nil {
			return "start_date is required"
		}
		if ls.TrialCount <= 0 {
			return "trial_count is required"
		}
	case "YLTLossSet":
		if ls.TrialCount <= 0 {
			return "trial_count is required"
		}
	default:
		return fmt.Sprintf("unsupported loss set type %q", ls.Type)
	}
	if len(ls.EventCatalogs) == 0 {
		return "event_catalogs is required"
	}
	return ""
}

func (s *Server) handleGetLossSet(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.lossSets[chi.URLParam(r, "id")]
	if !ok {
		respondError(w, http.StatusNotFound, "loss set not found")
		return
	}
	if st.committed && st.ls.Status == StatusProcessing && !s.stall[st.ls.Description] {
		st.polls++
		if st.polls > s.pendingPolls {
			s.finishProcessing(st)
		}
	}
	respondJSON(w, http.StatusOK, st.ls)
}

// finishProcessing moves a committed loss set to its final status.
func (s *Server) finishProcessing(st *lossSetState) {
	if msg, ok := s.failProcessing[st.ls.Description]; ok {
		st.ls.Status = remote.StatusProcessingFailed
		st.ls.StatusMessage = msg
		return
	}
	st.ls.Status = remote.StatusProcessingSucceeded
	st.ls.StatusMessage = ""
}

func (s *Server) handleOpenUpload(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.lossSets[chi.URLParam(r, "id")]
	if !ok {
		respondError(w, http.StatusNotFound, "loss set not found")
		return
	}
	st.upload = nil
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	m := contentRange.FindStringSubmatch(r.Header.Get("Content-Range"))
	if m == nil {
		respondError(w, http.StatusBadRequest, "missing or invalid Content-Range")
		return
	}
	start, _ := strconv.Atoi(m[1])
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.lossSets[chi.URLParam(r, "id")]
	if !ok {
		respondError(w, http.StatusNotFound, "loss set not found")
		return
	}
	if start != len(st.upload) {
		respondError(w, http.StatusRequestedRangeNotSatisfiable,
			fmt.Sprintf("chunk starts at %d, expected %d", start, len(st.upload)))
		return
	}
	st.upload = append(st.upload, body...)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.lossSets[chi.URLParam(r, "id")]
	if !ok {
		respondError(w, http.StatusNotFound, "loss set not found")
		return
	}
	st.data = st.upload
	st.upload = nil
	st.committed = true
	st.polls = 0
	st.ls.Status = StatusProcessing
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	st, ok := s.lossSets[chi.URLParam(r, "id")]
	var data []byte
	if ok {
		data = append([]byte(nil), st.data...)
	}
	s.mu.Unlock()

	if !ok || data == nil {
		respondError(w, http.StatusNotFound, "loss data not found")
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Write(data)
}

func (s *Server) handleCreateLayer(w http.ResponseWriter, r *http.Request) {
	var l remote.Layer
	if err := json.NewDecoder(r.Body).Decode(&l); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failCreate[l.Description] {
		respondError(w, http.StatusBadRequest, "layer rejected")
		return
	}
	for _, ref := range l.LossSets {
		if _, ok := s.lossSets[ref.RefID]; !ok {
			respondError(w, http.StatusBadRequest, "unknown loss set "+ref.RefID)
			return
		}
	}
	l.ID = uuid.NewString()
	s.layers[l.ID] = &l
	s.layerOrder = append(s.layerOrder, l.ID)
	respondJSON(w, http.StatusCreated, l)
}

func (s *Server) handleGetLayer(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	l, ok := s.layers[chi.URLParam(r, "id")]
	s.mu.Unlock()

	if !ok {
		respondError(w, http.StatusNotFound, "layer not found")
		return
	}
	respondJSON(w, http.StatusOK, l)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"message": message})
}
