package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/autoyield/internal/domain"
	"github.com/vadiminshakov/autoyield/internal/events"
	"github.com/vadiminshakov/autoyield/internal/services/lifecycle"
	"github.com/vadiminshakov/autoyield/internal/services/orchestrator"
)

const (
	snapshotPollInterval = 3 * time.Second
	heartbeatInterval    = 20 * time.Second
	keepLastRecords      = 100
)

type snapshotReader interface {
	SnapshotsAfter(index uint64) ([]domain.OverviewSnapshotRecord, error)
}

type updateSource interface {
	Subscribe() chan events.Update
	Unsubscribe(ch chan events.Update)
}

type historyFetcher interface {
	FetchHistory(ctx context.Context, sess domain.Session) domain.History
}

type transferSurface interface {
	State() orchestrator.State
	Dismiss(sess domain.Session) error
	Acknowledge() error
}

type controlSurface interface {
	Status() lifecycle.Status
	Dismiss() error
	Acknowledge() error
}

// Server exposes the dashboard JSON API and the overview SSE stream.
type Server struct {
	Addr string

	sess         domain.Session
	store        snapshotReader
	updates      updateSource
	history      historyFetcher
	transfer     transferSurface
	controls     controlSurface
	pollInterval time.Duration
	logger       *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithSnapshots replays stored overview snapshots to new stream clients.
func WithSnapshots(store snapshotReader) Option {
	return func(s *Server) {
		s.store = store
	}
}

// WithUpdates forwards live broadcaster updates to stream clients.
func WithUpdates(src updateSource) Option {
	return func(s *Server) {
		s.updates = src
	}
}

// WithHistory serves the rebalance history.
func WithHistory(h historyFetcher) Option {
	return func(s *Server) {
		s.history = h
	}
}

// WithSurfaces exposes the state of the transfer and controls surfaces and lets
// clients dismiss or acknowledge their transactions.
func WithSurfaces(transfer transferSurface, controls controlSurface) Option {
	return func(s *Server) {
		s.transfer = transfer
		s.controls = controls
	}
}

// NewServer creates a dashboard server for one session.
func NewServer(addr string, sess domain.Session, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		Addr:         addr,
		sess:         sess,
		pollInterval: snapshotPollInterval,
		logger:       logger.With(zap.String("component", "dashboard")),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Handler returns the dashboard routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Last-Event-ID"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Get("/overview/stream", s.handleOverviewStream)
	r.Get("/history", s.handleHistory)
	r.Get("/surfaces", s.handleSurfaces)
	r.Post("/surfaces/{surface}/dismiss", func(w http.ResponseWriter, r *http.Request) {
		s.surfaceAction(w, r, true)
	})
	r.Post("/surfaces/{surface}/acknowledge", func(w http.ResponseWriter, r *http.Request) {
		s.surfaceAction(w, r, false)
	})

	return r
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("dashboard listening", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleOverviewStream(w http.ResponseWriter, r *http.Request) {
	if s.store == nil && s.updates == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "overview stream not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// subscribe before the replay so nothing published in between is lost
	var updates chan events.Update
	if s.updates != nil {
		updates = s.updates.Subscribe()
		defer s.updates.Unsubscribe(updates)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(s.pollInterval)
	defer pollTicker.Stop()

	lastIndex := s.parseLastEventID(r.Header.Get("Last-Event-ID"), r.URL.Query().Get("last_event_id"))
	isFirstLoad := lastIndex == 0

	sendSnapshots := func() error {
		if s.store == nil {
			return nil
		}
		records, err := s.store.SnapshotsAfter(lastIndex)
		if err != nil {
			return err
		}

		toSend := records
		if isFirstLoad && len(records) > keepLastRecords {
			toSend = thinRecords(records)
		}
		isFirstLoad = false

		for _, record := range toSend {
			payload, err := json.Marshal(record.Snapshot)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "id: %d\n", record.Index)
			fmt.Fprintf(w, "event: overview\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			lastIndex = record.Index
		}
		return nil
	}

	if err := sendSnapshots(); err != nil {
		s.logger.Error("overview stream initial load", zap.Error(err))
		return
	}

	if lastIndex == 0 {
		fmt.Fprintf(w, "event: no_data\n")
		fmt.Fprintf(w, "data: {}\n\n")
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := sendSnapshots(); err != nil {
				s.logger.Warn("overview stream poll", zap.Error(err))
			}
		case u, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			// stored snapshots already carry overview changes
			if u.Kind == events.KindOverview && s.store != nil {
				continue
			}
			payload, err := json.Marshal(u)
			if err != nil {
				s.logger.Warn("encode update", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: update\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

type historyEntry struct {
	ID        string `json:"id"`
	Block     uint64 `json:"block"`
	Timestamp string `json:"timestamp,omitempty"`
	From      string `json:"from"`
	To        string `json:"to"`
	Amount    string `json:"amount"`
	FromAPY   string `json:"from_apy"`
	ToAPY     string `json:"to_apy"`
	TxHash    string `json:"tx_hash"`
}

type historyError struct {
	Kind    domain.QueryErrorKind `json:"kind"`
	Message string                `json:"message"`
}

type historyResponse struct {
	Source domain.HistorySource `json:"source"`
	Error  *historyError        `json:"error,omitempty"`
	Events []historyEntry       `json:"events"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "history not available", http.StatusServiceUnavailable)
		return
	}

	h := s.history.FetchHistory(r.Context(), s.sess)

	resp := historyResponse{Source: h.Source, Events: make([]historyEntry, 0, len(h.Events))}
	if h.Err != nil {
		resp.Error = &historyError{Kind: h.Err.Kind, Message: h.Err.Error()}
	}
	for _, ev := range h.Events {
		entry := historyEntry{
			ID:      ev.ID,
			Block:   ev.BlockNumber,
			From:    ev.From.Label(),
			To:      ev.To.Label(),
			Amount:  ev.Amount.Display(domain.DefaultDisplayPrecision),
			FromAPY: domain.FormatAPY(ev.FromAPY),
			ToAPY:   domain.FormatAPY(ev.ToAPY),
			TxHash:  ev.TxHash.Hex(),
		}
		if !ev.Timestamp.IsZero() {
			entry.Timestamp = ev.Timestamp.UTC().Format(time.RFC3339)
		}
		resp.Events = append(resp.Events, entry)
	}

	s.writeJSON(w, resp)
}

type surfacesResponse struct {
	Transfer *orchestrator.State `json:"transfer,omitempty"`
	Controls *lifecycle.Status   `json:"controls,omitempty"`
}

func (s *Server) handleSurfaces(w http.ResponseWriter, _ *http.Request) {
	var resp surfacesResponse
	if s.transfer != nil {
		st := s.transfer.State()
		resp.Transfer = &st
	}
	if s.controls != nil {
		st := s.controls.Status()
		resp.Controls = &st
	}
	s.writeJSON(w, resp)
}

// surfaceAction dismisses a finished handle or acknowledges a stuck one and
// answers with the new state of both surfaces.
func (s *Server) surfaceAction(w http.ResponseWriter, r *http.Request, dismiss bool) {
	surface, err := domain.ParseSurface(chi.URLParam(r, "surface"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	var act func() error
	switch {
	case surface == domain.SurfaceTransfer && s.transfer != nil:
		act = s.transfer.Acknowledge
		if dismiss {
			act = func() error { return s.transfer.Dismiss(s.sess) }
		}
	case surface == domain.SurfaceControls && s.controls != nil:
		act = s.controls.Acknowledge
		if dismiss {
			act = s.controls.Dismiss
		}
	default:
		http.Error(w, fmt.Sprintf("surface %s is not served", surface), http.StatusNotFound)
		return
	}

	if err := act(); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrHandleInFlight) || errors.Is(err, domain.ErrNothingPending) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}

	s.logger.Info("surface action", zap.String("surface", string(surface)), zap.Bool("dismiss", dismiss))
	s.handleSurfaces(w, r)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encode response", zap.Error(err))
	}
}

// parseLastEventID prefers the Last-Event-ID header; the query parameter lets a
// manual reconnect resume from a known index.
func (s *Server) parseLastEventID(headerVal, queryVal string) uint64 {
	idStr := strings.TrimSpace(headerVal)
	if idStr == "" {
		idStr = strings.TrimSpace(queryVal)
	}
	if idStr == "" {
		return 0
	}

	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		s.logger.Debug("invalid last event id", zap.String("id", idStr), zap.Error(err))
		return 0
	}
	return id
}

// thinRecords keeps the newest records as is and exponentially thins the older ones.
func thinRecords(records []domain.OverviewSnapshotRecord) []domain.OverviewSnapshotRecord {
	if len(records) <= keepLastRecords {
		return records
	}

	older := records[:len(records)-keepLastRecords]
	var thinned []domain.OverviewSnapshotRecord

	skip := 1
	for i := len(older) - 1; i >= 0; i-- {
		thinned = append([]domain.OverviewSnapshotRecord{older[i]}, thinned...)
		i -= skip
		if (len(older)-1-i)%12 == 0 {
			skip *= 2
		}
	}

	return append(thinned, records[len(records)-keepLastRecords:]...)
}
