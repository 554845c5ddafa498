// Package server exposes a run's live progress over HTTP while the
// driver works: /healthz for liveness, /api/run for stage states and
// /metrics for the prometheus series.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/labrig/labrig/internal/plan"
)

// StageView is one stage's live state for /api/run.
type StageView struct {
	StageID  string     `json:"stage"`
	Host     string     `json:"host"`
	State    plan.State `json:"state"`
	Attempts int        `json:"attempts,omitempty"`
	Reason   string     `json:"reason,omitempty"`
}

// RunView is the /api/run response body.
type RunView struct {
	RunID     string      `json:"run_id"`
	Lab       string      `json:"lab,omitempty"`
	Plan      string      `json:"plan"`
	StartedAt time.Time   `json:"started_at"`
	Done      bool        `json:"done"`
	Stages    []StageView `json:"stages"`
}

// Tracker accumulates driver events into the live view. It implements
// the engine's Reporter interface, so it tees alongside the log
// reporter and metrics.
type Tracker struct {
	mu     sync.Mutex
	view   RunView
	byID   map[string]int
	sealed int
}

// NewTracker builds a tracker for one run. Every stage starts pending
// so /api/run shows the full plan from the first request.
func NewTracker(runID, lab string, p *plan.Plan) *Tracker {
	t := &Tracker{
		view: RunView{
			RunID:     runID,
			Lab:       lab,
			Plan:      p.Name,
			StartedAt: time.Now().UTC(),
		},
		byID: make(map[string]int, len(p.Stages)),
	}
	for _, s := range p.Stages {
		t.byID[s.ID] = len(t.view.Stages)
		t.view.Stages = append(t.view.Stages, StageView{
			StageID: s.ID,
			Host:    s.Host,
			State:   plan.StatePending,
		})
	}
	return t
}

// Transition updates a stage's live state.
func (t *Tracker) Transition(tr plan.Transition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.byID[tr.StageID]
	if !ok {
		return
	}
	t.view.Stages[i].State = tr.To
	if tr.Attempt > 0 {
		t.view.Stages[i].Attempts = tr.Attempt
	}
}

// Outcome seals a stage in the live view.
func (t *Tracker) Outcome(o plan.Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.byID[o.StageID]
	if !ok {
		return
	}
	t.view.Stages[i].State = o.State
	t.view.Stages[i].Attempts = o.Attempts
	t.view.Stages[i].Reason = o.Reason
	t.sealed++
	t.view.Done = t.sealed == len(t.view.Stages)
}

// Snapshot returns a copy of the live view.
func (t *Tracker) Snapshot() RunView {
	t.mu.Lock()
	defer t.mu.Unlock()
	view := t.view
	view.Stages = append([]StageView(nil), t.view.Stages...)
	return view
}

// NewHandler builds the status router.
func NewHandler(tracker *Tracker, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Get("/api/run", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(tracker.Snapshot()); err != nil {
			http.Error(w, fmt.Sprintf("encode run view: %v", err), http.StatusInternalServerError)
		}
	})

	return r
}

// Serve runs the status endpoint until ctx is cancelled. Startup
// errors (bad address, port in use) land on errs; a clean shutdown
// does not.
func Serve(ctx context.Context, addr string, handler http.Handler, errs chan<- error) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		select {
		case errs <- fmt.Errorf("status server: %w", err):
		default:
		}
	}
}
