package web

import (
	"context"
	"encoding/json"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/Skilledcamman/Automated-Microscopy/internal/debug"
	"github.com/Skilledcamman/Automated-Microscopy/internal/history"
	"github.com/Skilledcamman/Automated-Microscopy/internal/sweep"
)

// Overrides holds sweep parameters that can override config defaults.
// Zero values fall back to the defaults.
type Overrides struct {
	TotalSteps int64 `json:"total_steps"`
	StepChunk  int64 `json:"step_chunk"`
	RaiseSteps int64 `json:"raise_steps"`
}

// RunAutofocusFunc runs one autofocus sweep with the given overrides.
// It is called from the POST /run handler in a goroutine.
type RunAutofocusFunc func(ctx context.Context, overrides Overrides) (*sweep.Result, error)

// ConsoleFunc forwards one raw protocol line to the controller and returns
// its response lines.
type ConsoleFunc func(cmd string) ([]string, error)

// RunLister reads logged runs for the dashboard.
type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]history.Run, error)
	RunRecords(ctx context.Context, runID int64) ([]sweep.Record, error)
}

// FormConfig holds default values for the sweep form (from config).
type FormConfig struct {
	TotalSteps int64 `json:"total_steps"`
	StepChunk  int64 `json:"step_chunk"`
	RaiseSteps int64 `json:"raise_steps"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster  *StatusBroadcaster
	RunAutofocus RunAutofocusFunc
	Console      ConsoleFunc
	Runs         RunLister // nil when history is disabled
	FormDefaults FormConfig

	runningMu sync.Mutex
	running   bool
	staticFS  fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// If runAutofocus is nil, POST /run returns 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, runAutofocus RunAutofocusFunc, console ConsoleFunc, runs RunLister, formDefaults FormConfig, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster:  broadcaster,
		RunAutofocus: runAutofocus,
		Console:      console,
		Runs:         runs,
		FormDefaults: formDefaults,
		staticFS:     staticFS,
	}
}

// HandleConfig returns the form default values (from config) as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.FormDefaults)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleRun handles POST /run to start an autofocus sweep.
func (h *Handlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	var overrides Overrides
	if err := json.NewDecoder(r.Body).Decode(&overrides); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	if overrides.TotalSteps == 0 {
		overrides.TotalSteps = h.FormDefaults.TotalSteps
	}
	if overrides.StepChunk == 0 {
		overrides.StepChunk = h.FormDefaults.StepChunk
	}
	if overrides.RaiseSteps == 0 {
		overrides.RaiseSteps = h.FormDefaults.RaiseSteps
	}

	if overrides.TotalSteps <= 0 {
		http.Error(w, "total_steps must be > 0", http.StatusBadRequest)
		return
	}
	if overrides.StepChunk <= 0 || overrides.StepChunk > overrides.TotalSteps {
		http.Error(w, "step_chunk must be between 1 and total_steps", http.StatusBadRequest)
		return
	}
	if overrides.RaiseSteps < 0 {
		http.Error(w, "raise_steps must be >= 0", http.StatusBadRequest)
		return
	}

	if h.RunAutofocus == nil {
		http.Error(w, "autofocus not configured", http.StatusServiceUnavailable)
		return
	}

	h.runningMu.Lock()
	if h.running {
		h.runningMu.Unlock()
		http.Error(w, "sweep already in progress", http.StatusConflict)
		return
	}
	h.running = true
	h.runningMu.Unlock()

	// The sweep outlives the request; progress goes out over SSE.
	go func() {
		defer func() {
			h.runningMu.Lock()
			h.running = false
			h.runningMu.Unlock()
		}()

		res, err := h.RunAutofocus(context.Background(), overrides)
		if err != nil {
			h.Broadcaster.Errorf("Sweep failed: %v", err)
			debug.Error(err)
			return
		}
		h.Broadcaster.Infof("Sweep complete: best score %.1f at position %d (%d stops)",
			res.Records[res.BestIndex].Score, res.BestPosition, len(res.Records))
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "started"})
}

// HandleConsole handles POST /console: forward one raw protocol line to the
// controller and return its response lines.
func (h *Handlers) HandleConsole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Command == "" {
		http.Error(w, "invalid JSON, want {\"command\": \"...\"}", http.StatusBadRequest)
		return
	}

	if h.Console == nil {
		http.Error(w, "console not configured", http.StatusServiceUnavailable)
		return
	}

	h.runningMu.Lock()
	busy := h.running
	h.runningMu.Unlock()
	if busy {
		http.Error(w, "sweep in progress, console blocked", http.StatusConflict)
		return
	}

	lines, err := h.Console(req.Command)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"lines": lines})
}

// HandleRuns handles GET /runs: the most recent logged runs as JSON.
func (h *Handlers) HandleRuns(w http.ResponseWriter, r *http.Request) {
	if h.Runs == nil {
		http.Error(w, "run history disabled", http.StatusNotFound)
		return
	}

	runs, err := h.Runs.ListRuns(r.Context(), 50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(runs)
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
