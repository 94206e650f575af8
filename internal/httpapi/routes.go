package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"contestbot/internal/delivery"
	"contestbot/internal/pipeline"
	"contestbot/internal/runtime/supervisor"
	"contestbot/internal/scheduler"
	"contestbot/internal/storage"
	logx "contestbot/pkg/logx"
)

// Trigger starts pipeline runs.
type Trigger interface {
	Run(ctx context.Context, trigger string) (pipeline.Report, error)
	Running() bool
	Last() (pipeline.Report, bool)
}

type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]storage.RunRecord, error)
}

// Deps are the components the ops endpoint reports on. Only Pipeline and
// Channel are required.
type Deps struct {
	Pipeline   Trigger
	// Spawn runs background manual runs; nil uses a plain goroutine bound to
	// the server's context.
	Spawn      func(name string, fn func(ctx context.Context))
	Channel    interface{ Snapshot() delivery.Snapshot }
	Runs       RunLister
	Metrics    http.Handler
	Supervisor interface{ Snapshot() supervisor.Snapshot }
	Scheduler  interface{ Snapshot() scheduler.Snapshot }
}

type health struct {
	OK         bool                 `json:"ok"`
	Channel    delivery.Snapshot    `json:"channel"`
	Running    bool                 `json:"running"`
	LastRun    *runView             `json:"last_run,omitempty"`
	Scheduler  *scheduler.Snapshot  `json:"scheduler,omitempty"`
	Supervisor *supervisor.Snapshot `json:"supervisor,omitempty"`
}

type runView struct {
	Trigger        string        `json:"trigger"`
	StartedAt      time.Time     `json:"started_at"`
	Took           time.Duration `json:"took"`
	Fetched        int           `json:"fetched"`
	Selected       int           `json:"selected"`
	SourceFailures []string      `json:"source_failures,omitempty"`
	Reminders      int           `json:"reminders"`
	Delivered      int           `json:"delivered"`
	Recipients     int           `json:"recipients"`
	Error          string        `json:"error,omitempty"`
}

func viewOf(rep pipeline.Report, err error) runView {
	v := runView{
		Trigger:    rep.Trigger,
		StartedAt:  rep.StartedAt,
		Took:       rep.FinishedAt.Sub(rep.StartedAt),
		Fetched:    rep.Fetched,
		Selected:   len(rep.Selected),
		Reminders:  rep.Reminders,
		Delivered:  rep.Summary.SuccessCount,
		Recipients: rep.Summary.TotalCount,
	}
	for _, f := range rep.Failures {
		v.SourceFailures = append(v.SourceFailures, f.Source)
	}
	if err != nil {
		v.Error = err.Error()
	}
	return v
}

func (s *Server) routes(runCtx context.Context, token string, pprof bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Get("/healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}
	r.Get("/runs", s.handleRuns)

	r.Group(func(r chi.Router) {
		r.Use(withToken(token))
		r.Post("/run", s.handleRun(runCtx))
		if pprof {
			r.HandleFunc("/debug/pprof/*", hpprof.Index)
			r.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
			r.HandleFunc("/debug/pprof/profile", hpprof.Profile)
			r.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
			r.HandleFunc("/debug/pprof/trace", hpprof.Trace)
		}
	})
	return r
}

// Handler returns the router without a listener, for embedding and tests.
func (s *Server) Handler(ctx context.Context) http.Handler {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	return s.routes(ctx, cfg.Token, cfg.Pprof)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		if s.log.Enabled(logx.LevelDebug) {
			s.log.Debug("http request",
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", ww.Status()),
				logx.Duration("took", time.Since(start)),
			)
		}
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := health{Running: s.deps.Pipeline.Running()}
	if s.deps.Channel != nil {
		h.Channel = s.deps.Channel.Snapshot()
	}
	h.OK = h.Channel.State != delivery.ClosedTerminal.String()
	if rep, ok := s.deps.Pipeline.Last(); ok {
		v := viewOf(rep, nil)
		h.LastRun = &v
	}
	if s.deps.Scheduler != nil {
		snap := s.deps.Scheduler.Snapshot()
		h.Scheduler = &snap
	}
	if s.deps.Supervisor != nil {
		snap := s.deps.Supervisor.Snapshot()
		h.Supervisor = &snap
	}
	status := http.StatusOK
	if !h.OK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, http.StatusNotFound, "run history disabled")
		return
	}
	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	runs, err := s.deps.Runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.log.Warn("list runs failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	if runs == nil {
		runs = []storage.RunRecord{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleRun starts a manual run. By default it returns 202 and runs in the
// background; ?wait=1 blocks and returns the run's outcome.
func (s *Server) handleRun(runCtx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Pipeline.Running() {
			writeError(w, http.StatusConflict, pipeline.ErrRunInProgress.Error())
			return
		}
		wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
		if !wait {
			run := func(ctx context.Context) {
				if _, err := s.deps.Pipeline.Run(ctx, "http"); err != nil && !errors.Is(err, pipeline.ErrRunInProgress) {
					s.log.Warn("manual run failed", logx.Err(err))
				}
			}
			if s.deps.Spawn != nil {
				s.deps.Spawn("pipeline.http", run)
			} else {
				go run(runCtx)
			}
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
			return
		}

		rep, err := s.deps.Pipeline.Run(r.Context(), "http")
		switch {
		case errors.Is(err, pipeline.ErrRunInProgress):
			writeError(w, http.StatusConflict, err.Error())
		case err != nil:
			writeJSON(w, http.StatusBadGateway, viewOf(rep, err))
		default:
			writeJSON(w, http.StatusOK, viewOf(rep, nil))
		}
	}
}

// withToken accepts "Authorization: Bearer <token>" or ?token=<token>.
func withToken(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("token"); got != "" {
				if got == tok {
					next.ServeHTTP(w, r)
					return
				}
				unauthorized(w)
				return
			}
			const p = "Bearer "
			if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
				next.ServeHTTP(w, r)
				return
			}
			unauthorized(w)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, "unauthorized")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
