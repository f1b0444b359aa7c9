// Package health serves liveness and readiness for the saga services.
package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

type CheckResult struct {
	Status  Status        `json:"status"`
	Latency time.Duration `json:"latency"`
	Message string        `json:"message,omitempty"`
}

type Response struct {
	Status       Status                 `json:"status"`
	Dependencies map[string]CheckResult `json:"dependencies,omitempty"`
}

type Health struct {
	mu       sync.RWMutex
	checkers []Checker
	ready    atomic.Bool
	timeout  time.Duration
}

const defaultCheckTimeout = 2 * time.Second

func New() *Health {
	return &Health{timeout: defaultCheckTimeout}
}

func (h *Health) Register(checkers ...Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range checkers {
		if c != nil {
			h.checkers = append(h.checkers, c)
		}
	}
}

func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

func (h *Health) IsReady() bool {
	return h.ready.Load()
}

func (h *Health) Live() Response {
	return Response{Status: StatusUp}
}

// Ready is down until SetReady(true) and degraded while any dependency is down.
func (h *Health) Ready(ctx context.Context) Response {
	deps := h.runChecks(ctx)
	if !h.IsReady() {
		return Response{Status: StatusDown, Dependencies: deps}
	}
	return Response{Status: summarize(deps), Dependencies: deps}
}

func (h *Health) runChecks(ctx context.Context) map[string]CheckResult {
	h.mu.RLock()
	checkers := append([]Checker(nil), h.checkers...)
	h.mu.RUnlock()
	if len(checkers) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	results := make(map[string]CheckResult, len(checkers))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, c := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			res := h.checkOne(ctx, c)
			mu.Lock()
			results[c.Name()] = res
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return results
}

func (h *Health) checkOne(parent context.Context, c Checker) CheckResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, h.timeout)
	defer cancel()

	resCh := make(chan CheckResult, 1)
	go func() { resCh <- c.Check(ctx) }()

	var res CheckResult
	select {
	case res = <-resCh:
	case <-ctx.Done():
		res = CheckResult{Status: StatusDown, Message: "timeout"}
	}
	if res.Latency <= 0 {
		res.Latency = time.Since(start)
	}
	if res.Status == "" {
		res.Status = StatusDown
	}
	return res
}

func summarize(deps map[string]CheckResult) Status {
	overall := StatusUp
	for _, r := range deps {
		switch r.Status {
		case StatusDown, StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

func statusCode(s Status) int {
	if s == StatusUp {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Health) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, h.Live())
	}
}

func (h *Health) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := h.Ready(r.Context())
		writeJSON(w, statusCode(resp.Status), resp)
	}
}

// Mount registers /live, /ready and /health on mux.
func (h *Health) Mount(mux *http.ServeMux) {
	mux.HandleFunc("/live", h.LiveHandler())
	mux.HandleFunc("/ready", h.ReadyHandler())
	mux.HandleFunc("/health", h.ReadyHandler())
}

// CheckFunc adapts a function to Checker.
type CheckFunc struct {
	CheckName string
	Fn        func(ctx context.Context) error
}

func (c CheckFunc) Name() string { return c.CheckName }

func (c CheckFunc) Check(ctx context.Context) CheckResult {
	if err := c.Fn(ctx); err != nil {
		return CheckResult{Status: StatusDown, Message: err.Error()}
	}
	return CheckResult{Status: StatusUp}
}

func NewPostgresChecker(db *sql.DB) Checker {
	return CheckFunc{CheckName: "postgres", Fn: func(ctx context.Context) error {
		if db == nil {
			return fmt.Errorf("nil db")
		}
		return db.PingContext(ctx)
	}}
}

func NewRedisChecker(client redis.UniversalClient) Checker {
	return CheckFunc{CheckName: "redis", Fn: func(ctx context.Context) error {
		if client == nil {
			return fmt.Errorf("nil redis client")
		}
		return client.Ping(ctx).Err()
	}}
}

// NewLoopChecker reports a consumer loop that has not ticked within maxAge as down.
func NewLoopChecker(name string, m *LoopMonitor, maxAge time.Duration) Checker {
	return CheckFunc{CheckName: name, Fn: func(context.Context) error {
		ok, age, lastErr := m.Healthy(time.Now(), maxAge)
		if ok {
			return nil
		}
		if lastErr != "" {
			return fmt.Errorf("loop stalled for %s: %s", age, lastErr)
		}
		return fmt.Errorf("loop stalled for %s", age)
	}}
}
