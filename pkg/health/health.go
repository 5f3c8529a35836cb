package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nmxmxh/reviewqueue/pkg/json"
)

// Status represents the health status
type Status string

const (
	StatusUp   Status = "UP"
	StatusDown Status = "DOWN"
)

// HealthCheck represents a health check
type HealthCheck interface {
	Check(ctx context.Context) error
	Name() string
}

// HealthChecker manages health checks
type HealthChecker struct {
	checks  []HealthCheck
	timeout time.Duration
	mu      sync.RWMutex
}

// NewHealthChecker creates a new health checker. Each check run is bounded by timeout.
func NewHealthChecker(timeout time.Duration) *HealthChecker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthChecker{
		checks:  make([]HealthCheck, 0),
		timeout: timeout,
	}
}

// Register adds a new health check
func (hc *HealthChecker) Register(check HealthCheck) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks = append(hc.checks, check)
}

// Check performs all health checks
func (hc *HealthChecker) Check(ctx context.Context) map[string]error {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()
	results := make(map[string]error)
	for _, check := range hc.checks {
		results[check.Name()] = check.Check(ctx)
	}
	return results
}

// Report is the JSON body served by Handler.
type Report struct {
	Status Status            `json:"status"`
	Checks map[string]Status `json:"checks"`
	Errors map[string]string `json:"errors,omitempty"`
}

// Handler serves the aggregate status; any failing check yields 503.
func (hc *HealthChecker) Handler(log *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		results := hc.Check(r.Context())
		report := Report{Status: StatusUp, Checks: make(map[string]Status, len(results))}
		names := make([]string, 0, len(results))
		for name := range results {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := results[name]; err != nil {
				report.Status = StatusDown
				report.Checks[name] = StatusDown
				if report.Errors == nil {
					report.Errors = map[string]string{}
				}
				report.Errors[name] = err.Error()
				log.Warn("Health check failed", zap.String("check", name), zap.Error(err))
				continue
			}
			report.Checks[name] = StatusUp
		}
		status := http.StatusOK
		if report.Status == StatusDown {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(report); err != nil {
			log.Error("Failed to write health report", zap.Error(err))
		}
	})
}

// Pinger is satisfied by *sql.DB and the Redis client.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// DatabaseHealthCheck checks database connectivity
type DatabaseHealthCheck struct {
	name string
	db   Pinger
}

func NewDatabaseHealthCheck(name string, db Pinger) *DatabaseHealthCheck {
	return &DatabaseHealthCheck{name: name, db: db}
}

func (d *DatabaseHealthCheck) Check(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DatabaseHealthCheck) Name() string {
	return d.name
}

// RedisPinger reports Redis availability.
type RedisPinger interface {
	IsAvailable(ctx context.Context) error
}

// RedisHealthCheck checks Redis connectivity
type RedisHealthCheck struct {
	name   string
	client RedisPinger
}

func NewRedisHealthCheck(name string, client RedisPinger) *RedisHealthCheck {
	return &RedisHealthCheck{name: name, client: client}
}

func (r *RedisHealthCheck) Check(ctx context.Context) error {
	return r.client.IsAvailable(ctx)
}

func (r *RedisHealthCheck) Name() string {
	return r.name
}
