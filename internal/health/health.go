package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusChecking  = "checking"
)

var errNotConfigured = errors.New("not configured")

// CheckFunc is a cheap liveness check against one dependency.
type CheckFunc func(ctx context.Context) error

type ServiceStatus struct {
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	LastChecked time.Time `json:"last_checked"`
}

type Report struct {
	Overall  string                   `json:"overall"`
	Services map[string]ServiceStatus `json:"services"`
}

// Checker runs every check concurrently. Overall is healthy when all pass,
// degraded when some pass and unhealthy when none do. A nil check counts as
// a failing one.
type Checker struct {
	Timeout time.Duration
	Logger  zerolog.Logger
	Now     func() time.Time

	names  []string
	checks map[string]CheckFunc

	mu     sync.RWMutex
	report Report
}

func NewChecker(logger zerolog.Logger) *Checker {
	return &Checker{
		Timeout: 10 * time.Second,
		Logger:  logger,
		checks:  map[string]CheckFunc{},
		report:  Report{Overall: StatusUnhealthy, Services: map[string]ServiceStatus{}},
	}
}

// Register adds a named check. Call before Check or Run.
func (c *Checker) Register(name string, p CheckFunc) {
	if _, ok := c.checks[name]; !ok {
		c.names = append(c.names, name)
	}
	c.checks[name] = p
	c.mu.Lock()
	c.report.Services[name] = ServiceStatus{Status: StatusChecking, Message: "checking"}
	c.mu.Unlock()
}

func (c *Checker) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Checker) Check(ctx context.Context) Report {
	results := make([]ServiceStatus, len(c.names))
	var wg sync.WaitGroup
	for i, name := range c.names {
		wg.Add(1)
		go func(i int, p CheckFunc) {
			defer wg.Done()
			err := errNotConfigured
			if p != nil {
				pctx, cancel := context.WithTimeout(ctx, c.Timeout)
				err = p(pctx)
				cancel()
			}
			st := ServiceStatus{Status: StatusHealthy, Message: "ok", LastChecked: c.now().UTC()}
			if err != nil {
				st.Status = StatusUnhealthy
				st.Message = err.Error()
			}
			results[i] = st
		}(i, c.checks[name])
	}
	wg.Wait()

	r := Report{Services: make(map[string]ServiceStatus, len(c.names))}
	healthy := 0
	for i, name := range c.names {
		r.Services[name] = results[i]
		if results[i].Status == StatusHealthy {
			healthy++
		} else {
			c.Logger.Warn().Str("service", name).Str("reason", results[i].Message).Msg("health check failed")
		}
	}
	switch {
	case len(c.names) > 0 && healthy == len(c.names):
		r.Overall = StatusHealthy
	case healthy > 0:
		r.Overall = StatusDegraded
	default:
		r.Overall = StatusUnhealthy
	}

	c.mu.Lock()
	c.report = r
	c.mu.Unlock()
	return r
}

// Status returns the last report without probing.
func (c *Checker) Status() Report {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := Report{Overall: c.report.Overall, Services: make(map[string]ServiceStatus, len(c.report.Services))}
	for k, v := range c.report.Services {
		out.Services[k] = v
	}
	return out
}

// Run checks immediately and then every interval until ctx is done.
func (c *Checker) Run(ctx context.Context, interval time.Duration) {
	c.Check(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}
