package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// JobMetrics provides centralized background job metrics tracking.
type JobMetrics interface {
	IncJobsTotal(jobType, status string)
	ObserveJobDuration(jobType string, seconds float64)
	IncJobErrors(jobType, errorType string)
}

// RefreshJobConfig configures the periodic stats refresh job.
type RefreshJobConfig struct {
	// Interval is the duration between refresh cycles. It should be below
	// the cache TTL so readers rarely pay for a synchronous recompute.
	Interval time.Duration
	// Timeout for each refresh cycle.
	Timeout time.Duration
	// Logger for job activity.
	Logger *slog.Logger
	// JobMetrics for centralized background job tracking.
	JobMetrics JobMetrics
}

// DefaultRefreshInterval is the default interval between refresh cycles.
const DefaultRefreshInterval = 30 * time.Minute

// DefaultRefreshTimeout is the default timeout for a single refresh cycle.
const DefaultRefreshTimeout = time.Minute

// jobTypeStatsRefresh labels this job in the centralized job metrics.
const jobTypeStatsRefresh = "stats_refresh"

// RefreshJob periodically refreshes the stats snapshot ahead of TTL expiry.
type RefreshJob struct {
	config RefreshJobConfig
	cache  *Cache

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewRefreshJob creates a new stats refresh job for the given cache.
func NewRefreshJob(config RefreshJobConfig, cache *Cache) *RefreshJob {
	if config.Interval == 0 {
		config.Interval = DefaultRefreshInterval
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultRefreshTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &RefreshJob{config: config, cache: cache}
}

// Start begins the periodic refresh job.
// Returns immediately; the job runs in a background goroutine.
func (j *RefreshJob) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})
	j.mu.Unlock()

	go j.run(ctx)
	return nil
}

// Stop signals the refresh job to stop and waits for it to finish.
func (j *RefreshJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	stopCh := j.stopCh
	doneCh := j.doneCh
	j.mu.Unlock()

	close(stopCh)
	<-doneCh

	j.mu.Lock()
	j.running = false
	j.mu.Unlock()
}

// IsRunning returns whether the job is currently running.
func (j *RefreshJob) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *RefreshJob) run(ctx context.Context) {
	defer close(j.doneCh)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.config.Logger.Info("stats refresh job stopping due to context cancellation")
			return
		case <-j.stopCh:
			j.config.Logger.Info("stats refresh job stopping due to stop signal")
			return
		case <-ticker.C:
			j.refreshOnce(ctx)
		}
	}
}

// refreshOnce runs a single refresh cycle with a timeout and reports metrics.
func (j *RefreshJob) refreshOnce(parentCtx context.Context) {
	ctx, cancel := context.WithTimeout(parentCtx, j.config.Timeout)
	defer cancel()

	start := time.Now()
	_, err := j.cache.Refresh(ctx)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "failure"
		j.config.Logger.Error("stats refresh cycle failed", "error", err)
		if j.config.JobMetrics != nil {
			j.config.JobMetrics.IncJobErrors(jobTypeStatsRefresh, "store_error")
		}
	}

	if j.config.JobMetrics != nil {
		j.config.JobMetrics.IncJobsTotal(jobTypeStatsRefresh, status)
		j.config.JobMetrics.ObserveJobDuration(jobTypeStatsRefresh, duration)
	}
}

// RefreshNow immediately refreshes the snapshot without waiting for the
// ticker. This is useful for testing or forcing immediate updates.
func (j *RefreshJob) RefreshNow() {
	j.refreshOnce(context.Background())
}
