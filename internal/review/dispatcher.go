package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/prophet/market-engine/internal/metrics"
	"github.com/prophet/market-engine/internal/model"
)

// ErrInvalidDecision is returned for verdicts that neither approve nor
// reject.
var ErrInvalidDecision = errors.New("review: decision must be approve or reject")

// ClaimUpdater applies review outcomes to claims. *claims.Service
// satisfies it.
type ClaimUpdater interface {
	MarkReviewed(ctx context.Context, id int64, description string) (*model.Claim, error)
	Reject(ctx context.Context, id int64, description string) (*model.Claim, error)
	AddVariants(ctx context.Context, parentID int64, texts []string) ([]model.Claim, error)
}

// DispatcherConfig tunes the background review pool.
type DispatcherConfig struct {
	Workers       int
	QueueSize     int
	RatePerSecond float64 // zero disables rate limiting
	Burst         int
	Timeout       time.Duration // per-review deadline
	DedupWindow   time.Duration // how long a claim ID stays marked in flight
}

func (c *DispatcherConfig) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = c.Workers * 32
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 45 * time.Second
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = 10 * time.Minute
	}
}

// Dispatcher reviews submitted claims in the background. Enqueue never
// blocks: when the queue is full the claim simply stays pending.
type Dispatcher struct {
	reviewer Reviewer
	updater  ClaimUpdater
	cfg      DispatcherConfig
	queue    chan model.Claim
	limiter  *rate.Limiter
	inflight *gocache.Cache
	logger   *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// NewDispatcher creates a dispatcher. Call Run to start the workers.
func NewDispatcher(reviewer Reviewer, updater ClaimUpdater, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &Dispatcher{
		reviewer: reviewer,
		updater:  updater,
		cfg:      cfg,
		queue:    make(chan model.Claim, cfg.QueueSize),
		limiter:  rate.NewLimiter(limit, cfg.Burst),
		// No janitor goroutine; entries are removed when processed and
		// expired ones are ignored by Add.
		inflight: gocache.New(cfg.DedupWindow, 0),
		logger:   logger.With("component", "review", "reviewer", reviewer.Name()),
		done:     make(chan struct{}),
	}
}

// Enqueue schedules a claim for review. A claim already queued or under
// review is accepted without being queued twice. It reports false when the
// queue is full or the dispatcher is closed.
func (d *Dispatcher) Enqueue(c model.Claim) bool {
	select {
	case <-d.done:
		return false
	default:
	}
	key := strconv.FormatInt(c.ID, 10)
	if err := d.inflight.Add(key, struct{}{}, gocache.DefaultExpiration); err != nil {
		return true
	}
	select {
	case d.queue <- c:
		metrics.ReviewQueueDepth.Inc()
		return true
	default:
		d.inflight.Delete(key)
		metrics.ReviewsTotal.WithLabelValues("dropped").Inc()
		return false
	}
}

// Run starts the workers and blocks until ctx is cancelled or Close is
// called. Claims still queued at that point stay pending.
func (d *Dispatcher) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-d.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	d.logger.Info("review dispatcher started", "workers", d.cfg.Workers, "queue", d.cfg.QueueSize)
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.worker(ctx)
		}()
	}
	wg.Wait()
	d.logger.Info("review dispatcher stopped", "abandoned", len(d.queue))
	return nil
}

// Close stops the workers. It is safe to call more than once.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.done) })
}

func (d *Dispatcher) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-d.queue:
			metrics.ReviewQueueDepth.Dec()
			d.process(ctx, c)
			d.inflight.Delete(strconv.FormatInt(c.ID, 10))
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, c model.Claim) {
	if err := d.limiter.Wait(ctx); err != nil {
		return
	}

	rctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	start := time.Now()
	verdict, err := d.reviewer.Review(rctx, c)
	cancel()
	metrics.ReviewLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ReviewsTotal.WithLabelValues("error").Inc()
		d.logger.Warn("review failed, claim stays pending", "id", c.ID, "error", err)
		return
	}

	if err := ApplyVerdict(ctx, d.updater, c.ID, verdict, d.logger); err != nil {
		d.logger.Warn("applying verdict failed", "id", c.ID, "error", err)
	}
}

// ApplyVerdict records a verdict for a pending claim: approval moves it to
// ai_reviewed and stores any variants, rejection makes it terminal. A claim
// that already left pending yields model.ErrInvalidState and is not
// touched. Review callbacks from external reviewers go through here too.
func ApplyVerdict(ctx context.Context, u ClaimUpdater, claimID int64, v *Verdict, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if v == nil {
		return fmt.Errorf("claim %d: %w", claimID, ErrInvalidDecision)
	}

	switch v.Decision {
	case Approve:
		if _, err := u.MarkReviewed(ctx, claimID, v.Description); err != nil {
			return observeApplyErr(err)
		}
		metrics.ReviewsTotal.WithLabelValues("approved").Inc()
		if len(v.Variants) == 0 {
			logger.Info("claim approved", "id", claimID)
			return nil
		}
		added, err := u.AddVariants(ctx, claimID, v.Variants)
		if err != nil {
			return fmt.Errorf("add variants: %w", err)
		}
		logger.Info("claim approved", "id", claimID, "variants", len(added))
	case Reject:
		if _, err := u.Reject(ctx, claimID, v.Description); err != nil {
			return observeApplyErr(err)
		}
		metrics.ReviewsTotal.WithLabelValues("rejected").Inc()
		logger.Info("claim rejected", "id", claimID)
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidDecision, v.Decision)
	}
	return nil
}

func observeApplyErr(err error) error {
	if errors.Is(err, model.ErrInvalidState) {
		metrics.ReviewsTotal.WithLabelValues("stale").Inc()
	}
	return err
}
