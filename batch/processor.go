package batch

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/catalog/internal/metrics"
	"github.com/jacentio/catalog/store"
)

// Processor runs whole batches: grouping, concurrent group execution and
// aggregation.
type Processor struct {
	exec   *Executor
	config Config
	logger zerolog.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(exec *Executor, config Config, logger zerolog.Logger) *Processor {
	config.validate()
	return &Processor{
		exec:   exec,
		config: config,
		logger: logger,
	}
}

// Run executes requests and reports per-request outcomes. Groups run
// concurrently and all of them are joined before Run returns, whatever
// happens to ctx. An empty batch makes no store calls.
func (p *Processor) Run(ctx context.Context, requests []WriteRequest) (Result, error) {
	if len(requests) == 0 {
		return Aggregate(nil), nil
	}
	if len(requests) > p.config.MaxRequests {
		return Result{}, store.Invalid("batch", "batch of %d requests exceeds limit of %d", len(requests), p.config.MaxRequests)
	}

	start := time.Now()
	defer func() { metrics.BatchDuration.Observe(time.Since(start).Seconds()) }()

	groups := Partition(requests)
	perGroup := make([][]Outcome, len(groups))

	var eg errgroup.Group
	if p.config.MaxConcurrentGroups > 0 {
		eg.SetLimit(p.config.MaxConcurrentGroups)
	}
	for i, g := range groups {
		eg.Go(func() error {
			perGroup[i] = p.exec.Execute(ctx, g)
			return nil
		})
	}
	_ = eg.Wait()

	res := Aggregate(perGroup)
	p.logger.Info().
		Int("requests", len(requests)).
		Int("groups", len(groups)).
		Int("succeeded", len(res.Succeeded)).
		Int("failed", len(res.Failed)).
		Dur("duration", time.Since(start)).
		Msg("batch processed")
	return res, nil
}
