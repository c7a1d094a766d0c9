// Package sweep runs the physical removal of lazily expired cache records.
// Expiry is otherwise only observed on read; a sweep walks every configured
// client with a bounded worker pool and bulk-deletes what has lapsed.
package sweep

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/apigate/pkg/cache"
)

var (
	sweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "apigate_sweep_runs_total",
		Help: "Total number of completed sweep passes",
	})

	sweepRemovedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apigate_sweep_removed_total",
		Help: "Total number of expired records removed by client",
	}, []string{"client"})
)

// Config holds sweeper configuration.
type Config struct {
	// MaxConcurrency is the maximum number of clients swept in parallel.
	MaxConcurrency int

	// Timeout bounds a single client's sweep.
	Timeout time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        30 * time.Second,
	}
}

// Result is the outcome of sweeping one client.
type Result struct {
	Client  string
	Removed int64
	Err     error
}

// Sweeper removes expired records across client namespaces.
type Sweeper struct {
	store  cache.Store
	config Config
}

// NewSweeper creates a sweeper over a cache store.
func NewSweeper(store cache.Store, config Config) *Sweeper {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &Sweeper{store: store, config: config}
}

// Run sweeps the given clients with a worker pool and returns per-client
// results. A failing client does not stop the others.
func (s *Sweeper) Run(ctx context.Context, clients []string) []Result {
	start := time.Now()

	queue := make(chan string, len(clients))
	for _, client := range clients {
		queue <- client
	}
	close(queue)

	results := make(chan Result, len(clients))

	var wg sync.WaitGroup
	for i := 0; i < s.config.MaxConcurrency; i++ {
		wg.Add(1)
		go s.worker(ctx, queue, results, &wg)
	}
	wg.Wait()
	close(results)

	out := make([]Result, 0, len(clients))
	var removed int64
	for r := range results {
		if r.Err == nil {
			removed += r.Removed
		}
		out = append(out, r)
	}

	sweepRunsTotal.Inc()
	log.Info().
		Int("clients", len(clients)).
		Int64("removed", removed).
		Dur("duration", time.Since(start)).
		Msg("Sweep complete")

	return out
}

func (s *Sweeper) worker(ctx context.Context, queue <-chan string, results chan<- Result, wg *sync.WaitGroup) {
	defer wg.Done()

	for client := range queue {
		select {
		case <-ctx.Done():
			results <- Result{Client: client, Err: ctx.Err()}
			continue
		default:
		}

		sweepCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
		removed, err := s.store.DeleteExpired(sweepCtx, client)
		cancel()

		if err != nil {
			log.Warn().Err(err).Str("client", client).Msg("Sweep failed for client")
			results <- Result{Client: client, Err: err}
			continue
		}

		if removed > 0 {
			sweepRemovedTotal.WithLabelValues(client).Add(float64(removed))
			log.Debug().
				Str("client", client).
				Int64("removed", removed).
				Msg("Removed expired records")
		}
		results <- Result{Client: client, Removed: removed}
	}
}
