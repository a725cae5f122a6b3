package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/maxpert/ripple/cfg"
	"github.com/rs/zerolog/log"
)

// CompactorOptions configures the background compactor
type CompactorOptions struct {
	Interval      time.Duration
	FileThreshold int // Live files before a round does anything
	PartialFanIn  int // Newest files merged by a partial round
	FullEvery     int // Every Nth round merges all files
}

// DefaultCompactorOptions returns compactor options from cfg.Config.Compaction.
func DefaultCompactorOptions() CompactorOptions {
	cc := cfg.Config.Compaction
	return CompactorOptions{
		Interval:      time.Duration(cc.IntervalSeconds) * time.Second,
		FileThreshold: cc.FileThreshold,
		PartialFanIn:  cc.PartialFanIn,
		FullEvery:     cc.FullEvery,
	}
}

// Compactor periodically merges files to keep scans short.
// A failed round is logged and left for the next tick.
type Compactor struct {
	store  *Store
	opts   CompactorOptions
	rounds int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCompactor creates a compactor for store.
func NewCompactor(store *Store, opts CompactorOptions) *Compactor {
	if opts.FileThreshold < 2 {
		opts.FileThreshold = 2
	}
	if opts.PartialFanIn < 2 {
		opts.PartialFanIn = 2
	}
	if opts.FullEvery < 1 {
		opts.FullEvery = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Compactor{
		store:  store,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins the periodic compaction
func (c *Compactor) Start() {
	c.wg.Add(1)
	go c.loop()
}

// Stop cancels a running round and waits for the loop to exit
func (c *Compactor) Stop() {
	c.cancel()
	c.wg.Wait()
}

func (c *Compactor) loop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := c.RunRound(c.ctx); err != nil {
				c.logRoundError(err)
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Compactor) logRoundError(err error) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, ErrClosed):
		log.Debug().Err(err).Msg("Compaction round interrupted")
	case errors.Is(err, ErrCompactionInProgress):
		log.Debug().Msg("Compaction round skipped, another compaction is running")
	default:
		log.Warn().Err(err).Msg("Compaction round failed")
	}
}

// RunRound performs one compaction decision. It returns a nil result when
// the store is below the file threshold.
func (c *Compactor) RunRound(ctx context.Context) (*CompactionResult, error) {
	files := c.store.Files()
	if len(files) < c.opts.FileThreshold {
		return nil, nil
	}
	c.rounds++

	var (
		res CompactionResult
		err error
	)
	if c.rounds%c.opts.FullEvery == 0 || len(files) <= c.opts.PartialFanIn {
		res, err = c.store.CompactAll(ctx)
	} else {
		newest := files[len(files)-c.opts.PartialFanIn:]
		ids := make([]uint64, len(newest))
		for i, f := range newest {
			ids[i] = f.ID
		}
		res, err = c.store.Compact(ctx, ids)
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}
