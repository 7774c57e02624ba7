package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"pc-deal-watch/internal/domain"
	"pc-deal-watch/internal/fetcher"
	"pc-deal-watch/internal/ingest"
	"pc-deal-watch/internal/scheduler"
	"pc-deal-watch/internal/storage"
)

// Options tune the periodic run.
type Options struct {
	Concurrency int
	LockKey     int64
}

// Service orchestrates fetching, ingestion and the decision pipeline.
type Service struct {
	scheduler *scheduler.Scheduler
	pipeline  *Pipeline
	fetchers  []fetcher.Fetcher
	listings  []ingest.ListingSource
	locker    storage.AdvisoryLocker
	opts      Options
	logger    zerolog.Logger
}

// New constructs the monitoring service. locker may be nil.
func New(sched *scheduler.Scheduler, pipeline *Pipeline, fetchers []fetcher.Fetcher, listings []ingest.ListingSource, locker storage.AdvisoryLocker, opts Options, logger zerolog.Logger) *Service {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	return &Service{
		scheduler: sched,
		pipeline:  pipeline,
		fetchers:  fetchers,
		listings:  listings,
		locker:    locker,
		opts:      opts,
		logger:    logger.With().Str("component", "service").Logger(),
	}
}

// Run begins the scheduled loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, func(ctx context.Context, bucket time.Time) error {
		_, err := s.RunOnce(ctx)
		return err
	})
}

// RunOnce performs one complete fetch and decision round. It returns a nil
// report when another process holds the advisory lock.
func (s *Service) RunOnce(ctx context.Context) (*BatchReport, error) {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return nil, err
	}
	if !proceed {
		s.logger.Info().Msg("skip run because advisory lock held elsewhere")
		return nil, nil
	}
	if unlock != nil {
		defer unlock()
	}

	batch := s.Collect(ctx)
	report, err := s.pipeline.Process(ctx, batch)
	if err != nil {
		return report, err
	}
	s.commit(ctx)
	return report, nil
}

// Collect runs every source concurrently. A failing source is logged and
// contributes whatever it gathered; it never fails the batch.
func (s *Service) Collect(ctx context.Context) Batch {
	batch := Batch{ID: uuid.New()}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.opts.Concurrency)

	for _, f := range s.fetchers {
		f := f
		g.Go(func() error {
			raws, err := f.Fetch(ctx)
			if err != nil {
				s.logger.Warn().Err(err).Str("source", string(f.Source())).Int("offers", len(raws)).Msg("source fetch incomplete")
			}
			mu.Lock()
			batch.Prices = append(batch.Prices, raws...)
			mu.Unlock()
			return nil
		})
	}
	for _, src := range s.listings {
		src := src
		g.Go(func() error {
			listings, err := src.Listings(ctx)
			if err != nil {
				s.logger.Warn().Err(err).Str("source", src.Name()).Int("listings", len(listings)).Msg("listing import incomplete")
			}
			mu.Lock()
			batch.Listings = append(batch.Listings, listings...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info().
		Str("batch", batch.ID.String()).
		Int("prices", len(batch.Prices)).
		Int("listings", len(batch.Listings)).
		Msg("sources collected")
	return batch
}

// Import processes listings from one source outside the schedule.
func (s *Service) Import(ctx context.Context, src ingest.ListingSource) (*BatchReport, error) {
	listings, err := src.Listings(ctx)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", src.Name(), err)
	}
	report, err := s.pipeline.Process(ctx, Batch{ID: uuid.New(), Listings: listings})
	if err != nil {
		return report, err
	}
	if c, ok := src.(ingest.Committer); ok {
		if err := c.Commit(ctx); err != nil {
			s.logger.Warn().Err(err).Str("source", src.Name()).Msg("commit failed")
		}
	}
	return report, nil
}

// Pipeline exposes the underlying pipeline for one-off batches.
func (s *Service) Pipeline() *Pipeline {
	return s.pipeline
}

func (s *Service) commit(ctx context.Context) {
	for _, src := range s.listings {
		c, ok := src.(ingest.Committer)
		if !ok {
			continue
		}
		if err := c.Commit(ctx); err != nil {
			s.logger.Warn().Err(err).Str("source", src.Name()).Msg("commit failed")
		}
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, &domain.StorageFailure{Op: "acquire advisory lock", Err: err}
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
