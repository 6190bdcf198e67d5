package eviction

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper evicts idle rooms. room.Registry implements it.
type Sweeper interface {
	EvictIdle(ctx context.Context) int
	Len() int
}

type Config struct {
	Interval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval: time.Minute,
	}
}

// Service periodically evicts rooms that have sat idle past the registry's
// TTL.
type Service struct {
	sweeper Sweeper
	config  Config
	logger  *slog.Logger
	stop    chan struct{}
	wg      sync.WaitGroup
}

func New(sweeper Sweeper, config Config, logger *slog.Logger) *Service {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sweeper: sweeper,
		config:  config,
		logger:  logger,
		stop:    make(chan struct{}),
	}
}

func (s *Service) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
	s.logger.Info("eviction service started", "interval", s.config.Interval)
}

func (s *Service) Stop() {
	close(s.stop)
	s.wg.Wait()
	s.logger.Info("eviction service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepNow(ctx)
		}
	}
}

// SweepNow runs one eviction pass and returns the number of evicted rooms.
func (s *Service) SweepNow(ctx context.Context) int {
	evicted := s.sweeper.EvictIdle(ctx)
	if evicted > 0 {
		s.logger.Info("evicted idle rooms", "count", evicted, "resident", s.sweeper.Len())
	}
	return evicted
}
