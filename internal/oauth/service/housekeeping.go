package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/regrant/internal/oauth/store"
)

// HousekeepingService periodically transitions overdue ACTIVE token
// records to EXPIRED and prunes long-inactive ones, keeping the tokens
// table from growing without bound under rotation churn.
type HousekeepingService struct {
	Store     store.Store
	Logger    *slog.Logger
	Interval  time.Duration
	Retention time.Duration // how long INACTIVE records are kept

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a housekeeping service. A non-positive
// interval defaults to 1 hour; a non-positive retention defaults to 30
// days.
func NewHousekeepingService(s store.Store, logger *slog.Logger, interval, retention time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}

	return &HousekeepingService{
		Store:     s,
		Logger:    logger,
		Interval:  interval,
		Retention: retention,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the background worker. Non-blocking; call Stop to shut
// down gracefully.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started",
		"interval", s.Interval, "retention", s.Retention)
}

// Stop shuts down the worker, blocking until any in-progress sweep
// finishes.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Sweep immediately on startup.
	s.sweep()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

// sweep runs both maintenance passes. Each is independent; a failure in
// one does not stop the other.
func (s *HousekeepingService) sweep() {
	ctx := context.Background()
	now := time.Now()

	expired, err := s.Store.Tokens().ExpireOverdueTokens(ctx, now)
	if err != nil {
		s.Logger.Error("failed to expire overdue tokens", "error", err)
	} else if expired > 0 {
		s.Logger.Info("expired overdue tokens", "count", expired)
	}

	pruned, err := s.Store.Tokens().DeleteInactiveTokensBefore(ctx, now.Add(-s.Retention))
	if err != nil {
		s.Logger.Error("failed to prune inactive tokens", "error", err)
	} else if pruned > 0 {
		s.Logger.Info("pruned inactive tokens", "count", pruned)
	}
}
