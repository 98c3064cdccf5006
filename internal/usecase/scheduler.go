package usecase

import (
	"context"
	"errors"
	"time"

	"syncq/internal/domain"
	"syncq/internal/ports"

	"github.com/rs/zerolog/log"
)

// syncedTimelines are fetched for every account on each sync tick.
var syncedTimelines = []domain.TimelineType{domain.TimelineHome, domain.TimelineMentions}

// SyncScheduler periodically submits timeline syncs for every usable account.
type SyncScheduler struct {
	Accounts ports.AccountStore
	Sink     CommandSink
	Interval time.Duration
	Now      func() time.Time
}

func NewSyncScheduler(accounts ports.AccountStore, sink CommandSink, interval time.Duration) *SyncScheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &SyncScheduler{
		Accounts: accounts,
		Sink:     sink,
		Interval: interval,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *SyncScheduler) Run(ctx context.Context) error {
	t := time.NewTicker(s.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.Tick(ctx)
		}
	}
}

// Tick submits the syncs and returns how many commands were accepted.
func (s *SyncScheduler) Tick(ctx context.Context) int {
	submitted := 0
	for _, acct := range s.Accounts.List() {
		if !acct.IsValidAndSucceeded() {
			continue
		}
		for _, typ := range syncedTimelines {
			tl := domain.Timeline{Type: typ, Account: acct.Name, Origin: acct.Origin()}
			err := s.Sink.Submit(domain.NewCommand(domain.CodeGetTimeline, tl, s.Now()))
			if errors.Is(err, domain.ErrServiceUnavailable) {
				log.Ctx(ctx).Debug().Msg("sync skipped, service unavailable")
				return submitted
			}
			if err != nil {
				log.Ctx(ctx).Error().Err(err).Str("account", acct.Name).Msg("failed to submit sync")
				continue
			}
			submitted++
		}
	}
	if submitted > 0 {
		log.Ctx(ctx).Info().Int("commands", submitted).Msg("timeline sync scheduled")
	}
	return submitted
}
