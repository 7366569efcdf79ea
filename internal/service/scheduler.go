package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartLedgerMaintenance prunes expired global cooldowns every interval.
// The caller owns the returned scheduler and must Shutdown it.
func (s *DrawService) StartLedgerMaintenance(interval time.Duration) (gocron.Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("prune interval must be positive, got %s", interval)
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.pruneLedger),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("failed to schedule ledger pruning: %w", err)
	}

	sched.Start()
	return sched, nil
}

func (s *DrawService) pruneLedger() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pruned, err := s.PruneExpiredCooldowns(ctx)
	if err != nil {
		log.Printf("[Scheduler] Error pruning global cooldowns: %v", err)
		return
	}
	if pruned > 0 {
		log.Printf("[Scheduler] Pruned %d expired global cooldowns", pruned)
	}
}
