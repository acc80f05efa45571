package services

import (
	"context"

	"bidding-core/pkg/logger"

	"github.com/robfig/cron/v3"
)

// ExpiringStore is a store that needs its expired entries swept by hand.
type ExpiringStore interface {
	PurgeExpired() int
}

// MaintenanceScheduler runs periodic housekeeping on a cron spec.
type MaintenanceScheduler struct {
	cron   *cron.Cron
	spec   string
	stores []ExpiringStore
	log    logger.Logger
}

func NewMaintenanceScheduler(spec string, log logger.Logger, stores ...ExpiringStore) *MaintenanceScheduler {
	return &MaintenanceScheduler{
		cron:   cron.New(),
		spec:   spec,
		stores: stores,
		log:    log,
	}
}

func (s *MaintenanceScheduler) Start(ctx context.Context) error {
	s.log.Info("Starting maintenance scheduler", "spec", s.spec)

	_, err := s.cron.AddFunc(s.spec, func() {
		if ctx.Err() != nil {
			return
		}
		s.purgeExpired()
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Stop waits for a running job to finish.
func (s *MaintenanceScheduler) Stop() error {
	s.log.Info("Stopping maintenance scheduler")
	<-s.cron.Stop().Done()
	return nil
}

func (s *MaintenanceScheduler) purgeExpired() int {
	total := 0
	for _, store := range s.stores {
		total += store.PurgeExpired()
	}
	if total > 0 {
		s.log.Info("Purged expired idempotency records", "removed", total)
	}
	return total
}
