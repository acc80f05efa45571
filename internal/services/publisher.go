package services

import (
	"context"
	"errors"
	"fmt"

	"bidding-core/internal/domain"
	"bidding-core/pkg/logger"
)

// FanoutPublisher delivers every batch to each sink. One failing sink does
// not stop the others.
type FanoutPublisher struct {
	sinks []domain.EventPublisher
	log   logger.Logger
}

func NewFanoutPublisher(log logger.Logger, sinks ...domain.EventPublisher) *FanoutPublisher {
	return &FanoutPublisher{sinks: sinks, log: log}
}

func (p *FanoutPublisher) Publish(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	var errs []error
	for _, sink := range p.sinks {
		if err := sink.Publish(ctx, events); err != nil {
			p.log.Error("Event sink failed", "sink", fmt.Sprintf("%T", sink), "events", len(events), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
