package app

import (
	"context"
	"errors"

	"trivia-room-service/internal/domain"
)

// FanoutPublisher delivers every event to each of its publishers in order.
type FanoutPublisher []Publisher

func (f FanoutPublisher) Publish(ctx context.Context, ev domain.Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
