package services

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/restaurant-floor/models"
	"github.com/yeremiapane/restaurant-floor/utils"
)

// Notifier receives every committed floor change. Delivery is best effort;
// a failing notifier never undoes a commit.
type Notifier interface {
	Notify(ctx context.Context, event models.FloorEvent) error
}

// MultiNotifier fans an event out to several notifiers.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, event models.FloorEvent) error {
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, event); err != nil {
			utils.ErrorLogger.WithFields(logrus.Fields{
				"op":       event.Operation.Type,
				"table_id": event.Operation.TableID,
			}).Errorf("notifier failed: %v", err)
		}
	}
	return nil
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, event models.FloorEvent) error

func (f NotifierFunc) Notify(ctx context.Context, event models.FloorEvent) error {
	return f(ctx, event)
}
