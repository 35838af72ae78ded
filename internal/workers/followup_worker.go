package workers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DueProcessor sends the follow-ups that are due.
type DueProcessor interface {
	ProcessDue(ctx context.Context) (int, error)
}

// FollowupWorker polls for due follow-ups on a fixed interval until its
// context is cancelled.
type FollowupWorker struct {
	Followups DueProcessor
	Interval  time.Duration
	Logger    *logrus.Logger

	wg sync.WaitGroup
}

func (w *FollowupWorker) Start(ctx context.Context) error {
	if w.Followups == nil {
		return errors.New("FollowupWorker missing dependency: Followups must be set")
	}
	if w.Interval <= 0 {
		w.Interval = time.Minute
	}
	if w.Logger == nil {
		w.Logger = logrus.New()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
	return nil
}

// Wait blocks until the loop has returned.
func (w *FollowupWorker) Wait() { w.wg.Wait() }

func (w *FollowupWorker) run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *FollowupWorker) tick(ctx context.Context) {
	n, err := w.Followups.ProcessDue(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.Logger.WithError(err).Warn("followup batch failed")
		}
		return
	}
	if n > 0 {
		w.Logger.WithField("count", n).Info("followups processed")
	}
}
