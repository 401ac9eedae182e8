/*
scheduler.go - Automated evaluation scheduler

PURPOSE:
  Periodically runs a recurring-rule evaluation pass so reminders fire
  even when no external cron is configured. The HTTP evaluate endpoint
  remains the cron-facing entry point; this is the in-process fallback.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each tick executes one live (non-dry-run) engine pass
  - Pass failures are logged and the ticker keeps going
  - Interval 0 disables the scheduler entirely

CONFIGURATION:
  - CheckInterval: How often to run a pass (default: 1 minute, matching
    the resolution of rule firing windows)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewEvaluationScheduler(handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: EvaluatePass endpoint (manual/cron evaluation)
  - reminder/engine.go: The pass itself
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EvaluationScheduler drives periodic recurring-rule passes.
type EvaluationScheduler struct {
	Handler       *Handler
	CheckInterval time.Duration
	Enabled       bool
	Log           *logrus.Logger

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewEvaluationScheduler creates a scheduler around the handler's engine.
func NewEvaluationScheduler(handler *Handler, interval time.Duration) *EvaluationScheduler {
	if interval < 0 {
		interval = 0
	}
	return &EvaluationScheduler{
		Handler:       handler,
		CheckInterval: interval,
		Enabled:       interval > 0,
		Log:           handler.Log,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (es *EvaluationScheduler) Start() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if !es.Enabled {
		es.Log.Info("[Scheduler] Disabled, not starting")
		return
	}

	es.ticker = time.NewTicker(es.CheckInterval)
	es.wg.Add(1)

	go es.run()

	es.Log.WithField("interval", es.CheckInterval.String()).Info("[Scheduler] Started")
}

// Stop stops the scheduler and waits for an in-flight pass to finish.
func (es *EvaluationScheduler) Stop() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.ticker != nil {
		es.ticker.Stop()
		close(es.stop)
		es.wg.Wait()
		es.Log.Info("[Scheduler] Stopped")
	}
}

func (es *EvaluationScheduler) run() {
	defer es.wg.Done()

	// Run immediately on start
	es.runPass()

	for {
		select {
		case <-es.ticker.C:
			es.runPass()
		case <-es.stop:
			return
		}
	}
}

func (es *EvaluationScheduler) runPass() {
	ctx := context.Background()

	report, err := es.Handler.Engine.Evaluate(ctx, false)
	if err != nil {
		es.Log.WithError(err).Error("[Scheduler] Evaluation pass failed")
		return
	}

	if report.RemindersSent > 0 || len(report.Errors) > 0 {
		es.Log.WithFields(logrus.Fields{
			"evaluated": report.EvaluatedRules,
			"due":       report.DueRules,
			"sent":      report.RemindersSent,
			"errors":    len(report.Errors),
		}).Info("[Scheduler] Pass completed")
	}
}

// RunNow triggers an immediate pass (for testing/admin).
func (es *EvaluationScheduler) RunNow() {
	es.runPass()
}

// GetNextRunTime returns when the next scheduled pass will occur.
func (es *EvaluationScheduler) GetNextRunTime() time.Time {
	return time.Now().Add(es.CheckInterval)
}
