package worker

import (
	"context"
	"time"

	"github.com/signflow/signflow/pkg/logging"
	"github.com/signflow/signflow/pkg/queue"
)

// LoopConfig controls the worker loop's cadence
type LoopConfig struct {
	SweepInterval time.Duration // between session expiry sweeps
	PopTimeout    time.Duration // blocking dequeue timeout
	IdleSleep     time.Duration // pause after an empty poll
}

// Loop is the worker's main loop: periodically sweep expired sessions,
// otherwise pop and process jobs one at a time. Jobs run synchronously
// so a crash mid-job loses at most one delivery, which the queue's
// at-least-once contract covers.
type Loop struct {
	queue     queue.Queue
	processor *Processor
	sink      Sink
	config    LoopConfig
	log       *logging.Logger
}

// NewLoop creates a worker loop
func NewLoop(q queue.Queue, p *Processor, sink Sink, config LoopConfig, log *logging.Logger) *Loop {
	if config.SweepInterval <= 0 {
		config.SweepInterval = 60 * time.Second
	}
	if config.PopTimeout <= 0 {
		config.PopTimeout = 5 * time.Second
	}
	if config.IdleSleep <= 0 {
		config.IdleSleep = 500 * time.Millisecond
	}
	return &Loop{queue: q, processor: p, sink: sink, config: config, log: log}
}

// Run blocks until ctx is cancelled. The in-flight job, if any,
// finishes before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("worker loop started", map[string]interface{}{
		"sweep_interval": l.config.SweepInterval.String(),
		"pop_timeout":    l.config.PopTimeout.String(),
	})

	lastSweep := time.Time{}
	for {
		select {
		case <-ctx.Done():
			l.log.Info("worker loop stopped", nil)
			return ctx.Err()
		default:
		}

		now := time.Now().UTC()
		if now.Sub(lastSweep) >= l.config.SweepInterval {
			if _, err := l.processor.Sweep(now); err != nil {
				l.log.Error("session sweep failed", map[string]interface{}{"error": err.Error()})
			}
			lastSweep = now
		}

		if depth, err := l.queue.Len(ctx); err == nil {
			l.sink.SetQueueDepth(depth)
		}

		jobID, err := l.queue.Dequeue(ctx, l.config.PopTimeout)
		if err == queue.ErrQueueEmpty {
			continue
		}
		if err == queue.ErrQueueClosed || ctx.Err() != nil {
			l.log.Info("worker loop stopped", nil)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		}
		if err != nil {
			l.log.Error("dequeue failed", map[string]interface{}{"error": err.Error()})
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.config.IdleSleep):
			}
			continue
		}

		if _, err := l.processor.Process(ctx, jobID); err != nil {
			l.log.Error("job left unresolved", map[string]interface{}{
				"job_id": jobID,
				"error":  err.Error(),
			})
		}
	}
}
