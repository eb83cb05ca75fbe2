package worker

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signflow/signflow/pkg/logging"
	"github.com/signflow/signflow/pkg/models"
	"github.com/signflow/signflow/pkg/provider"
	"github.com/signflow/signflow/pkg/routing"
	"github.com/signflow/signflow/pkg/store"
	"github.com/signflow/signflow/pkg/tracing"
)

// Job outcomes reported to the sink. Terminal redeliveries report the
// job's existing terminal status instead.
const (
	OutcomeDone     = "done"
	OutcomeFailed   = "failed"
	OutcomeExpired  = "expired"
	OutcomeNotFound = "not_found"
)

// processingFloor is the minimum progress a job shows once a worker
// has picked it up.
const processingFloor = 20

// Sink receives processing observations. The metrics package provides
// the production implementation.
type Sink interface {
	ObserveJob(outcome string, duration time.Duration)
	ObserveSweep(expired int)
	SetQueueDepth(depth int64)
}

// Processor drives one job through its state machine. Every path out
// of Process leaves the job in a consistent state; the queue's
// at-least-once delivery means all transitions are guarded against
// redelivered ids.
type Processor struct {
	store           store.Store
	provider        provider.Provider
	router          *routing.Router
	sink            Sink
	tracer          *tracing.Provider
	providerTimeout time.Duration
	log             *logging.Logger
}

// NewProcessor creates a job processor. providerTimeout bounds each
// provider invocation; zero means no deadline beyond the caller's.
func NewProcessor(s store.Store, p provider.Provider, r *routing.Router, sink Sink, tracer *tracing.Provider, providerTimeout time.Duration, log *logging.Logger) *Processor {
	return &Processor{
		store:           s,
		provider:        p,
		router:          r,
		sink:            sink,
		tracer:          tracer,
		providerTimeout: providerTimeout,
		log:             log,
	}
}

// Process runs one delivery of jobID to completion. The returned
// outcome is what the sink saw; the error is non-nil only for storage
// failures that left the delivery unresolved.
func (p *Processor) Process(ctx context.Context, jobID string) (string, error) {
	start := time.Now()
	ctx, span := p.tracer.StartSpan(ctx, "process_job", attribute.String("job_id", jobID))
	defer span.End()

	outcome, err := p.process(ctx, jobID)
	if err != nil {
		tracing.SetError(ctx, err)
	}
	p.sink.ObserveJob(outcome, time.Since(start))
	return outcome, err
}

func (p *Processor) process(ctx context.Context, jobID string) (string, error) {
	now := time.Now().UTC()

	job, err := p.store.GetJob(jobID)
	if err == store.ErrJobNotFound {
		p.log.Warn("dropped delivery for unknown job", map[string]interface{}{"job_id": jobID})
		return OutcomeNotFound, nil
	}
	if err != nil {
		return OutcomeFailed, err
	}

	// redelivery of a finished job is a no-op
	if models.IsTerminalState(job.Status) {
		p.log.Debug("redelivered terminal job", map[string]interface{}{
			"job_id": jobID,
			"status": string(job.Status),
		})
		return string(job.Status), nil
	}

	session, err := p.store.GetSession(job.SessionID)
	if err != nil {
		return OutcomeFailed, err
	}

	if session.IsExpired(now) {
		if err := p.store.ExpireSessionAndJob(session.ID, job.ID, now); err != nil {
			return OutcomeFailed, err
		}
		p.log.Info("expired job with its session", map[string]interface{}{
			"job_id":     job.ID,
			"session_id": session.ID,
		})
		return OutcomeExpired, nil
	}

	if session.VideoObjectKey == "" {
		if err := p.failJob(job.ID, now, "session has no media bound"); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeFailed, nil
	}

	decision, err := p.router.Resolve(session.ID, job.ModelVersionID)
	if err != nil {
		if ferr := p.failJob(job.ID, now, fmt.Sprintf("model resolution: %v", err)); ferr != nil {
			return OutcomeFailed, ferr
		}
		return OutcomeFailed, nil
	}

	if err := p.store.MarkJobProcessing(job.ID, processingFloor, decision.ModelVersionID, now); err != nil {
		if err == store.ErrJobNotActive {
			// lost the race to another delivery that finished the job
			current, gerr := p.store.GetJob(job.ID)
			if gerr != nil {
				return OutcomeFailed, gerr
			}
			return string(current.Status), nil
		}
		return OutcomeFailed, err
	}

	segments, err := p.transcribe(ctx, job, session, decision)
	if err != nil {
		p.log.Error("transcription failed", map[string]interface{}{
			"job_id":           job.ID,
			"model_version_id": decision.ModelVersionID,
			"error":            err.Error(),
		})
		if ferr := p.store.FailJob(job.ID, time.Now().UTC()); ferr != nil && ferr != store.ErrJobNotActive {
			return OutcomeFailed, ferr
		}
		return OutcomeFailed, nil
	}

	if err := p.store.CompleteJob(job.ID, segments, time.Now().UTC()); err != nil {
		if err == store.ErrJobNotActive {
			current, gerr := p.store.GetJob(job.ID)
			if gerr != nil {
				return OutcomeFailed, gerr
			}
			return string(current.Status), nil
		}
		return OutcomeFailed, err
	}

	p.log.Info("job complete", map[string]interface{}{
		"job_id":           job.ID,
		"session_id":       session.ID,
		"model_version_id": decision.ModelVersionID,
		"route":            string(decision.Source),
		"segments":         len(segments),
	})
	return OutcomeDone, nil
}

// transcribe runs the provider with panic containment and a deadline:
// a panicking backend fails the one job, not the worker, and a stuck
// backend cannot hold the loop past the provider timeout.
func (p *Processor) transcribe(ctx context.Context, job *models.Job, session *models.EditingSession, decision routing.Decision) (segments []*models.TranscriptSegment, err error) {
	defer func() {
		if r := recover(); r != nil {
			segments = nil
			err = fmt.Errorf("provider panic: %v", r)
		}
	}()

	if p.providerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.providerTimeout)
		defer cancel()
	}

	req := provider.Request{
		JobID:          job.ID,
		SessionID:      session.ID,
		MediaObjectKey: session.VideoObjectKey,
		ModelVersionID: decision.ModelVersionID,
	}

	// fallback identity has no registry row to enrich the request with
	if decision.ModelVersionID != models.FallbackModelVersionID {
		if mv, merr := p.store.GetModelVersion(decision.ModelVersionID); merr == nil {
			req.ModelLabel = mv.Name
			req.Repo = mv.Repo
			req.Revision = mv.Revision
			req.ArtifactPath = mv.ArtifactPath
		}
	} else {
		req.ModelLabel = models.FallbackModelVersionID
	}

	segments, err = p.provider.Transcribe(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := models.ValidateSegmentOrder(segments); err != nil {
		return nil, fmt.Errorf("provider returned invalid transcript: %w", err)
	}
	return segments, nil
}

func (p *Processor) failJob(jobID string, at time.Time, reason string) error {
	p.log.Warn("failing job", map[string]interface{}{
		"job_id": jobID,
		"reason": reason,
	})
	err := p.store.FailJob(jobID, at)
	if err == store.ErrJobNotActive {
		return nil
	}
	return err
}

// Regenerate re-runs the provider over a done job's transcript and
// replaces it wholesale with the new pass.
func (p *Processor) Regenerate(ctx context.Context, jobID string) ([]*models.TranscriptSegment, error) {
	job, err := p.store.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusDone {
		return nil, fmt.Errorf("job %s is %s, only done jobs can be regenerated", jobID, job.Status)
	}

	segments, err := p.store.GetSegments(jobID)
	if err != nil {
		return nil, err
	}

	session, err := p.store.GetSession(job.SessionID)
	if err != nil {
		return nil, err
	}

	req := provider.Request{
		JobID:          job.ID,
		SessionID:      session.ID,
		MediaObjectKey: session.VideoObjectKey,
		ModelVersionID: job.ModelVersionID,
	}
	if mv, merr := p.store.GetModelVersion(job.ModelVersionID); merr == nil {
		req.ModelLabel = mv.Name
		req.Repo = mv.Repo
		req.Revision = mv.Revision
		req.ArtifactPath = mv.ArtifactPath
	}

	if p.providerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.providerTimeout)
		defer cancel()
	}
	revised, err := p.provider.Regenerate(ctx, req, segments)
	if err != nil {
		return nil, err
	}
	if err := models.ValidateSegmentOrder(revised); err != nil {
		return nil, fmt.Errorf("provider returned invalid transcript: %w", err)
	}

	if err := p.store.ReplaceSegments(jobID, revised, time.Now().UTC()); err != nil {
		return nil, err
	}

	p.log.Info("transcript regenerated", map[string]interface{}{
		"job_id":   jobID,
		"segments": len(revised),
	})
	return revised, nil
}

// Sweep expires sessions whose window has passed, together with their
// still-workable jobs.
func (p *Processor) Sweep(now time.Time) (int, error) {
	expired, err := p.store.ExpireSessions(now)
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		p.log.Info("session sweep", map[string]interface{}{"expired": expired})
	}
	p.sink.ObserveSweep(expired)
	return expired, nil
}
