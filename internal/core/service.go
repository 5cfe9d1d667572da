// Package core hosts the submission status service. It loads a submission,
// gathers the records its status depends on, derives the next status with the
// vocabulary-driven calculator, validates the change and persists it under
// optimistic concurrency.
package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"passcore/internal/history"
	"passcore/internal/links"
	"passcore/internal/logging"
	"passcore/internal/observability"
	"passcore/internal/status"
	"passcore/pkg/domain"
)

// Operation names reported to metrics recorders and tracers.
const (
	OperationCalculate = "calculate_submission_status"
	OperationUpdate    = "update_submission_status"
)

type (
	MetricsRecorder = observability.MetricsRecorder
	Tracer          = observability.Tracer
)

// Option configures a StatusService.
type Option func(*StatusService)

// WithLogger sets the service logger.
func WithLogger(l logr.Logger) Option {
	return func(s *StatusService) { s.log = l }
}

// WithMetrics installs a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *StatusService) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer installs a tracer.
func WithTracer(t Tracer) Option {
	return func(s *StatusService) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithHistory records every persisted status change with r.
func WithHistory(r history.Recorder) Option {
	return func(s *StatusService) {
		if r != nil {
			s.history = r
		}
	}
}

// WithFetchConcurrency bounds parallel reads of connected records.
func WithFetchConcurrency(n int) Option {
	return func(s *StatusService) {
		if n > 0 {
			s.fetchConcurrency = n
		}
	}
}

// WithClock overrides the time source used for update timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *StatusService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPatterns overrides the identifier predicates used to filter linked records.
func WithPatterns(p links.Patterns) Option {
	return func(s *StatusService) { s.patterns = p }
}

// StatusService calculates and persists submission statuses. It holds no
// per-call state and is safe for concurrent use.
type StatusService struct {
	store            domain.RecordStore
	calc             *status.Calculator
	resolver         *links.Resolver
	log              logr.Logger
	metrics          MetricsRecorder
	tracer           Tracer
	history          history.Recorder
	now              func() time.Time
	fetchConcurrency int
	patterns         links.Patterns
}

// NewStatusService builds a service over store. A nil vocabulary selects the
// built-in default.
func NewStatusService(store domain.RecordStore, vocab *status.Vocabulary, opts ...Option) *StatusService {
	s := &StatusService{
		store:            store,
		calc:             status.NewCalculator(vocab),
		log:              logr.Discard(),
		metrics:          observability.NopMetrics{},
		tracer:           observability.NopTracer{},
		history:          history.Nop{},
		now:              func() time.Time { return time.Now().UTC() },
		fetchConcurrency: links.DefaultFetchConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.resolver = links.NewResolver(store,
		links.WithPatterns(s.patterns),
		links.WithConcurrency(s.fetchConcurrency),
		links.WithLogger(s.log.WithName("links")),
	)
	return s
}

// Vocabulary returns the vocabulary statuses are drawn from.
func (s *StatusService) Vocabulary() *status.Vocabulary { return s.calc.Vocabulary() }

// Resolver returns the link resolver used to gather connected records.
func (s *StatusService) Resolver() *links.Resolver { return s.resolver }

type evaluation struct {
	submission domain.Submission
	target     domain.Status
}

// CalculateSubmissionStatus derives and validates the status the submission
// should hold without persisting it.
func (s *StatusService) CalculateSubmissionStatus(ctx context.Context, id string) (result domain.Status, err error) {
	ctx, finish := s.instrument(ctx, OperationCalculate)
	defer func() { finish(err) }()

	ev, err := s.evaluate(ctx, id)
	if err != nil {
		return "", err
	}
	return ev.target, nil
}

// CalculateAndUpdateSubmissionStatus derives the submission's status and
// persists it when it differs from the stored one. A submission that is not
// yet submitted keeps a status set through the user interface unless
// overrideUIStatus is true. A concurrent modification surfaces as
// *domain.ConflictError and nothing is written.
func (s *StatusService) CalculateAndUpdateSubmissionStatus(ctx context.Context, id string, overrideUIStatus bool) (result domain.Status, err error) {
	ctx, finish := s.instrument(ctx, OperationUpdate)
	defer func() { finish(err) }()

	ev, err := s.evaluate(ctx, id)
	if err != nil {
		return "", err
	}
	sub := ev.submission
	from := sub.SubmissionStatus
	log := s.log.WithValues("submission", id, "submitted", sub.Submitted)

	if ev.target == from {
		log.V(logging.DEBUG).Info("submission status unchanged", "status", from)
		return from, nil
	}
	if !sub.Submitted && !from.IsZero() && !overrideUIStatus {
		log.Info("keeping status set before submission", "stored", from, "calculated", ev.target)
		return from, nil
	}

	updated := sub
	updated.SubmissionStatus = ev.target
	updated.UpdatedAt = s.now()
	rec, err := domain.EncodeRecord(updated)
	if err != nil {
		return "", err
	}
	version, err := s.store.Write(ctx, rec, sub.Version)
	if err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			log.V(logging.VERBOSE).Info("submission changed concurrently", "expected", conflict.Expected, "actual", conflict.Actual)
			return "", conflict
		}
		return "", fmt.Errorf("persist submission %s: %w", id, err)
	}
	log.Info("updated submission status", "from", from, "to", ev.target, "version", version)

	if obs, ok := s.metrics.(observability.StatusChangeObserver); ok {
		obs.ObserveStatusChange(ctx, from, ev.target)
	}
	if _, herr := s.history.Record(ctx, history.Entry{
		SubmissionID: id,
		From:         from,
		To:           ev.target,
		Submitted:    sub.Submitted,
		Override:     overrideUIStatus,
		Version:      version,
		RecordedAt:   updated.UpdatedAt,
	}); herr != nil {
		log.Error(herr, "record status history")
	}
	return ev.target, nil
}

func (s *StatusService) instrument(ctx context.Context, operation string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, operation)
	return ctx, func(err error) {
		span.End(err)
		s.metrics.Observe(ctx, operation, err == nil, time.Since(start))
	}
}

func (s *StatusService) evaluate(ctx context.Context, id string) (evaluation, error) {
	sub, err := s.loadSubmission(ctx, id)
	if err != nil {
		return evaluation{}, err
	}

	var target domain.Status
	if sub.Submitted {
		target, err = s.postSubmissionStatus(ctx, sub)
	} else {
		target, err = s.preSubmissionStatus(ctx, sub)
	}
	if err != nil {
		return evaluation{}, err
	}

	if err := s.calc.ValidateStatusChange(sub.Submitted, sub.SubmissionStatus, target); err != nil {
		return evaluation{}, &domain.StatusChangeError{
			SubmissionID: id,
			From:         sub.SubmissionStatus,
			To:           target,
			Err:          err,
		}
	}
	return evaluation{submission: sub, target: target}, nil
}

func (s *StatusService) loadSubmission(ctx context.Context, id string) (domain.Submission, error) {
	if id == "" {
		return domain.Submission{}, domain.NotFoundError{Kind: domain.EntitySubmission, ID: id}
	}
	rec, err := s.store.Read(ctx, id)
	if err != nil {
		if domain.IsNotFound(err) {
			return domain.Submission{}, domain.NotFoundError{Kind: domain.EntitySubmission, ID: id}
		}
		var le *domain.LoadError
		if errors.As(err, &le) {
			return domain.Submission{}, err
		}
		return domain.Submission{}, &domain.LoadError{ID: id, Err: err}
	}
	sub, err := domain.DecodeRecord[domain.Submission](rec)
	if err != nil {
		return domain.Submission{}, &domain.LoadError{ID: id, Err: err}
	}
	return sub, nil
}

func (s *StatusService) preSubmissionStatus(ctx context.Context, sub domain.Submission) (domain.Status, error) {
	ids, err := s.resolver.RetrieveLinks(ctx, sub.ID, domain.RelationSubmission)
	if err != nil {
		return "", err
	}
	events, err := links.GetConnectedRecords[domain.SubmissionEvent](ctx, s.resolver, ids)
	if err != nil {
		return "", err
	}
	return s.calc.CalculatePreSubmissionStatus(events, sub.SubmissionStatus), nil
}

func (s *StatusService) postSubmissionStatus(ctx context.Context, sub domain.Submission) (domain.Status, error) {
	ids, err := s.resolver.RetrieveLinks(ctx, sub.ID, domain.RelationSubmission)
	if err != nil {
		return "", err
	}
	deposits, err := links.GetConnectedRecords[domain.Deposit](ctx, s.resolver, ids)
	if err != nil {
		return "", err
	}

	var copies []domain.RepositoryCopy
	if sub.Publication != "" {
		copyIDs, err := s.resolver.RetrieveLinks(ctx, sub.Publication, domain.RelationPublication)
		if err != nil {
			return "", err
		}
		copies, err = links.GetConnectedRecords[domain.RepositoryCopy](ctx, s.resolver, copyIDs)
		if err != nil {
			return "", err
		}
	}
	return s.calc.CalculatePostSubmissionStatus(sub.Repositories, deposits, copies), nil
}
