package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"passcore/internal/blob"
	"passcore/internal/history"
	"passcore/internal/logging"
	"passcore/internal/status"
	"passcore/pkg/domain"
)

func newService(store domain.RecordStore, opts ...Option) *StatusService {
	opts = append([]Option{WithLogger(logging.NewTestLogger())}, opts...)
	return NewStatusService(store, nil, opts...)
}

func TestUnsubmittedWithoutEventsGetsInitialStatus(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	seed(t, store, submission(subID, false, "", repo1))
	svc := newService(store)

	calculated, err := svc.CalculateSubmissionStatus(ctx, subID)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if calculated != "manuscript-required" {
		t.Fatalf("expected manuscript-required, got %s", calculated)
	}
	if store.writeCount() != 1 {
		t.Fatalf("calculate must not write, writes=%d", store.writeCount())
	}

	updated, err := svc.CalculateAndUpdateSubmissionStatus(ctx, subID, false)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated != "manuscript-required" {
		t.Fatalf("expected manuscript-required, got %s", updated)
	}
	if got := loadSubmission(t, store, subID).SubmissionStatus; got != "manuscript-required" {
		t.Fatalf("stored status %s", got)
	}
}

func TestSubmittedWithMissingDepositIsPending(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	seed(t, store,
		submission(subID, true, "approval-requested", repo1, repo2),
		deposit("deposits/d1", repo1, "accepted"),
		repoCopy("repositoryCopies/c1", repo1, "complete"),
	)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	hist := &captureHistory{}
	svc := newService(store, WithClock(func() time.Time { return now }), WithHistory(hist))

	got, err := svc.CalculateAndUpdateSubmissionStatus(ctx, subID, false)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got != "submitted" {
		t.Fatalf("expected submitted, got %s", got)
	}
	stored := loadSubmission(t, store, subID)
	if stored.SubmissionStatus != "submitted" || !stored.UpdatedAt.Equal(now) {
		t.Fatalf("unexpected stored submission %+v", stored)
	}
	if diff := cmp.Diff([]string{repo1, repo2}, stored.Repositories); diff != "" {
		t.Fatalf("repositories changed (-want +got):\n%s", diff)
	}

	want := []history.Entry{{
		SubmissionID: subID,
		From:         "approval-requested",
		To:           "submitted",
		Submitted:    true,
		Version:      stored.Version,
		RecordedAt:   now,
	}}
	if diff := cmp.Diff(want, hist.entries); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmittedWithFailedDepositNeedsAttention(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	seed(t, store,
		submission(subID, true, "submitted", repo1),
		deposit("deposits/d1", repo1, "failed"),
	)
	svc := newService(store)

	got, err := svc.CalculateAndUpdateSubmissionStatus(ctx, subID, false)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got != "needs-attention" {
		t.Fatalf("expected needs-attention, got %s", got)
	}
}

func TestAllCopiesCompleteIsComplete(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	seed(t, store,
		submission(subID, true, "submitted", repo1, repo2),
		deposit("deposits/d1", repo1, "accepted"),
		deposit("deposits/d2", repo2, "accepted"),
		repoCopy("repositoryCopies/c1", repo1, "complete"),
		repoCopy("repositoryCopies/c2", repo2, "complete"),
	)
	got, err := newService(store).CalculateAndUpdateSubmissionStatus(ctx, subID, false)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got != "complete" {
		t.Fatalf("expected complete, got %s", got)
	}
}

func TestUpdateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	seed(t, store,
		submission(subID, true, "", repo1),
		deposit("deposits/d1", repo1, "submitted"),
	)
	svc := newService(store)

	first, err := svc.CalculateAndUpdateSubmissionStatus(ctx, subID, false)
	if err != nil {
		t.Fatalf("first update: %v", err)
	}
	writes := store.writeCount()
	version := loadSubmission(t, store, subID).Version

	second, err := svc.CalculateAndUpdateSubmissionStatus(ctx, subID, false)
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if first != second {
		t.Fatalf("expected %s twice, got %s", first, second)
	}
	if store.writeCount() != writes {
		t.Fatalf("second update wrote a record")
	}
	if got := loadSubmission(t, store, subID).Version; got != version {
		t.Fatalf("version moved from %s to %s", version, got)
	}
}

func TestStatusSetBeforeSubmissionIsProtected(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	seed(t, store,
		submission(subID, false, "approval-requested", repo1),
		event("submissionEvents/e1", "approval-requested", 0),
		event("submissionEvents/e2", "changes-requested", time.Hour),
	)
	hist := &captureHistory{}
	svc := newService(store, WithHistory(hist))
	before := store.writeCount()

	calculated, err := svc.CalculateSubmissionStatus(ctx, subID)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if calculated != "changes-requested" {
		t.Fatalf("expected changes-requested, got %s", calculated)
	}

	got, err := svc.CalculateAndUpdateSubmissionStatus(ctx, subID, false)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got != "approval-requested" {
		t.Fatalf("protected update should return stored status, got %s", got)
	}
	if store.writeCount() != before || len(hist.entries) != 0 {
		t.Fatalf("protected update must not write")
	}

	got, err = svc.CalculateAndUpdateSubmissionStatus(ctx, subID, true)
	if err != nil {
		t.Fatalf("override update: %v", err)
	}
	if got != "changes-requested" {
		t.Fatalf("expected changes-requested, got %s", got)
	}
	if stored := loadSubmission(t, store, subID).SubmissionStatus; stored != "changes-requested" {
		t.Fatalf("stored status %s", stored)
	}
	if len(hist.entries) != 1 || !hist.entries[0].Override {
		t.Fatalf("expected one override history entry, got %+v", hist.entries)
	}
}

func TestEventsAreFoldedChronologically(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	seed(t, store,
		submission(subID, false, ""),
		event("submissionEvents/late", "approval-requested", 2*time.Hour),
		event("submissionEvents/early", "changes-requested", time.Hour),
		event("submissionEvents/note", "comment-added", 3*time.Hour),
	)
	got, err := newService(store).CalculateSubmissionStatus(ctx, subID)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if got != "approval-requested" {
		t.Fatalf("expected approval-requested, got %s", got)
	}
}

func TestPhasesUseOnlyTheirOwnRecords(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	seed(t, store,
		submission(subID, false, ""),
		deposit("deposits/d1", repo1, "failed"),
		repoCopy("repositoryCopies/c1", repo1, "rejected"),
	)
	svc := newService(store)
	got, err := svc.CalculateSubmissionStatus(ctx, subID)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if got != "manuscript-required" {
		t.Fatalf("deposits must not affect unsubmitted status, got %s", got)
	}

	store2 := newCountingStore()
	seed(t, store2,
		submission(subID, true, "", repo1),
		event("submissionEvents/e1", "cancelled", 0),
	)
	got, err = newService(store2).CalculateSubmissionStatus(ctx, subID)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if got != "submitted" {
		t.Fatalf("events must not affect submitted status, got %s", got)
	}
}

func TestInvalidTransitionIsRejectedWithoutWrite(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		sub   domain.Submission
		extra []domain.Entity
		from  domain.Status
		to    domain.Status
	}{
		{
			name:  "terminal complete",
			sub:   submission(subID, true, "complete", repo1),
			extra: []domain.Entity{deposit("deposits/d1", repo1, "failed")},
			from:  "complete",
			to:    "needs-attention",
		},
		{
			name: "unsubmitted holding post-submission status",
			sub:  submission(subID, false, "submitted"),
			from: "submitted",
			to:   "submitted",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newCountingStore()
			seed(t, store, append([]domain.Entity{tt.sub}, tt.extra...)...)
			before := store.writeCount()

			_, err := newService(store).CalculateAndUpdateSubmissionStatus(ctx, subID, true)
			var sce *domain.StatusChangeError
			if !errors.As(err, &sce) {
				t.Fatalf("expected StatusChangeError, got %v", err)
			}
			if sce.SubmissionID != subID || sce.From != tt.from || sce.To != tt.to {
				t.Fatalf("unexpected error fields %+v", sce)
			}
			if !domain.IsInvalidTransition(err) {
				t.Fatalf("expected wrapped InvalidTransitionError, got %v", err)
			}
			if store.writeCount() != before {
				t.Fatalf("rejected change must not write")
			}
		})
	}
}

func TestConcurrentModificationSurfacesConflict(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	seed(t, store,
		submission(subID, true, "", repo1),
		deposit("deposits/d1", repo1, "accepted"),
	)
	store.raceOnce = true

	_, err := newService(store).CalculateAndUpdateSubmissionStatus(ctx, subID, false)
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.ID != subID || conflict.Expected == conflict.Actual {
		t.Fatalf("unexpected conflict %+v", conflict)
	}
	if got := loadSubmission(t, store, subID).SubmissionStatus; got != "" {
		t.Fatalf("conflicting write must not persist, got %s", got)
	}

	got, err := newService(store).CalculateAndUpdateSubmissionStatus(ctx, subID, false)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got != "submitted" {
		t.Fatalf("expected submitted on retry, got %s", got)
	}
}

func TestLoadFailures(t *testing.T) {
	ctx := context.Background()

	store := newCountingStore()
	_, err := newService(store).CalculateAndUpdateSubmissionStatus(ctx, "submissions/missing", false)
	var nf domain.NotFoundError
	if !errors.As(err, &nf) || nf.ID != "submissions/missing" || nf.Kind != domain.EntitySubmission {
		t.Fatalf("expected submission NotFoundError, got %v", err)
	}

	store.readErr = errBackend
	_, err = newService(store).CalculateSubmissionStatus(ctx, subID)
	var le *domain.LoadError
	if !errors.As(err, &le) || le.ID != subID || !errors.Is(err, errBackend) {
		t.Fatalf("expected LoadError wrapping backend error, got %v", err)
	}

	store = newCountingStore()
	if _, err := store.Write(ctx, brokenRecord(subID, domain.EntitySubmission, nil), ""); err != nil {
		t.Fatalf("seed broken submission: %v", err)
	}
	_, err = newService(store).CalculateSubmissionStatus(ctx, subID)
	if !errors.As(err, &le) {
		t.Fatalf("expected LoadError for malformed submission, got %v", err)
	}
}

func TestBrokenLinkedRecordFailsWholeCalculation(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	seed(t, store, submission(subID, true, "", repo1))
	broken := brokenRecord("deposits/d1", domain.EntityDeposit, map[string][]string{domain.RelationSubmission: {subID}})
	if _, err := store.Write(ctx, broken, ""); err != nil {
		t.Fatalf("seed broken deposit: %v", err)
	}
	before := store.writeCount()

	_, err := newService(store).CalculateAndUpdateSubmissionStatus(ctx, subID, false)
	var rle *domain.RecordLoadError
	if !errors.As(err, &rle) || rle.ID != "deposits/d1" || rle.Kind != domain.EntityDeposit {
		t.Fatalf("expected RecordLoadError for deposit, got %v", err)
	}
	if store.writeCount() != before {
		t.Fatalf("failed calculation must not write")
	}
}

func TestHistoryFailureDoesNotFailUpdate(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	seed(t, store, submission(subID, false, ""))
	svc := newService(store, WithHistory(&captureHistory{err: errBackend}))

	got, err := svc.CalculateAndUpdateSubmissionStatus(ctx, subID, false)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got != "manuscript-required" {
		t.Fatalf("expected manuscript-required, got %s", got)
	}
}

func TestHistoryArchivedInBlobStore(t *testing.T) {
	ctx := context.Background()
	blobs, err := blob.Open(ctx, blob.Config{Driver: blob.DriverMemory})
	if err != nil {
		t.Fatalf("open blob store: %v", err)
	}
	recorder := history.NewBlobRecorder(blobs)
	store := newCountingStore()
	seed(t, store,
		submission(subID, false, ""),
		event("submissionEvents/e1", "approval-requested", 0),
	)
	if _, err := newService(store, WithHistory(recorder)).CalculateAndUpdateSubmissionStatus(ctx, subID, false); err != nil {
		t.Fatalf("update: %v", err)
	}
	entries, err := recorder.List(ctx, subID)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(entries) != 1 || entries[0].To != "approval-requested" || entries[0].From != "" {
		t.Fatalf("unexpected history %+v", entries)
	}
}

func TestCustomVocabulary(t *testing.T) {
	vocab, err := status.ParseVocabulary([]byte(`
preSubmission:
  initial: draft
  statuses: [draft]
postSubmission:
  statuses: [deposited, attention, archived]
terminal: [archived]
outcomes:
  precedence: [failed, pending, in-progress, complete]
  status: {failed: attention, pending: deposited, in-progress: deposited, complete: archived}
copies:
  complete: [complete]
`))
	if err != nil {
		t.Fatalf("parse vocabulary: %v", err)
	}
	store := newCountingStore()
	seed(t, store,
		submission(subID, true, "draft", repo1),
		deposit("deposits/d1", repo1, "accepted"),
		repoCopy("repositoryCopies/c1", repo1, "complete"),
	)
	svc := NewStatusService(store, vocab)
	got, err := svc.CalculateAndUpdateSubmissionStatus(context.Background(), subID, false)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got != "archived" {
		t.Fatalf("expected archived, got %s", got)
	}
	if svc.Vocabulary() != vocab {
		t.Fatalf("service should expose its vocabulary")
	}
}

func TestCancelledContextAbortsWithoutWrite(t *testing.T) {
	store := newCountingStore()
	seed(t, store,
		submission(subID, true, "", repo1),
		deposit("deposits/d1", repo1, "accepted"),
	)
	before := store.writeCount()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := newService(store).CalculateAndUpdateSubmissionStatus(ctx, subID, false); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if store.writeCount() != before {
		t.Fatalf("cancelled update must not write")
	}
}
