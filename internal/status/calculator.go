package status

import (
	"sort"

	"passcore/pkg/domain"
)

// Calculator applies a vocabulary's rules to materialized records.
type Calculator struct {
	vocab *Vocabulary
}

// NewCalculator returns a calculator for the supplied vocabulary, falling
// back to the default vocabulary when nil.
func NewCalculator(vocab *Vocabulary) *Calculator {
	if vocab == nil {
		vocab = DefaultVocabulary()
	}
	return &Calculator{vocab: vocab}
}

// Vocabulary returns the vocabulary the calculator was built with.
func (c *Calculator) Vocabulary() *Vocabulary { return c.vocab }

// CalculatePreSubmissionStatus folds the event log in chronological order.
// Each mapped event kind sets the running status and unmapped kinds leave it
// untouched. When no event determines a status the current status is kept,
// and a submission with neither receives the vocabulary's initial status.
func (c *Calculator) CalculatePreSubmissionStatus(events []domain.SubmissionEvent, current domain.Status) domain.Status {
	ordered := make([]domain.SubmissionEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if !a.PerformedDate.Equal(b.PerformedDate) {
			return a.PerformedDate.Before(b.PerformedDate)
		}
		return a.ID < b.ID
	})

	var result domain.Status
	for _, event := range ordered {
		if s, ok := c.vocab.EventStatus(event.EventType); ok {
			result = s
		}
	}
	switch {
	case !result.IsZero():
		return result
	case !current.IsZero():
		return current
	default:
		return c.vocab.Initial()
	}
}

// TargetOutcome is the derived outcome of one required repository.
type TargetOutcome struct {
	Repository string
	Outcome    Outcome
	Deposits   []string
	Copies     []string
}

// Assessment explains a post-submission calculation.
type Assessment struct {
	Targets   []TargetOutcome
	Aggregate Outcome
	Status    domain.Status
}

// CalculatePostSubmissionStatus aggregates per-repository outcomes into one
// post-submission status.
func (c *Calculator) CalculatePostSubmissionStatus(required []string, deposits []domain.Deposit, copies []domain.RepositoryCopy) domain.Status {
	return c.AssessPostSubmission(required, deposits, copies).Status
}

// AssessPostSubmission computes the outcome of every distinct required
// repository and the aggregate. The result does not depend on the order of
// the inputs.
func (c *Calculator) AssessPostSubmission(required []string, deposits []domain.Deposit, copies []domain.RepositoryCopy) Assessment {
	depositsByRepo := make(map[string][]domain.Deposit)
	for _, d := range deposits {
		if d.Repository == "" {
			continue
		}
		depositsByRepo[d.Repository] = append(depositsByRepo[d.Repository], d)
	}
	copiesByRepo := make(map[string][]domain.RepositoryCopy)
	for _, rc := range copies {
		if rc.Repository == "" {
			continue
		}
		copiesByRepo[rc.Repository] = append(copiesByRepo[rc.Repository], rc)
	}

	repos := distinctSorted(required)
	assessment := Assessment{Targets: make([]TargetOutcome, 0, len(repos))}
	outcomes := make([]Outcome, 0, len(repos))
	for _, repo := range repos {
		target := c.targetOutcome(repo, depositsByRepo[repo], copiesByRepo[repo])
		assessment.Targets = append(assessment.Targets, target)
		outcomes = append(outcomes, target.Outcome)
	}
	assessment.Aggregate = c.Aggregate(outcomes...)
	assessment.Status = c.vocab.StatusFor(assessment.Aggregate)
	return assessment
}

func (c *Calculator) targetOutcome(repo string, deposits []domain.Deposit, copies []domain.RepositoryCopy) TargetOutcome {
	target := TargetOutcome{Repository: repo, Outcome: OutcomePending}
	for _, rc := range copies {
		target.Copies = append(target.Copies, rc.ID)
	}
	sort.Strings(target.Copies)
	if len(deposits) == 0 {
		return target
	}

	copyOutcome := OutcomeInProgress
	if len(copies) > 0 {
		candidates := make([]Outcome, 0, len(copies))
		for _, rc := range copies {
			candidates = append(candidates, c.vocab.copyOutcome(rc.CopyStatus))
		}
		copyOutcome = c.best(candidates)
	}

	candidates := make([]Outcome, 0, len(deposits))
	for _, d := range deposits {
		target.Deposits = append(target.Deposits, d.ID)
		if c.vocab.depositFailedStatus(d.DepositStatus) {
			candidates = append(candidates, OutcomeFailed)
			continue
		}
		candidates = append(candidates, copyOutcome)
	}
	sort.Strings(target.Deposits)
	target.Outcome = c.best(candidates)
	return target
}

// Aggregate returns the most attention-requiring outcome under the
// vocabulary precedence. No outcomes aggregate to complete.
func (c *Calculator) Aggregate(outcomes ...Outcome) Outcome {
	if len(outcomes) == 0 {
		return OutcomeComplete
	}
	worst := outcomes[0]
	for _, o := range outcomes[1:] {
		if c.vocab.Rank(o) < c.vocab.Rank(worst) {
			worst = o
		}
	}
	return worst
}

// best returns the least attention-requiring outcome.
func (c *Calculator) best(outcomes []Outcome) Outcome {
	best := outcomes[0]
	for _, o := range outcomes[1:] {
		if c.vocab.Rank(o) > c.vocab.Rank(best) {
			best = o
		}
	}
	return best
}

func distinctSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
