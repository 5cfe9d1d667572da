package status

import (
	"fmt"

	"passcore/pkg/domain"
)

// ValidateStatusChange enforces the transition graph. Pre-submission statuses
// only move among themselves while the submission is unsubmitted; once
// submitted the status must be post-submission and never returns; terminal
// statuses are never left; and when the vocabulary carries an explicit
// transition table, moves outside it are rejected.
func (c *Calculator) ValidateStatusChange(submitted bool, from, to domain.Status) error {
	v := c.vocab
	reject := func(format string, args ...any) error {
		return &domain.InvalidTransitionError{
			From:      from,
			To:        to,
			Submitted: submitted,
			Reason:    fmt.Sprintf(format, args...),
		}
	}

	if to.IsZero() {
		return reject("target status is empty")
	}
	if !v.Known(to) {
		return reject("target status %s is not in the vocabulary", to)
	}
	if !from.IsZero() && !v.Known(from) {
		return reject("current status %s is not in the vocabulary", from)
	}

	if submitted {
		if v.IsPreSubmission(to) {
			return reject("a submitted record cannot move to pre-submission status %s", to)
		}
	} else {
		if v.IsPostSubmission(to) {
			return reject("an unsubmitted record cannot move to post-submission status %s", to)
		}
		if v.IsPostSubmission(from) {
			return reject("an unsubmitted record cannot hold post-submission status %s", from)
		}
	}

	if from.IsZero() || from == to {
		return nil
	}
	if v.IsTerminal(from) {
		return reject("cannot move from terminal status %s", from)
	}
	if v.HasTransitionTable() {
		// Crossing from pre- to post-submission is governed by the submitted flag.
		if v.IsPreSubmission(from) && v.IsPostSubmission(to) {
			return nil
		}
		allowed, ok := v.transitions[from]
		if !ok {
			return reject("no transitions are configured from %s", from)
		}
		if _, ok := allowed[to]; !ok {
			return reject("transition from %s to %s is not configured", from, to)
		}
	}
	return nil
}
