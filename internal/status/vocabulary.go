// Package status derives submission status values from materialized records
// and validates status transitions. The package performs no I/O: callers load
// records and the deployment vocabulary and hand them in.
package status

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"

	"passcore/pkg/domain"
)

//go:embed default_vocabulary.yaml
var defaultVocabularyYAML []byte

// Outcome is the derived state of one required repository for a submission.
type Outcome string

// Per-target outcomes recognised by the post-submission aggregation.
const (
	OutcomeFailed     Outcome = "failed"
	OutcomePending    Outcome = "pending"
	OutcomeInProgress Outcome = "in-progress"
	OutcomeComplete   Outcome = "complete"
)

// Outcomes returns every per-target outcome.
func Outcomes() []Outcome {
	return []Outcome{OutcomeFailed, OutcomePending, OutcomeInProgress, OutcomeComplete}
}

type phase int

const (
	phaseUnknown phase = iota
	phasePre
	phasePost
)

// vocabularyDocument is the YAML shape of a deployment vocabulary.
type vocabularyDocument struct {
	PreSubmission struct {
		Initial  string   `yaml:"initial"`
		Statuses []string `yaml:"statuses"`
	} `yaml:"preSubmission"`
	PostSubmission struct {
		Statuses []string `yaml:"statuses"`
	} `yaml:"postSubmission"`
	Terminal []string          `yaml:"terminal"`
	Events   map[string]string `yaml:"events"`
	Outcomes struct {
		Precedence []string          `yaml:"precedence"`
		Status     map[string]string `yaml:"status"`
	} `yaml:"outcomes"`
	Deposits struct {
		Failed []string `yaml:"failed"`
	} `yaml:"deposits"`
	Copies struct {
		Complete []string `yaml:"complete"`
		Failed   []string `yaml:"failed"`
	} `yaml:"copies"`
	Transitions map[string][]string `yaml:"transitions"`
}

// Vocabulary is the immutable, validated status configuration of a
// deployment: the pre- and post-submission status lists, the event mapping
// used by the pre-submission fold and the outcome precedence used by the
// post-submission aggregation.
type Vocabulary struct {
	pre           []domain.Status
	post          []domain.Status
	phases        map[domain.Status]phase
	initial       domain.Status
	terminal      map[domain.Status]struct{}
	events        map[string]domain.Status
	precedence    []Outcome
	rank          map[Outcome]int
	outcomeStatus map[Outcome]domain.Status
	depositFailed map[string]struct{}
	copyComplete  map[string]struct{}
	copyFailed    map[string]struct{}
	transitions   map[domain.Status]map[domain.Status]struct{}
}

var defaultVocabulary = mustParseVocabulary(defaultVocabularyYAML)

func mustParseVocabulary(data []byte) *Vocabulary {
	v, err := ParseVocabulary(data)
	if err != nil {
		panic(fmt.Errorf("default vocabulary: %w", err))
	}
	return v
}

// DefaultVocabulary returns the built-in PASS vocabulary.
func DefaultVocabulary() *Vocabulary {
	return defaultVocabulary
}

// DefaultVocabularyYAML returns a copy of the built-in vocabulary document.
func DefaultVocabularyYAML() []byte {
	return bytes.Clone(defaultVocabularyYAML)
}

// LoadVocabulary reads and validates a YAML vocabulary document.
func LoadVocabulary(r io.Reader) (*Vocabulary, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}
	return ParseVocabulary(data)
}

// ParseVocabulary decodes and validates a YAML vocabulary document. Unknown
// fields are rejected so that typos surface at startup.
func ParseVocabulary(data []byte) (*Vocabulary, error) {
	var doc vocabularyDocument
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode vocabulary: %w", err)
	}
	return buildVocabulary(doc)
}

func buildVocabulary(doc vocabularyDocument) (*Vocabulary, error) {
	var errs []error
	v := &Vocabulary{
		phases:        make(map[domain.Status]phase),
		terminal:      make(map[domain.Status]struct{}),
		events:        make(map[string]domain.Status),
		rank:          make(map[Outcome]int),
		outcomeStatus: make(map[Outcome]domain.Status),
		depositFailed: toSet(doc.Deposits.Failed),
		copyComplete:  toSet(doc.Copies.Complete),
		copyFailed:    toSet(doc.Copies.Failed),
	}

	if len(doc.PreSubmission.Statuses) == 0 {
		errs = append(errs, errors.New("preSubmission.statuses must not be empty"))
	}
	if len(doc.PostSubmission.Statuses) == 0 {
		errs = append(errs, errors.New("postSubmission.statuses must not be empty"))
	}
	for _, name := range doc.PreSubmission.Statuses {
		s := domain.Status(name)
		if err := v.addStatus(s, phasePre); err != nil {
			errs = append(errs, err)
			continue
		}
		v.pre = append(v.pre, s)
	}
	for _, name := range doc.PostSubmission.Statuses {
		s := domain.Status(name)
		if err := v.addStatus(s, phasePost); err != nil {
			errs = append(errs, err)
			continue
		}
		v.post = append(v.post, s)
	}

	v.initial = domain.Status(doc.PreSubmission.Initial)
	if v.initial.IsZero() && len(v.pre) > 0 {
		v.initial = v.pre[0]
	}
	if !v.IsPreSubmission(v.initial) {
		errs = append(errs, fmt.Errorf("preSubmission.initial %q is not a pre-submission status", v.initial))
	}

	for _, name := range doc.Terminal {
		s := domain.Status(name)
		if !v.Known(s) {
			errs = append(errs, fmt.Errorf("terminal status %q is not in the vocabulary", s))
			continue
		}
		v.terminal[s] = struct{}{}
	}

	for kind, target := range doc.Events {
		s := domain.Status(target)
		if !v.IsPreSubmission(s) {
			errs = append(errs, fmt.Errorf("event %q maps to %q which is not a pre-submission status", kind, s))
			continue
		}
		v.events[kind] = s
	}

	errs = append(errs, v.buildPrecedence(doc.Outcomes.Precedence, doc.Outcomes.Status)...)
	errs = append(errs, v.buildTransitions(doc.Transitions)...)

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid vocabulary: %w", errors.Join(errs...))
	}
	return v, nil
}

func (v *Vocabulary) addStatus(s domain.Status, p phase) error {
	if s.IsZero() {
		return errors.New("status names must not be empty")
	}
	if existing, ok := v.phases[s]; ok {
		if existing != p {
			return fmt.Errorf("status %q is listed as both pre- and post-submission", s)
		}
		return fmt.Errorf("status %q is listed twice", s)
	}
	v.phases[s] = p
	return nil
}

func (v *Vocabulary) buildPrecedence(order []string, statuses map[string]string) []error {
	var errs []error
	for i, name := range order {
		o := Outcome(name)
		if !slices.Contains(Outcomes(), o) {
			errs = append(errs, fmt.Errorf("outcomes.precedence: unknown outcome %q", name))
			continue
		}
		if _, dup := v.rank[o]; dup {
			errs = append(errs, fmt.Errorf("outcomes.precedence: outcome %q listed twice", name))
			continue
		}
		v.rank[o] = i
		v.precedence = append(v.precedence, o)
	}
	for _, o := range Outcomes() {
		if _, ok := v.rank[o]; !ok {
			errs = append(errs, fmt.Errorf("outcomes.precedence: outcome %q missing", o))
		}
		target, ok := statuses[string(o)]
		if !ok {
			errs = append(errs, fmt.Errorf("outcomes.status: no status for outcome %q", o))
			continue
		}
		s := domain.Status(target)
		if !v.IsPostSubmission(s) {
			errs = append(errs, fmt.Errorf("outcomes.status: outcome %q maps to %q which is not a post-submission status", o, s))
			continue
		}
		v.outcomeStatus[o] = s
	}
	for name := range statuses {
		if !slices.Contains(Outcomes(), Outcome(name)) {
			errs = append(errs, fmt.Errorf("outcomes.status: unknown outcome %q", name))
		}
	}
	return errs
}

func (v *Vocabulary) buildTransitions(table map[string][]string) []error {
	if len(table) == 0 {
		return nil
	}
	var errs []error
	v.transitions = make(map[domain.Status]map[domain.Status]struct{}, len(table))
	for from, targets := range table {
		fs := domain.Status(from)
		if !v.Known(fs) {
			errs = append(errs, fmt.Errorf("transitions: unknown status %q", from))
			continue
		}
		allowed := make(map[domain.Status]struct{}, len(targets))
		for _, to := range targets {
			ts := domain.Status(to)
			if !v.Known(ts) {
				errs = append(errs, fmt.Errorf("transitions: %q lists unknown status %q", from, to))
				continue
			}
			allowed[ts] = struct{}{}
		}
		v.transitions[fs] = allowed
	}
	return errs
}

// PreSubmissionStatuses returns the ordered pre-submission statuses.
func (v *Vocabulary) PreSubmissionStatuses() []domain.Status { return slices.Clone(v.pre) }

// PostSubmissionStatuses returns the ordered post-submission statuses.
func (v *Vocabulary) PostSubmissionStatuses() []domain.Status { return slices.Clone(v.post) }

// Initial returns the status assigned to a new submission with no history.
func (v *Vocabulary) Initial() domain.Status { return v.initial }

// Known reports whether s belongs to the vocabulary.
func (v *Vocabulary) Known(s domain.Status) bool {
	_, ok := v.phases[s]
	return ok
}

// IsPreSubmission reports whether s is a pre-submission status.
func (v *Vocabulary) IsPreSubmission(s domain.Status) bool { return v.phases[s] == phasePre }

// IsPostSubmission reports whether s is a post-submission status.
func (v *Vocabulary) IsPostSubmission(s domain.Status) bool { return v.phases[s] == phasePost }

// IsTerminal reports whether s may not be left once reached.
func (v *Vocabulary) IsTerminal(s domain.Status) bool {
	_, ok := v.terminal[s]
	return ok
}

// TerminalStatuses returns the terminal statuses in lexical order.
func (v *Vocabulary) TerminalStatuses() []domain.Status {
	out := make([]domain.Status, 0, len(v.terminal))
	for s := range v.terminal {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// EventStatus returns the pre-submission status an event kind moves to.
func (v *Vocabulary) EventStatus(kind string) (domain.Status, bool) {
	s, ok := v.events[kind]
	return s, ok
}

// Precedence returns the outcomes ordered from most to least attention-requiring.
func (v *Vocabulary) Precedence() []Outcome { return slices.Clone(v.precedence) }

// Rank returns the precedence position of an outcome; lower ranks require
// more attention. Unknown outcomes rank last.
func (v *Vocabulary) Rank(o Outcome) int {
	if r, ok := v.rank[o]; ok {
		return r
	}
	return len(v.precedence)
}

// StatusFor returns the post-submission status an aggregate outcome maps to.
func (v *Vocabulary) StatusFor(o Outcome) domain.Status { return v.outcomeStatus[o] }

// HasTransitionTable reports whether an explicit allow-list was configured.
func (v *Vocabulary) HasTransitionTable() bool { return v.transitions != nil }

func (v *Vocabulary) depositFailedStatus(s string) bool {
	_, ok := v.depositFailed[s]
	return ok
}

func (v *Vocabulary) copyOutcome(s string) Outcome {
	if _, ok := v.copyComplete[s]; ok {
		return OutcomeComplete
	}
	if _, ok := v.copyFailed[s]; ok {
		return OutcomeFailed
	}
	return OutcomeInProgress
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
