// Package domain defines the records, status values, persistence contract and
// error taxonomy used by the passcore submission status engine.
package domain

import (
	"time"
)

// EntityType identifies the kind of record held by a record store.
type EntityType string

// Supported entity type identifiers used in record envelopes and identifier patterns.
const (
	// EntitySubmission identifies a submission record.
	EntitySubmission EntityType = "submission"
	// EntityPublication identifies a publication record.
	EntityPublication EntityType = "publication"
	// EntityRepository identifies a target repository record.
	EntityRepository EntityType = "repository"
	// EntityGrant identifies a grant record.
	EntityGrant EntityType = "grant"
	// EntityDeposit identifies a deposit attempt record.
	EntityDeposit EntityType = "deposit"
	// EntityRepositoryCopy identifies a repository copy record.
	EntityRepositoryCopy EntityType = "repositoryCopy"
	// EntitySubmissionEvent identifies a submission event record.
	EntitySubmissionEvent EntityType = "submissionEvent"
)

// EntityTypes lists every known entity type in a stable order.
func EntityTypes() []EntityType {
	return []EntityType{
		EntitySubmission,
		EntityPublication,
		EntityRepository,
		EntityGrant,
		EntityDeposit,
		EntityRepositoryCopy,
		EntitySubmissionEvent,
	}
}

// Plural returns the collection name used for identifiers of this entity type.
func (t EntityType) Plural() string {
	switch t {
	case EntityRepositoryCopy:
		return "repositoryCopies"
	default:
		return string(t) + "s"
	}
}

// Relation keys under which records reference each other.
const (
	RelationSubmission     = "submission"
	RelationPublication    = "publication"
	RelationRepository     = "repository"
	RelationRepositories   = "repositories"
	RelationDeposits       = "deposits"
	RelationGrants         = "grants"
	RelationRepositoryCopy = "repositoryCopy"
)

// Status is a submission status drawn from the deployment vocabulary.
// The zero value means no status has been set.
type Status string

// IsZero reports whether the status is absent.
func (s Status) IsZero() bool { return s == "" }

func (s Status) String() string {
	if s == "" {
		return "<none>"
	}
	return string(s)
}

// Base contains common fields for all records. Version is the optimistic
// concurrency token assigned by the record store and is never serialized
// into the record payload.
type Base struct {
	ID        string    `json:"id"`
	Version   string    `json:"-"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// EntityID returns the record identifier.
func (b Base) EntityID() string { return b.ID }

// EntityVersion returns the version token the record was read at.
func (b Base) EntityVersion() string { return b.Version }

// Entity is implemented by every record type the engine can load.
type Entity interface {
	EntityID() string
	EntityVersion() string
	EntityType() EntityType
	Links() map[string][]string
}

// Submission represents one scholarly work's deposit workflow.
type Submission struct {
	Base
	Submitted        bool       `json:"submitted"`
	SubmissionStatus Status     `json:"submissionStatus,omitempty"`
	SubmittedDate    *time.Time `json:"submittedDate,omitempty"`
	Publication      string     `json:"publication,omitempty"`
	Repositories     []string   `json:"repositories,omitempty"`
	Deposits         []string   `json:"deposits,omitempty"`
	Grants           []string   `json:"grants,omitempty"`
}

// EntityType implements Entity.
func (Submission) EntityType() EntityType { return EntitySubmission }

// Links implements Entity.
func (s Submission) Links() map[string][]string {
	links := make(map[string][]string)
	addLink(links, RelationPublication, s.Publication)
	addLinks(links, RelationRepositories, s.Repositories)
	addLinks(links, RelationDeposits, s.Deposits)
	addLinks(links, RelationGrants, s.Grants)
	return links
}

// Publication describes the published work a submission is about.
type Publication struct {
	Base
	Title   string `json:"title,omitempty"`
	DOI     string `json:"doi,omitempty"`
	Journal string `json:"journal,omitempty"`
}

// EntityType implements Entity.
func (Publication) EntityType() EntityType { return EntityPublication }

// Links implements Entity.
func (Publication) Links() map[string][]string { return map[string][]string{} }

// Repository is a deposit target. The engine uses it only as a join key.
type Repository struct {
	Base
	Name          string `json:"name,omitempty"`
	RepositoryKey string `json:"repositoryKey,omitempty"`
	URL           string `json:"url,omitempty"`
}

// EntityType implements Entity.
func (Repository) EntityType() EntityType { return EntityRepository }

// Links implements Entity.
func (Repository) Links() map[string][]string { return map[string][]string{} }

// Grant funds the work described by a submission.
type Grant struct {
	Base
	AwardNumber string `json:"awardNumber,omitempty"`
	ProjectName string `json:"projectName,omitempty"`
}

// EntityType implements Entity.
func (Grant) EntityType() EntityType { return EntityGrant }

// Links implements Entity.
func (Grant) Links() map[string][]string { return map[string][]string{} }

// Deposit records an attempt to place a submission's files into one repository.
type Deposit struct {
	Base
	Submission     string `json:"submission"`
	Repository     string `json:"repository"`
	DepositStatus  string `json:"depositStatus,omitempty"`
	RepositoryCopy string `json:"repositoryCopy,omitempty"`
	StatusRef      string `json:"depositStatusRef,omitempty"`
}

// EntityType implements Entity.
func (Deposit) EntityType() EntityType { return EntityDeposit }

// Links implements Entity.
func (d Deposit) Links() map[string][]string {
	links := make(map[string][]string)
	addLink(links, RelationSubmission, d.Submission)
	addLink(links, RelationRepository, d.Repository)
	addLink(links, RelationRepositoryCopy, d.RepositoryCopy)
	return links
}

// RepositoryCopy confirms the work now exists inside a target repository.
type RepositoryCopy struct {
	Base
	Publication string   `json:"publication"`
	Repository  string   `json:"repository"`
	CopyStatus  string   `json:"copyStatus,omitempty"`
	AccessURL   string   `json:"accessUrl,omitempty"`
	ExternalIDs []string `json:"externalIds,omitempty"`
}

// EntityType implements Entity.
func (RepositoryCopy) EntityType() EntityType { return EntityRepositoryCopy }

// Links implements Entity.
func (c RepositoryCopy) Links() map[string][]string {
	links := make(map[string][]string)
	addLink(links, RelationPublication, c.Publication)
	addLink(links, RelationRepository, c.Repository)
	return links
}

// SubmissionEvent is a timestamped action taken on a submission before it is
// submitted. Events form an append-only log.
type SubmissionEvent struct {
	Base
	Submission    string    `json:"submission"`
	EventType     string    `json:"eventType"`
	PerformedDate time.Time `json:"performedDate"`
	PerformedBy   string    `json:"performedBy,omitempty"`
	PerformerRole string    `json:"performerRole,omitempty"`
	Comment       string    `json:"comment,omitempty"`
}

// EntityType implements Entity.
func (SubmissionEvent) EntityType() EntityType { return EntitySubmissionEvent }

// Links implements Entity.
func (e SubmissionEvent) Links() map[string][]string {
	links := make(map[string][]string)
	addLink(links, RelationSubmission, e.Submission)
	return links
}

func addLink(links map[string][]string, relation, target string) {
	if target == "" {
		return
	}
	links[relation] = append(links[relation], target)
}

func addLinks(links map[string][]string, relation string, targets []string) {
	for _, target := range targets {
		addLink(links, relation, target)
	}
}
