// Package model defines the Context Memory Core's data model: workspaces,
// threads, memory items, artifacts, links, vectors, and feedback records.
package model

import "time"

// Kind distinguishes the two MemoryItem variants.
type Kind string

const (
	KindSemantic Kind = "semantic"
	KindEpisodic Kind = "episodic"
)

// Subtype is the fine-grained classification within a Kind.
type Subtype string

const (
	SubtypeDecision    Subtype = "decision"
	SubtypeRequirement Subtype = "requirement"
	SubtypeConstraint  Subtype = "constraint"
	SubtypeTask        Subtype = "task"
	SubtypeEntity      Subtype = "entity"
	SubtypePreference  Subtype = "preference"

	SubtypeError       Subtype = "error"
	SubtypeLog         Subtype = "log"
	SubtypeTestFailure Subtype = "test_failure"
	SubtypeAttempt     Subtype = "attempt"
	SubtypeObservation Subtype = "observation"
)

// SemanticSubtypes and EpisodicSubtypes enumerate valid subtypes per kind,
// used for validation at the Memory Store boundary.
var SemanticSubtypes = map[Subtype]bool{
	SubtypeDecision:    true,
	SubtypeRequirement: true,
	SubtypeConstraint:  true,
	SubtypeTask:        true,
	SubtypeEntity:      true,
	SubtypePreference:  true,
}

var EpisodicSubtypes = map[Subtype]bool{
	SubtypeError:       true,
	SubtypeLog:         true,
	SubtypeTestFailure: true,
	SubtypeAttempt:     true,
	SubtypeObservation: true,
}

// State is the item lifecycle state (spec §4.10).
type State string

const (
	StateActive     State = "active"
	StateSuperseded State = "superseded"
	StateRetired    State = "retired"
)

// ContentType tags an Artifact's raw material.
type ContentType string

const (
	ContentTypeChat ContentType = "chat"
	ContentTypeDiff ContentType = "diff"
	ContentTypeLogs ContentType = "logs"
)

// LinkType enumerates the typed directed edges between items.
type LinkType string

const (
	LinkDuplicateOf LinkType = "duplicate_of"
	LinkSupersedes  LinkType = "supersedes"
	LinkRefersTo    LinkType = "refers_to"
	LinkCausedBy    LinkType = "caused_by"
)

// FeedbackSignal enumerates the accepted feedback signals.
type FeedbackSignal string

const (
	SignalHelpful    FeedbackSignal = "helpful"
	SignalNotHelpful FeedbackSignal = "not_helpful"
	SignalOutdated   FeedbackSignal = "outdated"
	SignalDuplicate  FeedbackSignal = "duplicate"
)

// Span identifies a byte range within an Artifact's redacted body.
type Span struct {
	ArtifactID string
	Start      int
	End        int
}

// Item is a MemoryItem: the atomic unit of memory, either semantic or
// episodic per Kind. Invariants (spec §3.2) are enforced by the Memory
// Store, not by this type.
type Item struct {
	ID             string // S### / E### per workspace per kind
	WorkspaceID    string
	ThreadID       string
	Kind           Kind
	Subtype        Subtype
	Summary        string // <=280 graphemes, redacted
	Body           string // redacted
	CreatedAt      time.Time
	LastAccessedAt time.Time
	UsageCount     int
	Salience       float64
	SourceSpan     Span
	ContentHash    uint64
	State          State
	RetiredAt      *time.Time
	Payload        map[string]any // subtype-specific attributes
}

// IsSemantic reports whether the item is a semantic MemoryItem.
func (i *Item) IsSemantic() bool { return i.Kind == KindSemantic }

// IsEpisodic reports whether the item is an episodic MemoryItem.
func (i *Item) IsEpisodic() bool { return i.Kind == KindEpisodic }

// Artifact is the raw, immutable source material items are extracted from.
type Artifact struct {
	ID          string // A###
	WorkspaceID string
	ThreadID    string
	ContentType ContentType
	Body        string // redacted raw text
	CreatedAt   time.Time
}

// Link is a typed directed edge between two items in the same workspace.
type Link struct {
	WorkspaceID string
	FromID      string
	ToID        string
	Type        LinkType
	CreatedAt   time.Time
}

// Vector is an embedding for an item under a specific model.
type Vector struct {
	ItemID      string
	WorkspaceID string
	ModelID     string
	Values      []float32
	ContentHash uint64
}

// FeedbackRecord is an append-only journal entry.
type FeedbackRecord struct {
	WorkspaceID string
	ItemID      string
	Signal      FeedbackSignal
	Magnitude   float64
	At          time.Time
	Actor       string
	Comment     string
}

// Thread identifies a logical conversation within a workspace.
type Thread struct {
	WorkspaceID string
	ThreadID    string
}
