package model

import "time"

// User represents an account known to the scheduling service.
type User struct {
	UserID       string    `json:"userId"`
	Email        string    `json:"email"`
	DisplayName  *string   `json:"displayName,omitempty"`
	TimeZone     string    `json:"timeZone"`
	CalendarID   string    `json:"calendarId"`
	Status       string    `json:"status"`
	CreationTime time.Time `json:"creationTime"`
}

// IntentKind classifies the purpose of a user request.
type IntentKind string

const (
	IntentCreate            IntentKind = "create"
	IntentEdit              IntentKind = "edit"
	IntentMove              IntentKind = "move"
	IntentDelete            IntentKind = "delete"
	IntentQuery             IntentKind = "query"
	IntentCheckAvailability IntentKind = "check_availability"
	IntentUnrelated         IntentKind = "unrelated"
)

// IsCalendarIntent reports whether the intent touches the calendar at all.
func (k IntentKind) IsCalendarIntent() bool { return k != IntentUnrelated && k != "" }

// IsMutating reports whether the intent changes calendar state.
func (k IntentKind) IsMutating() bool {
	switch k {
	case IntentCreate, IntentEdit, IntentMove, IntentDelete:
		return true
	}
	return false
}

// Intent is the classifier's verdict for one raw message. Immutable once recorded.
type Intent struct {
	UserID     string         `json:"userId"`
	Kind       IntentKind     `json:"kind"`
	Confidence float64        `json:"confidence"`
	RawText    string         `json:"rawText"`
	Entities   IntentEntities `json:"entities"`
}

// IntentEntities carries the fields the classifier extracted from the message.
// All fields are optional; the temporal resolver decides what is missing.
type IntentEntities struct {
	Title           string   `json:"title,omitempty"`
	Date            string   `json:"date,omitempty"` // YYYY-MM-DD or a relative phrase
	Time            string   `json:"time,omitempty"` // HH:MM, 24h
	DurationMinutes int      `json:"durationMinutes,omitempty"`
	TimeZone        string   `json:"timeZone,omitempty"`
	Location        string   `json:"location,omitempty"`
	Participants    []string `json:"participants,omitempty"`
	TargetReference string   `json:"targetReference,omitempty"` // free text naming an existing event
}

// TimeReference is a possibly-partial temporal expression awaiting resolution.
type TimeReference struct {
	Date            string `json:"date,omitempty"`
	Time            string `json:"time,omitempty"`
	DurationMinutes int    `json:"durationMinutes,omitempty"`
	TimeZone        string `json:"timeZone,omitempty"`
}

// IntervalConfidence describes how a ResolvedInterval was obtained.
type IntervalConfidence string

const (
	ConfidenceExact     IntervalConfidence = "exact"
	ConfidenceDefaulted IntervalConfidence = "defaulted"
)

// ResolvedInterval is a concrete half-open [Start, End) interval in a known zone.
type ResolvedInterval struct {
	Start      time.Time          `json:"start"`
	End        time.Time          `json:"end"`
	TimeZone   string             `json:"timeZone"`
	Confidence IntervalConfidence `json:"confidence"`
}

// Overlaps reports whether the interval shares an open sub-interval of positive
// duration with [start, end). Touching endpoints do not overlap.
func (r ResolvedInterval) Overlaps(start, end time.Time) bool {
	return r.Start.Before(end) && start.Before(r.End)
}

// AmbiguityField names the input the resolver or orchestrator could not default.
type AmbiguityField string

const (
	AmbiguityDate     AmbiguityField = "date"
	AmbiguityTime     AmbiguityField = "time"
	AmbiguityTimeZone AmbiguityField = "timezone"
	AmbiguityTarget   AmbiguityField = "target"
	AmbiguityIntent   AmbiguityField = "intent"
)

// AppointmentRequest is a fully assembled calendar request ready for gating.
type AppointmentRequest struct {
	UserID      string            `json:"userId"`
	Intent      Intent            `json:"intent"`
	Interval    *ResolvedInterval `json:"interval,omitempty"`
	TargetRef   string            `json:"targetRef,omitempty"` // backend event reference when uniquely identified
	Destructive bool              `json:"destructive"`
}

// TokenState is the lifecycle state of a ConfirmationToken.
type TokenState string

const (
	TokenAwaiting  TokenState = "AWAITING"
	TokenConfirmed TokenState = "CONFIRMED"
	TokenDenied    TokenState = "DENIED"
	TokenExpired   TokenState = "EXPIRED"
)

// ConfirmationToken holds one pending action awaiting explicit user consent.
// At most one live token exists per user; a newer token supersedes the old one.
type ConfirmationToken struct {
	TokenID   string             `json:"tokenId"`
	UserID    string             `json:"userId"`
	Request   AppointmentRequest `json:"request"`
	Summary   string             `json:"summary"`
	IssuedAt  time.Time          `json:"issuedAt"`
	ExpiresAt time.Time          `json:"expiresAt"`
	State     TokenState         `json:"state"`
}

// AttemptOutcome classifies a single execution attempt.
type AttemptOutcome string

const (
	AttemptSuccess          AttemptOutcome = "SUCCESS"
	AttemptTransientFailure AttemptOutcome = "TRANSIENT_FAILURE"
	AttemptFatalFailure     AttemptOutcome = "FATAL_FAILURE"
)

// ExecutionAttempt records one pass through the backend mutation for a fingerprint.
type ExecutionAttempt struct {
	Fingerprint   string         `json:"fingerprint"`
	UserID        string         `json:"userId"`
	AttemptNumber int            `json:"attemptNumber"`
	Outcome       AttemptOutcome `json:"outcome"`
	ErrorDetail   string         `json:"errorDetail,omitempty"`
	EventRef      string         `json:"eventRef,omitempty"`
	CreationTime  time.Time      `json:"creationTime"`
}

// DirectiveVersion is one immutable revision of an operating procedure.
type DirectiveVersion struct {
	ProcedureName string     `json:"procedureName"`
	Version       int        `json:"version"`
	Content       string     `json:"content"`
	Rationale     string     `json:"rationale,omitempty"`
	Active        bool       `json:"active"`
	FlaggedReason string     `json:"flaggedReason,omitempty"`
	ProposedAt    time.Time  `json:"proposedAt"`
	ApprovedBy    *string    `json:"approvedBy,omitempty"`
	ApprovedAt    *time.Time `json:"approvedAt,omitempty"`
}

// AuditEntry is one immutable decision-point record.
type AuditEntry struct {
	EntryID   string                 `json:"entryId"`
	UserID    string                 `json:"userId"`
	EventKind string                 `json:"eventKind"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Audit event kinds written by the orchestrator and gate.
const (
	AuditIntentReceived      = "intent_received"
	AuditAmbiguityRaised     = "ambiguity_raised"
	AuditConflictDetected    = "conflict_detected"
	AuditConfirmationOpened  = "confirmation_opened"
	AuditConfirmationGranted = "confirmation_granted"
	AuditConfirmationDenied  = "confirmation_denied"
	AuditConfirmationExpired = "confirmation_expired"
	AuditMutationApplied     = "mutation_applied"
	AuditCorrectionAttempt   = "correction_attempt"
	AuditRequestRejected     = "request_rejected"
)

// OutcomeKind tags the terminal result of processing one request.
type OutcomeKind string

const (
	OutcomeResult              OutcomeKind = "RESULT"
	OutcomePendingConfirmation OutcomeKind = "PENDING_CONFIRMATION"
	OutcomeNeedsClarification  OutcomeKind = "NEEDS_CLARIFICATION"
	OutcomeRejected            OutcomeKind = "REJECTED"
	OutcomeOutOfDomain         OutcomeKind = "OUT_OF_DOMAIN"
)

// Outcome is the single result emitted to the conversational transport per request.
type Outcome struct {
	Kind         OutcomeKind        `json:"kind"`
	Detail       string             `json:"detail,omitempty"`
	Token        *ConfirmationToken `json:"token,omitempty"`
	MissingField AmbiguityField     `json:"missingField,omitempty"`
	Events       []CalendarEvent    `json:"events,omitempty"`
	EventRef     string             `json:"eventRef,omitempty"`
}

// CalendarEvent is the backend's view of one committed appointment.
type CalendarEvent struct {
	EventRef string    `json:"eventRef"`
	Title    string    `json:"title"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Location string    `json:"location,omitempty"`
	Status   string    `json:"status,omitempty"`
}
