package worker

import (
	"context"
	"errors"
	"time"

	"naviai/models"
)

// ErrSourceAuth marks a poll-source fetch failure caused by bad or expired
// credentials. The poller reacts by deactivating the source instead of
// retrying it.
var ErrSourceAuth = errors.New("source authentication failed")

// SendTally is the per-batch outcome of a broadcast send. Unsubscribed
// contacts are counted in neither Sent nor Failed.
type SendTally struct {
	Recipients int
	Sent       int
	Failed     int
	Skipped    int
}

// VariantStats aggregates recipient exposure and opens for one A/B variant.
type VariantStats struct {
	Sent   int
	Opened int
}

// OpenRate returns opens per sent recipient, 0 when nothing was sent.
func (v VariantStats) OpenRate() float64 {
	if v.Sent == 0 {
		return 0
	}
	return float64(v.Opened) / float64(v.Sent)
}

// DispatchResult reports one outbound send. Permanent failures (invalid
// address) must not be retried; transient ones leave the row due again.
type DispatchResult struct {
	Success   bool
	Permanent bool
	MessageID string
	Err       error
}

// Dispatcher sends one message to one recipient, fire-and-forget.
type Dispatcher interface {
	Dispatch(ctx context.Context, channel, address, subject, body string) DispatchResult
}

// TrackingDecorator rewrites an outbound email body with the open pixel,
// click-tracking redirects and the unsubscribe footer before dispatch. The
// message ID ties the embedded links to the recipient row written after the
// send, so opens land on the right variant.
type TrackingDecorator interface {
	Decorate(body, messageID string, contactID uint) string
}

// AudienceResolver resolves an encoded audience spec ("tags:t1,t2|platform:p")
// to concrete contacts, excluding unsubscribed contacts by default.
type AudienceResolver interface {
	Resolve(userID uint, spec string) ([]models.Contact, error)
}

// ContentGenerator produces message copy from a free-form spec. The engine
// treats content generation as an external collaborator.
type ContentGenerator interface {
	Generate(ctx context.Context, spec string) (string, error)
}

// EnrollmentStore is the automation engine's view of durable state. Every
// mutation is a conditional update keyed on the enrollment's current step
// order: the update applies only while status is still active and
// CurrentStepOrder equals expectedOrder, and returns false when another
// invocation got there first.
type EnrollmentStore interface {
	// DueEnrollments returns active enrollments whose NextStepAt is nil or
	// has passed.
	DueEnrollments(now time.Time) ([]models.Enrollment, error)

	// NextStep returns the step with the smallest order strictly greater
	// than afterOrder, or nil when the sequence is exhausted.
	NextStep(sequenceID uint, afterOrder int) (*models.AutomationStep, error)

	// AdvanceStep marks the step as completed and schedules the next wake-up.
	AdvanceStep(id uint, expectedOrder, newOrder int, nextAt time.Time) (bool, error)

	// CompleteEnrollment terminates the enrollment after its last step.
	CompleteEnrollment(id uint, expectedOrder int, now time.Time) (bool, error)

	// CancelEnrollment terminates the enrollment without executing anything.
	CancelEnrollment(id uint, expectedOrder int, reason string, now time.Time) (bool, error)

	// RecordStepFailure bumps the failure counter and defers the retry
	// without advancing the step.
	RecordStepFailure(id uint, expectedOrder int, errMsg string, retryAt time.Time) (bool, error)
}

// EnrollerStore is what the new-lead trigger needs.
type EnrollerStore interface {
	ActiveSequencesByTrigger(userID uint, trigger string) ([]models.AutomationSequence, error)
	HasActiveEnrollment(sequenceID, contactID uint) (bool, error)
	CreateEnrollment(e *models.Enrollment) error
}

// ContactStore resolves contacts and their unsubscribe state.
type ContactStore interface {
	ContactByID(id uint) (*models.Contact, error)
	IsUnsubscribed(contactID uint) (bool, error)
}

// BroadcastStore is the broadcast scheduler's and winner check's view of
// durable state. Status transitions go through ClaimBroadcast, the same
// optimistic check-and-set guard the enrollment store uses.
type BroadcastStore interface {
	DueBroadcasts(now time.Time) ([]models.Broadcast, error)
	DueWinnerChecks(now time.Time) ([]models.Broadcast, error)

	// ClaimBroadcast transitions status from -> to, returning false when the
	// broadcast is no longer in the expected state.
	ClaimBroadcast(id uint, from, to string, now time.Time) (bool, error)

	// FinishBroadcastSend records the batch tally and moves the broadcast to
	// its post-send status (sent or awaiting_winner).
	FinishBroadcastSend(id uint, to string, tally SendTally, testEndsAt, completedAt *time.Time) error

	MarkBroadcastFailed(id uint, errMsg string) error
	SetWinner(id uint, variant string) error

	CreateRecipient(r *models.BroadcastRecipient) error
	RecipientContactIDs(broadcastID uint) (map[uint]bool, error)
	VariantOpenStats(broadcastID uint) (map[string]VariantStats, error)
}

// ExternalItem is one record fetched from an external source. Fields carries
// the source-kind specific payload the sink maps onto a local row.
type ExternalItem struct {
	ExternalID string
	OccurredAt time.Time
	Fields     map[string]string
}

// Fetcher pulls items newer than since from one source. Credential problems
// are reported by wrapping ErrSourceAuth.
type Fetcher interface {
	Fetch(ctx context.Context, source models.PollSource, since time.Time) ([]ExternalItem, error)
}

// Sink persists fetched items. Exists implements the (sourceID, externalID)
// dedup check; Ingest creates the local record.
type Sink interface {
	Exists(sourceID uint, externalID string) (bool, error)
	Ingest(source models.PollSource, item ExternalItem) error
}

// SourceStore manages poll sources and their checkpoints.
type SourceStore interface {
	ActiveSources(kind string) ([]models.PollSource, error)

	// AdvanceCheckpoint persists the new LastCheckedAt. Called only after the
	// batch persisted.
	AdvanceCheckpoint(sourceID uint, checkedAt time.Time) error

	MarkSourceInactive(sourceID uint, reason string) error
	RecordSourceError(sourceID uint, reason string) error
}
