package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"naviai/models"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log.WithField("test", true)
}

// memStore is an in-memory implementation of the worker store interfaces with
// the same conditional-update semantics as the GORM store: every transition
// re-checks the state the caller read and reports lost races as ok=false.
type memStore struct {
	mu sync.Mutex

	nextID               uint
	failRecipientContact uint

	contacts    map[uint]*models.Contact
	sequences   map[uint]*models.AutomationSequence
	steps       map[uint][]models.AutomationStep
	enrollments map[uint]*models.Enrollment
	broadcasts  map[uint]*models.Broadcast
	recipients  []*models.BroadcastRecipient
	sources     map[uint]*models.PollSource
	jobRuns     map[uint]*models.JobRun
}

func newMemStore() *memStore {
	return &memStore{
		contacts:    make(map[uint]*models.Contact),
		sequences:   make(map[uint]*models.AutomationSequence),
		steps:       make(map[uint][]models.AutomationStep),
		enrollments: make(map[uint]*models.Enrollment),
		broadcasts:  make(map[uint]*models.Broadcast),
		sources:     make(map[uint]*models.PollSource),
		jobRuns:     make(map[uint]*models.JobRun),
	}
}

func (m *memStore) id() uint {
	m.nextID++
	return m.nextID
}

func (m *memStore) addContact(c models.Contact) *models.Contact {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.id()
	m.contacts[c.ID] = &c
	return &c
}

func (m *memStore) addSequence(seq models.AutomationSequence, steps ...models.AutomationStep) *models.AutomationSequence {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq.ID = m.id()
	m.sequences[seq.ID] = &seq
	for i := range steps {
		steps[i].ID = m.id()
		steps[i].SequenceID = seq.ID
	}
	m.steps[seq.ID] = steps
	return &seq
}

func (m *memStore) addEnrollment(e models.Enrollment) *models.Enrollment {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = m.id()
	if e.Status == "" {
		e.Status = models.EnrollmentActive
	}
	m.enrollments[e.ID] = &e
	return &e
}

func (m *memStore) addBroadcast(b models.Broadcast) *models.Broadcast {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.ID = m.id()
	m.broadcasts[b.ID] = &b
	return &b
}

func (m *memStore) addSource(s models.PollSource) *models.PollSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = m.id()
	if s.Status == "" {
		s.Status = models.SourceActive
	}
	m.sources[s.ID] = &s
	return &s
}

func (m *memStore) enrollment(id uint) models.Enrollment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.enrollments[id]
}

func (m *memStore) broadcast(id uint) models.Broadcast {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.broadcasts[id]
}

func (m *memStore) source(id uint) models.PollSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.sources[id]
}

func (m *memStore) recipientsFor(broadcastID uint) []models.BroadcastRecipient {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.BroadcastRecipient
	for _, r := range m.recipients {
		if r.BroadcastID == broadcastID {
			out = append(out, *r)
		}
	}
	return out
}

// ── EnrollmentStore ──

func (m *memStore) DueEnrollments(now time.Time) ([]models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []models.Enrollment
	for _, e := range m.enrollments {
		if e.Status != models.EnrollmentActive {
			continue
		}
		if e.NextStepAt == nil || !e.NextStepAt.After(now) {
			due = append(due, *e)
		}
	}
	return due, nil
}

func (m *memStore) NextStep(sequenceID uint, afterOrder int) (*models.AutomationStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *models.AutomationStep
	for i := range m.steps[sequenceID] {
		s := m.steps[sequenceID][i]
		if s.StepOrder <= afterOrder {
			continue
		}
		if best == nil || s.StepOrder < best.StepOrder {
			best = &m.steps[sequenceID][i]
		}
	}
	if best == nil {
		return nil, nil
	}
	copied := *best
	return &copied, nil
}

func (m *memStore) AdvanceStep(id uint, expectedOrder, newOrder int, nextAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[id]
	if !ok || e.Status != models.EnrollmentActive || e.CurrentStepOrder != expectedOrder {
		return false, nil
	}
	e.CurrentStepOrder = newOrder
	e.NextStepAt = &nextAt
	e.FailCount = 0
	e.LastError = ""
	return true, nil
}

func (m *memStore) CompleteEnrollment(id uint, expectedOrder int, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[id]
	if !ok || e.Status != models.EnrollmentActive || e.CurrentStepOrder != expectedOrder {
		return false, nil
	}
	e.Status = models.EnrollmentCompleted
	e.CompletedAt = &now
	return true, nil
}

func (m *memStore) CancelEnrollment(id uint, expectedOrder int, reason string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[id]
	if !ok || e.Status != models.EnrollmentActive || e.CurrentStepOrder != expectedOrder {
		return false, nil
	}
	e.Status = models.EnrollmentCanceled
	e.LastError = reason
	e.CompletedAt = &now
	return true, nil
}

func (m *memStore) RecordStepFailure(id uint, expectedOrder int, errMsg string, retryAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[id]
	if !ok || e.Status != models.EnrollmentActive || e.CurrentStepOrder != expectedOrder {
		return false, nil
	}
	e.FailCount++
	e.LastError = errMsg
	e.NextStepAt = &retryAt
	return true, nil
}

// ── EnrollerStore ──

func (m *memStore) ActiveSequencesByTrigger(userID uint, trigger string) ([]models.AutomationSequence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AutomationSequence
	for _, s := range m.sequences {
		if s.UserID == userID && s.TriggerType == trigger && s.IsActive {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memStore) HasActiveEnrollment(sequenceID, contactID uint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.enrollments {
		if e.SequenceID == sequenceID && e.ContactID == contactID && e.Status == models.EnrollmentActive {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) CreateEnrollment(e *models.Enrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = m.id()
	copied := *e
	m.enrollments[e.ID] = &copied
	return nil
}

// ── ContactStore ──

func (m *memStore) ContactByID(id uint) (*models.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok {
		return nil, fmt.Errorf("contact %d not found", id)
	}
	copied := *c
	return &copied, nil
}

func (m *memStore) IsUnsubscribed(contactID uint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[contactID]
	if !ok {
		return false, fmt.Errorf("contact %d not found", contactID)
	}
	return c.IsUnsubscribed, nil
}

// ── BroadcastStore ──

func (m *memStore) DueBroadcasts(now time.Time) ([]models.Broadcast, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []models.Broadcast
	for _, b := range m.broadcasts {
		if b.Status == models.BroadcastScheduled && b.ScheduledAt != nil && !b.ScheduledAt.After(now) {
			due = append(due, *b)
		}
	}
	return due, nil
}

func (m *memStore) DueWinnerChecks(now time.Time) ([]models.Broadcast, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []models.Broadcast
	for _, b := range m.broadcasts {
		if b.Status == models.BroadcastAwaitingWinner && b.TestPhaseEndsAt != nil && !b.TestPhaseEndsAt.After(now) {
			due = append(due, *b)
		}
	}
	return due, nil
}

func (m *memStore) ClaimBroadcast(id uint, from, to string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.broadcasts[id]
	if !ok || b.Status != from {
		return false, nil
	}
	b.Status = to
	if from == models.BroadcastScheduled && to == models.BroadcastSending {
		b.StartedAt = &now
	}
	return true, nil
}

func (m *memStore) FinishBroadcastSend(id uint, to string, tally SendTally, testEndsAt, completedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.broadcasts[id]
	if !ok {
		return fmt.Errorf("broadcast %d not found", id)
	}
	b.Status = to
	b.TotalRecipients += tally.Recipients
	b.SentCount += tally.Sent
	b.FailedCount += tally.Failed
	if testEndsAt != nil {
		b.TestPhaseEndsAt = testEndsAt
	}
	if completedAt != nil {
		b.CompletedAt = completedAt
	}
	return nil
}

func (m *memStore) MarkBroadcastFailed(id uint, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.broadcasts[id]; ok {
		b.Status = models.BroadcastFailed
		b.LastError = errMsg
	}
	return nil
}

func (m *memStore) SetWinner(id uint, variant string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.broadcasts[id]; ok {
		b.WinnerVariant = variant
	}
	return nil
}

func (m *memStore) CreateRecipient(r *models.BroadcastRecipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRecipientContact != 0 && r.ContactID == m.failRecipientContact {
		return fmt.Errorf("insert failed for contact %d", r.ContactID)
	}
	for _, existing := range m.recipients {
		if existing.BroadcastID == r.BroadcastID && existing.ContactID == r.ContactID {
			return fmt.Errorf("duplicate recipient for broadcast %d contact %d", r.BroadcastID, r.ContactID)
		}
	}
	r.ID = m.id()
	copied := *r
	m.recipients = append(m.recipients, &copied)
	return nil
}

func (m *memStore) RecipientContactIDs(broadcastID uint) (map[uint]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uint]bool)
	for _, r := range m.recipients {
		if r.BroadcastID == broadcastID {
			out[r.ContactID] = true
		}
	}
	return out, nil
}

func (m *memStore) VariantOpenStats(broadcastID uint) (map[string]VariantStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := make(map[string]VariantStats)
	for _, r := range m.recipients {
		if r.BroadcastID != broadcastID {
			continue
		}
		s := stats[r.Variant]
		s.Sent++
		if r.OpenedAt != nil {
			s.Opened++
		}
		stats[r.Variant] = s
	}
	return stats, nil
}

func (m *memStore) markOpened(broadcastID uint, variant string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, r := range m.recipients {
		if count == 0 {
			return
		}
		if r.BroadcastID == broadcastID && r.Variant == variant && r.OpenedAt == nil {
			r.OpenedAt = &now
			count--
		}
	}
}

// ── SourceStore ──

func (m *memStore) ActiveSources(kind string) ([]models.PollSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PollSource
	for _, s := range m.sources {
		if s.Kind == kind && s.Status == models.SourceActive {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memStore) AdvanceCheckpoint(sourceID uint, checkedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sources[sourceID]; ok {
		s.LastCheckedAt = &checkedAt
		s.LastError = ""
	}
	return nil
}

func (m *memStore) MarkSourceInactive(sourceID uint, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sources[sourceID]; ok {
		s.Status = models.SourceInactive
		s.LastError = reason
	}
	return nil
}

func (m *memStore) RecordSourceError(sourceID uint, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sources[sourceID]; ok {
		s.LastError = reason
	}
	return nil
}

// ── JobRunStore ──

func (m *memStore) CreateJobRun(run *models.JobRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run.ID = m.id()
	copied := *run
	m.jobRuns[run.ID] = &copied
	return nil
}

func (m *memStore) FinishJobRun(id uint, status, errMsg string, sum Summary, finishedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.jobRuns[id]; ok {
		r.Status = status
		r.Error = errMsg
		r.FinishedAt = &finishedAt
		r.Processed = sum.Processed
		r.Succeeded = sum.Succeeded
		r.Failed = sum.Failed
		r.Skipped = sum.Skipped
	}
	return nil
}

// fakeDispatcher records every dispatch and can be told to fail, either
// transiently or permanently, per address.
type fakeDispatcher struct {
	mu        sync.Mutex
	calls     []fakeDispatchCall
	failAll   bool
	permanent map[string]bool
	transient map[string]bool
}

type fakeDispatchCall struct {
	Channel string
	Address string
	Subject string
	Body    string
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{
		permanent: make(map[string]bool),
		transient: make(map[string]bool),
	}
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, channel, address, subject, body string) DispatchResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, fakeDispatchCall{Channel: channel, Address: address, Subject: subject, Body: body})

	switch {
	case d.permanent[address]:
		return DispatchResult{Permanent: true, Err: fmt.Errorf("invalid recipient %s", address)}
	case d.failAll || d.transient[address]:
		return DispatchResult{Err: fmt.Errorf("gateway unavailable")}
	}
	return DispatchResult{Success: true, MessageID: fmt.Sprintf("msg-%d", len(d.calls))}
}

func (d *fakeDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *fakeDispatcher) addressesSent() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, c := range d.calls {
		out = append(out, c.Address)
	}
	return out
}

// fakeTracker mimics the tracking injector: it appends the open pixel and
// unsubscribe footer keyed on the same message ID the recipient row records.
type fakeTracker struct{}

func (fakeTracker) Decorate(body, messageID string, contactID uint) string {
	return body +
		fmt.Sprintf(`<img src="https://app.test/track/open/%s/tok">`, messageID) +
		fmt.Sprintf(`<a href="https://app.test/track/unsubscribe/%d/tok">Unsubscribe</a>`, contactID)
}

// memResolver resolves a fixed audience, excluding unsubscribed and bounced
// contacts the way the production resolver does.
type memResolver struct {
	store *memStore
}

func (r *memResolver) Resolve(userID uint, spec string) ([]models.Contact, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []models.Contact
	for i := uint(1); i <= r.store.nextID; i++ {
		c, ok := r.store.contacts[i]
		if !ok {
			continue
		}
		if c.UserID == userID && !c.IsUnsubscribed && !c.IsBounced {
			out = append(out, *c)
		}
	}
	return out, nil
}

// fakeFetcher returns canned items or errors per source.
type fakeFetcher struct {
	mu     sync.Mutex
	items  map[uint][]ExternalItem
	errs   map[uint]error
	since  map[uint][]time.Time
	visits int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		items: make(map[uint][]ExternalItem),
		errs:  make(map[uint]error),
		since: make(map[uint][]time.Time),
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, src models.PollSource, since time.Time) ([]ExternalItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visits++
	f.since[src.ID] = append(f.since[src.ID], since)
	if err := f.errs[src.ID]; err != nil {
		return nil, err
	}
	return f.items[src.ID], nil
}

// fakeSink persists items into a map keyed by (source, external id) and can
// fail ingestion for selected external IDs.
type fakeSink struct {
	mu        sync.Mutex
	stored    map[string]ExternalItem
	failingID string
}

func newFakeSink() *fakeSink {
	return &fakeSink{stored: make(map[string]ExternalItem)}
}

func sinkKey(sourceID uint, externalID string) string {
	return fmt.Sprintf("%d/%s", sourceID, externalID)
}

func (s *fakeSink) Exists(sourceID uint, externalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.stored[sinkKey(sourceID, externalID)]
	return ok, nil
}

func (s *fakeSink) Ingest(source models.PollSource, item ExternalItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ExternalID == s.failingID {
		return fmt.Errorf("ingest failed for %s", item.ExternalID)
	}
	s.stored[sinkKey(source.ID, item.ExternalID)] = item
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stored)
}
