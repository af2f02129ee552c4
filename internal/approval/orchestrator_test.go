package approval

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grievance/api/internal/apperr"
	"grievance/api/internal/lock"
	"grievance/api/internal/store"
)

type memStore struct {
	mu        sync.Mutex
	events    map[string]store.Event
	approvals map[string][]store.EventApproval
	applyErr  error
}

func newMemStore() *memStore {
	return &memStore{events: map[string]store.Event{}, approvals: map[string][]store.EventApproval{}}
}

func (m *memStore) seed(t *testing.T, eventID string, roles ...string) {
	t.Helper()
	chain, err := NewChain("pol_a", eventID, roles)
	require.NoError(t, err)
	m.events[eventID] = store.Event{
		ID:            eventID,
		PoliticianID:  "pol_a",
		Title:         "Town hall",
		EventType:     "town_hall",
		Status:        store.EventPending,
		ApprovalStage: chain[0].ApproverRole,
		CreatedByID:   "user_creator",
	}
	m.approvals[eventID] = chain
}

func (m *memStore) GetEvent(_ context.Context, politicianID, eventID string) (store.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	event, ok := m.events[eventID]
	if !ok || event.PoliticianID != politicianID {
		return store.Event{}, store.ErrNotFound
	}
	return event, nil
}

func (m *memStore) ListEventApprovals(_ context.Context, politicianID, eventID string) ([]store.EventApproval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event, ok := m.events[eventID]; !ok || event.PoliticianID != politicianID {
		return nil, store.ErrNotFound
	}
	return append([]store.EventApproval(nil), m.approvals[eventID]...), nil
}

func (m *memStore) ApplyApprovalDecision(_ context.Context, politicianID string, d store.ApprovalDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyErr != nil {
		return m.applyErr
	}
	chain := m.approvals[d.EventID]
	for i := range chain {
		if chain[i].ID != d.ApprovalID {
			continue
		}
		if chain[i].Status != store.ApprovalPending || chain[i].Version != d.ExpectedVersion {
			return store.ErrStaleWrite
		}
		chain[i].Status = d.Status
		chain[i].ActedBy = d.ActedBy
		actedAt := d.ActedAt
		chain[i].ActedAt = &actedAt
		chain[i].Comment = d.Comment
		chain[i].Version++
		event := m.events[d.EventID]
		event.Status = d.EventStatus
		event.ApprovalStage = d.ApprovalStage
		m.events[d.EventID] = event
		return nil
	}
	return store.ErrStaleWrite
}

// pendingInvariant holds when the event is terminal or exactly one level is
// the lowest pending one with every lower level approved.
func pendingInvariant(t *testing.T, m *memStore, eventID string) {
	t.Helper()
	event := m.events[eventID]
	current, ok, err := Current(m.approvals[eventID])
	require.NoError(t, err)
	if event.Status == store.EventPending {
		require.True(t, ok)
		assert.Equal(t, current.ApproverRole, event.ApprovalStage)
	} else {
		assert.False(t, ok && event.Status == store.EventApproved)
	}
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []store.Notification
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, n store.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

type recordingSyncer struct {
	synced []store.Event
	err    error
}

func (r *recordingSyncer) SyncApprovedEvent(_ context.Context, event store.Event) error {
	r.synced = append(r.synced, event)
	return r.err
}

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestOrchestrator(m *memStore, opts ...Option) (*Orchestrator, *recordingNotifier, *recordingSyncer) {
	notifier := &recordingNotifier{}
	syncer := &recordingSyncer{}
	base := []Option{
		WithNotifier(notifier),
		WithCalendar(syncer),
		WithLogger(quietLogger),
		WithClock(func() time.Time { return time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC) }),
	}
	return New(m, append(base, opts...)...), notifier, syncer
}

func TestScenarioRejectionIsTerminal(t *testing.T) {
	m := newMemStore()
	m.seed(t, "evt_1")
	o, notifier, syncer := newTestOrchestrator(m)
	ctx := context.Background()

	out, err := o.Act(ctx, "pol_a", "evt_1", "event_manager", Approve, "Sam", "looks good")
	require.NoError(t, err)
	assert.Equal(t, store.EventPending, out.Status)
	assert.Equal(t, "campaign_director", out.Stage)
	pendingInvariant(t, m, "evt_1")
	require.Len(t, notifier.sent, 2)
	assert.Equal(t, "user_creator", notifier.sent[0].Recipient)
	assert.Equal(t, "campaign_director", notifier.sent[1].Recipient)

	out, err = o.Act(ctx, "pol_a", "evt_1", "campaign_director", Reject, "Kim", "budget")
	require.NoError(t, err)
	assert.Equal(t, store.EventRejected, out.Status)
	assert.Equal(t, store.StageRejected, out.Stage)
	pendingInvariant(t, m, "evt_1")

	chain := m.approvals["evt_1"]
	assert.Equal(t, store.ApprovalApproved, chain[0].Status)
	assert.Equal(t, store.ApprovalRejected, chain[1].Status)
	assert.Equal(t, store.ApprovalPending, chain[2].Status)
	assert.Len(t, notifier.sent, 3, "terminal transitions notify only the creator")
	assert.Empty(t, syncer.synced)

	_, err = o.Act(ctx, "pol_a", "evt_1", "chief_of_staff", Approve, "Lee", "")
	require.True(t, apperr.Is(err, apperr.KindConflict), "got %v", err)
	assert.Equal(t, store.ApprovalPending, m.approvals["evt_1"][2].Status)
}

func TestFullApprovalSyncsCalendar(t *testing.T) {
	m := newMemStore()
	m.seed(t, "evt_1")
	o, _, syncer := newTestOrchestrator(m)
	ctx := context.Background()

	for _, role := range []string{"event_manager", "campaign_director", "chief_of_staff"} {
		_, err := o.Act(ctx, "pol_a", "evt_1", role, Approve, "actor", "")
		require.NoError(t, err)
		pendingInvariant(t, m, "evt_1")
	}

	event := m.events["evt_1"]
	assert.Equal(t, store.EventApproved, event.Status)
	assert.Equal(t, store.StageCompleted, event.ApprovalStage)
	require.Len(t, syncer.synced, 1)
	assert.Equal(t, store.EventApproved, syncer.synced[0].Status)
}

func TestOutOfOrderRoleIsUnauthorized(t *testing.T) {
	m := newMemStore()
	m.seed(t, "evt_1")
	o, notifier, _ := newTestOrchestrator(m)

	_, err := o.Act(context.Background(), "pol_a", "evt_1", "chief_of_staff", Approve, "Lee", "")
	require.True(t, apperr.Is(err, apperr.KindAuthorization), "got %v", err)
	assert.Equal(t, store.ApprovalPending, m.approvals["evt_1"][0].Status)
	assert.Equal(t, store.ApprovalPending, m.approvals["evt_1"][2].Status)
	assert.Empty(t, notifier.sent)

	_, err = o.Act(context.Background(), "pol_a", "evt_1", "", Approve, "Lee", "")
	require.True(t, apperr.Is(err, apperr.KindAuthorization), "got %v", err)
}

func TestActValidatesAndScopes(t *testing.T) {
	m := newMemStore()
	m.seed(t, "evt_1")
	o, _, _ := newTestOrchestrator(m)
	ctx := context.Background()

	_, err := o.Act(ctx, "pol_a", "evt_1", "event_manager", Decision("maybe"), "Sam", "")
	require.True(t, apperr.Is(err, apperr.KindValidation), "got %v", err)

	_, err = o.Act(ctx, "pol_b", "evt_1", "event_manager", Approve, "Sam", "")
	require.True(t, apperr.Is(err, apperr.KindNotFound), "got %v", err)

	_, err = o.Act(ctx, "pol_a", "evt_missing", "event_manager", Approve, "Sam", "")
	require.True(t, apperr.Is(err, apperr.KindNotFound), "got %v", err)
}

func TestSideEffectFailuresDoNotRollBack(t *testing.T) {
	m := newMemStore()
	m.seed(t, "evt_1", "event_manager")
	notifier := &recordingNotifier{err: errors.New("broker down")}
	syncer := &recordingSyncer{err: errors.New("bucket down")}
	o := New(m, WithNotifier(notifier), WithCalendar(syncer), WithLogger(quietLogger))

	out, err := o.Act(context.Background(), "pol_a", "evt_1", "event_manager", Approve, "Sam", "")
	require.NoError(t, err)
	assert.Equal(t, store.EventApproved, out.Status)
	assert.Equal(t, store.EventApproved, m.events["evt_1"].Status)
	assert.Len(t, syncer.synced, 1)
	assert.Len(t, notifier.sent, 1)
}

func TestStoreFailureIsTransient(t *testing.T) {
	m := newMemStore()
	m.seed(t, "evt_1")
	m.applyErr = errors.New("connection reset")
	o, notifier, _ := newTestOrchestrator(m)

	_, err := o.Act(context.Background(), "pol_a", "evt_1", "event_manager", Approve, "Sam", "")
	require.True(t, apperr.Is(err, apperr.KindTransient), "got %v", err)
	assert.Empty(t, notifier.sent)
}

func TestConcurrentDecisionsOnlyOneWins(t *testing.T) {
	m := newMemStore()
	m.seed(t, "evt_1", "event_manager")
	o, _, syncer := newTestOrchestrator(m)

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = o.Act(context.Background(), "pol_a", "evt_1", "event_manager", Approve, "Sam", "")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, apperr.Is(err, apperr.KindConflict), "got %v", err)
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, m.approvals["evt_1"][0].Version)
	assert.Len(t, syncer.synced, 1)
}

func TestStaleWriteIsConflict(t *testing.T) {
	m := newMemStore()
	m.seed(t, "evt_1")
	m.applyErr = store.ErrStaleWrite
	o, _, _ := newTestOrchestrator(m)

	_, err := o.Act(context.Background(), "pol_a", "evt_1", "event_manager", Approve, "Sam", "")
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "APPROVAL_ALREADY_RESOLVED", appErr.Code)
}

func TestHeldLockIsConflict(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := lock.NewRedisLocker(client, time.Minute)

	m := newMemStore()
	m.seed(t, "evt_1")
	o, _, _ := newTestOrchestrator(m, WithLocker(locker))

	unlock, err := locker.Lock(context.Background(), "event:pol_a:evt_1")
	require.NoError(t, err)

	_, err = o.Act(context.Background(), "pol_a", "evt_1", "event_manager", Approve, "Sam", "")
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "APPROVAL_IN_FLIGHT", appErr.Code)
	assert.Equal(t, store.ApprovalPending, m.approvals["evt_1"][0].Status)

	unlock()
	_, err = o.Act(context.Background(), "pol_a", "evt_1", "event_manager", Approve, "Sam", "")
	require.NoError(t, err)
}

func TestCurrentDetectsMalformedChains(t *testing.T) {
	_, _, err := Current([]store.EventApproval{{ApprovalLevel: 2, Status: store.ApprovalPending}})
	require.Error(t, err)

	_, _, err = Current(nil)
	require.Error(t, err)

	_, _, err = Current([]store.EventApproval{
		{ApprovalLevel: 1, Status: store.ApprovalPending},
		{ApprovalLevel: 2, Status: store.ApprovalApproved},
	})
	require.Error(t, err)

	current, ok, err := Current([]store.EventApproval{
		{ApprovalLevel: 1, Status: store.ApprovalApproved},
		{ApprovalLevel: 2, Status: store.ApprovalPending, ApproverRole: "campaign_director"},
		{ApprovalLevel: 3, Status: store.ApprovalPending},
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, current.ApprovalLevel)
}

func TestActOnEventWithoutApprovalLevels(t *testing.T) {
	m := newMemStore()
	m.seed(t, "evt_1")
	m.approvals["evt_1"] = nil
	o, notifier, _ := newTestOrchestrator(m)

	_, err := o.Act(context.Background(), "pol_a", "evt_1", "event_manager", Approve, "Sam", "")
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "APPROVAL_CHAIN_MALFORMED", appErr.Code)
	assert.Equal(t, store.EventPending, m.events["evt_1"].Status)
	assert.Empty(t, notifier.sent)
}

func TestNewChainRejectsUnknownRoles(t *testing.T) {
	chain, err := NewChain("pol_a", "evt_1", nil)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, "event_manager", chain[0].ApproverRole)
	assert.Equal(t, 3, chain[2].ApprovalLevel)

	_, err = NewChain("pol_a", "evt_1", []string{"event_manager", "mayor"})
	require.True(t, apperr.Is(err, apperr.KindValidation), "got %v", err)
}
