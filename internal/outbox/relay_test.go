package outbox

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/order"
)

// --- Mock implementations ---

type memMessage struct {
	Message
	delivered bool
	abandoned bool
	lastError string
	retryAt   time.Time
}

type mockStore struct {
	mu       sync.Mutex
	messages []*memMessage
	claimErr error
}

func (s *mockStore) add(t *testing.T, e order.Event) {
	t.Helper()
	payload, err := json.Marshal(e)
	require.NoError(t, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, &memMessage{Message: Message{
		ID:      int64(len(s.messages) + 1),
		OrderID: e.OrderID,
		Type:    string(e.Type),
		Payload: payload,
	}})
}

func (s *mockStore) Claim(_ context.Context, limit int, _ time.Duration) ([]Message, error) {
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Message
	for _, m := range s.messages {
		if len(out) == limit {
			break
		}
		if m.delivered || m.abandoned || !m.retryAt.IsZero() {
			continue
		}
		out = append(out, m.Message)
	}
	// Row order from UPDATE ... RETURNING is unspecified.
	slices.Reverse(out)
	return out, nil
}

func (s *mockStore) get(id int64) *memMessage {
	return s.messages[id-1]
}

func (s *mockStore) MarkDelivered(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.get(id)
	m.delivered = true
	m.Attempts++
	return nil
}

func (s *mockStore) MarkFailed(_ context.Context, id int64, handled []string, reason string, retryAt time.Time, abandon bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.get(id)
	m.Attempts++
	m.Handled = slices.Clone(handled)
	m.lastError = reason
	m.retryAt = retryAt
	m.abandoned = abandon
	return nil
}

func (s *mockStore) Pending(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, m := range s.messages {
		if !m.delivered && !m.abandoned {
			n++
		}
	}
	return n, nil
}

// retryNow makes every failed message due again.
func (s *mockStore) retryNow() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		m.retryAt = time.Time{}
	}
}

type recordingHandler struct {
	name   string
	mu     sync.Mutex
	events []order.Event
	calls  int
	err    error
}

func (h *recordingHandler) Name() string {
	if h.name == "" {
		return "recorder"
	}
	return h.name
}

func (h *recordingHandler) Handle(_ context.Context, e order.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.err != nil {
		return h.err
	}
	h.events = append(h.events, e)
	return nil
}

func (h *recordingHandler) setErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.err = err
}

func (h *recordingHandler) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func (h *recordingHandler) seen() []order.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]order.Event(nil), h.events...)
}

func createdEvent(id string, number int64) order.Event {
	return order.Event{
		Type:        order.EventCreated,
		OrderID:     id,
		OrderNumber: number,
		Email:       "buyer@example.com",
		Status:      order.StatusCreated,
		OccurredAt:  time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

// --- Tests ---

func TestRelay_DeliversInOrder(t *testing.T) {
	store := &mockStore{}
	store.add(t, createdEvent("o1", 1))
	store.add(t, createdEvent("o2", 2))
	store.add(t, createdEvent("o3", 3))

	h := &recordingHandler{}
	relay, err := NewRelay(store, Config{BatchSize: 2}, nil, h)
	require.NoError(t, err)

	require.NoError(t, relay.Drain(context.Background()))

	seen := h.seen()
	require.Len(t, seen, 3)
	assert.Equal(t, "o1", seen[0].OrderID)
	assert.Equal(t, "o2", seen[1].OrderID)
	assert.Equal(t, "o3", seen[2].OrderID)
	assert.Equal(t, int64(3), seen[2].OrderNumber)

	pending, err := store.Pending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestRelay_FanOutToAllHandlers(t *testing.T) {
	store := &mockStore{}
	store.add(t, createdEvent("o1", 1))

	first, second := &recordingHandler{name: "first"}, &recordingHandler{name: "second"}
	relay, err := NewRelay(store, Config{}, nil, first, second)
	require.NoError(t, err)

	require.NoError(t, relay.Drain(context.Background()))

	assert.Len(t, first.seen(), 1)
	assert.Len(t, second.seen(), 1)
}

func TestRelay_RetriesOnlyFailedHandlers(t *testing.T) {
	store := &mockStore{}
	store.add(t, createdEvent("o1", 1))

	mail := &recordingHandler{name: "email"}
	kafka := &recordingHandler{name: "kafka", err: errors.New("broker down")}
	relay, err := NewRelay(store, Config{MaxAttempts: 5}, nil, kafka, mail)
	require.NoError(t, err)

	for range 3 {
		require.NoError(t, relay.Drain(context.Background()))
		store.retryNow()
	}

	m := store.get(1)
	assert.Equal(t, 1, mail.callCount(), "email must not be resent while kafka fails")
	assert.Equal(t, 3, kafka.callCount())
	assert.Equal(t, []string{"email"}, m.Handled)
	assert.Contains(t, m.lastError, "kafka: broker down")
	assert.False(t, m.delivered)

	kafka.setErr(nil)
	require.NoError(t, relay.Drain(context.Background()))

	assert.True(t, m.delivered)
	assert.Equal(t, 1, mail.callCount())
	assert.Len(t, kafka.seen(), 1)
}

func TestRelay_SkipsHandledOnClaim(t *testing.T) {
	store := &mockStore{}
	store.add(t, createdEvent("o1", 1))
	store.get(1).Handled = []string{"email"}

	mail := &recordingHandler{name: "email"}
	kafka := &recordingHandler{name: "kafka"}
	relay, err := NewRelay(store, Config{}, nil, mail, kafka)
	require.NoError(t, err)

	require.NoError(t, relay.Drain(context.Background()))

	assert.Zero(t, mail.callCount())
	assert.Len(t, kafka.seen(), 1)
	assert.True(t, store.get(1).delivered)
}

func TestNewRelay_DuplicateHandlerName(t *testing.T) {
	_, err := NewRelay(&mockStore{}, Config{}, nil,
		&recordingHandler{name: "email"},
		&recordingHandler{name: "email"},
	)
	require.Error(t, err)
}

func TestRelay_RetriesThenAbandons(t *testing.T) {
	store := &mockStore{}
	store.add(t, createdEvent("o1", 1))

	h := &recordingHandler{err: errors.New("smtp down")}
	relay, err := NewRelay(store, Config{MaxAttempts: 3}, nil, h)
	require.NoError(t, err)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	relay.now = func() time.Time { return now }

	require.NoError(t, relay.Drain(context.Background()))
	m := store.get(1)
	assert.Equal(t, 1, m.Attempts)
	assert.False(t, m.abandoned)
	assert.Equal(t, "recorder: smtp down", m.lastError)
	assert.Equal(t, now.Add(2*time.Second), m.retryAt)

	store.retryNow()
	require.NoError(t, relay.Drain(context.Background()))
	store.retryNow()
	require.NoError(t, relay.Drain(context.Background()))

	assert.Equal(t, 3, m.Attempts)
	assert.True(t, m.abandoned)

	pending, err := store.Pending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestRelay_RecoversAfterHandlerFix(t *testing.T) {
	store := &mockStore{}
	store.add(t, createdEvent("o1", 1))

	h := &recordingHandler{err: errors.New("broker unavailable")}
	relay, err := NewRelay(store, Config{}, nil, h)
	require.NoError(t, err)

	require.NoError(t, relay.Drain(context.Background()))
	assert.Empty(t, h.seen())

	h.setErr(nil)
	store.retryNow()

	require.NoError(t, relay.Drain(context.Background()))
	assert.Len(t, h.seen(), 1)
	assert.True(t, store.get(1).delivered)
}

func TestRelay_BadPayloadIsRetriedNotFatal(t *testing.T) {
	store := &mockStore{}
	store.messages = append(store.messages, &memMessage{Message: Message{ID: 1, OrderID: "o1", Type: "order.created", Payload: []byte("{")}})

	relay, err := NewRelay(store, Config{MaxAttempts: 1}, nil, &recordingHandler{})
	require.NoError(t, err)

	require.NoError(t, relay.Drain(context.Background()))
	assert.True(t, store.get(1).abandoned)
	assert.Contains(t, store.get(1).lastError, "decode payload")
}

func TestRelay_ClaimError(t *testing.T) {
	store := &mockStore{claimErr: errors.New("connection refused")}
	relay, err := NewRelay(store, Config{}, nil)
	require.NoError(t, err)

	err = relay.Drain(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRelay_KickWakesRun(t *testing.T) {
	store := &mockStore{}
	h := &recordingHandler{}
	relay, err := NewRelay(store, Config{Interval: time.Hour}, nil, h)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	store.add(t, createdEvent("o1", 1))
	relay.Kick()
	relay.Kick() // never blocks

	require.Eventually(t, func() bool {
		return len(h.seen()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: 2 * time.Second},
		{attempt: 3, want: 8 * time.Second},
		{attempt: 11, want: 2048 * time.Second},
		{attempt: 12, want: time.Hour},
		{attempt: 40, want: time.Hour},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}
