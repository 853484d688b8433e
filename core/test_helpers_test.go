package core

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type countingMinter struct {
	mu     sync.Mutex
	mints  int
	errs   []error
	value  string
	ttl    time.Duration
	paused chan struct{}
}

func newCountingMinter(value string, ttl time.Duration) *countingMinter {
	return &countingMinter{value: value, ttl: ttl}
}

func (m *countingMinter) Mint(_ context.Context, credentialKey string) (MintedToken, error) {
	if m.paused != nil {
		<-m.paused
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mints++
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return MintedToken{}, err
		}
	}
	return MintedToken{
		Value:     fmt.Sprintf("%s-%s-%d", m.value, credentialKey, m.mints),
		ExpiresIn: m.ttl,
	}, nil
}

func (m *countingMinter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mints
}

type staticEndpointResolver struct {
	endpoint Endpoint
	err      error
}

func (r staticEndpointResolver) Resolve(Event) (Endpoint, error) {
	if r.err != nil {
		return Endpoint{}, r.err
	}
	return r.endpoint, nil
}

type scriptedCall struct {
	response ConsumerResponse
	err      error
}

// scriptedTransport replays a queue of responses; once the queue drains it
// keeps returning the last entry.
type scriptedTransport struct {
	mu    sync.Mutex
	calls int
	queue []scriptedCall
	last  []ConsumerRequest
}

func (t *scriptedTransport) Do(_ context.Context, req ConsumerRequest) (ConsumerResponse, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	t.last = append(t.last, req)
	if len(t.queue) == 0 {
		return ConsumerResponse{StatusCode: 200}, nil
	}
	call := t.queue[0]
	if len(t.queue) > 1 {
		t.queue = t.queue[1:]
	}
	return call.response, call.err
}

func (t *scriptedTransport) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

type captureAlertSink struct {
	mu     sync.Mutex
	alerts []DeadLetterAlert
}

func (s *captureAlertSink) Notify(_ context.Context, alert DeadLetterAlert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
}

func (s *captureAlertSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

type zeroBackoff struct{}

func (zeroBackoff) NextDelay(int) time.Duration { return 0 }

func testEndpoint() Endpoint {
	return Endpoint{
		Key:     "crm.contacts",
		Method:  "POST",
		URL:     "https://crm.example.com/api/contacts",
		Timeout: time.Second,
	}
}

func testEvent(correlationID string) Event {
	return Event{
		CorrelationID: correlationID,
		EventType:     EventTypeCallCompleted,
		Payload:       []byte(`{"call_id":"call_1","duration_sec":42}`),
		ReceivedAt:    time.Now().UTC(),
	}
}

func newTestService(t interface{ Fatalf(string, ...any) }, transport ConsumerTransport, opts ...Option) *Service {
	base := []Option{
		WithTokenMinter(newCountingMinter("tok", time.Hour)),
		WithTransport(transport),
		WithEndpointResolver(staticEndpointResolver{endpoint: testEndpoint()}),
		WithBackoffScheduler(zeroBackoff{}),
	}
	svc, err := NewService(Config{}, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}
