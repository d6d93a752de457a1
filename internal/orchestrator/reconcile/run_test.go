package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"billingsync/internal/model"
	"billingsync/internal/pgmq"
	"billingsync/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	mu      sync.Mutex
	deleted []int64
	sent    map[string][]any
	sendErr error
}

func newFakeQueue() *fakeQueue { return &fakeQueue{sent: map[string][]any{}} }

func (q *fakeQueue) ReadWithPoll(context.Context, string, int, int, int) ([]*pgmq.Message, error) {
	return nil, nil
}

func (q *fakeQueue) Delete(_ context.Context, _ string, ids []int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleted = append(q.deleted, ids...)
	return nil
}

func (q *fakeQueue) SendJSON(_ context.Context, queue string, v any) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sendErr != nil {
		return 0, q.sendErr
	}
	q.sent[queue] = append(q.sent[queue], v)
	return int64(len(q.sent[queue])), nil
}

// stubReconcile returns the queued errors in order, then succeeds.
type stubReconcile struct {
	mu          sync.Mutex
	verifyErrs  []error
	verifyCalls int
	tenantCalls int
	replayRes   *service.ReplayResult
	replayErr   error
	replayCalls int
	sweepRes    *service.SweepResult
}

func (s *stubReconcile) nextVerify() (*service.VerifyResult, error) {
	if len(s.verifyErrs) > 0 {
		err := s.verifyErrs[0]
		s.verifyErrs = s.verifyErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &service.VerifyResult{ShouldBePaid: true, Fixed: true}, nil
}

func (s *stubReconcile) ReplaySession(context.Context, string) (*service.ReplayResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replayCalls++
	return s.replayRes, s.replayErr
}

func (s *stubReconcile) VerifyAndFix(context.Context, string, string) (*service.VerifyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifyCalls++
	return s.nextVerify()
}

func (s *stubReconcile) VerifyAndFixTenant(context.Context, string) (*service.VerifyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenantCalls++
	return s.nextVerify()
}

func (s *stubReconcile) SweepOrphanedTrials(context.Context) (*service.SweepResult, error) {
	if s.sweepRes == nil {
		return &service.SweepResult{}, nil
	}
	return s.sweepRes, nil
}

func (s *stubReconcile) CancelSubscription(context.Context, string) (string, bool, error) {
	return "", false, nil
}

func testOptions() Options {
	return Options{
		Queue:           "reconcile_queue",
		DeadLetterQueue: "reconcile_queue_dlq",
		MaxRetries:      5,
		BackoffInitial:  time.Second,
		BackoffMax:      4 * time.Second,
		JobTimeout:      time.Second,
	}
}

func newTestWorker(q Queue, r service.ReconciliationService) (*Worker, *[]time.Duration) {
	w := NewWorker(q, r, testOptions(), zerolog.Nop())
	var slept []time.Duration
	w.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return w, &slept
}

func message(t *testing.T, id int64, job model.ReconcileJob) *pgmq.Message {
	t.Helper()
	data, err := json.Marshal(job)
	require.NoError(t, err)
	return &pgmq.Message{ID: id, ReadCount: 1, Data: data}
}

func TestProcessSucceedsAfterTransientFailures(t *testing.T) {
	q := newFakeQueue()
	transient := &service.ProviderError{Op: "list_charges", Err: errors.New("502")}
	r := &stubReconcile{verifyErrs: []error{transient, transient}}
	w, slept := newTestWorker(q, r)

	w.Process(context.Background(), message(t, 7, model.ReconcileJob{TenantID: "T1", UserID: "owner-1"}))

	assert.Equal(t, 3, r.verifyCalls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *slept)
	assert.Equal(t, []int64{7}, q.deleted)
	assert.Empty(t, q.sent["reconcile_queue_dlq"])
}

func TestProcessDeadLettersAfterMaxRetries(t *testing.T) {
	q := newFakeQueue()
	boom := errors.New("db down")
	r := &stubReconcile{verifyErrs: []error{boom, boom, boom, boom, boom}}
	w, slept := newTestWorker(q, r)

	w.Process(context.Background(), message(t, 9, model.ReconcileJob{TenantID: "T1"}))

	assert.Equal(t, 5, r.tenantCalls)
	// Backoff doubles and is capped.
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second}, *slept)
	require.Len(t, q.sent["reconcile_queue_dlq"], 1)
	dead := q.sent["reconcile_queue_dlq"][0].(model.DeadLetterJob)
	assert.Equal(t, "T1", dead.Job.TenantID)
	assert.Equal(t, 5, dead.Attempts)
	assert.Equal(t, "db down", dead.LastError)
	assert.Equal(t, []int64{9}, q.deleted)
}

func TestProcessPermanentErrorSkipsRetries(t *testing.T) {
	q := newFakeQueue()
	r := &stubReconcile{verifyErrs: []error{service.ErrNotFound}}
	w, slept := newTestWorker(q, r)

	w.Process(context.Background(), message(t, 3, model.ReconcileJob{TenantID: "gone"}))

	assert.Equal(t, 1, r.tenantCalls)
	assert.Empty(t, *slept)
	assert.Len(t, q.sent["reconcile_queue_dlq"], 1)
	assert.Equal(t, []int64{3}, q.deleted)
}

func TestProcessKeepsMessageWhenDeadLetterFails(t *testing.T) {
	q := newFakeQueue()
	q.sendErr = errors.New("queue down")
	r := &stubReconcile{verifyErrs: []error{service.ErrForbidden}}
	w, _ := newTestWorker(q, r)

	w.Process(context.Background(), message(t, 4, model.ReconcileJob{TenantID: "T1", UserID: "u"}))

	assert.Empty(t, q.deleted)
}

func TestProcessMalformedJobIsDeleted(t *testing.T) {
	q := newFakeQueue()
	r := &stubReconcile{}
	w, _ := newTestWorker(q, r)

	w.Process(context.Background(), &pgmq.Message{ID: 1, Data: []byte(`not json`)})
	w.Process(context.Background(), &pgmq.Message{ID: 2, Data: []byte(`{"reason":"x"}`)})

	assert.Equal(t, []int64{1, 2}, q.deleted)
	assert.Zero(t, r.tenantCalls)
}

func TestProcessReplaysSessionFirst(t *testing.T) {
	t.Run("replay settles tenant", func(t *testing.T) {
		q := newFakeQueue()
		r := &stubReconcile{replayRes: &service.ReplayResult{Fixed: true, TenantID: "T1", SessionRef: "cs_1"}}
		w, _ := newTestWorker(q, r)

		w.Process(context.Background(), message(t, 1, model.ReconcileJob{TenantID: "T1", SessionRef: "cs_1"}))

		assert.Equal(t, 1, r.replayCalls)
		assert.Zero(t, r.tenantCalls)
		assert.Equal(t, []int64{1}, q.deleted)
	})

	t.Run("unpaid session falls back to verify", func(t *testing.T) {
		q := newFakeQueue()
		r := &stubReconcile{replayErr: service.ErrInvalidState}
		w, _ := newTestWorker(q, r)

		w.Process(context.Background(), message(t, 2, model.ReconcileJob{TenantID: "T1", SessionRef: "cs_1"}))

		assert.Equal(t, 1, r.replayCalls)
		assert.Equal(t, 1, r.tenantCalls)
		assert.Equal(t, []int64{2}, q.deleted)
	})
}

func TestMonitorSweepAndHealth(t *testing.T) {
	r := &stubReconcile{sweepRes: &service.SweepResult{Checked: 2, Fixed: 1, Failed: 1}}
	h := &stubHealth{}
	m := NewMonitor(r, h, MonitorConfig{}, zerolog.Nop())

	m.Sweep(context.Background())
	m.CheckHealth(context.Background())
	assert.Equal(t, 1, h.calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Returns immediately with both jobs disabled and ctx done.
	m.Run(ctx)
}

type stubHealth struct{ calls int }

func (s *stubHealth) Report(context.Context, bool) (*service.HealthReport, error) {
	s.calls++
	return &service.HealthReport{Recommendations: []string{"High failure rate (50.0%) - check Stripe webhook configuration"}}, nil
}
