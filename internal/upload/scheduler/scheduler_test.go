package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joetabora/CreatorCast/internal/upload/store"
)

type fakeDelaySet struct {
	members map[string]time.Time
	addErr  error
}

func newFakeDelaySet() *fakeDelaySet {
	return &fakeDelaySet{members: make(map[string]time.Time)}
}

func (f *fakeDelaySet) AddDelayed(_ context.Context, _ string, member string, readyAt time.Time) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.members[member] = readyAt
	return nil
}

func (f *fakeDelaySet) PopDue(_ context.Context, _ string, now time.Time, limit int) ([]string, error) {
	var due []string
	for member, readyAt := range f.members {
		if !readyAt.After(now) {
			due = append(due, member)
			delete(f.members, member)
		}
		if len(due) == limit {
			break
		}
	}
	return due, nil
}

func (f *fakeDelaySet) Remove(_ context.Context, _ string, member string) error {
	delete(f.members, member)
	return nil
}

type fakePublisher struct {
	published []string
	err       error
}

func (f *fakePublisher) PublishWithRetry(_ context.Context, body []byte) error {
	if f.err != nil {
		return f.err
	}

	var msg struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		return err
	}

	f.published = append(f.published, msg.JobID)
	return nil
}

type fakeAdmissionStore struct {
	jobs []store.AdmissibleJob
	err  error
}

func (f *fakeAdmissionStore) ListAdmissible(_ context.Context) ([]store.AdmissibleJob, error) {
	return f.jobs, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestScheduler(delaySet DelaySet, publisher Publisher, admissionStore AdmissionStore, now time.Time) *Scheduler {
	s := New(delaySet, publisher, admissionStore, Config{
		BaseRetryDelay: 2 * time.Second,
		PollInterval:   time.Second,
		BatchSize:      100,
	}, testLogger())
	s.now = func() time.Time { return now }
	return s
}

func TestBackoff(t *testing.T) {
	s := newTestScheduler(newFakeDelaySet(), &fakePublisher{}, &fakeAdmissionStore{}, time.Now())

	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{0, 2 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, s.Backoff(tt.retryCount), "retry %d", tt.retryCount)
	}
}

func TestEnqueueImmediate(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	delaySet := newFakeDelaySet()
	publisher := &fakePublisher{}
	s := newTestScheduler(delaySet, publisher, &fakeAdmissionStore{}, now)

	tests := []struct {
		name    string
		readyAt time.Time
	}{
		{"ready now", now},
		{"ready in the past", now.Add(-time.Minute)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			publisher.published = nil

			err := s.Enqueue(context.Background(), "job-1", tt.readyAt)

			require.NoError(t, err)
			assert.Equal(t, []string{"job-1"}, publisher.published)
			assert.Empty(t, delaySet.members)
		})
	}
}

func TestEnqueueDelayed(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	readyAt := now.Add(10 * time.Minute)
	delaySet := newFakeDelaySet()
	publisher := &fakePublisher{}
	s := newTestScheduler(delaySet, publisher, &fakeAdmissionStore{}, now)

	err := s.Enqueue(context.Background(), "job-1", readyAt)

	require.NoError(t, err)
	assert.Empty(t, publisher.published, "future job must not be published yet")
	assert.Equal(t, readyAt, delaySet.members["job-1"])
}

func TestEnqueueRetryUsesBackoff(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	delaySet := newFakeDelaySet()
	s := newTestScheduler(delaySet, &fakePublisher{}, &fakeAdmissionStore{}, now)

	err := s.EnqueueRetry(context.Background(), "job-1", 2)

	require.NoError(t, err)
	assert.Equal(t, now.Add(4*time.Second), delaySet.members["job-1"])
}

func TestAdmitDue(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	delaySet := newFakeDelaySet()
	publisher := &fakePublisher{}
	s := newTestScheduler(delaySet, publisher, &fakeAdmissionStore{}, now)

	delaySet.members["due-job"] = now.Add(-time.Second)
	delaySet.members["future-job"] = now.Add(time.Hour)

	err := s.admitDue(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"due-job"}, publisher.published)
	assert.Contains(t, delaySet.members, "future-job")
	assert.NotContains(t, delaySet.members, "due-job")
}

func TestAdmitDueRestoresOnPublishFailure(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	delaySet := newFakeDelaySet()
	publisher := &fakePublisher{err: errors.New("broker down")}
	s := newTestScheduler(delaySet, publisher, &fakeAdmissionStore{}, now)

	delaySet.members["due-job"] = now.Add(-time.Second)

	err := s.admitDue(context.Background())

	require.Error(t, err)
	assert.Contains(t, delaySet.members, "due-job", "failed publish must return the job to the delay set")
}

func TestForget(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	delaySet := newFakeDelaySet()
	s := newTestScheduler(delaySet, &fakePublisher{}, &fakeAdmissionStore{}, now)

	delaySet.members["job-1"] = now.Add(time.Hour)

	require.NoError(t, s.Forget(context.Background(), "job-1"))
	assert.Empty(t, delaySet.members)

	// Forgetting an absent member is not an error.
	require.NoError(t, s.Forget(context.Background(), "job-2"))
}

func TestRecover(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		store       *fakeAdmissionStore
		wantErr     bool
		wantMembers int
	}{
		{
			name: "re-seeds owed jobs",
			store: &fakeAdmissionStore{jobs: []store.AdmissibleJob{
				{ID: "job-1", ReadyAt: now.Add(-time.Minute)},
				{ID: "job-2", ReadyAt: now.Add(time.Hour)},
			}},
			wantMembers: 2,
		},
		{
			name:        "nothing owed",
			store:       &fakeAdmissionStore{},
			wantMembers: 0,
		},
		{
			name:    "store failure",
			store:   &fakeAdmissionStore{err: errors.New("db down")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delaySet := newFakeDelaySet()
			s := newTestScheduler(delaySet, &fakePublisher{}, tt.store, now)

			err := s.Recover(context.Background())

			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, delaySet.members, tt.wantMembers)
		})
	}
}
