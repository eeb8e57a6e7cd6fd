package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joetabora/CreatorCast/internal/api/dto"
	"github.com/joetabora/CreatorCast/internal/upload/domain"
)

type fakeJobStore struct {
	created  *domain.UploadJob
	job      *domain.UploadJob
	jobs     []*domain.UploadJob
	getErr   error
	listErr  error
	cancel   error
	resetErr error
	resetJob *domain.UploadJob

	listStatus string
	listLimit  int
	listOffset int
}

func (f *fakeJobStore) Create(_ context.Context, job *domain.UploadJob) error {
	f.created = job
	return nil
}

func (f *fakeJobStore) Get(_ context.Context, _, _ string) (*domain.UploadJob, error) {
	return f.job, f.getErr
}

func (f *fakeJobStore) List(_ context.Context, _ string, status string, limit, offset int) ([]*domain.UploadJob, error) {
	f.listStatus = status
	f.listLimit = limit
	f.listOffset = offset
	return f.jobs, f.listErr
}

func (f *fakeJobStore) Cancel(_ context.Context, _, _ string) error {
	return f.cancel
}

func (f *fakeJobStore) ResetForRetry(_ context.Context, _, _ string, nextAttempt func(retryCount int) time.Time) (*domain.UploadJob, error) {
	if f.resetErr != nil {
		return nil, f.resetErr
	}
	na := nextAttempt(f.resetJob.RetryCount)
	f.resetJob.NextAttemptAt = &na
	return f.resetJob, nil
}

type fakeAdmitter struct {
	enqueued  []string
	readyAts  []time.Time
	forgotten []string
}

func (f *fakeAdmitter) Enqueue(_ context.Context, jobID string, readyAt time.Time) error {
	f.enqueued = append(f.enqueued, jobID)
	f.readyAts = append(f.readyAts, readyAt)
	return nil
}

func (f *fakeAdmitter) Backoff(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	return 2 * time.Second * time.Duration(uint(1)<<uint(retryCount-1))
}

func (f *fakeAdmitter) Forget(_ context.Context, jobID string) error {
	f.forgotten = append(f.forgotten, jobID)
	return nil
}

func newTestRouter(store JobStore, admitter Admitter) *gin.Engine {
	gin.SetMode(gin.TestMode)

	h := NewUploadHandler(&Dependencies{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:      store,
		Scheduler:  admitter,
		MaxRetries: 3,
	})

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(OwnerIDKey, "owner-1")
		c.Next()
	})
	r.POST("/api/v1/uploads", h.CreateUpload)
	r.GET("/api/v1/uploads", h.ListUploads)
	r.GET("/api/v1/uploads/:job_id", h.GetUpload)
	r.POST("/api/v1/uploads/:job_id/cancel", h.CancelUpload)
	r.POST("/api/v1/uploads/:job_id/retry", h.RetryUpload)
	return r
}

func performJSON(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func sampleJob() *domain.UploadJob {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &domain.UploadJob{
		ID:       uuid.New().String(),
		OwnerID:  "owner-1",
		VideoRef: uuid.New().String(),
		PlatformRequests: []domain.PlatformRequest{
			{Platform: domain.PlatformYouTube, Title: "My Video"},
		},
		Status:     domain.StatusPending,
		MaxRetries: 3,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestCreateUpload(t *testing.T) {
	validBody := func() map[string]any {
		return map[string]any{
			"video_id": "video-1",
			"platforms": []map[string]any{
				{"platform": "youtube", "title": "My Video"},
				{"platform": "tiktok", "title": "My Video", "private": true},
			},
		}
	}

	tests := []struct {
		name       string
		body       map[string]any
		wantStatus int
		wantErr    string
	}{
		{
			name:       "valid request",
			body:       validBody(),
			wantStatus: http.StatusCreated,
		},
		{
			name: "missing video id",
			body: map[string]any{
				"platforms": []map[string]any{{"platform": "youtube", "title": "t"}},
			},
			wantStatus: http.StatusBadRequest,
			wantErr:    "Invalid request body",
		},
		{
			name:       "empty platform list",
			body:       map[string]any{"video_id": "video-1", "platforms": []map[string]any{}},
			wantStatus: http.StatusBadRequest,
			wantErr:    "Invalid request body",
		},
		{
			name: "unknown platform",
			body: map[string]any{
				"video_id":  "video-1",
				"platforms": []map[string]any{{"platform": "vimeo", "title": "t"}},
			},
			wantStatus: http.StatusBadRequest,
			wantErr:    "unsupported platform",
		},
		{
			name: "duplicate platform",
			body: map[string]any{
				"video_id": "video-1",
				"platforms": []map[string]any{
					{"platform": "youtube", "title": "t"},
					{"platform": "youtube", "title": "t2"},
				},
			},
			wantStatus: http.StatusBadRequest,
			wantErr:    "duplicate platform",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeJobStore{}
			admitter := &fakeAdmitter{}
			r := newTestRouter(store, admitter)

			w := performJSON(r, http.MethodPost, "/api/v1/uploads", tt.body)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantErr != "" {
				assert.Contains(t, w.Body.String(), tt.wantErr)
				assert.Nil(t, store.created, "rejected request must not create a job")
				return
			}

			require.NotNil(t, store.created)
			assert.Equal(t, "owner-1", store.created.OwnerID)
			assert.Equal(t, domain.StatusPending, store.created.Status)
			assert.Len(t, store.created.PlatformRequests, 2)
			assert.Equal(t, []string{store.created.ID}, admitter.enqueued)

			var resp dto.UploadJobDTO
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, store.created.ID, resp.ID)
			assert.Equal(t, domain.StatusPending, resp.Status)
		})
	}
}

func TestCreateUploadScheduled(t *testing.T) {
	scheduledAt := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	store := &fakeJobStore{}
	admitter := &fakeAdmitter{}
	r := newTestRouter(store, admitter)

	w := performJSON(r, http.MethodPost, "/api/v1/uploads", map[string]any{
		"video_id":     "video-1",
		"platforms":    []map[string]any{{"platform": "youtube", "title": "t"}},
		"scheduled_at": scheduledAt.Format(time.RFC3339),
	})

	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, store.created)
	assert.Equal(t, domain.StatusScheduled, store.created.Status)
	require.Len(t, admitter.readyAts, 1)
	assert.True(t, admitter.readyAts[0].Equal(scheduledAt))
}

func TestCreateUploadScheduledInPast(t *testing.T) {
	// An elapsed scheduled_at is accepted: the job starts pending and is
	// handed to the scheduler with its original ready-at, which admits
	// anything already due straight away.
	scheduledAt := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	store := &fakeJobStore{}
	admitter := &fakeAdmitter{}
	r := newTestRouter(store, admitter)

	w := performJSON(r, http.MethodPost, "/api/v1/uploads", map[string]any{
		"video_id":     "video-1",
		"platforms":    []map[string]any{{"platform": "youtube", "title": "t"}},
		"scheduled_at": scheduledAt.Format(time.RFC3339),
	})

	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, store.created)
	assert.Equal(t, domain.StatusPending, store.created.Status)
	require.Len(t, admitter.readyAts, 1)
	assert.True(t, admitter.readyAts[0].Equal(scheduledAt))
}

func TestGetUpload(t *testing.T) {
	job := sampleJob()

	tests := []struct {
		name       string
		jobID      string
		store      *fakeJobStore
		wantStatus int
	}{
		{
			name:       "found",
			jobID:      job.ID,
			store:      &fakeJobStore{job: job},
			wantStatus: http.StatusOK,
		},
		{
			name:       "not found",
			jobID:      uuid.New().String(),
			store:      &fakeJobStore{getErr: domain.ErrJobNotFound},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "invalid id",
			jobID:      "not-a-uuid",
			store:      &fakeJobStore{},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(tt.store, &fakeAdmitter{})

			w := performJSON(r, http.MethodGet, "/api/v1/uploads/"+tt.jobID, nil)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				var resp dto.UploadJobDTO
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, job.ID, resp.ID)
			}
		})
	}
}

func TestListUploads(t *testing.T) {
	store := &fakeJobStore{jobs: []*domain.UploadJob{sampleJob(), sampleJob()}}
	r := newTestRouter(store, &fakeAdmitter{})

	w := performJSON(r, http.MethodGet, "/api/v1/uploads?status=pending&limit=50&offset=10", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pending", store.listStatus)
	assert.Equal(t, 51, store.listLimit, "one extra row detects further pages")
	assert.Equal(t, 10, store.listOffset)

	var resp dto.ListUploadsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.False(t, resp.HasMore)
}

func TestListUploadsValidation(t *testing.T) {
	tests := []struct {
		name  string
		query string

		wantStatus int
		wantLimit  int
		wantOffset int
	}{
		{
			name:       "defaults applied",
			query:      "",
			wantStatus: http.StatusOK,
			wantLimit:  21,
			wantOffset: 0,
		},
		{
			name:       "limit clamped",
			query:      "?limit=500",
			wantStatus: http.StatusOK,
			wantLimit:  101,
			wantOffset: 0,
		},
		{
			name:       "negative offset reset",
			query:      "?offset=-5",
			wantStatus: http.StatusOK,
			wantLimit:  21,
			wantOffset: 0,
		},
		{
			name:       "unknown status rejected",
			query:      "?status=done",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeJobStore{}
			r := newTestRouter(store, &fakeAdmitter{})

			w := performJSON(r, http.MethodGet, "/api/v1/uploads"+tt.query, nil)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.wantLimit, store.listLimit)
				assert.Equal(t, tt.wantOffset, store.listOffset)
			}
		})
	}
}

func TestListUploadsHasMore(t *testing.T) {
	// 21 rows against the default limit of 20 means a further page exists.
	jobs := make([]*domain.UploadJob, 21)
	for i := range jobs {
		jobs[i] = sampleJob()
	}
	store := &fakeJobStore{jobs: jobs}
	r := newTestRouter(store, &fakeAdmitter{})

	w := performJSON(r, http.MethodGet, "/api/v1/uploads", nil)

	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.ListUploadsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 20, resp.Count)
	assert.True(t, resp.HasMore)
}

func TestCancelUpload(t *testing.T) {
	jobID := uuid.New().String()

	tests := []struct {
		name       string
		cancelErr  error
		wantStatus int
		wantForget bool
	}{
		{
			name:       "cancellable job",
			wantStatus: http.StatusOK,
			wantForget: true,
		},
		{
			name:       "not found",
			cancelErr:  domain.ErrJobNotFound,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "terminal state",
			cancelErr:  domain.ErrInvalidState,
			wantStatus: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeJobStore{cancel: tt.cancelErr}
			admitter := &fakeAdmitter{}
			r := newTestRouter(store, admitter)

			w := performJSON(r, http.MethodPost, "/api/v1/uploads/"+jobID+"/cancel", nil)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantForget {
				assert.Equal(t, []string{jobID}, admitter.forgotten)
			} else {
				assert.Empty(t, admitter.forgotten)
			}
		})
	}
}

func TestRetryUpload(t *testing.T) {
	job := sampleJob()
	job.Status = domain.StatusFailed
	job.RetryCount = 1

	resetJob := sampleJob()
	resetJob.ID = job.ID
	resetJob.Status = domain.StatusPending
	resetJob.RetryCount = 2

	tests := []struct {
		name       string
		store      *fakeJobStore
		wantStatus int
		wantErr    string
	}{
		{
			name:       "retryable job",
			store:      &fakeJobStore{job: job, resetJob: resetJob},
			wantStatus: http.StatusOK,
		},
		{
			name:       "not found",
			store:      &fakeJobStore{resetErr: domain.ErrJobNotFound},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "retries exhausted",
			store:      &fakeJobStore{job: job, resetErr: domain.ErrRetriesExhausted},
			wantStatus: http.StatusConflict,
			wantErr:    "retry budget",
		},
		{
			name:       "not failed",
			store:      &fakeJobStore{job: job, resetErr: domain.ErrInvalidState},
			wantStatus: http.StatusConflict,
			wantErr:    "Only failed upload jobs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			admitter := &fakeAdmitter{}
			r := newTestRouter(tt.store, admitter)

			w := performJSON(r, http.MethodPost, "/api/v1/uploads/"+job.ID+"/retry", nil)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantErr != "" {
				assert.Contains(t, w.Body.String(), tt.wantErr)
			}
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, []string{job.ID}, admitter.enqueued)

				var resp dto.UploadJobDTO
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, domain.StatusPending, resp.Status)
				assert.Equal(t, 2, resp.RetryCount)
			}
		})
	}
}

func TestRetryUploadBackoffFromResetCount(t *testing.T) {
	// The delay comes from the retry count the reset itself returns, not
	// from a read that may be stale by the time the reset commits. The
	// stored row here is two retries ahead of what a pre-read would see.
	job := sampleJob()
	job.Status = domain.StatusFailed
	job.RetryCount = 0

	resetJob := sampleJob()
	resetJob.ID = job.ID
	resetJob.Status = domain.StatusPending
	resetJob.RetryCount = 2

	store := &fakeJobStore{job: job, resetJob: resetJob}
	admitter := &fakeAdmitter{}
	r := newTestRouter(store, admitter)

	w := performJSON(r, http.MethodPost, "/api/v1/uploads/"+job.ID+"/retry", nil)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, admitter.readyAts, 1)
	assert.WithinDuration(t, time.Now().Add(admitter.Backoff(2)), admitter.readyAts[0], time.Second)
}
