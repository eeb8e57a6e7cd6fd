package store

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joetabora/CreatorCast/internal/upload/domain"
)

func TestJobRowToDomain(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	scheduled := now.Add(time.Hour)

	row := &jobRow{
		ID:               "job-1",
		OwnerID:          "owner-1",
		VideoRef:         "video-1",
		PlatformRequests: []byte(`[{"platform":"youtube","title":"My Video","private":false},{"platform":"tiktok","title":"My Video","private":true}]`),
		Status:           domain.StatusProcessing,
		Progress:         0.5,
		Results:          []byte(`[{"platform":"youtube","success":true,"remote_id":"yt-1","attempted_at":"2025-06-01T12:00:00Z"}]`),
		RetryCount:       1,
		MaxRetries:       3,
		ScheduledAt:      &scheduled,
		WorkerID:         sql.NullString{String: "upload-worker-abc", Valid: true},
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	job, err := row.toDomain()

	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	require.Len(t, job.PlatformRequests, 2)
	assert.Equal(t, domain.PlatformYouTube, job.PlatformRequests[0].Platform)
	assert.True(t, job.PlatformRequests[1].Private)
	require.Len(t, job.Results, 1)
	assert.True(t, job.Results[0].Success)
	assert.Equal(t, "yt-1", job.Results[0].RemoteID)
	assert.Equal(t, "upload-worker-abc", job.WorkerID)
	assert.Equal(t, &scheduled, job.ScheduledAt)
}

func TestJobRowToDomainDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		row  jobRow
	}{
		{
			name: "malformed requests",
			row:  jobRow{PlatformRequests: []byte(`{`), Results: []byte(`[]`)},
		},
		{
			name: "malformed results",
			row:  jobRow{PlatformRequests: []byte(`[]`), Results: []byte(`not json`)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.row.toDomain()
			require.Error(t, err)
		})
	}
}

func TestEncodeResultsNilBecomesEmptyArray(t *testing.T) {
	data, err := encodeResults(nil)

	require.NoError(t, err)
	assert.Equal(t, "[]", string(data), "jsonb column must never hold null")
}

func TestEncodeRequestsRoundTrip(t *testing.T) {
	requests := []domain.PlatformRequest{
		{Platform: domain.PlatformYouTube, Title: "My Video", Tags: []string{"vlog"}},
		{Platform: domain.PlatformX, Title: "My Video", Private: true},
	}

	data, err := encodeRequests(requests)
	require.NoError(t, err)

	row := &jobRow{PlatformRequests: data, Results: []byte(`[]`)}
	job, err := row.toDomain()

	require.NoError(t, err)
	assert.Equal(t, requests, job.PlatformRequests)
}
