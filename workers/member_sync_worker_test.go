package workers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"challenge-platform/repository/memory"
	"challenge-platform/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type banLog struct {
	mu       sync.Mutex
	users    []string
	calls    int
	failures int
}

func (b *banLog) ResetForBan(_ context.Context, userID string, _ time.Time) (*services.ProgressView, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.failures > 0 {
		b.failures--
		return nil, errors.New("db down")
	}
	b.users = append(b.users, userID)
	return &services.ProgressView{UserID: userID}, nil
}

func syncServer(t *testing.T, users *[]RemoteProfile) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "svc-token", r.Header.Get("X-Service-Token"))
		assert.NotEmpty(t, r.URL.Query().Get("since"))
		_ = json.NewEncoder(w).Encode(GetUserChangesResponse{Users: *users})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSyncBatchUpsertsAndAppliesNewBans(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	banUntil := now.Add(7 * 24 * time.Hour)
	first := "Ada"

	users := []RemoteProfile{
		{ExternalID: "u1", Username: "ada", Email: "ada@example.com", FirstName: &first, Track: "backend", UpdatedAt: now},
		{ExternalID: "u2", Username: "mallory", Track: "backend", BannedUntil: &banUntil, UpdatedAt: now},
		{ExternalID: "u3", Username: "old", Track: "backend", BannedUntil: ptrTime(now.Add(-time.Hour)), UpdatedAt: now},
	}
	srv := syncServer(t, &users)

	members := memory.NewMembers()
	bans := &banLog{}
	w := NewMemberSyncWorker(members, bans, srv.URL, "/api/v1/public/profiles", "svc-token", time.Minute, nil)
	w.now = func() time.Time { return now }

	require.NoError(t, w.SyncBatch(context.Background(), time.Time{}))

	m, err := members.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", m.DisplayName())
	assert.Equal(t, "backend", m.Track)
	assert.Equal(t, []string{"u2"}, bans.users, "expired bans are not applied")

	require.NoError(t, w.SyncBatch(context.Background(), now))
	assert.Equal(t, []string{"u2"}, bans.users, "an already applied ban is not reapplied")

	extended := banUntil.Add(24 * time.Hour)
	users[1].BannedUntil = &extended
	require.NoError(t, w.SyncBatch(context.Background(), now))
	assert.Equal(t, []string{"u2", "u2"}, bans.users)

	last, err := members.LastUpdatedAt(context.Background())
	require.NoError(t, err)
	assert.True(t, last.Equal(now))
}

func TestFailedBanResetIsRetried(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	banUntil := now.Add(7 * 24 * time.Hour)
	remote := RemoteProfile{ExternalID: "u2", Username: "mallory", Track: "backend", BannedUntil: &banUntil, UpdatedAt: now}

	members := memory.NewMembers()
	bans := &banLog{failures: 1}
	w := NewMemberSyncWorker(members, bans, "http://sync.invalid", "/profiles", "t", time.Minute, nil)
	w.now = func() time.Time { return now }

	_, err := w.apply(context.Background(), remote)
	require.Error(t, err)
	_, err = members.Get(context.Background(), "u2")
	assert.ErrorIs(t, err, services.ErrNotFound, "the ban is not recorded before the reset succeeds")

	reset, err := w.apply(context.Background(), remote)
	require.NoError(t, err)
	assert.True(t, reset)
	assert.Equal(t, 2, bans.calls)
	assert.Equal(t, []string{"u2"}, bans.users)

	m, err := members.Get(context.Background(), "u2")
	require.NoError(t, err)
	require.NotNil(t, m.BannedUntil)
	assert.True(t, m.BannedUntil.Equal(banUntil))
}

func TestFailedProfileRewindsCursor(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	banUntil := now.Add(7 * 24 * time.Hour)
	users := []RemoteProfile{
		{ExternalID: "u1", Username: "ada", Track: "backend", UpdatedAt: now.Add(time.Hour)},
		{ExternalID: "u2", Username: "mallory", Track: "backend", BannedUntil: &banUntil, UpdatedAt: now},
	}
	srv := syncServer(t, &users)

	members := memory.NewMembers()
	bans := &banLog{failures: 1}
	w := NewMemberSyncWorker(members, bans, srv.URL, "/profiles", "svc-token", time.Minute, nil)
	w.now = func() time.Time { return now }

	require.NoError(t, w.SyncBatch(context.Background(), time.Time{}))
	assert.True(t, w.nextSince(context.Background()).Equal(now), "the cursor goes back to the failed profile")

	require.NoError(t, w.SyncBatch(context.Background(), w.nextSince(context.Background())))
	assert.Equal(t, []string{"u2"}, bans.users)
	assert.True(t, w.nextSince(context.Background()).Equal(now.Add(time.Hour)))
}

func TestSyncBatchNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	w := NewMemberSyncWorker(memory.NewMembers(), &banLog{}, srv.URL, "/profiles", "t", 0, nil)
	err := w.SyncBatch(context.Background(), time.Time{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestNewBan(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	later := now.Add(2 * time.Hour)
	past := now.Add(-time.Hour)

	assert.False(t, newBan(nil, nil, now))
	assert.False(t, newBan(nil, &past, now))
	assert.True(t, newBan(nil, &future, now))
	assert.True(t, newBan(&past, &future, now))
	assert.False(t, newBan(&future, &future, now))
	assert.True(t, newBan(&future, &later, now))
}

func ptrTime(t time.Time) *time.Time { return &t }

var _ MemberStore = (*memory.Members)(nil)
var _ services.MemberDirectory = (*memory.Members)(nil)
