// workers/member_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"challenge-platform/models"
	"challenge-platform/services"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RemoteProfile matches one user in the sync service response.
type RemoteProfile struct {
	ID          string     `json:"id"`
	ExternalID  string     `json:"external_id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	FirstName   *string    `json:"first_name,omitempty"`
	LastName    *string    `json:"last_name,omitempty"`
	Track       string     `json:"track"`
	BannedUntil *time.Time `json:"banned_until,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// GetUserChangesResponse is the top-level structure of the sync service response.
type GetUserChangesResponse struct {
	Users []RemoteProfile `json:"users"`
}

// MemberStore is where synced profiles land.
type MemberStore interface {
	Get(ctx context.Context, userID string) (*models.Member, error)
	Upsert(ctx context.Context, member *models.Member) error
	LastUpdatedAt(ctx context.Context) (time.Time, error)
}

// BanResetter zeroes a banned user's progression.
type BanResetter interface {
	ResetForBan(ctx context.Context, userID string, until time.Time) (*services.ProgressView, error)
}

// MemberSyncWorker mirrors profile-service users locally and applies new bans to progression.
type MemberSyncWorker struct {
	members      MemberStore
	bans         BanResetter
	interval     time.Duration
	baseURL      string // e.g., "http://localhost:8500"
	endpointPath string // e.g., "/api/v1/public/profiles"
	serviceToken string
	httpClient   *http.Client
	logger       *zap.Logger
	now          func() time.Time

	// retryFrom is the oldest UpdatedAt of a profile the last batch failed to apply.
	retryFrom time.Time
}

func NewMemberSyncWorker(members MemberStore, bans BanResetter, syncServiceBaseURL, endpointPath, serviceToken string, interval time.Duration, logger *zap.Logger) *MemberSyncWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemberSyncWorker{
		members:      members,
		bans:         bans,
		interval:     interval,
		baseURL:      syncServiceBaseURL,
		endpointPath: endpointPath,
		serviceToken: serviceToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run syncs once immediately, then on every tick until ctx ends.
func (w *MemberSyncWorker) Run(ctx context.Context) {
	w.logger.Info("🔁 member sync worker started", zap.Duration("interval", w.interval))
	if err := w.SyncBatch(ctx, time.Time{}); err != nil {
		w.logger.Warn("⚠️ initial member sync failed", zap.Error(err))
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.SyncBatch(ctx, w.nextSince(ctx)); err != nil {
				w.logger.Error("❌ member sync batch failed", zap.Error(err))
			}
		case <-ctx.Done():
			w.logger.Info("⏹️ member sync worker stopped")
			return
		}
	}
}

// nextSince is the local sync cursor, moved back to the oldest profile that failed last time.
func (w *MemberSyncWorker) nextSince(ctx context.Context) time.Time {
	since, err := w.members.LastUpdatedAt(ctx)
	if err != nil {
		w.logger.Warn("could not read last sync time, resyncing from epoch", zap.Error(err))
		since = time.Unix(0, 0)
	}
	if !w.retryFrom.IsZero() && w.retryFrom.Before(since) {
		since = w.retryFrom
	}
	return since
}

// SyncBatch fetches profiles changed since the given time and upserts them.
func (w *MemberSyncWorker) SyncBatch(ctx context.Context, since time.Time) error {
	base, err := url.Parse(w.baseURL)
	if err != nil {
		return fmt.Errorf("invalid base sync service URL '%s': %w", w.baseURL, err)
	}
	endpointURL := base.JoinPath(w.endpointPath)
	q := endpointURL.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	endpointURL.RawQuery = q.Encode()
	finalURL := endpointURL.String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request to %s: %w", finalURL, err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request to sync service failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("sync service non-200 response: %d: %s", resp.StatusCode, string(body))
	}

	var response GetUserChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return fmt.Errorf("failed to decode sync service response: %w", err)
	}
	if len(response.Users) == 0 {
		return nil
	}

	var upserted, bans, failed int
	var retryFrom time.Time
	for _, remote := range response.Users {
		banned, err := w.apply(ctx, remote)
		if err != nil {
			failed++
			if retryFrom.IsZero() || remote.UpdatedAt.Before(retryFrom) {
				retryFrom = remote.UpdatedAt
			}
			w.logger.Warn("⚠️ failed to sync member",
				zap.String("external_id", remote.ExternalID),
				zap.String("username", remote.Username),
				zap.Error(err),
			)
			continue
		}
		upserted++
		if banned {
			bans++
		}
	}
	w.retryFrom = retryFrom

	w.logger.Info("✅ members synced",
		zap.Int("received", len(response.Users)),
		zap.Int("upserted", upserted),
		zap.Int("bans_applied", bans),
		zap.Int("errors", failed),
	)
	return nil
}

// apply resets progression when the profile carries a new ban, then upserts it. The member row
// keeps its old ban until the reset succeeds, so a failed reset is retried on the next sync. It
// reports whether a reset happened.
func (w *MemberSyncWorker) apply(ctx context.Context, remote RemoteProfile) (bool, error) {
	if remote.ExternalID == "" {
		return false, errors.New("profile without external_id")
	}

	var previousBan *time.Time
	existing, err := w.members.Get(ctx, remote.ExternalID)
	switch {
	case err == nil:
		previousBan = existing.BannedUntil
	case !errors.Is(err, services.ErrNotFound):
		return false, err
	}

	reset := newBan(previousBan, remote.BannedUntil, w.now())
	if reset {
		if _, err := w.bans.ResetForBan(ctx, remote.ExternalID, *remote.BannedUntil); err != nil {
			return false, fmt.Errorf("reset progress for ban: %w", err)
		}
	}

	member := &models.Member{
		ID:             uuid.NewString(),
		ExternalUserID: remote.ExternalID,
		Username:       remote.Username,
		Email:          remote.Email,
		FirstName:      remote.FirstName,
		LastName:       remote.LastName,
		Track:          remote.Track,
		BannedUntil:    remote.BannedUntil,
		CreatedAt:      remote.CreatedAt,
		UpdatedAt:      remote.UpdatedAt,
	}
	if err := w.members.Upsert(ctx, member); err != nil {
		return false, fmt.Errorf("upsert member: %w", err)
	}
	return reset, nil
}

// newBan reports whether next is an active ban that was not already applied.
func newBan(previous, next *time.Time, now time.Time) bool {
	if next == nil || !next.After(now) {
		return false
	}
	if previous != nil && previous.After(now) && previous.Equal(*next) {
		return false
	}
	return true
}
