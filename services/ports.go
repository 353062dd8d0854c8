package services

import (
	"context"
	"time"

	"challenge-platform/models"
)

// ProgressStore persists UserProgress with optimistic concurrency.
type ProgressStore interface {
	// Load returns the record and its version, or ErrNotFound.
	Load(ctx context.Context, userID string) (*models.UserProgress, int64, error)
	// Create inserts a fresh record. An existing record for the user is not an error.
	Create(ctx context.Context, progress *models.UserProgress) error
	// CompareAndSwap writes progress only if the stored version still equals version,
	// otherwise it returns ErrConcurrentModification.
	CompareAndSwap(ctx context.Context, userID string, version int64, progress *models.UserProgress) error
}

type ChallengeRepository interface {
	Get(ctx context.Context, id string) (*models.Challenge, error)
}

type ProjectRepository interface {
	Get(ctx context.Context, id string) (*models.Project, error)
	ListAll(ctx context.Context) ([]models.Project, error)
}

type SharedChallengeRepository interface {
	Get(ctx context.Context, id string) (*models.SharedChallenge, error)
	Save(ctx context.Context, shared *models.SharedChallenge) error
	FindByOwnerAndChallenge(ctx context.Context, ownerUserID, challengeID string) (*models.SharedChallenge, error)
	// Highlight sets the highlight only when ownerUserID owns the post and no highlight is active
	// at now. Otherwise it fails with ErrAlreadyHighlighted and changes nothing.
	Highlight(ctx context.Context, id, ownerUserID string, now, expiresAt time.Time) error
	// ExpireHighlights clears highlights that ended before now and returns how many.
	ExpireHighlights(ctx context.Context, now time.Time) (int64, error)
}

type MemberDirectory interface {
	Get(ctx context.Context, userID string) (*models.Member, error)
}

type RedemptionLog interface {
	Append(ctx context.Context, redemption *models.RewardRedemption) error
}

type CertificateRenderer interface {
	Generate(name string, rank models.Rank) ([]byte, error)
}

type NotificationSender interface {
	SendCertificate(ctx context.Context, email, name string, rank models.Rank, artifact []byte) error
}

// ArtifactStore uploads rendered certificates and returns their public URL.
type ArtifactStore interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// PaymentVerifier returns ErrInvalidPaymentMethod when the token cannot be charged.
type PaymentVerifier interface {
	Verify(ctx context.Context, userID, paymentToken string) error
}

// RankUpNotifier receives rank changes after they are committed. It must not block.
type RankUpNotifier interface {
	NotifyRankUp(userID string, rank models.Rank)
}

// CertificateDelivery receives purchased certificates after they are committed. It must not block.
type CertificateDelivery interface {
	DeliverCertificate(userID string, tier models.Rank, certificateID string)
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
