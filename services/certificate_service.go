package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"challenge-platform/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultRequirementsTTL bounds how stale cached requirements may be.
const DefaultRequirementsTTL = 30 * time.Second

// requirementsFetchTimeout bounds the shared project lookup, which outlives any single caller.
const requirementsFetchTimeout = 10 * time.Second

// CertificateRequirements holds the points needed per tier.
type CertificateRequirements struct {
	Silver   int64 `json:"silver"`
	Gold     int64 `json:"gold"`
	Platinum int64 `json:"platinum"`
}

// FallbackRequirements apply while no projects exist.
var FallbackRequirements = CertificateRequirements{Silver: 600, Gold: 1200, Platinum: 1800}

// For returns the requirement of tier, or 0 for a tier that has no certificate.
func (r CertificateRequirements) For(tier models.Rank) int64 {
	switch tier {
	case models.RankSilver:
		return r.Silver
	case models.RankGold:
		return r.Gold
	case models.RankPlatinum:
		return r.Platinum
	}
	return 0
}

// RequirementsFor sums point thresholds over the oldest 2, 4 and 6 projects.
// With fewer projects a tier sums whatever exists.
func RequirementsFor(projects []models.Project) CertificateRequirements {
	if len(projects) == 0 {
		return FallbackRequirements
	}
	sorted := append([]models.Project(nil), projects...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	sumFirst := func(n int) int64 {
		var total int64
		for i := 0; i < n && i < len(sorted); i++ {
			total += sorted[i].PointThreshold
		}
		return total
	}
	return CertificateRequirements{
		Silver:   sumFirst(2),
		Gold:     sumFirst(4),
		Platinum: sumFirst(6),
	}
}

// CertificateStatus is one row of the certificate page.
type CertificateStatus struct {
	Tier            models.Rank `json:"tier"`
	Requirement     int64       `json:"requirement"`
	ProgressPercent int         `json:"progress_percent"`
	Unlocked        bool        `json:"unlocked"`
	Paid            bool        `json:"paid"`
	CertificateID   *string     `json:"certificate_id,omitempty"`
	IssuedAt        *time.Time  `json:"issued_at,omitempty"`
	ArtifactURL     string      `json:"artifact_url,omitempty"`
}

// UnlockResult is returned by a successful purchase.
type UnlockResult struct {
	Tier          models.Rank `json:"tier"`
	CertificateID string      `json:"certificate_id"`
	IssuedAt      time.Time   `json:"issued_at"`
}

type CertificateService struct {
	Progress *ProgressionService
	Payments PaymentVerifier
	Delivery CertificateDelivery
	TTL      time.Duration

	group    singleflight.Group
	mu       sync.RWMutex
	cached   CertificateRequirements
	cachedAt time.Time
}

func NewCertificateService(progress *ProgressionService, payments PaymentVerifier, delivery CertificateDelivery, ttl time.Duration) *CertificateService {
	if ttl <= 0 {
		ttl = DefaultRequirementsTTL
	}
	return &CertificateService{
		Progress: progress,
		Payments: payments,
		Delivery: delivery,
		TTL:      ttl,
	}
}

// Requirements returns the current requirements, recomputing at most once per TTL.
func (s *CertificateService) Requirements(ctx context.Context) (CertificateRequirements, error) {
	now := s.Progress.now()
	s.mu.RLock()
	if !s.cachedAt.IsZero() && now.Sub(s.cachedAt) < s.TTL {
		req := s.cached
		s.mu.RUnlock()
		return req, nil
	}
	s.mu.RUnlock()

	ch := s.group.DoChan("requirements", func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), requirementsFetchTimeout)
		defer cancel()
		projects, err := s.Progress.Projects.ListAll(fetchCtx)
		if err != nil {
			return CertificateRequirements{}, fmt.Errorf("list projects: %w", err)
		}
		req := RequirementsFor(projects)
		s.mu.Lock()
		s.cached = req
		s.cachedAt = now
		s.mu.Unlock()
		return req, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return CertificateRequirements{}, res.Err
		}
		return res.Val.(CertificateRequirements), nil
	case <-ctx.Done():
		return CertificateRequirements{}, ctx.Err()
	}
}

// progressPercent is floor(points/requirement*100) capped at 100.
func progressPercent(points, requirement int64) int {
	if requirement <= 0 {
		return 100
	}
	if points >= requirement {
		return 100
	}
	return int(points * 100 / requirement)
}

func certificateStatus(p *models.UserProgress, tier models.Rank, req CertificateRequirements) CertificateStatus {
	status := CertificateStatus{
		Tier:            tier,
		Requirement:     req.For(tier),
		ProgressPercent: progressPercent(p.Points, req.For(tier)),
	}
	if cert := p.Certificate(tier); cert != nil && cert.Paid {
		status.Paid = true
		status.ProgressPercent = 100
		status.CertificateID = cert.CertificateID
		status.IssuedAt = cert.IssuedAt
		status.ArtifactURL = cert.ArtifactURL
	}
	status.Unlocked = status.Paid || status.ProgressPercent >= 100
	return status
}

// Statuses lists Silver, Gold and Platinum for the user.
func (s *CertificateService) Statuses(ctx context.Context, userID string) ([]CertificateStatus, error) {
	req, err := s.Requirements(ctx)
	if err != nil {
		return nil, err
	}
	p, err := s.Progress.snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]CertificateStatus, 0, len(models.CertificateTiers))
	for _, tier := range models.CertificateTiers {
		out = append(out, certificateStatus(p, tier, req))
	}
	return out, nil
}

// Unlock purchases the certificate for tier. The payment is authoritative once verified;
// generating and mailing the artifact happens afterwards and never undoes it.
func (s *CertificateService) Unlock(ctx context.Context, userID, tierName, paymentToken string) (*UnlockResult, error) {
	tier, ok := models.ParseRank(tierName)
	if !ok || !tier.IsCertificateTier() {
		return nil, fmt.Errorf("certificate tier %q: %w", tierName, ErrNotFound)
	}
	req, err := s.Requirements(ctx)
	if err != nil {
		return nil, err
	}

	var (
		verified bool
		result   UnlockResult
	)
	_, err = s.Progress.mutate(ctx, userID, func(p *models.UserProgress, now time.Time) error {
		if p.IsBanned(now) {
			return fmt.Errorf("user %s: %w", userID, ErrBanned)
		}
		if cert := p.Certificate(tier); cert != nil && cert.Paid {
			return fmt.Errorf("%s certificate: %w", tier, ErrAlreadyCompleted)
		}
		if certificateStatus(p, tier, req).ProgressPercent < 100 {
			return fmt.Errorf("%s certificate needs %d points, user %s has %d: %w",
				tier, req.For(tier), userID, p.Points, ErrInsufficientPoints)
		}
		if !verified {
			if err := s.verifyPayment(ctx, userID, paymentToken); err != nil {
				return err
			}
			verified = true
		}
		certificateID := uuid.NewString()
		cert := p.MarkCertificatePaid(tier, certificateID, now)
		result = UnlockResult{Tier: tier, CertificateID: certificateID, IssuedAt: *cert.IssuedAt}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Progress.log().Info("🎓 certificate purchased",
		zap.String("user_id", userID),
		zap.String("tier", string(tier)),
		zap.String("certificate_id", result.CertificateID),
	)
	if s.Delivery != nil {
		s.Delivery.DeliverCertificate(userID, tier, result.CertificateID)
	}
	return &result, nil
}

func (s *CertificateService) verifyPayment(ctx context.Context, userID, token string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("empty payment token: %w", ErrInvalidPaymentMethod)
	}
	if s.Payments == nil {
		return nil
	}
	return s.Payments.Verify(ctx, userID, token)
}
