// services/reward_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"challenge-platform/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// RedeemParams carries the reward-specific argument.
type RedeemParams struct {
	SharedChallengeID string `json:"shared_challenge_id"`
	ChallengeID       string `json:"challenge_id"`
}

type RedemptionResult struct {
	Reward       models.RewardName       `json:"reward"`
	PointCost    int64                   `json:"point_cost"`
	Points       int64                   `json:"points"`
	StreakSavers int64                   `json:"streak_savers"`
	Shared       *models.SharedChallenge `json:"shared_challenge,omitempty"`
	Completion   *CompletionResult       `json:"completion,omitempty"`
}

// CatalogEntry is a reward as listed for one user.
type CatalogEntry struct {
	models.RewardDefinition
	Affordable bool `json:"affordable"`
}

type RewardService struct {
	Progress    *ProgressionService
	Redemptions RedemptionLog
}

func NewRewardService(progress *ProgressionService, redemptions RedemptionLog) *RewardService {
	return &RewardService{Progress: progress, Redemptions: redemptions}
}

// Catalog lists every reward and whether the user can currently pay for it.
func (s *RewardService) Catalog(ctx context.Context, userID string) ([]CatalogEntry, error) {
	p, err := s.Progress.snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	entries := make([]CatalogEntry, 0, len(models.RewardCatalog))
	for _, def := range models.RewardCatalog {
		entries = append(entries, CatalogEntry{
			RewardDefinition: def,
			Affordable:       p.Points >= def.PointCost,
		})
	}
	return entries, nil
}

// Redeem spends points on one catalog reward.
func (s *RewardService) Redeem(ctx context.Context, userID string, name models.RewardName, params RedeemParams) (*RedemptionResult, error) {
	def, ok := models.LookupReward(name)
	if !ok {
		return nil, fmt.Errorf("reward %q: %w", name, ErrNotFound)
	}

	var (
		result *RedemptionResult
		err    error
	)
	switch def.Name {
	case models.RewardHighlightSharedChallenge:
		if params.SharedChallengeID == "" {
			return nil, fmt.Errorf("shared_challenge_id is required: %w", ErrInvalidInput)
		}
		result, err = s.redeemHighlight(ctx, userID, def, params.SharedChallengeID)
	case models.RewardStreakSaver:
		result, err = s.redeemStreakSaver(ctx, userID, def)
	case models.RewardChallengeBoost:
		if params.ChallengeID == "" {
			return nil, fmt.Errorf("challenge_id is required: %w", ErrInvalidInput)
		}
		result, err = s.redeemBoost(ctx, userID, def, params.ChallengeID)
	}
	if err != nil {
		return nil, err
	}

	s.Progress.log().Info("🎁 reward redeemed",
		zap.String("user_id", userID),
		zap.String("reward", string(def.Name)),
		zap.Int64("cost", def.PointCost),
		zap.Int64("points", result.Points),
	)
	s.record(ctx, userID, def, result, params)
	return result, nil
}

// chargeable applies the checks every reward shares, in order.
func chargeable(p *models.UserProgress, def models.RewardDefinition, userID string, now time.Time) error {
	if p.IsBanned(now) {
		return fmt.Errorf("user %s: %w", userID, ErrBanned)
	}
	if p.Points < def.PointCost {
		return fmt.Errorf("%s costs %d, user %s has %d: %w", def.Name, def.PointCost, userID, p.Points, ErrInsufficientPoints)
	}
	return nil
}

// redeemHighlight commits the deduction, then claims the post with a conditional write. Another
// process may claim it in between; the loser and a failed write are both refunded.
func (s *RewardService) redeemHighlight(ctx context.Context, userID string, def models.RewardDefinition, sharedID string) (*RedemptionResult, error) {
	ps := s.Progress
	unlock := ps.locks.lock(userID)
	defer unlock()

	var shared *models.SharedChallenge
	var claimedAt time.Time
	p, err := ps.mutateLocked(ctx, userID, func(p *models.UserProgress, now time.Time) error {
		if err := chargeable(p, def, userID, now); err != nil {
			return err
		}
		sc, err := ps.Shared.Get(ctx, sharedID)
		if err != nil {
			return fmt.Errorf("shared challenge %s: %w", sharedID, err)
		}
		if sc.OwnerUserID != userID {
			return fmt.Errorf("shared challenge %s not owned by %s: %w", sharedID, userID, ErrNotFound)
		}
		if sc.HighlightActive(now) {
			return fmt.Errorf("shared challenge %s: %w", sharedID, ErrAlreadyHighlighted)
		}
		expiresAt := now.Add(models.HighlightDuration)
		sc.Highlighted = true
		sc.HighlightExpiresAt = &expiresAt
		shared = sc
		claimedAt = now
		p.Points -= def.PointCost
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := ps.Shared.Highlight(ctx, sharedID, userID, claimedAt, *shared.HighlightExpiresAt); err != nil {
		if errors.Is(err, ErrAlreadyHighlighted) {
			ps.log().Info("highlight lost to a concurrent redemption, refunding",
				zap.String("user_id", userID),
				zap.String("shared_challenge_id", sharedID),
			)
		} else {
			ps.log().Error("highlight save failed, refunding",
				zap.String("user_id", userID),
				zap.String("shared_challenge_id", sharedID),
				zap.Error(err),
			)
		}
		if refundErr := s.refund(ctx, userID, def); refundErr != nil {
			return nil, errors.Join(fmt.Errorf("save highlight: %w", err), fmt.Errorf("refund: %w", refundErr))
		}
		return nil, fmt.Errorf("save highlight: %w", err)
	}

	return &RedemptionResult{
		Reward:       def.Name,
		PointCost:    def.PointCost,
		Points:       p.Points,
		StreakSavers: p.StreakSavers,
		Shared:       shared,
	}, nil
}

// refund returns a reward's cost. The caller holds the user's lock.
func (s *RewardService) refund(ctx context.Context, userID string, def models.RewardDefinition) error {
	ps := s.Progress
	_, err := ps.mutateLocked(ctx, userID, func(p *models.UserProgress, _ time.Time) error {
		p.Points += def.PointCost
		return nil
	})
	if err != nil {
		ps.log().Error("highlight refund failed",
			zap.String("user_id", userID),
			zap.Int64("amount", def.PointCost),
			zap.Error(err),
		)
	}
	return err
}

// redeemStreakSaver only sells a saver when today's login has not been recorded yet.
func (s *RewardService) redeemStreakSaver(ctx context.Context, userID string, def models.RewardDefinition) (*RedemptionResult, error) {
	p, err := s.Progress.mutate(ctx, userID, func(p *models.UserProgress, now time.Time) error {
		if err := chargeable(p, def, userID, now); err != nil {
			return err
		}
		if p.LastLogin != nil && !calendarDay(*p.LastLogin).Before(calendarDay(now)) {
			return fmt.Errorf("user %s already logged in today: %w", userID, ErrNotAtRisk)
		}
		loginAt := now
		p.Points -= def.PointCost
		p.StreakSavers++
		p.LastLogin = &loginAt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &RedemptionResult{
		Reward:       def.Name,
		PointCost:    def.PointCost,
		Points:       p.Points,
		StreakSavers: p.StreakSavers,
	}, nil
}

// redeemBoost deducts and completes in a single write so a rejected completion costs nothing.
func (s *RewardService) redeemBoost(ctx context.Context, userID string, def models.RewardDefinition, challengeID string) (*RedemptionResult, error) {
	ps := s.Progress
	var (
		challenge *models.Challenge
		project   *models.Project
		result    CompletionResult
	)
	p, err := ps.mutate(ctx, userID, func(p *models.UserProgress, now time.Time) error {
		if err := chargeable(p, def, userID, now); err != nil {
			return err
		}
		if challenge == nil {
			var err error
			if challenge, project, err = ps.resolveChallenge(ctx, userID, challengeID); err != nil {
				return err
			}
		}
		if p.HasCompleted(challenge.ID) {
			return fmt.Errorf("challenge %s: %w", challengeID, ErrAlreadyCompleted)
		}
		p.Points -= def.PointCost
		result = applyCompletion(p, challenge, project, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	ps.afterCommit(userID, &result)

	return &RedemptionResult{
		Reward:       def.Name,
		PointCost:    def.PointCost,
		Points:       p.Points,
		StreakSavers: p.StreakSavers,
		Completion:   &result,
	}, nil
}

func (s *RewardService) record(ctx context.Context, userID string, def models.RewardDefinition, result *RedemptionResult, params RedeemParams) {
	if s.Redemptions == nil {
		return
	}
	entry := &models.RewardRedemption{
		ID:             uuid.NewString(),
		ExternalUserID: userID,
		Reward:         def.Name,
		PointCost:      def.PointCost,
		PointsAfter:    result.Points,
		Params:         datatypes.JSONMap{},
		RedeemedAt:     s.Progress.now(),
	}
	if params.SharedChallengeID != "" {
		entry.Params["shared_challenge_id"] = params.SharedChallengeID
	}
	if params.ChallengeID != "" {
		entry.Params["challenge_id"] = params.ChallengeID
	}
	if err := s.Redemptions.Append(ctx, entry); err != nil {
		s.Progress.log().Warn("failed to record redemption",
			zap.String("user_id", userID),
			zap.String("reward", string(def.Name)),
			zap.Error(err),
		)
	}
}
