package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"challenge-platform/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CompletionResult describes the outcome of one completion attempt.
type CompletionResult struct {
	ChallengeID      string      `json:"challenge_id"`
	AlreadyCompleted bool        `json:"already_completed"`
	PointsAwarded    int64       `json:"points_awarded"`
	Points           int64       `json:"points"`
	ProjectID        string      `json:"project_id,omitempty"`
	ProjectPoints    int64       `json:"project_points,omitempty"`
	ProjectCompleted bool        `json:"project_completed"`
	RankChanged      bool        `json:"rank_changed"`
	NewRank          models.Rank `json:"new_rank"`
}

// ShareResult is a completion plus the shared post it produced.
type ShareResult struct {
	Completion *CompletionResult       `json:"completion"`
	Shared     *models.SharedChallenge `json:"shared_challenge"`
}

// ProgressView is the read-only projection served to profile and dashboard pages.
type ProgressView struct {
	UserID                  string      `json:"user_id"`
	Points                  int64       `json:"points"`
	CompletedChallengeCount int64       `json:"completed_challenge_count"`
	CompletedProjectCount   int64       `json:"completed_project_count"`
	Rank                    models.Rank `json:"rank"`
	RankName                string      `json:"rank_name"`
	Streak                  int64       `json:"streak"`
	StreakSavers            int64       `json:"streak_savers"`
	LastLogin               *time.Time  `json:"last_login,omitempty"`
	BanUntil                *time.Time  `json:"ban_until,omitempty"`
	LastRankUpAt            *time.Time  `json:"last_rank_up_at,omitempty"`
	CompletedChallenges     []string    `json:"completed_challenges"`
	StartedChallenges       []string    `json:"started_challenges"`
}

type ProgressionService struct {
	Store      ProgressStore
	Challenges ChallengeRepository
	Projects   ProjectRepository
	Shared     SharedChallengeRepository
	Members    MemberDirectory
	RankUps    RankUpNotifier
	Clock      Clock
	Logger     *zap.Logger
	MaxRetries int

	locks *userLocks
}

type ProgressionDeps struct {
	Store      ProgressStore
	Challenges ChallengeRepository
	Projects   ProjectRepository
	Shared     SharedChallengeRepository
	Members    MemberDirectory
	RankUps    RankUpNotifier
	Clock      Clock
	Logger     *zap.Logger
	MaxRetries int
}

func NewProgressionService(deps ProgressionDeps) *ProgressionService {
	return &ProgressionService{
		Store:      deps.Store,
		Challenges: deps.Challenges,
		Projects:   deps.Projects,
		Shared:     deps.Shared,
		Members:    deps.Members,
		RankUps:    deps.RankUps,
		Clock:      deps.Clock,
		Logger:     deps.Logger,
		MaxRetries: deps.MaxRetries,
		locks:      newUserLocks(),
	}
}

func (s *ProgressionService) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now()
}

func (s *ProgressionService) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// EnsureProgressRecord returns the user's record, creating the zero state if needed.
func (s *ProgressionService) EnsureProgressRecord(ctx context.Context, userID string) (*models.UserProgress, error) {
	p, _, err := s.load(ctx, userID)
	return p, err
}

// GetProgress is an unserialized read; it may trail a mutation in flight. It never creates a
// record: an unknown user reads as the zero state.
func (s *ProgressionService) GetProgress(ctx context.Context, userID string) (*ProgressView, error) {
	p, err := s.snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	view := &ProgressView{
		UserID:                  p.ExternalUserID,
		Points:                  p.Points,
		CompletedChallengeCount: p.CompletedChallengeCount,
		CompletedProjectCount:   p.CompletedProjectCount,
		Rank:                    p.Rank,
		RankName:                p.Rank.DisplayName(),
		Streak:                  p.Streak,
		StreakSavers:            p.StreakSavers,
		LastLogin:               p.LastLogin,
		BanUntil:                p.BanUntil,
		LastRankUpAt:            p.LastRankUpAt,
		CompletedChallenges:     make([]string, 0, len(p.CompletedChallenges)),
		StartedChallenges:       make([]string, 0, len(p.StartedChallenges)),
	}
	for _, c := range p.CompletedChallenges {
		view.CompletedChallenges = append(view.CompletedChallenges, c.ChallengeID)
	}
	for _, st := range p.StartedChallenges {
		view.StartedChallenges = append(view.StartedChallenges, st.ChallengeID)
	}
	return view, nil
}

// resolveChallenge loads the challenge and its project and checks the caller's track.
// A project that no longer exists is reported as nil.
func (s *ProgressionService) resolveChallenge(ctx context.Context, userID, challengeID string) (*models.Challenge, *models.Project, error) {
	challenge, err := s.Challenges.Get(ctx, challengeID)
	if err != nil {
		return nil, nil, fmt.Errorf("challenge %s: %w", challengeID, err)
	}
	member, err := s.Members.Get(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("user %s: %w", userID, err)
	}
	if member.Track != challenge.Track {
		return nil, nil, fmt.Errorf("challenge %s is on track %q, user %s on %q: %w",
			challengeID, challenge.Track, userID, member.Track, ErrTrackMismatch)
	}

	if challenge.ProjectID == nil {
		return challenge, nil, nil
	}
	project, err := s.Projects.Get(ctx, *challenge.ProjectID)
	if errors.Is(err, ErrNotFound) {
		s.log().Warn("challenge references a missing project",
			zap.String("challenge_id", challenge.ID),
			zap.String("project_id", *challenge.ProjectID),
		)
		return challenge, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("project %s: %w", *challenge.ProjectID, err)
	}
	return challenge, project, nil
}

// applyCompletion is the single completion rule shared by like, share and boost.
func applyCompletion(p *models.UserProgress, challenge *models.Challenge, project *models.Project, now time.Time) CompletionResult {
	result := CompletionResult{ChallengeID: challenge.ID}
	if p.HasCompleted(challenge.ID) {
		result.AlreadyCompleted = true
		result.Points = p.Points
		result.NewRank = p.Rank
		return result
	}

	var projectID *string
	var priorProjectPoints int64
	if project != nil {
		projectID = &project.ID
		priorProjectPoints = p.ProjectPoints(project.ID)
	}

	points := challenge.Points()
	p.MarkCompleted(challenge.ID, projectID, points, now)
	p.Streak++
	p.Points += points
	result.PointsAwarded = points

	if project != nil {
		result.ProjectID = project.ID
		result.ProjectPoints = priorProjectPoints + points
		if !p.IsProjectCredited(project.ID) && result.ProjectPoints >= project.PointThreshold {
			p.CreditProject(project.ID, now)
			result.ProjectCompleted = true
		}
	}

	previous := p.Rank
	p.Rank = models.RankOf(p.CompletedProjectCount)
	if p.Rank != previous {
		result.RankChanged = true
		if p.Rank != models.RankBronze {
			rankUpAt := now
			p.LastRankUpAt = &rankUpAt
		}
	}
	result.NewRank = p.Rank
	result.Points = p.Points
	return result
}

// RecordCompletion credits challengeID to userID once. Repeated calls report AlreadyCompleted
// and change nothing.
func (s *ProgressionService) RecordCompletion(ctx context.Context, userID, challengeID string) (*CompletionResult, error) {
	challenge, project, err := s.resolveChallenge(ctx, userID, challengeID)
	if err != nil {
		return nil, err
	}

	var result CompletionResult
	if _, err := s.mutate(ctx, userID, func(p *models.UserProgress, now time.Time) error {
		if p.IsBanned(now) {
			return fmt.Errorf("user %s: %w", userID, ErrBanned)
		}
		result = applyCompletion(p, challenge, project, now)
		if result.AlreadyCompleted {
			return errSkipWrite
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if !result.AlreadyCompleted {
		s.log().Info("🏁 challenge completed",
			zap.String("user_id", userID),
			zap.String("challenge_id", challengeID),
			zap.Int64("points_awarded", result.PointsAwarded),
			zap.Int64("points", result.Points),
			zap.Bool("project_completed", result.ProjectCompleted),
			zap.String("rank", string(result.NewRank)),
		)
	}
	s.afterCommit(userID, &result)
	return &result, nil
}

// afterCommit fires side effects that must never run inside a mutation.
func (s *ProgressionService) afterCommit(userID string, result *CompletionResult) {
	if !result.RankChanged || result.NewRank == models.RankBronze || s.RankUps == nil {
		return
	}
	s.RankUps.NotifyRankUp(userID, result.NewRank)
}

// LikeChallenge completes a challenge through a like.
func (s *ProgressionService) LikeChallenge(ctx context.Context, userID, challengeID string) (*CompletionResult, error) {
	return s.RecordCompletion(ctx, userID, challengeID)
}

// ShareChallenge completes a challenge and publishes it as the user's shared challenge.
// Sharing the same challenge twice returns the existing post.
func (s *ProgressionService) ShareChallenge(ctx context.Context, userID, challengeID, caption string) (*ShareResult, error) {
	completion, err := s.RecordCompletion(ctx, userID, challengeID)
	if err != nil {
		return nil, err
	}

	shared, err := s.Shared.FindByOwnerAndChallenge(ctx, userID, challengeID)
	if errors.Is(err, ErrNotFound) {
		shared = &models.SharedChallenge{
			ID:          uuid.NewString(),
			OwnerUserID: userID,
			ChallengeID: challengeID,
			Caption:     caption,
		}
		err = s.Shared.Save(ctx, shared)
	}
	if err != nil {
		return nil, fmt.Errorf("share challenge %s: %w", challengeID, err)
	}
	return &ShareResult{Completion: completion, Shared: shared}, nil
}

// StartChallenge records that the user began a challenge. Already started or completed
// challenges are left alone.
func (s *ProgressionService) StartChallenge(ctx context.Context, userID, challengeID string) (*ProgressView, error) {
	challenge, _, err := s.resolveChallenge(ctx, userID, challengeID)
	if err != nil {
		return nil, err
	}
	if _, err := s.mutate(ctx, userID, func(p *models.UserProgress, now time.Time) error {
		if p.IsBanned(now) {
			return fmt.Errorf("user %s: %w", userID, ErrBanned)
		}
		if p.HasCompleted(challenge.ID) || p.HasStarted(challenge.ID) {
			return errSkipWrite
		}
		p.MarkStarted(challenge.ID, now)
		return nil
	}); err != nil {
		return nil, err
	}
	return s.GetProgress(ctx, userID)
}

// RecordLogin maintains the streak: a missed day spends a streak saver if one is available,
// otherwise the streak restarts.
func (s *ProgressionService) RecordLogin(ctx context.Context, userID string) (*ProgressView, error) {
	if _, err := s.mutate(ctx, userID, func(p *models.UserProgress, now time.Time) error {
		if p.IsBanned(now) {
			return fmt.Errorf("user %s: %w", userID, ErrBanned)
		}
		today := calendarDay(now)
		if p.LastLogin != nil {
			last := calendarDay(*p.LastLogin)
			switch {
			case !last.Before(today):
				return errSkipWrite
			case last.Equal(today.AddDate(0, 0, -1)):
				// consecutive day, streak carries over
			case p.StreakSavers > 0:
				p.StreakSavers--
			default:
				p.Streak = 0
			}
		}
		loginAt := now
		p.LastLogin = &loginAt
		return nil
	}); err != nil {
		return nil, err
	}
	return s.GetProgress(ctx, userID)
}

// ResetForBan zeroes the user's progression and records the ban. It competes for the same
// per-user lock and version as every other mutation.
func (s *ProgressionService) ResetForBan(ctx context.Context, userID string, until time.Time) (*ProgressView, error) {
	if _, err := s.mutate(ctx, userID, func(p *models.UserProgress, _ time.Time) error {
		p.ResetForBan(until.UTC())
		return nil
	}); err != nil {
		return nil, err
	}
	s.log().Warn("⛔ progress reset for ban",
		zap.String("user_id", userID),
		zap.Time("ban_until", until),
	)
	return s.GetProgress(ctx, userID)
}

// RecordCertificateArtifact stores where a rendered certificate was uploaded.
func (s *ProgressionService) RecordCertificateArtifact(ctx context.Context, userID string, tier models.Rank, url string) error {
	_, err := s.mutate(ctx, userID, func(p *models.UserProgress, _ time.Time) error {
		cert := p.Certificate(tier)
		if cert == nil || cert.ArtifactURL == url {
			return errSkipWrite
		}
		cert.ArtifactURL = url
		return nil
	})
	return err
}

// calendarDay truncates t to midnight UTC.
func calendarDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
