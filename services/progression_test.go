package services_test

import (
	"context"
	"testing"
	"time"

	"challenge-platform/models"
	"challenge-platform/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestRecordCompletionWithoutProject(t *testing.T) {
	env := newTestEnv(t, []models.Challenge{challenge("c1", 500, "")}, nil)
	ctx := context.Background()

	result, err := env.progression.RecordCompletion(ctx, alice, "c1")
	require.NoError(t, err)
	assert.False(t, result.AlreadyCompleted)
	assert.Equal(t, int64(500), result.PointsAwarded)
	assert.False(t, result.RankChanged)

	p := env.load(t, alice)
	assert.Equal(t, int64(500), p.Points)
	assert.Equal(t, int64(1), p.CompletedChallengeCount)
	assert.Equal(t, int64(1), p.Streak)
	assert.Equal(t, models.RankBronze, p.Rank)
	assert.Zero(t, p.CompletedProjectCount)
}

func TestRecordCompletionIsIdempotent(t *testing.T) {
	env := newTestEnv(t, []models.Challenge{challenge("c1", 120, "")}, nil)
	ctx := context.Background()

	_, err := env.progression.LikeChallenge(ctx, alice, "c1")
	require.NoError(t, err)
	swaps := env.store.Swaps

	again, err := env.progression.LikeChallenge(ctx, alice, "c1")
	require.NoError(t, err)
	assert.True(t, again.AlreadyCompleted)
	assert.Zero(t, again.PointsAwarded)
	assert.Equal(t, int64(120), again.Points)
	assert.Equal(t, swaps, env.store.Swaps, "a repeated completion must not write")

	p := env.load(t, alice)
	assert.Equal(t, int64(120), p.Points)
	assert.Equal(t, int64(1), p.CompletedChallengeCount)
}

func TestRecordCompletionDefaultsPointValue(t *testing.T) {
	c := models.Challenge{ID: "c1", Track: track}
	env := newTestEnv(t, []models.Challenge{c}, nil)

	result, err := env.progression.RecordCompletion(context.Background(), alice, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultChallengePoints, result.PointsAwarded)
}

func TestProjectCreditedOnceWhenThresholdCrossed(t *testing.T) {
	env := newTestEnv(t,
		[]models.Challenge{challenge("c1", 150, "p1"), challenge("c2", 150, "p1"), challenge("c3", 150, "p1")},
		[]models.Project{project("p1", 300, epoch)},
	)
	ctx := context.Background()

	first, err := env.progression.RecordCompletion(ctx, alice, "c1")
	require.NoError(t, err)
	assert.False(t, first.ProjectCompleted)
	assert.Zero(t, env.load(t, alice).CompletedProjectCount)

	second, err := env.progression.RecordCompletion(ctx, alice, "c2")
	require.NoError(t, err)
	assert.True(t, second.ProjectCompleted)
	assert.Equal(t, int64(300), second.ProjectPoints)
	assert.Equal(t, models.RankBronze, second.NewRank)

	third, err := env.progression.RecordCompletion(ctx, alice, "c3")
	require.NoError(t, err)
	assert.False(t, third.ProjectCompleted, "a credited project is never counted again")

	p := env.load(t, alice)
	assert.Equal(t, int64(1), p.CompletedProjectCount)
	assert.Equal(t, models.RankBronze, p.Rank)
	assert.Equal(t, int64(450), p.Points)
}

func TestRankUpNotifiesAfterCommit(t *testing.T) {
	env := newTestEnv(t,
		[]models.Challenge{challenge("a1", 100, "pa"), challenge("b1", 100, "pb")},
		[]models.Project{project("pa", 100, epoch), project("pb", 100, epoch.Add(time.Hour))},
	)
	ctx := context.Background()

	_, err := env.progression.RecordCompletion(ctx, alice, "a1")
	require.NoError(t, err)
	assert.Empty(t, env.ranks.Events())

	result, err := env.progression.RecordCompletion(ctx, alice, "b1")
	require.NoError(t, err)
	assert.True(t, result.RankChanged)
	assert.Equal(t, models.RankSilver, result.NewRank)
	assert.Equal(t, []rankEvent{{alice, models.RankSilver}}, env.ranks.Events())

	p := env.load(t, alice)
	assert.Equal(t, models.RankSilver, p.Rank)
	require.NotNil(t, p.LastRankUpAt)
	assert.True(t, p.LastRankUpAt.Equal(epoch))
}

func TestRecordCompletionRejections(t *testing.T) {
	env := newTestEnv(t, []models.Challenge{challenge("c1", 100, "")}, nil)
	ctx := context.Background()

	_, err := env.progression.RecordCompletion(ctx, alice, "missing")
	assert.ErrorIs(t, err, services.ErrNotFound)

	_, err = env.progression.RecordCompletion(ctx, bob, "c1")
	assert.ErrorIs(t, err, services.ErrTrackMismatch)

	_, err = env.progression.RecordCompletion(ctx, "nobody", "c1")
	assert.ErrorIs(t, err, services.ErrNotFound)

	env.seed(t, alice, func(p *models.UserProgress) {
		p.BanUntil = ptr(epoch.Add(time.Hour))
	})
	_, err = env.progression.RecordCompletion(ctx, alice, "c1")
	assert.ErrorIs(t, err, services.ErrBanned)
	assert.Zero(t, env.load(t, alice).Points)

	env.clock.Advance(2 * time.Hour)
	_, err = env.progression.RecordCompletion(ctx, alice, "c1")
	assert.NoError(t, err, "an expired ban no longer blocks")
}

func TestMissingProjectCompletesWithoutAggregation(t *testing.T) {
	env := newTestEnv(t, []models.Challenge{challenge("c1", 100, "gone")}, nil)

	result, err := env.progression.RecordCompletion(context.Background(), alice, "c1")
	require.NoError(t, err)
	assert.False(t, result.ProjectCompleted)
	assert.Empty(t, result.ProjectID)
	assert.Equal(t, int64(100), env.load(t, alice).Points)
}

func TestConcurrentCompletionsCreditOnce(t *testing.T) {
	env := newTestEnv(t, []models.Challenge{challenge("c1", 75, "")}, nil)
	ctx := context.Background()

	var g errgroup.Group
	results := make([]*services.CompletionResult, 32)
	for i := range results {
		g.Go(func() error {
			r, err := env.progression.RecordCompletion(ctx, alice, "c1")
			results[i] = r
			return err
		})
	}
	require.NoError(t, g.Wait())

	credited := 0
	for _, r := range results {
		if !r.AlreadyCompleted {
			credited++
		}
	}
	assert.Equal(t, 1, credited)

	p := env.load(t, alice)
	assert.Equal(t, int64(75), p.Points)
	assert.Equal(t, int64(1), p.CompletedChallengeCount)
}

func TestConcurrentDistinctCompletionsAllLand(t *testing.T) {
	var challenges []models.Challenge
	for _, id := range []string{"c1", "c2", "c3", "c4", "c5", "c6", "c7", "c8"} {
		challenges = append(challenges, challenge(id, 10, ""))
	}
	env := newTestEnv(t, challenges, nil)
	ctx := context.Background()

	var g errgroup.Group
	for _, c := range challenges {
		g.Go(func() error {
			_, err := env.progression.RecordCompletion(ctx, alice, c.ID)
			return err
		})
	}
	require.NoError(t, g.Wait())

	p := env.load(t, alice)
	assert.Equal(t, int64(80), p.Points)
	assert.Equal(t, int64(8), p.CompletedChallengeCount)
	assert.Equal(t, int64(8), p.Streak)
}

func TestMutationRetriesOnVersionConflict(t *testing.T) {
	env := newTestEnv(t, []models.Challenge{challenge("c1", 100, ""), challenge("c2", 100, "")}, nil)
	ctx := context.Background()
	_, err := env.progression.EnsureProgressRecord(ctx, alice)
	require.NoError(t, err)

	env.store.Conflicts = services.DefaultMaxRetries - 1
	_, err = env.progression.RecordCompletion(ctx, alice, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), env.load(t, alice).Points)

	env.store.Conflicts = services.DefaultMaxRetries
	_, err = env.progression.RecordCompletion(ctx, alice, "c2")
	assert.ErrorIs(t, err, services.ErrConcurrentModification)
	assert.Equal(t, int64(100), env.load(t, alice).Points, "an exhausted retry leaves the record untouched")
}

func TestInconsistentRankIsFatal(t *testing.T) {
	env := newTestEnv(t, []models.Challenge{challenge("c1", 100, "")}, nil)
	broken := models.NewUserProgress(alice)
	broken.Rank = models.RankGold
	env.store.Put(broken)

	_, err := env.progression.RecordCompletion(context.Background(), alice, "c1")
	assert.ErrorIs(t, err, services.ErrInvariantViolation)
	assert.Equal(t, models.RankGold, env.load(t, alice).Rank, "no corrective write")
}

func TestStartChallenge(t *testing.T) {
	env := newTestEnv(t, []models.Challenge{challenge("c1", 100, "")}, nil)
	ctx := context.Background()

	view, err := env.progression.StartChallenge(ctx, alice, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, view.StartedChallenges)

	view, err = env.progression.StartChallenge(ctx, alice, "c1")
	require.NoError(t, err)
	assert.Len(t, view.StartedChallenges, 1)

	_, err = env.progression.RecordCompletion(ctx, alice, "c1")
	require.NoError(t, err)
	view, err = env.progression.GetProgress(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, view.StartedChallenges)
	assert.Equal(t, []string{"c1"}, view.CompletedChallenges)
}

func TestShareChallengeCreatesOnePost(t *testing.T) {
	env := newTestEnv(t, []models.Challenge{challenge("c1", 100, "")}, nil)
	ctx := context.Background()

	first, err := env.progression.ShareChallenge(ctx, alice, "c1", "done!")
	require.NoError(t, err)
	assert.Equal(t, int64(100), first.Completion.PointsAwarded)
	require.NotNil(t, first.Shared)
	assert.Equal(t, alice, first.Shared.OwnerUserID)

	second, err := env.progression.ShareChallenge(ctx, alice, "c1", "again")
	require.NoError(t, err)
	assert.True(t, second.Completion.AlreadyCompleted)
	assert.Equal(t, first.Shared.ID, second.Shared.ID)
	assert.Equal(t, int64(100), env.load(t, alice).Points)
}

func TestRecordLoginStreak(t *testing.T) {
	ctx := context.Background()

	t.Run("same day is a no-op", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)
		env.seed(t, alice, func(p *models.UserProgress) {
			p.Streak = 4
			p.LastLogin = ptr(epoch.Add(-time.Hour))
		})
		view, err := env.progression.RecordLogin(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, int64(4), view.Streak)
		assert.True(t, view.LastLogin.Equal(epoch.Add(-time.Hour)))
	})

	t.Run("yesterday keeps the streak", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)
		env.seed(t, alice, func(p *models.UserProgress) {
			p.Streak = 4
			p.LastLogin = ptr(epoch.AddDate(0, 0, -1))
		})
		view, err := env.progression.RecordLogin(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, int64(4), view.Streak)
		assert.True(t, view.LastLogin.Equal(epoch))
	})

	t.Run("missed day spends a saver", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)
		env.seed(t, alice, func(p *models.UserProgress) {
			p.Streak = 4
			p.StreakSavers = 1
			p.LastLogin = ptr(epoch.AddDate(0, 0, -3))
		})
		view, err := env.progression.RecordLogin(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, int64(4), view.Streak)
		assert.Zero(t, view.StreakSavers)
	})

	t.Run("missed day without saver resets", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)
		env.seed(t, alice, func(p *models.UserProgress) {
			p.Streak = 4
			p.LastLogin = ptr(epoch.AddDate(0, 0, -3))
		})
		view, err := env.progression.RecordLogin(ctx, alice)
		require.NoError(t, err)
		assert.Zero(t, view.Streak)
	})
}

func TestResetForBanKeepsPaidCertificates(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()
	env.seed(t, alice, func(p *models.UserProgress) {
		p.Points = 900
		p.Streak = 7
		p.StreakSavers = 2
		p.MarkCompleted("c1", nil, 900, epoch)
		p.CreditProject("p1", epoch)
		p.CreditProject("p2", epoch)
		p.MarkCertificatePaid(models.RankSilver, "cert-1", epoch)
	})

	until := epoch.Add(72 * time.Hour)
	view, err := env.progression.ResetForBan(ctx, alice, until)
	require.NoError(t, err)
	assert.Zero(t, view.Points)
	assert.Zero(t, view.Streak)
	assert.Zero(t, view.StreakSavers)
	assert.Zero(t, view.CompletedChallengeCount)
	assert.Zero(t, view.CompletedProjectCount)
	assert.Equal(t, models.RankBronze, view.Rank)
	require.NotNil(t, view.BanUntil)
	assert.True(t, view.BanUntil.Equal(until))

	p := env.load(t, alice)
	cert := p.Certificate(models.RankSilver)
	require.NotNil(t, cert)
	assert.True(t, cert.Paid)
	assert.Equal(t, "cert-1", *cert.CertificateID)
}

func TestExpireHighlights(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()
	require.NoError(t, env.shared.Save(ctx, &models.SharedChallenge{
		ID: "s1", OwnerUserID: alice, ChallengeID: "c1",
		Highlighted: true, HighlightExpiresAt: ptr(epoch.Add(time.Minute)),
	}))
	require.NoError(t, env.shared.Save(ctx, &models.SharedChallenge{
		ID: "s2", OwnerUserID: alice, ChallengeID: "c2",
		Highlighted: true, HighlightExpiresAt: ptr(epoch.Add(time.Hour)),
	}))

	env.clock.Advance(2 * time.Minute)
	assert.Equal(t, int64(1), env.progression.ExpireHighlights(ctx))

	s1, err := env.shared.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, s1.Highlighted)
	s2, err := env.shared.Get(ctx, "s2")
	require.NoError(t, err)
	assert.True(t, s2.Highlighted)
}

func TestReadsDoNotCreateRecords(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()

	view, err := env.progression.GetProgress(ctx, "user-ghost")
	require.NoError(t, err)
	assert.Equal(t, "user-ghost", view.UserID)
	assert.Equal(t, models.RankBronze, view.Rank)
	assert.Zero(t, view.Points)

	_, err = env.rewards.Catalog(ctx, "user-ghost")
	require.NoError(t, err)
	_, err = env.certificates.Statuses(ctx, "user-ghost")
	require.NoError(t, err)

	_, _, err = env.store.Load(ctx, "user-ghost")
	assert.ErrorIs(t, err, services.ErrNotFound)

	_, err = env.progression.EnsureProgressRecord(ctx, "user-ghost")
	require.NoError(t, err)
	_, _, err = env.store.Load(ctx, "user-ghost")
	assert.NoError(t, err)
}
