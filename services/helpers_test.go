package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"challenge-platform/models"
	"challenge-platform/repository/memory"
	"challenge-platform/services"
)

var epoch = time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type rankEvent struct {
	userID string
	rank   models.Rank
}

type rankRecorder struct {
	mu     sync.Mutex
	events []rankEvent
}

func (r *rankRecorder) NotifyRankUp(userID string, rank models.Rank) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, rankEvent{userID, rank})
}

func (r *rankRecorder) Events() []rankEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]rankEvent(nil), r.events...)
}

type deliveryRecorder struct {
	mu    sync.Mutex
	tiers []models.Rank
}

func (d *deliveryRecorder) DeliverCertificate(_ string, tier models.Rank, _ string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tiers = append(d.tiers, tier)
}

type paymentStub struct {
	calls int
	err   error
}

func (p *paymentStub) Verify(context.Context, string, string) error {
	p.calls++
	return p.err
}

type testEnv struct {
	store       *memory.ProgressStore
	challenges  *memory.Challenges
	projects    *memory.Projects
	shared      *memory.SharedChallenges
	members     *memory.Members
	redemptions *memory.Redemptions
	clock       *fakeClock
	ranks       *rankRecorder
	delivery    *deliveryRecorder
	payments    *paymentStub

	progression  *services.ProgressionService
	rewards      *services.RewardService
	certificates *services.CertificateService
}

const (
	alice = "user-alice"
	bob   = "user-bob"
	track = "backend"
)

func ptr[T any](v T) *T { return &v }

func challenge(id string, points int64, projectID string) models.Challenge {
	c := models.Challenge{ID: id, Title: id, Track: track, PointValue: ptr(points)}
	if projectID != "" {
		c.ProjectID = ptr(projectID)
	}
	return c
}

func project(id string, threshold int64, createdAt time.Time) models.Project {
	return models.Project{ID: id, Name: id, Track: track, PointThreshold: threshold, CreatedAt: createdAt}
}

func newTestEnv(t *testing.T, challenges []models.Challenge, projects []models.Project) *testEnv {
	t.Helper()
	env := &testEnv{
		store:      memory.NewProgressStore(),
		challenges: memory.NewChallenges(challenges...),
		projects:   memory.NewProjects(projects...),
		shared:     memory.NewSharedChallenges(),
		members: memory.NewMembers(
			models.Member{ExternalUserID: alice, Username: "alice", Email: "alice@example.com", Track: track},
			models.Member{ExternalUserID: bob, Username: "bob", Email: "bob@example.com", Track: "frontend"},
		),
		redemptions: memory.NewRedemptions(),
		clock:       &fakeClock{now: epoch},
		ranks:       &rankRecorder{},
		delivery:    &deliveryRecorder{},
		payments:    &paymentStub{},
	}
	env.progression = services.NewProgressionService(services.ProgressionDeps{
		Store:      env.store,
		Challenges: env.challenges,
		Projects:   env.projects,
		Shared:     env.shared,
		Members:    env.members,
		RankUps:    env.ranks,
		Clock:      env.clock,
	})
	env.rewards = services.NewRewardService(env.progression, env.redemptions)
	env.certificates = services.NewCertificateService(env.progression, env.payments, env.delivery, time.Minute)
	return env
}

// seed overwrites the user's record, keeping rank consistent.
func (e *testEnv) seed(t *testing.T, userID string, edit func(p *models.UserProgress)) {
	t.Helper()
	p := models.NewUserProgress(userID)
	edit(p)
	p.Rank = models.RankOf(p.CompletedProjectCount)
	e.store.Put(p)
}

func (e *testEnv) load(t *testing.T, userID string) *models.UserProgress {
	t.Helper()
	p, _, err := e.store.Load(context.Background(), userID)
	if err != nil {
		t.Fatalf("load %s: %v", userID, err)
	}
	return p
}
