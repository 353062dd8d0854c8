// Package memory holds in-process implementations of the engine's storage ports. They back the
// tests and a database-less local run.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"challenge-platform/models"
	"challenge-platform/services"
)

// ProgressStore keeps versioned copies of UserProgress.
type ProgressStore struct {
	mu       sync.Mutex
	records  map[string]*models.UserProgress
	versions map[string]int64

	// Conflicts forces that many CompareAndSwap calls to fail before any succeeds.
	Conflicts int
	Swaps     int
}

func NewProgressStore() *ProgressStore {
	return &ProgressStore{
		records:  make(map[string]*models.UserProgress),
		versions: make(map[string]int64),
	}
}

func (s *ProgressStore) Load(_ context.Context, userID string) (*models.UserProgress, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.records[userID]
	if !ok {
		return nil, 0, fmt.Errorf("progress for %s: %w", userID, services.ErrNotFound)
	}
	c := p.Clone()
	c.Version = s.versions[userID]
	return c, c.Version, nil
}

func (s *ProgressStore) Create(_ context.Context, p *models.UserProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[p.ExternalUserID]; ok {
		return nil
	}
	s.records[p.ExternalUserID] = p.Clone()
	s.versions[p.ExternalUserID] = 0
	return nil
}

func (s *ProgressStore) CompareAndSwap(_ context.Context, userID string, version int64, p *models.UserProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Conflicts > 0 {
		s.Conflicts--
		return services.ErrConcurrentModification
	}
	if _, ok := s.records[userID]; !ok {
		return fmt.Errorf("progress for %s: %w", userID, services.ErrNotFound)
	}
	if s.versions[userID] != version {
		return services.ErrConcurrentModification
	}
	s.records[userID] = p.Clone()
	s.versions[userID] = version + 1
	s.Swaps++
	return nil
}

// Put stores p as-is, bypassing every check. Tests use it to seed records.
func (s *ProgressStore) Put(p *models.UserProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[p.ExternalUserID] = p.Clone()
	s.versions[p.ExternalUserID]++
}

// Bump advances the stored version as if another process had written.
func (s *ProgressStore) Bump(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[userID]++
}

type Challenges struct {
	mu    sync.RWMutex
	items map[string]models.Challenge
}

func NewChallenges(items ...models.Challenge) *Challenges {
	c := &Challenges{items: make(map[string]models.Challenge)}
	for _, item := range items {
		c.items[item.ID] = item
	}
	return c
}

func (c *Challenges) Get(_ context.Context, id string) (*models.Challenge, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[id]
	if !ok {
		return nil, fmt.Errorf("challenge %s: %w", id, services.ErrNotFound)
	}
	return &item, nil
}

type Projects struct {
	mu    sync.RWMutex
	items map[string]models.Project

	Lists int
}

func NewProjects(items ...models.Project) *Projects {
	p := &Projects{items: make(map[string]models.Project)}
	for _, item := range items {
		p.items[item.ID] = item
	}
	return p
}

func (p *Projects) Get(_ context.Context, id string) (*models.Project, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	item, ok := p.items[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, services.ErrNotFound)
	}
	return &item, nil
}

func (p *Projects) ListAll(_ context.Context) ([]models.Project, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Lists++
	out := make([]models.Project, 0, len(p.items))
	for _, item := range p.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (p *Projects) Add(item models.Project) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items[item.ID] = item
}

type SharedChallenges struct {
	mu    sync.Mutex
	items map[string]models.SharedChallenge

	// SaveErr, when set, is returned by every Save and Highlight.
	SaveErr error
	// HighlightDelay stalls Highlight before it takes the lock.
	HighlightDelay time.Duration
}

func NewSharedChallenges(items ...models.SharedChallenge) *SharedChallenges {
	s := &SharedChallenges{items: make(map[string]models.SharedChallenge)}
	for _, item := range items {
		s.items[item.ID] = item
	}
	return s
}

func (s *SharedChallenges) Get(_ context.Context, id string) (*models.SharedChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("shared challenge %s: %w", id, services.ErrNotFound)
	}
	return &item, nil
}

func (s *SharedChallenges) Save(_ context.Context, shared *models.SharedChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.items[shared.ID] = *shared
	return nil
}

func (s *SharedChallenges) Highlight(_ context.Context, id, ownerUserID string, now, expiresAt time.Time) error {
	if s.HighlightDelay > 0 {
		time.Sleep(s.HighlightDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	item, ok := s.items[id]
	if !ok || item.OwnerUserID != ownerUserID || item.HighlightActive(now) {
		return fmt.Errorf("shared challenge %s: %w", id, services.ErrAlreadyHighlighted)
	}
	item.Highlighted = true
	item.HighlightExpiresAt = &expiresAt
	s.items[id] = item
	return nil
}

func (s *SharedChallenges) FindByOwnerAndChallenge(_ context.Context, ownerUserID, challengeID string) (*models.SharedChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items {
		if item.OwnerUserID == ownerUserID && item.ChallengeID == challengeID {
			found := item
			return &found, nil
		}
	}
	return nil, fmt.Errorf("shared challenge for %s: %w", challengeID, services.ErrNotFound)
}

func (s *SharedChallenges) ExpireHighlights(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, item := range s.items {
		if item.Highlighted && item.HighlightExpiresAt != nil && !item.HighlightExpiresAt.After(now) {
			item.Highlighted = false
			item.HighlightExpiresAt = nil
			s.items[id] = item
			n++
		}
	}
	return n, nil
}

type Members struct {
	mu    sync.RWMutex
	items map[string]models.Member
}

func NewMembers(items ...models.Member) *Members {
	m := &Members{items: make(map[string]models.Member)}
	for _, item := range items {
		m.items[item.ExternalUserID] = item
	}
	return m
}

func (m *Members) Get(_ context.Context, userID string) (*models.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[userID]
	if !ok {
		return nil, fmt.Errorf("member %s: %w", userID, services.ErrNotFound)
	}
	return &item, nil
}

func (m *Members) Upsert(_ context.Context, member *models.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[member.ExternalUserID] = *member
	return nil
}

func (m *Members) LastUpdatedAt(_ context.Context) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last time.Time
	for _, item := range m.items {
		if item.UpdatedAt.After(last) {
			last = item.UpdatedAt
		}
	}
	return last, nil
}

type Redemptions struct {
	mu      sync.Mutex
	entries []models.RewardRedemption
}

func NewRedemptions() *Redemptions {
	return &Redemptions{}
}

func (r *Redemptions) Append(_ context.Context, redemption *models.RewardRedemption) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *redemption)
	return nil
}

func (r *Redemptions) Entries() []models.RewardRedemption {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.RewardRedemption(nil), r.entries...)
}
