package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"challenge-platform/models"

	"go.uber.org/zap"
)

// DefaultMaxRetries bounds compare-and-swap attempts per mutation.
const DefaultMaxRetries = 5

// userLocks hands out one mutex per user. Entries are dropped once nobody holds or waits on them.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*userLock)}
}

func (l *userLocks) lock(userID string) func() {
	l.mu.Lock()
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.Lock()
	return func() {
		ul.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}

// mutation edits a private copy of the record. Returning an error discards the copy;
// returning errSkipWrite ends the mutation without a write.
type mutation func(p *models.UserProgress, now time.Time) error

// mutate serializes fn with every other mutation of userID in this process and retries on
// version conflicts caused by other processes. fn may run more than once, so it must assign
// (not accumulate) anything it captures.
func (s *ProgressionService) mutate(ctx context.Context, userID string, fn mutation) (*models.UserProgress, error) {
	unlock := s.locks.lock(userID)
	defer unlock()
	return s.mutateLocked(ctx, userID, fn)
}

// mutateLocked is mutate for callers that already hold the user's lock, so they can chain a
// mutation with follow-up writes that no other mutation of the user may interleave with.
func (s *ProgressionService) mutateLocked(ctx context.Context, userID string, fn mutation) (*models.UserProgress, error) {
	maxRetries := s.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		current, version, err := s.load(ctx, userID)
		if err != nil {
			return nil, err
		}

		next := current.Clone()
		if err := fn(next, s.now()); err != nil {
			if errors.Is(err, errSkipWrite) {
				return current, nil
			}
			return nil, err
		}
		next.Rank = models.RankOf(next.CompletedProjectCount)

		err = s.Store.CompareAndSwap(ctx, userID, version, next)
		if err == nil {
			next.Version = version + 1
			return next, nil
		}
		if !errors.Is(err, ErrConcurrentModification) {
			return nil, fmt.Errorf("save progress for %s: %w", userID, err)
		}
		s.log().Warn("progress version conflict, retrying",
			zap.String("user_id", userID),
			zap.Int64("version", version),
			zap.Int("attempt", attempt),
		)
	}
	return nil, fmt.Errorf("user %s after %d attempts: %w", userID, maxRetries, ErrConcurrentModification)
}

// load reads the record, creating the zero state on first access, and refuses records whose
// rank disagrees with their project count.
func (s *ProgressionService) load(ctx context.Context, userID string) (*models.UserProgress, int64, error) {
	p, version, err := s.Store.Load(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		if err := s.Store.Create(ctx, models.NewUserProgress(userID)); err != nil {
			return nil, 0, fmt.Errorf("create progress record for %s: %w", userID, err)
		}
		p, version, err = s.Store.Load(ctx, userID)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load progress for %s: %w", userID, err)
	}
	if err := s.checkRank(p); err != nil {
		return nil, 0, err
	}
	return p, version, nil
}

// snapshot reads the user's record without creating it. Unknown users get the zero state.
func (s *ProgressionService) snapshot(ctx context.Context, userID string) (*models.UserProgress, error) {
	p, _, err := s.Store.Load(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return models.NewUserProgress(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load progress for %s: %w", userID, err)
	}
	if err := s.checkRank(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *ProgressionService) checkRank(p *models.UserProgress) error {
	if p.RankConsistent() {
		return nil
	}
	s.log().Error("stored rank disagrees with completed projects",
		zap.String("user_id", p.ExternalUserID),
		zap.String("rank", string(p.Rank)),
		zap.Int64("completed_projects", p.CompletedProjectCount),
	)
	return fmt.Errorf("user %s has rank %s with %d completed projects: %w",
		p.ExternalUserID, p.Rank, p.CompletedProjectCount, ErrInvariantViolation)
}
