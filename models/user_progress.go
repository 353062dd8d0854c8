package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserProgress is the per-user progression aggregate. It is only mutated through the
// progression engine; Version is the compare-and-swap stamp.
type UserProgress struct {
	ID             string `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID string `gorm:"uniqueIndex;not null" json:"external_user_id"` // links to profile service

	// Core progression
	Points                  int64 `json:"points" gorm:"not null;default:0;check:points >= 0"`
	CompletedChallengeCount int64 `json:"completed_challenge_count" gorm:"not null;default:0"`
	CompletedProjectCount   int64 `json:"completed_project_count" gorm:"not null;default:0"`
	Rank                    Rank  `json:"rank" gorm:"type:varchar(16);not null;default:'bronze'"`

	// Streaks
	Streak       int64      `json:"streak" gorm:"not null;default:0"`
	StreakSavers int64      `json:"streak_savers" gorm:"not null;default:0"`
	LastLogin    *time.Time `json:"last_login,omitempty"`

	BanUntil     *time.Time `json:"ban_until,omitempty"`
	LastRankUpAt *time.Time `json:"last_rank_up_at,omitempty"`

	Version int64 `json:"-" gorm:"not null;default:0"`

	CompletedChallenges []ChallengeCompletion `json:"completed_challenges,omitempty" gorm:"foreignKey:UserProgressID;constraint:OnDelete:CASCADE"`
	StartedChallenges   []ChallengeStart      `json:"started_challenges,omitempty" gorm:"foreignKey:UserProgressID;constraint:OnDelete:CASCADE"`
	CreditedProjects    []ProjectCredit       `json:"credited_projects,omitempty" gorm:"foreignKey:UserProgressID;constraint:OnDelete:CASCADE"`
	Certificates        []Certificate         `json:"certificates,omitempty" gorm:"foreignKey:UserProgressID;constraint:OnDelete:CASCADE"`

	Timestamps
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// ChallengeCompletion is one member of the completed-challenge set.
type ChallengeCompletion struct {
	ID             string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserProgressID string    `gorm:"type:uuid;not null;uniqueIndex:idx_completion_user_challenge,priority:1" json:"-"`
	ChallengeID    string    `gorm:"not null;uniqueIndex:idx_completion_user_challenge,priority:2" json:"challenge_id"`
	ProjectID      *string   `gorm:"index" json:"project_id,omitempty"`
	PointsAwarded  int64     `json:"points_awarded"`
	CompletedAt    time.Time `json:"completed_at"`
}

// ChallengeStart is one member of the started-challenge set.
type ChallengeStart struct {
	ID             string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserProgressID string    `gorm:"type:uuid;not null;uniqueIndex:idx_start_user_challenge,priority:1" json:"-"`
	ChallengeID    string    `gorm:"not null;uniqueIndex:idx_start_user_challenge,priority:2" json:"challenge_id"`
	StartedAt      time.Time `json:"started_at"`
}

// ProjectCredit marks a project whose completion has already been counted.
type ProjectCredit struct {
	ID             string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserProgressID string    `gorm:"type:uuid;not null;uniqueIndex:idx_credit_user_project,priority:1" json:"-"`
	ProjectID      string    `gorm:"not null;uniqueIndex:idx_credit_user_project,priority:2" json:"project_id"`
	CreditedAt     time.Time `json:"credited_at"`
}

// Certificate is the per-tier ledger entry. Paid never goes back to false.
type Certificate struct {
	ID             string     `gorm:"primaryKey;type:uuid" json:"id"`
	UserProgressID string     `gorm:"type:uuid;not null;uniqueIndex:idx_certificate_user_tier,priority:1" json:"-"`
	Tier           Rank       `gorm:"type:varchar(16);not null;uniqueIndex:idx_certificate_user_tier,priority:2" json:"tier"`
	Paid           bool       `gorm:"not null;default:false" json:"paid"`
	CertificateID  *string    `json:"certificate_id,omitempty"`
	IssuedAt       *time.Time `json:"issued_at,omitempty"`
	ArtifactURL    string     `gorm:"type:text" json:"artifact_url,omitempty"`
}

// NewUserProgress returns the zero state created alongside a user account.
func NewUserProgress(externalUserID string) *UserProgress {
	return &UserProgress{
		ID:             uuid.NewString(),
		ExternalUserID: externalUserID,
		Rank:           RankBronze,
	}
}

func (p *UserProgress) HasCompleted(challengeID string) bool {
	for _, c := range p.CompletedChallenges {
		if c.ChallengeID == challengeID {
			return true
		}
	}
	return false
}

func (p *UserProgress) HasStarted(challengeID string) bool {
	for _, s := range p.StartedChallenges {
		if s.ChallengeID == challengeID {
			return true
		}
	}
	return false
}

// ProjectPoints sums the points credited for completed challenges of projectID.
func (p *UserProgress) ProjectPoints(projectID string) int64 {
	var total int64
	for _, c := range p.CompletedChallenges {
		if c.ProjectID != nil && *c.ProjectID == projectID {
			total += c.PointsAwarded
		}
	}
	return total
}

func (p *UserProgress) IsProjectCredited(projectID string) bool {
	for _, c := range p.CreditedProjects {
		if c.ProjectID == projectID {
			return true
		}
	}
	return false
}

// IsBanned reports whether a ban is still running at now.
func (p *UserProgress) IsBanned(now time.Time) bool {
	return p.BanUntil != nil && p.BanUntil.After(now)
}

// RankConsistent reports whether the stored rank matches the derived one.
func (p *UserProgress) RankConsistent() bool {
	return p.Rank == RankOf(p.CompletedProjectCount)
}

// MarkCompleted adds challengeID to the completed set and drops it from the started set.
// Callers check HasCompleted first.
func (p *UserProgress) MarkCompleted(challengeID string, projectID *string, points int64, at time.Time) {
	p.CompletedChallenges = append(p.CompletedChallenges, ChallengeCompletion{
		ID:             uuid.NewString(),
		UserProgressID: p.ID,
		ChallengeID:    challengeID,
		ProjectID:      projectID,
		PointsAwarded:  points,
		CompletedAt:    at,
	})
	p.CompletedChallengeCount = int64(len(p.CompletedChallenges))

	started := p.StartedChallenges[:0]
	for _, s := range p.StartedChallenges {
		if s.ChallengeID != challengeID {
			started = append(started, s)
		}
	}
	p.StartedChallenges = started
}

func (p *UserProgress) MarkStarted(challengeID string, at time.Time) {
	p.StartedChallenges = append(p.StartedChallenges, ChallengeStart{
		ID:             uuid.NewString(),
		UserProgressID: p.ID,
		ChallengeID:    challengeID,
		StartedAt:      at,
	})
}

func (p *UserProgress) CreditProject(projectID string, at time.Time) {
	p.CreditedProjects = append(p.CreditedProjects, ProjectCredit{
		ID:             uuid.NewString(),
		UserProgressID: p.ID,
		ProjectID:      projectID,
		CreditedAt:     at,
	})
	p.CompletedProjectCount++
}

// Certificate returns the ledger entry for tier, or nil when none exists yet.
func (p *UserProgress) Certificate(tier Rank) *Certificate {
	for i := range p.Certificates {
		if p.Certificates[i].Tier == tier {
			return &p.Certificates[i]
		}
	}
	return nil
}

// MarkCertificatePaid records a purchased certificate. Nothing clears Paid.
func (p *UserProgress) MarkCertificatePaid(tier Rank, certificateID string, at time.Time) *Certificate {
	cert := p.Certificate(tier)
	if cert == nil {
		p.Certificates = append(p.Certificates, Certificate{
			ID:             uuid.NewString(),
			UserProgressID: p.ID,
			Tier:           tier,
		})
		cert = &p.Certificates[len(p.Certificates)-1]
	}
	cert.Paid = true
	cert.CertificateID = &certificateID
	issuedAt := at
	cert.IssuedAt = &issuedAt
	return cert
}

// ResetForBan zeroes progression state. Paid certificates survive the reset.
func (p *UserProgress) ResetForBan(until time.Time) {
	p.Points = 0
	p.Streak = 0
	p.StreakSavers = 0
	p.CompletedChallenges = nil
	p.StartedChallenges = nil
	p.CreditedProjects = nil
	p.CompletedChallengeCount = 0
	p.CompletedProjectCount = 0
	p.Rank = RankBronze
	p.LastRankUpAt = nil
	p.BanUntil = &until
}

// Clone returns a deep copy so a mutation can be discarded on conflict.
func (p *UserProgress) Clone() *UserProgress {
	c := *p
	c.CompletedChallenges = make([]ChallengeCompletion, len(p.CompletedChallenges))
	for i, cc := range p.CompletedChallenges {
		if cc.ProjectID != nil {
			id := *cc.ProjectID
			cc.ProjectID = &id
		}
		c.CompletedChallenges[i] = cc
	}
	c.StartedChallenges = append([]ChallengeStart(nil), p.StartedChallenges...)
	c.CreditedProjects = append([]ProjectCredit(nil), p.CreditedProjects...)
	c.Certificates = make([]Certificate, len(p.Certificates))
	for i, cert := range p.Certificates {
		if cert.CertificateID != nil {
			id := *cert.CertificateID
			cert.CertificateID = &id
		}
		if cert.IssuedAt != nil {
			at := *cert.IssuedAt
			cert.IssuedAt = &at
		}
		c.Certificates[i] = cert
	}
	c.LastLogin = copyTime(p.LastLogin)
	c.BanUntil = copyTime(p.BanUntil)
	c.LastRankUpAt = copyTime(p.LastRankUpAt)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
