package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankOf(t *testing.T) {
	cases := map[int64]Rank{
		-1: RankBronze,
		0:  RankBronze,
		1:  RankBronze,
		2:  RankSilver,
		3:  RankSilver,
		4:  RankGold,
		5:  RankGold,
		6:  RankPlatinum,
		60: RankPlatinum,
	}
	for count, want := range cases {
		assert.Equal(t, want, RankOf(count), "count %d", count)
	}
}

func TestRankOfIsMonotonic(t *testing.T) {
	order := map[Rank]int{RankBronze: 0, RankSilver: 1, RankGold: 2, RankPlatinum: 3}
	prev := RankOf(0)
	for n := int64(1); n <= 20; n++ {
		next := RankOf(n)
		assert.GreaterOrEqual(t, order[next], order[prev])
		prev = next
	}
}

func TestParseRank(t *testing.T) {
	r, ok := ParseRank(" GOLD ")
	require.True(t, ok)
	assert.Equal(t, RankGold, r)
	assert.True(t, r.IsCertificateTier())

	r, ok = ParseRank("bronze")
	require.True(t, ok)
	assert.False(t, r.IsCertificateTier())

	_, ok = ParseRank("diamond")
	assert.False(t, ok)
}

func TestCloneIsIndependent(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	p := NewUserProgress("u1")
	p.MarkCompleted("c1", nil, 10, at)
	p.MarkCertificatePaid(RankSilver, "cert", at)
	p.LastLogin = &at

	c := p.Clone()
	c.MarkCompleted("c2", nil, 10, at)
	c.Certificates[0].Paid = false
	*c.LastLogin = at.Add(time.Hour)

	assert.False(t, p.HasCompleted("c2"))
	assert.True(t, p.Certificates[0].Paid)
	assert.True(t, p.LastLogin.Equal(at))
}

func TestMarkCompletedDropsStart(t *testing.T) {
	at := time.Now()
	project := "p1"
	p := NewUserProgress("u1")
	p.MarkStarted("c1", at)
	p.MarkStarted("c2", at)
	p.MarkCompleted("c1", &project, 40, at)

	assert.False(t, p.HasStarted("c1"))
	assert.True(t, p.HasStarted("c2"))
	assert.Equal(t, int64(1), p.CompletedChallengeCount)
	assert.Equal(t, int64(40), p.ProjectPoints("p1"))
}

func TestHighlightActive(t *testing.T) {
	now := time.Now()
	expires := now.Add(time.Minute)
	s := SharedChallenge{Highlighted: true, HighlightExpiresAt: &expires}
	assert.True(t, s.HighlightActive(now))
	assert.False(t, s.HighlightActive(now.Add(2*time.Minute)))
	assert.False(t, (&SharedChallenge{}).HighlightActive(now))
}
