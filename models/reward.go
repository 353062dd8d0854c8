package models

import (
	"time"

	"gorm.io/datatypes"
)

// RewardName identifies one of the fixed system rewards.
type RewardName string

const (
	RewardHighlightSharedChallenge RewardName = "highlight_shared_challenge"
	RewardStreakSaver              RewardName = "streak_saver"
	RewardChallengeBoost           RewardName = "challenge_boost"
)

// RewardDefinition is a static catalog entry, not persisted per user.
type RewardDefinition struct {
	Name        RewardName `json:"name"`
	Title       string     `json:"title"`
	PointCost   int64      `json:"point_cost"`
	Effect      string     `json:"effect"`
	Emoji       string     `json:"emoji"`
	RequiredArg string     `json:"required_param,omitempty"`
}

// RewardCatalog is the complete set of redeemable rewards.
var RewardCatalog = []RewardDefinition{
	{
		Name:        RewardHighlightSharedChallenge,
		Title:       "Highlight Shared Challenge",
		PointCost:   400,
		Effect:      "Pins one of your shared challenges to the top of the feed for 24 hours",
		Emoji:       "✨",
		RequiredArg: "shared_challenge_id",
	},
	{
		Name:      RewardStreakSaver,
		Title:     "Streak Saver",
		PointCost: 200,
		Effect:    "Keeps your streak alive when you missed a day",
		Emoji:     "🔥",
	},
	{
		Name:        RewardChallengeBoost,
		Title:       "Challenge Boost",
		PointCost:   500,
		Effect:      "Instantly completes a challenge",
		Emoji:       "🚀",
		RequiredArg: "challenge_id",
	},
}

// LookupReward finds a catalog entry by name.
func LookupReward(name RewardName) (RewardDefinition, bool) {
	for _, r := range RewardCatalog {
		if r.Name == name {
			return r, true
		}
	}
	return RewardDefinition{}, false
}

// RewardRedemption is the append-only audit trail of successful redemptions.
type RewardRedemption struct {
	ID             string            `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID string            `gorm:"index;not null" json:"user_id"`
	Reward         RewardName        `gorm:"type:varchar(64);not null;index" json:"reward"`
	PointCost      int64             `gorm:"not null" json:"point_cost"`
	PointsAfter    int64             `gorm:"not null" json:"points_after"`
	Params         datatypes.JSONMap `gorm:"type:jsonb" json:"params,omitempty"`
	RedeemedAt     time.Time         `gorm:"not null;index" json:"redeemed_at"`
}
