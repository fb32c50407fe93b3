// Package model defines the data models for the gamification engine.
package model

import (
	"fmt"
	"time"
)

// PointTransaction is an immutable ledger record of a single point award.
// Rows are append-only: once written they are never updated or deleted.
// The idempotency key is unique across the table and guarantees at-most-once
// accounting for the action it encodes.
type PointTransaction struct {
	ID                int64     `db:"id"`
	UserID            int64     `db:"user_id"`
	ActionType        string    `db:"action_type"`
	PointsAmount      int64     `db:"points_amount"`
	PointsTotalAfter  int64     `db:"points_total_after"`
	RelatedEntityType *string   `db:"related_entity_type"`
	RelatedEntityID   *string   `db:"related_entity_id"`
	IdempotencyKey    string    `db:"idempotency_key"`
	CreatedAt         time.Time `db:"created_at"`
}

// UserProgress is the mutable per-user aggregate derived from the ledger.
// TotalPoints always equals the sum of PointsAmount over the user's
// transactions; CurrentLevel is always the level calculator's output for
// TotalPoints. Version supports optimistic concurrency on updates.
type UserProgress struct {
	UserID               int64                `db:"user_id"`
	TotalPoints          int64                `db:"total_points"`
	CurrentLevel         int                  `db:"current_level"`
	StreakDays           int                  `db:"streak_days"`
	LongestStreak        int                  `db:"longest_streak"`
	LastActivityDate     time.Time            `db:"last_activity_date"`
	FraudScore           int                  `db:"fraud_score"`
	ManualReviewRequired bool                 `db:"manual_review_required"`
	EarnedBadges         map[string]time.Time `db:"earned_badges"`
	Version              int64                `db:"version"`
	CreatedAt            time.Time            `db:"created_at"`
	UpdatedAt            time.Time            `db:"updated_at"`
}

// HasBadge reports whether the badge has already been unlocked.
func (p *UserProgress) HasBadge(badgeID string) bool {
	_, ok := p.EarnedBadges[badgeID]
	return ok
}

// RelatedEntity identifies the entity an action refers to, such as the
// document that was uploaded or the questionnaire that was completed.
type RelatedEntity struct {
	Type string
	ID   string
}

// ActionEvent is the inbound event submitted to the award coordinator by
// the modules that observe user actions.
type ActionEvent struct {
	UserID        int64
	ActionType    string
	Timestamp     time.Time
	RelatedEntity *RelatedEntity
	ExternalFlags map[string]bool
}

// Action types known to the engine. The full definitions (points, repeatable)
// live in configuration; these constants name the defaults.
const (
	ActionRegistration           = "registration"
	ActionProfileCompleted       = "profile_completed"
	ActionDocumentUploaded       = "document_uploaded"
	ActionQuestionnaireCompleted = "questionnaire_completed"
	ActionInterviewAttended      = "interview_attended"
	ActionDailyCheckin           = "daily_checkin"

	// ActionBadgeUnlock is the reserved type for badge bonus awards written
	// by the badge evaluator. It is not accepted from inbound events.
	ActionBadgeUnlock = "badge_unlock"
)

// ResultEventType enumerates the outbound event kinds.
type ResultEventType string

const (
	EventPointsEarned  ResultEventType = "points_earned"
	EventLevelUp       ResultEventType = "level_up"
	EventBadgeUnlocked ResultEventType = "badge_unlocked"
	EventStreakUpdated ResultEventType = "streak_updated"
	EventFraudFlagged  ResultEventType = "fraud_flagged"
)

// ResultEvent is the outbound event consumed by notification, UI and
// analytics layers. Payload carries only derived values, never raw
// identifiers beyond UserID.
type ResultEvent struct {
	Type      ResultEventType
	UserID    int64
	Timestamp time.Time
	Payload   map[string]any
}

// IdempotencyKey builds the ledger key for an action award.
// Non-repeatable actions are keyed per user and action type; repeatable
// actions additionally include the related entity id.
func IdempotencyKey(userID int64, actionType string, entityID string) string {
	if entityID == "" {
		return fmt.Sprintf("user:%d:action:%s", userID, actionType)
	}
	return fmt.Sprintf("user:%d:action:%s:entity:%s", userID, actionType, entityID)
}

// BadgeIdempotencyKey builds the ledger key for a badge bonus award,
// guaranteeing each badge pays out at most once per user.
func BadgeIdempotencyKey(userID int64, badgeID string) string {
	return fmt.Sprintf("user:%d:%s:%s", userID, ActionBadgeUnlock, badgeID)
}
