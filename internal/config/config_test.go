package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Levels: []LevelConfig{
			{Tier: 1, Name: "Newcomer", MinPoints: 0, MaxPoints: 100},
			{Tier: 2, Name: "Explorer", MinPoints: 100, MaxPoints: 0},
		},
		Actions: []ActionConfig{
			{Type: "registration", Points: 100},
			{Type: "document_uploaded", Points: 75, Repeatable: true},
		},
		Badges: []BadgeConfig{
			{ID: "getting_started", Points: 25, Criteria: CriteriaConfig{
				Type: "count_threshold", Counter: "transactions", Threshold: 1,
			}},
		},
	}
}

func TestValidate_OK(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidate_LevelGaps(t *testing.T) {
	cfg := validConfig()
	cfg.Levels[1].MinPoints = 150
	assert.ErrorContains(t, cfg.Validate(), "not contiguous")
}

func TestValidate_LevelsMustStartAtZero(t *testing.T) {
	cfg := validConfig()
	cfg.Levels[0].MinPoints = 10
	assert.ErrorContains(t, cfg.Validate(), "start at 0")
}

func TestValidate_LastTierMustBeUnbounded(t *testing.T) {
	cfg := validConfig()
	cfg.Levels[1].MaxPoints = 500
	assert.ErrorContains(t, cfg.Validate(), "unbounded")
}

func TestValidate_ActionPointsPositive(t *testing.T) {
	cfg := validConfig()
	cfg.Actions[0].Points = 0
	assert.ErrorContains(t, cfg.Validate(), "positive points")
}

func TestValidate_DuplicateAction(t *testing.T) {
	cfg := validConfig()
	cfg.Actions[1].Type = "registration"
	assert.ErrorContains(t, cfg.Validate(), "duplicate action")
}

func TestValidate_BadgeCriteria(t *testing.T) {
	cfg := validConfig()
	cfg.Badges[0].Criteria.Type = "sometimes_maybe"
	assert.Error(t, cfg.Validate())
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Levels)
	assert.NotEmpty(t, cfg.Actions)
	assert.Positive(t, cfg.Engine.MaxRetries)
	assert.Positive(t, cfg.Streak.GraceBuffer)
}
