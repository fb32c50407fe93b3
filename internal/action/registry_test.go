package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gamification-engine/internal/config"
)

func TestRegistry_Resolve(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Definition{Type: "registration", Points: 100}))
	require.NoError(t, r.Register(Definition{Type: "document_uploaded", Points: 75, Repeatable: true}))

	def, err := r.Resolve("registration")
	require.NoError(t, err)
	assert.Equal(t, int64(100), def.Points)
	assert.False(t, def.Repeatable)

	def, err = r.Resolve("document_uploaded")
	require.NoError(t, err)
	assert.True(t, def.Repeatable)

	_, err = r.Resolve("no_such_action")
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestRegistry_RejectsInvalidDefinitions(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register(Definition{Type: "", Points: 10}))
	assert.Error(t, r.Register(Definition{Type: "x", Points: 0}))
	assert.Error(t, r.Register(Definition{Type: "x", Points: -5}))
}

func TestFromConfig(t *testing.T) {
	r, err := FromConfig([]config.ActionConfig{
		{Type: "registration", Points: 100},
		{Type: "daily_checkin", Points: 10, Repeatable: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, r.Count())
	assert.ElementsMatch(t, []string{"registration", "daily_checkin"}, r.Types())
}

func TestFromConfig_RejectsReservedType(t *testing.T) {
	_, err := FromConfig([]config.ActionConfig{
		{Type: "badge_unlock", Points: 10},
	})
	assert.Error(t, err)
}
