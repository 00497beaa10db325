package stage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/workspace/internal/domain"
)

func TestNextWalksAllStages(t *testing.T) {
	s := Initial()
	var seen []domain.Stage
	for !IsTerminal(s) {
		seen = append(seen, s)
		next, err := Next(s)
		require.NoError(t, err)
		s = next
	}
	assert.Equal(t, []domain.Stage{
		domain.StageIntent,
		domain.StageDataScoping,
		domain.StageExecution,
		domain.StageTeamBuilding,
	}, seen)

	_, err := Next(domain.StageComplete)
	assert.ErrorIs(t, err, ErrTerminal)
}

func TestAdvance(t *testing.T) {
	next, err := Advance(domain.StageIntent, domain.StageIntent)
	require.NoError(t, err)
	assert.Equal(t, domain.StageDataScoping, next)

	_, err = Advance(domain.StageDataScoping, domain.StageIntent)
	assert.ErrorIs(t, err, ErrStageMismatch)

	_, err = Advance(domain.StageComplete, domain.StageTeamBuilding)
	assert.ErrorIs(t, err, ErrTerminal)

	_, err = Advance(domain.StageIntent, domain.Stage("bogus"))
	assert.ErrorIs(t, err, ErrUnknownStage)
}

func TestIndex(t *testing.T) {
	assert.Equal(t, 0, Index(domain.StageIntent))
	assert.Equal(t, 4, Index(domain.StageComplete))
	assert.Equal(t, -1, Index(domain.Stage("nope")))
}
