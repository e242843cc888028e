package trafficlight

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/green-corridor/entity"
)

func TestProgram(t *testing.T) {
	p, err := NewProgram(Timing{Green: 30 * time.Second, Yellow: 5 * time.Second, Red: 45 * time.Second})
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, p.Duration(entity.PhaseGreen, false))
	assert.Equal(t, 5*time.Second, p.Duration(entity.PhaseYellow, false))
	assert.Equal(t, 45*time.Second, p.Duration(entity.PhaseRed, false))
	assert.Equal(t, 5*time.Second, p.Duration(entity.PhaseRed, true))
	assert.Zero(t, p.Duration(entity.PhaseOverride, false))

	assert.ErrorIs(t, p.Set(Timing{Green: time.Second, Yellow: 0, Red: time.Second}), entity.ErrInvalidInput)
	assert.Equal(t, 30*time.Second, p.Timing().Green)
	require.NoError(t, p.Set(Timing{Green: time.Second, Yellow: 2 * time.Second, Red: 3 * time.Second}))
	assert.Equal(t, 2*time.Second, p.Duration(entity.PhaseRed, true))

	_, err = NewProgram(Timing{})
	assert.ErrorIs(t, err, entity.ErrInvalidInput)
}

func TestNext(t *testing.T) {
	assert.Equal(t, entity.PhaseYellow, Next(entity.PhaseGreen))
	assert.Equal(t, entity.PhaseRed, Next(entity.PhaseYellow))
	assert.Equal(t, entity.PhaseGreen, Next(entity.PhaseRed))
}
