package hospital

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/green-corridor/entity"
	"github.com/tsinghua-fib-lab/green-corridor/utils/input"
)

func newTestManager(t *testing.T) *HospitalManager {
	n, err := input.LoadFile("../../data/network.yaml")
	require.NoError(t, err)
	m := NewManager(nil)
	require.NoError(t, m.Init(n.Hospitals))
	return m
}

func TestGetAndList(t *testing.T) {
	m := newTestManager(t)
	h, err := m.Get("synergy_hospital")
	require.NoError(t, err)
	assert.Equal(t, entity.HospitalEmergency, h.Type)
	_, err = m.Get("nowhere")
	assert.ErrorIs(t, err, entity.ErrNotFound)

	list := m.List()
	require.Len(t, list, 6)
	assert.Equal(t, "doon_hospital", list[0].ID)
	assert.Equal(t, "synergy_hospital", list[5].ID)
}

func TestNearby(t *testing.T) {
	m := newTestManager(t)
	// Clock Tower
	center := entity.Location{Latitude: 30.3165, Longitude: 78.0322}

	res := m.Nearby(center, 1, 0)
	require.Len(t, res, 2)
	assert.Equal(t, "doon_hospital", res[0].Hospital.ID)
	assert.InDelta(t, 0, res[0].Distance, 1e-9)
	assert.Equal(t, "govt_hospital", res[1].Hospital.ID)
	assert.InDelta(t, 0.8, res[1].Distance, 0.1)

	all := m.Nearby(center, 50, 0)
	assert.Len(t, all, 6)
	for i := 1; i < len(all); i++ {
		assert.LessOrEqual(t, all[i-1].Distance, all[i].Distance)
	}
	assert.Len(t, m.Nearby(center, 50, 3), 3)
	assert.Empty(t, m.Nearby(center, 0, 3))
	assert.Empty(t, m.Nearby(entity.Location{Latitude: 0, Longitude: 0}, 10, 0))
}
