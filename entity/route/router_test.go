package route

import (
	"math"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/green-corridor/clock"
	"github.com/tsinghua-fib-lab/green-corridor/entity"
	"github.com/tsinghua-fib-lab/green-corridor/entity/hospital"
	"github.com/tsinghua-fib-lab/green-corridor/utils/config"
)

var t0 = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

type testContext struct {
	hospitals *hospital.HospitalManager
}

func (c *testContext) Clock() *clock.Clock { return nil }
func (c *testContext) SignalRegistry() entity.ISignalRegistry { return nil }
func (c *testContext) RoadManager() entity.IRoadManager { return nil }
func (c *testContext) HospitalManager() entity.IHospitalManager { return c.hospitals }
func (c *testContext) Router() entity.IRouter { return nil }
func (c *testContext) Recorder() entity.IRecorder { return nil }
func (c *testContext) RuntimeConfig() *config.RuntimeConfig { return nil }

type edge struct {
	a, b   string
	weight float64
}

func snapshot(nodes []string, edges []edge) *entity.GraphSnapshot {
	adj := make(map[string][]entity.Arc, len(nodes))
	for _, n := range nodes {
		adj[n] = make([]entity.Arc, 0)
	}
	for _, e := range edges {
		adj[e.a] = append(adj[e.a], entity.Arc{To: e.b, Weight: e.weight, Distance: e.weight / 100, Density: 1})
		adj[e.b] = append(adj[e.b], entity.Arc{To: e.a, Weight: e.weight, Distance: e.weight / 100, Density: 1})
	}
	for _, arcs := range adj {
		sort.Slice(arcs, func(i, j int) bool { return arcs[i].To < arcs[j].To })
	}
	return entity.NewGraphSnapshot(adj)
}

func newRouter(t *testing.T, hospitals []entity.Hospital) *LocalRouter {
	m := hospital.NewManager(nil)
	require.NoError(t, m.Init(hospitals))
	return NewLocalRouter(&testContext{hospitals: m})
}

func hosp(id, junction string, typ entity.HospitalType, access float64) entity.Hospital {
	return entity.Hospital{ID: id, JunctionID: junction, Type: typ, AccessTime: access, Capacity: 10, AcceptsEmergency: true}
}

func TestAmbulanceToEmergencyHospital(t *testing.T) {
	g := snapshot(
		[]string{"gandhi_road", "rispana_bridge", "clock_tower"},
		[]edge{{"gandhi_road", "rispana_bridge", 5}, {"gandhi_road", "clock_tower", 1}},
	)
	r := newRouter(t, []entity.Hospital{
		hosp("synergy_hospital", "rispana_bridge", entity.HospitalEmergency, 7),
		hosp("doon_hospital", "clock_tower", entity.HospitalGeneral, 1),
	})

	route, err := r.ComputeRoute(g, "gandhi_road", entity.VehicleAmbulance, t0)
	require.NoError(t, err)
	assert.Equal(t, []string{"gandhi_road", "rispana_bridge"}, route.Nodes)
	assert.Equal(t, 12.0, route.Cost)
	assert.Equal(t, "synergy_hospital", route.HospitalID)
	assert.Equal(t, []time.Time{t0, t0.Add(5 * time.Second)}, route.Arrivals)
	assert.Equal(t, t0.Add(12*time.Second), route.ETA)
	assert.Equal(t, entity.RoutePlanned, route.Status)
	assert.Empty(t, route.ID)

	// 非救护车不区分医院类型，选择最近的
	route, err = r.ComputeRoute(g, "gandhi_road", entity.VehiclePolice, t0)
	require.NoError(t, err)
	assert.Equal(t, "doon_hospital", route.HospitalID)
	assert.Equal(t, 2.0, route.Cost)
}

func TestAmbulanceFallback(t *testing.T) {
	g := snapshot([]string{"a", "b", "c", "d"}, []edge{{"a", "b", 3}, {"b", "c", 4}})
	// 急救医院不可达（d孤立），退回普通/专科医院
	r := newRouter(t, []entity.Hospital{
		hosp("emergency", "d", entity.HospitalEmergency, 0),
		hosp("specialty", "c", entity.HospitalSpecialty, 0),
		hosp("general", "c", entity.HospitalGeneral, 1),
	})
	route, err := r.ComputeRoute(g, "a", entity.VehicleAmbulance, t0)
	require.NoError(t, err)
	assert.Equal(t, "specialty", route.HospitalID)
	assert.Equal(t, []string{"a", "b", "c"}, route.Nodes)
	assert.Equal(t, 7.0, route.Cost)
}

func TestTieBrokenByHospitalID(t *testing.T) {
	g := snapshot([]string{"a", "b", "c"}, []edge{{"a", "b", 5}, {"a", "c", 5}})
	r := newRouter(t, []entity.Hospital{
		hosp("zeta", "b", entity.HospitalGeneral, 2),
		hosp("alpha", "c", entity.HospitalGeneral, 2),
	})
	route, err := r.ComputeRoute(g, "a", entity.VehicleFireTruck, t0)
	require.NoError(t, err)
	assert.Equal(t, "alpha", route.HospitalID)
}

func TestEligibility(t *testing.T) {
	g := snapshot([]string{"a", "b"}, []edge{{"a", "b", 5}})
	closed := hosp("closed", "a", entity.HospitalEmergency, 0)
	closed.AcceptsEmergency = false
	full := hosp("full", "a", entity.HospitalEmergency, 0)
	full.Capacity = 0
	r := newRouter(t, []entity.Hospital{closed, full, hosp("open", "b", entity.HospitalGeneral, 0)})

	route, err := r.ComputeRoute(g, "a", entity.VehicleAmbulance, t0)
	require.NoError(t, err)
	assert.Equal(t, "open", route.HospitalID)

	r = newRouter(t, []entity.Hospital{closed, full})
	_, err = r.ComputeRoute(g, "a", entity.VehicleAmbulance, t0)
	assert.ErrorIs(t, err, entity.ErrRouteUnavailable)
}

func TestErrors(t *testing.T) {
	g := snapshot([]string{"a", "b", "c"}, []edge{{"a", "b", 5}})
	r := newRouter(t, []entity.Hospital{hosp("h", "c", entity.HospitalEmergency, 0)})

	_, err := r.ComputeRoute(g, "a", entity.VehicleAmbulance, t0)
	assert.ErrorIs(t, err, entity.ErrRouteUnavailable)
	_, err = r.ComputeRoute(g, "nowhere", entity.VehicleAmbulance, t0)
	assert.ErrorIs(t, err, entity.ErrNotFound)
	_, err = r.ComputeRoute(g, "a", entity.VehicleType("tank"), t0)
	assert.ErrorIs(t, err, entity.ErrInvalidInput)
}

func TestNonFiniteCostUnreachable(t *testing.T) {
	r := newRouter(t, []entity.Hospital{
		hosp("far", "b", entity.HospitalEmergency, 0),
		hosp("near", "c", entity.HospitalEmergency, 0),
	})

	// 所有候选代价均不可表示时不可达，而不是panic
	for _, w := range []float64{math.Inf(1), math.NaN(), 1e300} {
		g := snapshot([]string{"a", "b"}, []edge{{"a", "b", w}})
		var err error
		require.NotPanics(t, func() {
			_, err = r.ComputeRoute(g, "a", entity.VehicleAmbulance, t0)
		}, "%v", w)
		assert.ErrorIs(t, err, entity.ErrRouteUnavailable, "%v", w)
	}

	// 有限代价的医院仍被选中
	g := snapshot([]string{"a", "b", "c"}, []edge{{"a", "b", math.Inf(1)}, {"a", "c", 1e300}, {"a", "c", 8}})
	route, err := r.ComputeRoute(g, "a", entity.VehicleAmbulance, t0)
	require.NoError(t, err)
	assert.Equal(t, "near", route.HospitalID)
	assert.Equal(t, 8.0, route.Cost)

	// 接入时间为+Inf的医院被跳过
	inf := hosp("inf", "b", entity.HospitalEmergency, math.Inf(1))
	r = newRouter(t, []entity.Hospital{inf})
	g = snapshot([]string{"a", "b"}, []edge{{"a", "b", 5}})
	_, err = r.ComputeRoute(g, "a", entity.VehicleAmbulance, t0)
	assert.ErrorIs(t, err, entity.ErrRouteUnavailable)
}

func TestAlternatives(t *testing.T) {
	g := snapshot([]string{"a", "b", "c", "d"}, []edge{{"a", "b", 3}, {"a", "c", 5}, {"a", "d", 4}})
	r := newRouter(t, []entity.Hospital{
		hosp("emergency", "c", entity.HospitalEmergency, 0),
		hosp("general", "b", entity.HospitalGeneral, 0),
		hosp("specialty", "d", entity.HospitalSpecialty, 0),
	})

	best, err := r.ComputeRoute(g, "a", entity.VehicleAmbulance, t0)
	require.NoError(t, err)
	assert.Equal(t, "emergency", best.HospitalID)

	alts, err := r.Alternatives(g, "a", entity.VehicleAmbulance, t0, 5)
	require.NoError(t, err)
	ids := make([]string, 0, len(alts))
	for _, a := range alts {
		ids = append(ids, a.HospitalID)
	}
	assert.Equal(t, []string{"general", "specialty"}, ids)
	assert.Equal(t, []string{"a", "d"}, alts[1].Nodes)
	assert.Equal(t, t0.Add(4*time.Second), alts[1].ETA)

	alts, err = r.Alternatives(g, "a", entity.VehicleAmbulance, t0, 1)
	require.NoError(t, err)
	require.Len(t, alts, 1)
	assert.Equal(t, "general", alts[0].HospitalID)

	_, err = r.Alternatives(g, "nowhere", entity.VehicleAmbulance, t0, 1)
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestSourceIsHospitalJunction(t *testing.T) {
	g := snapshot([]string{"a", "b"}, []edge{{"a", "b", 5}})
	r := newRouter(t, []entity.Hospital{hosp("h", "a", entity.HospitalEmergency, 3)})
	route, err := r.ComputeRoute(g, "a", entity.VehicleAmbulance, t0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, route.Nodes)
	assert.Equal(t, 3.0, route.Cost)
}

// bruteForce 枚举所有简单路径求最小代价
func bruteForce(g *entity.GraphSnapshot, source, target string) float64 {
	best := math.Inf(1)
	visited := map[string]bool{source: true}
	var dfs func(cur string, cost float64)
	dfs = func(cur string, cost float64) {
		if cur == target {
			best = math.Min(best, cost)
			return
		}
		for _, arc := range g.Neighbors(cur) {
			if visited[arc.To] {
				continue
			}
			visited[arc.To] = true
			dfs(arc.To, cost+arc.Weight)
			visited[arc.To] = false
		}
	}
	dfs(source, 0)
	return best
}

func TestShortestAgainstBruteForce(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	types := []entity.HospitalType{entity.HospitalGeneral, entity.HospitalSpecialty, entity.HospitalEmergency}
	for iter := 0; iter < 200; iter++ {
		n := 3 + rnd.Intn(5)
		nodes := make([]string, n)
		for i := range nodes {
			nodes[i] = string(rune('a' + i))
		}
		edges := make([]edge, 0)
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				if rnd.Float64() < 0.45 {
					edges = append(edges, edge{nodes[i], nodes[j], 1 + rnd.Float64()*20})
				}
			}
		}
		g := snapshot(nodes, edges)
		hospitals := make([]entity.Hospital, 0)
		for k := 0; k < 1+rnd.Intn(3); k++ {
			hospitals = append(hospitals, hosp(
				string(rune('A'+k)), nodes[rnd.Intn(n)], types[rnd.Intn(len(types))], rnd.Float64()*5,
			))
		}
		r := newRouter(t, hospitals)
		source := nodes[rnd.Intn(n)]

		for _, vt := range []entity.VehicleType{entity.VehiclePolice, entity.VehicleAmbulance} {
			// 期望：逐档位取最小代价
			want := math.Inf(1)
			for _, tier := range preferences[vt] {
				for _, h := range hospitals {
					if matches(tier, h.Type) {
						want = math.Min(want, bruteForce(g, source, h.JunctionID)+h.AccessTime)
					}
				}
				if !math.IsInf(want, 1) {
					break
				}
			}

			route, err := r.ComputeRoute(g, source, vt, t0)
			if math.IsInf(want, 1) {
				assert.ErrorIs(t, err, entity.ErrRouteUnavailable, "iter %d", iter)
				continue
			}
			require.NoError(t, err, "iter %d", iter)
			assert.InDelta(t, want, route.Cost, 1e-9, "iter %d", iter)

			// 路径本身的代价与返回值一致
			h, _ := r.ctx.HospitalManager().Get(route.HospitalID)
			assert.Equal(t, source, route.Nodes[0])
			assert.Equal(t, h.JunctionID, route.Nodes[len(route.Nodes)-1])
			sum := 0.0
			for i := 1; i < len(route.Nodes); i++ {
				arc, ok := g.Arc(route.Nodes[i-1], route.Nodes[i])
				require.True(t, ok)
				sum += arc.Weight
			}
			assert.InDelta(t, route.Cost, sum+h.AccessTime, 1e-9, "iter %d", iter)
			for i := 1; i < len(route.Arrivals); i++ {
				assert.False(t, route.Arrivals[i].Before(route.Arrivals[i-1]))
			}

			again, err := r.ComputeRoute(g, source, vt, t0)
			require.NoError(t, err)
			assert.Equal(t, route, again)
		}
	}
}
