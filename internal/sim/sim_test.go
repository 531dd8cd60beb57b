package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetline/engine/internal/geo"
	"github.com/fleetline/engine/internal/store"
	"github.com/fleetline/engine/pkg/core"
)

type captureBroadcaster struct {
	calls   int
	batches [][]core.Vehicle
}

func (c *captureBroadcaster) BroadcastDelta(vs []core.Vehicle) {
	c.calls++
	c.batches = append(c.batches, vs)
}

func noJitter() Config {
	cfg := DefaultConfig()
	cfg.SpeedJitterKmph = 0
	cfg.OccupancyJitterChance = 0
	return cfg
}

func newSimStore(t *testing.T, traversal core.TraversalPolicy) *store.Store {
	t.Helper()
	st := store.New(nil)
	require.NoError(t, st.AddRoute(&core.Route{
		ID:        "route-1",
		Name:      "Axis North",
		Traversal: traversal,
		Polyline: core.Polyline{
			{Lat: 0, Lng: 0},
			{Lat: 0.05, Lng: 0}, // roughly 5.5 km
		},
	}))
	return st
}

func TestAdvanceMovesSimulatedVehicle(t *testing.T) {
	st := newSimStore(t, core.TraversalLoop)
	require.NoError(t, st.AddVehicle(core.Vehicle{ID: "bus-1", RouteID: "route-1"}))

	s := NewScheduler(st, nil, noJitter(), nil)
	now := time.Now()
	moved := s.Advance(3*time.Second, now)

	require.Len(t, moved, 1)
	v := moved[0]
	assert.Greater(t, v.PathProgress, 0.0)
	assert.Equal(t, now, v.LastUpdateAt)
	assert.Equal(t, noJitter().Confidence, v.Confidence)

	// 32 km/h for 3 s is about 26.7 m.
	path, _ := st.Path("route-1")
	traveled := v.PathProgress * path.Length()
	assert.InDelta(t, 32.0/3.6*3, traveled, 0.5)
}

func TestAdvanceSkipsControlledVehicle(t *testing.T) {
	st := newSimStore(t, core.TraversalLoop)
	require.NoError(t, st.AddVehicle(core.Vehicle{ID: "bus-1", RouteID: "route-1"}))
	require.NoError(t, st.AddVehicle(core.Vehicle{ID: "bus-2", RouteID: "route-1"}))

	require.NoError(t, st.Mutate("bus-2", func(v *core.Vehicle, o *store.Ownership) error {
		v.IsSimulated = false
		v.ControllingOperatorID = "op-a"
		o.State = store.OwnerClaimed
		o.OperatorID = "op-a"
		return nil
	}))
	before, _ := st.Get("bus-2")

	s := NewScheduler(st, nil, noJitter(), nil)
	moved := s.Advance(3*time.Second, time.Now())

	require.Len(t, moved, 1)
	assert.Equal(t, "bus-1", moved[0].ID)

	after, _ := st.Get("bus-2")
	assert.Equal(t, before.Position, after.Position)
	assert.Equal(t, before.LastUpdateAt, after.LastUpdateAt, "controlled vehicles are untouched, timestamp included")
}

func TestLoopTraversalWraps(t *testing.T) {
	st := newSimStore(t, core.TraversalLoop)
	require.NoError(t, st.AddVehicle(core.Vehicle{ID: "bus-1", RouteID: "route-1"}))
	require.NoError(t, st.Mutate("bus-1", func(v *core.Vehicle, _ *store.Ownership) error {
		v.PathProgress = 0.999
		return nil
	}))

	s := NewScheduler(st, nil, noJitter(), nil)
	moved := s.Advance(10*time.Second, time.Now())

	require.Len(t, moved, 1)
	assert.Less(t, moved[0].PathProgress, 0.5, "progress wraps past the end")
	assert.Equal(t, int8(1), moved[0].PathDirection)
}

func TestPingPongTraversalReverses(t *testing.T) {
	st := newSimStore(t, core.TraversalPingPong)
	require.NoError(t, st.AddVehicle(core.Vehicle{ID: "bus-1", RouteID: "route-1"}))
	require.NoError(t, st.Mutate("bus-1", func(v *core.Vehicle, _ *store.Ownership) error {
		v.PathProgress = 0.999
		return nil
	}))

	s := NewScheduler(st, nil, noJitter(), nil)
	moved := s.Advance(10*time.Second, time.Now())

	require.Len(t, moved, 1)
	assert.Equal(t, int8(-1), moved[0].PathDirection)
	assert.Less(t, moved[0].PathProgress, 1.0)
	assert.Greater(t, moved[0].PathProgress, 0.9)
}

func TestTickBroadcastsOneBatch(t *testing.T) {
	st := newSimStore(t, core.TraversalLoop)
	for _, id := range []string{"bus-1", "bus-2", "bus-3"} {
		require.NoError(t, st.AddVehicle(core.Vehicle{ID: id, RouteID: "route-1"}))
	}

	bc := &captureBroadcaster{}
	s := NewScheduler(st, bc, noJitter(), nil)
	s.mu.Lock()
	s.lastTick = time.Now().Add(-3 * time.Second)
	s.mu.Unlock()

	s.Tick(time.Now())

	require.Equal(t, 1, bc.calls, "all movement in a tick ships as one delta")
	assert.Len(t, bc.batches[0], 3)
}

func TestOccupancyJitterStaysWithinCapacity(t *testing.T) {
	st := newSimStore(t, core.TraversalLoop)
	require.NoError(t, st.AddVehicle(core.Vehicle{ID: "bus-1", RouteID: "route-1"}))
	require.NoError(t, st.Mutate("bus-1", func(v *core.Vehicle, _ *store.Ownership) error {
		v.Occupancy = core.NewOccupancy(1, 3)
		return nil
	}))

	cfg := noJitter()
	cfg.OccupancyJitterChance = 1
	s := NewScheduler(st, nil, cfg, nil)

	changed := false
	for i := 0; i < 50; i++ {
		moved := s.Advance(time.Second, time.Now())
		require.Len(t, moved, 1)
		occ := moved[0].Occupancy
		assert.GreaterOrEqual(t, occ.Count, 0)
		assert.LessOrEqual(t, occ.Count, occ.Capacity)
		assert.Equal(t, core.LevelFor(occ.Count, occ.Capacity), occ.Level)
		if occ.Count != 1 {
			changed = true
		}
	}
	assert.True(t, changed, "passenger count drifts over enough ticks")
}

func TestHeadingFollowsDirection(t *testing.T) {
	st := newSimStore(t, core.TraversalPingPong)
	require.NoError(t, st.AddVehicle(core.Vehicle{ID: "bus-1", RouteID: "route-1"}))
	require.NoError(t, st.Mutate("bus-1", func(v *core.Vehicle, _ *store.Ownership) error {
		v.PathProgress = 0.5
		v.PathDirection = -1
		return nil
	}))

	s := NewScheduler(st, nil, noJitter(), nil)
	moved := s.Advance(time.Second, time.Now())

	require.Len(t, moved, 1)
	// Route runs due north; reversed travel reports due south.
	assert.InDelta(t, 180, moved[0].Heading, 1)
	assert.InDelta(t, geo.Bearing(core.Position{Lat: 0.05, Lng: 0}, core.Position{Lat: 0, Lng: 0}), moved[0].Heading, 1)
}
