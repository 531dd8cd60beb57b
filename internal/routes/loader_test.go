package routes

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetline/engine/internal/store"
)

const routesJSON = `{
	"routes": [
		{
			"id": "route-7",
			"name": "Harbor Loop",
			"traversal": "loop",
			"polyline": [[0,0],[0,0.01],[0.01,0.01]]
		},
		{
			"id": "route-9",
			"name": "Hillside Shuttle",
			"traversal": "pingpong",
			"polyline": [[0.02,0],[0.02,0.02]]
		}
	]
}`

const fleetJSON = `{
	"vehicles": [
		{"id": "bus-1", "routeId": "route-7", "capacity": 52},
		{"id": "bus-2", "routeId": "route-7", "capacity": 52},
		{"id": "bus-3", "routeId": "route-9", "capacity": 30, "startProgress": 0.5}
	]
}`

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadRoutesAndFleet(t *testing.T) {
	st := store.New(nil)
	require.NoError(t, LoadRoutes(writeFixture(t, "routes.json", routesJSON), st, nil))
	require.NoError(t, LoadFleet(writeFixture(t, "fleet.json", fleetJSON), st, nil))

	require.Equal(t, 3, st.Len())

	r, ok := st.Route("route-9")
	require.True(t, ok)
	assert.Equal(t, "Hillside Shuttle", r.Name)

	v, ok := st.Get("bus-3")
	require.True(t, ok)
	assert.True(t, v.IsSimulated, "seeded vehicles start under simulation")
	assert.Equal(t, 0.5, v.PathProgress)
	assert.Equal(t, 30, v.Occupancy.Capacity)
	assert.InDelta(t, 0.01, v.Position.Lat, 1e-6, "spawn position sits at startProgress")
}

func TestLoadFleetStaggersDefaults(t *testing.T) {
	st := store.New(nil)
	require.NoError(t, LoadRoutes(writeFixture(t, "routes.json", routesJSON), st, nil))
	require.NoError(t, LoadFleet(writeFixture(t, "fleet.json", fleetJSON), st, nil))

	v1, _ := st.Get("bus-1")
	v2, _ := st.Get("bus-2")
	assert.Equal(t, 0.0, v1.PathProgress)
	assert.Equal(t, 0.5, v2.PathProgress, "unpinned vehicles spread along the route")
}

func TestLoadRoutesRejectsBadGeometry(t *testing.T) {
	st := store.New(nil)
	bad := `{"routes": [{"id": "r", "polyline": [[0,99]]}]}`
	err := LoadRoutes(writeFixture(t, "routes.json", bad), st, nil)
	assert.Error(t, err)
}

func TestLoadRoutesRejectsUnknownTraversal(t *testing.T) {
	st := store.New(nil)
	bad := `{"routes": [{"id": "r", "traversal": "zigzag", "polyline": [[0,0],[0,1]]}]}`
	err := LoadRoutes(writeFixture(t, "routes.json", bad), st, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown traversal")
}

func TestLoadFleetRejectsUnknownRoute(t *testing.T) {
	st := store.New(nil)
	require.NoError(t, LoadRoutes(writeFixture(t, "routes.json", routesJSON), st, nil))
	bad := `{"vehicles": [{"id": "bus-1", "routeId": "route-404"}]}`
	err := LoadFleet(writeFixture(t, "fleet.json", bad), st, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown route")
}
