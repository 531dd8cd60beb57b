package persist

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetline/engine/pkg/core"
)

func newMemoryManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(zerolog.Nop())
	db, err := m.GetSqliteDB("")
	require.NoError(t, err)
	m.DB = db
	m.IsValid = true
	require.NoError(t, m.Setup())
	return m
}

func TestMemoryManagersAreIsolated(t *testing.T) {
	a := newMemoryManager(t)
	b := newMemoryManager(t)

	require.NoError(t, a.DB.Create(&OfflineEvent{VehicleID: "bus-1", Time: time.Now()}).Error)

	var count int64
	require.NoError(t, b.DB.Model(&OfflineEvent{}).Count(&count).Error)
	assert.EqualValues(t, 0, count, "each manager owns a private in-memory database")
}

func TestWriterFlushesSnapshots(t *testing.T) {
	m := newMemoryManager(t)
	w := NewWriter(m, time.Hour)

	now := time.Now()
	w.RecordVehicles([]core.Vehicle{
		{ID: "bus-1", RouteID: "route-7", Position: core.Position{Lat: 1, Lng: 2}, LastUpdateAt: now},
		{ID: "bus-2", RouteID: "route-7", Position: core.Position{Lat: 3, Lng: 4}, LastUpdateAt: now},
	})
	require.Equal(t, 2, w.Snapshots.Len())

	w.Flush()
	assert.Equal(t, 0, w.Snapshots.Len())

	var count int64
	require.NoError(t, m.DB.Model(&VehicleSnapshot{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)

	var row VehicleSnapshot
	require.NoError(t, m.DB.Where("vehicle_id = ?", "bus-1").First(&row).Error)
	assert.Equal(t, "route-7", row.RouteID)
	assert.Equal(t, 1.0, row.Lat)
}

func TestWriterUpsertsOneRowPerVehicle(t *testing.T) {
	m := newMemoryManager(t)
	w := NewWriter(m, time.Hour)

	base := time.Now()
	w.RecordVehicles([]core.Vehicle{
		{ID: "bus-1", Position: core.Position{Lat: 1, Lng: 2}, LastUpdateAt: base},
		{ID: "bus-1", Position: core.Position{Lat: 5, Lng: 6}, LastUpdateAt: base.Add(time.Second)},
	})
	w.Flush()

	// Later flushes overwrite the same row again.
	w.RecordVehicles([]core.Vehicle{
		{ID: "bus-1", Position: core.Position{Lat: 9, Lng: 10}, SpeedKmph: 28, LastUpdateAt: base.Add(2 * time.Second)},
	})
	w.Flush()

	var count int64
	require.NoError(t, m.DB.Model(&VehicleSnapshot{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	var row VehicleSnapshot
	require.NoError(t, m.DB.Where("vehicle_id = ?", "bus-1").First(&row).Error)
	assert.Equal(t, 9.0, row.Lat)
	assert.Equal(t, 28.0, row.SpeedKmph)
}

func TestDedupeSnapshotsKeepsNewest(t *testing.T) {
	rows := dedupeSnapshots([]VehicleSnapshot{
		{VehicleID: "bus-1", Lat: 1},
		{VehicleID: "bus-2", Lat: 2},
		{VehicleID: "bus-1", Lat: 3},
	})
	require.Len(t, rows, 2)
	assert.Equal(t, 3.0, rows[0].Lat)
	assert.Equal(t, "bus-2", rows[1].VehicleID)
}

func TestWriterFlushesOfflineEvents(t *testing.T) {
	m := newMemoryManager(t)
	w := NewWriter(m, time.Hour)

	w.RecordOffline("bus-1", "op-a", time.Now())
	w.Flush()

	var count int64
	require.NoError(t, m.DB.Model(&OfflineEvent{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestWriterDropsWhenDatabaseInvalid(t *testing.T) {
	w := NewWriter(NewManager(zerolog.Nop()), time.Hour)

	w.RecordVehicles([]core.Vehicle{{ID: "bus-1"}})
	w.Flush()
	assert.Equal(t, 0, w.Snapshots.Len(), "rows are discarded, not retried forever")
}

func TestWriterStartStop(t *testing.T) {
	m := newMemoryManager(t)
	w := NewWriter(m, 10*time.Millisecond)

	w.Start()
	w.RecordVehicles([]core.Vehicle{{ID: "bus-1", LastUpdateAt: time.Now()}})

	assert.Eventually(t, func() bool {
		var count int64
		m.DB.Model(&VehicleSnapshot{}).Count(&count)
		return count == 1
	}, time.Second, 10*time.Millisecond)

	w.Stop()
	assert.Eventually(t, func() bool {
		w.mu.RLock()
		defer w.mu.RUnlock()
		return !w.isRunning
	}, time.Second, 10*time.Millisecond)
}
