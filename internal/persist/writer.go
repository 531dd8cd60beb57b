package persist

import (
	"encoding/json"
	"sync"
	"time"

	"gorm.io/gorm/clause"

	"github.com/fleetline/engine/internal/queue"
	"github.com/fleetline/engine/pkg/core"
)

// Writer buffers state rows in memory and flushes them to the
// database on a fixed interval so the hot telemetry path never waits
// on a disk write. Snapshot rows are upserted per vehicle; offline
// events are appended.
type Writer struct {
	manager  *Manager
	interval time.Duration

	Snapshots *queue.Queue[VehicleSnapshot]
	Offline   *queue.Queue[OfflineEvent]

	mu            sync.RWMutex
	isRunning     bool
	stopChan      chan struct{}
	lastWriteTime time.Duration
}

// NewWriter creates a Writer flushing every interval.
func NewWriter(manager *Manager, interval time.Duration) *Writer {
	return &Writer{
		manager:   manager,
		interval:  interval,
		Snapshots: queue.New[VehicleSnapshot](),
		Offline:   queue.New[OfflineEvent](),
		stopChan:  make(chan struct{}),
	}
}

// RecordVehicles queues the current state of each vehicle.
func (w *Writer) RecordVehicles(vehicles []core.Vehicle) {
	rows := make([]VehicleSnapshot, 0, len(vehicles))
	for _, v := range vehicles {
		occ, err := json.Marshal(v.Occupancy)
		if err != nil {
			occ = []byte(`{}`)
		}
		rows = append(rows, VehicleSnapshot{
			Time:                  v.LastUpdateAt,
			VehicleID:             v.ID,
			RouteID:               v.RouteID,
			Lat:                   v.Position.Lat,
			Lng:                   v.Position.Lng,
			Heading:               v.Heading,
			SpeedKmph:             v.SpeedKmph,
			Occupancy:             occ,
			IsSimulated:           v.IsSimulated,
			ControllingOperatorID: v.ControllingOperatorID,
			Confidence:            v.Confidence,
		})
	}
	w.Snapshots.Push(rows...)
}

// RecordOffline queues one offline transition.
func (w *Writer) RecordOffline(vehicleID, operatorID string, at time.Time) {
	w.Offline.Push(OfflineEvent{Time: at, VehicleID: vehicleID, OperatorID: operatorID})
}

// Start launches the flush goroutine. Idempotent.
func (w *Writer) Start() {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = true
	w.stopChan = make(chan struct{})
	w.mu.Unlock()

	go func() {
		defer func() {
			w.mu.Lock()
			w.isRunning = false
			w.mu.Unlock()
		}()

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-w.stopChan:
				w.Flush()
				return
			case <-ticker.C:
				w.Flush()
			}
		}
	}()
}

// Stop halts the flush goroutine after a final flush.
func (w *Writer) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.isRunning {
		close(w.stopChan)
	}
}

// Flush writes all queued rows. Failed batches are dropped; history is
// best-effort and must never wedge the queue.
func (w *Writer) Flush() {
	if w.manager == nil || !w.manager.IsValid {
		w.Snapshots.Clear()
		w.Offline.Clear()
		return
	}

	start := time.Now()
	if rows := dedupeSnapshots(w.Snapshots.GetAndEmpty()); len(rows) > 0 {
		err := w.manager.DB.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "vehicle_id"}},
			UpdateAll: true,
		}).Create(&rows).Error
		if err != nil {
			w.manager.Logger.Error().Err(err).Int("rows", len(rows)).Msg("snapshot flush failed")
		}
	}
	if rows := w.Offline.GetAndEmpty(); len(rows) > 0 {
		if err := w.manager.DB.Create(&rows).Error; err != nil {
			w.manager.Logger.Error().Err(err).Int("rows", len(rows)).Msg("offline flush failed")
		}
	}

	w.mu.Lock()
	w.lastWriteTime = time.Since(start)
	w.mu.Unlock()
}

// dedupeSnapshots keeps only the newest queued row per vehicle. A
// vehicle may move several times between flushes; only its final state
// is worth writing.
func dedupeSnapshots(rows []VehicleSnapshot) []VehicleSnapshot {
	if len(rows) < 2 {
		return rows
	}
	seen := make(map[string]int, len(rows))
	out := rows[:0]
	for _, row := range rows {
		if i, ok := seen[row.VehicleID]; ok {
			out[i] = row
			continue
		}
		seen[row.VehicleID] = len(out)
		out = append(out, row)
	}
	return out
}

// LastWriteDuration reports how long the most recent flush took.
func (w *Writer) LastWriteDuration() time.Duration {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastWriteTime
}
