package persist

import (
	"time"

	"gorm.io/datatypes"
)

// VehicleSnapshot is the persisted last-known state of one vehicle.
// One row per vehicle; flushes upsert in place rather than append.
type VehicleSnapshot struct {
	ID                    uint   `gorm:"primarykey"`
	Time                  time.Time
	VehicleID             string `gorm:"uniqueIndex:idx_snapshot_vehicle;size:64"`
	RouteID               string `gorm:"size:64"`
	Lat                   float64
	Lng                   float64
	Heading               float64
	SpeedKmph             float64
	Occupancy             datatypes.JSON
	IsSimulated           bool
	ControllingOperatorID string `gorm:"size:64"`
	Confidence            float64
}

// OfflineEvent records a vehicle reverting from operator control to
// simulation.
type OfflineEvent struct {
	ID         uint      `gorm:"primarykey"`
	Time       time.Time `gorm:"index:idx_offline_time"`
	VehicleID  string    `gorm:"index:idx_offline_vehicle;size:64"`
	OperatorID string    `gorm:"size:64"`
}

// DatabaseModels lists every table the engine migrates.
var DatabaseModels = []any{
	&VehicleSnapshot{},
	&OfflineEvent{},
}
