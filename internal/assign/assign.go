// Package assign maps operator credentials to the vehicle each
// operator is rostered on. Claims are only honored for the rostered
// vehicle; everything else answers BUS_NOT_ASSIGNED.
package assign

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Resolver answers roster lookups. Implementations must be safe for
// concurrent use from connection handlers.
type Resolver interface {
	// VehicleFor returns the vehicle operatorID is rostered on.
	VehicleFor(operatorID string) (string, bool)
}

// Roster is an in-memory Resolver loaded from JSON configuration.
// Lookup latency sits on the connect path, so entries are cached in a
// plain map behind a mutex rather than re-read from disk.
type Roster struct {
	m          sync.Mutex
	byOperator map[string]string
	byVehicle  map[string]string
}

// NewRoster creates an empty roster.
func NewRoster() *Roster {
	return &Roster{
		byOperator:  make(map[string]string),
		byVehicle: make(map[string]string),
	}
}

type rosterFile struct {
	Assignments []assignmentDef `json:"assignments"`
}

type assignmentDef struct {
	OperatorID string `json:"operatorId"`
	VehicleID  string `json:"vehicleId"`
}

// LoadRoster reads operator assignments from a JSON file.
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading roster file: %w", err)
	}
	var file rosterFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing roster file: %w", err)
	}

	r := NewRoster()
	for _, def := range file.Assignments {
		if def.OperatorID == "" || def.VehicleID == "" {
			return nil, fmt.Errorf("roster entry with empty operator or vehicle in %s", path)
		}
		if err := r.Assign(def.OperatorID, def.VehicleID); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Assign rosters an operator onto a vehicle. One operator per vehicle
// and one vehicle per operator.
func (r *Roster) Assign(operatorID, vehicleID string) error {
	r.m.Lock()
	defer r.m.Unlock()
	if existing, ok := r.byOperator[operatorID]; ok && existing != vehicleID {
		return fmt.Errorf("operator %s already rostered on %s", operatorID, existing)
	}
	if existing, ok := r.byVehicle[vehicleID]; ok && existing != operatorID {
		return fmt.Errorf("vehicle %s already rostered to %s", vehicleID, existing)
	}
	r.byOperator[operatorID] = vehicleID
	r.byVehicle[vehicleID] = operatorID
	return nil
}

// VehicleFor returns the vehicle operatorID is rostered on.
func (r *Roster) VehicleFor(operatorID string) (string, bool) {
	r.m.Lock()
	defer r.m.Unlock()
	v, ok := r.byOperator[operatorID]
	return v, ok
}

// OperatorFor returns the operator rostered on vehicleID.
func (r *Roster) OperatorFor(vehicleID string) (string, bool) {
	r.m.Lock()
	defer r.m.Unlock()
	op, ok := r.byVehicle[vehicleID]
	return op, ok
}

// Len returns the number of rostered pairs.
func (r *Roster) Len() int {
	r.m.Lock()
	defer r.m.Unlock()
	return len(r.byOperator)
}
