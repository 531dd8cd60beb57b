package core

import "time"

// RouteStats is the per-route slice of the fleet aggregate.
type RouteStats struct {
	RouteID            string `json:"routeId"`
	Vehicles           int    `json:"vehicles"`
	Simulated          int    `json:"simulated"`
	OperatorControlled int    `json:"operatorControlled"`
}

// AggregateStats is the fleet health summary served to admin subscribers.
type AggregateStats struct {
	Time                    time.Time    `json:"time"`
	TotalVehicles           int          `json:"totalVehicles"`
	SimulatedCount          int          `json:"simulatedCount"`
	OperatorControlledCount int          `json:"operatorControlledCount"`
	OperatorsOnline         int          `json:"operatorsOnline"`
	OperatorsIdle           int          `json:"operatorsIdle"`
	OperatorsOffline        int          `json:"operatorsOffline"`
	PerRoute                []RouteStats `json:"perRoute"`
}
