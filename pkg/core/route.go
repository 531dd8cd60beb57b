// pkg/core/route.go
package core

// TraversalPolicy controls what the simulator does at route endpoints.
type TraversalPolicy string

const (
	// TraversalLoop wraps progress back to the start of the polyline.
	TraversalLoop TraversalPolicy = "loop"
	// TraversalPingPong reverses direction at each endpoint.
	TraversalPingPong TraversalPolicy = "pingpong"
)

// Route models a fixed service line as an ordered waypoint polyline.
// Routes are loaded once at startup and never mutated afterwards.
type Route struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Polyline  Polyline        `json:"polyline"`
	Traversal TraversalPolicy `json:"traversal"`
}
