// Package routes loads route geometry and fleet assignments from JSON
// configuration files and seeds the in-memory store.
package routes

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/fleetline/engine/internal/geo"
	"github.com/fleetline/engine/internal/store"
	"github.com/fleetline/engine/pkg/core"
)

type routeFile struct {
	Routes []routeDef `json:"routes"`
}

type routeDef struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Traversal string          `json:"traversal"`
	Polyline  json.RawMessage `json:"polyline"`
}

type fleetFile struct {
	Vehicles []vehicleDef `json:"vehicles"`
}

type vehicleDef struct {
	ID            string   `json:"id"`
	RouteID       string   `json:"routeId"`
	Capacity      int      `json:"capacity"`
	StartProgress *float64 `json:"startProgress,omitempty"`
}

// LoadRoutes reads the routes file and registers each route with the
// store. Routes with invalid geometry abort the load.
func LoadRoutes(path string, st *store.Store, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading routes file: %w", err)
	}

	var file routeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing routes file: %w", err)
	}
	if len(file.Routes) == 0 {
		return fmt.Errorf("routes file %s defines no routes", path)
	}

	for _, def := range file.Routes {
		if def.ID == "" {
			return fmt.Errorf("route with empty id in %s", path)
		}
		traversal := core.TraversalPolicy(def.Traversal)
		switch traversal {
		case core.TraversalLoop, core.TraversalPingPong:
		case "":
			traversal = core.TraversalLoop
		default:
			return fmt.Errorf("route %s: unknown traversal %q", def.ID, def.Traversal)
		}

		polyline, err := geo.ParsePolylineToCore(string(def.Polyline))
		if err != nil {
			return fmt.Errorf("route %s: %w", def.ID, err)
		}

		if err := st.AddRoute(&core.Route{
			ID:        def.ID,
			Name:      def.Name,
			Traversal: traversal,
			Polyline:  polyline,
		}); err != nil {
			return fmt.Errorf("route %s: %w", def.ID, err)
		}
		logger.Info("route loaded", "route", def.ID, "points", len(polyline), "traversal", traversal)
	}
	return nil
}

// LoadFleet reads the fleet file and seeds one simulated vehicle per
// entry. Vehicles without an explicit startProgress are staggered
// evenly along their route so a fresh boot does not bunch the fleet
// at the depot.
func LoadFleet(path string, st *store.Store, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading fleet file: %w", err)
	}

	var file fleetFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing fleet file: %w", err)
	}

	perRoute := map[string]int{}
	for _, def := range file.Vehicles {
		perRoute[def.RouteID]++
	}
	placed := map[string]int{}

	for _, def := range file.Vehicles {
		if def.ID == "" {
			return fmt.Errorf("vehicle with empty id in %s", path)
		}
		routePath, ok := st.Path(def.RouteID)
		if !ok {
			return fmt.Errorf("vehicle %s references unknown route %s", def.ID, def.RouteID)
		}

		progress := float64(placed[def.RouteID]) / float64(perRoute[def.RouteID])
		placed[def.RouteID]++
		if def.StartProgress != nil {
			progress = *def.StartProgress
		}
		if progress < 0 || progress > 1 {
			return fmt.Errorf("vehicle %s: startProgress %v out of range", def.ID, progress)
		}

		capacity := def.Capacity
		if capacity <= 0 {
			capacity = 50
		}

		v := core.Vehicle{
			ID:           def.ID,
			RouteID:      def.RouteID,
			Position:     routePath.PointAt(progress),
			Heading:      routePath.HeadingAt(progress, 1),
			PathProgress: progress,
			Occupancy:    core.NewOccupancy(0, capacity),
		}
		if err := st.AddVehicle(v); err != nil {
			return fmt.Errorf("vehicle %s: %w", def.ID, err)
		}
		logger.Info("vehicle seeded", "vehicle", def.ID, "route", def.RouteID, "progress", progress)
	}
	return nil
}
