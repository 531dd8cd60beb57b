package geo

import (
	"encoding/json"
	"fmt"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/fleetline/engine/pkg/core"
)

// ParsePolyline parses a JSON array of [lng,lat] coordinate pairs into a
// validated geom.LineString.
// Input format: "[[lng1,lat1],[lng2,lat2],...]"
func ParsePolyline(input string) (geom.LineString, error) {
	var coords [][]float64
	if err := json.Unmarshal([]byte(input), &coords); err != nil {
		return geom.LineString{}, fmt.Errorf("failed to parse polyline JSON: %w", err)
	}

	if len(coords) < 2 {
		return geom.LineString{}, fmt.Errorf("polyline must have at least 2 points, got %d", len(coords))
	}

	flatCoords := make([]float64, 0, len(coords)*2)
	for i, coord := range coords {
		if len(coord) < 2 {
			return geom.LineString{}, fmt.Errorf("coordinate %d has insufficient values", i)
		}
		flatCoords = append(flatCoords, coord[0], coord[1])
	}

	seq := geom.NewSequence(flatCoords, geom.DimXY)
	ls, err := geom.NewLineString(seq)
	if err != nil {
		return geom.LineString{}, fmt.Errorf("invalid polyline geometry: %w", err)
	}
	return ls, nil
}

// ParsePolylineToCore parses a JSON array of [lng,lat] pairs into a
// core.Polyline, rejecting coordinates outside WGS84 bounds.
func ParsePolylineToCore(input string) (core.Polyline, error) {
	ls, err := ParsePolyline(input)
	if err != nil {
		return nil, err
	}

	seq := ls.Coordinates()
	polyline := make(core.Polyline, seq.Length())
	for i := 0; i < seq.Length(); i++ {
		xy := seq.GetXY(i)
		p := core.Position{Lat: xy.Y, Lng: xy.X}
		if !InBounds(p) {
			return nil, ErrInvalidCoordinates
		}
		polyline[i] = p
	}
	return polyline, nil
}
