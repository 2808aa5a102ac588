package h3index

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	h3 "github.com/uber/h3-go/v4"
)

// CellsForBoundary covers a GeoJSON Polygon or MultiPolygon geometry with
// cells at the index resolution. Output is sorted and unique.
func (x *Index) CellsForBoundary(geometry []byte) ([]string, error) {
	var hdr struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(geometry, &hdr); err != nil {
		return nil, fmt.Errorf("parse geojson: %w", err)
	}

	switch hdr.Type {
	case "Polygon":
		var tmp struct {
			Coordinates [][][]float64 `json:"coordinates"` // [ring][i][lon,lat]
		}
		if err := json.Unmarshal(geometry, &tmp); err != nil {
			return nil, fmt.Errorf("parse polygon coords: %w", err)
		}
		if len(tmp.Coordinates) == 0 {
			return nil, errors.New("empty polygon")
		}
		return polyfill([][][][]float64{tmp.Coordinates}, x.res)

	case "MultiPolygon":
		var tmp struct {
			Coordinates [][][][]float64 `json:"coordinates"` // [poly][ring][i][lon,lat]
		}
		if err := json.Unmarshal(geometry, &tmp); err != nil {
			return nil, fmt.Errorf("parse multipolygon coords: %w", err)
		}
		if len(tmp.Coordinates) == 0 {
			return nil, errors.New("empty multipolygon")
		}
		return polyfill(tmp.Coordinates, x.res)

	default:
		return nil, fmt.Errorf("unsupported GeoJSON type: %s", hdr.Type)
	}
}

func polyfill(polys [][][][]float64, res int) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for pi, rings := range polys {
		if len(rings) == 0 {
			return nil, fmt.Errorf("polygon %d is empty", pi)
		}
		outer := toLoop(rings[0])
		if len(outer) < 3 {
			return nil, fmt.Errorf("polygon %d outer ring has < 3 distinct vertices", pi)
		}
		var holes []h3.GeoLoop
		for i := 1; i < len(rings); i++ {
			h := toLoop(rings[i])
			if len(h) < 3 {
				return nil, fmt.Errorf("polygon %d hole %d has < 3 distinct vertices", pi, i-1)
			}
			holes = append(holes, h)
		}
		cells, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: outer, Holes: holes}, res)
		if err != nil {
			return nil, fmt.Errorf("h3 polyfill: %w", err)
		}
		for _, c := range cells {
			s := c.String()
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out, nil
}

// closing vertex is dropped if the ring repeats its first point
func toLoop(coords [][]float64) h3.GeoLoop {
	loop := make(h3.GeoLoop, 0, len(coords))
	for _, xy := range coords {
		if len(xy) < 2 {
			continue
		}
		loop = append(loop, h3.LatLng{Lat: xy[1], Lng: xy[0]})
	}
	if len(loop) >= 2 {
		last, first := loop[len(loop)-1], loop[0]
		if last.Lat == first.Lat && last.Lng == first.Lng {
			loop = loop[:len(loop)-1]
		}
	}
	return loop
}
