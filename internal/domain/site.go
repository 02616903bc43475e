package domain

// LatLng is a bare coordinate pair, used for polygon rings and map corners.
type LatLng struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// Boundary is a polygon with an outer ring and zero or more holes. Ring
// coordinates are ordered; the sites index stores them as a geo_shape.
type Boundary struct {
	Outer []LatLng   `json:"outer"`
	Holes [][]LatLng `json:"holes,omitempty"`
}

// Site is one document in the sites index: a named research site with a
// geo_shape boundary used for point-in-polygon site detection.
type Site struct {
	Name     string   `json:"name"`
	Code     string   `json:"code"`
	Type     string   `json:"type"`
	Details  []string `json:"details,omitempty"`
	Boundary Boundary `json:"boundary"`
}

// GeoJSON renders the boundary as a geo_shape polygon value, coordinates in
// [lon, lat] order as the backend requires.
func (b Boundary) GeoJSON() map[string]interface{} {
	rings := make([][][]float64, 0, 1+len(b.Holes))
	rings = append(rings, ringToCoords(b.Outer))
	for _, hole := range b.Holes {
		rings = append(rings, ringToCoords(hole))
	}
	return map[string]interface{}{
		"type":        "polygon",
		"coordinates": rings,
	}
}

func ringToCoords(ring []LatLng) [][]float64 {
	coords := make([][]float64, 0, len(ring))
	for _, pt := range ring {
		coords = append(coords, []float64{pt.Longitude, pt.Latitude})
	}
	return coords
}
