package models

import "fmt"

// LocationPin is a map location surfaced by the backend during a conversation.
type LocationPin struct {
	Label string  `json:"label"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
}

// Key identifies the pin for deduplication. Two pins with the same label at the same coordinates
// are the same pin.
func (p LocationPin) Key() string {
	return fmt.Sprintf("%s@%.6f,%.6f", p.Label, p.Lat, p.Lon)
}

// Valid reports whether the coordinates are on the globe.
func (p LocationPin) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}
