package domain

import (
	"math"
	"time"
)

type DeviceID string

// Validate keeps device ids bounded; they end up as map keys and log fields.
func (id DeviceID) Validate() error {
	if len(id) == 0 {
		return ErrDeviceIDEmpty
	}
	if len(id) > MaxDeviceIDLen {
		return ErrDeviceIDTooLong
	}
	return nil
}

// Capabilities is a set of feature flags such as hasCamera or hasMotion.
type Capabilities map[string]bool

// Covers reports whether every flag requested as true is also true here.
// Flags requested as false place no constraint.
func (c Capabilities) Covers(req Capabilities) bool {
	for k, want := range req {
		if want && !c[k] {
			return false
		}
	}
	return true
}

func (c Capabilities) Clone() Capabilities {
	out := make(Capabilities, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

type Location struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

const earthRadiusKm = 6371.0

// DistanceKm is the great-circle (haversine) distance between a and b.
func DistanceKm(a, b Location) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Device is a registered edge-gateway. It outlives any single connection;
// whether it is reachable right now is tracked by the registry.
type Device struct {
	ID           DeviceID     `json:"id"`
	Owner        UserID       `json:"owner"`
	Capabilities Capabilities `json:"capabilities"`
	Location     *Location    `json:"location,omitempty"`
	RegisteredAt time.Time    `json:"registeredAt"`

	// Status and LastSeen come from the gateway's latest device-status report.
	Status   string    `json:"status,omitempty"`
	LastSeen time.Time `json:"lastSeen,omitzero"`
}

// Requirements is what a browser asks for in request-device.
// MaxDistance is in kilometres and only applies when Location is set.
type Requirements struct {
	Capabilities Capabilities `json:"capabilities"`
	Location     *Location    `json:"location,omitempty"`
	MaxDistance  float64      `json:"maxDistance" validate:"gte=0"`
}
