package app

import (
	"math"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/signalrelay/internal/core"
	"github.com/dkeye/signalrelay/internal/domain"
)

type deviceEntry struct {
	device domain.Device
	seq    uint64
	claim  *Connection
}

// Registry owns device records and their live claimants. It never closes
// connections itself; callers act on what Claim and Unregister return.
type Registry struct {
	mu      sync.RWMutex
	devices map[domain.DeviceID]*deviceEntry
	seq     uint64
	clock   clock.Clock
}

func NewRegistry(clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{
		devices: make(map[domain.DeviceID]*deviceEntry),
		clock:   clk,
	}
}

// RegisterDevice upserts a record. Re-registration replaces capabilities and
// location but keeps the claim and the registration order.
func (r *Registry) RegisterDevice(owner domain.UserID, id domain.DeviceID, caps domain.Capabilities, loc *domain.Location) (domain.Device, error) {
	if err := id.Validate(); err != nil {
		return domain.Device{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.devices[id]
	if ok {
		if e.device.Owner != owner {
			return domain.Device{}, ErrPermissionDenied
		}
		e.device.Capabilities = caps.Clone()
		e.device.Location = copyLocation(loc)
		log.Info().Str("module", "app.registry").Str("device", string(id)).Msg("updated device")
		return snapshot(e.device), nil
	}
	r.seq++
	e = &deviceEntry{
		device: domain.Device{
			ID:           id,
			Owner:        owner,
			Capabilities: caps.Clone(),
			Location:     copyLocation(loc),
			RegisteredAt: r.clock.Now(),
		},
		seq: r.seq,
	}
	r.devices[id] = e
	log.Info().Str("module", "app.registry").Str("device", string(id)).Str("owner", string(owner)).Msg("registered device")
	return snapshot(e.device), nil
}

// EnsureDevice registers an empty record for owner unless one exists; an
// existing record must belong to owner.
func (r *Registry) EnsureDevice(owner domain.UserID, id domain.DeviceID) (domain.Device, error) {
	r.mu.RLock()
	e, ok := r.devices[id]
	var dev domain.Device
	if ok {
		dev = snapshot(e.device)
	}
	r.mu.RUnlock()
	if !ok {
		return r.RegisterDevice(owner, id, nil, nil)
	}
	if dev.Owner != owner {
		return domain.Device{}, ErrPermissionDenied
	}
	return dev, nil
}

func (r *Registry) Device(id domain.DeviceID) (domain.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.devices[id]
	if !ok {
		return domain.Device{}, false
	}
	return snapshot(e.device), true
}

// DeviceStatus is a device record plus whether it has a live claimant.
type DeviceStatus struct {
	domain.Device
	Reachable bool `json:"reachable"`
}

// DevicesOf lists the records owned by owner in registration order.
func (r *Registry) DevicesOf(owner domain.UserID) []DeviceStatus {
	r.mu.RLock()
	entries := make([]*deviceEntry, 0)
	out := make([]DeviceStatus, 0)
	for _, e := range r.devices {
		if e.device.Owner == owner {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	for _, e := range entries {
		out = append(out, DeviceStatus{Device: snapshot(e.device), Reachable: e.reachable()})
	}
	r.mu.RUnlock()
	return out
}

// Claim binds conn as the live claimant of id. When a different live
// connection holds the claim it is returned unchanged and nothing is bound;
// the caller closes it and claims again. onBind, if set, runs under the
// registry lock once conn holds the claim, before any matchmaker can see it.
func (r *Registry) Claim(id domain.DeviceID, conn *Connection, onBind func()) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.devices[id]
	if !ok {
		return nil, ErrUnknownDevice
	}
	if conn.Closed() {
		return nil, core.ErrClosed
	}
	if e.claim == conn {
		return nil, nil
	}
	if e.claim != nil {
		return e.claim, nil
	}
	e.claim = conn
	if onBind != nil {
		onBind()
	}
	log.Info().Str("module", "app.registry").Str("device", string(id)).Str("conn", string(conn.ID)).Msg("device claimed")
	return nil, nil
}

// UpdateStatus records a status report from the live claimant of id. Nil
// capabilities or location leave the stored ones alone.
func (r *Registry) UpdateStatus(id domain.DeviceID, conn *Connection, status string, caps domain.Capabilities, loc *domain.Location) (domain.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.devices[id]
	if !ok {
		return domain.Device{}, ErrUnknownDevice
	}
	if e.claim != conn {
		return domain.Device{}, ErrPermissionDenied
	}
	e.device.Status = status
	e.device.LastSeen = r.clock.Now()
	if caps != nil {
		e.device.Capabilities = caps.Clone()
	}
	if loc != nil {
		e.device.Location = copyLocation(loc)
	}
	log.Debug().Str("module", "app.registry").Str("device", string(id)).Str("status", status).Msg("device status")
	return snapshot(e.device), nil
}

// Release clears the claim only if conn still holds it.
func (r *Registry) Release(id domain.DeviceID, conn *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.devices[id]
	if !ok || e.claim != conn {
		return false
	}
	e.claim = nil
	log.Info().Str("module", "app.registry").Str("device", string(id)).Str("conn", string(conn.ID)).Msg("device released")
	return true
}

func (r *Registry) Claimant(id domain.DeviceID) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.devices[id]
	if !ok || e.claim == nil {
		return nil, false
	}
	return e.claim, true
}

// Unregister removes a record owned by user and returns its claimant, if any.
func (r *Registry) Unregister(id domain.DeviceID, user domain.UserID) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.devices[id]
	if !ok {
		return nil, ErrUnknownDevice
	}
	if e.device.Owner != user {
		return nil, ErrPermissionDenied
	}
	delete(r.devices, id)
	log.Info().Str("module", "app.registry").Str("device", string(id)).Str("owner", string(user)).Msg("unregistered device")
	return e.claim, nil
}

// Candidate is a reachable device matching a request.
type Candidate struct {
	Device   domain.Device
	Conn     *Connection
	Distance float64
	seq      uint64
}

// FindCandidates returns reachable devices whose capabilities cover req.
// When req has a location and a positive MaxDistance, devices farther away
// or without a location are skipped. Order: nearest first, then earliest
// registered.
func (r *Registry) FindCandidates(req domain.Requirements) []Candidate {
	limit := req.Location != nil && req.MaxDistance > 0

	r.mu.RLock()
	out := make([]Candidate, 0)
	for _, e := range r.devices {
		if !e.reachable() || !e.device.Capabilities.Covers(req.Capabilities) {
			continue
		}
		dist := 0.0
		if req.Location != nil {
			if e.device.Location == nil {
				if limit {
					continue
				}
				dist = math.Inf(1)
			} else {
				dist = domain.DistanceKm(*req.Location, *e.device.Location)
				if limit && dist > req.MaxDistance {
					continue
				}
			}
		}
		out = append(out, Candidate{Device: snapshot(e.device), Conn: e.claim, Distance: dist, seq: e.seq})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// Counts returns the number of records and how many are reachable.
func (r *Registry) Counts() (devices, reachable int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.devices {
		if e.reachable() {
			reachable++
		}
	}
	return len(r.devices), reachable
}

func (e *deviceEntry) reachable() bool {
	return e.claim != nil && !e.claim.Closed()
}

func snapshot(d domain.Device) domain.Device {
	d.Capabilities = d.Capabilities.Clone()
	d.Location = copyLocation(d.Location)
	return d
}

func copyLocation(loc *domain.Location) *domain.Location {
	if loc == nil {
		return nil
	}
	l := *loc
	return &l
}
