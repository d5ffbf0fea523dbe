package sdk

// DeviceListState is the authoritative in-memory view of the devices
// currently attached to the user. It is mutated only through attach, detach
// and list results plus realtime invalidations, and is rebuilt from the
// server after a restart.
//
// DeviceListState is NOT safe for concurrent use. Exactly one writer context
// is assumed; SessionController serializes every mutation behind its own
// lock. Callers embedding the type directly inherit that contract.
type DeviceListState struct {
	currentDeviceID string
	devices         []DeviceRecord
	effectiveLimit  int
	loading         bool
	detachInFlight  bool

	// seq orders removals against wholesale replaces so a refresh that
	// started before a detach cannot resurrect the removed id.
	seq     uint64
	removed map[string]uint64
}

// DeviceListSnapshot is the read-only copy handed to the presentation layer
type DeviceListSnapshot struct {
	CurrentDeviceID string
	Devices         []DeviceRecord
	EffectiveLimit  int
	Loading         bool
	DetachInFlight  bool
}

func NewDeviceListState() *DeviceListState {
	return &DeviceListState{
		effectiveLimit: FallbackDeviceLimit,
		removed:        make(map[string]uint64),
	}
}

// NextSeq reserves a sequence number. A refresh captures one before issuing
// its request and passes it to Replace on completion.
func (s *DeviceListState) NextSeq() uint64 {
	s.seq++
	return s.seq
}

// Replace atomically swaps the whole device list with the server response.
// Duplicate ids keep their first occurrence, and ids removed after seq was
// reserved are filtered out (the removal wins over the stale refresh).
func (s *DeviceListState) Replace(seq uint64, devices []DeviceRecord) {
	next := make([]DeviceRecord, 0, len(devices))
	seen := make(map[string]bool, len(devices))
	for _, d := range devices {
		if seen[d.ID] {
			continue
		}
		if removedAt, ok := s.removed[d.ID]; ok && removedAt > seq {
			continue
		}
		seen[d.ID] = true
		next = append(next, d)
	}
	// Tombstones older than this replace are settled and can be dropped.
	for id, removedAt := range s.removed {
		if removedAt <= seq {
			delete(s.removed, id)
		}
	}
	s.devices = next
}

// RemoveByID prunes one device after a confirmed detach or a realtime
// invalidation. Idempotent: removing an absent id is a no-op, but the
// tombstone is recorded either way so a stale refresh cannot re-add it.
func (s *DeviceListState) RemoveByID(id string) bool {
	s.removed[id] = s.NextSeq()
	for i, d := range s.devices {
		if d.ID == id {
			s.devices = append(s.devices[:i], s.devices[i+1:]...)
			return true
		}
	}
	return false
}

// Find returns the record with the given id, or nil when absent
func (s *DeviceListState) Find(id string) *DeviceRecord {
	for i := range s.devices {
		if s.devices[i].ID == id {
			rec := s.devices[i]
			return &rec
		}
	}
	return nil
}

// UnderLimit reports whether the device count is at or below the effective
// limit. SessionController uses the transition from above to at-or-below to
// dismiss the blocking dialog; the decision lives here so it cannot drift
// from the list it is about.
func (s *DeviceListState) UnderLimit() bool {
	return len(s.devices) <= s.effectiveLimit
}

func (s *DeviceListState) IsCurrentDevice(id string) bool {
	return id == s.currentDeviceID
}

func (s *DeviceListState) CurrentDeviceID() string      { return s.currentDeviceID }
func (s *DeviceListState) SetCurrentDeviceID(id string) { s.currentDeviceID = id }

func (s *DeviceListState) EffectiveLimit() int { return s.effectiveLimit }
func (s *DeviceListState) SetEffectiveLimit(limit int) {
	if limit > 0 {
		s.effectiveLimit = limit
	}
}

func (s *DeviceListState) Count() int { return len(s.devices) }

func (s *DeviceListState) Loading() bool        { return s.loading }
func (s *DeviceListState) SetLoading(v bool)    { s.loading = v }
func (s *DeviceListState) DetachInFlight() bool { return s.detachInFlight }
func (s *DeviceListState) SetDetachInFlight(v bool) {
	s.detachInFlight = v
}

// Devices returns a copy of the list in server response order
func (s *DeviceListState) Devices() []DeviceRecord {
	out := make([]DeviceRecord, len(s.devices))
	copy(out, s.devices)
	return out
}

// Snapshot captures the full state for the presentation layer
func (s *DeviceListState) Snapshot() DeviceListSnapshot {
	return DeviceListSnapshot{
		CurrentDeviceID: s.currentDeviceID,
		Devices:         s.Devices(),
		EffectiveLimit:  s.effectiveLimit,
		Loading:         s.loading,
		DetachInFlight:  s.detachInFlight,
	}
}
