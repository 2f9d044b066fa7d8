package cache

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/darshan-rambhia/eldesmon/internal/model"
)

// StageIdle is reported for a credential with no pass in flight.
const StageIdle = "idle"

type runStage struct {
	runID string
	stage string
}

// DeviceEntry is the last status fetched for one stored device.
type DeviceEntry struct {
	CredentialID int64
	Status       model.DeviceStatus
}

// Cache is a thread-safe in-memory view of the latest sync state.
type Cache struct {
	mu sync.RWMutex

	Passes           map[int64]*model.SyncPass // last finished pass per credential
	LastSuccess      map[int64]time.Time       // last ok or demo pass per credential
	RateLimitedSince map[int64]time.Time       // start of the current rate-limited streak
	Stages           map[int64]string          // current pass stage per credential
	Logins           map[int64]string
	Devices          map[int64]*DeviceEntry // keyed by device row id

	// passes in flight per credential, oldest first
	running map[int64][]runStage
}

// CacheSnapshot is a read-only deep copy of the cache state.
type CacheSnapshot struct {
	Passes           map[int64]*model.SyncPass
	LastSuccess      map[int64]time.Time
	RateLimitedSince map[int64]time.Time
	Stages           map[int64]string
	Logins           map[int64]string
	Devices          map[int64]*DeviceEntry
}

// New returns an initialized Cache.
func New() *Cache {
	return &Cache{
		Passes:           make(map[int64]*model.SyncPass),
		LastSuccess:      make(map[int64]time.Time),
		RateLimitedSince: make(map[int64]time.Time),
		Stages:           make(map[int64]string),
		Logins:           make(map[int64]string),
		Devices:          make(map[int64]*DeviceEntry),
		running:          make(map[int64][]runStage),
	}
}

// Snapshot returns a deep copy of the cache contents.
func (c *Cache) Snapshot() CacheSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := CacheSnapshot{
		Passes:           make(map[int64]*model.SyncPass, len(c.Passes)),
		LastSuccess:      make(map[int64]time.Time, len(c.LastSuccess)),
		RateLimitedSince: make(map[int64]time.Time, len(c.RateLimitedSince)),
		Stages:           make(map[int64]string, len(c.Stages)),
		Logins:           make(map[int64]string, len(c.Logins)),
		Devices:          make(map[int64]*DeviceEntry, len(c.Devices)),
	}

	for id, p := range c.Passes {
		cp := *p
		snap.Passes[id] = &cp
	}
	for id, d := range c.Devices {
		cp := *d
		cp.Status = copyStatus(d.Status)
		snap.Devices[id] = &cp
	}
	maps.Copy(snap.LastSuccess, c.LastSuccess)
	maps.Copy(snap.RateLimitedSince, c.RateLimitedSince)
	maps.Copy(snap.Stages, c.Stages)
	maps.Copy(snap.Logins, c.Logins)

	return snap
}

func copyStatus(s model.DeviceStatus) model.DeviceStatus {
	cp := s
	cp.Partitions = append([]model.Partition(nil), s.Partitions...)
	cp.TemperatureDetails = append([]model.TemperatureSensor(nil), s.TemperatureDetails...)
	cp.Zones = append([]model.Zone(nil), s.Zones...)
	if s.Temperature != nil {
		t := *s.Temperature
		cp.Temperature = &t
	}
	if s.DeviceInfo != nil {
		info := *s.DeviceInfo
		cp.DeviceInfo = &info
	}
	// RawData is never mutated after a status is built.
	return cp
}

// RecordPass stores the result of a finished pass for its credential.
func (c *Cache) RecordPass(login string, p model.SyncPass) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := p.CredentialID
	c.Passes[id] = &p
	if login != "" {
		c.Logins[id] = login
	}
	switch p.Outcome {
	case model.OutcomeOK, model.OutcomeDemo:
		c.LastSuccess[id] = p.FinishedAt
		delete(c.RateLimitedSince, id)
	case model.OutcomeRateLimited:
		if _, ok := c.RateLimitedSince[id]; !ok {
			c.RateLimitedSince[id] = p.FinishedAt
		}
	default:
		delete(c.RateLimitedSince, id)
	}
}

// SetStage records the stage of one running pass. Passes for the same
// credential may overlap; Stages shows the newest one still running.
func (c *Cache) SetStage(credentialID int64, runID, stage string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	runs := c.running[credentialID]
	found := false
	for i := range runs {
		if runs[i].runID == runID {
			runs[i].stage = stage
			found = true
			break
		}
	}
	if !found {
		runs = append(runs, runStage{runID: runID, stage: stage})
	}
	c.running[credentialID] = runs
	c.Stages[credentialID] = runs[len(runs)-1].stage
}

// EndStage forgets a finished pass. The credential only goes back to idle
// once no other pass for it is running.
func (c *Cache) EndStage(credentialID int64, runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	runs := slices.DeleteFunc(c.running[credentialID], func(r runStage) bool { return r.runID == runID })
	if len(runs) == 0 {
		delete(c.running, credentialID)
		c.Stages[credentialID] = StageIdle
		return
	}
	c.running[credentialID] = runs
	c.Stages[credentialID] = runs[len(runs)-1].stage
}

// UpdateDevice stores the latest status of a device row.
func (c *Cache) UpdateDevice(deviceID, credentialID int64, status model.DeviceStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Devices[deviceID] = &DeviceEntry{CredentialID: credentialID, Status: copyStatus(status)}
}

// Device returns a copy of the cached status of one device row.
func (c *Cache) Device(deviceID int64) (DeviceEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.Devices[deviceID]
	if !ok {
		return DeviceEntry{}, false
	}
	return DeviceEntry{CredentialID: d.CredentialID, Status: copyStatus(d.Status)}, true
}

// RemoveCredential forgets everything cached for a credential.
func (c *Cache) RemoveCredential(credentialID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.Passes, credentialID)
	delete(c.LastSuccess, credentialID)
	delete(c.RateLimitedSince, credentialID)
	delete(c.Stages, credentialID)
	delete(c.running, credentialID)
	delete(c.Logins, credentialID)
	for id, d := range c.Devices {
		if d.CredentialID == credentialID {
			delete(c.Devices, id)
		}
	}
}
