/*
 * Copyright (c) 2024 Tomas Krizek
 */
package ldapdns

import (
	"context"
	"fmt"
	"sync"
)

// Instance is the top-level object wiring together one configured
// LDAP backend: its connection pool, zone registry, sync barrier,
// journal, and per-zone cascades. One Instance corresponds to one
// `dyndb "name" "driver" { ... }` block in the original source; this
// engine expects exactly one per process (see spec's Non-goals on
// multi-instance support), but nothing below enforces that as a
// process-wide singleton so tests can construct several.
type Instance struct {
	Name     string
	Registry *Registry
	Pool     *Pool
	Barrier  *Barrier
	Journal  *Journal
	Shared   *Shared
	HostDNS  HostDnsZones
	Host     HostDns
	Path     PathPolicy

	globalCascade *Cascade

	mu       sync.RWMutex
	cascades map[string]*Cascade // zone name -> per-zone cascade (Zone layer populated, rest shared)
}

// NewInstance builds an Instance from already-resolved global
// settings. The returned Instance owns no background goroutines yet:
// RegisterZone starts each zone's task, and the caller runs the
// syncrepl watcher (SyncSession) itself.
func NewInstance(name string, global *Cascade, auth AuthProvider, journal *Journal, host HostDnsZones, hostFwd HostDns, path PathPolicy) *Instance {
	shared := &Shared{}
	inst := &Instance{
		Name:          name,
		Registry:      NewRegistry(),
		Barrier:       NewBarrier(int(global.Connections())),
		Journal:       journal,
		Shared:        shared,
		HostDNS:       host,
		Host:          hostFwd,
		Path:          path,
		globalCascade: global,
		cascades:      map[string]*Cascade{},
	}
	inst.Pool = NewPool(global, auth, shared)
	return inst
}

// cascadeFor returns the per-zone settings cascade for zone, creating
// one on first use. Local and Default layers are shared across every
// zone (they come from the top-level config file and this package's
// built-in defaults respectively); only the Zone layer differs. It
// starts empty and is filled only by SetZoneSettings from the config
// file's zones section; attributes of the zone's own
// idnsZone/idnsForwardZone entry are not read into it. This
// is the resolution promised in spec §4.E: per-zone overrides cascade
// down to the global config and finally to hardcoded defaults.
func (inst *Instance) cascadeFor(zone string) *Cascade {
	inst.mu.RLock()
	c, ok := inst.cascades[zone]
	inst.mu.RUnlock()
	if ok {
		return c
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	if c, ok := inst.cascades[zone]; ok {
		return c
	}
	c = &Cascade{
		Local:   inst.globalCascade.Local,
		Global:  inst.globalCascade.Global,
		Zone:    NewSettings(),
		Default: inst.globalCascade.Default,
	}
	inst.cascades[zone] = c
	return c
}

// SetZoneSettings replaces the Zone layer of zone's cascade. The
// daemon calls it at startup for each entry of the config file's zones
// section.
func (inst *Instance) SetZoneSettings(zone string, s *Settings) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	c, ok := inst.cascades[zone]
	if !ok {
		c = &Cascade{Local: inst.globalCascade.Local, Global: inst.globalCascade.Global, Default: inst.globalCascade.Default}
		inst.cascades[zone] = c
	}
	c.Zone = s
}

// RegisterZone adds zone to the registry and starts its task,
// registering the task with the sync barrier so the initial refresh
// tracks it.
func (inst *Instance) RegisterZone(ctx context.Context, name string, zoneDN DN, secure bool) (*ZoneInfo, error) {
	task := newZoneTask(name, zoneDN, inst)
	zi := &ZoneInfo{Name: name, DN: zoneDN, Settings: inst.cascadeFor(name).Zone, Task: task, Secure: secure}
	if err := inst.Registry.Add(zi); err != nil {
		return nil, err
	}
	task.Start(ctx)
	inst.Barrier.Register(task)
	return zi, nil
}

// Dispatch routes one parsed Entry to the owning zone's task, or
// returns KindNotFound if no registered zone contains it.
func (inst *Instance) Dispatch(name string, kind EventKind, e *Entry) error {
	zi, matched, _, ok := inst.Registry.LookupContaining(name)
	if !ok {
		return newErr("Instance.Dispatch", KindNotFound, fmt.Errorf("no registered zone contains %q", name))
	}
	zi.Task.Enqueue(UpdateEvent{Kind: kind, Owner: name, Entry: e})
	_ = matched
	return nil
}

// BroadcastDrain enqueues a drain marker on every registered zone's
// task queue. The syncrepl watcher calls this when the server reports
// the initial refresh as complete, just before blocking on
// Barrier.Wait: since each task's queue is FIFO, a task only reports
// itself drained once every event queued ahead of the marker —
// i.e. everything from the initial refresh — has actually run.
func (inst *Instance) BroadcastDrain() {
	for _, zi := range inst.Registry.IterAll() {
		zi.Task.Enqueue(UpdateEvent{Kind: EventDrain})
	}
}

// Shutdown marks the instance as exiting, stops every registered
// zone's task and closes the journal. The syncrepl watcher does not
// read the exiting flag; it stops when its context is cancelled.
func (inst *Instance) Shutdown() {
	inst.Shared.SetExiting()
	for _, zi := range inst.Registry.IterAll() {
		zi.Task.Stop()
	}
	if inst.Journal != nil {
		inst.Journal.Close()
	}
}
