/*
 * Copyright (c) 2024 Tomas Krizek
 */
package ldapdns

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/miekg/dns"
)

// EventKind classifies one LDAP change notification as handed to a
// zoneTask by the syncrepl watcher.
type EventKind uint8

const (
	EventAdd EventKind = iota
	EventModify
	EventDelete
	EventDrain // marker: "everything queued before refreshDone has now run"
)

// UpdateEvent is one unit of work on a zoneTask's queue: a single LDAP
// entry that changed, already parsed into an Entry by the caller.
type UpdateEvent struct {
	Kind  EventKind
	Owner string
	Entry *Entry
}

// zoneTask is the per-zone single-consumer queue spec §5 requires:
// one goroutine drains a zone's queue, so two LDAP notifications for
// the same zone can never race each other into the store or the
// journal out of order. Every access to the in-memory RRset table
// holds mu; besides the zone's own goroutine, another zone's task
// takes mu to commit mirrored PTR tuples into this table. Modeled on the
// host server's own single-goroutine-drains-a-channel zone updater
// loop, generalized from one shared queue to one queue per zone so a
// slow zone never head-of-line blocks every other zone's updates.
type zoneTask struct {
	name   string
	zoneDN DN

	queue chan UpdateEvent
	quit  chan struct{}
	done  chan struct{}

	mu     sync.Mutex
	data   map[string]map[uint16]RRset // owner -> type -> RRset
	serial uint32

	inst *Instance
}

func newZoneTask(name string, zoneDN DN, inst *Instance) *zoneTask {
	return &zoneTask{
		name:   name,
		zoneDN: zoneDN,
		queue:  make(chan UpdateEvent, 256),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		data:   map[string]map[uint16]RRset{},
		inst:   inst,
	}
}

// Start launches the task's consumer goroutine. It returns immediately;
// the goroutine runs until ctx is cancelled or Stop is called.
func (t *zoneTask) Start(ctx context.Context) {
	go t.run(ctx)
}

func (t *zoneTask) Stop() {
	close(t.quit)
	<-t.done
}

// Enqueue hands one event to the task's queue. Blocks if the queue is
// full, which is the desired back-pressure: a zone that cannot keep up
// slows down the syncrepl watcher feeding it rather than growing an
// unbounded buffer.
func (t *zoneTask) Enqueue(ev UpdateEvent) {
	t.queue <- ev
}

func (t *zoneTask) run(ctx context.Context) {
	defer close(t.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.quit:
			return
		case ev := <-t.queue:
			if ev.Kind == EventDrain {
				if t.inst != nil && t.inst.Barrier != nil {
					t.inst.Barrier.MarkDrained(t)
				}
				continue
			}
			if err := t.apply(ev); err != nil {
				log.Printf("ldapdns: zone %s: applying update for %s: %v", t.name, ev.Owner, err)
			}
		}
	}
}

// existingLocked snapshots the RRsets currently stored for owner. Must
// be called with t.mu held.
func (t *zoneTask) existingLocked(owner string) []RRset {
	byType, ok := t.data[owner]
	if !ok {
		return nil
	}
	out := make([]RRset, 0, len(byType))
	for _, rs := range byType {
		out = append(out, rs)
	}
	return out
}

// apply is the change applier described in spec §4.G: it diffs the
// entry's desired RRsets against what the task currently holds for
// that owner, runs the result through the SOA serial controller and
// the PTR mirror, commits to the in-memory store, writes the
// controller's own synthesized changes (the SOA bump, the PTR mirror)
// back to LDAP, and pushes to the host DNS server and the journal.
//
// A PTR mirroring failure aborts the whole call before anything is
// committed, so a forward write that would desync the reverse zone
// never takes effect — matching spec §4.I's "fail the forward write"
// requirement.
func (t *zoneTask) apply(ev UpdateEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cascade := t.inst.cascadeFor(t.name)

	var desired []RRset
	var err error
	if ev.Kind != EventDelete {
		desired, err = ParseRREntry(ev.Entry, ev.Owner, t.name, cascade.FakeMname())
		if err != nil {
			return fmt.Errorf("parsing entry %s: %w", ev.Owner, err)
		}
	}

	existing := t.existingLocked(ev.Owner)
	diff := MinimalDiff(ev.Owner, existing, desired)
	if len(diff) == 0 {
		return nil
	}

	soaRR, _ := t.soaRRLocked()
	diff, newSOA, bumped, err := ReconcileSOA(t.name, diff, soaRR, t.serial)
	if err != nil {
		return fmt.Errorf("reconciling SOA for zone %s: %w", t.name, err)
	}
	if len(diff) == 0 {
		// Rewind refusal, or a pure no-op diff that cancelled itself out.
		return nil
	}

	var ptrByZone map[string][]Tuple
	if cascade.SyncPTR() {
		ptrByZone, err = t.inst.ptrTuplesLocked(t, diff)
		if err != nil {
			return fmt.Errorf("mirroring PTR for zone %s: %w", t.name, err)
		}
	}

	// t.serial only advances once every precondition for actually
	// committing diff has been met, so a failed PTR mirror never
	// leaves the in-memory serial ahead of what was actually stored.
	if soaRec, ok := newSOA.(*dns.SOA); ok {
		t.serial = soaRec.Serial
	}

	t.commitLocked(diff)

	if bumped && t.inst != nil && t.inst.Barrier != nil && t.inst.Barrier.Finished() {
		if soaRec, ok := newSOA.(*dns.SOA); ok && t.inst.Pool != nil {
			if err := t.inst.writeBackSOA(context.Background(), t.zoneDN, soaRec); err != nil {
				log.Printf("ldapdns: zone %s: writing back SOA: %v", t.name, err)
			}
		}
	}

	if t.inst != nil && t.inst.HostDNS != nil {
		if err := t.inst.HostDNS.ApplyDiff(context.Background(), t.name, diff); err != nil {
			log.Printf("ldapdns: zone %s: pushing diff to host DNS: %v", t.name, err)
		}
	}

	for zoneName, tuples := range ptrByZone {
		if len(tuples) == 0 {
			continue
		}
		zi, ok := t.inst.Registry.LookupExact(zoneName)
		if !ok || zi.Task == nil {
			continue
		}

		if zi.Task == t {
			t.commitLocked(tuples)
		} else {
			zi.Task.mu.Lock()
			zi.Task.commitLocked(tuples)
			zi.Task.mu.Unlock()
		}

		if t.inst.Pool != nil {
			if err := t.inst.writeBackPTR(context.Background(), zi.DN, zoneName, tuples); err != nil {
				log.Printf("ldapdns: zone %s: writing back PTR mirror for %s: %v", t.name, zoneName, err)
			}
		}

		if t.inst.HostDNS != nil {
			if err := t.inst.HostDNS.ApplyDiff(context.Background(), zoneName, tuples); err != nil {
				log.Printf("ldapdns: zone %s: pushing PTR diff to host DNS for %s: %v", t.name, zoneName, err)
			}
		}

		if t.inst.Journal != nil && t.inst.Barrier.Finished() {
			if err := t.inst.Journal.Append(zoneName, tuples); err != nil {
				log.Printf("ldapdns: zone %s: journal append for PTR zone %s failed: %v", t.name, zoneName, err)
			}
		}
	}

	if t.inst != nil && t.inst.Journal != nil && t.inst.Barrier.Finished() {
		if err := t.inst.Journal.Append(t.name, diff); err != nil {
			log.Printf("ldapdns: zone %s: journal append failed: %v", t.name, err)
		}
	}

	return nil
}

// writeBackSOA pushes a freshly-bumped SOA to LDAP via the record
// writer (component M in spec §4.M), acquiring a connection from the
// pool rather than the syncrepl watcher's reserved slot.
func (inst *Instance) writeBackSOA(ctx context.Context, zoneDN DN, soa *dns.SOA) error {
	conn, err := inst.Pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer inst.Pool.Release(conn)

	w := NewWriter(conn.Client())
	return w.ModifySOA(ctx, zoneDN.String(), soa.Serial, soa.Refresh, soa.Retry, soa.Expire, soa.Minttl)
}

// writeBackPTR pushes the synthesized PTR mirror tuples to the
// reverse zone in LDAP, one Writer.Modify call per owner name (tuples
// sharing an owner are grouped into a single rdatalist-style modify,
// matching TuplesToMods).
func (inst *Instance) writeBackPTR(ctx context.Context, revZoneDN DN, revZoneName string, tuples []Tuple) error {
	byOwner := map[string][]Tuple{}
	var order []string
	for _, t := range tuples {
		if _, ok := byOwner[t.Owner]; !ok {
			order = append(order, t.Owner)
		}
		byOwner[t.Owner] = append(byOwner[t.Owner], t)
	}

	for _, owner := range order {
		dn, err := NameToDN(owner, revZoneName, revZoneDN)
		if err != nil {
			return err
		}
		mods, err := TuplesToMods(byOwner[owner])
		if err != nil {
			return err
		}

		conn, err := inst.Pool.Acquire(ctx)
		if err != nil {
			return err
		}
		w := NewWriter(conn.Client())
		err = w.Modify(ctx, dn.String(), mods)
		inst.Pool.Release(conn)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *zoneTask) soaRRLocked() (dns.RR, bool) {
	byType, ok := t.data[t.name]
	if !ok {
		return nil, false
	}
	rs, ok := byType[dns.TypeSOA]
	if !ok || len(rs.RRs) == 0 {
		return nil, false
	}
	return rs.RRs[0], true
}

// commitLocked applies a tuple list to the in-memory store. Must be
// called with t.mu held.
func (t *zoneTask) commitLocked(diff []Tuple) {
	for _, tup := range diff {
		byType, ok := t.data[tup.Owner]
		if !ok {
			byType = map[uint16]RRset{}
			t.data[tup.Owner] = byType
		}
		rs, ok := byType[tup.Type]
		if !ok {
			rs = NewRRset(tup.Type, tup.TTL)
		}
		switch tup.Op {
		case OpAdd:
			rs.RRs = append(rs.RRs, tup.RR)
		case OpDel:
			rs.RRs = removeRR(rs.RRs, tup.RR)
		}
		if len(rs.RRs) == 0 {
			delete(byType, tup.Type)
			if len(byType) == 0 {
				delete(t.data, tup.Owner)
			}
			continue
		}
		byType[tup.Type] = rs
	}
}

func removeRR(rrs []dns.RR, target dns.RR) []dns.RR {
	out := rrs[:0]
	for _, rr := range rrs {
		if !dns.IsDuplicate(rr, target) {
			out = append(out, rr)
		}
	}
	return out
}
