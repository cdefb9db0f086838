/*
 * Copyright (c) 2024 Tomas Krizek
 */
package ldapdns

import (
	"context"
	"log"
)

// Dispatcher wires a SyncSession's raw entry callbacks to the
// handlers spec §4.K names: update_config for the root entry,
// update_zone for idnsZone/idnsForwardZone entries, update_record for
// everything else. It is the glue between the syncrepl watcher and
// the rest of the package; none of the three handlers blocks on LDAP
// I/O themselves, since applying a change only ever touches the
// in-memory zone task and (indirectly) the host DNS server.
type Dispatcher struct {
	inst *Instance
	base string
}

func NewDispatcher(inst *Instance, base string) *Dispatcher {
	return &Dispatcher{inst: inst, base: base}
}

// HandleEvent is the callback passed to SyncSession.Run.
func (d *Dispatcher) HandleEvent(ctx context.Context, ev SyncEvent) {
	if ev.RefreshDone {
		d.inst.BroadcastDrain()
		return
	}
	if ev.Entry == nil {
		return
	}

	entry, err := ParseEntry(ev.Entry)
	if err != nil {
		log.Printf("ldapdns: dispatch: parsing entry %s: %v", ev.Entry.DN, err)
		return
	}

	switch {
	case entry.DN.String() == d.base:
		d.updateConfig(entry)
	case entry.Classes.Has(ClassMaster) || entry.Classes.Has(ClassForward):
		d.updateZone(ctx, entry)
	default:
		d.updateRecord(entry)
	}
}

// updateConfig applies the root idnsConfigObject entry: forwarder
// policy plus the allow-dynupdate/allow-syncptr defaults that seed
// the Global cascade layer.
func (d *Dispatcher) updateConfig(entry *Entry) {
	g := d.inst.globalCascade.Global
	if vals, ok := entry.Attrs["idnsAllowSyncPTR"]; ok && len(vals) > 0 {
		g.SetSyncPTR(vals[0] == "TRUE")
	}
	if vals, ok := entry.Attrs["idnsAllowDynUpdate"]; ok && len(vals) > 0 {
		g.SetDynUpdate(vals[0] == "TRUE")
	}

	if d.inst.Host != nil {
		current := ForwardTable{}
		if _, err := ConfigureForward(d.inst.Host, "", current, entry.Attrs["idnsForwardPolicy"], entry.Attrs["idnsForwarders"], true); err != nil && !IsKind(err, KindDisabled) {
			log.Printf("ldapdns: dispatch: update_config forward table: %v", err)
		}
	}
}

// updateZone registers or refreshes a zone entry: determines its
// fully-qualified name from the DN and registers it with the instance
// if it isn't already known. The entry's settings attributes are not
// read into the zone's Zone settings layer.
func (d *Dispatcher) updateZone(ctx context.Context, entry *Entry) {
	owner, zone, err := DNToName(entry.DN)
	if err != nil {
		log.Printf("ldapdns: dispatch: update_zone: %v", err)
		return
	}
	if owner != zone {
		log.Printf("ldapdns: dispatch: update_zone: entry %s is not a zone apex", entry.DN)
		return
	}

	active := true
	if vals, ok := entry.Attrs["idnsZoneActive"]; ok && len(vals) > 0 {
		active = vals[0] == "TRUE"
	}
	if !active {
		if zi, ok := d.inst.Registry.LookupExact(zone); ok && zi.Task != nil {
			zi.Task.Stop()
		}
		d.inst.Registry.DeleteByName(zone)
		return
	}

	if _, ok := d.inst.Registry.LookupExact(zone); !ok {
		if _, err := d.inst.RegisterZone(ctx, zone, entry.DN, entry.Classes.Has(ClassMaster)); err != nil {
			log.Printf("ldapdns: dispatch: registering zone %s: %v", zone, err)
			return
		}
	}

	if vals, ok := entry.Attrs["idnsForwardPolicy"]; ok && entry.Classes.Has(ClassForward) {
		if d.inst.Host != nil {
			if _, err := ConfigureForward(d.inst.Host, zone, ForwardTable{}, vals, entry.Attrs["idnsForwarders"], false); err != nil && !IsKind(err, KindDisabled) {
				log.Printf("ldapdns: dispatch: update_zone forward table for %s: %v", zone, err)
			}
		}
		return
	}

	if err := d.inst.Dispatch(zone, EventModify, entry); err != nil {
		log.Printf("ldapdns: dispatch: update_zone %s: %v", zone, err)
	}
}

// updateRecord routes an idnsRecord entry to its owning zone's task.
func (d *Dispatcher) updateRecord(entry *Entry) {
	owner, zone, err := DNToName(entry.DN)
	if err != nil {
		log.Printf("ldapdns: dispatch: update_record: %v", err)
		return
	}
	if err := d.inst.Dispatch(owner, EventModify, entry); err != nil {
		log.Printf("ldapdns: dispatch: update_record %s (zone %s): %v", owner, zone, err)
	}
}
