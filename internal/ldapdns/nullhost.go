/*
 * Copyright (c) 2024 Tomas Krizek
 */
package ldapdns

import (
	"context"
	"log"
	"net"
)

// logHost is the default HostDnsZones/HostDns implementation: it logs
// every call instead of driving a real view/zone manager. The actual
// DNS server integration is necessarily specific to whatever engine
// hosts this package (spec §6 lists the boundary but leaves the
// implementation to the embedder), so this package ships a
// pluggable interface plus a no-op stand-in good enough to run the
// syncrepl/apply pipeline end to end during development.
type logHost struct{}

// NewLogHost returns a HostDnsZones and HostDns implementation that
// only logs, for use where no real DNS server is wired in yet.
func NewLogHost() *logHost { return &logHost{} }

func (logHost) CreateZone(ctx context.Context, params HostZoneParams) error {
	log.Printf("ldapdns: host: create zone %s (dynupdate=%v)", params.Name, params.DynUpdate)
	return nil
}

func (logHost) RemoveZone(ctx context.Context, name string) error {
	log.Printf("ldapdns: host: remove zone %s", name)
	return nil
}

func (logHost) ApplyDiff(ctx context.Context, zone string, diff []Tuple) error {
	log.Printf("ldapdns: host: apply %d-tuple diff to zone %s", len(diff), zone)
	return nil
}

func (logHost) OpenJournalPath(zone string) (string, error) {
	return "", newErr("logHost.OpenJournalPath", KindDisabled, nil)
}

func (logHost) SetForward(zone string, table ForwardTable) error {
	log.Printf("ldapdns: host: set forward table for %q: policy=%v forwarders=%v", zone, table.Policy, table.Forwarders)
	return nil
}

func (logHost) FlushCache(zone string) error {
	log.Printf("ldapdns: host: flush cache for %q", zone)
	return nil
}

func (logHost) DefaultForwarders() []net.IP {
	return nil
}
