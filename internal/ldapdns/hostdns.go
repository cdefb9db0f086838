/*
 * Copyright (c) 2024 Tomas Krizek
 */
package ldapdns

import "context"

// HostZoneParams is what CreateZone needs from the registry entry
// that triggered it: enough to stand up a master zone on the host's
// view the way the host's own zone table would if the zone had been
// declared in its static configuration.
type HostZoneParams struct {
	Name        string
	ZoneType    string // "master"
	AllowQuery  []string
	AllowXfr    []string
	DynUpdate   bool
}

// HostDnsZones is the subset of the host DNS server's zone-table API
// this engine drives directly: creating/removing zones on a view and
// getting at their on-disk database for diff application, per spec §6's
// "Host DNS API consumed" list. Kept separate from HostDns (forward.go)
// because a forward-zone entry never needs these methods.
type HostDnsZones interface {
	CreateZone(ctx context.Context, params HostZoneParams) error
	RemoveZone(ctx context.Context, name string) error
	ApplyDiff(ctx context.Context, zone string, diff []Tuple) error
	OpenJournalPath(zone string) (string, error)
}
