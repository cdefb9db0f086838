/*
 * Copyright (c) 2024 Tomas Krizek
 */
package ldapdns

import (
	"strings"
	"sync"

	"github.com/miekg/dns"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// ZoneInfo is the registry's per-node value: everything the engine
// knows about one registered zone.
type ZoneInfo struct {
	Name     string
	DN       DN
	Settings *Settings
	Task     *zoneTask
	Secure   bool
	dirty    bool
}

// Registry is the RBT-equivalent keyed by absolute DNS name, providing
// exact and longest-suffix lookup. The underlying store is a
// concurrent map (as the host server itself uses for its own zone
// table); the registry layers the longest-suffix walk and the
// read/write discipline spec §4.D and §5 require on top of it, since no
// library in this corpus offers a name-suffix trie.
type Registry struct {
	mu    sync.RWMutex
	zones cmap.ConcurrentMap[string, *ZoneInfo]
}

func NewRegistry() *Registry {
	return &Registry{zones: cmap.New[*ZoneInfo]()}
}

// Add registers a new zone. Returns KindAlreadyExists if name is already
// registered; callers wanting an upsert should Delete first.
func (r *Registry) Add(zi *ZoneInfo) error {
	name := dns.Fqdn(zi.Name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.zones.Get(name); ok {
		return newErr("Registry.Add", KindAlreadyExists, nil)
	}
	zi.Name = name
	r.zones.Set(name, zi)
	return nil
}

// DeleteByName removes a zone. Safe to call during LookupContaining's
// caller-driven restart loop (see IterAll doc), but never while holding
// a snapshot from IterAll as current.
func (r *Registry) DeleteByName(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.zones.Remove(dns.Fqdn(name))
}

func (r *Registry) LookupExact(name string) (*ZoneInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.zones.Get(dns.Fqdn(name))
}

// LookupContaining finds the deepest registered zone that is an
// ancestor-or-equal of name, walking labels the way the host's own
// FindZone does. It returns the zone, the matched zone name, and the
// zone's DN so callers can resolve a record DN without a second lookup.
func (r *Registry) LookupContaining(name string) (zi *ZoneInfo, matched string, dn DN, ok bool) {
	name = dns.Fqdn(name)
	r.mu.RLock()
	defer r.mu.RUnlock()

	labels := dns.SplitDomainName(name)
	for i := 0; i <= len(labels); i++ {
		var candidate string
		if i == len(labels) {
			candidate = "."
		} else {
			candidate = dns.Fqdn(strings.Join(labels[i:], "."))
		}
		if z, found := r.zones.Get(candidate); found {
			return z, candidate, z.DN, true
		}
	}
	return nil, "", nil, false
}

// IterAll takes a read lock and returns a point-in-time slice of every
// registered zone. Per spec §4.D, delete-during-iteration is forbidden:
// callers that mutate the registry while walking this snapshot must
// re-seek (call IterAll again) after every Add/DeleteByName rather than
// continuing to index into the old slice.
func (r *Registry) IterAll() []*ZoneInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := r.zones.Items()
	out := make([]*ZoneInfo, 0, len(items))
	for _, zi := range items {
		out = append(out, zi)
	}
	return out
}

func (r *Registry) Len() int {
	return r.zones.Count()
}
