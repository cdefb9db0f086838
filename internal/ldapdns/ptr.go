/*
 * Copyright (c) 2024 Tomas Krizek
 */
package ldapdns

import (
	"fmt"
	"net"

	"github.com/miekg/dns"
)

// ptrOwnerName computes the in-addr.arpa / ip6.arpa owner name for ip,
// matching ldap_sync_ptr's address-family split in the source: dotted
// reversed octets for IPv4, reversed nibbles for IPv6.
func ptrOwnerName(ip net.IP) (string, error) {
	if v4 := ip.To4(); v4 != nil {
		return fmt.Sprintf("%d.%d.%d.%d.in-addr.arpa.", v4[3], v4[2], v4[1], v4[0]), nil
	}
	v6 := ip.To16()
	if v6 == nil {
		return "", newErr("ptrOwnerName", KindBadOwnerName, fmt.Errorf("not a valid IP address"))
	}
	const hex = "0123456789abcdef"
	buf := make([]byte, 0, 32*2+len("ip6.arpa."))
	for i := len(v6) - 1; i >= 0; i-- {
		lo := v6[i] & 0x0f
		hi := v6[i] >> 4
		buf = append(buf, hex[lo], '.', hex[hi], '.')
	}
	buf = append(buf, []byte("ip6.arpa.")...)
	return string(buf), nil
}

// ptrTuplesLocked synthesizes the PTR-side tuples that mirror every
// A/AAAA tuple in diff, per spec §4.I's decision table, grouped by the
// reverse zone each tuple belongs to (a single diff can touch more
// than one reverse zone). Must be called with fwdTask.mu held, since
// it reads the reverse zone's zoneTask state via the registry; if the
// reverse zone happens to be fwdTask itself, the reverse zone's data
// is read directly rather than re-locking fwdTask.mu, which is not
// reentrant.
//
// Every row of the decision table that spec §4.I marks as a failure
// aborts the whole call and returns that failure rather than being
// dropped: a missing or dyn_update=false reverse zone fails the
// forward write itself with KindNoPerm, a DEL against a single
// non-matching PTR is KindUnexpectedToken, an ADD against a single
// non-matching PTR is KindSingleton, and more than one existing PTR
// at the target name is KindNotImplemented either way.
func (inst *Instance) ptrTuplesLocked(fwdTask *zoneTask, diff []Tuple) (map[string][]Tuple, error) {
	out := map[string][]Tuple{}
	for _, tup := range diff {
		if tup.Type != dns.TypeA && tup.Type != dns.TypeAAAA {
			continue
		}
		ip := extractIP(tup.RR)
		if ip == nil {
			continue
		}
		ptrName, err := ptrOwnerName(ip)
		if err != nil {
			continue
		}

		revZone, matched, _, ok := inst.Registry.LookupContaining(ptrName)
		if !ok {
			return nil, newErr("ptrTuplesLocked", KindNoPerm, fmt.Errorf("no reverse zone registered for %s", ptrName))
		}
		cascade := inst.cascadeFor(matched)
		if !cascade.DynUpdate() {
			return nil, newErr("ptrTuplesLocked", KindNoPerm, fmt.Errorf("reverse zone %s does not allow dynamic updates", matched))
		}

		revTask := revZone.Task
		if revTask == nil {
			return nil, newErr("ptrTuplesLocked", KindNoPerm, fmt.Errorf("reverse zone %s has no running task", matched))
		}

		ptrTarget := dns.Fqdn(tup.Owner)
		var existing []RRset
		if revTask == fwdTask {
			existing = revTask.existingLocked(ptrName)
		} else {
			revTask.mu.Lock()
			existing = revTask.existingLocked(ptrName)
			revTask.mu.Unlock()
		}

		var existingPTRs []dns.RR
		for _, rs := range existing {
			if rs.Type == dns.TypePTR {
				existingPTRs = rs.RRs
			}
		}

		switch tup.Op {
		case OpDel:
			switch len(existingPTRs) {
			case 0:
			case 1:
				if !ptrMatches(existingPTRs[0], ptrTarget) {
					return nil, newErr("ptrTuplesLocked", KindUnexpectedToken, fmt.Errorf("PTR at %s does not point at %s", ptrName, ptrTarget))
				}
				out[matched] = append(out[matched], Tuple{Op: OpDel, Owner: ptrName, Type: dns.TypePTR, TTL: tup.TTL, RR: dns.Copy(existingPTRs[0])})
			default:
				return nil, newErr("ptrTuplesLocked", KindNotImplemented, fmt.Errorf("PTR at %s has more than one existing record", ptrName))
			}
		case OpAdd:
			switch len(existingPTRs) {
			case 0:
				rr, err := dns.NewRR(fmt.Sprintf("%s %d IN PTR %s", ptrName, tup.TTL, ptrTarget))
				if err != nil {
					return nil, newErr("ptrTuplesLocked", KindFailure, err)
				}
				out[matched] = append(out[matched], Tuple{Op: OpAdd, Owner: ptrName, Type: dns.TypePTR, TTL: tup.TTL, RR: rr})
			case 1:
				if !ptrMatches(existingPTRs[0], ptrTarget) {
					return nil, newErr("ptrTuplesLocked", KindSingleton, fmt.Errorf("PTR at %s already points elsewhere", ptrName))
				}
			default:
				return nil, newErr("ptrTuplesLocked", KindNotImplemented, fmt.Errorf("PTR at %s has more than one existing record", ptrName))
			}
		}
	}
	return out, nil
}

func extractIP(rr dns.RR) net.IP {
	switch v := rr.(type) {
	case *dns.A:
		return v.A
	case *dns.AAAA:
		return v.AAAA
	default:
		return nil
	}
}

func ptrMatches(rr dns.RR, target string) bool {
	ptr, ok := rr.(*dns.PTR)
	if !ok {
		return false
	}
	return dns.Fqdn(ptr.Ptr) == target
}
