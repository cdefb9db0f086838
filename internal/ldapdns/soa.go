/*
 * Copyright (c) 2024 Tomas Krizek
 */
package ldapdns

import (
	"fmt"
	"time"

	"github.com/miekg/dns"
)

// bumpUnixTime implements BIND's dns_updatemethod_unixtime: the new
// serial is the larger of (old+1) and the current wall-clock time as a
// 32-bit Unix timestamp, so two bumps in the same second still
// monotonically increase and a restart never walks the serial
// backwards relative to a previous run's wall-clock-derived value.
// Matches zone_soaserial_updatetuple in the original source exactly.
func bumpUnixTime(serial uint32) uint32 {
	now := uint32(time.Now().Unix())
	next := serial + 1
	if seq32GT(now, next) {
		return now
	}
	return next
}

// seq32GT reports whether a is strictly after b under RFC 1982 serial
// number arithmetic (mod 2^32).
func seq32GT(a, b uint32) bool {
	return a != b && (a-b)&0x80000000 == 0
}

// PrependSOABump builds the synthetic (DEL SOA, ADD SOA) tuple pair
// spec §4.H requires whenever a diff touches non-SOA data: it deletes
// the zone's currently-held SOA and re-adds it with serial bumped via
// bumpUnixTime, mirroring zone_soaserial_addtuple's del-then-add
// sequence. currentSOA may be nil on a zone's very first commit, in
// which case the del half is omitted.
func PrependSOABump(zoneName string, currentSOA dns.RR, fallbackSerial uint32) ([]Tuple, dns.RR, error) {
	var old *dns.SOA
	if currentSOA != nil {
		var ok bool
		old, ok = currentSOA.(*dns.SOA)
		if !ok {
			return nil, nil, newErr("PrependSOABump", KindInvariantViolation, fmt.Errorf("stored SOA for %s has wrong type", zoneName))
		}
	}

	var newRR dns.SOA
	if old != nil {
		newRR = *old
	} else {
		newRR = dns.SOA{
			Hdr:     dns.RR_Header{Name: dns.Fqdn(zoneName), Rrtype: dns.TypeSOA, Class: dns.ClassINET, Ttl: DefaultTTL},
			Ns:      dns.Fqdn(zoneName),
			Mbox:    "hostmaster." + dns.Fqdn(zoneName),
			Refresh: 3600,
			Retry:   1800,
			Expire:  604800,
			Minttl:  86400,
		}
		newRR.Serial = fallbackSerial
	}

	baseSerial := newRR.Serial
	newRR.Serial = bumpUnixTime(baseSerial)
	bumped := dns.Copy(&newRR)

	var out []Tuple
	if old != nil {
		out = append(out, Tuple{Op: OpDel, Owner: zoneName, Type: dns.TypeSOA, TTL: old.Hdr.Ttl, RR: dns.Copy(old)})
	}
	out = append(out, Tuple{Op: OpAdd, Owner: zoneName, Type: dns.TypeSOA, TTL: newRR.Hdr.Ttl, RR: bumped})

	return out, bumped, nil
}

// ReconcileSOA is the SOA serial controller spec §4.H describes: it
// decides, for one apply()'s raw diff, whether any data actually
// changed and what the resulting SOA tuples should look like.
//
// It splits diff into the incoming SOA ADD tuple (if any, the "entry
// SOA" LDAP pushed) and rest (every non-SOA tuple). Three cases:
//
//   - rest is empty and no entry SOA was pushed: nothing to do.
//   - rest is empty and an entry SOA was pushed: no real data changed,
//     so the couple is a pure re-sync of the SOA record itself. It is
//     accepted verbatim if the zone has no stored SOA yet or if it
//     moves the serial forward; otherwise
//     it is a rewind and the whole diff is discarded (bumped=false,
//     out=nil) rather than applied.
//   - rest is non-empty: real data changed, so the zone's serial must
//     bump regardless of what LDAP says the SOA is. If the entry
//     itself didn't carry its own SOA, PrependSOABump synthesizes one
//     from the stored SOA. If the entry also carries its own SOA
//     (apex entries can legally hold every other RRset too), that
//     entry SOA is reconciled into the bump instead of being kept as
//     a second ADD, so the apex never ends up with two SOA RRs.
func ReconcileSOA(zoneName string, diff []Tuple, currentSOA dns.RR, currentSerial uint32) (out []Tuple, newSOA dns.RR, bumped bool, err error) {
	var rest []Tuple
	var entrySOA *dns.SOA
	var entrySOATuple Tuple

	for _, t := range diff {
		if t.Type != dns.TypeSOA {
			rest = append(rest, t)
			continue
		}
		if t.Op == OpAdd {
			soa, ok := t.RR.(*dns.SOA)
			if !ok {
				return nil, nil, false, newErr("ReconcileSOA", KindInvariantViolation, fmt.Errorf("ADD SOA tuple for %s has wrong RR type", zoneName))
			}
			entrySOA = soa
			entrySOATuple = t
		}
		// DEL SOA tuples carry no information ReconcileSOA needs: the
		// stored old SOA is already available via currentSOA.
	}

	if len(rest) == 0 {
		if entrySOA == nil {
			return nil, nil, false, nil
		}
		if currentSOA == nil || seq32GT(entrySOA.Serial, currentSerial) {
			return []Tuple{entrySOATuple}, entrySOA, false, nil
		}
		// Rewind refusal: LDAP pushed a SOA whose serial does not move
		// the zone forward and no other data changed, so discard it.
		return nil, nil, false, nil
	}

	if entrySOA == nil {
		bumpDiff, bumpedRR, err := PrependSOABump(zoneName, currentSOA, currentSerial)
		if err != nil {
			return nil, nil, false, err
		}
		return append(bumpDiff, rest...), bumpedRR, true, nil
	}

	// Double-SOA case: the apex entry carries both non-SOA data and its
	// own SOA attributes. Reconcile the two into a single bumped SOA
	// rather than keeping the entry's SOA as a second ADD.
	reconciled := *entrySOA
	reconciled.Serial = bumpUnixTime(currentSerial)
	bumpedRR := dns.Copy(&reconciled)

	var soaOut []Tuple
	if old, ok := currentSOA.(*dns.SOA); ok {
		soaOut = append(soaOut, Tuple{Op: OpDel, Owner: zoneName, Type: dns.TypeSOA, TTL: old.Hdr.Ttl, RR: dns.Copy(old)})
	}
	soaOut = append(soaOut, Tuple{Op: OpAdd, Owner: zoneName, Type: dns.TypeSOA, TTL: reconciled.Hdr.Ttl, RR: bumpedRR})

	return append(soaOut, rest...), bumpedRR, true, nil
}
