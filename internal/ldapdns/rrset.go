/*
 * Copyright (c) 2024 Tomas Krizek
 */
package ldapdns

import (
	"fmt"

	"github.com/miekg/dns"
)

// RRset is the engine's in-memory rdatalist: a homogeneous set of RRs
// sharing (class, type, ttl). Mixing TTLs within one RRset is rejected
// at parse time (see ParseRREntry), matching the invariant in spec §3.
type RRset struct {
	Class uint16
	Type  uint16
	TTL   uint32
	RRs   []dns.RR
}

func NewRRset(rrtype uint16, ttl uint32) RRset {
	return RRset{Class: dns.ClassINET, Type: rrtype, TTL: ttl, RRs: []dns.RR{}}
}

// DiffOp mirrors the source's dns_diffop_t: DEL/ADD tuples applied to a
// zone database. There are no separate SOA ops; the SOA serial
// controller (soa.go) picks SOA tuples out by type (Tuple.IsSOA) when
// it scans for the DEL-then-ADD couple it requires.
type DiffOp uint8

const (
	OpDel DiffOp = iota
	OpAdd
)

// Tuple is one entry of a minimal diff: a single RR with the operation
// to perform on it. Owner/type/ttl/rdata together identify the RR; two
// tuples with the same op/owner/type/ttl/rdata are duplicates.
type Tuple struct {
	Op    DiffOp
	Owner string
	Type  uint16
	TTL   uint32
	RR    dns.RR
}

func (t Tuple) IsSOA() bool { return t.Type == dns.TypeSOA }

func (t Tuple) String() string {
	opname := "ADD"
	if t.Op == OpDel {
		opname = "DEL"
	}
	return fmt.Sprintf("%s %s", opname, t.RR.String())
}

// tupleKey identifies a tuple's (owner, type, ttl, rdata) for
// equality comparisons, independent of Go RR pointer identity and of
// the DEL/ADD operation — two tuples with the same key cancel each
// other out in MinimalDiff regardless of which side they came from.
func tupleKey(t Tuple) string {
	return fmt.Sprintf("%s|%d|%d|%s", t.Owner, t.Type, t.TTL, t.RR.String())
}

// MinimalDiff computes the minimal set of DEL/ADD tuples that transform
// existing into desired at owner. Because existing and desired RRsets
// are built independently (one read from the DB, one parsed fresh from
// LDAP), spec §4.G treats the two sides as disjoint by construction: all
// of existing is deleted and all of desired is added, then any tuple
// that would both delete and add an identical (owner, type, ttl, rdata)
// is cancelled out — this is what keeps the diff minimal when an
// unchanged RR round-trips through LDAP. Matching is done by tupleKey
// in a single pass rather than the naive O(n*m) dns.IsDuplicate scan,
// since a busy zone's apex can carry hundreds of RRs per owner.
func MinimalDiff(owner string, existing, desired []RRset) []Tuple {
	var dels, adds []Tuple

	for _, rs := range existing {
		for _, rr := range rs.RRs {
			dels = append(dels, Tuple{Op: OpDel, Owner: owner, Type: rs.Type, TTL: rs.TTL, RR: rr})
		}
	}
	for _, rs := range desired {
		for _, rr := range rs.RRs {
			adds = append(adds, Tuple{Op: OpAdd, Owner: owner, Type: rs.Type, TTL: rs.TTL, RR: rr})
		}
	}

	pending := make(map[string][]int, len(dels))
	for di, d := range dels {
		k := tupleKey(d)
		pending[k] = append(pending[k], di)
	}

	cancelledDel := make(map[int]bool, len(dels))
	cancelledAdd := make(map[int]bool, len(adds))
	for ai, a := range adds {
		k := tupleKey(a)
		queue := pending[k]
		if len(queue) == 0 {
			continue
		}
		cancelledDel[queue[0]] = true
		cancelledAdd[ai] = true
		pending[k] = queue[1:]
	}

	out := make([]Tuple, 0, len(dels)+len(adds))
	for i, d := range dels {
		if !cancelledDel[i] {
			out = append(out, d)
		}
	}
	for i, a := range adds {
		if !cancelledAdd[i] {
			out = append(out, a)
		}
	}
	return out
}

// HasNonSOA reports whether the diff contains any tuple whose RR type
// is not SOA — used by the SOA serial controller to decide whether
// "real" data changed.
func HasNonSOA(diff []Tuple) bool {
	for _, t := range diff {
		if t.Type != dns.TypeSOA {
			return true
		}
	}
	return false
}
