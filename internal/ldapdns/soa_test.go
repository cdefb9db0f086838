/*
 * Copyright (c) 2024 Tomas Krizek
 */
package ldapdns

import (
	"testing"
	"time"

	"github.com/miekg/dns"
)

func TestSeq32GT(t *testing.T) {
	if !seq32GT(2, 1) {
		t.Error("seq32GT(2, 1) = false, want true")
	}
	if seq32GT(1, 1) {
		t.Error("seq32GT(1, 1) = true, want false")
	}
	// wraparound: 1 follows 0xFFFFFFFF under serial arithmetic.
	if !seq32GT(1, 0xFFFFFFFF) {
		t.Error("seq32GT(1, 0xFFFFFFFF) = false, want true across wraparound")
	}
}

func TestBumpUnixTimeMonotonic(t *testing.T) {
	old := uint32(1)
	next := bumpUnixTime(old)
	if next != old+1 && !seq32GT(next, old) {
		t.Fatalf("bumpUnixTime(%d) = %d, not greater under serial arithmetic", old, next)
	}
}

func TestBumpUnixTimePrefersWallClockWhenAhead(t *testing.T) {
	now := uint32(time.Now().Unix())
	// A serial far behind wall-clock time should bump to ~now, not old+1.
	old := uint32(1)
	next := bumpUnixTime(old)
	if next < now {
		t.Fatalf("bumpUnixTime(%d) = %d, expected wall-clock-derived value >= %d", old, next, now)
	}
}

func TestBumpUnixTimeNeverGoesBackward(t *testing.T) {
	// A serial already far ahead of wall-clock time (simulating a prior
	// bump) must still advance by exactly one, never regress to "now".
	future := uint32(time.Now().Unix()) + 1_000_000
	next := bumpUnixTime(future)
	if next != future+1 {
		t.Fatalf("bumpUnixTime(%d) = %d, want %d", future, next, future+1)
	}
}

func TestPrependSOABumpFirstCommitOmitsDel(t *testing.T) {
	diff, bumped, err := PrependSOABump("example.com.", nil, 42)
	if err != nil {
		t.Fatalf("PrependSOABump: %v", err)
	}
	if len(diff) != 1 || diff[0].Op != OpAdd {
		t.Fatalf("expected single ADD tuple on first commit, got %v", diff)
	}
	soa, ok := bumped.(*dns.SOA)
	if !ok {
		t.Fatalf("bumped RR is not *dns.SOA: %T", bumped)
	}
	if !seq32GT(soa.Serial, 42) && soa.Serial != 43 {
		t.Errorf("expected serial > 42, got %d", soa.Serial)
	}
}

func TestPrependSOABumpSubsequentCommitDeletesOld(t *testing.T) {
	old := mustRR(t, "example.com. 86400 IN SOA example.com. hostmaster.example.com. 100 3600 1800 604800 86400")
	diff, bumped, err := PrependSOABump("example.com.", old, 0)
	if err != nil {
		t.Fatalf("PrependSOABump: %v", err)
	}
	if len(diff) != 2 {
		t.Fatalf("expected DEL+ADD pair, got %d tuples: %v", len(diff), diff)
	}
	if diff[0].Op != OpDel || diff[1].Op != OpAdd {
		t.Fatalf("expected [DEL, ADD] order, got %v", diff)
	}
	soa := bumped.(*dns.SOA)
	if !seq32GT(soa.Serial, 100) {
		t.Errorf("new serial %d is not greater than old serial 100", soa.Serial)
	}
}

func TestPrependSOABumpRejectsWrongRRType(t *testing.T) {
	notSOA := mustRR(t, "example.com. 3600 IN A 192.0.2.1")
	if _, _, err := PrependSOABump("example.com.", notSOA, 0); !IsKind(err, KindInvariantViolation) {
		t.Fatalf("expected KindInvariantViolation, got %v", err)
	}
}

func TestReconcileSOARefusesRewindWhenNoDataChanged(t *testing.T) {
	old := mustRR(t, "example.com. 86400 IN SOA example.com. hostmaster.example.com. 5 3600 1800 604800 86400")
	pushed := mustRR(t, "example.com. 86400 IN SOA example.com. hostmaster.example.com. 3 3600 1800 604800 86400")
	diff := []Tuple{
		{Op: OpDel, Owner: "example.com.", Type: dns.TypeSOA, RR: old},
		{Op: OpAdd, Owner: "example.com.", Type: dns.TypeSOA, RR: pushed},
	}

	out, _, bumped, err := ReconcileSOA("example.com.", diff, old, 5)
	if err != nil {
		t.Fatalf("ReconcileSOA: %v", err)
	}
	if bumped {
		t.Error("expected bumped=false on a rewind")
	}
	if len(out) != 0 {
		t.Fatalf("expected the rewind diff to be discarded, got %v", out)
	}
}

func TestReconcileSOAAcceptsForwardSOAOnlyPush(t *testing.T) {
	old := mustRR(t, "example.com. 86400 IN SOA example.com. hostmaster.example.com. 5 3600 1800 604800 86400")
	pushed := mustRR(t, "example.com. 86400 IN SOA example.com. hostmaster.example.com. 9 3600 1800 604800 86400")
	diff := []Tuple{
		{Op: OpDel, Owner: "example.com.", Type: dns.TypeSOA, RR: old},
		{Op: OpAdd, Owner: "example.com.", Type: dns.TypeSOA, RR: pushed},
	}

	out, newSOA, bumped, err := ReconcileSOA("example.com.", diff, old, 5)
	if err != nil {
		t.Fatalf("ReconcileSOA: %v", err)
	}
	if bumped {
		t.Error("expected bumped=false: the administrator's own serial is kept verbatim")
	}
	if len(out) != 1 || out[0].Op != OpAdd {
		t.Fatalf("expected the pushed SOA to be accepted verbatim, got %v", out)
	}
	if soa := newSOA.(*dns.SOA); soa.Serial != 9 {
		t.Errorf("expected serial 9, got %d", soa.Serial)
	}
}

func TestReconcileSOABumpsOnDataChangeWithNoEntrySOA(t *testing.T) {
	old := mustRR(t, "example.com. 86400 IN SOA example.com. hostmaster.example.com. 5 3600 1800 604800 86400")
	ns := mustRR(t, "example.com. 3600 IN NS ns1.example.com.")
	diff := []Tuple{{Op: OpAdd, Owner: "example.com.", Type: dns.TypeNS, RR: ns}}

	out, newSOA, bumped, err := ReconcileSOA("example.com.", diff, old, 5)
	if err != nil {
		t.Fatalf("ReconcileSOA: %v", err)
	}
	if !bumped {
		t.Error("expected bumped=true when non-SOA data changed")
	}
	soaTuples := 0
	for _, tup := range out {
		if tup.IsSOA() {
			soaTuples++
		}
	}
	if soaTuples != 2 {
		t.Fatalf("expected a DEL+ADD SOA couple, got %d SOA tuples in %v", soaTuples, out)
	}
	soa := newSOA.(*dns.SOA)
	if !seq32GT(soa.Serial, 5) {
		t.Errorf("expected bumped serial > 5, got %d", soa.Serial)
	}
}

func TestReconcileSOAReconcilesDoubleSOAOnApexEntry(t *testing.T) {
	old := mustRR(t, "example.com. 86400 IN SOA example.com. hostmaster.example.com. 5 3600 1800 604800 86400")
	entrySOA := mustRR(t, "example.com. 86400 IN SOA example.com. hostmaster.example.com. 1 3600 1800 604800 86400")
	ns := mustRR(t, "example.com. 3600 IN NS ns1.example.com.")
	diff := []Tuple{
		{Op: OpAdd, Owner: "example.com.", Type: dns.TypeSOA, RR: entrySOA},
		{Op: OpAdd, Owner: "example.com.", Type: dns.TypeNS, RR: ns},
	}

	out, newSOA, bumped, err := ReconcileSOA("example.com.", diff, old, 5)
	if err != nil {
		t.Fatalf("ReconcileSOA: %v", err)
	}
	if !bumped {
		t.Error("expected bumped=true")
	}

	addSOACount := 0
	for _, tup := range out {
		if tup.IsSOA() && tup.Op == OpAdd {
			addSOACount++
		}
	}
	if addSOACount != 1 {
		t.Fatalf("expected exactly one ADD SOA tuple after reconciling the double SOA, got %d in %v", addSOACount, out)
	}
	soa := newSOA.(*dns.SOA)
	if !seq32GT(soa.Serial, 5) {
		t.Errorf("expected reconciled serial > 5, got %d", soa.Serial)
	}

	nsKept := false
	for _, tup := range out {
		if tup.Type == dns.TypeNS {
			nsKept = true
		}
	}
	if !nsKept {
		t.Error("expected the NS tuple to survive reconciliation")
	}
}

func TestReconcileSOANoopWhenDiffEmpty(t *testing.T) {
	out, newSOA, bumped, err := ReconcileSOA("example.com.", nil, nil, 0)
	if err != nil {
		t.Fatalf("ReconcileSOA: %v", err)
	}
	if len(out) != 0 || newSOA != nil || bumped {
		t.Fatalf("expected a no-op on an empty diff, got out=%v newSOA=%v bumped=%v", out, newSOA, bumped)
	}
}
