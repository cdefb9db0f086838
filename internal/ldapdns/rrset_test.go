/*
 * Copyright (c) 2024 Tomas Krizek
 */
package ldapdns

import (
	"testing"

	"github.com/miekg/dns"
)

func mustRR(t *testing.T, text string) dns.RR {
	t.Helper()
	rr, err := dns.NewRR(text)
	if err != nil {
		t.Fatalf("dns.NewRR(%q): %v", text, err)
	}
	return rr
}

func TestMinimalDiffUnchangedCancelsOut(t *testing.T) {
	rr := mustRR(t, "www.example.com. 3600 IN A 192.0.2.1")
	existing := []RRset{{Type: dns.TypeA, TTL: 3600, RRs: []dns.RR{rr}}}
	desired := []RRset{{Type: dns.TypeA, TTL: 3600, RRs: []dns.RR{mustRR(t, "www.example.com. 3600 IN A 192.0.2.1")}}}

	diff := MinimalDiff("www.example.com.", existing, desired)
	if len(diff) != 0 {
		t.Fatalf("expected empty diff for unchanged RRset, got %v", diff)
	}
}

func TestMinimalDiffAddOnly(t *testing.T) {
	desired := []RRset{{Type: dns.TypeA, TTL: 3600, RRs: []dns.RR{mustRR(t, "www.example.com. 3600 IN A 192.0.2.1")}}}
	diff := MinimalDiff("www.example.com.", nil, desired)
	if len(diff) != 1 || diff[0].Op != OpAdd {
		t.Fatalf("expected single ADD tuple, got %v", diff)
	}
}

func TestMinimalDiffDeleteOnly(t *testing.T) {
	existing := []RRset{{Type: dns.TypeA, TTL: 3600, RRs: []dns.RR{mustRR(t, "www.example.com. 3600 IN A 192.0.2.1")}}}
	diff := MinimalDiff("www.example.com.", existing, nil)
	if len(diff) != 1 || diff[0].Op != OpDel {
		t.Fatalf("expected single DEL tuple, got %v", diff)
	}
}

func TestMinimalDiffPartialOverlap(t *testing.T) {
	existing := []RRset{{Type: dns.TypeA, TTL: 3600, RRs: []dns.RR{
		mustRR(t, "www.example.com. 3600 IN A 192.0.2.1"),
		mustRR(t, "www.example.com. 3600 IN A 192.0.2.2"),
	}}}
	desired := []RRset{{Type: dns.TypeA, TTL: 3600, RRs: []dns.RR{
		mustRR(t, "www.example.com. 3600 IN A 192.0.2.2"),
		mustRR(t, "www.example.com. 3600 IN A 192.0.2.3"),
	}}}

	diff := MinimalDiff("www.example.com.", existing, desired)
	if len(diff) != 2 {
		t.Fatalf("expected 2 tuples (del .1, add .3), got %d: %v", len(diff), diff)
	}
	var gotDel, gotAdd bool
	for _, tup := range diff {
		switch {
		case tup.Op == OpDel && tup.RR.String() == mustRR(t, "www.example.com. 3600 IN A 192.0.2.1").String():
			gotDel = true
		case tup.Op == OpAdd && tup.RR.String() == mustRR(t, "www.example.com. 3600 IN A 192.0.2.3").String():
			gotAdd = true
		}
	}
	if !gotDel || !gotAdd {
		t.Fatalf("diff did not contain expected del/add pair: %v", diff)
	}
}

func TestMinimalDiffDuplicateRdataCancelsOnePerInstance(t *testing.T) {
	existing := []RRset{{Type: dns.TypeA, TTL: 3600, RRs: []dns.RR{
		mustRR(t, "www.example.com. 3600 IN A 192.0.2.1"),
		mustRR(t, "www.example.com. 3600 IN A 192.0.2.1"),
	}}}
	desired := []RRset{{Type: dns.TypeA, TTL: 3600, RRs: []dns.RR{
		mustRR(t, "www.example.com. 3600 IN A 192.0.2.1"),
	}}}

	diff := MinimalDiff("www.example.com.", existing, desired)
	if len(diff) != 1 || diff[0].Op != OpDel {
		t.Fatalf("expected one leftover DEL tuple, got %v", diff)
	}
}

func TestHasNonSOA(t *testing.T) {
	soaOnly := []Tuple{{Type: dns.TypeSOA}}
	if HasNonSOA(soaOnly) {
		t.Error("HasNonSOA(soa-only) = true, want false")
	}
	mixed := []Tuple{{Type: dns.TypeSOA}, {Type: dns.TypeA}}
	if !HasNonSOA(mixed) {
		t.Error("HasNonSOA(mixed) = false, want true")
	}
}
