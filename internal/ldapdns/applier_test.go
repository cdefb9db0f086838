/*
 * Copyright (c) 2024 Tomas Krizek
 */
package ldapdns

import (
	"context"
	"testing"

	"github.com/miekg/dns"
)

func newApplierTestTask(t *testing.T) (*Instance, *zoneTask) {
	t.Helper()
	inst := newTestInstance()
	dn, err := ParseDN("idnsName=example.com.,cn=dns,dc=example,dc=com")
	if err != nil {
		t.Fatalf("ParseDN: %v", err)
	}
	zi, err := inst.RegisterZone(context.Background(), "example.com.", dn, true)
	if err != nil {
		t.Fatalf("RegisterZone: %v", err)
	}
	return inst, zi.Task
}

func seedApexSOA(task *zoneTask, serial uint32) {
	rr, _ := dns.NewRR("example.com. 86400 IN SOA example.com. hostmaster.example.com. 0 3600 1800 604800 86400")
	soaRR := rr.(*dns.SOA)
	soaRR.Serial = serial

	task.mu.Lock()
	task.data["example.com."] = map[uint16]RRset{
		dns.TypeSOA: {Class: dns.ClassINET, Type: dns.TypeSOA, TTL: 86400, RRs: []dns.RR{soaRR}},
	}
	task.serial = serial
	task.mu.Unlock()
}

func TestApplyBumpsSOAAndCommitsDataChange(t *testing.T) {
	_, task := newApplierTestTask(t)
	seedApexSOA(task, 5)

	ev := UpdateEvent{
		Kind:  EventModify,
		Owner: "www.example.com.",
		Entry: &Entry{Attrs: map[string][]string{"ARecord": {"192.0.2.1"}}, raw: &RawEntry{Attrs: map[string][]string{"ARecord": {"192.0.2.1"}}}},
	}
	if err := task.apply(ev); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if !seq32GT(task.serial, 5) {
		t.Errorf("expected serial to advance past 5, got %d", task.serial)
	}

	task.mu.Lock()
	defer task.mu.Unlock()
	byType, ok := task.data["www.example.com."]
	if !ok || len(byType[dns.TypeA].RRs) != 1 {
		t.Fatalf("expected the A record to be committed, got %v", task.data["www.example.com."])
	}
}

func TestApplyRefusesSOARewind(t *testing.T) {
	_, task := newApplierTestTask(t)
	seedApexSOA(task, 5)

	attrs := map[string][]string{
		"idnsSOAmName":  {"example.com."},
		"idnsSOArName":  {"hostmaster.example.com."},
		"idnsSOAserial": {"3"},
	}
	ev := UpdateEvent{
		Kind:  EventModify,
		Owner: "example.com.",
		Entry: &Entry{Classes: ClassMaster, Attrs: attrs, raw: &RawEntry{Attrs: attrs}},
	}
	if err := task.apply(ev); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if task.serial != 5 {
		t.Errorf("expected serial to stay at 5 after a rewind push, got %d", task.serial)
	}

	task.mu.Lock()
	defer task.mu.Unlock()
	soaRR := task.data["example.com."][dns.TypeSOA].RRs[0].(*dns.SOA)
	if soaRR.Serial != 5 {
		t.Errorf("expected the stored SOA to still have serial 5, got %d", soaRR.Serial)
	}
}

func TestApplyReconcilesDoubleSOAOnApex(t *testing.T) {
	_, task := newApplierTestTask(t)

	attrs := map[string][]string{
		"idnsSOAmName":  {"example.com."},
		"idnsSOArName":  {"hostmaster.example.com."},
		"idnsSOAserial": {"1"},
		"NSRecord":      {"ns1.example.com."},
	}
	ev := UpdateEvent{
		Kind:  EventModify,
		Owner: "example.com.",
		Entry: &Entry{Classes: ClassMaster, Attrs: attrs, raw: &RawEntry{Attrs: attrs}},
	}
	if err := task.apply(ev); err != nil {
		t.Fatalf("apply: %v", err)
	}

	task.mu.Lock()
	defer task.mu.Unlock()
	soaRRs := task.data["example.com."][dns.TypeSOA].RRs
	if len(soaRRs) != 1 {
		t.Fatalf("expected exactly one stored SOA RR after reconciling the double SOA, got %d", len(soaRRs))
	}
	if len(task.data["example.com."][dns.TypeNS].RRs) != 1 {
		t.Fatalf("expected the NS record to survive reconciliation")
	}
}

func TestApplyAbortsBeforeCommitOnPTRFailure(t *testing.T) {
	inst, task := newApplierTestTask(t)
	inst.cascadeFor("example.com.").Zone.SetSyncPTR(true)
	// No reverse zone registered, so PTR mirroring must fail with
	// KindNoPerm and the forward write must never be committed.

	attrs := map[string][]string{"ARecord": {"192.0.2.1"}}
	ev := UpdateEvent{
		Kind:  EventModify,
		Owner: "www.example.com.",
		Entry: &Entry{Attrs: attrs, raw: &RawEntry{Attrs: attrs}},
	}
	err := task.apply(ev)
	if !IsKind(err, KindNoPerm) {
		t.Fatalf("expected apply to fail with KindNoPerm, got %v", err)
	}

	task.mu.Lock()
	defer task.mu.Unlock()
	if _, ok := task.data["www.example.com."]; ok {
		t.Error("expected the forward write to be aborted before commit")
	}
}
