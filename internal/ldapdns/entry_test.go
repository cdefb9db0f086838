/*
 * Copyright (c) 2024 Tomas Krizek
 */
package ldapdns

import (
	"testing"

	"github.com/miekg/dns"
)

func TestParseEntryClassification(t *testing.T) {
	raw := &RawEntry{
		DN: "idnsName=example.com.,cn=dns,dc=example,dc=com",
		Attrs: map[string][]string{
			"objectClass": {"top", "idnsZone", "idnsRecord"},
		},
	}
	e, err := ParseEntry(raw)
	if err != nil {
		t.Fatalf("ParseEntry: %v", err)
	}
	if !e.Classes.Has(ClassMaster) || !e.Classes.Has(ClassRecord) {
		t.Errorf("expected ClassMaster|ClassRecord, got %v", e.Classes)
	}
	if e.Classes.Has(ClassForward) {
		t.Error("unexpected ClassForward")
	}
}

func TestEntryTTLDefaultsWhenAbsent(t *testing.T) {
	e := &Entry{raw: &RawEntry{Attrs: map[string][]string{}}}
	if got := e.TTL(); got != DefaultTTL {
		t.Errorf("TTL() = %d, want default %d", got, DefaultTTL)
	}
}

func TestEntryTTLParsesDecimalAndUnitSuffixed(t *testing.T) {
	e := &Entry{raw: &RawEntry{Attrs: map[string][]string{"dnsTTL": {"1800"}}}}
	if got := e.TTL(); got != 1800 {
		t.Errorf("TTL() = %d, want 1800", got)
	}
	e2 := &Entry{raw: &RawEntry{Attrs: map[string][]string{"dnsTTL": {"1h"}}}}
	if got := e2.TTL(); got != 3600 {
		t.Errorf("TTL() = %d, want 3600", got)
	}
}

func TestRdatatypeAttrsSkipsUnknownMnemonics(t *testing.T) {
	e := &Entry{Attrs: map[string][]string{
		"ARecord":       {"192.0.2.1"},
		"bogusRecord":   {"whatever"},
		"notARecordAtAll": {"x"},
	}}
	attrs := e.RdatatypeAttrs()
	if len(attrs) != 1 || attrs[0].Attr != "ARecord" || attrs[0].RRtype != dns.TypeA {
		t.Fatalf("expected only ARecord recognized, got %v", attrs)
	}
}

func TestParseRREntryBuildsFakeSOA(t *testing.T) {
	raw := &RawEntry{
		DN: "idnsName=example.com.,cn=dns,dc=example,dc=com",
		Attrs: map[string][]string{
			"objectClass":    {"idnsZone"},
			"idnsSOAmName":   {"ns1.example.com."},
			"idnsSOArName":   {"hostmaster.example.com."},
			"idnsSOAserial":  {"2024010100"},
			"dnsTTL":         {"3600"},
		},
	}
	e, err := ParseEntry(raw)
	if err != nil {
		t.Fatalf("ParseEntry: %v", err)
	}
	e.raw = raw

	rrsets, err := ParseRREntry(e, "example.com.", "example.com.", "")
	if err != nil {
		t.Fatalf("ParseRREntry: %v", err)
	}
	var found bool
	for _, rs := range rrsets {
		if rs.Type == dns.TypeSOA {
			found = true
			soa := rs.RRs[0].(*dns.SOA)
			if soa.Ns != "ns1.example.com." {
				t.Errorf("SOA.Ns = %q, want ns1.example.com.", soa.Ns)
			}
			if soa.Serial != 2024010100 {
				t.Errorf("SOA.Serial = %d, want 2024010100", soa.Serial)
			}
		}
	}
	if !found {
		t.Fatal("expected a synthesized SOA RRset for a master-zone entry")
	}
}

func TestParseRREntryFakeMnameOverride(t *testing.T) {
	raw := &RawEntry{
		DN: "idnsName=example.com.,cn=dns,dc=example,dc=com",
		Attrs: map[string][]string{
			"objectClass":   {"idnsZone"},
			"idnsSOAmName":  {"internal-master.example.com."},
			"idnsSOArName":  {"hostmaster.example.com."},
			"idnsSOAserial": {"1"},
		},
	}
	e, err := ParseEntry(raw)
	if err != nil {
		t.Fatalf("ParseEntry: %v", err)
	}
	e.raw = raw

	rrsets, err := ParseRREntry(e, "example.com.", "example.com.", "ns.public.example.com.")
	if err != nil {
		t.Fatalf("ParseRREntry: %v", err)
	}
	for _, rs := range rrsets {
		if rs.Type == dns.TypeSOA {
			soa := rs.RRs[0].(*dns.SOA)
			if soa.Ns != "ns.public.example.com." {
				t.Errorf("fakeMname not applied: SOA.Ns = %q", soa.Ns)
			}
		}
	}
}

func TestParseRREntryGroupsMultipleValuesUnderOneRRset(t *testing.T) {
	raw := &RawEntry{
		DN: "idnsName=www,idnsName=example.com.,cn=dns,dc=example,dc=com",
		Attrs: map[string][]string{
			"objectClass": {"idnsRecord"},
			"ARecord":     {"192.0.2.1", "192.0.2.2"},
			"dnsTTL":      {"60"},
		},
	}
	e, err := ParseEntry(raw)
	if err != nil {
		t.Fatalf("ParseEntry: %v", err)
	}
	e.raw = raw

	rrsets, err := ParseRREntry(e, "www.example.com.", "example.com.", "")
	if err != nil {
		t.Fatalf("ParseRREntry: %v", err)
	}
	if len(rrsets) != 1 || rrsets[0].TTL != 60 || len(rrsets[0].RRs) != 2 {
		t.Fatalf("expected single A RRset at TTL 60 with 2 RRs, got %v", rrsets)
	}
}
