/*
 * Copyright (c) 2024 Tomas Krizek
 */
package ldapdns

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/miekg/dns"
)

// ObjectClass is a bitset of the schema's recognized auxiliary classes;
// an entry commonly carries more than one (e.g. a zone entry is both
// idnsZone and idnsRecord-like at its apex).
type ObjectClass uint8

const (
	ClassConfig ObjectClass = 1 << iota
	ClassMaster
	ClassForward
	ClassRecord
)

func (oc ObjectClass) Has(f ObjectClass) bool { return oc&f != 0 }

// RawEntry is the attribute-multimap view of an LDAP entry, as handed to
// this package by an LdapClient implementation. Attribute names are
// preserved verbatim; lookups are case-insensitive per LDAP semantics.
type RawEntry struct {
	DN         string
	Attrs      map[string][]string // original-case attribute name -> ordered values
	attrLookup map[string]string   // lowercased -> original-case key, built lazily
}

func (r *RawEntry) get(name string) ([]string, bool) {
	if v, ok := r.Attrs[name]; ok {
		return v, true
	}
	if r.attrLookup == nil {
		r.attrLookup = make(map[string]string, len(r.Attrs))
		for k := range r.Attrs {
			r.attrLookup[strings.ToLower(k)] = k
		}
	}
	if orig, ok := r.attrLookup[strings.ToLower(name)]; ok {
		return r.Attrs[orig], true
	}
	return nil, false
}

// Entry is the parsed form of a RawEntry: a structured DN and a
// classification bitset, ready for the change applier / forwarder
// configurator / entry parser to consume.
type Entry struct {
	DN      DN
	Classes ObjectClass
	Attrs   map[string][]string
	raw     *RawEntry
}

// ParseEntry builds an Entry from a RawEntry: parses the DN and scans
// objectClass values case-insensitively for the four classes this
// engine understands. Unknown auxiliary classes are ignored.
func ParseEntry(raw *RawEntry) (*Entry, error) {
	dn, err := ParseDN(raw.DN)
	if err != nil {
		return nil, err
	}

	var classes ObjectClass
	ocs, _ := raw.get("objectClass")
	for _, oc := range ocs {
		switch strings.ToLower(oc) {
		case "idnsconfigobject":
			classes |= ClassConfig
		case "idnszone":
			classes |= ClassMaster
		case "idnsforwardzone":
			classes |= ClassForward
		case "idnsrecord":
			classes |= ClassRecord
		}
	}

	return &Entry{DN: dn, Classes: classes, Attrs: raw.Attrs, raw: raw}, nil
}

// TTL returns the entry's dnsTTL attribute, accepting both a bare
// decimal and an RFC 1035 §2.3.4-style unit-suffixed value ("1h30m"),
// defaulting to DefaultTTL when absent.
func (e *Entry) TTL() uint32 {
	vals, ok := e.raw.get("dnsTTL")
	if !ok || len(vals) == 0 || vals[0] == "" {
		return DefaultTTL
	}
	if n, err := strconv.ParseUint(vals[0], 10, 32); err == nil {
		return uint32(n)
	}
	if d, err := dns.StringToTTL(vals[0]); err == nil {
		return d
	}
	return DefaultTTL
}

// RdataTypeAttr pairs an rdata-carrying attribute with the RR type it
// maps to.
type RdataTypeAttr struct {
	Attr   string
	RRtype uint16
}

// RdatatypeAttrs returns every "<mnemonic>Record" attribute present on
// the entry, mapped to its RR type. Attributes whose mnemonic does not
// resolve to a known DNS RR type are skipped.
func (e *Entry) RdatatypeAttrs() []RdataTypeAttr {
	var out []RdataTypeAttr
	for attr := range e.Attrs {
		if len(attr) <= len(RdataAttrSuffix) {
			continue
		}
		if !strings.EqualFold(attr[len(attr)-len(RdataAttrSuffix):], RdataAttrSuffix) {
			continue
		}
		mnemonic := attr[:len(attr)-len(RdataAttrSuffix)]
		if rrtype, ok := dns.StringToType[strings.ToUpper(mnemonic)]; ok {
			out = append(out, RdataTypeAttr{Attr: attr, RRtype: rrtype})
		}
	}
	return out
}

// FakeSOA assembles the synthetic SOA presentation-form text for a
// master zone entry from its idnsSOA* attributes. fakeMname, when
// non-empty, overrides the stored mname so operators can hide the
// directory's own hostname from clients.
func (e *Entry) FakeSOA(owner, fakeMname string) (string, error) {
	mname := first(e.raw, "idnsSOAmName")
	if fakeMname != "" {
		mname = fakeMname
	}
	rname := first(e.raw, "idnsSOArName")
	serial := first(e.raw, "idnsSOAserial")
	refresh := first(e.raw, "idnsSOArefresh")
	retry := first(e.raw, "idnsSOAretry")
	expire := first(e.raw, "idnsSOAexpire")
	minimum := first(e.raw, "idnsSOAminimum")

	if mname == "" || rname == "" || serial == "" {
		return "", newErr("FakeSOA", KindUnexpectedToken, fmt.Errorf("entry %s missing required idnsSOA* attributes", owner))
	}

	return fmt.Sprintf("%s %s %s %s %s %s %s",
		dns.Fqdn(mname), dns.Fqdn(rname), serial,
		orDefault(refresh, "3600"), orDefault(retry, "1800"),
		orDefault(expire, "604800"), orDefault(minimum, "86400")), nil
}

func first(r *RawEntry, attr string) string {
	vals, ok := r.get(attr)
	if !ok || len(vals) == 0 {
		return ""
	}
	return vals[0]
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// parseRRWithOrigin parses one RR's presentation-form rdata at owner,
// qualifying any relative names within rdata (an MX or CNAME target
// written without a trailing dot, say) against origin rather than
// owner — the same $ORIGIN semantics a BIND zone file uses, since an
// LDAP entry's rdata is written by the same operators who'd otherwise
// be writing a zone file by hand.
func parseRRWithOrigin(owner string, ttl uint32, rrtype, rdata, origin string) (dns.RR, error) {
	text := fmt.Sprintf("$ORIGIN %s\n%s %d IN %s %s", origin, dns.Fqdn(owner), ttl, rrtype, rdata)
	return dns.NewRR(text)
}

// ParseRREntry converts a parsed Entry into the rdatalist (list of
// RRsets) it represents at owner, within origin. For master-zone
// entries, a synthetic SOA RRset is built first from FakeSOA. Then every
// "<type>Record" attribute's values are fed through the DNS
// presentation-format rdata parser. Two values for the same (owner,
// type) with different TTLs is a parse error, matching the source's
// refusal to let a single LDAP entry describe an RRset with mixed TTLs.
func ParseRREntry(e *Entry, owner, origin, fakeMname string) ([]RRset, error) {
	ttl := e.TTL()
	var out []RRset

	origin = dns.Fqdn(origin)

	if e.Classes.Has(ClassMaster) {
		soaText, err := e.FakeSOA(owner, fakeMname)
		if err != nil {
			return nil, err
		}
		rr, err := parseRRWithOrigin(owner, ttl, "SOA", soaText, origin)
		if err != nil {
			return nil, newErr("ParseRREntry", KindUnexpectedToken, err)
		}
		out = append(out, RRset{Class: dns.ClassINET, Type: dns.TypeSOA, TTL: ttl, RRs: []dns.RR{rr}})
	}

	byType := map[uint16]*RRset{}
	for _, rta := range e.RdatatypeAttrs() {
		for _, val := range e.Attrs[rta.Attr] {
			rr, err := parseRRWithOrigin(owner, ttl, dns.TypeToString[rta.RRtype], val, origin)
			if err != nil {
				return nil, newErr("ParseRREntry", KindUnexpectedToken, fmt.Errorf("parsing %s: %w", rta.Attr, err))
			}

			rs, ok := byType[rta.RRtype]
			if !ok {
				n := NewRRset(rta.RRtype, ttl)
				byType[rta.RRtype] = &n
				rs = &n
			}
			if rs.TTL != ttl {
				return nil, newErr("ParseRREntry", KindNotImplemented,
					fmt.Errorf("owner %s: mixed TTLs within %s RRset", owner, dns.TypeToString[rta.RRtype]))
			}
			rs.RRs = append(rs.RRs, rr)
		}
	}
	for _, rs := range byType {
		out = append(out, *rs)
	}

	return out, nil
}
