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

// RDN is a single "attr=value" component of a DN. Multi-valued RDNs
// ("attr=value+attr2=value2") are rejected by ParseDN: the directory
// schema this engine talks to never produces them, and silently picking
// one value would hide a misconfiguration.
type RDN struct {
	Attr  string
	Value string
}

// DN is an ordered sequence of RDNs, left-most (most specific) first.
type DN []RDN

func (dn DN) String() string {
	parts := make([]string, len(dn))
	for i, r := range dn {
		parts[i] = r.Attr + "=" + r.Value
	}
	return strings.Join(parts, ",")
}

const idnsNameAttr = "idnsname"

// ParseDN parses an LDAP v3 DN string into its RDN sequence. It does not
// attempt full RFC 4514 escaping support beyond what this engine's
// schema ever emits: commas separate RDNs, "\," escapes a literal comma.
func ParseDN(s string) (DN, error) {
	var rdns DN
	var cur strings.Builder
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			cur.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == '+':
			return nil, newErr("ParseDN", KindNotImplemented, fmt.Errorf("multi-valued RDN in %q", s))
		case c == ',':
			rdn, err := parseRDN(strings.TrimSpace(cur.String()))
			if err != nil {
				return nil, err
			}
			rdns = append(rdns, rdn)
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if strings.TrimSpace(cur.String()) != "" {
		rdn, err := parseRDN(strings.TrimSpace(cur.String()))
		if err != nil {
			return nil, err
		}
		rdns = append(rdns, rdn)
	}
	return rdns, nil
}

func parseRDN(s string) (RDN, error) {
	idx := strings.IndexByte(s, '=')
	if idx < 0 {
		return RDN{}, newErr("ParseDN", KindUnexpectedToken, fmt.Errorf("malformed RDN %q", s))
	}
	return RDN{Attr: strings.TrimSpace(s[:idx]), Value: strings.TrimSpace(s[idx+1:])}, nil
}

// DNToName parses a DN with one or two leading idnsName RDNs into an
// (owner, zone) pair. Mirrors dn_to_dnsname() in the source: the first
// idnsName RDN is either the zone apex (one component) or the owner
// name relative to the zone, with the second idnsName being the zone.
func DNToName(dn DN) (owner string, zone string, err error) {
	var idns []string
	for _, r := range dn {
		if !strings.EqualFold(r.Attr, idnsNameAttr) {
			break
		}
		idns = append(idns, r.Value)
		if len(idns) == 2 {
			break
		}
	}

	switch len(idns) {
	case 0:
		return "", "", newErr("DNToName", KindUnexpectedToken, fmt.Errorf("no idnsName component in DN %q", dn))
	case 1:
		zone = dns.Fqdn(idns[0])
		return zone, zone, nil
	default:
		zone = dns.Fqdn(idns[1])
		owner = dns.Fqdn(idns[0] + "." + zone)
		if !dns.IsSubDomain(zone, owner) {
			return "", "", newErr("DNToName", KindBadOwnerName, fmt.Errorf("%q is not a subdomain of %q", owner, zone))
		}
		if strings.EqualFold(owner, zone) {
			return "", "", newErr("DNToName", KindBadOwnerName, fmt.Errorf("owner %q redefines zone apex", owner))
		}
		return owner, zone, nil
	}
}

// NameToDN formats the DN for name, given the zone it belongs to
// (normally obtained from Registry.LookupContaining) and that zone's
// own DN. The zone apex is represented by the bare zoneDN: bind-dyndb-ldap
// encodes the apex entry as "idnsName=<zone>, <base>", not "idnsName=@".
func NameToDN(name, zone string, zoneDN DN) (DN, error) {
	name = dns.Fqdn(name)
	zone = dns.Fqdn(zone)
	if !dns.IsSubDomain(zone, name) {
		return nil, newErr("NameToDN", KindBadOwnerName, fmt.Errorf("%q not under zone %q", name, zone))
	}
	if strings.EqualFold(name, zone) {
		return zoneDN, nil
	}

	zoneLabels := dns.CountLabel(zone)
	nameLabels := dns.CountLabel(name)
	relLabelCount := nameLabels - zoneLabels

	labels := dns.SplitDomainName(name)
	rel := strings.Join(labels[:relLabelCount], ".")

	escaped, err := EscapeDNSToLDAP(rel)
	if err != nil {
		return nil, err
	}

	out := make(DN, 0, len(zoneDN)+1)
	out = append(out, RDN{Attr: "idnsName", Value: escaped})
	out = append(out, zoneDN...)
	return out, nil
}

// NameToFilenameText renders name as a filesystem-safe path component,
// the way the engine names per-zone directories under <directory>/master.
// ASCII letters are downcased; [0-9._-] pass through; everything else is
// percent-encoded. The root zone is rewritten to "@".
func NameToFilenameText(name string) string {
	name = dns.Fqdn(name)
	if name == "." {
		return "@"
	}
	var b strings.Builder
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'A' && c <= 'Z':
			b.WriteByte(c - 'A' + 'a')
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '.', c == '_', c == '-':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02x", c)
		}
	}
	return b.String()
}

// EscapeDNSToLDAP re-encodes a DNS presentation-form label string (as
// produced by dns.Name.String() / rr.String()) into the LDAP escaping
// convention the directory's schema expects.
//
// Security sensitive: this is the boundary between untrusted wire data
// (after DNS presentation-escaping) and the value that gets embedded in
// an LDAP filter/DN/attribute. Bytes in [a-zA-Z0-9._-] pass through
// unescaped; every other byte — after first decoding DNS's own "\123"
// (decimal) and "\c" escapes back to the underlying octet — is
// re-emitted as LDAP's "\hh" (lower-case hex) form.
func EscapeDNSToLDAP(s string) (string, error) {
	var b strings.Builder
	b.Grow(len(s))

	niceStart := -1
	flushNice := func(end int) {
		if niceStart >= 0 {
			b.WriteString(s[niceStart:end])
			niceStart = -1
		}
	}

	isNice := func(c byte) bool {
		return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '.' || c == '-' || c == '_'
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		if isNice(c) {
			if niceStart < 0 {
				niceStart = i
			}
			continue
		}
		flushNice(i)

		var val int
		switch {
		case c != '\\':
			val = int(c)
		case i+1 >= len(s):
			return "", newErr("EscapeDNSToLDAP", KindBadEscape, fmt.Errorf("truncated escape in %q", s))
		case s[i+1] >= '0' && s[i+1] <= '9':
			if i+3 >= len(s) {
				return "", newErr("EscapeDNSToLDAP", KindBadEscape, fmt.Errorf("truncated \\DDD escape in %q", s))
			}
			n, err := strconv.Atoi(s[i+1 : i+4])
			if err != nil || n > 255 {
				return "", newErr("EscapeDNSToLDAP", KindBadEscape, fmt.Errorf("malformed \\DDD escape in %q", s))
			}
			val = n
			i += 3
		default:
			val = int(s[i+1])
			i++
		}
		fmt.Fprintf(&b, "\\%02x", val)
	}
	flushNice(len(s))
	return b.String(), nil
}
