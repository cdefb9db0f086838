/*
 * Copyright (c) 2024 Tomas Krizek
 */
package ldapdns

import (
	"context"
	"fmt"

	"github.com/miekg/dns"
)

// Writer is the record writer described in spec §4.M: it turns a
// tuple list into LDAP modify/add/delete calls against a bound
// LdapClient, with the retry-on-no_such_object and
// idempotent-delete behaviors the original ldap_modify_do/
// modify_ldap_common pair implement.
type Writer struct {
	client LdapClient
}

func NewWriter(client LdapClient) *Writer { return &Writer{client: client} }

// rdataGroup carries rdatalist_to_ldapmod's per-attribute grouping:
// the values to MOD_ADD and to MOD_DELETE for one "<type>Record"
// attribute.
type rdataGroup struct {
	attr     string
	addVals  []string
	delVals  []string
}

// TuplesToMods converts tuples (all sharing one owner) into the mod
// list rdatalist_to_ldapmod produces: rdata values grouped per
// "<type>Record" attribute by op, plus a dnsTTL replace carrying the
// first tuple's TTL whenever tuples is non-empty.
func TuplesToMods(tuples []Tuple) ([]Mod, error) {
	groups := map[string]*rdataGroup{}
	var order []string
	var ttl uint32
	haveTTL := false

	for _, t := range tuples {
		mnemonic, ok := dns.TypeToString[t.Type]
		if !ok {
			return nil, newErr("TuplesToMods", KindNotImplemented, fmt.Errorf("unsupported RR type %d", t.Type))
		}
		attr := mnemonic + RdataAttrSuffix
		g, ok := groups[attr]
		if !ok {
			g = &rdataGroup{attr: attr}
			groups[attr] = g
			order = append(order, attr)
		}
		rdata := rdataText(t.RR)
		switch t.Op {
		case OpAdd:
			g.addVals = append(g.addVals, rdata)
		case OpDel:
			g.delVals = append(g.delVals, rdata)
		}
		if !haveTTL {
			ttl = t.TTL
			haveTTL = true
		}
	}

	var mods []Mod
	for _, attr := range order {
		g := groups[attr]
		if len(g.addVals) > 0 {
			mods = append(mods, Mod{Op: ModAdd, Attr: g.attr, Values: g.addVals})
		}
		if len(g.delVals) > 0 {
			mods = append(mods, Mod{Op: ModDelete, Attr: g.attr, Values: g.delVals})
		}
	}
	if haveTTL {
		mods = append(mods, Mod{Op: ModReplace, Attr: "dnsTTL", Values: []string{fmt.Sprintf("%d", ttl)}})
	}
	return mods, nil
}

// rdataText renders an RR's rdata in presentation form, stripping the
// owner/ttl/class/type header dns.RR.String() always prefixes with
// exactly four tab-separated fields.
func rdataText(rr dns.RR) string {
	return splitNTabs(rr.String(), 4)
}

func splitNTabs(s string, n int) string {
	count := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\t' {
			count++
			if count == n {
				return s[i+1:]
			}
		}
	}
	return s
}

// Modify applies mods to dn, implementing the retry ladder spec §4.M
// requires: a MOD_ADD that fails no_such_object is retried once as a
// full Add with objectClass=idnsRecord appended, and a MOD_DELETE
// that fails no_such_attribute is treated as an already-satisfied
// no-op.
func (w *Writer) Modify(ctx context.Context, dn string, mods []Mod) error {
	err := w.client.Modify(ctx, dn, mods)
	if err == nil {
		return nil
	}

	hasAdd := false
	for _, m := range mods {
		if m.Op == ModAdd {
			hasAdd = true
			break
		}
	}

	if hasAdd && IsNoSuchObject(err) {
		attrs := map[string][]string{"objectClass": {"idnsRecord"}}
		for _, m := range mods {
			if m.Op != ModAdd {
				continue
			}
			attrs[m.Attr] = append(attrs[m.Attr], m.Values...)
		}
		return w.client.Add(ctx, dn, attrs)
	}

	onlyDelete := true
	for _, m := range mods {
		if m.Op != ModDelete {
			onlyDelete = false
			break
		}
	}
	if onlyDelete && IsNoSuchAttribute(err) {
		return nil
	}

	return err
}

// ModifySOA replaces all five numeric SOA fields atomically in one
// modify call, matching modify_soa_record.
func (w *Writer) ModifySOA(ctx context.Context, dn string, serial, refresh, retry, expire, minimum uint32) error {
	mods := []Mod{
		{Op: ModReplace, Attr: "idnsSOAserial", Values: []string{fmt.Sprintf("%d", serial)}},
		{Op: ModReplace, Attr: "idnsSOArefresh", Values: []string{fmt.Sprintf("%d", refresh)}},
		{Op: ModReplace, Attr: "idnsSOAretry", Values: []string{fmt.Sprintf("%d", retry)}},
		{Op: ModReplace, Attr: "idnsSOAexpire", Values: []string{fmt.Sprintf("%d", expire)}},
		{Op: ModReplace, Attr: "idnsSOAminimum", Values: []string{fmt.Sprintf("%d", minimum)}},
	}
	return w.client.Modify(ctx, dn, mods)
}

// DeleteNode issues an outright LDAP delete instead of a modify,
// matching delete_node=true.
func (w *Writer) DeleteNode(ctx context.Context, dn string) error {
	return w.client.Delete(ctx, dn)
}
