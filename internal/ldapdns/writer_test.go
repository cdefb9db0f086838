/*
 * Copyright (c) 2024 Tomas Krizek
 */
package ldapdns

import (
	"context"
	"testing"

	"github.com/go-ldap/ldap/v3"
)

// fakeLdapClient is a minimal scripted LdapClient for exercising
// Writer's retry ladder without a live directory connection.
type fakeLdapClient struct {
	modifyErr error
	modified  []Mod
	added     map[string][]string
	addedDN   string
	deletedDN string
}

func (f *fakeLdapClient) Search(ctx context.Context, base, filter string, attrs []string) (*SearchResult, error) {
	return &SearchResult{}, nil
}

func (f *fakeLdapClient) Modify(ctx context.Context, dn string, mods []Mod) error {
	f.modified = mods
	if f.modifyErr == nil {
		return nil
	}
	// Mirror ldapConnClient.Modify's own translateLdapErr wrapping, so
	// Writer's IsNoSuchObject/IsNoSuchAttribute/IsKind checks see the
	// same error shape they would from a live connection.
	return translateLdapErr("Modify", f.modifyErr)
}

func (f *fakeLdapClient) Add(ctx context.Context, dn string, attrs map[string][]string) error {
	f.addedDN = dn
	f.added = attrs
	return nil
}

func (f *fakeLdapClient) Delete(ctx context.Context, dn string) error {
	f.deletedDN = dn
	return nil
}

func ldapErr(code uint16) error {
	return &ldap.Error{ResultCode: code}
}

func TestTuplesToModsGroupsByAttribute(t *testing.T) {
	tuples := []Tuple{
		{Op: OpAdd, Owner: "www.example.com.", Type: 1 /* A */, TTL: 3600, RR: mustRR(t, "www.example.com. 3600 IN A 192.0.2.1")},
		{Op: OpDel, Owner: "www.example.com.", Type: 1, TTL: 3600, RR: mustRR(t, "www.example.com. 3600 IN A 192.0.2.2")},
	}
	mods, err := TuplesToMods(tuples)
	if err != nil {
		t.Fatalf("TuplesToMods: %v", err)
	}
	if len(mods) != 3 { // ADD ARecord, DEL ARecord, REPLACE dnsTTL
		t.Fatalf("expected 3 mods (add/del/ttl), got %d: %+v", len(mods), mods)
	}
	var sawAdd, sawDel, sawTTL bool
	for _, m := range mods {
		switch {
		case m.Op == ModAdd && m.Attr == "ARecord":
			sawAdd = true
		case m.Op == ModDelete && m.Attr == "ARecord":
			sawDel = true
		case m.Op == ModReplace && m.Attr == "dnsTTL":
			sawTTL = true
		}
	}
	if !sawAdd || !sawDel || !sawTTL {
		t.Fatalf("missing expected mod kind: %+v", mods)
	}
}

func TestTuplesToModsRejectsUnsupportedType(t *testing.T) {
	tuples := []Tuple{{Op: OpAdd, Type: 65535, RR: mustRR(t, "www.example.com. 3600 IN A 192.0.2.1")}}
	if _, err := TuplesToMods(tuples); !IsKind(err, KindNotImplemented) {
		t.Fatalf("expected KindNotImplemented for unsupported RR type, got %v", err)
	}
}

func TestWriterModifyRetriesAsAddOnNoSuchObject(t *testing.T) {
	client := &fakeLdapClient{modifyErr: ldapErr(ldap.LDAPResultNoSuchObject)}
	w := NewWriter(client)

	mods := []Mod{{Op: ModAdd, Attr: "ARecord", Values: []string{"192.0.2.1"}}}
	if err := w.Modify(context.Background(), "idnsName=www,idnsName=example.com.,cn=dns", mods); err != nil {
		t.Fatalf("Modify: %v", err)
	}
	if client.addedDN == "" {
		t.Fatal("expected Writer to retry as Add after no_such_object")
	}
	if vals := client.added["ARecord"]; len(vals) != 1 || vals[0] != "192.0.2.1" {
		t.Errorf("Add attrs = %v, want ARecord=[192.0.2.1]", client.added)
	}
	if vals := client.added["objectClass"]; len(vals) != 1 || vals[0] != "idnsRecord" {
		t.Errorf("Add attrs missing objectClass=idnsRecord: %v", client.added)
	}
}

func TestWriterModifyTreatsNoSuchAttributeDeleteAsSuccess(t *testing.T) {
	client := &fakeLdapClient{modifyErr: ldapErr(ldap.LDAPResultNoSuchAttribute)}
	w := NewWriter(client)

	mods := []Mod{{Op: ModDelete, Attr: "ARecord", Values: []string{"192.0.2.1"}}}
	if err := w.Modify(context.Background(), "idnsName=www,idnsName=example.com.,cn=dns", mods); err != nil {
		t.Fatalf("expected no_such_attribute delete-only modify to be treated as success, got %v", err)
	}
}

func TestWriterModifyPropagatesOtherErrors(t *testing.T) {
	client := &fakeLdapClient{modifyErr: ldapErr(ldap.LDAPResultInvalidCredentials)}
	w := NewWriter(client)

	mods := []Mod{{Op: ModAdd, Attr: "ARecord", Values: []string{"192.0.2.1"}}}
	if err := w.Modify(context.Background(), "idnsName=www,idnsName=example.com.,cn=dns", mods); !IsKind(err, KindNoPerm) {
		t.Fatalf("expected KindNoPerm to propagate unchanged, got %v", err)
	}
}

func TestWriterDeleteNode(t *testing.T) {
	client := &fakeLdapClient{}
	w := NewWriter(client)
	if err := w.DeleteNode(context.Background(), "idnsName=www,idnsName=example.com.,cn=dns"); err != nil {
		t.Fatalf("DeleteNode: %v", err)
	}
	if client.deletedDN != "idnsName=www,idnsName=example.com.,cn=dns" {
		t.Errorf("deletedDN = %q", client.deletedDN)
	}
}
