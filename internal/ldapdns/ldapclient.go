/*
 * Copyright (c) 2024 Tomas Krizek
 */
package ldapdns

import (
	"context"
	"fmt"

	"github.com/go-ldap/ldap/v3"
)

// ModOp mirrors the three LDAP modify operations.
type ModOp uint8

const (
	ModAdd ModOp = iota
	ModDelete
	ModReplace
)

// Mod is one attribute-level change within an LDAP modify request.
type Mod struct {
	Op     ModOp
	Attr   string
	Values []string
}

// SearchResult is the subset of an LDAP search response this package
// consumes: one RawEntry per match.
type SearchResult struct {
	Entries []*RawEntry
}

// LdapClient is the seam between this package and a live directory
// connection, implemented over github.com/go-ldap/ldap/v3 by
// *poolConn (see pool.go). Every method takes the already-bound
// connection to use; binding and reconnect are the pool's job, not
// the client's, so retries can be coordinated at the pool layer per
// spec §4.C.
type LdapClient interface {
	Search(ctx context.Context, base, filter string, attrs []string) (*SearchResult, error)
	Modify(ctx context.Context, dn string, mods []Mod) error
	Add(ctx context.Context, dn string, attrs map[string][]string) error
	Delete(ctx context.Context, dn string) error
}

// ldapConnClient adapts a *ldap.Conn to LdapClient.
type ldapConnClient struct {
	conn *ldap.Conn
}

func (c *ldapConnClient) Search(ctx context.Context, base, filter string, attrs []string) (*SearchResult, error) {
	req := ldap.NewSearchRequest(base, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false, filter, attrs, nil)
	res, err := c.conn.SearchWithPaging(req, 1000)
	if err != nil {
		return nil, translateLdapErr("Search", err)
	}
	out := &SearchResult{Entries: make([]*RawEntry, 0, len(res.Entries))}
	for _, e := range res.Entries {
		attrMap := map[string][]string{}
		for _, a := range e.Attributes {
			attrMap[a.Name] = a.Values
		}
		out.Entries = append(out.Entries, &RawEntry{DN: e.DN, Attrs: attrMap})
	}
	return out, nil
}

func (c *ldapConnClient) Modify(ctx context.Context, dn string, mods []Mod) error {
	req := ldap.NewModifyRequest(dn, nil)
	for _, m := range mods {
		switch m.Op {
		case ModAdd:
			req.Add(m.Attr, m.Values)
		case ModDelete:
			req.Delete(m.Attr, m.Values)
		case ModReplace:
			req.Replace(m.Attr, m.Values)
		}
	}
	if err := c.conn.Modify(req); err != nil {
		return translateLdapErr("Modify", err)
	}
	return nil
}

func (c *ldapConnClient) Add(ctx context.Context, dn string, attrs map[string][]string) error {
	req := ldap.NewAddRequest(dn, nil)
	for name, values := range attrs {
		req.Attribute(name, values)
	}
	if err := c.conn.Add(req); err != nil {
		return translateLdapErr("Add", err)
	}
	return nil
}

func (c *ldapConnClient) Delete(ctx context.Context, dn string) error {
	req := ldap.NewDelRequest(dn, nil)
	if err := c.conn.Del(req); err != nil {
		return translateLdapErr("Delete", err)
	}
	return nil
}

// translateLdapErr maps a go-ldap error's result code onto this
// package's Kind taxonomy, matching handle_connection_error's switch
// in the original source.
func translateLdapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	ldapErr, ok := err.(*ldap.Error)
	if !ok {
		return newErr(op, KindFailure, err)
	}
	switch ldapErr.ResultCode {
	case ldap.LDAPResultNoSuchObject:
		return newErr(op, KindNotFound, err)
	case ldap.LDAPResultNoSuchAttribute:
		return newErr(op, KindNotFound, err)
	case ldap.LDAPResultInvalidCredentials:
		return newErr(op, KindNoPerm, err)
	case ldap.LDAPResultTimeLimitExceeded:
		return newErr(op, KindTimedOut, err)
	case ldap.LDAPResultInvalidDNSyntax, ldap.LDAPResultInappropriateMatching:
		return newErr(op, KindUnexpectedToken, err)
	default:
		return newErr(op, KindFailure, fmt.Errorf("%s: %w", op, err))
	}
}

// resultCode walks err's Unwrap chain looking for the underlying
// *ldap.Error, since translateLdapErr always wraps one inside our own
// *Error type.
func resultCode(err error) (uint16, bool) {
	for err != nil {
		if le, ok := err.(*ldap.Error); ok {
			return le.ResultCode, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return 0, false
		}
		err = u.Unwrap()
	}
	return 0, false
}

// IsNoSuchObject reports whether err denotes LDAP's no_such_object
// result, used by the record writer to retry MOD_ADD as a full add.
func IsNoSuchObject(err error) bool {
	code, ok := resultCode(err)
	return ok && code == ldap.LDAPResultNoSuchObject
}

// IsNoSuchAttribute reports whether err denotes LDAP's
// no_such_attribute result, used by the record writer to treat a
// MOD_DELETE of an already-absent attribute as success.
func IsNoSuchAttribute(err error) bool {
	code, ok := resultCode(err)
	return ok && code == ldap.LDAPResultNoSuchAttribute
}
