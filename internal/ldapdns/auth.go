/*
 * Copyright (c) 2024 Tomas Krizek
 */
package ldapdns

import (
	"fmt"
	"net/url"
	"os/exec"
)

// AuthProvider is the collaborator that knows how to acquire a
// Kerberos TGT for GSSAPI SASL bind. get_krb5_tgt in the original
// source is documented as non-reentrant, which is why every call to
// AcquireTGT must happen under Shared.WithKinitLock.
type AuthProvider interface {
	AcquireTGT(principal, keytab string) error
}

// noAuthProvider is used when auth_method never requires Kerberos;
// calling it at all indicates a configuration/Validate bug.
type noAuthProvider struct{}

func (noAuthProvider) AcquireTGT(principal, keytab string) error {
	return newErr("AcquireTGT", KindNotConnected, fmt.Errorf("no AuthProvider configured for GSSAPI bind"))
}

// kinitAuthProvider shells out to the system kinit binary, the same
// strategy get_krb5_tgt falls back to when no native krb5 bindings are
// linked in: acquire a TGT into the default ccache from a keytab, then
// let gokrb5/go-ldap's own GSSAPI SASL bind pick it up from there.
type kinitAuthProvider struct {
	kinitPath string
}

func NewKinitAuthProvider() AuthProvider {
	return &kinitAuthProvider{kinitPath: "kinit"}
}

func (p *kinitAuthProvider) AcquireTGT(principal, keytab string) error {
	cmd := exec.Command(p.kinitPath, "-k", "-t", keytab, principal)
	if out, err := cmd.CombinedOutput(); err != nil {
		return newErr("AcquireTGT", KindFailure, fmt.Errorf("kinit -k -t %s %s: %w: %s", keytab, principal, err, out))
	}
	return nil
}

// bindParams is the resolved set of values Pool.bind needs to
// perform one bind attempt, already pulled out of a Cascade so the
// pool layer doesn't need to know about settings precedence.
type bindParams struct {
	AuthMethod    AuthMethod
	URI           string
	BindDN        string
	Password      string
	SaslMech      string
	Krb5Principal string
	Krb5Keytab    string
}

func bindParamsFromCascade(c *Cascade) bindParams {
	return bindParams{
		AuthMethod:    c.authMethod(),
		URI:           c.URI(),
		BindDN:        c.bindDN(),
		Password:      c.password(),
		SaslMech:      c.SaslMech(),
		Krb5Principal: c.krb5Principal(),
		Krb5Keytab:    c.krb5Keytab(),
	}
}

// spnFromURI derives the GSSAPI service principal name a SASL bind
// authenticates against from the configured LDAP URI: "ldap/<host>",
// matching the ldap/<fqdn> service principal the original source's
// SASL interactive bind negotiates against.
func spnFromURI(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", newErr("spnFromURI", KindUnexpectedToken, fmt.Errorf("parsing ldap_uri %q: %w", uri, err))
	}
	host := u.Hostname()
	if host == "" {
		return "", newErr("spnFromURI", KindUnexpectedToken, fmt.Errorf("ldap_uri %q has no host", uri))
	}
	return "ldap/" + host, nil
}
