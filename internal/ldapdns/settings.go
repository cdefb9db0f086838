/*
 * Copyright (c) 2024 Tomas Krizek
 */
package ldapdns

import "fmt"

// AuthMethod enumerates the bind strategies recognized by the pool.
type AuthMethod uint8

const (
	AuthNone AuthMethod = iota
	AuthSimple
	AuthSASL
)

// Settings is one layer of the local -> global -> zone -> default
// cascade described in spec §4.E. Every layer shares this struct shape;
// Lookup walks the layers in order and returns the first one that has
// an explicit value for a given field.
type Settings struct {
	URI               string
	Base              string
	Connections       uint
	ReconnectInterval uint
	Timeout           uint
	AuthMethod        AuthMethod
	SaslMech          string
	Krb5Principal     string
	Krb5Keytab        string
	BindDN            string
	Password          string
	FakeMname         string
	SyncPTR           *bool
	DynUpdate         *bool
	Directory         string

	set map[string]bool // tracks which fields were explicitly assigned on this layer
}

func NewSettings() *Settings {
	return &Settings{set: map[string]bool{}}
}

func (s *Settings) markSet(field string) {
	if s.set == nil {
		s.set = map[string]bool{}
	}
	s.set[field] = true
}

func (s *Settings) isSet(field string) bool { return s.set != nil && s.set[field] }

// The SetX methods are how a config loader populates one layer of the
// cascade, recording that the field was explicitly assigned so lower
// layers don't shadow it with their own zero value.
func (s *Settings) SetURI(v string)               { s.URI = v; s.markSet("URI") }
func (s *Settings) SetBase(v string)               { s.Base = v; s.markSet("Base") }
func (s *Settings) SetDirectory(v string)          { s.Directory = v; s.markSet("Directory") }
func (s *Settings) SetFakeMname(v string)          { s.FakeMname = v; s.markSet("FakeMname") }
func (s *Settings) SetConnections(v uint)          { s.Connections = v; s.markSet("Connections") }
func (s *Settings) SetTimeout(v uint)              { s.Timeout = v; s.markSet("Timeout") }
func (s *Settings) SetReconnectInterval(v uint)    { s.ReconnectInterval = v; s.markSet("ReconnectInterval") }
func (s *Settings) SetAuthMethod(v AuthMethod)     { s.AuthMethod = v; s.markSet("AuthMethod") }
func (s *Settings) SetBindDN(v string)             { s.BindDN = v; s.markSet("BindDN") }
func (s *Settings) SetPassword(v string)           { s.Password = v; s.markSet("Password") }
func (s *Settings) SetSaslMech(v string)           { s.SaslMech = v; s.markSet("SaslMech") }
func (s *Settings) SetKrb5Principal(v string)      { s.Krb5Principal = v; s.markSet("Krb5Principal") }
func (s *Settings) SetKrb5Keytab(v string)         { s.Krb5Keytab = v; s.markSet("Krb5Keytab") }
func (s *Settings) SetSyncPTR(v bool)              { s.SyncPTR = &v }
func (s *Settings) SetDynUpdate(v bool)            { s.DynUpdate = &v }

// Validate rejects configuration combinations spec §4.E forbids:
// simple bind without credentials, SASL credentials supplied without
// sasl auth, and a pool smaller than 2 connections.
func (s *Settings) Validate() error {
	if s.AuthMethod == AuthSimple && (s.BindDN == "" || s.Password == "") {
		return newErr("Settings.Validate", KindUnexpectedToken, fmt.Errorf("auth_method=simple requires both bind_dn and password"))
	}
	if s.AuthMethod != AuthSASL && (s.Krb5Principal != "" || s.Krb5Keytab != "") {
		return newErr("Settings.Validate", KindUnexpectedToken, fmt.Errorf("krb5_principal/keytab require auth_method=sasl"))
	}
	if s.Connections != 0 && s.Connections < 2 {
		return newErr("Settings.Validate", KindUnexpectedToken, fmt.Errorf("connections must be >= 2, got %d", s.Connections))
	}
	return nil
}

// Cascade resolves the local -> global -> zone -> default lookup order.
// A field is considered "explicitly set" on a layer if that layer's
// loader called one of the Set* setters for it; zero values that were
// never explicitly assigned fall through to the next layer.
type Cascade struct {
	Local, Global, Zone, Default *Settings
}

func NewCascade() *Cascade {
	d := NewSettings()
	d.Connections = DefaultConnections
	d.Timeout = DefaultTimeout
	d.ReconnectInterval = DefaultReconnect
	d.SaslMech = DefaultSaslMech
	d.markSet("Connections")
	d.markSet("Timeout")
	d.markSet("ReconnectInterval")
	d.markSet("SaslMech")
	return &Cascade{Local: NewSettings(), Global: NewSettings(), Zone: NewSettings(), Default: d}
}

func (c *Cascade) layers() []*Settings { return []*Settings{c.Local, c.Global, c.Zone, c.Default} }

func (c *Cascade) URI() string               { return c.str(func(s *Settings) (string, bool) { return s.URI, s.isSet("URI") }) }
func (c *Cascade) Base() string              { return c.str(func(s *Settings) (string, bool) { return s.Base, s.isSet("Base") }) }
func (c *Cascade) Directory() string         { return c.str(func(s *Settings) (string, bool) { return s.Directory, s.isSet("Directory") }) }
func (c *Cascade) FakeMname() string         { return c.str(func(s *Settings) (string, bool) { return s.FakeMname, s.isSet("FakeMname") }) }

func (c *Cascade) Connections() uint {
	return c.uint(func(s *Settings) (uint, bool) { return s.Connections, s.isSet("Connections") })
}
func (c *Cascade) Timeout() uint {
	return c.uint(func(s *Settings) (uint, bool) { return s.Timeout, s.isSet("Timeout") })
}
func (c *Cascade) ReconnectInterval() uint {
	return c.uint(func(s *Settings) (uint, bool) { return s.ReconnectInterval, s.isSet("ReconnectInterval") })
}

func (c *Cascade) bindDN() string        { return c.str(func(s *Settings) (string, bool) { return s.BindDN, s.isSet("BindDN") }) }
func (c *Cascade) password() string      { return c.str(func(s *Settings) (string, bool) { return s.Password, s.isSet("Password") }) }
func (c *Cascade) SaslMech() string      { return c.str(func(s *Settings) (string, bool) { return s.SaslMech, s.isSet("SaslMech") }) }
func (c *Cascade) krb5Principal() string { return c.str(func(s *Settings) (string, bool) { return s.Krb5Principal, s.isSet("Krb5Principal") }) }
func (c *Cascade) krb5Keytab() string    { return c.str(func(s *Settings) (string, bool) { return s.Krb5Keytab, s.isSet("Krb5Keytab") }) }

func (c *Cascade) authMethod() AuthMethod {
	for _, l := range c.layers() {
		if l.isSet("AuthMethod") {
			return l.AuthMethod
		}
	}
	return AuthNone
}

func (c *Cascade) SyncPTR() bool {
	for _, l := range c.layers() {
		if l.SyncPTR != nil {
			return *l.SyncPTR
		}
	}
	return false
}

func (c *Cascade) DynUpdate() bool {
	for _, l := range c.layers() {
		if l.DynUpdate != nil {
			return *l.DynUpdate
		}
	}
	return false
}

func (c *Cascade) str(get func(*Settings) (string, bool)) string {
	for _, l := range c.layers() {
		if v, ok := get(l); ok {
			return v
		}
	}
	return ""
}

func (c *Cascade) uint(get func(*Settings) (uint, bool)) uint {
	for _, l := range c.layers() {
		if v, ok := get(l); ok {
			return v
		}
	}
	return 0
}

// Known obsolete options of the "ldap" section: LoadConfig logs one
// line for each that is set and otherwise ignores it rather than
// rejecting the config outright, matching the source's tolerance for stale config fragments
// left over from older deployments.
var ObsoleteOptions = map[string]bool{
	"cache_ttl":             true,
	"psearch":               true,
	"serial_autoincrement":  true,
	"zone_refresh":          true,
}
