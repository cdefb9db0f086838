/*
 * Copyright (c) 2024 Tomas Krizek
 */
package ldapdns

import (
	"fmt"
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the top-level shape this engine's configuration file
// unmarshals into, following the host server's own Config struct
// layout: one struct per concern, validated section-by-section so a
// missing field in one section doesn't hide a problem in another.
type Config struct {
	App  AppConf  `mapstructure:"app"`
	Log  LogConf  `mapstructure:"log"`
	LDAP LdapConf `mapstructure:"ldap"`
	Db   DbConf   `mapstructure:"db"`

	Zones map[string]ZoneConf `mapstructure:"zones"`
}

type AppConf struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

type LogConf struct {
	File string `mapstructure:"file"`
}

// LdapConf is the global settings layer of the cascade, unmarshalled
// directly from the "ldap" section. uri and base are the two keys
// spec §6 calls out as fatal-if-missing.
type LdapConf struct {
	URI               string `mapstructure:"uri" validate:"required"`
	Base              string `mapstructure:"base" validate:"required"`
	Connections       uint   `mapstructure:"connections"`
	Timeout           uint   `mapstructure:"timeout"`
	ReconnectInterval uint   `mapstructure:"reconnect_interval"`
	AuthMethod        string `mapstructure:"auth_method"`
	SaslMech          string `mapstructure:"sasl_mech"`
	Krb5Principal     string `mapstructure:"krb5_principal"`
	Krb5Keytab        string `mapstructure:"krb5_keytab"`
	BindDN            string `mapstructure:"bind_dn"`
	Password          string `mapstructure:"password"`
	FakeMname         string `mapstructure:"fake_mname"`
	SyncPTR           bool   `mapstructure:"sync_ptr"`
	DynUpdate         bool   `mapstructure:"dyn_update"`
	Directory         string `mapstructure:"directory" validate:"required"`
}

type DbConf struct {
	JournalPath string `mapstructure:"journal_path" validate:"required"`
}

// ZoneConf is one entry of the zones section: the Zone-layer settings
// for a single zone, keyed by zone name in the Config.Zones map.
type ZoneConf struct {
	URI         string `mapstructure:"uri"`
	Base        string `mapstructure:"base"`
	Connections uint   `mapstructure:"connections"`
	SyncPTR     *bool  `mapstructure:"sync_ptr"`
	DynUpdate   *bool  `mapstructure:"dyn_update"`
	FakeMname   string `mapstructure:"fake_mname"`
}

// LoadConfig reads and unmarshals cfgfile via viper, the way the host
// server's own ParseConfig does, then validates it section by section.
func LoadConfig(cfgfile string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(cfgfile)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, newErr("LoadConfig", KindFailure, fmt.Errorf("reading %s: %w", cfgfile, err))
	}

	for opt := range ObsoleteOptions {
		if v.IsSet("ldap." + opt) {
			log.Printf("ldapdns: config: ignoring obsolete option ldap.%s", opt)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, newErr("LoadConfig", KindFailure, fmt.Errorf("unmarshalling %s: %w", cfgfile, err))
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ValidateConfig runs struct-tag validation over every section that
// declares required fields, mirroring ValidateBySection's per-section
// validator.New() calls in the host server.
func ValidateConfig(cfg *Config) error {
	validate := validator.New()

	sections := map[string]interface{}{
		"ldap": &cfg.LDAP,
		"db":   &cfg.Db,
	}
	for name, section := range sections {
		if err := validate.Struct(section); err != nil {
			return newErr("ValidateConfig", KindUnexpectedToken, fmt.Errorf("section %q: %w", name, err))
		}
	}
	return nil
}

// ToCascade converts the global LdapConf section into the Default
// layer's sibling: the Global layer of an Instance's settings
// cascade.
func (c *LdapConf) ToCascade() (*Cascade, error) {
	cascade := NewCascade()
	g := cascade.Global

	if c.URI != "" {
		g.SetURI(c.URI)
	}
	if c.Base != "" {
		g.SetBase(c.Base)
	}
	if c.Connections != 0 {
		g.SetConnections(c.Connections)
	}
	if c.Timeout != 0 {
		g.SetTimeout(c.Timeout)
	}
	if c.ReconnectInterval != 0 {
		g.SetReconnectInterval(c.ReconnectInterval)
	}
	if c.Directory != "" {
		g.SetDirectory(c.Directory)
	}
	if c.FakeMname != "" {
		g.SetFakeMname(c.FakeMname)
	}
	g.SetSyncPTR(c.SyncPTR)
	g.SetDynUpdate(c.DynUpdate)

	switch c.AuthMethod {
	case "simple":
		g.SetAuthMethod(AuthSimple)
		g.SetBindDN(c.BindDN)
		g.SetPassword(c.Password)
	case "sasl":
		g.SetAuthMethod(AuthSASL)
		if c.SaslMech != "" {
			g.SetSaslMech(c.SaslMech)
		}
		g.SetKrb5Principal(c.Krb5Principal)
		g.SetKrb5Keytab(c.Krb5Keytab)
	default:
		g.SetAuthMethod(AuthNone)
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}

	return cascade, nil
}

// ToSettings converts one zones-section entry into the Zone layer a
// per-zone Cascade will use, for zones that carry a local config
// override on top of whatever the directory itself advertises.
func (zc *ZoneConf) ToSettings() *Settings {
	s := NewSettings()
	if zc.URI != "" {
		s.SetURI(zc.URI)
	}
	if zc.Base != "" {
		s.SetBase(zc.Base)
	}
	if zc.Connections != 0 {
		s.SetConnections(zc.Connections)
	}
	if zc.FakeMname != "" {
		s.SetFakeMname(zc.FakeMname)
	}
	if zc.SyncPTR != nil {
		s.SetSyncPTR(*zc.SyncPTR)
	}
	if zc.DynUpdate != nil {
		s.SetDynUpdate(*zc.DynUpdate)
	}
	return s
}
