/*
 * Copyright (c) 2024 Tomas Krizek
 */
package ldapdns

import (
	"fmt"
	"net"
	"strings"
)

// ForwardPolicy mirrors BIND's forward directive values.
type ForwardPolicy uint8

const (
	ForwardFirst ForwardPolicy = iota
	ForwardOnly
	ForwardNone
)

func ParseForwardPolicy(s string) (ForwardPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first":
		return ForwardFirst, nil
	case "only":
		return ForwardOnly, nil
	case "none":
		return ForwardNone, nil
	default:
		return ForwardFirst, newErr("ParseForwardPolicy", KindUnexpectedToken, fmt.Errorf("unknown idnsForwardPolicy %q", s))
	}
}

// ForwardTable is the set of forwarders and the policy governing them,
// as configured by either the root config entry or a forward-zone
// entry.
type ForwardTable struct {
	Policy     ForwardPolicy
	Forwarders []net.IP
}

func (ft ForwardTable) equal(other ForwardTable) bool {
	if ft.Policy != other.Policy || len(ft.Forwarders) != len(other.Forwarders) {
		return false
	}
	for i, ip := range ft.Forwarders {
		if !ip.Equal(other.Forwarders[i]) {
			return false
		}
	}
	return true
}

// HostDns is the forwarder configurator's collaborator: the
// facilities on the running DNS server that own the actual view
// forward table and cache, described in spec §6.
type HostDns interface {
	SetForward(zone string, table ForwardTable) error
	FlushCache(zone string) error
	DefaultForwarders() []net.IP
}

// ConfigureForward applies spec §4.J: parse the entry's forward
// policy/list, diff it against the view's current table, and push a
// change only when something actually differs — an unconditional push
// on every LDAP notification would flush the resolver cache on every
// syncrepl tick even when nothing changed.
func ConfigureForward(host HostDns, zoneName string, current ForwardTable, policyAttr, listAttr []string, isRoot bool) (ForwardTable, error) {
	policyText := ""
	if len(policyAttr) > 0 {
		policyText = policyAttr[0]
	}
	policy, err := ParseForwardPolicy(policyText)
	if err != nil {
		return current, err
	}

	var forwarders []net.IP
	if policy != ForwardNone {
		for _, addr := range listAttr {
			ip := net.ParseIP(strings.TrimSpace(addr))
			if ip == nil {
				return current, newErr("ConfigureForward", KindUnexpectedToken, fmt.Errorf("invalid forwarder address %q", addr))
			}
			forwarders = append(forwarders, ip)
		}
		if isRoot && len(forwarders) == 0 {
			forwarders = host.DefaultForwarders()
		}
	}

	next := ForwardTable{Policy: policy, Forwarders: forwarders}
	if next.equal(current) {
		return current, nil
	}

	if err := host.SetForward(zoneName, next); err != nil {
		return current, err
	}
	if err := host.FlushCache(zoneName); err != nil {
		return current, err
	}

	if policy == ForwardNone {
		return next, newErr("ConfigureForward", KindDisabled, nil)
	}
	return next, nil
}
