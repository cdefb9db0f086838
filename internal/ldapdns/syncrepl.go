/*
 * Copyright (c) 2024 Tomas Krizek
 */
package ldapdns

import (
	"context"
	"fmt"
	"log"
	"time"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
)

// RFC 4533 control OIDs. go-ldap/v3 doesn't bundle Content Sync
// support directly, so the request control is built and the Sync Done
// response control is decoded by hand with the same asn1-ber package
// go-ldap itself uses under the hood for every other control. Per-entry
// Sync State controls are not decoded.
const (
	syncRequestOID = "1.3.6.1.4.1.4203.1.9.1.1"
	syncStateOID   = "1.3.6.1.4.1.4203.1.9.1.2"
	syncDoneOID    = "1.3.6.1.4.1.4203.1.9.1.3"
)

// syncRequestControl implements ldap.Control for the refreshAndPersist
// mode request: mode(3, refreshAndPersist), an optional resumption
// cookie, and reloadHint=false.
type syncRequestControl struct {
	cookie []byte
}

func (c *syncRequestControl) GetControlType() string { return syncRequestOID }
func (c *syncRequestControl) String() string {
	return fmt.Sprintf("SyncRequestControl(cookie=%q)", c.cookie)
}

func (c *syncRequestControl) Encode() *ber.Packet {
	p := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Control")
	p.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, syncRequestOID, "Control Type"))
	p.AppendChild(ber.NewBoolean(ber.ClassUniversal, ber.TypePrimitive, ber.TagBoolean, true, "Criticality"))

	inner := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "syncRequestValue")
	inner.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagEnumerated, int64(3), "mode"))
	if len(c.cookie) > 0 {
		inner.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, string(c.cookie), "cookie"))
	}
	p.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, string(inner.Bytes()), "Control Value"))
	return p
}

// SyncEvent is one callback invocation from the syncrepl loop: either
// a changed entry or a "refresh complete" marker.
type SyncEvent struct {
	RefreshDone bool
	Entry       *RawEntry
}

// SyncSession drives the watcher described in spec §4.K: one reserved
// pool connection, one long poll, with reconnect-on-error governed by
// the pool's own backoff schedule.
type SyncSession struct {
	pool    *Pool
	barrier *Barrier
	base    string
	filter  string

	cookie []byte
}

const defaultSyncFilter = "(|(objectClass=idnsConfigObject)(objectClass=idnsZone)(objectClass=idnsForwardZone)(objectClass=idnsRecord))"

func NewSyncSession(pool *Pool, barrier *Barrier, base string) *SyncSession {
	return &SyncSession{pool: pool, barrier: barrier, base: base, filter: defaultSyncFilter}
}

// Run blocks until ctx is cancelled, dispatching each observed entry
// to dispatch and signalling the barrier when the server reports the
// initial refresh is complete. Connection errors restart the session
// from a fresh reserved-connection bind, honoring the pool's backoff.
func (s *SyncSession) Run(ctx context.Context, dispatch func(context.Context, SyncEvent)) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.runOnce(ctx, dispatch); err != nil {
			log.Printf("ldapdns: syncrepl session error: %v", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
	}
}

func (s *SyncSession) runOnce(ctx context.Context, dispatch func(context.Context, SyncEvent)) error {
	c, err := s.pool.ReservedConn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(c)

	req := ldap.NewSearchRequest(
		s.base, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases,
		0, 0, false, s.filter, nil, []ldap.Control{&syncRequestControl{cookie: s.cookie}},
	)

	res, err := c.conn.Search(req)
	if err != nil {
		return translateLdapErr("SyncSession.Search", err)
	}

	for _, e := range res.Entries {
		attrMap := map[string][]string{}
		for _, a := range e.Attributes {
			attrMap[a.Name] = a.Values
		}
		dispatch(ctx, SyncEvent{Entry: &RawEntry{DN: e.DN, Attrs: attrMap}})
	}

	if cookie, done := decodeSyncDone(res.Controls); done {
		s.cookie = cookie
		dispatch(ctx, SyncEvent{RefreshDone: true})
		s.barrier.Wait()
	}

	return nil
}

// decodeSyncDone looks for the Sync Done control among resp and
// extracts its resumption cookie.
func decodeSyncDone(controls []ldap.Control) ([]byte, bool) {
	for _, ctrl := range controls {
		if ctrl.GetControlType() != syncDoneOID {
			continue
		}
		// go-ldap hands back an unknown control as *ControlString whose
		// ControlValue holds the raw BER syncDoneValue:
		// SEQUENCE { cookie OCTET STRING OPTIONAL, refreshDeletes BOOLEAN }.
		cs, ok := ctrl.(*ldap.ControlString)
		if !ok || cs.ControlValue == "" {
			return nil, true
		}
		p, err := ber.DecodePacketErr([]byte(cs.ControlValue))
		if err != nil {
			return nil, true
		}
		for _, child := range p.Children {
			if s, ok := child.Value.(string); ok && child.Tag == ber.TagOctetString {
				return []byte(s), true
			}
		}
		return nil, true
	}
	return nil, false
}
