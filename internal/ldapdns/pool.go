/*
 * Copyright (c) 2024 Tomas Krizek
 */
package ldapdns

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
)

// reconnectSchedule is BIND's fixed backoff ladder; the last entry
// stands in for "infinite" and is clamped by reconnect_interval at
// use, matching intervals[] = {2, 5, 20, UINT_MAX} in ldap_reconnect.
var reconnectSchedule = []uint{2, 5, 20, ^uint(0)}

// poolConn is one slot of the pool: a handle and the mutex that
// serializes every read/write access to it, per the ldap_connection_t
// comment in the source ("protected by lock and pool's semaphore").
type poolConn struct {
	mu            sync.Mutex
	client        LdapClient
	conn          *ldap.Conn
	tries         uint
	nextReconnect time.Time
	reserved      bool // true for the syncrepl watcher's dedicated slot
}

// Pool is the fixed-size (N >= 2) connection pool described in spec
// §4.C. Acquisition waits on a semaphore sized to the non-reserved
// slots, then claims the first slot whose mutex is free — exactly
// "wait(semaphore) -> trylock each slot in order -> return first
// locked". At least one slot is reserved up front for the syncrepl
// watcher so a burst of user-triggered modifies can never starve it.
type Pool struct {
	cascade *Cascade
	auth    AuthProvider
	shared  *Shared

	conns []*poolConn
	sem   chan struct{}
}

// NewPool builds a pool sized to cascade.Connections(), reserving
// exactly one connection (index 0) for the syncrepl watcher.
func NewPool(cascade *Cascade, auth AuthProvider, shared *Shared) *Pool {
	n := cascade.Connections()
	if n < 2 {
		n = DefaultConnections
	}
	p := &Pool{
		cascade: cascade,
		auth:    auth,
		shared:  shared,
		conns:   make([]*poolConn, n),
		sem:     make(chan struct{}, n-1),
	}
	for i := range p.conns {
		p.conns[i] = &poolConn{reserved: i == 0}
	}
	return p
}

// ReservedConn returns the syncrepl watcher's dedicated connection
// without going through the semaphore — it must never block behind
// user-triggered modify traffic.
func (p *Pool) ReservedConn(ctx context.Context) (*poolConn, error) {
	c := p.conns[0]
	c.mu.Lock()
	if err := p.ensureBound(ctx, c, false); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	return c, nil
}

// Release unlocks a connection acquired via Acquire or ReservedConn.
func (p *Pool) Release(c *poolConn) {
	c.mu.Unlock()
	if !c.reserved {
		select {
		case <-p.sem:
		default:
		}
	}
}

// Acquire waits for a non-reserved slot's semaphore token, then
// trylocks each non-reserved connection in order and returns the
// first one it can lock, ensuring it is bound before returning.
// Acquisition times out after timeout x multiplier the way spec §4.C
// requires, surfacing a deadlock hint rather than hanging forever.
func (p *Pool) Acquire(ctx context.Context) (*poolConn, error) {
	const multiplier = 3
	timeout := time.Duration(p.cascade.Timeout()) * multiplier * time.Second

	acquireCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case p.sem <- struct{}{}:
	case <-acquireCtx.Done():
		return nil, newErr("Pool.Acquire", KindTimedOut, fmt.Errorf("timed out waiting for a free connection after %s; raise 'connections' parameter, potential deadlock?", timeout))
	}

	for {
		for _, c := range p.conns {
			if c.reserved {
				continue
			}
			if c.mu.TryLock() {
				if err := p.ensureBound(ctx, c, false); err != nil {
					c.mu.Unlock()
					<-p.sem
					return nil, err
				}
				return c, nil
			}
		}
		select {
		case <-acquireCtx.Done():
			<-p.sem
			return nil, newErr("Pool.Acquire", KindTimedOut, fmt.Errorf("timed out waiting for a free connection after %s; raise 'connections' parameter, potential deadlock?", timeout))
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// ensureBound reconnects c if it has no live handle, respecting the
// backoff schedule unless force is set.
func (p *Pool) ensureBound(ctx context.Context, c *poolConn, force bool) error {
	if c.conn != nil && !force {
		return nil
	}
	return p.reconnect(ctx, c, force)
}

// reconnect mirrors ldap_connect/ldap_reconnect: honor the backoff
// schedule unless forced, dial fresh, bind per the configured auth
// method, and map bind failures onto this package's error kinds.
func (p *Pool) reconnect(ctx context.Context, c *poolConn, force bool) error {
	if !force && c.tries > 0 && time.Now().Before(c.nextReconnect) {
		return newErr("Pool.reconnect", KindNotConnected, fmt.Errorf("waiting for backoff window"))
	}

	if !force {
		i := c.tries
		if i >= uint(len(reconnectSchedule)) {
			i = uint(len(reconnectSchedule)) - 1
		}
		delay := reconnectSchedule[i]
		if iv := p.cascade.ReconnectInterval(); iv < delay {
			delay = iv
		}
		c.nextReconnect = time.Now().Add(time.Duration(delay) * time.Second)
		c.tries++
	}

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	conn, err := ldap.DialURL(p.cascade.URI())
	if err != nil {
		return newErr("Pool.reconnect", KindNotConnected, err)
	}
	conn.SetTimeout(time.Duration(p.cascade.Timeout()) * time.Second)

	if err := p.bind(conn); err != nil {
		conn.Close()
		return err
	}

	c.conn = conn
	c.client = &ldapConnClient{conn: conn}
	c.tries = 0
	return nil
}

// bind performs one bind attempt per the configured auth method,
// matching ldap_reconnect's auth_method_enum switch.
func (p *Pool) bind(conn *ldap.Conn) error {
	params := bindParamsFromCascade(p.cascade)

	switch params.AuthMethod {
	case AuthNone:
		return translateBindErr(conn.UnauthenticatedBind(""))

	case AuthSimple:
		if params.BindDN == "" || params.Password == "" {
			return newErr("Pool.bind", KindUnexpectedToken, fmt.Errorf("auth_method=simple requires bind_dn and password"))
		}
		return translateBindErr(conn.Bind(params.BindDN, params.Password))

	case AuthSASL:
		if params.SaslMech == "GSSAPI" {
			var tgtErr error
			p.shared.WithKinitLock(func() error {
				tgtErr = p.auth.AcquireTGT(params.Krb5Principal, params.Krb5Keytab)
				return tgtErr
			})
			if tgtErr != nil {
				return newErr("Pool.bind", KindNotConnected, tgtErr)
			}

			spn, err := spnFromURI(params.URI)
			if err != nil {
				return err
			}
			gssClient, err := gssapi.NewClientFromCCache("", "")
			if err != nil {
				return newErr("Pool.bind", KindNotConnected, fmt.Errorf("loading Kerberos ccache: %w", err))
			}
			defer gssClient.Close()
			return translateBindErr(conn.GSSAPIBind(gssClient, spn, ""))
		}
		return translateBindErr(conn.Bind(params.BindDN, params.Password))

	default:
		return newErr("Pool.bind", KindFailure, fmt.Errorf("unsupported auth method"))
	}
}

// translateBindErr maps a bind failure per the source's result table:
// invalid_credentials -> NoPerm, server_down -> NotConnected,
// timeout -> TimedOut, anything else -> generic Failure.
func translateBindErr(err error) error {
	if err == nil {
		return nil
	}
	code, ok := resultCode(err)
	if !ok {
		return newErr("bind", KindFailure, err)
	}
	switch code {
	case ldap.LDAPResultInvalidCredentials:
		return newErr("bind", KindNoPerm, err)
	case ldap.LDAPResultUnavailable:
		return newErr("bind", KindNotConnected, err)
	case ldap.LDAPResultTimeLimitExceeded:
		return newErr("bind", KindTimedOut, err)
	default:
		return newErr("bind", KindFailure, err)
	}
}

// Client returns the LdapClient for an acquired connection.
func (c *poolConn) Client() LdapClient { return c.client }
