/*
 * Copyright (c) 2024 Tomas Krizek
 */
package ldapdns

const (
	DefaultCfgFile = "/etc/named/bind-dyndb-ldap.yaml"

	DefaultTTL         uint32 = 86400
	DefaultConnections uint   = 2
	DefaultTimeout     uint   = 30
	DefaultReconnect   uint   = 60
	DefaultSaslMech           = "GSSAPI"

	// LDAP attribute suffix identifying an rdata-carrying attribute,
	// e.g. "ARecord", "AAAARecord", "MXRecord".
	RdataAttrSuffix = "Record"

	// Reconnect back-off steps, in seconds, listed below. The pool does
	// not read ReconnectSchedule; its back-off comes from the
	// reconnectSchedule table in pool.go.
)

var ReconnectSchedule = []uint{2, 5, 20}

// RBDATA scratch buffers must be able to hold the largest legal rdata
// blob that the wire format allows for a single RR.
const MaxRdataBufSize = 65518
