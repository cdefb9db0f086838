/*
 * Copyright (c) 2024 Tomas Krizek
 */
package ldapdns

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/miekg/dns"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultTables are the journal's schema, created on first open the
// same way the host server's own db.go seeds its KeyDB tables: one
// CREATE TABLE IF NOT EXISTS per table, executed unconditionally at
// startup so an upgrade never needs an explicit migration step for a
// table that didn't change shape.
var DefaultTables = map[string]string{
	"zone_journal": `CREATE TABLE IF NOT EXISTS zone_journal (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		zone TEXT NOT NULL,
		serial INTEGER NOT NULL,
		applied_at INTEGER NOT NULL,
		diff_json TEXT NOT NULL
	)`,
	"zone_serial": `CREATE TABLE IF NOT EXISTS zone_serial (
		zone TEXT PRIMARY KEY,
		serial INTEGER NOT NULL
	)`,
}

// Journal persists applied diffs per zone, gated (by the caller, in
// zoneTask.apply) on the sync barrier having reached StateFinished:
// spec §4.L is explicit that journal writes are not durable record of
// truth until the initial LDAP snapshot has fully loaded.
type Journal struct {
	db *sql.DB
}

func OpenJournal(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, newErr("OpenJournal", KindFailure, err)
	}
	for _, ddl := range DefaultTables {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, newErr("OpenJournal", KindFailure, fmt.Errorf("creating schema: %w", err))
		}
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error { return j.db.Close() }

// jsonTuple is Tuple's on-disk representation: dns.RR doesn't round
// trip through encoding/json on its own, so the journal stores the
// RR's presentation-form text and reparses it on read.
type jsonTuple struct {
	Op    DiffOp `json:"op"`
	Owner string `json:"owner"`
	Type  uint16 `json:"type"`
	TTL   uint32 `json:"ttl"`
	Text  string `json:"text"`
}

// Append records diff against zone, along with the serial the diff's
// SOA bump (if any) produced.
func (j *Journal) Append(zone string, diff []Tuple) error {
	jts := make([]jsonTuple, 0, len(diff))
	var serial uint32
	haveSerial := false
	for _, t := range diff {
		jts = append(jts, jsonTuple{Op: t.Op, Owner: t.Owner, Type: t.Type, TTL: t.TTL, Text: t.RR.String()})
		if t.IsSOA() && t.Op == OpAdd {
			if soa, ok := t.RR.(*dns.SOA); ok {
				serial = soa.Serial
				haveSerial = true
			}
		}
	}

	payload, err := json.Marshal(jts)
	if err != nil {
		return newErr("Journal.Append", KindFailure, err)
	}

	tx, err := j.db.Begin()
	if err != nil {
		return newErr("Journal.Append", KindFailure, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO zone_journal (zone, serial, applied_at, diff_json) VALUES (?, ?, ?, ?)`,
		zone, serial, time.Now().Unix(), string(payload)); err != nil {
		return newErr("Journal.Append", KindFailure, err)
	}
	if haveSerial {
		if _, err := tx.Exec(`INSERT INTO zone_serial (zone, serial) VALUES (?, ?)
		ON CONFLICT(zone) DO UPDATE SET serial = excluded.serial`, zone, serial); err != nil {
			return newErr("Journal.Append", KindFailure, err)
		}
	}
	return tx.Commit()
}

// LastSerial returns the most recently journaled serial for zone, or
// ok=false if the zone has never been journaled.
func (j *Journal) LastSerial(zone string) (serial uint32, ok bool, err error) {
	row := j.db.QueryRow(`SELECT serial FROM zone_serial WHERE zone = ?`, zone)
	if scanErr := row.Scan(&serial); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, newErr("Journal.LastSerial", KindFailure, scanErr)
	}
	return serial, true, nil
}
