// Package inventory records every device the control point has seen in a
// SQLite database, so that discovery runs can be compared over time.
package inventory

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/muurk/upnpcp/internal/device"
)

// Sighting events.
const (
	EventAdded   = "added"
	EventUpdated = "updated"
	EventRemoved = "removed"
)

// ErrNilDevice is returned by RecordSighting for a nil device.
var ErrNilDevice = errors.New("inventory: nil device")

// Device is the stored summary of a root device.
type Device struct {
	UDN          string
	DeviceType   string
	FriendlyName string
	Manufacturer string
	ModelName    string
	Location     string
	Source       string
	FirstSeen    time.Time
	LastSeen     time.Time
	Sightings    int
}

// Sighting is one lifecycle event of a device.
type Sighting struct {
	ID       int64
	UDN      string
	Event    string
	Location string
	At       time.Time
}

// Store is a SQLite backed device inventory. It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open inventory %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases shared between calls.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS devices (
			udn TEXT PRIMARY KEY,
			device_type TEXT NOT NULL,
			friendly_name TEXT,
			manufacturer TEXT,
			model_name TEXT,
			location TEXT,
			source TEXT,
			first_seen TEXT NOT NULL,
			last_seen TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sightings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			udn TEXT NOT NULL,
			event TEXT NOT NULL,
			location TEXT,
			at TEXT NOT NULL,
			FOREIGN KEY (udn) REFERENCES devices (udn)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sightings_udn ON sightings (udn);`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("create inventory tables: %w", err)
		}
	}
	return nil
}

// RecordSighting upserts the device row and appends a sighting. Only the
// root device is stored; embedded devices are part of its description.
func (s *Store) RecordSighting(dev *device.Device, event string, at time.Time) error {
	if dev == nil {
		return ErrNilDevice
	}
	dev = dev.Root()
	ts := at.UTC().Format(time.RFC3339Nano)
	source := ""
	if ip := dev.Source(); ip != nil {
		source = ip.String()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(
		`INSERT INTO devices (udn, device_type, friendly_name, manufacturer, model_name, location, source, first_seen, last_seen)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(udn) DO UPDATE SET
			device_type = excluded.device_type,
			friendly_name = excluded.friendly_name,
			manufacturer = excluded.manufacturer,
			model_name = excluded.model_name,
			location = excluded.location,
			source = excluded.source,
			last_seen = excluded.last_seen;`,
		dev.UDN,
		dev.DeviceType,
		dev.FriendlyName,
		dev.Manufacturer,
		dev.ModelName,
		dev.Location(),
		source,
		ts,
		ts,
	)
	if err != nil {
		return fmt.Errorf("upsert device %s: %w", dev.UDN, err)
	}

	_, err = tx.Exec(
		`INSERT INTO sightings (udn, event, location, at) VALUES (?, ?, ?, ?);`,
		dev.UDN, event, dev.Location(), ts,
	)
	if err != nil {
		return fmt.Errorf("insert sighting %s: %w", dev.UDN, err)
	}
	return tx.Commit()
}

// Devices returns every stored device ordered by UDN.
func (s *Store) Devices() ([]*Device, error) {
	rows, err := s.db.Query(
		`SELECT d.udn, d.device_type, d.friendly_name, d.manufacturer, d.model_name, d.location, d.source, d.first_seen, d.last_seen,
			(SELECT COUNT(*) FROM sightings s WHERE s.udn = d.udn)
		 FROM devices d ORDER BY d.udn`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Device
	for rows.Next() {
		var d Device
		var friendly, manufacturer, model, location, source sql.NullString
		var firstSeen, lastSeen string
		if err := rows.Scan(&d.UDN, &d.DeviceType, &friendly, &manufacturer, &model, &location, &source, &firstSeen, &lastSeen, &d.Sightings); err != nil {
			return nil, err
		}
		d.FriendlyName = friendly.String
		d.Manufacturer = manufacturer.String
		d.ModelName = model.String
		d.Location = location.String
		d.Source = source.String
		if d.FirstSeen, err = time.Parse(time.RFC3339Nano, firstSeen); err != nil {
			return nil, fmt.Errorf("device %s first_seen: %w", d.UDN, err)
		}
		if d.LastSeen, err = time.Parse(time.RFC3339Nano, lastSeen); err != nil {
			return nil, fmt.Errorf("device %s last_seen: %w", d.UDN, err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// Sightings returns the sightings of udn, oldest first.
func (s *Store) Sightings(udn string) ([]*Sighting, error) {
	rows, err := s.db.Query(
		`SELECT id, udn, event, location, at FROM sightings WHERE udn = ? ORDER BY id`, udn)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Sighting
	for rows.Next() {
		var sg Sighting
		var location sql.NullString
		var at string
		if err := rows.Scan(&sg.ID, &sg.UDN, &sg.Event, &location, &at); err != nil {
			return nil, err
		}
		sg.Location = location.String
		if sg.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("sighting %d: %w", sg.ID, err)
		}
		out = append(out, &sg)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
