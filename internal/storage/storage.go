// Package storage persists receiver sessions and decoded-frame metadata to
// a sqlite database. Writes go through a WAL connection; readers get a
// separate read-only connection, both opened lazily.
package storage

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Store handles database operations.
type Store struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// New creates a store backed by the database at dbPath.
func New(dbPath string) (*Store, error) {
	return &Store{dbPath: dbPath}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(schemaSQL)
	return err
}

func (s *Store) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", s.dbPath+"?_journal_mode=WAL&_synchronous=NORMAL")
		if err != nil {
			s.writeDBErr = err
			return
		}

		if err = initSchema(db); err != nil {
			_ = db.Close()
			s.writeDBErr = err
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *Store) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", s.dbPath+"?mode=ro")
		if err != nil {
			s.readDBErr = err
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

const insertSessionSQL = `
INSERT INTO sessions (start_time, device_type, device_id, config)
VALUES (CURRENT_TIMESTAMP, ?, ?, ?)`

// CreateSession creates a new session and returns its ID. The config is
// stored as a JSON snapshot unless already serialized.
func (s *Store) CreateSession(deviceType, deviceID string, config any) (sessionID int64, err error) {
	var configData sql.NullString

	switch v := config.(type) {
	case nil:

	case string:
		configData.Valid = true
		configData.String = v

	case []byte:
		configData.Valid = true
		configData.String = string(v)

	default:
		var p []byte
		if p, err = json.Marshal(config); err != nil {
			err = fmt.Errorf("marshaling config: %w", err)
			return
		}

		configData.Valid = true
		configData.String = string(p)
	}

	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	stmt, err := db.Prepare(insertSessionSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer func() {
		if cErr := stmt.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("closing statement: %w", cErr)
		}
	}()

	result, err := stmt.Exec(deviceType, deviceID, configData)
	if err != nil {
		err = fmt.Errorf("inserting session: %w", err)
		return
	}

	return result.LastInsertId()
}

const selectSessionsSQL = `
SELECT
    id,
    start_time,
    device_type,
    device_id,
    config
FROM sessions
`

// Sessions returns every recorded session.
func (s *Store) Sessions() (sessions []SessionData, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.Query(selectSessionsSQL)
	if err != nil {
		err = fmt.Errorf("querying sessions: %w", err)
		return
	}
	defer func() {
		if cErr := rows.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("closing rows: %w", cErr)
		}
	}()

	for rows.Next() {
		var sess SessionData
		if err = rows.Scan(&sess.ID, &sess.StartTime, &sess.DeviceType, &sess.DeviceID, &sess.Config); err != nil {
			err = fmt.Errorf("scanning session: %w", err)
			return
		}
		sessions = append(sessions, sess)
	}
	return
}

const insertFrameSQL = `
INSERT INTO frames (session_id,
                    timestamp,
                    frame,
                    subframe,
                    cell_id,
                    rbs,
                    freq_offset,
                    crc_valid)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`

// BatchInsertFrames inserts decoded-frame records in a single transaction.
func (s *Store) BatchInsertFrames(frames []FrameRecord) (err error) {
	if len(frames) == 0 {
		return
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if cErr := tx.Rollback(); cErr != nil && !errors.Is(cErr, sql.ErrTxDone) && err == nil {
			err = fmt.Errorf("rolling back transaction: %w", cErr)
		}
	}()

	stmt, err := tx.Prepare(insertFrameSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer func() {
		if cErr := stmt.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("closing statement: %w", cErr)
		}
	}()

	for _, frame := range frames {
		_, err = stmt.Exec(
			frame.SessionID,
			frame.Timestamp,
			frame.Frame,
			frame.Subframe,
			frame.CellID,
			frame.RBs,
			frame.FreqOffset,
			frame.CRCValid,
		)
		if err != nil {
			return fmt.Errorf("inserting frame: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return
}

// Close closes the database connections.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		switch {
		case writeErr != nil && readErr != nil:
			s.closeErr = errors.Join(writeErr, readErr)
		case writeErr != nil:
			s.closeErr = writeErr
		case readErr != nil:
			s.closeErr = readErr
		}
	})

	return s.closeErr
}
