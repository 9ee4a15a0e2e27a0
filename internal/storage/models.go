package storage

import (
	"database/sql"
	"time"
)

// SessionData represents one receiver run against one device.
type SessionData struct {
	ID         int64
	StartTime  time.Time
	DeviceType string
	DeviceID   string
	Config     sql.NullString
}

// FrameRecord is the decoded-frame metadata persisted per subframe.
type FrameRecord struct {
	SessionID  int64
	Timestamp  time.Time
	Frame      int
	Subframe   int
	CellID     int
	RBs        int
	FreqOffset float64
	CRCValid   bool
}
