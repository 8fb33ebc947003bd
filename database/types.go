package database

import (
	"errors"
	"time"

	"waconsole/state"
)

// Connection statuses. A connection row moves through these under the
// conditional-update rules in helpers.go; free-form writes are not allowed.
const (
	StatusConnecting   = "connecting"
	StatusQRReady      = "qr_ready"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusError        = "error"
)

// Archival reasons recorded on soft-deleted connections.
const (
	ArchiveReasonUser     = "user_archived"
	ArchiveReasonMigrated = "migrated"
)

// Migration types recorded on ConnectionMigration audit rows.
const (
	MigrationAutoSameNumber = "auto_same_number"
	MigrationManual         = "manual"
)

type Connection struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	CompanyID string `gorm:"index:idx_connections_company"`
	SessionID string `gorm:"uniqueIndex"`
	Name      string

	// PhoneNumber is the provider-reported, human-readable number. It holds
	// the waiting placeholder until the provider reports a paired phone.
	PhoneNumber     string
	NormalizedPhone string `gorm:"index:idx_connections_normalized_phone"`

	Status string
	QRCode string

	ArchivedAt     *time.Time
	ArchivedReason string
	Active         bool

	LastConnectedAt      *time.Time
	ReceiveGroupMessages bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Archived reports whether the connection was soft-deleted.
func (c *Connection) Archived() bool {
	return c.ArchivedAt != nil
}

type Department struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	CompanyID    string
	ConnectionID uint   `gorm:"index:idx_departments_connection"`
	Name         string
	IsDefault    bool
	Active       bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ConnectionMigration is the audit record of one history transfer. Rows are
// written once and never updated.
type ConnectionMigration struct {
	ID                         uint   `gorm:"primaryKey;autoIncrement"`
	SourceConnectionID         uint
	TargetConnectionID         uint
	MigrationType              string
	MigratedConversationsCount int64
	MigratedBy                 string

	CreatedAt time.Time
}

// Conversation carries only the fields the lifecycle manager needs for
// counting and re-pointing history. Message content lives elsewhere.
type Conversation struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	CompanyID    string
	ConnectionID uint   `gorm:"index:idx_conversations_connection"`
	DepartmentID uint
	ContactName  string
	ContactPhone string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func AutoMigrate() error {
	db := state.State.Database
	autoMigrateError := AutoMigrateModels(db)

	migrateError := MigrateDatabase(db)
	return errors.Join(autoMigrateError, migrateError)
}
