package database

import (
	"errors"
	"time"

	"waconsole/state"

	"gorm.io/gorm"
)

var ErrConnectionNotFound = errors.New("connection not found")

// AutoMigrateModels applies only the gorm-managed part of the schema.
// Useful for tests with throwaway databases; AutoMigrate runs this plus the
// SQL migrations.
func AutoMigrateModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&Connection{},
		&Department{},
		&ConnectionMigration{},
		&Conversation{},
	)
}

func CreateConnection(companyId, sessionId, name, phonePlaceholder string) (*Connection, error) {

	db := state.State.Database

	conn := Connection{
		CompanyID:   companyId,
		SessionID:   sessionId,
		Name:        name,
		PhoneNumber: phonePlaceholder,
		Status:      StatusConnecting,
		Active:      true,
	}
	res := db.Create(&conn)
	if res.Error != nil {
		return nil, res.Error
	}

	return &conn, nil
}

func GetConnection(connectionId uint) (*Connection, error) {

	db := state.State.Database

	var conn Connection
	res := db.First(&conn, connectionId)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return nil, ErrConnectionNotFound
	}

	return &conn, res.Error
}

// DeleteConnectionRow removes the row itself without touching dependent
// history. Only used to roll back a connection that never finished pairing.
func DeleteConnectionRow(connectionId uint) error {

	db := state.State.Database
	res := db.Delete(&Connection{}, connectionId)

	return res.Error
}

// All status writes below are conditional on the current status so that a
// stale caller (a cancel racing a successful poll, or the other way around)
// cannot overwrite a newer state. RowsAffected == 0 means the row moved on.

func SetConnectionQRCode(connectionId uint, qrCode string) (bool, error) {

	db := state.State.Database

	res := db.Model(&Connection{}).
		Where("id = ? AND status IN ?", connectionId, []string{StatusConnecting, StatusQRReady}).
		Updates(map[string]interface{}{
			"status":  StatusQRReady,
			"qr_code": qrCode,
		})

	return res.RowsAffected > 0, res.Error
}

// BeginReconnect puts an existing, non-archived connection back into the
// pairing flow. The caller captures the row's prior status first so an
// abandoned attempt can restore it.
func BeginReconnect(connectionId uint) (bool, error) {

	db := state.State.Database

	res := db.Model(&Connection{}).
		Where("id = ? AND archived_at IS NULL", connectionId).
		Updates(map[string]interface{}{
			"status":  StatusConnecting,
			"qr_code": "",
		})

	return res.RowsAffected > 0, res.Error
}

func MarkConnectionConnected(connectionId uint, phoneNumber, normalizedPhone string, connectedAt time.Time) (bool, error) {

	db := state.State.Database

	res := db.Model(&Connection{}).
		Where("id = ? AND status IN ?", connectionId, []string{StatusConnecting, StatusQRReady}).
		Updates(map[string]interface{}{
			"status":            StatusConnected,
			"phone_number":      phoneNumber,
			"normalized_phone":  normalizedPhone,
			"qr_code":           "",
			"last_connected_at": connectedAt,
		})

	return res.RowsAffected > 0, res.Error
}

// RevertConnectionStatus puts an existing connection back to the status it
// had before an abandoned reconnect attempt. Only applies while the row is
// still mid-pairing.
func RevertConnectionStatus(connectionId uint, priorStatus string) (bool, error) {

	db := state.State.Database

	res := db.Model(&Connection{}).
		Where("id = ? AND status IN ?", connectionId, []string{StatusConnecting, StatusQRReady}).
		Updates(map[string]interface{}{
			"status":  priorStatus,
			"qr_code": "",
		})

	return res.RowsAffected > 0, res.Error
}

func MarkConnectionDisconnected(connectionId uint) (bool, error) {

	db := state.State.Database

	res := db.Model(&Connection{}).
		Where("id = ? AND status <> ?", connectionId, StatusDisconnected).
		Updates(map[string]interface{}{
			"status":  StatusDisconnected,
			"qr_code": "",
		})

	return res.RowsAffected > 0, res.Error
}

func ArchiveConnection(connectionId uint, reason string, archivedAt time.Time) (bool, error) {

	db := state.State.Database

	res := db.Model(&Connection{}).
		Where("id = ? AND archived_at IS NULL", connectionId).
		Updates(map[string]interface{}{
			"archived_at":     archivedAt,
			"archived_reason": reason,
			"active":          false,
			"status":          StatusDisconnected,
			"qr_code":         "",
		})

	return res.RowsAffected > 0, res.Error
}

func SetReceiveGroupMessages(connectionId uint, receiveGroupMessages bool) error {

	db := state.State.Database

	res := db.Model(&Connection{}).
		Where("id = ?", connectionId).
		Update("receive_group_messages", receiveGroupMessages)

	return res.Error
}

// FindArchivedByNormalizedPhone looks up the migration candidate for a newly
// paired number: an archived connection of the same tenant holding the same
// normalized phone. Sources already drained by a previous migration are
// skipped, which is what makes ReconcileIfDuplicate a no-op the second time.
// If more than one candidate exists the most recently archived one wins.
func FindArchivedByNormalizedPhone(companyId, normalizedPhone string, excludeConnectionId uint) (*Connection, bool, error) {

	db := state.State.Database

	var conn Connection
	res := db.Where(
		"company_id = ? AND normalized_phone = ? AND id <> ? AND archived_at IS NOT NULL AND archived_reason <> ?",
		companyId, normalizedPhone, excludeConnectionId, ArchiveReasonMigrated,
	).Order("archived_at DESC").First(&conn)

	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if res.Error != nil {
		return nil, false, res.Error
	}

	return &conn, true, nil
}

func CountConversations(connectionId uint) (int64, error) {

	db := state.State.Database

	var count int64
	res := db.Model(&Conversation{}).Where("connection_id = ?", connectionId).Count(&count)

	return count, res.Error
}

// TransferConversationHistory moves every conversation owned by the source
// connection to the target, records the audit row and marks the source as
// migrated. The count, the re-point and the audit record are one unit: if
// any statement fails nothing is kept.
func TransferConversationHistory(sourceConnectionId, targetConnectionId uint, migrationType, migratedBy string) (int64, error) {

	db := state.State.Database

	var migrated int64
	err := db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if res := tx.Model(&Conversation{}).Where("connection_id = ?", sourceConnectionId).Count(&count); res.Error != nil {
			return res.Error
		}

		res := tx.Model(&Conversation{}).
			Where("connection_id = ?", sourceConnectionId).
			Update("connection_id", targetConnectionId)
		if res.Error != nil {
			return res.Error
		}

		if res := tx.Create(&ConnectionMigration{
			SourceConnectionID:         sourceConnectionId,
			TargetConnectionID:         targetConnectionId,
			MigrationType:              migrationType,
			MigratedConversationsCount: count,
			MigratedBy:                 migratedBy,
		}); res.Error != nil {
			return res.Error
		}

		if res := tx.Model(&Connection{}).
			Where("id = ?", sourceConnectionId).
			Update("archived_reason", ArchiveReasonMigrated); res.Error != nil {
			return res.Error
		}

		migrated = count
		return nil
	})

	return migrated, err
}

func CountDepartments(connectionId uint) (int64, error) {

	db := state.State.Database

	var count int64
	res := db.Model(&Department{}).Where("connection_id = ?", connectionId).Count(&count)

	return count, res.Error
}

func CreateDefaultDepartment(companyId string, connectionId uint, name string) (*Department, error) {

	db := state.State.Database

	dept := Department{
		CompanyID:    companyId,
		ConnectionID: connectionId,
		Name:         name,
		IsDefault:    true,
		Active:       true,
	}
	res := db.Create(&dept)
	if res.Error != nil {
		return nil, res.Error
	}

	return &dept, nil
}

// PermanentlyDeleteConnection erases an archived connection together with all
// of its dependent history. The archived precondition is checked by the
// caller; the delete itself is one transaction.
func PermanentlyDeleteConnection(connectionId uint) error {

	db := state.State.Database

	return db.Transaction(func(tx *gorm.DB) error {
		if res := tx.Where("connection_id = ?", connectionId).Delete(&Conversation{}); res.Error != nil {
			return res.Error
		}
		if res := tx.Where("connection_id = ?", connectionId).Delete(&Department{}); res.Error != nil {
			return res.Error
		}
		if res := tx.Where("source_connection_id = ? OR target_connection_id = ?", connectionId, connectionId).
			Delete(&ConnectionMigration{}); res.Error != nil {
			return res.Error
		}

		res := tx.Delete(&Connection{}, connectionId)
		return res.Error
	})
}
