package connection

import (
	"context"
	"testing"
	"time"

	"waconsole/database"
	"waconsole/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedArchivedConnection(t *testing.T, companyId, sessionId, normalizedPhone string, conversations int) *database.Connection {
	t.Helper()
	db := state.State.Database

	archivedAt := time.Now().Add(-time.Hour)
	conn := &database.Connection{
		CompanyID:       companyId,
		SessionID:       sessionId,
		Name:            "old",
		PhoneNumber:     "+" + normalizedPhone,
		NormalizedPhone: normalizedPhone,
		Status:          database.StatusDisconnected,
		ArchivedAt:      &archivedAt,
		ArchivedReason:  database.ArchiveReasonUser,
	}
	require.NoError(t, db.Create(conn).Error)

	for i := 0; i < conversations; i++ {
		require.NoError(t, db.Create(&database.Conversation{
			CompanyID:    companyId,
			ConnectionID: conn.ID,
		}).Error)
	}

	return conn
}

func TestAutoMigrationOnReconnectedNumber(t *testing.T) {
	setupTestDatabase(t)

	source := seedArchivedConnection(t, "acme", "sess-old", "5511999998888", 42)

	gw := newFakeGateway("2@qr", fakeStatus{status: "open", phone: "+5511999998888"})
	manager, events := newTestManager(t, gw, 5*time.Second)

	conn, err := manager.StartPairing(context.Background(), "acme", "Vendas")
	require.NoError(t, err)

	waitConnected(t, events)

	// All 42 conversations now reference the new connection.
	moved, err := database.CountConversations(conn.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 42, moved)

	left, err := database.CountConversations(source.ID)
	require.NoError(t, err)
	assert.Zero(t, left)

	var record database.ConnectionMigration
	require.NoError(t, state.State.Database.First(&record).Error)
	assert.Equal(t, source.ID, record.SourceConnectionID)
	assert.Equal(t, conn.ID, record.TargetConnectionID)
	assert.Equal(t, database.MigrationAutoSameNumber, record.MigrationType)
	assert.EqualValues(t, 42, record.MigratedConversationsCount)

	loaded, err := database.GetConnection(source.ID)
	require.NoError(t, err)
	assert.Equal(t, database.ArchiveReasonMigrated, loaded.ArchivedReason)
	assert.True(t, loaded.Archived(), "the source stays archived, it is never resurrected")
}

func TestReconcileIsIdempotent(t *testing.T) {
	setupTestDatabase(t)

	source := seedArchivedConnection(t, "acme", "sess-old", "5511999998888", 3)
	target, err := database.CreateConnection("acme", "sess-new", "Vendas", "Aguardando...")
	require.NoError(t, err)

	manager, _ := newTestManager(t, newFakeGateway("2@qr"), time.Second)

	require.NoError(t, manager.ReconcileIfDuplicate("acme", target.ID, "5511999998888"))
	require.NoError(t, manager.ReconcileIfDuplicate("acme", target.ID, "5511999998888"))

	moved, err := database.CountConversations(target.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, moved)

	var migrations int64
	require.NoError(t, state.State.Database.Model(&database.ConnectionMigration{}).Count(&migrations).Error)
	assert.EqualValues(t, 1, migrations, "the second run migrates nothing")

	drained, err := database.GetConnection(source.ID)
	require.NoError(t, err)
	assert.Equal(t, database.ArchiveReasonMigrated, drained.ArchivedReason)
}

func TestReconcileSkipsShortPhones(t *testing.T) {
	setupTestDatabase(t)

	seedArchivedConnection(t, "acme", "sess-old", "119999888", 2)
	target, err := database.CreateConnection("acme", "sess-new", "Vendas", "Aguardando...")
	require.NoError(t, err)

	manager, _ := newTestManager(t, newFakeGateway("2@qr"), time.Second)

	require.NoError(t, manager.ReconcileIfDuplicate("acme", target.ID, "119999888"))

	var migrations int64
	require.NoError(t, state.State.Database.Model(&database.ConnectionMigration{}).Count(&migrations).Error)
	assert.Zero(t, migrations, "short phones are unknown identities and never match")
}

func TestReconcileIgnoresOtherTenants(t *testing.T) {
	setupTestDatabase(t)

	seedArchivedConnection(t, "globex", "sess-old", "5511999998888", 2)
	target, err := database.CreateConnection("acme", "sess-new", "Vendas", "Aguardando...")
	require.NoError(t, err)

	manager, _ := newTestManager(t, newFakeGateway("2@qr"), time.Second)

	require.NoError(t, manager.ReconcileIfDuplicate("acme", target.ID, "5511999998888"))

	var migrations int64
	require.NoError(t, state.State.Database.Model(&database.ConnectionMigration{}).Count(&migrations).Error)
	assert.Zero(t, migrations)
}

func TestMigrationFailureDoesNotUndoPairing(t *testing.T) {
	setupTestDatabase(t)

	source := seedArchivedConnection(t, "acme", "sess-old", "5511999998888", 3)

	// Drop the audit table so the history transfer cannot commit.
	require.NoError(t, state.State.Database.Migrator().DropTable(&database.ConnectionMigration{}))

	gw := newFakeGateway("2@qr", fakeStatus{status: "open", phone: "+5511999998888"})
	manager, events := newTestManager(t, gw, 5*time.Second)

	conn, err := manager.StartPairing(context.Background(), "acme", "Vendas")
	require.NoError(t, err)

	// The failed transfer is logged, not propagated: pairing still lands.
	paired := waitConnected(t, events)
	assert.Equal(t, conn.ID, paired.ID)
	assert.Equal(t, database.StatusConnected, paired.Status)

	// The transfer rolled back as a unit: history stays on the source and
	// the candidate is still eligible for a later retry.
	left, err := database.CountConversations(source.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, left)

	moved, err := database.CountConversations(conn.ID)
	require.NoError(t, err)
	assert.Zero(t, moved)

	candidate, found, err := database.FindArchivedByNormalizedPhone("acme", "5511999998888", conn.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, source.ID, candidate.ID)
}
