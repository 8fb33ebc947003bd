package connection

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"waconsole/database"
	"waconsole/state"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var testDbCounter atomic.Int64

func setupTestDatabase(t *testing.T) {
	t.Helper()

	dsn := fmt.Sprintf("file:connection_test_%d?mode=memory&cache=shared", testDbCounter.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrateModels(db))

	state.State.Database = db
}

type fakeStatus struct {
	status string
	phone  string
}

// fakeGateway scripts the provider: Status answers the configured sequence
// and repeats the last entry forever. With statusFailures set, the first
// that many Status calls return statusErr before the script takes over.
type fakeGateway struct {
	mu sync.Mutex

	qrCode       string
	initErr      error
	reconnectErr error

	statusErr      error
	statusFailures int

	statuses    []fakeStatus
	statusCalls int

	loggedOut []string
	deleted   []string
	webhooks  map[string]bool
}

func newFakeGateway(qrCode string, statuses ...fakeStatus) *fakeGateway {
	return &fakeGateway{
		qrCode:   qrCode,
		statuses: statuses,
		webhooks: map[string]bool{},
	}
}

func (g *fakeGateway) Init(_ context.Context, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.qrCode, g.initErr
}

func (g *fakeGateway) Reconnect(_ context.Context, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.qrCode, g.reconnectErr
}

func (g *fakeGateway) Status(_ context.Context, _ string) (string, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.statusErr != nil && (g.statusFailures == 0 || g.statusCalls < g.statusFailures) {
		g.statusCalls++
		return "", "", g.statusErr
	}
	if len(g.statuses) == 0 {
		g.statusCalls++
		return "close", "", nil
	}

	idx := g.statusCalls
	if idx >= len(g.statuses) {
		idx = len(g.statuses) - 1
	}
	g.statusCalls++

	reply := g.statuses[idx]
	return reply.status, reply.phone, nil
}

func (g *fakeGateway) Logout(_ context.Context, sessionId string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.loggedOut = append(g.loggedOut, sessionId)
	return nil
}

func (g *fakeGateway) Delete(_ context.Context, sessionId string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted = append(g.deleted, sessionId)
	return nil
}

func (g *fakeGateway) UpdateWebhook(_ context.Context, sessionId string, receiveGroupMessages bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.webhooks[sessionId] = receiveGroupMessages
	return nil
}

func (g *fakeGateway) statusCallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statusCalls
}

func (g *fakeGateway) deletedSessions() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.deleted...)
}

func (g *fakeGateway) loggedOutSessions() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.loggedOut...)
}

type testEvents struct {
	qr        chan string
	connected chan *database.Connection
	failed    chan error
}

func newTestManager(t *testing.T, gw Gateway, timeout time.Duration) (*Manager, *testEvents) {
	t.Helper()

	events := &testEvents{
		qr:        make(chan string, 4),
		connected: make(chan *database.Connection, 4),
		failed:    make(chan error, 4),
	}

	manager, err := NewManager(gw, zap.NewNop(), Options{
		PollInterval:   10 * time.Millisecond,
		PairingTimeout: timeout,
		Events: Events{
			OnQRCode:    func(_ uint, qrCode string) { events.qr <- qrCode },
			OnConnected: func(conn *database.Connection) { events.connected <- conn },
			OnFailed:    func(_ uint, err error) { events.failed <- err },
		},
	})
	require.NoError(t, err)
	t.Cleanup(manager.Close)

	return manager, events
}

func waitConnected(t *testing.T, events *testEvents) *database.Connection {
	t.Helper()
	select {
	case conn := <-events.connected:
		return conn
	case err := <-events.failed:
		t.Fatalf("pairing failed instead of connecting: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connected event")
	}
	return nil
}

func waitFailed(t *testing.T, events *testEvents) error {
	t.Helper()
	select {
	case err := <-events.failed:
		return err
	case <-events.connected:
		t.Fatal("unexpected connected event")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for failure event")
	}
	return nil
}
