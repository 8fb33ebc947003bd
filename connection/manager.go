// Package connection implements the WhatsApp connection lifecycle: pairing a
// session with the provider through a QR handshake, polling for the
// asynchronous connected signal under a deadline, archiving and deleting
// sessions without losing history, and re-pointing conversations when a
// phone number reconnects under a new session.
package connection

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"waconsole/database"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/singleflight"
)

// Events carries the caller's callbacks. They run synchronously on the poll
// goroutine, so a callback that blocks stalls its session; keep them fast or
// hand off to a channel. Nil callbacks are simply skipped.
type Events struct {
	OnQRCode    func(connectionId uint, qrCode string)
	OnConnected func(conn *database.Connection)
	OnFailed    func(connectionId uint, err error)
}

type Options struct {
	PollInterval    time.Duration
	PairingTimeout  time.Duration
	TeardownTimeout time.Duration

	// ConnectedStatuses is the set of provider status tokens that mean
	// "paired". The provider is not consistent about which one it reports,
	// so any of them counts.
	ConnectedStatuses []string

	DefaultDepartmentName string

	// WaitingPhonePlaceholder is stored as the phone number while pairing
	// is still in flight.
	WaitingPhonePlaceholder string

	// MaxConcurrentPairings bounds how many poll loops may run at once.
	MaxConcurrentPairings int

	Events Events
}

func (o *Options) setDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.PairingTimeout <= 0 {
		o.PairingTimeout = 3 * time.Minute
	}
	if o.TeardownTimeout <= 0 {
		o.TeardownTimeout = 15 * time.Second
	}
	if len(o.ConnectedStatuses) == 0 {
		o.ConnectedStatuses = []string{"open", "connected", "inChat"}
	}
	if o.DefaultDepartmentName == "" {
		o.DefaultDepartmentName = "Atendimento Geral"
	}
	if o.WaitingPhonePlaceholder == "" {
		o.WaitingPhonePlaceholder = "Aguardando..."
	}
	if o.MaxConcurrentPairings <= 0 {
		o.MaxConcurrentPairings = 64
	}
}

// Manager owns every live pairing session (at most one per connection) and
// the non-pairing lifecycle exits: disconnect, archive, permanent delete.
type Manager struct {
	gateway Gateway
	logger  *zap.Logger
	events  Events

	pollInterval    time.Duration
	pairingTimeout  time.Duration
	teardownTimeout time.Duration

	connectedStatuses       []string
	defaultDepartmentName   string
	waitingPhonePlaceholder string

	sessions   cmap.ConcurrentMap[string, *Session]
	pool       *ants.Pool
	deptFlight singleflight.Group
}

func NewManager(gateway Gateway, logger *zap.Logger, opts Options) (*Manager, error) {
	opts.setDefaults()

	pool, err := ants.NewPool(opts.MaxConcurrentPairings)
	if err != nil {
		return nil, fmt.Errorf("could not create pairing worker pool : %w", err)
	}

	return &Manager{
		gateway:                 gateway,
		logger:                  logger,
		events:                  opts.Events,
		pollInterval:            opts.PollInterval,
		pairingTimeout:          opts.PairingTimeout,
		teardownTimeout:         opts.TeardownTimeout,
		connectedStatuses:       opts.ConnectedStatuses,
		defaultDepartmentName:   opts.DefaultDepartmentName,
		waitingPhonePlaceholder: opts.WaitingPhonePlaceholder,
		sessions:                cmap.New[*Session](),
		pool:                    pool,
	}, nil
}

// Close cancels every live pairing session and releases the worker pool.
func (m *Manager) Close() {
	for _, s := range m.sessions.Items() {
		s.cancel()
		<-s.done
	}
	m.pool.Release()
}

// StartPairing creates a fresh connection for the tenant and begins the QR
// handshake. The returned row already carries the scannable payload; the
// connected (or failed) outcome arrives later through Events. If the
// provider refuses to issue a pairing code the just-created row is rolled
// back so no orphan survives a failed start.
func (m *Manager) StartPairing(ctx context.Context, companyId, name string) (*database.Connection, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrNameRequired
	}

	sessionId := uuid.NewString()

	conn, err := database.CreateConnection(companyId, sessionId, name, m.waitingPhonePlaceholder)
	if err != nil {
		return nil, fmt.Errorf("could not create connection : %w", err)
	}

	qrCode, err := m.gateway.Init(ctx, sessionId)
	if err != nil || qrCode == "" {
		if delErr := database.DeleteConnectionRow(conn.ID); delErr != nil {
			m.logger.Error("failed to roll back connection after init failure",
				zap.Uint("connection_id", conn.ID),
				zap.Error(delErr),
			)
		}
		if err != nil {
			return nil, fmt.Errorf("%w : %s", ErrPairingFailed, err)
		}
		return nil, fmt.Errorf("%w : provider returned no pairing code", ErrPairingFailed)
	}

	return m.beginPolling(conn, qrCode, true, "")
}

// Reconnect restarts pairing for an existing connection, reusing its
// provider session identity. The row is updated in place; no new row is
// created and an abandoned attempt restores the prior status.
func (m *Manager) Reconnect(ctx context.Context, connectionId uint) (*database.Connection, error) {
	conn, err := database.GetConnection(connectionId)
	if err != nil {
		return nil, err
	}
	if conn.Archived() {
		return nil, fmt.Errorf("%w : connection is archived", ErrInvalidState)
	}

	priorStatus := conn.Status

	m.cancelLive(connectionId)

	if ok, err := database.BeginReconnect(connectionId); err != nil {
		return nil, fmt.Errorf("could not begin reconnect : %w", err)
	} else if !ok {
		return nil, fmt.Errorf("%w : connection is archived", ErrInvalidState)
	}

	qrCode, err := m.gateway.Reconnect(ctx, conn.SessionID)
	if err != nil || qrCode == "" {
		if _, revErr := database.RevertConnectionStatus(connectionId, priorStatus); revErr != nil {
			m.logger.Error("failed to revert connection after reconnect failure",
				zap.Uint("connection_id", connectionId),
				zap.Error(revErr),
			)
		}
		if err != nil {
			return nil, fmt.Errorf("%w : %s", ErrPairingFailed, err)
		}
		return nil, fmt.Errorf("%w : provider returned no pairing code", ErrPairingFailed)
	}

	conn.Status = database.StatusConnecting
	return m.beginPolling(conn, qrCode, false, priorStatus)
}

func (m *Manager) beginPolling(conn *database.Connection, qrCode string, createdByStart bool, priorStatus string) (*database.Connection, error) {
	if _, err := database.SetConnectionQRCode(conn.ID, qrCode); err != nil {
		m.logger.Error("failed to persist qr code",
			zap.Uint("connection_id", conn.ID),
			zap.Error(err),
		)
	}
	conn.Status = database.StatusQRReady
	conn.QRCode = qrCode

	m.emitQRCode(conn.ID, qrCode)

	s := newSession(m, conn, createdByStart, priorStatus)
	s.transition(StateCreating, StateAwaitingScan)
	key := sessionKey(conn.ID)

	// Registration and displacement are one atomic step so two racing
	// starts for the same connection can never both keep a live poller.
	var displaced *Session
	m.sessions.Upsert(key, s, func(exists bool, prev, incoming *Session) *Session {
		if exists {
			displaced = prev
		}
		return incoming
	})
	if displaced != nil {
		displaced.cancel()
		<-displaced.done
	}

	err := m.pool.Submit(func() {
		s.run()
		m.sessions.RemoveCb(key, func(_ string, cur *Session, exists bool) bool {
			return exists && cur == s
		})
	})
	if err != nil {
		m.sessions.RemoveCb(key, func(_ string, cur *Session, exists bool) bool {
			return exists && cur == s
		})
		s.finish(StateCancelled)
		return nil, fmt.Errorf("%w : could not start poll loop : %s", ErrPairingFailed, err)
	}

	return conn, nil
}

// Cancel aborts the live pairing attempt for a connection, if any. Rows
// created by StartPairing are removed; reconnecting rows revert to their
// prior status. Cancelling when nothing is in flight is a no-op.
func (m *Manager) Cancel(connectionId uint) {
	m.cancelLive(connectionId)
}

func (m *Manager) cancelLive(connectionId uint) {
	if s, ok := m.sessions.Get(sessionKey(connectionId)); ok {
		s.cancel()
		<-s.done
	}
}

// LiveSession returns the in-flight pairing session for a connection.
func (m *Manager) LiveSession(connectionId uint) (*Session, bool) {
	return m.sessions.Get(sessionKey(connectionId))
}

// Disconnect logs the provider session out and marks the row disconnected.
// Conversations are untouched.
func (m *Manager) Disconnect(ctx context.Context, connectionId uint) error {
	conn, err := database.GetConnection(connectionId)
	if err != nil {
		return err
	}
	if conn.Archived() {
		return fmt.Errorf("%w : connection is archived", ErrInvalidState)
	}

	m.cancelLive(connectionId)

	// Teardown failures are logged by the gateway and never block the
	// disconnect itself.
	_ = m.gateway.Logout(ctx, conn.SessionID)

	if _, err := database.MarkConnectionDisconnected(connectionId); err != nil {
		return fmt.Errorf("could not mark connection disconnected : %w", err)
	}

	return nil
}

// Archive soft-deletes a connection: the provider session is torn down but
// every conversation stays, which is what makes a later automatic migration
// possible when the same number pairs again.
func (m *Manager) Archive(ctx context.Context, connectionId uint) error {
	conn, err := database.GetConnection(connectionId)
	if err != nil {
		return err
	}
	if conn.Archived() {
		return fmt.Errorf("%w : connection is already archived", ErrInvalidState)
	}

	m.cancelLive(connectionId)

	if conn.Status == database.StatusConnected {
		_ = m.gateway.Logout(ctx, conn.SessionID)
	}
	_ = m.gateway.Delete(ctx, conn.SessionID)

	ok, err := database.ArchiveConnection(connectionId, database.ArchiveReasonUser, time.Now())
	if err != nil {
		return fmt.Errorf("could not archive connection : %w", err)
	}
	if !ok {
		return fmt.Errorf("%w : connection is already archived", ErrInvalidState)
	}

	m.logger.Info("connection archived",
		zap.Uint("connection_id", connectionId),
		zap.String("session_id", conn.SessionID),
	)

	return nil
}

// PermanentDelete irreversibly removes an archived connection and all of its
// dependent history. Refused outright for anything not archived first; the
// confirmation step lives at the caller boundary.
func (m *Manager) PermanentDelete(connectionId uint) error {
	conn, err := database.GetConnection(connectionId)
	if err != nil {
		return err
	}
	if !conn.Archived() {
		return fmt.Errorf("%w : only archived connections can be permanently deleted", ErrInvalidState)
	}

	if err := database.PermanentlyDeleteConnection(connectionId); err != nil {
		return fmt.Errorf("could not permanently delete connection : %w", err)
	}

	m.logger.Info("connection permanently deleted",
		zap.Uint("connection_id", connectionId),
	)

	return nil
}

// SetReceiveGroupMessages flips the group-message feature flag on the row
// and pushes the webhook change to the provider. Independent of pairing.
func (m *Manager) SetReceiveGroupMessages(ctx context.Context, connectionId uint, receiveGroupMessages bool) error {
	conn, err := database.GetConnection(connectionId)
	if err != nil {
		return err
	}

	if err := database.SetReceiveGroupMessages(connectionId, receiveGroupMessages); err != nil {
		return err
	}

	return m.gateway.UpdateWebhook(ctx, conn.SessionID, receiveGroupMessages)
}

func (m *Manager) isConnectedStatus(status string) bool {
	return slices.ContainsFunc(m.connectedStatuses, func(token string) bool {
		return strings.EqualFold(token, status)
	})
}

func (m *Manager) emitQRCode(connectionId uint, qrCode string) {
	if m.events.OnQRCode != nil {
		m.events.OnQRCode(connectionId, qrCode)
	}
}

func (m *Manager) emitConnected(conn *database.Connection) {
	if m.events.OnConnected != nil {
		m.events.OnConnected(conn)
	}
}

func (m *Manager) emitFailed(connectionId uint, err error) {
	if m.events.OnFailed != nil {
		m.events.OnFailed(connectionId, err)
	}
}

func sessionKey(connectionId uint) string {
	return strconv.FormatUint(uint64(connectionId), 10)
}
