package connection

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"waconsole/database"
	"waconsole/utils"

	"go.uber.org/zap"
)

// Session states. Idle is the zero value of a session that has not been
// through the constructor yet. Connected, TimedOut, Cancelled and Failed are
// terminal; once a session reaches one of them it never moves again.
const (
	StateIdle int32 = iota
	StateCreating
	StateAwaitingScan
	StatePolling
	StateConnected
	StateTimedOut
	StateCancelled
	StateFailed
)

func stateName(s int32) string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCreating:
		return "creating"
	case StateAwaitingScan:
		return "awaiting_scan"
	case StatePolling:
		return "polling"
	case StateConnected:
		return "connected"
	case StateTimedOut:
		return "timed_out"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Session is one in-memory pairing attempt for one connection row. It owns
// its poll ticker and deadline timer; nothing else touches them. The state
// field is the single authoritative transition guard: every move between
// states goes through a compare-and-swap, so a cancel racing a successful
// poll can never regress a terminal state.
type Session struct {
	ConnectionId uint
	SessionId    string

	companyId string
	name      string

	// createdByStart marks rows created by StartPairing. Only those are
	// deleted when the attempt is abandoned; a pre-existing connection
	// reverts to priorStatus instead.
	createdByStart bool
	priorStatus    string

	state  atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	manager *Manager
	logger  *zap.Logger
}

func newSession(manager *Manager, conn *database.Connection, createdByStart bool, priorStatus string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ConnectionId:   conn.ID,
		SessionId:      conn.SessionID,
		companyId:      conn.CompanyID,
		name:           conn.Name,
		createdByStart: createdByStart,
		priorStatus:    priorStatus,
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
		manager:        manager,
		logger: manager.logger.With(
			zap.Uint("connection_id", conn.ID),
			zap.String("session_id", conn.SessionID),
		),
	}
	s.state.Store(StateCreating)
	return s
}

// State returns the current state of the pairing attempt.
func (s *Session) State() int32 {
	return s.state.Load()
}

func (s *Session) transition(from, to int32) bool {
	return s.state.CompareAndSwap(from, to)
}

// run is the cooperative poll loop. It is the only goroutine that advances
// the session, which also guarantees that no two ticks for the same session
// ever overlap.
func (s *Session) run() {
	defer close(s.done)
	defer s.logger.Sync()

	s.transition(StateAwaitingScan, StatePolling)

	ticker := time.NewTicker(s.manager.pollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(s.manager.pairingTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.finish(StateCancelled)
			return

		case <-deadline.C:
			s.finish(StateTimedOut)
			return

		case <-ticker.C:
			// The ticker must never win a race against expiry or
			// cancellation: no gateway call may happen after either.
			select {
			case <-s.ctx.Done():
				s.finish(StateCancelled)
				return
			case <-deadline.C:
				s.finish(StateTimedOut)
				return
			default:
			}

			if s.tick() {
				return
			}
		}
	}
}

// tick performs one status check. It reports true once the session reached a
// terminal state and polling must stop.
func (s *Session) tick() bool {
	status, phoneNumber, err := s.manager.gateway.Status(s.ctx, s.SessionId)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false
		}
		// Transient polling error: the next tick simply tries again.
		s.logger.Warn("pairing status check failed", zap.Error(err))
		return false
	}

	if !s.manager.isConnectedStatus(status) {
		return false
	}

	if !s.transition(StatePolling, StateConnected) {
		// Cancellation or expiry won the race while this tick was in
		// flight; its result is discarded.
		return true
	}

	normalizedPhone := utils.NormalizePhone(phoneNumber)
	connectedAt := time.Now()
	ok, err := database.MarkConnectionConnected(s.ConnectionId, phoneNumber, normalizedPhone, connectedAt)
	if err != nil {
		s.logger.Error("failed to persist connected state", zap.Error(err))
		s.manager.emitFailed(s.ConnectionId, ErrPairingFailed)
		return true
	}
	if !ok {
		// The row moved on underneath us (archived or deleted by the
		// operator); the provider result is discarded and the caller is
		// told the attempt failed rather than left waiting.
		s.logger.Warn("connection row changed during pairing, dropping connected transition")
		s.manager.emitFailed(s.ConnectionId, ErrPairingFailed)
		return true
	}

	s.logger.Info("whatsapp session paired",
		zap.String("status", status),
		zap.String("phone_number", phoneNumber),
	)

	// The terminal state is committed; everything below is best-effort
	// follow-up whose failure must not undo a successful pairing.
	if err := s.manager.ReconcileIfDuplicate(s.companyId, s.ConnectionId, normalizedPhone); err != nil {
		s.logger.Error("conversation history migration failed",
			zap.Uint("target_connection_id", s.ConnectionId),
			zap.Error(err),
		)
	}
	if err := s.manager.EnsureDefaultDepartment(s.ConnectionId); err != nil {
		s.logger.Error("default department bootstrap failed", zap.Error(err))
	}

	conn, err := database.GetConnection(s.ConnectionId)
	if err != nil {
		// The pairing itself is committed; answer the caller from what
		// the session already knows instead of leaving it waiting.
		s.logger.Error("failed to reload connection after pairing", zap.Error(err))
		conn = &database.Connection{
			ID:              s.ConnectionId,
			CompanyID:       s.companyId,
			SessionID:       s.SessionId,
			Name:            s.name,
			PhoneNumber:     phoneNumber,
			NormalizedPhone: normalizedPhone,
			Status:          database.StatusConnected,
			LastConnectedAt: &connectedAt,
		}
	}
	s.manager.emitConnected(conn)

	return true
}

// finish moves the session to Cancelled or TimedOut and cleans up after the
// abandoned attempt. If the session already reached Connected the call is a
// no-op: terminal states never regress.
func (s *Session) finish(terminal int32) {
	moved := s.transition(StatePolling, terminal) || s.transition(StateAwaitingScan, terminal)
	if !moved {
		return
	}

	s.logger.Info("pairing attempt ended without connecting",
		zap.String("outcome", stateName(terminal)),
	)

	// Release the session context (a timeout reaches here without it being
	// cancelled yet); teardown gets its own deadline.
	s.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), s.manager.teardownTimeout)
	defer cancel()
	_ = s.manager.gateway.Delete(ctx, s.SessionId)

	if s.createdByStart {
		if err := database.DeleteConnectionRow(s.ConnectionId); err != nil {
			s.logger.Error("failed to roll back connection row", zap.Error(err))
		}
	} else {
		if _, err := database.RevertConnectionStatus(s.ConnectionId, s.priorStatus); err != nil {
			s.logger.Error("failed to revert connection status", zap.Error(err))
		}
	}

	switch terminal {
	case StateTimedOut:
		s.manager.emitFailed(s.ConnectionId, ErrPairingTimeout)
	case StateCancelled:
		s.manager.emitFailed(s.ConnectionId, ErrPairingCancelled)
	}
}
