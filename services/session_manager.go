package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/restaurant-floor/database"
	"github.com/yeremiapane/restaurant-floor/models"
	"github.com/yeremiapane/restaurant-floor/utils"
)

const tokenAttempts = 3

// SessionConfig tunes session leases.
type SessionConfig struct {
	TTL time.Duration
	// ExpireToCleaning sends tables of expired sessions to cleaning
	// instead of available.
	ExpireToCleaning bool
	// Rejoin lets a diner holding the active token scan again and get the
	// same session back.
	Rejoin bool
}

// SessionManager owns the diner session bound to a table.
type SessionManager struct {
	*Engine
	cfg SessionConfig
}

func NewSessionManager(engine *Engine, cfg SessionConfig) *SessionManager {
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Hour
	}
	return &SessionManager{Engine: engine, cfg: cfg}
}

type StartOptions struct {
	CustomerName string
	Customers    int
	StaffID      *uint
	// RejoinToken is the token the caller already holds, if any.
	RejoinToken string
}

type SessionStart struct {
	Session   *models.TableSession   `json:"session"`
	Token     string                 `json:"session_token"`
	Table     *models.Table          `json:"table"`
	Operation *models.TableOperation `json:"operation,omitempty"`
	Rejoined  bool                   `json:"rejoined"`
}

// StartSession opens a session for a diner at tableID and returns the opaque
// token. Only the token hash is stored.
func (m *SessionManager) StartSession(ctx context.Context, tableID uint, opts StartOptions) (*SessionStart, error) {
	if err := m.expireStale(ctx, tableID); err != nil {
		return nil, err
	}

	var token, reserved string
	c, err := m.mutate(ctx, []uint{tableID}, func(ctx context.Context, tx database.Repository, c *change) error {
		t, err := tx.GetTable(ctx, tableID)
		if err != nil {
			return translate(err, "table")
		}
		if err := checkSessionable(t); err != nil {
			return err
		}

		active, err := findActiveSession(ctx, tx, t.ID)
		if err != nil {
			return err
		}
		if active != nil {
			if m.canRejoin(ctx, t.ID, active, opts.RejoinToken) {
				token = opts.RejoinToken
				c.table = t
				c.session = active
				return nil
			}
			return tableUnavailable(ReasonSessionActive, "table %s already has an active session", t.Number)
		}
		if t.Status == models.TableStatusOccupied && !t.IsMergePrimary() {
			return tableUnavailable(ReasonOccupied, "table %s is occupied", t.Number)
		}

		now := m.now()
		token, reserved, err = m.allocateToken(ctx, t.ID)
		if err != nil {
			return err
		}

		staffID := opts.StaffID
		if staffID == nil {
			staffID = t.StaffID
		}
		session := &models.TableSession{
			TableID:       t.ID,
			BranchID:      t.BranchID,
			TokenHash:     reserved,
			StartTime:     now,
			ExpiresAt:     now.Add(m.cfg.TTL),
			LastActivity:  now,
			Status:        models.SessionStatusActive,
			Customers:     opts.Customers,
			CustomerName:  opts.CustomerName,
			StaffID:       staffID,
			ReservationID: t.ReservationID,
		}
		if err := tx.CreateSession(ctx, session); err != nil {
			return err
		}

		prev := t.Status
		updated, err := updateTable(ctx, tx, t, database.Patch{
			"status":           models.TableStatusOccupied,
			"reservation_id":   nil,
			"reservation_time": nil,
		})
		if err != nil {
			return err
		}

		c.table = updated
		c.session = session
		c.op = newOperation(models.OpSessionStart, updated, prev, Actor{StaffID: derefStaff(staffID)}, "")
		c.op.Timestamp = now
		c.op.SessionID = &session.ID
		c.op.Details = models.EncodeDetails(models.SessionStartDetails{
			SessionID:     session.ID,
			ExpiresAt:     session.ExpiresAt,
			ReservationID: session.ReservationID,
		})
		return nil
	})
	if err != nil {
		if reserved != "" {
			m.releaseToken(context.Background(), reserved)
		}
		return nil, err
	}

	return &SessionStart{
		Session:   c.session,
		Token:     token,
		Table:     c.table,
		Operation: c.op,
		Rejoined:  c.op == nil,
	}, nil
}

func checkSessionable(t *models.Table) error {
	switch {
	case !t.IsActive:
		return tableUnavailable(ReasonInactive, "table %s is inactive", t.Number)
	case t.IsMergedAway():
		return tableUnavailable(ReasonMergedAway, "table %s is merged into table %d", t.Number, *t.MergedInto)
	case t.Status == models.TableStatusMaintenance:
		return tableUnavailable(ReasonMaintenance, "table %s is under maintenance", t.Number)
	case t.Status == models.TableStatusCleaning:
		return tableUnavailable(ReasonCleaning, "table %s is being cleaned", t.Number)
	}
	return nil
}

func (m *SessionManager) canRejoin(ctx context.Context, tableID uint, active *models.TableSession, token string) bool {
	if !m.cfg.Rejoin || token == "" || active.ExpiredAt(m.now()) {
		return false
	}
	hash := utils.HashSessionToken(token)
	if hash != active.TokenHash {
		return false
	}
	if indexed, ok, err := m.index.Lookup(ctx, hash); err == nil && ok && indexed != tableID {
		return false
	}
	return true
}

// allocateToken draws fresh tokens until one's hash can be reserved.
func (m *SessionManager) allocateToken(ctx context.Context, tableID uint) (string, string, error) {
	for i := 0; i < tokenAttempts; i++ {
		token, err := utils.NewSessionToken()
		if err != nil {
			return "", "", &LifecycleError{Code: CodeBackendUnavailable, Message: "cannot generate session token", Err: err}
		}
		hash := utils.HashSessionToken(token)
		ok, err := m.index.Reserve(ctx, hash, tableID, m.cfg.TTL)
		if err != nil {
			return "", "", err
		}
		if ok {
			return token, hash, nil
		}
	}
	return "", "", newError(CodeBackendUnavailable, "could not allocate a unique session token")
}

// TouchSession slides the lease of the session behind token.
func (m *SessionManager) TouchSession(ctx context.Context, token string) (*models.TableSession, error) {
	s, err := m.resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	now := m.now()
	if s.ExpiredAt(now) {
		if _, err := m.expireSession(ctx, s.ID, now); err != nil {
			logSessionError(s, "force end on touch", err)
		}
		return nil, newError(CodeSessionExpired, "session expired at %s", s.ExpiresAt.Format(time.RFC3339))
	}

	c, err := m.mutate(ctx, []uint{s.TableID}, func(ctx context.Context, tx database.Repository, c *change) error {
		updated, err := tx.UpdateSession(ctx, s.ID, database.Patch{
			"last_activity": now,
			"expires_at":    now.Add(m.cfg.TTL),
		}, s.Version)
		if err != nil {
			if isNotFound(err) {
				return newError(CodeSessionNotFound, "session not found")
			}
			return err
		}
		c.session = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := m.index.Refresh(ctx, s.TokenHash, s.TableID, m.cfg.TTL); err != nil {
		logIndexError("refresh", err)
	}
	return c.session, nil
}

// CurrentSession returns the live session behind token and its table.
func (m *SessionManager) CurrentSession(ctx context.Context, token string) (*models.TableSession, *models.Table, error) {
	s, err := m.resolve(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	if s.ExpiredAt(m.now()) {
		return nil, nil, newError(CodeSessionExpired, "session expired at %s", s.ExpiresAt.Format(time.RFC3339))
	}
	t, err := m.repo.GetTable(ctx, s.TableID)
	if err != nil {
		return nil, nil, translate(err, "table")
	}
	return s, t, nil
}

// ActiveSession returns the table's active session.
func (m *SessionManager) ActiveSession(ctx context.Context, tableID uint) (*models.TableSession, error) {
	s, err := m.repo.FindActiveSession(ctx, tableID)
	if err != nil {
		if isNotFound(err) {
			return nil, newError(CodeSessionNotFound, "table %d has no active session", tableID)
		}
		return nil, translate(err, "session")
	}
	return s, nil
}

func (m *SessionManager) resolve(ctx context.Context, token string) (*models.TableSession, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, newError(CodeSessionNotFound, "session token is required")
	}
	s, err := m.repo.FindSessionByTokenHash(ctx, utils.HashSessionToken(token))
	if err != nil {
		if isNotFound(err) {
			return nil, newError(CodeSessionNotFound, "session not found")
		}
		return nil, translate(err, "session")
	}
	if !s.IsActive() {
		return nil, newError(CodeSessionNotFound, "session already ended")
	}
	return s, nil
}

// EndOptions carries the final totals of a session. Nil fields keep what
// was recorded so far.
type EndOptions struct {
	Orders        *int
	Amount        *float64
	Customers     *int
	PaymentMethod string
	PaymentAmount *float64
	Tip           *float64
	Notes         string
	PostCleaning  bool
}

type SessionEnd struct {
	Session   *models.TableSession   `json:"session"`
	Table     *models.Table          `json:"table"`
	Operation *models.TableOperation `json:"operation"`
}

// EndSession closes the table's active session as completed or cancelled.
func (m *SessionManager) EndSession(ctx context.Context, tableID uint, outcome string, opts EndOptions, actor Actor) (*SessionEnd, error) {
	if outcome != models.SessionStatusCompleted && outcome != models.SessionStatusCancelled {
		return nil, validationError("outcome must be completed or cancelled")
	}

	c, err := m.mutate(ctx, []uint{tableID}, func(ctx context.Context, tx database.Repository, c *change) error {
		t, err := tx.GetTable(ctx, tableID)
		if err != nil {
			return translate(err, "table")
		}
		s, err := findActiveSession(ctx, tx, t.ID)
		if err != nil {
			return err
		}
		if s == nil {
			return newError(CodeSessionNotFound, "table %s has no active session", t.Number)
		}
		return m.finish(ctx, tx, c, t, s, finishParams{
			outcome:      outcome,
			at:           m.now(),
			opts:         opts,
			postCleaning: opts.PostCleaning,
			actor:        actor,
		})
	})
	if err != nil {
		return nil, err
	}
	return &SessionEnd{Session: c.session, Table: c.table, Operation: c.op}, nil
}

type finishParams struct {
	outcome      string
	at           time.Time
	opts         EndOptions
	postCleaning bool
	expired      bool
	actor        Actor
}

func (m *SessionManager) finish(ctx context.Context, tx database.Repository, c *change, t *models.Table, s *models.TableSession, p finishParams) error {
	duration := models.DurationMinutes(s.StartTime, p.at)
	patch := database.Patch{
		"status":   p.outcome,
		"end_time": p.at,
		"duration": duration,
	}
	if p.opts.Orders != nil {
		patch["orders"] = *p.opts.Orders
	}
	if p.opts.Amount != nil {
		patch["amount"] = *p.opts.Amount
	}
	if p.opts.Customers != nil {
		patch["customers"] = *p.opts.Customers
	}
	if p.opts.PaymentMethod != "" {
		patch["payment_method"] = p.opts.PaymentMethod
	}
	if p.opts.PaymentAmount != nil {
		patch["payment_amount"] = *p.opts.PaymentAmount
	}
	if p.opts.Tip != nil {
		patch["tip"] = *p.opts.Tip
	}
	if p.opts.Notes != "" {
		patch["notes"] = p.opts.Notes
	}
	ended, err := tx.UpdateSession(ctx, s.ID, patch, s.Version)
	if err != nil {
		return err
	}

	tablePatch := database.Patch{"status": models.TableStatusAvailable}
	if p.postCleaning {
		tablePatch["status"] = models.TableStatusCleaning
		tablePatch["cleaning_requested_at"] = p.at
		tablePatch["cleaning_priority"] = models.CleaningPriorityNormal
	}
	prev := t.Status
	updated, err := updateTable(ctx, tx, t, tablePatch)
	if err != nil {
		return err
	}

	c.table = updated
	c.session = ended
	c.op = newOperation(models.OpSessionEnd, updated, prev, p.actor, "")
	c.op.Timestamp = p.at
	c.op.SessionID = &ended.ID
	c.op.Details = models.EncodeDetails(models.SessionEndDetails{
		SessionID:       ended.ID,
		Outcome:         p.outcome,
		DurationMinutes: duration,
		Amount:          ended.Amount,
		Orders:          ended.Orders,
		Customers:       ended.Customers,
		StaffID:         ended.StaffID,
		Expired:         p.expired,
	})
	hash := s.TokenHash
	c.afterCommit = func(ctx context.Context) { m.releaseToken(ctx, hash) }
	return nil
}

// ExpireDue force-ends every active session whose lease lapsed before now.
// It returns how many were ended; failures are collected and the rest still
// processed.
func (m *SessionManager) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	due, err := m.repo.ListSessions(ctx, database.SessionFilter{
		Status:        models.SessionStatusActive,
		ExpiredBefore: &now,
	})
	if err != nil {
		return 0, translate(err, "sessions")
	}

	var errs []error
	ended := 0
	for i := range due {
		ok, err := m.expireSession(ctx, due[i].ID, now)
		if err != nil {
			logSessionError(&due[i], "expire", err)
			errs = append(errs, err)
			continue
		}
		if ok {
			ended++
		}
	}
	return ended, errors.Join(errs...)
}

// expireStale force-ends the table's session when its lease has lapsed.
func (m *SessionManager) expireStale(ctx context.Context, tableID uint) error {
	s, err := m.repo.FindActiveSession(ctx, tableID)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return translate(err, "session")
	}
	now := m.now()
	if !s.ExpiredAt(now) {
		return nil
	}
	_, err = m.expireSession(ctx, s.ID, now)
	return err
}

// expireSession ends one session as cancelled if it is still active and
// expired at now. It reports whether anything changed.
func (m *SessionManager) expireSession(ctx context.Context, sessionID uint, now time.Time) (bool, error) {
	current, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return false, translate(err, "session")
	}

	c, err := m.mutate(ctx, []uint{current.TableID}, func(ctx context.Context, tx database.Repository, c *change) error {
		s, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if !s.ExpiredAt(now) {
			return nil
		}
		t, err := tx.GetTable(ctx, s.TableID)
		if err != nil {
			return err
		}
		return m.finish(ctx, tx, c, t, s, finishParams{
			outcome:      models.SessionStatusCancelled,
			at:           now,
			postCleaning: m.cfg.ExpireToCleaning,
			expired:      true,
			actor:        SystemActor,
		})
	})
	if err != nil {
		return false, err
	}
	return c.op != nil, nil
}

// Warm rebuilds the session index from the store. Run it once at startup.
func (m *SessionManager) Warm(ctx context.Context) (int, error) {
	active, err := m.repo.ListSessions(ctx, database.SessionFilter{Status: models.SessionStatusActive})
	if err != nil {
		return 0, translate(err, "sessions")
	}
	now := m.now()
	warmed := 0
	for _, s := range active {
		ttl := s.ExpiresAt.Sub(now)
		if ttl <= 0 {
			continue
		}
		if err := m.index.Refresh(ctx, s.TokenHash, s.TableID, ttl); err != nil {
			return warmed, err
		}
		warmed++
	}
	return warmed, nil
}

func derefStaff(id *uint) uint {
	if id == nil {
		return 0
	}
	return *id
}

func logIndexError(action string, err error) {
	utils.ErrorLogger.WithField("action", action).Errorf("session index: %v", err)
}

func logSessionError(s *models.TableSession, action string, err error) {
	utils.ErrorLogger.WithFields(logrus.Fields{
		"table_id":   s.TableID,
		"session_id": s.ID,
		"action":     action,
	}).Errorf("session: %v", err)
}
