package session

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"masar/queue-service/internal/clock"
	"masar/queue-service/internal/models"
	"masar/queue-service/internal/store"
)

// HeartbeatTimeout is how stale a heartbeat may get before a session stops
// counting as live. Dead sessions release their counter implicitly.
const HeartbeatTimeout = 90 * time.Second

// Live reports whether a session currently holds a counter: active status,
// counter reserved, heartbeat fresh.
func Live(s *models.Session, now time.Time) bool {
	return s.Status == models.SessionActive &&
		s.CounterID != nil &&
		now.Sub(s.LastHeartbeat) < HeartbeatTimeout
}

// LiveSessions returns every session that currently holds a counter.
func LiveSessions(d *store.Data, now time.Time) []models.Session {
	var out []models.Session
	for i := range d.Sessions {
		if Live(&d.Sessions[i], now) {
			out = append(out, d.Sessions[i])
		}
	}
	return out
}

// ForCounter returns the live session holding counterID, if any. At most one
// exists because login never reserves a held counter.
func ForCounter(d *store.Data, counterID int, now time.Time) *models.Session {
	for i := range d.Sessions {
		s := &d.Sessions[i]
		if Live(s, now) && *s.CounterID == counterID {
			return s
		}
	}
	return nil
}

// Registry owns login, logout and heartbeat. AfterLogin runs inside the same
// store update as a successful counter login; main wires it to the routing
// engine's unassigned-ticket pass.
type Registry struct {
	Store      *store.Store
	Clock      *clock.Clock
	AfterLogin func(d *store.Data)
}

func NewRegistry(st *store.Store, ck *clock.Clock) *Registry {
	return &Registry{Store: st, Clock: ck}
}

// Login authenticates a counter operator, ends any prior sessions for the
// user, and reserves a counter: the user's fixed counter when it is free,
// otherwise the free active counter with the lowest priority order, otherwise
// standby (no counter).
func (r *Registry) Login(username, password string) (models.Session, models.User, error) {
	var created models.Session
	var user models.User
	err := r.Store.Update(func(d *store.Data) error {
		u := d.FindUserByUsername(username)
		if u == nil || !u.IsActive || u.Role != models.RoleCounter {
			return store.ErrInvalidCredentials
		}
		if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
			return store.ErrInvalidCredentials
		}

		now := r.Clock.Now()
		r.endSessionsForUser(d, u.ID, now)

		counterID := r.reserveCounter(d, u, now)
		created = models.Session{
			ID:            d.NextSessionID(),
			Token:         uuid.NewString(),
			UserID:        u.ID,
			CounterID:     counterID,
			Role:          models.RoleCounter,
			Status:        models.SessionActive,
			StartedAt:     now,
			LastHeartbeat: now,
		}
		d.Sessions = append(d.Sessions, created)
		user = *u

		if r.AfterLogin != nil {
			r.AfterLogin(d)
		}
		return nil
	})
	return created, user, err
}

// AdminLogin authenticates admin or supervisor users. Their sessions never
// hold a counter and never count toward counter liveness.
func (r *Registry) AdminLogin(username, password string) (models.Session, models.User, error) {
	var created models.Session
	var user models.User
	err := r.Store.Update(func(d *store.Data) error {
		u := d.FindUserByUsername(username)
		if u == nil || !u.IsActive || (u.Role != models.RoleAdmin && u.Role != models.RoleSupervisor) {
			return store.ErrInvalidCredentials
		}
		if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
			return store.ErrInvalidCredentials
		}
		now := r.Clock.Now()
		created = models.Session{
			ID:            d.NextSessionID(),
			Token:         uuid.NewString(),
			UserID:        u.ID,
			Role:          u.Role,
			Status:        models.SessionActive,
			StartedAt:     now,
			LastHeartbeat: now,
		}
		d.Sessions = append(d.Sessions, created)
		user = *u
		return nil
	})
	return created, user, err
}

func (r *Registry) Logout(token string) error {
	return r.Store.Update(func(d *store.Data) error {
		s := d.FindSessionByToken(token)
		if s == nil || s.Status != models.SessionActive {
			return store.ErrSessionInvalid
		}
		now := r.Clock.Now()
		s.Status = models.SessionEnded
		s.EndedAt = &now
		return nil
	})
}

func (r *Registry) Heartbeat(token string) error {
	return r.Store.Update(func(d *store.Data) error {
		s := d.FindSessionByToken(token)
		if s == nil || s.Status != models.SessionActive {
			return store.ErrSessionInvalid
		}
		s.LastHeartbeat = r.Clock.Now()
		return nil
	})
}

// Authenticate resolves a bearer token to its session and user. Ended
// sessions are rejected; heartbeat freshness is only enforced for counter
// eligibility, not for holding the HTTP session.
func (r *Registry) Authenticate(token string) (models.Session, models.User, error) {
	var sess models.Session
	var user models.User
	found := false
	r.Store.View(func(d *store.Data) {
		s := d.FindSessionByToken(token)
		if s == nil || s.Status != models.SessionActive {
			return
		}
		u := d.FindUser(s.UserID)
		if u == nil || !u.IsActive {
			return
		}
		sess = *s
		user = *u
		found = true
	})
	if !found {
		return models.Session{}, models.User{}, store.ErrSessionInvalid
	}
	return sess, user, nil
}

func (r *Registry) endSessionsForUser(d *store.Data, userID int, now time.Time) {
	for i := range d.Sessions {
		s := &d.Sessions[i]
		if s.UserID == userID && s.Status == models.SessionActive {
			s.Status = models.SessionEnded
			ended := now
			s.EndedAt = &ended
		}
	}
}

func (r *Registry) reserveCounter(d *store.Data, u *models.User, now time.Time) *int {
	workDate := r.Clock.BusinessDate()
	daily := d.CounterDailyMap(workDate)
	held := make(map[int]bool)
	for _, s := range LiveSessions(d, now) {
		held[*s.CounterID] = true
	}

	if u.FixedCounterID != nil {
		c := d.FindCounter(*u.FixedCounterID)
		if c != nil && c.IsActive && daily[c.ID] && !held[c.ID] {
			id := c.ID
			return &id
		}
	}

	var free []models.Counter
	for _, c := range d.Counters {
		if c.IsActive && daily[c.ID] && !held[c.ID] {
			free = append(free, c)
		}
	}
	if len(free) == 0 {
		return nil
	}
	sort.Slice(free, func(i, j int) bool {
		return free[i].PriorityOrder < free[j].PriorityOrder
	})
	id := free[0].ID
	return &id
}
