package routing

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"masar/queue-service/internal/clock"
	"masar/queue-service/internal/models"
	"masar/queue-service/internal/session"
	"masar/queue-service/internal/store"
)

// Engine decides counter assignment: eagerly at issue time when the admin has
// mapped the service to a counter, and in batch passes for everything else.
// Absence of an eligible counter is never an error; the ticket simply stays
// in the shared queue.
type Engine struct {
	Store *store.Store
	Clock *clock.Clock
}

func NewEngine(st *store.Store, ck *clock.Clock) *Engine {
	return &Engine{Store: st, Clock: ck}
}

// AvailableCounters returns counters that are active, daily-enabled for the
// business date, and held by a live session, in catalogue order.
func AvailableCounters(d *store.Data, workDate string, now time.Time) []models.Counter {
	daily := d.CounterDailyMap(workDate)
	held := make(map[int]bool)
	for _, s := range session.LiveSessions(d, now) {
		held[*s.CounterID] = true
	}
	var out []models.Counter
	for _, c := range d.Counters {
		if c.IsActive && daily[c.ID] && held[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

// UserCanServe applies the per-user service allow-list; empty means all.
func UserCanServe(u *models.User, serviceID int) bool {
	if u == nil {
		return false
	}
	if len(u.AllowedServiceIDs) == 0 {
		return true
	}
	for _, id := range u.AllowedServiceIDs {
		if id == serviceID {
			return true
		}
	}
	return false
}

// CounterCanServe reports whether the live session on counterID belongs to a
// user permitted to serve serviceID.
func CounterCanServe(d *store.Data, counterID, serviceID int, now time.Time) bool {
	s := session.ForCounter(d, counterID, now)
	if s == nil {
		return false
	}
	return UserCanServe(d.FindUser(s.UserID), serviceID)
}

func loadFor(d *store.Data, counterID int) int {
	n := 0
	for _, t := range d.Tickets {
		if t.AssignedCounterID == nil || *t.AssignedCounterID != counterID {
			continue
		}
		switch t.Status {
		case models.StatusAssigned, models.StatusCalled, models.StatusInService:
			n++
		}
	}
	return n
}

// InServiceCount is the number of tickets a counter is actively serving.
func InServiceCount(d *store.Data, counterID int) int {
	n := 0
	for _, t := range d.Tickets {
		if t.AssignedCounterID != nil && *t.AssignedCounterID == counterID && t.Status == models.StatusInService {
			n++
		}
	}
	return n
}

func lastCallAt(d *store.Data, counterID int) *time.Time {
	var last *time.Time
	for i := range d.TicketCalls {
		c := &d.TicketCalls[i]
		if c.CounterID != counterID || c.Result != models.CallResultCalled {
			continue
		}
		if last == nil || c.CalledAt.After(*last) {
			last = &c.CalledAt
		}
	}
	return last
}

// ChooseLeastLoaded picks exactly one counter from a non-empty candidate set:
// fewest in-flight tickets, then fewest in-service, then earliest (or never)
// last call, then lowest priority order. The order is total, so the result is
// deterministic for identical inputs.
func ChooseLeastLoaded(d *store.Data, counters []models.Counter) (int, bool) {
	if len(counters) == 0 {
		return 0, false
	}
	type row struct {
		id       int
		load     int
		serving  int
		lastCall int64 // unix millis, 0 for never-called
		priority int
	}
	rows := make([]row, 0, len(counters))
	for _, c := range counters {
		r := row{id: c.ID, load: loadFor(d, c.ID), serving: InServiceCount(d, c.ID), priority: c.PriorityOrder}
		if at := lastCallAt(d, c.ID); at != nil {
			r.lastCall = at.UnixMilli()
		}
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.load != b.load {
			return a.load < b.load
		}
		if a.serving != b.serving {
			return a.serving < b.serving
		}
		if a.lastCall != b.lastCall {
			return a.lastCall < b.lastCall
		}
		return a.priority < b.priority
	})
	return rows[0].id, true
}

// AssignUnassigned routes every NEW, unassigned ticket to the least-loaded
// eligible counter, oldest first. Tickets with no eligible counter stay NEW
// for a later pass or a direct pull. Idempotent: with no state change a rerun
// assigns nothing.
func AssignUnassigned(d *store.Data, workDate string, now time.Time) {
	counters := AvailableCounters(d, workDate, now)
	if len(counters) == 0 {
		return
	}
	var pending []*models.Ticket
	for i := range d.Tickets {
		t := &d.Tickets[i]
		if t.Status == models.StatusNew && t.AssignedCounterID == nil {
			pending = append(pending, t)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	for _, t := range pending {
		var eligible []models.Counter
		for _, c := range counters {
			if CounterCanServe(d, c.ID, t.ServiceID, now) {
				eligible = append(eligible, c)
			}
		}
		if len(eligible) == 0 {
			continue
		}
		id, ok := ChooseLeastLoaded(d, eligible)
		if !ok {
			continue
		}
		assignedAt := now
		t.AssignedCounterID = &id
		t.Status = models.StatusAssigned
		t.AssignedAt = &assignedAt
	}
}

// AssignUnassignedNow is the engine-level batch pass, invoked opportunistically
// (counter page load, after login).
func (e *Engine) AssignUnassignedNow() error {
	return e.Store.Update(func(d *store.Data) error {
		AssignUnassigned(d, e.Clock.BusinessDate(), e.Clock.Now())
		return nil
	})
}

// AssignUnassignedLocked runs the pass inside an update already holding the
// lock (session login hook).
func (e *Engine) AssignUnassignedLocked(d *store.Data) {
	AssignUnassigned(d, e.Clock.BusinessDate(), e.Clock.Now())
}

// ServiceAvailable applies kiosk visibility and the weekly-day window for the
// given business date.
func ServiceAvailable(svc *models.Service, workDate string) bool {
	if !svc.IsActive || !svc.KioskVisible {
		return false
	}
	if svc.AvailabilityMode == models.AvailabilityWeeklyDay {
		if svc.AvailabilityWeekday == nil {
			return false
		}
		return clock.WeekdayOf(workDate) == *svc.AvailabilityWeekday
	}
	return true
}

type IssueInput struct {
	ServiceID       int
	FullName        string
	NationalID      string
	Phone           string
	BeneficiaryType string
	HasPrevious     bool
	PreviousRef     string
}

func (in *IssueInput) validate() error {
	var fields []string
	if len(strings.Fields(in.FullName)) < 3 {
		fields = append(fields, "full_name")
	}
	if len(strings.TrimSpace(in.NationalID)) < 8 {
		fields = append(fields, "national_id")
	}
	if digitCount(in.Phone) < 8 {
		fields = append(fields, "phone")
	}
	if strings.TrimSpace(in.BeneficiaryType) == "" {
		fields = append(fields, "beneficiary_type")
	}
	if in.HasPrevious && strings.TrimSpace(in.PreviousRef) == "" {
		fields = append(fields, "previous_ref")
	}
	if len(fields) > 0 {
		return store.Invalid(fields...)
	}
	return nil
}

func digitCount(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

// Issue creates a kiosk ticket: validates the beneficiary, gates on work
// hours and service availability, allocates the next sequence code, and
// eagerly assigns a counter when the admin's service→counter map points at an
// available one. Otherwise the ticket enters the shared queue as NEW.
func (e *Engine) Issue(in IssueInput) (models.Ticket, error) {
	var ticket models.Ticket
	err := e.Store.Update(func(d *store.Data) error {
		if !e.Clock.WithinWorkHours(d.Settings.WorkHours) {
			return store.ErrOutsideWorkHours
		}
		svc := d.FindService(in.ServiceID)
		if svc == nil {
			return store.ErrServiceNotFound
		}
		if err := in.validate(); err != nil {
			return err
		}
		// Group-tagged services are hidden from the general kiosk list but
		// stay issuable for their own beneficiary type.
		workDate := e.Clock.BusinessDate()
		if svc.Group != "" {
			if in.BeneficiaryType != svc.Group {
				return store.Invalid("beneficiary_type")
			}
			if !svc.IsActive {
				return store.ErrServiceUnavailable
			}
		} else if !ServiceAvailable(svc, workDate) {
			return store.ErrServiceUnavailable
		}

		now := e.Clock.Now()
		assigned := e.eagerCounter(d, svc.ID, workDate, now)

		seq := d.NextSequence(workDate, svc.ID)
		ticket = models.Ticket{
			ID:         uuid.NewString(),
			TicketCode: store.TicketCode(svc, seq),
			ServiceID:  svc.ID,
			Beneficiary: models.Beneficiary{
				FullName:        strings.TrimSpace(in.FullName),
				NationalID:      strings.TrimSpace(in.NationalID),
				Phone:           strings.TrimSpace(in.Phone),
				BeneficiaryType: strings.TrimSpace(in.BeneficiaryType),
				HasPrevious:     in.HasPrevious,
				PreviousRef:     strings.TrimSpace(in.PreviousRef),
			},
			Status:    models.StatusNew,
			CreatedAt: now,
		}
		if assigned != nil {
			assignedAt := now
			ticket.AssignedCounterID = assigned
			ticket.Status = models.StatusAssigned
			ticket.AssignedAt = &assignedAt
		}
		d.Tickets = append(d.Tickets, ticket)
		return nil
	})
	return ticket, err
}

func (e *Engine) eagerCounter(d *store.Data, serviceID int, workDate string, now time.Time) *int {
	mapped, ok := d.Settings.ServiceCounterMap[strconv.Itoa(serviceID)]
	if !ok || mapped == 0 {
		return nil
	}
	c := d.FindCounter(mapped)
	if c == nil || !c.IsActive {
		return nil
	}
	if !d.CounterDailyMap(workDate)[mapped] {
		return nil
	}
	if session.ForCounter(d, mapped, now) == nil {
		return nil
	}
	id := mapped
	return &id
}
