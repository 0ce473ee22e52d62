package scheduler

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"masar/queue-service/internal/clock"
	"masar/queue-service/internal/feedback"
	"masar/queue-service/internal/metrics"
	"masar/queue-service/internal/models"
	"masar/queue-service/internal/routing"
	"masar/queue-service/internal/session"
	"masar/queue-service/internal/store"
)

// Notifier receives call and feedback events for the display board. A nil
// notifier is valid and drops everything.
type Notifier interface {
	TicketCalled(t models.Ticket, counterName string, auto bool)
	FeedbackWindowOpened(w models.FeedbackWindow)
}

// Scheduler owns every ticket state transition after issuance, plus the
// per-counter idle-rest timers that drive automatic calling. Timer callbacks
// go through the same store update path as HTTP requests, so a firing timer
// never races a manual action; whichever takes the lock first wins and the
// other observes the new state.
type Scheduler struct {
	Store    *store.Store
	Clock    *clock.Clock
	Log      zerolog.Logger
	Notifier Notifier

	mu      sync.Mutex
	timers  map[int]*time.Timer
	stopped bool
}

func New(st *store.Store, ck *clock.Clock, log zerolog.Logger, n Notifier) *Scheduler {
	return &Scheduler{
		Store:    st,
		Clock:    ck,
		Log:      log,
		Notifier: n,
		timers:   make(map[int]*time.Timer),
	}
}

// Stop cancels every pending rest timer. Called once at shutdown.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// CallNext pulls the next ticket for a counter: first the counter's own
// assigned backlog, oldest first, then the shared unassigned pool, both
// filtered by the operator's service allow-list. The counter itself must be
// active and enabled for the business date. Distinguishes an empty queue from
// a queue whose tickets this operator may not serve.
func (s *Scheduler) CallNext(counterID, userID int, auto bool) (models.Ticket, error) {
	var called models.Ticket
	var counterName string
	err := s.Store.Update(func(d *store.Data) error {
		t, err := s.callNextLocked(d, counterID, userID, auto)
		if err != nil {
			return err
		}
		called = *t
		if c := d.FindCounter(counterID); c != nil {
			counterName = c.Name
		}
		return nil
	})
	if err != nil {
		return models.Ticket{}, err
	}
	s.cancelRest(counterID)
	s.announce(called, counterName, auto)
	return called, nil
}

func (s *Scheduler) callNextLocked(d *store.Data, counterID, userID int, auto bool) (*models.Ticket, error) {
	now := s.Clock.Now()

	c := d.FindCounter(counterID)
	if c == nil {
		return nil, store.ErrCounterNotFound
	}
	if !c.IsActive || !d.CounterDailyMap(s.Clock.BusinessDate())[counterID] {
		return nil, store.ErrCounterDisabled
	}

	user := d.FindUser(userID)

	var own []*models.Ticket
	for i := range d.Tickets {
		t := &d.Tickets[i]
		if t.AssignedCounterID == nil || *t.AssignedCounterID != counterID {
			continue
		}
		// Pre-routing snapshots left assigned tickets in NEW; they count as
		// assigned backlog here.
		if t.Status != models.StatusAssigned && t.Status != models.StatusNew {
			continue
		}
		if !routing.UserCanServe(user, t.ServiceID) {
			continue
		}
		own = append(own, t)
	}
	sort.Slice(own, func(i, j int) bool { return own[i].CreatedAt.Before(own[j].CreatedAt) })

	var pick *models.Ticket
	if len(own) > 0 {
		pick = own[0]
	} else {
		var pool []*models.Ticket
		anyWaiting := false
		for i := range d.Tickets {
			t := &d.Tickets[i]
			if t.Status != models.StatusNew && t.Status != models.StatusAssigned {
				continue
			}
			// A ticket held by another counter, or one this operator may not
			// serve, still means the queue is not empty.
			anyWaiting = true
			if t.Status != models.StatusNew || t.AssignedCounterID != nil {
				continue
			}
			if routing.UserCanServe(user, t.ServiceID) {
				pool = append(pool, t)
			}
		}
		if len(pool) == 0 {
			if anyWaiting {
				return nil, store.ErrNoEligibleTicket
			}
			return nil, store.ErrNoTicket
		}
		sort.Slice(pool, func(i, j int) bool { return pool[i].CreatedAt.Before(pool[j].CreatedAt) })
		pick = pool[0]
		id := counterID
		assignedAt := now
		pick.AssignedCounterID = &id
		pick.AssignedAt = &assignedAt
	}

	round := s.priorCalledRounds(d, pick.ID, counterID) + 1
	calledAt := now
	uid := userID
	pick.Status = models.StatusCalled
	pick.CalledAt = &calledAt
	pick.ServedByUserID = &uid
	pick.CallRound = round
	d.TicketCalls = append(d.TicketCalls, models.TicketCall{
		ID:        d.NextCallID(),
		TicketID:  pick.ID,
		CounterID: counterID,
		UserID:    userID,
		CallRound: round,
		CalledAt:  now,
		Result:    models.CallResultCalled,
		Auto:      auto,
	})
	return pick, nil
}

func (s *Scheduler) priorCalledRounds(d *store.Data, ticketID string, counterID int) int {
	n := 0
	for _, c := range d.TicketCalls {
		if c.TicketID == ticketID && c.CounterID == counterID && c.Result == models.CallResultCalled {
			n++
		}
	}
	return n
}

// Start moves a ticket into service at its counter. An assigned ticket may
// start without a call when the visitor is already standing at the counter.
func (s *Scheduler) Start(counterID, userID int, ticketID string) (models.Ticket, error) {
	var ticket models.Ticket
	err := s.Store.Update(func(d *store.Data) error {
		t := d.FindTicket(ticketID)
		if t == nil {
			return store.ErrTicketNotFound
		}
		if t.AssignedCounterID == nil || *t.AssignedCounterID != counterID {
			return store.ErrWrongCounter
		}
		if t.Status != models.StatusCalled && t.Status != models.StatusAssigned {
			return store.ErrInvalidState
		}
		now := s.Clock.Now()
		t.Status = models.StatusInService
		t.InServiceAt = &now
		ticket = *t
		return nil
	})
	if err != nil {
		return models.Ticket{}, err
	}
	s.cancelRest(counterID)
	return ticket, nil
}

type CloseInput struct {
	TicketID          string
	Outcome           string
	Summary           string
	Details           string
	Phone             string
	NotResolvedReason string
	Category          string
	Priority          string
	Channel           string
	InternalNotes     string
	TransferTo        string
	AwaitingFrom      string
	DueDate           string
}

func (in *CloseInput) validate() error {
	var fields []string
	if !models.IsClosed(in.Outcome) {
		fields = append(fields, "outcome")
	}
	if strings.TrimSpace(in.Summary) == "" {
		fields = append(fields, "summary")
	}
	if in.Outcome == models.StatusClosedNotResolved && strings.TrimSpace(in.NotResolvedReason) == "" {
		fields = append(fields, "not_resolved_reason")
	}
	if in.Outcome == models.StatusClosedAwaiting && strings.TrimSpace(in.DueDate) == "" {
		fields = append(fields, "due_date")
	}
	if len(fields) > 0 {
		return store.Invalid(fields...)
	}
	return nil
}

// Close finishes a ticket that is in service, or still called when the matter
// resolves at the window without a formal start: records the case file, opens
// a feedback window, and starts the counter's idle rest. Guards run before any
// mutation so a rejected close leaves the ticket untouched.
func (s *Scheduler) Close(counterID, userID int, in CloseInput) (models.Ticket, error) {
	var ticket models.Ticket
	var window *models.FeedbackWindow
	err := s.Store.Update(func(d *store.Data) error {
		t := d.FindTicket(in.TicketID)
		if t == nil {
			return store.ErrTicketNotFound
		}
		if t.AssignedCounterID == nil || *t.AssignedCounterID != counterID {
			return store.ErrWrongCounter
		}
		if t.Status != models.StatusInService && t.Status != models.StatusCalled {
			return store.ErrInvalidState
		}
		if err := in.validate(); err != nil {
			return err
		}

		now := s.Clock.Now()
		s.upsertCase(d, t.ID, in, now)

		uid := userID
		t.Status = in.Outcome
		t.ClosedAt = &now
		t.ClosedByUserID = &uid
		ticket = *t

		before := len(d.FeedbackWindows)
		feedback.OpenWindow(d, t, userID, now)
		if len(d.FeedbackWindows) > before {
			w := d.FeedbackWindows[len(d.FeedbackWindows)-1]
			window = &w
		}
		return nil
	})
	if err != nil {
		return models.Ticket{}, err
	}
	metrics.TicketsClosed.WithLabelValues(ticket.Status).Inc()
	if window != nil && s.Notifier != nil {
		s.Notifier.FeedbackWindowOpened(*window)
	}
	s.ScheduleRest(counterID)
	return ticket, nil
}

func (s *Scheduler) upsertCase(d *store.Data, ticketID string, in CloseInput, now time.Time) {
	c := d.FindCase(ticketID)
	if c == nil {
		d.Cases = append(d.Cases, models.CaseFile{
			ID:        d.NextCaseID(),
			TicketID:  ticketID,
			CreatedAt: now,
		})
		c = &d.Cases[len(d.Cases)-1]
	}
	c.Summary = strings.TrimSpace(in.Summary)
	c.Details = in.Details
	c.Phone = in.Phone
	c.OutcomeCode = in.Outcome
	c.NotResolvedReason = in.NotResolvedReason
	c.Category = in.Category
	c.Priority = in.Priority
	c.Channel = in.Channel
	c.InternalNotes = in.InternalNotes
	c.TransferTo = in.TransferTo
	c.AwaitingFrom = in.AwaitingFrom
	c.DueDate = in.DueDate
	c.UpdatedAt = now
}

// Skip marks a pending ticket (assigned, called or in service) as a no-show
// and rests the counter.
func (s *Scheduler) Skip(counterID, userID int, ticketID, reason string) (models.Ticket, error) {
	var ticket models.Ticket
	err := s.Store.Update(func(d *store.Data) error {
		t := d.FindTicket(ticketID)
		if t == nil {
			return store.ErrTicketNotFound
		}
		if t.AssignedCounterID == nil || *t.AssignedCounterID != counterID {
			return store.ErrWrongCounter
		}
		switch t.Status {
		case models.StatusCalled, models.StatusAssigned, models.StatusInService:
		default:
			return store.ErrInvalidState
		}
		now := s.Clock.Now()
		t.Status = models.StatusSkipped
		t.SkippedAt = &now
		t.SkipReason = strings.TrimSpace(reason)
		d.TicketCalls = append(d.TicketCalls, models.TicketCall{
			ID:        d.NextCallID(),
			TicketID:  t.ID,
			CounterID: counterID,
			UserID:    userID,
			CallRound: t.CallRound,
			CalledAt:  now,
			Result:    models.CallResultSkipped,
		})
		ticket = *t
		return nil
	})
	if err != nil {
		return models.Ticket{}, err
	}
	metrics.TicketsSkipped.Inc()
	s.ScheduleRest(counterID)
	return ticket, nil
}

// RecallResult carries the re-announced ticket plus a warning once the ticket
// has used up the configured number of call rounds.
type RecallResult struct {
	Ticket           models.Ticket
	MaxRoundsReached bool
}

// Recall re-announces a skipped or already-called ticket at its own counter,
// bumping the call round.
func (s *Scheduler) Recall(counterID, userID int, ticketID string) (RecallResult, error) {
	var res RecallResult
	var counterName string
	err := s.Store.Update(func(d *store.Data) error {
		t := d.FindTicket(ticketID)
		if t == nil {
			return store.ErrTicketNotFound
		}
		if t.AssignedCounterID == nil || *t.AssignedCounterID != counterID {
			return store.ErrWrongCounter
		}
		if t.Status != models.StatusSkipped && t.Status != models.StatusCalled {
			return store.ErrInvalidState
		}
		now := s.Clock.Now()
		round := s.priorCalledRounds(d, t.ID, counterID) + 1
		uid := userID
		t.Status = models.StatusCalled
		t.CalledAt = &now
		t.SkipReason = ""
		t.ServedByUserID = &uid
		t.CallRound = round
		d.TicketCalls = append(d.TicketCalls, models.TicketCall{
			ID:        d.NextCallID(),
			TicketID:  t.ID,
			CounterID: counterID,
			UserID:    userID,
			CallRound: round,
			CalledAt:  now,
			Result:    models.CallResultCalled,
		})
		res.Ticket = *t
		res.MaxRoundsReached = round >= d.Settings.NoShowMaxRounds
		if c := d.FindCounter(counterID); c != nil {
			counterName = c.Name
		}
		return nil
	})
	if err != nil {
		return RecallResult{}, err
	}
	s.cancelRest(counterID)
	s.announce(res.Ticket, counterName, false)
	return res, nil
}

// Transfer hands a ticket to another counter. The ticket re-enters that
// counter's backlog as freshly assigned: call stamps, serving operator and
// round all reset, and the move is logged.
func (s *Scheduler) Transfer(counterID, userID int, ticketID string, toCounterID int, note string) (models.Ticket, error) {
	var ticket models.Ticket
	err := s.Store.Update(func(d *store.Data) error {
		t := d.FindTicket(ticketID)
		if t == nil {
			return store.ErrTicketNotFound
		}
		if t.AssignedCounterID == nil || *t.AssignedCounterID != counterID {
			return store.ErrWrongCounter
		}
		switch t.Status {
		case models.StatusAssigned, models.StatusCalled, models.StatusInService, models.StatusSkipped:
		default:
			return store.ErrInvalidState
		}
		if toCounterID == counterID {
			return store.Invalid("to_counter_id")
		}
		target := d.FindCounter(toCounterID)
		if target == nil {
			return store.ErrCounterNotFound
		}
		if !target.IsActive {
			return store.ErrCounterDisabled
		}

		now := s.Clock.Now()
		to := toCounterID
		t.Status = models.StatusAssigned
		t.AssignedCounterID = &to
		t.AssignedAt = &now
		t.CalledAt = nil
		t.InServiceAt = nil
		t.SkippedAt = nil
		t.SkipReason = ""
		t.ServedByUserID = nil
		t.CallRound = 0
		d.TicketTransfers = append(d.TicketTransfers, models.TicketTransfer{
			ID:            d.NextTransferID(),
			TicketID:      t.ID,
			TicketCode:    t.TicketCode,
			FromCounterID: counterID,
			ToCounterID:   toCounterID,
			UserID:        userID,
			Note:          strings.TrimSpace(note),
			At:            now,
		})
		ticket = *t
		return nil
	})
	if err != nil {
		return models.Ticket{}, err
	}
	s.ScheduleRest(counterID)
	return ticket, nil
}

// ScheduleRest arms (or re-arms) the idle-rest timer for a counter. A newer
// schedule replaces a pending one, timers never stack. No timer is armed while
// the counter is serving someone or when auto-call is off for it.
func (s *Scheduler) ScheduleRest(counterID int) {
	enabled := false
	var rest time.Duration
	serving := false
	s.Store.View(func(d *store.Data) {
		enabled, rest = restFor(&d.Settings, counterID)
		serving = routing.InServiceCount(d, counterID) > 0
	})
	if !enabled || serving {
		s.cancelRest(counterID)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if t, ok := s.timers[counterID]; ok {
		t.Stop()
	}
	s.timers[counterID] = time.AfterFunc(rest, func() { s.restExpired(counterID) })
}

func (s *Scheduler) cancelRest(counterID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[counterID]; ok {
		t.Stop()
		delete(s.timers, counterID)
	}
}

// restExpired fires when a counter's rest ends. The operator holding the
// counter is resolved now, not at scheduling time, so a logout or takeover
// between schedule and fire is respected.
func (s *Scheduler) restExpired(counterID int) {
	s.mu.Lock()
	delete(s.timers, counterID)
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return
	}

	var userID int
	found := false
	s.Store.View(func(d *store.Data) {
		if sess := session.ForCounter(d, counterID, s.Clock.Now()); sess != nil {
			userID = sess.UserID
			found = true
		}
	})
	if !found {
		return
	}
	if _, err := s.CallNext(counterID, userID, true); err != nil {
		s.Log.Debug().Int("counter_id", counterID).Err(err).Msg("auto-call found nothing")
	}
}

func (s *Scheduler) announce(t models.Ticket, counterName string, auto bool) {
	trigger := "manual"
	if auto {
		trigger = "auto"
	}
	metrics.TicketsCalled.WithLabelValues(trigger).Inc()
	s.Log.Info().
		Str("ticket_code", t.TicketCode).
		Int("counter_id", derefInt(t.AssignedCounterID)).
		Int("round", t.CallRound).
		Bool("auto", auto).
		Msg("ticket called")
	if s.Notifier != nil {
		s.Notifier.TicketCalled(t, counterName, auto)
	}
}

// restFor resolves the effective auto-call flag and rest duration for a
// counter, applying the per-counter override and clamping the duration to the
// configured bounds.
func restFor(st *models.Settings, counterID int) (bool, time.Duration) {
	enabled := st.AutoCallEnabled
	seconds := st.RestSecondsDefault
	if ov, ok := st.CounterOverrides[strconv.Itoa(counterID)]; ok {
		if ov.AutoCallEnabled != nil {
			enabled = *ov.AutoCallEnabled
		}
		if ov.RestSeconds != nil {
			seconds = *ov.RestSeconds
		}
	}
	if seconds < st.RestSecondsMin {
		seconds = st.RestSecondsMin
	}
	if seconds > st.RestSecondsMax {
		seconds = st.RestSecondsMax
	}
	return enabled, time.Duration(seconds) * time.Second
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
