package feedback

import (
	"time"

	"masar/queue-service/internal/clock"
	"masar/queue-service/internal/models"
	"masar/queue-service/internal/store"
)

// OpenWindow registers a feedback opportunity for a just-closed ticket. The
// window expires after the configured number of seconds and is consumed by the
// first submission. Opening is best effort: a ticket that already collected
// feedback never gets a second window.
func OpenWindow(d *store.Data, t *models.Ticket, userID int, now time.Time) {
	if t.AssignedCounterID == nil {
		return
	}
	for _, f := range d.Feedback {
		if f.TicketID == t.ID {
			return
		}
	}
	for i := range d.FeedbackWindows {
		w := &d.FeedbackWindows[i]
		if w.TicketID == t.ID && !w.Consumed {
			return
		}
	}
	seconds := d.Settings.FeedbackWindowSeconds
	d.FeedbackWindows = append(d.FeedbackWindows, models.FeedbackWindow{
		TicketID:   t.ID,
		TicketCode: t.TicketCode,
		CounterID:  *t.AssignedCounterID,
		UserID:     userID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Duration(seconds) * time.Second),
	})
}

// Service answers the counter tablet: which ticket is currently asking for
// feedback, and accepts the answers.
type Service struct {
	Store *store.Store
	Clock *clock.Clock
}

func NewService(st *store.Store, ck *clock.Clock) *Service {
	return &Service{Store: st, Clock: ck}
}

// Prompt is what the tablet renders alongside the window.
type Prompt struct {
	Window    *models.FeedbackWindow `json:"window,omitempty"`
	Question1 string                 `json:"question1_text"`
	Question2 string                 `json:"question2_text"`
}

// currentWindow picks the oldest unconsumed, unexpired window. In shared mode
// any tablet sees any counter's window; in per_counter mode each tablet only
// sees windows opened at its own counter.
func currentWindow(d *store.Data, counterID int, now time.Time) *models.FeedbackWindow {
	perCounter := d.Settings.FeedbackMode == models.FeedbackModePerCounter
	var oldest *models.FeedbackWindow
	for i := range d.FeedbackWindows {
		w := &d.FeedbackWindows[i]
		if w.Consumed || !now.Before(w.ExpiresAt) {
			continue
		}
		if perCounter && w.CounterID != counterID {
			continue
		}
		if oldest == nil || w.CreatedAt.Before(oldest.CreatedAt) {
			oldest = w
		}
	}
	return oldest
}

// Current returns what the tablet should render right now.
func (s *Service) Current(counterID int) Prompt {
	var prompt Prompt
	now := s.Clock.Now()
	s.Store.View(func(d *store.Data) {
		prompt.Question1 = d.Settings.Question1Text
		prompt.Question2 = d.Settings.Question2Text
		if w := currentWindow(d, counterID, now); w != nil {
			copyW := *w
			prompt.Window = &copyW
		}
	})
	return prompt
}

type SubmitInput struct {
	TicketID       string
	CounterID      int
	Solved         bool
	EmployeeRating int
	ReasonCode     string
}

// Submit records feedback for the currently-current window only; a submission
// naming any other ticket, even one with its own open window, is rejected. The
// window is consumed so the same ticket can never be rated twice, even if the
// tablet retries.
func (s *Service) Submit(in SubmitInput) (models.Feedback, error) {
	var saved models.Feedback
	err := s.Store.Update(func(d *store.Data) error {
		if in.EmployeeRating < 1 || in.EmployeeRating > 5 {
			return store.Invalid("employee_rating")
		}
		now := s.Clock.Now()
		window := currentWindow(d, in.CounterID, now)
		if window == nil || window.TicketID != in.TicketID {
			return store.ErrWindowMismatch
		}
		for _, f := range d.Feedback {
			if f.TicketID == in.TicketID {
				return store.ErrWindowMismatch
			}
		}
		window.Consumed = true
		saved = models.Feedback{
			ID:             d.NextFeedbackID(),
			TicketID:       in.TicketID,
			CounterID:      window.CounterID,
			UserID:         window.UserID,
			Solved:         in.Solved,
			EmployeeRating: in.EmployeeRating,
			ReasonCode:     in.ReasonCode,
			CreatedAt:      now,
		}
		d.Feedback = append(d.Feedback, saved)
		return nil
	})
	return saved, err
}

// PruneExpired drops windows that expired without being consumed. Runs
// opportunistically from the settings update path so the slice stays small.
func PruneExpired(d *store.Data, now time.Time) {
	kept := d.FeedbackWindows[:0]
	for _, w := range d.FeedbackWindows {
		if w.Consumed || now.Before(w.ExpiresAt) {
			kept = append(kept, w)
		}
	}
	d.FeedbackWindows = kept
}
