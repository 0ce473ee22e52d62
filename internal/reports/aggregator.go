package reports

import (
	"time"

	"masar/queue-service/internal/clock"
	"masar/queue-service/internal/models"
	"masar/queue-service/internal/store"
)

// maxSaneDuration caps wait and service spans that cross a restart or a
// clock jump so one broken ticket cannot dominate an average.
const maxSaneDuration = 24 * time.Hour

type StatusCounts struct {
	Issued    int `json:"issued"`
	Waiting   int `json:"waiting"`
	Called    int `json:"called"`
	InService int `json:"in_service"`
	Skipped   int `json:"skipped"`
	Closed    int `json:"closed"`
}

type OutcomeCounts struct {
	Resolved          int `json:"resolved"`
	Transferred       int `json:"transferred"`
	Awaiting          int `json:"awaiting"`
	NotResolved       int `json:"not_resolved"`
	AppointmentBooked int `json:"appointment_booked"`
}

type ServiceRow struct {
	ServiceID       int     `json:"service_id"`
	NameAr          string  `json:"name_ar"`
	Issued          int     `json:"issued"`
	Closed          int     `json:"closed"`
	AvgWaitSeconds  float64 `json:"avg_wait_seconds"`
	AvgServeSeconds float64 `json:"avg_serve_seconds"`
}

type CounterRow struct {
	CounterID       int     `json:"counter_id"`
	Name            string  `json:"name"`
	Called          int     `json:"called"`
	Closed          int     `json:"closed"`
	AvgServeSeconds float64 `json:"avg_serve_seconds"`
}

type EmployeeRow struct {
	UserID          int     `json:"user_id"`
	FullName        string  `json:"full_name"`
	Called          int     `json:"called"`
	Closed          int     `json:"closed"`
	AvgServeSeconds float64 `json:"avg_serve_seconds"`
	AvgRating       float64 `json:"avg_rating"`
	FeedbackCount   int     `json:"feedback_count"`
}

type FeedbackSummary struct {
	Count     int     `json:"count"`
	SolvedYes int     `json:"solved_yes"`
	SolvedNo  int     `json:"solved_no"`
	AvgRating float64 `json:"avg_rating"`
}

type Summary struct {
	From      time.Time       `json:"from"`
	To        time.Time       `json:"to"`
	Statuses  StatusCounts    `json:"statuses"`
	Outcomes  OutcomeCounts   `json:"outcomes"`
	Services  []ServiceRow    `json:"services"`
	Counters  []CounterRow    `json:"counters"`
	Employees []EmployeeRow   `json:"employees"`
	Feedback  FeedbackSummary `json:"feedback"`
}

// Service resolves named ranges against the office clock and aggregates.
type Service struct {
	Store *store.Store
	Clock *clock.Clock
}

func NewService(st *store.Store, ck *clock.Clock) *Service {
	return &Service{Store: st, Clock: ck}
}

// Range resolves "today", "week", "month" or an explicit custom span to
// half-open [from, to) bounds in the office timezone. Week starts Sunday,
// matching the working week.
func (s *Service) Range(name string, customFrom, customTo string) (time.Time, time.Time) {
	now := s.Clock.Now().In(s.Clock.Location)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.Clock.Location)
	switch name {
	case "week":
		start := midnight.AddDate(0, 0, -int(midnight.Weekday()))
		return start, midnight.AddDate(0, 0, 1)
	case "month":
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, s.Clock.Location)
		return start, midnight.AddDate(0, 0, 1)
	case "custom":
		from, errF := time.ParseInLocation("2006-01-02", customFrom, s.Clock.Location)
		to, errT := time.ParseInLocation("2006-01-02", customTo, s.Clock.Location)
		if errF == nil && errT == nil && !to.Before(from) {
			return from, to.AddDate(0, 0, 1)
		}
		return midnight, midnight.AddDate(0, 0, 1)
	default:
		return midnight, midnight.AddDate(0, 0, 1)
	}
}

func (s *Service) Summary(rangeName, customFrom, customTo string) Summary {
	from, to := s.Range(rangeName, customFrom, customTo)
	var out Summary
	s.Store.View(func(d *store.Data) {
		out = Compute(d, from, to)
	})
	return out
}

type avg struct {
	total time.Duration
	n     int
}

func (a *avg) add(d time.Duration) {
	if d < 0 || d > maxSaneDuration {
		return
	}
	a.total += d
	a.n++
}

func (a *avg) seconds() float64 {
	if a.n == 0 {
		return 0
	}
	return a.total.Seconds() / float64(a.n)
}

// Compute aggregates tickets issued in [from, to): status and outcome
// tallies, and per-service, per-counter and per-employee rows with average
// wait (issue to first call) and service (start to close) spans.
func Compute(d *store.Data, from, to time.Time) Summary {
	out := Summary{From: from, To: to}

	type svcAcc struct {
		row   ServiceRow
		wait  avg
		serve avg
	}
	type ctrAcc struct {
		row   CounterRow
		serve avg
	}
	type empAcc struct {
		row    EmployeeRow
		serve  avg
		rating int
	}
	services := make(map[int]*svcAcc)
	counters := make(map[int]*ctrAcc)
	employees := make(map[int]*empAcc)
	inRange := make(map[string]bool)

	for i := range d.Tickets {
		t := &d.Tickets[i]
		if t.CreatedAt.Before(from) || !t.CreatedAt.Before(to) {
			continue
		}
		inRange[t.ID] = true
		out.Statuses.Issued++
		switch t.Status {
		case models.StatusNew, models.StatusAssigned:
			out.Statuses.Waiting++
		case models.StatusCalled:
			out.Statuses.Called++
		case models.StatusInService:
			out.Statuses.InService++
		case models.StatusSkipped:
			out.Statuses.Skipped++
		}
		if models.IsClosed(t.Status) {
			out.Statuses.Closed++
			switch t.Status {
			case models.StatusClosedResolved:
				out.Outcomes.Resolved++
			case models.StatusClosedTransferred:
				out.Outcomes.Transferred++
			case models.StatusClosedAwaiting:
				out.Outcomes.Awaiting++
			case models.StatusClosedNotResolved:
				out.Outcomes.NotResolved++
			case models.StatusClosedAppointmentBooked:
				out.Outcomes.AppointmentBooked++
			}
		}

		sa := services[t.ServiceID]
		if sa == nil {
			sa = &svcAcc{row: ServiceRow{ServiceID: t.ServiceID}}
			if svc := d.FindService(t.ServiceID); svc != nil {
				sa.row.NameAr = svc.NameAr
			}
			services[t.ServiceID] = sa
		}
		sa.row.Issued++
		if t.CalledAt != nil {
			sa.wait.add(t.CalledAt.Sub(t.CreatedAt))
		}
		var serveSpan *time.Duration
		if models.IsClosed(t.Status) && t.ClosedAt != nil && t.InServiceAt != nil {
			span := t.ClosedAt.Sub(*t.InServiceAt)
			serveSpan = &span
			sa.row.Closed++
			sa.serve.add(span)
		}

		if t.AssignedCounterID != nil {
			ca := counters[*t.AssignedCounterID]
			if ca == nil {
				ca = &ctrAcc{row: CounterRow{CounterID: *t.AssignedCounterID}}
				if c := d.FindCounter(*t.AssignedCounterID); c != nil {
					ca.row.Name = c.Name
				}
				counters[*t.AssignedCounterID] = ca
			}
			if t.CalledAt != nil {
				ca.row.Called++
			}
			if serveSpan != nil {
				ca.row.Closed++
				ca.serve.add(*serveSpan)
			}
		}

		uid := t.ClosedByUserID
		if uid == nil {
			uid = t.ServedByUserID
		}
		if uid != nil {
			ea := employees[*uid]
			if ea == nil {
				ea = &empAcc{row: EmployeeRow{UserID: *uid}}
				if u := d.FindUser(*uid); u != nil {
					ea.row.FullName = u.FullName
				}
				employees[*uid] = ea
			}
			if t.CalledAt != nil {
				ea.row.Called++
			}
			if serveSpan != nil {
				ea.row.Closed++
				ea.serve.add(*serveSpan)
			}
		}
	}

	ratingTotal := 0
	for i := range d.Feedback {
		f := &d.Feedback[i]
		if !inRange[f.TicketID] {
			continue
		}
		out.Feedback.Count++
		ratingTotal += f.EmployeeRating
		if f.Solved {
			out.Feedback.SolvedYes++
		} else {
			out.Feedback.SolvedNo++
		}
		if ea := employees[f.UserID]; ea != nil {
			ea.row.FeedbackCount++
			ea.rating += f.EmployeeRating
		}
	}
	if out.Feedback.Count > 0 {
		out.Feedback.AvgRating = float64(ratingTotal) / float64(out.Feedback.Count)
	}

	for _, svc := range d.Services {
		if sa, ok := services[svc.ID]; ok {
			sa.row.AvgWaitSeconds = sa.wait.seconds()
			sa.row.AvgServeSeconds = sa.serve.seconds()
			out.Services = append(out.Services, sa.row)
		}
	}
	for _, c := range d.Counters {
		if ca, ok := counters[c.ID]; ok {
			ca.row.AvgServeSeconds = ca.serve.seconds()
			out.Counters = append(out.Counters, ca.row)
		}
	}
	for _, u := range d.Users {
		if ea, ok := employees[u.ID]; ok {
			ea.row.AvgServeSeconds = ea.serve.seconds()
			if ea.row.FeedbackCount > 0 {
				ea.row.AvgRating = float64(ea.rating) / float64(ea.row.FeedbackCount)
			}
			out.Employees = append(out.Employees, ea.row)
		}
	}
	return out
}
