package store

import (
	"fmt"

	"masar/queue-service/internal/models"
)

func (d *Data) FindService(id int) *models.Service {
	for i := range d.Services {
		if d.Services[i].ID == id {
			return &d.Services[i]
		}
	}
	return nil
}

func (d *Data) FindCounter(id int) *models.Counter {
	for i := range d.Counters {
		if d.Counters[i].ID == id {
			return &d.Counters[i]
		}
	}
	return nil
}

func (d *Data) FindUser(id int) *models.User {
	for i := range d.Users {
		if d.Users[i].ID == id {
			return &d.Users[i]
		}
	}
	return nil
}

func (d *Data) FindUserByUsername(username string) *models.User {
	for i := range d.Users {
		if d.Users[i].Username == username {
			return &d.Users[i]
		}
	}
	return nil
}

func (d *Data) FindTicket(id string) *models.Ticket {
	for i := range d.Tickets {
		if d.Tickets[i].ID == id {
			return &d.Tickets[i]
		}
	}
	return nil
}

func (d *Data) FindSessionByToken(token string) *models.Session {
	for i := range d.Sessions {
		if d.Sessions[i].Token == token {
			return &d.Sessions[i]
		}
	}
	return nil
}

func (d *Data) FindCase(ticketID string) *models.CaseFile {
	for i := range d.Cases {
		if d.Cases[i].TicketID == ticketID {
			return &d.Cases[i]
		}
	}
	return nil
}

// NextSequence bumps and returns the per-(business date, service) counter.
// Monotonic per key; a new business date starts a fresh key.
func (d *Data) NextSequence(workDate string, serviceID int) int {
	if d.Sequences == nil {
		d.Sequences = make(map[string]map[int]int)
	}
	if d.Sequences[workDate] == nil {
		d.Sequences[workDate] = make(map[int]int)
	}
	d.Sequences[workDate][serviceID]++
	return d.Sequences[workDate][serviceID]
}

// TicketCode builds the human code, e.g. "A-008" for sequence 8.
func TicketCode(service *models.Service, seq int) string {
	prefix := service.CodePrefix
	if prefix == "" {
		prefix = "T"
	}
	return fmt.Sprintf("%s-%03d", prefix, seq)
}

// CounterDailyMap resolves per-date enablement: counters default to enabled
// unless an explicit row disables them for the date.
func (d *Data) CounterDailyMap(workDate string) map[int]bool {
	m := make(map[int]bool, len(d.Counters))
	for _, c := range d.Counters {
		m[c.ID] = true
	}
	for _, row := range d.CounterDaily {
		if row.WorkDate == workDate {
			m[row.CounterID] = row.EnabledToday
		}
	}
	return m
}

// SetCounterDaily upserts the enablement row for (workDate, counterID).
func (d *Data) SetCounterDaily(workDate string, counterID int, enabled bool) {
	for i := range d.CounterDaily {
		if d.CounterDaily[i].WorkDate == workDate && d.CounterDaily[i].CounterID == counterID {
			d.CounterDaily[i].EnabledToday = enabled
			return
		}
	}
	d.CounterDaily = append(d.CounterDaily, models.CounterDaily{
		WorkDate:     workDate,
		CounterID:    counterID,
		EnabledToday: enabled,
	})
}

func (d *Data) NextSessionID() int {
	max := 0
	for _, s := range d.Sessions {
		if s.ID > max {
			max = s.ID
		}
	}
	return max + 1
}

func (d *Data) NextCallID() int {
	max := 0
	for _, c := range d.TicketCalls {
		if c.ID > max {
			max = c.ID
		}
	}
	return max + 1
}

func (d *Data) NextTransferID() int {
	max := 0
	for _, t := range d.TicketTransfers {
		if t.ID > max {
			max = t.ID
		}
	}
	return max + 1
}

func (d *Data) NextCaseID() int {
	max := 0
	for _, c := range d.Cases {
		if c.ID > max {
			max = c.ID
		}
	}
	return max + 1
}

func (d *Data) NextFeedbackID() int {
	max := 0
	for _, f := range d.Feedback {
		if f.ID > max {
			max = f.ID
		}
	}
	return max + 1
}

func (d *Data) NextCounterID() int {
	max := 0
	for _, c := range d.Counters {
		if c.ID > max {
			max = c.ID
		}
	}
	return max + 1
}

func (d *Data) NextServiceID() int {
	max := 0
	for _, s := range d.Services {
		if s.ID > max {
			max = s.ID
		}
	}
	return max + 1
}

func (d *Data) NextUserID() int {
	max := 0
	for _, u := range d.Users {
		if u.ID > max {
			max = u.ID
		}
	}
	return max + 1
}
