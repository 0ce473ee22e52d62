package routing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"masar/queue-service/internal/clock"
	"masar/queue-service/internal/models"
	"masar/queue-service/internal/store"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC) // Tuesday

const workDate = "2026-03-10"

func fixedClock(now time.Time) *clock.Clock {
	return &clock.Clock{Location: time.UTC, Now: func() time.Time { return now }}
}

func intPtr(v int) *int { return &v }

func liveSession(id, userID, counterID int) models.Session {
	return models.Session{
		ID:            id,
		Token:         "tok",
		UserID:        userID,
		CounterID:     intPtr(counterID),
		Role:          models.RoleCounter,
		Status:        models.SessionActive,
		StartedAt:     testNow,
		LastHeartbeat: testNow,
	}
}

func testData() *store.Data {
	return &store.Data{
		Counters: []models.Counter{
			{ID: 1, Name: "C1", IsActive: true, PriorityOrder: 1},
			{ID: 2, Name: "C2", IsActive: true, PriorityOrder: 2},
		},
		Services: []models.Service{
			{ID: 1, NameAr: "استفسار", CodePrefix: "A", Type: models.ServiceTypeWalkin, KioskVisible: true, IsActive: true, AvailabilityMode: models.AvailabilityAlways},
		},
		Users: []models.User{
			{ID: 1, Username: "emp01", Role: models.RoleCounter, IsActive: true},
			{ID: 2, Username: "emp02", Role: models.RoleCounter, IsActive: true},
		},
		Sessions: []models.Session{liveSession(1, 1, 1), liveSession(2, 2, 2)},
	}
}

func waitingTicket(id string, createdAt time.Time) models.Ticket {
	return models.Ticket{ID: id, TicketCode: "A-" + id, ServiceID: 1, Status: models.StatusNew, CreatedAt: createdAt}
}

func TestChooseLeastLoadedPrefersFewerInFlight(t *testing.T) {
	d := testData()
	// C1 already has one assigned ticket, C2 is idle.
	d.Tickets = append(d.Tickets, models.Ticket{
		ID: "busy", ServiceID: 1, Status: models.StatusAssigned,
		AssignedCounterID: intPtr(1), CreatedAt: testNow,
	})

	id, ok := ChooseLeastLoaded(d, d.Counters)
	require.True(t, ok)
	assert.Equal(t, 2, id)
}

func TestChooseLeastLoadedTieBreaksOnInService(t *testing.T) {
	d := testData()
	calledAt := testNow
	d.Tickets = append(d.Tickets,
		models.Ticket{ID: "a", ServiceID: 1, Status: models.StatusInService, AssignedCounterID: intPtr(1), CreatedAt: testNow},
		models.Ticket{ID: "b", ServiceID: 1, Status: models.StatusCalled, AssignedCounterID: intPtr(2), CreatedAt: testNow, CalledAt: &calledAt},
	)

	id, ok := ChooseLeastLoaded(d, d.Counters)
	require.True(t, ok)
	assert.Equal(t, 2, id)
}

func TestChooseLeastLoadedPrefersNeverCalled(t *testing.T) {
	d := testData()
	d.TicketCalls = append(d.TicketCalls, models.TicketCall{
		ID: 1, TicketID: "x", CounterID: 1, UserID: 1, CallRound: 1,
		CalledAt: testNow.Add(-time.Minute), Result: models.CallResultCalled,
	})

	id, ok := ChooseLeastLoaded(d, d.Counters)
	require.True(t, ok)
	assert.Equal(t, 2, id)
}

func TestChooseLeastLoadedFallsBackToPriority(t *testing.T) {
	d := testData()
	id, ok := ChooseLeastLoaded(d, d.Counters)
	require.True(t, ok)
	assert.Equal(t, 1, id)

	_, ok = ChooseLeastLoaded(d, nil)
	assert.False(t, ok)
}

func TestChooseLeastLoadedDeterministic(t *testing.T) {
	d := testData()
	first, ok := ChooseLeastLoaded(d, d.Counters)
	require.True(t, ok)
	for i := 0; i < 10; i++ {
		id, ok := ChooseLeastLoaded(d, d.Counters)
		require.True(t, ok)
		assert.Equal(t, first, id)
	}
}

func TestAvailableCountersRequiresLiveSessionAndDailyEnable(t *testing.T) {
	d := testData()
	assert.Len(t, AvailableCounters(d, workDate, testNow), 2)

	d.SetCounterDaily(workDate, 2, false)
	counters := AvailableCounters(d, workDate, testNow)
	require.Len(t, counters, 1)
	assert.Equal(t, 1, counters[0].ID)

	d.Sessions[0].LastHeartbeat = testNow.Add(-5 * time.Minute)
	assert.Empty(t, AvailableCounters(d, workDate, testNow))
}

func TestAssignUnassignedOldestFirstAndIdempotent(t *testing.T) {
	d := testData()
	d.Tickets = append(d.Tickets,
		waitingTicket("t2", testNow.Add(-time.Minute)),
		waitingTicket("t1", testNow.Add(-2*time.Minute)),
	)

	AssignUnassigned(d, workDate, testNow)

	t1 := d.FindTicket("t1")
	t2 := d.FindTicket("t2")
	require.NotNil(t, t1.AssignedCounterID)
	require.NotNil(t, t2.AssignedCounterID)
	assert.Equal(t, models.StatusAssigned, t1.Status)
	assert.Equal(t, models.StatusAssigned, t2.Status)
	// Oldest ticket went to the lowest-priority counter, the next to the other.
	assert.Equal(t, 1, *t1.AssignedCounterID)
	assert.Equal(t, 2, *t2.AssignedCounterID)

	before := *t1.AssignedCounterID
	AssignUnassigned(d, workDate, testNow)
	assert.Equal(t, before, *t1.AssignedCounterID)
}

func TestAssignUnassignedHonorsServiceAllowList(t *testing.T) {
	d := testData()
	d.Services = append(d.Services, models.Service{
		ID: 2, NameAr: "شكوى", CodePrefix: "C", Type: models.ServiceTypeWalkin,
		KioskVisible: true, IsActive: true, AvailabilityMode: models.AvailabilityAlways,
	})
	d.Users[0].AllowedServiceIDs = []int{1}
	d.Users[1].AllowedServiceIDs = []int{1}
	d.Tickets = append(d.Tickets, models.Ticket{
		ID: "c1", TicketCode: "C-001", ServiceID: 2, Status: models.StatusNew, CreatedAt: testNow,
	})

	AssignUnassigned(d, workDate, testNow)
	assert.Nil(t, d.FindTicket("c1").AssignedCounterID)
	assert.Equal(t, models.StatusNew, d.FindTicket("c1").Status)
}

func newEngine(t *testing.T, d *store.Data) *Engine {
	t.Helper()
	return NewEngine(store.NewMemory(d), fixedClock(testNow))
}

func validIssue() IssueInput {
	return IssueInput{
		ServiceID:       1,
		FullName:        "سالم محمد العتيبي",
		NationalID:      "10203040",
		Phone:           "0551234567",
		BeneficiaryType: "parent",
	}
}

func TestIssueTicket(t *testing.T) {
	e := newEngine(t, testData())

	ticket, err := e.Issue(validIssue())
	require.NoError(t, err)
	assert.Equal(t, "A-001", ticket.TicketCode)
	assert.Equal(t, models.StatusNew, ticket.Status)
	assert.Nil(t, ticket.AssignedCounterID)
	assert.NotEmpty(t, ticket.ID)
	assert.Equal(t, testNow, ticket.CreatedAt)
}

func TestIssueTicketCodeContinuesSequence(t *testing.T) {
	d := testData()
	d.Sequences = map[string]map[int]int{workDate: {1: 7}}
	e := newEngine(t, d)

	ticket, err := e.Issue(validIssue())
	require.NoError(t, err)
	assert.Equal(t, "A-008", ticket.TicketCode)
}

func TestIssueValidation(t *testing.T) {
	e := newEngine(t, testData())

	in := validIssue()
	in.FullName = "سالم محمد"
	_, err := e.Issue(in)
	var ve *store.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "full_name")

	in = validIssue()
	in.NationalID = "123"
	in.Phone = "12"
	_, err = e.Issue(in)
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "national_id")
	assert.Contains(t, ve.Fields, "phone")

	in = validIssue()
	in.HasPrevious = true
	_, err = e.Issue(in)
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "previous_ref")

	in = validIssue()
	in.ServiceID = 99
	_, err = e.Issue(in)
	assert.ErrorIs(t, err, store.ErrServiceNotFound)
}

func TestIssueOutsideWorkHours(t *testing.T) {
	d := testData()
	d.Settings.WorkHours = models.WorkHours{
		Enabled:   true,
		StartTime: "07:30",
		EndTime:   "14:30",
		Days:      []int{5}, // Friday only; testNow is a Tuesday
	}
	e := newEngine(t, d)

	_, err := e.Issue(validIssue())
	assert.ErrorIs(t, err, store.ErrOutsideWorkHours)
}

func TestIssueWeeklyDayService(t *testing.T) {
	d := testData()
	thursday := 4
	d.Services = append(d.Services, models.Service{
		ID: 4, NameAr: "حجز لقاء", CodePrefix: "M", Type: models.ServiceTypeAppointment,
		KioskVisible: true, IsActive: true,
		AvailabilityMode: models.AvailabilityWeeklyDay, AvailabilityWeekday: &thursday,
	})
	e := newEngine(t, d)

	in := validIssue()
	in.ServiceID = 4
	_, err := e.Issue(in)
	assert.ErrorIs(t, err, store.ErrServiceUnavailable)
}

func TestIssueGroupGating(t *testing.T) {
	d := testData()
	d.Services = append(d.Services, models.Service{
		ID: 6, NameAr: "خدمة المعلمين", CodePrefix: "R", Type: models.ServiceTypeWalkin,
		IsActive: true, AvailabilityMode: models.AvailabilityAlways, Group: "teacher",
	})
	e := newEngine(t, d)

	in := validIssue()
	in.ServiceID = 6
	in.BeneficiaryType = "parent"
	_, err := e.Issue(in)
	var ve *store.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "beneficiary_type")

	in.BeneficiaryType = "teacher"
	ticket, err := e.Issue(in)
	require.NoError(t, err)
	assert.Equal(t, "R-001", ticket.TicketCode)
}

func TestIssueEagerAssignmentViaRoutingMap(t *testing.T) {
	d := testData()
	d.Settings.ServiceCounterMap = map[string]int{"1": 2}
	e := newEngine(t, d)

	ticket, err := e.Issue(validIssue())
	require.NoError(t, err)
	require.NotNil(t, ticket.AssignedCounterID)
	assert.Equal(t, 2, *ticket.AssignedCounterID)
	assert.Equal(t, models.StatusAssigned, ticket.Status)
	require.NotNil(t, ticket.AssignedAt)
}

func TestIssueEagerAssignmentSkippedWhenCounterDead(t *testing.T) {
	d := testData()
	d.Settings.ServiceCounterMap = map[string]int{"1": 2}
	d.Sessions = d.Sessions[:1] // nobody on counter 2
	e := newEngine(t, d)

	ticket, err := e.Issue(validIssue())
	require.NoError(t, err)
	assert.Nil(t, ticket.AssignedCounterID)
	assert.Equal(t, models.StatusNew, ticket.Status)
}
