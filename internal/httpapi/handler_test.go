package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"masar/queue-service/internal/clock"
	"masar/queue-service/internal/feedback"
	"masar/queue-service/internal/models"
	"masar/queue-service/internal/reports"
	"masar/queue-service/internal/routing"
	"masar/queue-service/internal/scheduler"
	"masar/queue-service/internal/session"
	"masar/queue-service/internal/store"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func testHash(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return string(h)
}

func newTestServer(t *testing.T) (*httptest.Server, *session.Registry) {
	t.Helper()
	data := &store.Data{
		Counters: []models.Counter{
			{ID: 1, Name: "C1", IsActive: true, PriorityOrder: 1},
			{ID: 2, Name: "C2", IsActive: true, PriorityOrder: 2},
		},
		Services: []models.Service{
			{ID: 1, NameAr: "استفسار", CodePrefix: "A", Type: models.ServiceTypeWalkin, KioskVisible: true, IsActive: true, AvailabilityMode: models.AvailabilityAlways},
		},
		Users: []models.User{
			{ID: 1, Username: "emp01", PasswordHash: testHash(t, "1234"), FullName: "Operator", Role: models.RoleCounter, IsActive: true},
			{ID: 2, Username: "admin", PasswordHash: testHash(t, "admin123"), FullName: "Admin", Role: models.RoleAdmin, IsActive: true},
		},
	}
	st := store.NewMemory(data)
	ck := &clock.Clock{Location: time.UTC, Now: func() time.Time { return testNow }}

	engine := routing.NewEngine(st, ck)
	sched := scheduler.New(st, ck, zerolog.Nop(), nil)
	t.Cleanup(sched.Stop)
	registry := session.NewRegistry(st, ck)
	registry.AfterLogin = engine.AssignUnassignedLocked
	fb := feedback.NewService(st, ck)
	rep := reports.NewService(st, ck)

	handler := NewHandler(registry, engine, sched, fb, rep, st, ck)
	server := httptest.NewServer(AuthMiddleware(registry, handler.Routes()))
	t.Cleanup(server.Close)
	return server, registry
}

func doJSON(t *testing.T, method, url, token string, payload interface{}) *http.Response {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func login(t *testing.T, server *httptest.Server, path, username, password string) loginResponse {
	t.Helper()
	resp := doJSON(t, http.MethodPost, server.URL+path, "", loginRequest{Username: username, Password: password})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, want 200", resp.StatusCode)
	}
	var out loginResponse
	decodeBody(t, resp, &out)
	return out
}

func issueTicket(t *testing.T, server *httptest.Server) models.Ticket {
	t.Helper()
	resp := doJSON(t, http.MethodPost, server.URL+"/api/tickets", "", issueTicketRequest{
		ServiceID:       1,
		FullName:        "سالم محمد العتيبي",
		NationalID:      "10203040",
		Phone:           "0551234567",
		BeneficiaryType: "parent",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("issue status = %d, want 201", resp.StatusCode)
	}
	var out struct {
		Ticket models.Ticket `json:"ticket"`
	}
	decodeBody(t, resp, &out)
	return out.Ticket
}

func TestIssueTicketEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	ticket := issueTicket(t, server)
	if ticket.TicketCode != "A-001" {
		t.Fatalf("ticket code = %q, want A-001", ticket.TicketCode)
	}
	if ticket.Status != models.StatusNew {
		t.Fatalf("ticket status = %q, want NEW", ticket.Status)
	}
}

func TestIssueTicketValidationResponse(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/tickets", "", issueTicketRequest{
		ServiceID: 1,
		FullName:  "قصير",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var out errorResponse
	decodeBody(t, resp, &out)
	if out.Error.Code != "validation_failed" {
		t.Fatalf("error code = %q, want validation_failed", out.Error.Code)
	}
	if len(out.Error.Fields) == 0 {
		t.Fatal("expected named invalid fields")
	}
}

func TestServicesEndpointIsPublic(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, server.URL+"/api/services", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out struct {
		Services []kioskService `json:"services"`
	}
	decodeBody(t, resp, &out)
	if len(out.Services) != 1 {
		t.Fatalf("services = %d, want 1", len(out.Services))
	}
	if !out.Services[0].Available {
		t.Fatal("service should be available")
	}
}

func TestCounterEndpointsRequireAuth(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/counter/next", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, server.URL+"/api/counter/next", "bogus-token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestCounterServiceFlow(t *testing.T) {
	server, _ := newTestServer(t)

	ticket := issueTicket(t, server)
	auth := login(t, server, "/api/auth/login", "emp01", "1234")
	if auth.CounterID == nil || *auth.CounterID != 1 {
		t.Fatalf("counter id = %v, want 1", auth.CounterID)
	}

	// Login ran the assignment pass, so the ticket is in this counter's backlog.
	resp := doJSON(t, http.MethodPost, server.URL+"/api/counter/next", auth.Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("next status = %d, want 200", resp.StatusCode)
	}
	var nextOut struct {
		Ticket models.Ticket `json:"ticket"`
	}
	decodeBody(t, resp, &nextOut)
	if nextOut.Ticket.ID != ticket.ID {
		t.Fatalf("called ticket = %q, want %q", nextOut.Ticket.ID, ticket.ID)
	}
	if nextOut.Ticket.Status != models.StatusCalled {
		t.Fatalf("status = %q, want CALLED", nextOut.Ticket.Status)
	}

	resp = doJSON(t, http.MethodPost, server.URL+"/api/counter/start", auth.Token, ticketActionRequest{TicketID: ticket.ID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d, want 200", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, server.URL+"/api/counter/close", auth.Token, closeTicketRequest{
		TicketID: ticket.ID,
		Outcome:  models.StatusClosedResolved,
		Summary:  "تم الحل",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("close status = %d, want 200", resp.StatusCode)
	}
	var closeOut struct {
		Ticket models.Ticket `json:"ticket"`
	}
	decodeBody(t, resp, &closeOut)
	if closeOut.Ticket.Status != models.StatusClosedResolved {
		t.Fatalf("status = %q, want CLOSED_RESOLVED", closeOut.Ticket.Status)
	}

	// Closing opened a feedback window the tablet can fetch and answer.
	resp = doJSON(t, http.MethodGet, server.URL+"/api/feedback/current?counter_id=1", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("feedback current status = %d, want 200", resp.StatusCode)
	}
	var prompt feedback.Prompt
	decodeBody(t, resp, &prompt)
	if prompt.Window == nil || prompt.Window.TicketID != ticket.ID {
		t.Fatalf("feedback window = %+v, want ticket %q", prompt.Window, ticket.ID)
	}

	resp = doJSON(t, http.MethodPost, server.URL+"/api/feedback", "", feedbackRequest{
		TicketID:       ticket.ID,
		CounterID:      1,
		Solved:         true,
		EmployeeRating: 5,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("feedback status = %d, want 201", resp.StatusCode)
	}
}

func TestCallNextEmptyQueueIsNotAnError(t *testing.T) {
	server, _ := newTestServer(t)
	auth := login(t, server, "/api/auth/login", "emp01", "1234")

	resp := doJSON(t, http.MethodPost, server.URL+"/api/counter/next", auth.Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out struct {
		Ticket *models.Ticket `json:"ticket"`
		Reason string         `json:"reason"`
	}
	decodeBody(t, resp, &out)
	if out.Ticket != nil {
		t.Fatalf("ticket = %+v, want nil", out.Ticket)
	}
	if out.Reason != "queue_empty" {
		t.Fatalf("reason = %q, want queue_empty", out.Reason)
	}
}

func TestCloseRejectionKeepsTicketInService(t *testing.T) {
	server, _ := newTestServer(t)

	ticket := issueTicket(t, server)
	auth := login(t, server, "/api/auth/login", "emp01", "1234")
	doJSON(t, http.MethodPost, server.URL+"/api/counter/next", auth.Token, nil)
	doJSON(t, http.MethodPost, server.URL+"/api/counter/start", auth.Token, ticketActionRequest{TicketID: ticket.ID})

	resp := doJSON(t, http.MethodPost, server.URL+"/api/counter/close", auth.Token, closeTicketRequest{
		TicketID: ticket.ID,
		Outcome:  models.StatusClosedNotResolved,
		Summary:  "ملخص",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, server.URL+"/api/counter/queue", auth.Token, nil)
	var queue counterQueueResponse
	decodeBody(t, resp, &queue)
	if queue.Current == nil || queue.Current.Status != models.StatusInService {
		t.Fatalf("current = %+v, want IN_SERVICE ticket", queue.Current)
	}
}

func TestAdminEndpointsRequireAdminRole(t *testing.T) {
	server, _ := newTestServer(t)

	operator := login(t, server, "/api/auth/login", "emp01", "1234")
	resp := doJSON(t, http.MethodGet, server.URL+"/api/admin/settings", operator.Token, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}

	admin := login(t, server, "/api/auth/admin-login", "admin", "admin123")
	resp = doJSON(t, http.MethodGet, server.URL+"/api/admin/settings", admin.Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out struct {
		Settings models.Settings `json:"settings"`
	}
	decodeBody(t, resp, &out)
	if out.Settings.RestSecondsDefault != 30 {
		t.Fatalf("rest default = %d, want 30", out.Settings.RestSecondsDefault)
	}
}

func TestAdminCounterDailyToggle(t *testing.T) {
	server, _ := newTestServer(t)
	admin := login(t, server, "/api/auth/admin-login", "admin", "admin123")

	resp := doJSON(t, http.MethodPost, server.URL+"/api/admin/counters/2/daily", admin.Token, counterDailyRequest{EnabledToday: false})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, server.URL+"/api/admin/counters", admin.Token, nil)
	var out struct {
		Counters     []models.Counter `json:"counters"`
		EnabledToday map[string]bool  `json:"enabled_today"`
	}
	decodeBody(t, resp, &out)
	if out.EnabledToday["2"] {
		t.Fatal("counter 2 should be disabled today")
	}
	if !out.EnabledToday["1"] {
		t.Fatal("counter 1 should stay enabled")
	}
}

func TestAdminSettingsUpdateValidation(t *testing.T) {
	server, _ := newTestServer(t)
	admin := login(t, server, "/api/auth/admin-login", "admin", "admin123")

	bad := 5
	resp := doJSON(t, http.MethodPost, server.URL+"/api/admin/settings", admin.Token, settingsRequest{RestSecondsDefault: &bad})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	good := 60
	mode := models.FeedbackModePerCounter
	resp = doJSON(t, http.MethodPost, server.URL+"/api/admin/settings", admin.Token, settingsRequest{
		RestSecondsDefault: &good,
		FeedbackMode:       &mode,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out struct {
		Settings models.Settings `json:"settings"`
	}
	decodeBody(t, resp, &out)
	if out.Settings.RestSecondsDefault != 60 {
		t.Fatalf("rest default = %d, want 60", out.Settings.RestSecondsDefault)
	}
	if out.Settings.FeedbackMode != models.FeedbackModePerCounter {
		t.Fatalf("feedback mode = %q, want per_counter", out.Settings.FeedbackMode)
	}
}

func TestDisplayQueueEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	issueTicket(t, server)

	resp := doJSON(t, http.MethodGet, server.URL+"/api/display/queue", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out struct {
		Waiting  int                 `json:"waiting"`
		Counters []displayCounterRow `json:"counters"`
	}
	decodeBody(t, resp, &out)
	if out.Waiting != 1 {
		t.Fatalf("waiting = %d, want 1", out.Waiting)
	}
	if len(out.Counters) != 2 {
		t.Fatalf("counters = %d, want 2", len(out.Counters))
	}
}

func TestMethodNotAllowed(t *testing.T) {
	server, _ := newTestServer(t)
	auth := login(t, server, "/api/auth/login", "emp01", "1234")

	resp := doJSON(t, http.MethodGet, server.URL+"/api/counter/next", auth.Token, nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}
