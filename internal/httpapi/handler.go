package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"masar/queue-service/internal/clock"
	"masar/queue-service/internal/feedback"
	"masar/queue-service/internal/metrics"
	"masar/queue-service/internal/models"
	"masar/queue-service/internal/reports"
	"masar/queue-service/internal/routing"
	"masar/queue-service/internal/scheduler"
	"masar/queue-service/internal/session"
	"masar/queue-service/internal/store"
)

type Handler struct {
	Registry  *session.Registry
	Engine    *routing.Engine
	Scheduler *scheduler.Scheduler
	Feedback  *feedback.Service
	Reports   *reports.Service
	Store     *store.Store
	Clock     *clock.Clock
}

func NewHandler(reg *session.Registry, eng *routing.Engine, sch *scheduler.Scheduler, fb *feedback.Service, rep *reports.Service, st *store.Store, ck *clock.Clock) *Handler {
	return &Handler{
		Registry:  reg,
		Engine:    eng,
		Scheduler: sch,
		Feedback:  fb,
		Reports:   rep,
		Store:     st,
		Clock:     ck,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/services", h.handleServices)
	mux.HandleFunc("/api/tickets", h.handleIssueTicket)
	mux.HandleFunc("/api/display/queue", h.handleDisplayQueue)

	mux.HandleFunc("/api/auth/login", h.handleLogin)
	mux.HandleFunc("/api/auth/admin-login", h.handleAdminLogin)
	mux.HandleFunc("/api/auth/logout", h.handleLogout)
	mux.HandleFunc("/api/auth/heartbeat", h.handleHeartbeat)

	mux.HandleFunc("/api/counter/queue", h.handleCounterQueue)
	mux.HandleFunc("/api/counter/next", h.handleCallNext)
	mux.HandleFunc("/api/counter/start", h.handleStart)
	mux.HandleFunc("/api/counter/close", h.handleClose)
	mux.HandleFunc("/api/counter/skip", h.handleSkip)
	mux.HandleFunc("/api/counter/recall", h.handleRecall)
	mux.HandleFunc("/api/counter/transfer", h.handleTransfer)

	mux.HandleFunc("/api/feedback/current", h.handleFeedbackCurrent)
	mux.HandleFunc("/api/feedback", h.handleFeedbackSubmit)

	h.adminRoutes(mux)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

// kiosk

type kioskService struct {
	ID        int    `json:"id"`
	NameAr    string `json:"name_ar"`
	NameEn    string `json:"name_en,omitempty"`
	Type      string `json:"type"`
	Available bool   `json:"available"`
	Group     string `json:"group,omitempty"`
}

func (h *Handler) handleServices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	workDate := h.Clock.BusinessDate()
	var out []kioskService
	h.Store.View(func(d *store.Data) {
		for _, svc := range d.Services {
			if !svc.KioskVisible || !svc.IsActive {
				continue
			}
			out = append(out, kioskService{
				ID:        svc.ID,
				NameAr:    svc.NameAr,
				NameEn:    svc.NameEn,
				Type:      svc.Type,
				Available: routing.ServiceAvailable(&svc, workDate),
				Group:     svc.Group,
			})
		}
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{"services": out})
}

type issueTicketRequest struct {
	ServiceID       int    `json:"service_id"`
	FullName        string `json:"full_name"`
	NationalID      string `json:"national_id"`
	Phone           string `json:"phone"`
	BeneficiaryType string `json:"beneficiary_type"`
	HasPrevious     bool   `json:"has_previous"`
	PreviousRef     string `json:"previous_ref"`
}

func (h *Handler) handleIssueTicket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req issueTicketRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ticket, err := h.Engine.Issue(routing.IssueInput{
		ServiceID:       req.ServiceID,
		FullName:        req.FullName,
		NationalID:      req.NationalID,
		Phone:           req.Phone,
		BeneficiaryType: req.BeneficiaryType,
		HasPrevious:     req.HasPrevious,
		PreviousRef:     req.PreviousRef,
	})
	if err != nil {
		writeMappedError(w, err)
		return
	}
	metrics.TicketsIssued.Inc()
	h.refreshWaitingGauge()
	writeJSON(w, http.StatusCreated, map[string]interface{}{"ticket": ticket})
}

// display board

type displayCounterRow struct {
	CounterID   int    `json:"counter_id"`
	CounterName string `json:"counter_name"`
	TicketCode  string `json:"ticket_code,omitempty"`
	Status      string `json:"status,omitempty"`
	Round       int    `json:"round,omitempty"`
}

func (h *Handler) handleDisplayQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	waiting := 0
	var rows []displayCounterRow
	h.Store.View(func(d *store.Data) {
		current := make(map[int]*models.Ticket)
		for i := range d.Tickets {
			t := &d.Tickets[i]
			switch t.Status {
			case models.StatusNew, models.StatusAssigned:
				waiting++
			case models.StatusCalled, models.StatusInService:
				if t.AssignedCounterID != nil {
					current[*t.AssignedCounterID] = t
				}
			}
		}
		for _, c := range d.Counters {
			if !c.IsActive {
				continue
			}
			row := displayCounterRow{CounterID: c.ID, CounterName: c.Name}
			if t, ok := current[c.ID]; ok {
				row.TicketCode = t.TicketCode
				row.Status = t.Status
				row.Round = t.CallRound
			}
			rows = append(rows, row)
		}
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"waiting":  waiting,
		"counters": rows,
	})
}

// auth

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string      `json:"token"`
	CounterID *int        `json:"counter_id,omitempty"`
	Role      string      `json:"role"`
	User      userSummary `json:"user"`
}

type userSummary struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, user, err := h.Registry.Login(req.Username, req.Password)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     sess.Token,
		CounterID: sess.CounterID,
		Role:      sess.Role,
		User:      userSummary{ID: user.ID, Username: user.Username, FullName: user.FullName},
	})
}

func (h *Handler) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, user, err := h.Registry.AdminLogin(req.Username, req.Password)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token: sess.Token,
		Role:  sess.Role,
		User:  userSummary{ID: user.ID, Username: user.Username, FullName: user.FullName},
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	info, ok := authFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session token")
		return
	}
	if err := h.Registry.Logout(info.Session.Token); err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	info, ok := authFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session token")
		return
	}
	if err := h.Registry.Heartbeat(info.Session.Token); err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// counter operations

type counterQueueResponse struct {
	Assigned []models.Ticket `json:"assigned"`
	Current  *models.Ticket  `json:"current,omitempty"`
	Shared   int             `json:"shared_waiting"`
}

func (h *Handler) handleCounterQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	counterID, _, ok := requireCounter(w, r)
	if !ok {
		return
	}
	// Loading the counter page is a natural moment to sweep the shared pool.
	if err := h.Engine.AssignUnassignedNow(); err != nil {
		writeMappedError(w, err)
		return
	}
	var resp counterQueueResponse
	h.Store.View(func(d *store.Data) {
		for i := range d.Tickets {
			t := &d.Tickets[i]
			if t.Status == models.StatusNew && t.AssignedCounterID == nil {
				resp.Shared++
				continue
			}
			if t.AssignedCounterID == nil || *t.AssignedCounterID != counterID {
				continue
			}
			switch t.Status {
			case models.StatusAssigned, models.StatusNew:
				resp.Assigned = append(resp.Assigned, *t)
			case models.StatusCalled, models.StatusInService:
				ticket := *t
				resp.Current = &ticket
			}
		}
	})
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	counterID, userID, ok := requireCounter(w, r)
	if !ok {
		return
	}
	ticket, err := h.Scheduler.CallNext(counterID, userID, false)
	if err != nil {
		// An empty queue is a normal answer for the counter screen, not a
		// failure.
		if errors.Is(err, store.ErrNoTicket) || errors.Is(err, store.ErrNoEligibleTicket) {
			reason := "queue_empty"
			if errors.Is(err, store.ErrNoEligibleTicket) {
				reason = "no_eligible_ticket"
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{"ticket": nil, "reason": reason})
			return
		}
		writeMappedError(w, err)
		return
	}
	h.refreshWaitingGauge()
	writeJSON(w, http.StatusOK, map[string]interface{}{"ticket": ticket})
}

type ticketActionRequest struct {
	TicketID string `json:"ticket_id"`
	Reason   string `json:"reason,omitempty"`
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	counterID, userID, ok := requireCounter(w, r)
	if !ok {
		return
	}
	var req ticketActionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ticket, err := h.Scheduler.Start(counterID, userID, req.TicketID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ticket": ticket})
}

type closeTicketRequest struct {
	TicketID          string `json:"ticket_id"`
	Outcome           string `json:"outcome"`
	Summary           string `json:"summary"`
	Details           string `json:"details,omitempty"`
	Phone             string `json:"phone,omitempty"`
	NotResolvedReason string `json:"not_resolved_reason,omitempty"`
	Category          string `json:"category,omitempty"`
	Priority          string `json:"priority,omitempty"`
	Channel           string `json:"channel,omitempty"`
	InternalNotes     string `json:"internal_notes,omitempty"`
	TransferTo        string `json:"transfer_to,omitempty"`
	AwaitingFrom      string `json:"awaiting_from,omitempty"`
	DueDate           string `json:"due_date,omitempty"`
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	counterID, userID, ok := requireCounter(w, r)
	if !ok {
		return
	}
	var req closeTicketRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ticket, err := h.Scheduler.Close(counterID, userID, scheduler.CloseInput{
		TicketID:          req.TicketID,
		Outcome:           req.Outcome,
		Summary:           req.Summary,
		Details:           req.Details,
		Phone:             req.Phone,
		NotResolvedReason: req.NotResolvedReason,
		Category:          req.Category,
		Priority:          req.Priority,
		Channel:           req.Channel,
		InternalNotes:     req.InternalNotes,
		TransferTo:        req.TransferTo,
		AwaitingFrom:      req.AwaitingFrom,
		DueDate:           req.DueDate,
	})
	if err != nil {
		writeMappedError(w, err)
		return
	}
	h.refreshWaitingGauge()
	writeJSON(w, http.StatusOK, map[string]interface{}{"ticket": ticket})
}

func (h *Handler) handleSkip(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	counterID, userID, ok := requireCounter(w, r)
	if !ok {
		return
	}
	var req ticketActionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ticket, err := h.Scheduler.Skip(counterID, userID, req.TicketID, req.Reason)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ticket": ticket})
}

func (h *Handler) handleRecall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	counterID, userID, ok := requireCounter(w, r)
	if !ok {
		return
	}
	var req ticketActionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.Scheduler.Recall(counterID, userID, req.TicketID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ticket":             res.Ticket,
		"max_rounds_reached": res.MaxRoundsReached,
	})
}

type transferRequest struct {
	TicketID    string `json:"ticket_id"`
	ToCounterID int    `json:"to_counter_id"`
	Note        string `json:"note,omitempty"`
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	counterID, userID, ok := requireCounter(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ticket, err := h.Scheduler.Transfer(counterID, userID, req.TicketID, req.ToCounterID, req.Note)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ticket": ticket})
}

// feedback tablet

func (h *Handler) handleFeedbackCurrent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	counterID := queryInt(r, "counter_id")
	writeJSON(w, http.StatusOK, h.Feedback.Current(counterID))
}

type feedbackRequest struct {
	TicketID       string `json:"ticket_id"`
	CounterID      int    `json:"counter_id"`
	Solved         bool   `json:"solved_yes_no"`
	EmployeeRating int    `json:"employee_rating"`
	ReasonCode     string `json:"reason_code,omitempty"`
}

func (h *Handler) handleFeedbackSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req feedbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	saved, err := h.Feedback.Submit(feedback.SubmitInput{
		TicketID:       req.TicketID,
		CounterID:      req.CounterID,
		Solved:         req.Solved,
		EmployeeRating: req.EmployeeRating,
		ReasonCode:     req.ReasonCode,
	})
	if err != nil {
		writeMappedError(w, err)
		return
	}
	metrics.FeedbackSubmitted.Inc()
	writeJSON(w, http.StatusCreated, map[string]interface{}{"feedback": saved})
}

func (h *Handler) refreshWaitingGauge() {
	waiting := 0
	h.Store.View(func(d *store.Data) {
		for i := range d.Tickets {
			switch d.Tickets[i].Status {
			case models.StatusNew, models.StatusAssigned:
				waiting++
			}
		}
	})
	metrics.WaitingTickets.Set(float64(waiting))
}
