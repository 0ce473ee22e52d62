package models

import "time"

// Counter is a physical service counter. DailyEnabled rows in the store decide
// whether it takes tickets on a given business date without deactivating it.
type Counter struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Location      string `json:"location,omitempty"`
	IsActive      bool   `json:"is_active"`
	PriorityOrder int    `json:"priority_order"`
}

// CounterDaily is the per-business-date enablement row for a counter.
type CounterDaily struct {
	WorkDate     string `json:"work_date"`
	CounterID    int    `json:"counter_id"`
	EnabledToday bool   `json:"enabled_today"`
}

const (
	ServiceTypeWalkin      = "walkin"
	ServiceTypeAppointment = "appointment"

	AvailabilityAlways    = "always"
	AvailabilityWeeklyDay = "weekly_day"
)

type Service struct {
	ID                  int    `json:"id"`
	NameAr              string `json:"name_ar"`
	NameEn              string `json:"name_en,omitempty"`
	Type                string `json:"type"`
	CodePrefix          string `json:"code_prefix"`
	KioskVisible        bool   `json:"kiosk_visible"`
	IsActive            bool   `json:"is_active"`
	AvailabilityMode    string `json:"availability_mode"`
	AvailabilityWeekday *int   `json:"availability_weekday,omitempty"`
	Group               string `json:"group,omitempty"`
}

const (
	RoleAdmin      = "admin"
	RoleSupervisor = "supervisor"
	RoleCounter    = "counter"
)

// User.AllowedServiceIDs empty or nil means the user may serve every service.
type User struct {
	ID                int    `json:"id"`
	Username          string `json:"username"`
	PasswordHash      string `json:"password_hash"`
	FullName          string `json:"full_name"`
	Role              string `json:"role"`
	IsActive          bool   `json:"is_active"`
	FixedCounterID    *int   `json:"fixed_counter_id,omitempty"`
	AllowedServiceIDs []int  `json:"allowed_service_ids,omitempty"`
}

const (
	SessionActive = "active"
	SessionEnded  = "ended"
)

// Session records a login. CounterID is nil for standby counter sessions (no
// counter was free at login) and for admin/supervisor sessions.
type Session struct {
	ID            int        `json:"id"`
	Token         string     `json:"token"`
	UserID        int        `json:"user_id"`
	CounterID     *int       `json:"counter_id,omitempty"`
	Role          string     `json:"role"`
	Status        string     `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	LastHeartbeat time.Time  `json:"last_heartbeat"`
}

const (
	StatusNew       = "NEW"
	StatusAssigned  = "ASSIGNED"
	StatusCalled    = "CALLED"
	StatusInService = "IN_SERVICE"
	StatusSkipped   = "SKIPPED"

	StatusClosedResolved          = "CLOSED_RESOLVED"
	StatusClosedTransferred       = "CLOSED_TRANSFERRED"
	StatusClosedAwaiting          = "CLOSED_AWAITING"
	StatusClosedNotResolved       = "CLOSED_NOT_RESOLVED"
	StatusClosedAppointmentBooked = "CLOSED_APPOINTMENT_BOOKED"
)

// IsClosed reports whether a ticket status is terminal.
func IsClosed(status string) bool {
	switch status {
	case StatusClosedResolved, StatusClosedTransferred, StatusClosedAwaiting,
		StatusClosedNotResolved, StatusClosedAppointmentBooked:
		return true
	}
	return false
}

// Beneficiary is the snapshot of who requested the ticket, captured at issue
// time so later user edits never rewrite history.
type Beneficiary struct {
	FullName        string `json:"full_name"`
	NationalID      string `json:"national_id"`
	Phone           string `json:"phone"`
	BeneficiaryType string `json:"beneficiary_type"`
	HasPrevious     bool   `json:"has_previous"`
	PreviousRef     string `json:"previous_ref,omitempty"`
}

type Ticket struct {
	ID                string      `json:"id"`
	TicketCode        string      `json:"ticket_code"`
	ServiceID         int         `json:"service_id"`
	Beneficiary       Beneficiary `json:"beneficiary"`
	AssignedCounterID *int        `json:"assigned_counter_id,omitempty"`
	Status            string      `json:"status"`
	CreatedAt         time.Time   `json:"created_at"`
	AssignedAt        *time.Time  `json:"assigned_at,omitempty"`
	CalledAt          *time.Time  `json:"called_at,omitempty"`
	InServiceAt       *time.Time  `json:"in_service_at,omitempty"`
	ClosedAt          *time.Time  `json:"closed_at,omitempty"`
	SkippedAt         *time.Time  `json:"skipped_at,omitempty"`
	SkipReason        string      `json:"skip_reason,omitempty"`
	ServedByUserID    *int        `json:"served_by_user_id,omitempty"`
	ClosedByUserID    *int        `json:"closed_by_user_id,omitempty"`
	CallRound         int         `json:"call_round,omitempty"`
}

const (
	CallResultCalled  = "called"
	CallResultSkipped = "skipped"
)

// TicketCall is an append-only call-log entry; successive "called" results for
// the same ticket+counter define the recall round.
type TicketCall struct {
	ID        int       `json:"id"`
	TicketID  string    `json:"ticket_id"`
	CounterID int       `json:"counter_id"`
	UserID    int       `json:"user_id"`
	CallRound int       `json:"call_round"`
	CalledAt  time.Time `json:"called_at"`
	Result    string    `json:"result"`
	Auto      bool      `json:"auto,omitempty"`
}

type TicketTransfer struct {
	ID            int       `json:"id"`
	TicketID      string    `json:"ticket_id"`
	TicketCode    string    `json:"ticket_code"`
	FromCounterID int       `json:"from_counter_id"`
	ToCounterID   int       `json:"to_counter_id"`
	UserID        int       `json:"user_id"`
	Note          string    `json:"note,omitempty"`
	At            time.Time `json:"at"`
}

// CaseFile carries the resolution details recorded when a ticket closes.
type CaseFile struct {
	ID                int       `json:"id"`
	TicketID          string    `json:"ticket_id"`
	Summary           string    `json:"summary"`
	Details           string    `json:"details,omitempty"`
	Phone             string    `json:"phone,omitempty"`
	OutcomeCode       string    `json:"outcome_code"`
	NotResolvedReason string    `json:"not_resolved_reason,omitempty"`
	Category          string    `json:"category,omitempty"`
	Priority          string    `json:"priority,omitempty"`
	Channel           string    `json:"channel,omitempty"`
	InternalNotes     string    `json:"internal_notes,omitempty"`
	TransferTo        string    `json:"transfer_to,omitempty"`
	AwaitingFrom      string    `json:"awaiting_from,omitempty"`
	DueDate           string    `json:"due_date,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type FeedbackWindow struct {
	TicketID   string    `json:"ticket_id"`
	TicketCode string    `json:"ticket_code"`
	CounterID  int       `json:"counter_id"`
	UserID     int       `json:"user_id"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Consumed   bool      `json:"consumed"`
}

type Feedback struct {
	ID             int       `json:"id"`
	TicketID       string    `json:"ticket_id"`
	CounterID      int       `json:"counter_id"`
	UserID         int       `json:"user_id"`
	Solved         bool      `json:"solved_yes_no"`
	EmployeeRating int       `json:"employee_rating"`
	ReasonCode     string    `json:"reason_code,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

const (
	FeedbackModeShared     = "shared"
	FeedbackModePerCounter = "per_counter"
)

// CounterOverride is the per-counter slice of settings the admin may tune.
type CounterOverride struct {
	AutoCallEnabled *bool `json:"auto_call_enabled,omitempty"`
	RestSeconds     *int  `json:"rest_seconds,omitempty"`
}

type WorkHours struct {
	Enabled   bool   `json:"enabled"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Days      []int  `json:"days"` // 0=Sun .. 6=Sat
}

// Settings is the migrated, explicitly-defaulted runtime configuration stored
// inside the snapshot.
type Settings struct {
	RestSecondsDefault    int                        `json:"rest_seconds_default"`
	RestSecondsMin        int                        `json:"rest_seconds_min"`
	RestSecondsMax        int                        `json:"rest_seconds_max"`
	AutoCallEnabled       bool                       `json:"auto_call_enabled"`
	CounterOverrides      map[string]CounterOverride `json:"counter_overrides"`
	NoShowMaxRounds       int                        `json:"no_show_max_rounds"`
	FeedbackWindowSeconds int                        `json:"feedback_window_seconds"`
	FeedbackMode          string                     `json:"feedback_mode"`
	Question1Text         string                     `json:"question1_text"`
	Question2Text         string                     `json:"question2_text"`
	WorkHours             WorkHours                  `json:"work_hours"`
	ServiceCounterMap     map[string]int             `json:"service_counter_map"`
}

type SystemInfo struct {
	Version      string     `json:"version"`
	LastUpdateAt *time.Time `json:"last_update_at,omitempty"`
}
