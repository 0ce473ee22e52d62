package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"masar/queue-service/internal/feedback"
	"masar/queue-service/internal/models"
	"masar/queue-service/internal/store"
)

func (h *Handler) adminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/admin/counters", h.handleAdminCounters)
	mux.HandleFunc("/api/admin/counters/", h.handleAdminCounterByID)
	mux.HandleFunc("/api/admin/services", h.handleAdminServices)
	mux.HandleFunc("/api/admin/services/", h.handleAdminServiceByID)
	mux.HandleFunc("/api/admin/users", h.handleAdminUsers)
	mux.HandleFunc("/api/admin/users/", h.handleAdminUserByID)
	mux.HandleFunc("/api/admin/settings", h.handleAdminSettings)
	mux.HandleFunc("/api/admin/reports/summary", h.handleAdminReports)
	mux.HandleFunc("/api/admin/transfers", h.handleAdminTransfers)
	mux.HandleFunc("/api/admin/cases/", h.handleAdminCaseByTicket)
}

func queryInt(r *http.Request, key string) int {
	v, _ := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(key)))
	return v
}

// pathID extracts the integer id segment after prefix, ignoring a trailing
// sub-path like "/daily".
func pathID(path, prefix string) (int, string) {
	rest := strings.TrimPrefix(path, prefix)
	idPart := rest
	sub := ""
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		idPart = rest[:i]
		sub = rest[i:]
	}
	id, err := strconv.Atoi(idPart)
	if err != nil {
		return 0, sub
	}
	return id, sub
}

// counters

type counterRequest struct {
	Name          *string `json:"name,omitempty"`
	Location      *string `json:"location,omitempty"`
	IsActive      *bool   `json:"is_active,omitempty"`
	PriorityOrder *int    `json:"priority_order,omitempty"`
}

func (h *Handler) handleAdminCounters(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		var counters []models.Counter
		var daily map[int]bool
		h.Store.View(func(d *store.Data) {
			counters = append(counters, d.Counters...)
			daily = d.CounterDailyMap(h.Clock.BusinessDate())
		})
		writeJSON(w, http.StatusOK, map[string]interface{}{"counters": counters, "enabled_today": daily})
	case http.MethodPost:
		var req counterRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		var created models.Counter
		err := h.Store.Update(func(d *store.Data) error {
			if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
				return store.Invalid("name")
			}
			created = models.Counter{
				ID:       d.NextCounterID(),
				Name:     strings.TrimSpace(*req.Name),
				IsActive: true,
			}
			if req.Location != nil {
				created.Location = *req.Location
			}
			if req.IsActive != nil {
				created.IsActive = *req.IsActive
			}
			if req.PriorityOrder != nil {
				created.PriorityOrder = *req.PriorityOrder
			} else {
				created.PriorityOrder = created.ID
			}
			d.Counters = append(d.Counters, created)
			return nil
		})
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{"counter": created})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type counterDailyRequest struct {
	EnabledToday bool `json:"enabled_today"`
}

func (h *Handler) handleAdminCounterByID(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id, sub := pathID(r.URL.Path, "/api/admin/counters/")
	if id == 0 {
		writeMappedError(w, store.ErrCounterNotFound)
		return
	}

	if sub == "/daily" {
		var req counterDailyRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		err := h.Store.Update(func(d *store.Data) error {
			if d.FindCounter(id) == nil {
				return store.ErrCounterNotFound
			}
			d.SetCounterDaily(h.Clock.BusinessDate(), id, req.EnabledToday)
			return nil
		})
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	var req counterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var updated models.Counter
	err := h.Store.Update(func(d *store.Data) error {
		c := d.FindCounter(id)
		if c == nil {
			return store.ErrCounterNotFound
		}
		if req.Name != nil {
			if strings.TrimSpace(*req.Name) == "" {
				return store.Invalid("name")
			}
			c.Name = strings.TrimSpace(*req.Name)
		}
		if req.Location != nil {
			c.Location = *req.Location
		}
		if req.IsActive != nil {
			c.IsActive = *req.IsActive
		}
		if req.PriorityOrder != nil {
			c.PriorityOrder = *req.PriorityOrder
		}
		updated = *c
		return nil
	})
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"counter": updated})
}

// services

type serviceRequest struct {
	NameAr              *string `json:"name_ar,omitempty"`
	NameEn              *string `json:"name_en,omitempty"`
	Type                *string `json:"type,omitempty"`
	CodePrefix          *string `json:"code_prefix,omitempty"`
	KioskVisible        *bool   `json:"kiosk_visible,omitempty"`
	IsActive            *bool   `json:"is_active,omitempty"`
	AvailabilityMode    *string `json:"availability_mode,omitempty"`
	AvailabilityWeekday *int    `json:"availability_weekday,omitempty"`
	Group               *string `json:"group,omitempty"`
}

func applyServiceRequest(svc *models.Service, req *serviceRequest) error {
	if req.NameAr != nil {
		if strings.TrimSpace(*req.NameAr) == "" {
			return store.Invalid("name_ar")
		}
		svc.NameAr = strings.TrimSpace(*req.NameAr)
	}
	if req.NameEn != nil {
		svc.NameEn = *req.NameEn
	}
	if req.Type != nil {
		if *req.Type != models.ServiceTypeWalkin && *req.Type != models.ServiceTypeAppointment {
			return store.Invalid("type")
		}
		svc.Type = *req.Type
	}
	if req.CodePrefix != nil {
		svc.CodePrefix = strings.ToUpper(strings.TrimSpace(*req.CodePrefix))
	}
	if req.KioskVisible != nil {
		svc.KioskVisible = *req.KioskVisible
	}
	if req.IsActive != nil {
		svc.IsActive = *req.IsActive
	}
	if req.AvailabilityMode != nil {
		if *req.AvailabilityMode != models.AvailabilityAlways && *req.AvailabilityMode != models.AvailabilityWeeklyDay {
			return store.Invalid("availability_mode")
		}
		svc.AvailabilityMode = *req.AvailabilityMode
	}
	if req.AvailabilityWeekday != nil {
		if *req.AvailabilityWeekday < 0 || *req.AvailabilityWeekday > 6 {
			return store.Invalid("availability_weekday")
		}
		weekday := *req.AvailabilityWeekday
		svc.AvailabilityWeekday = &weekday
	}
	if req.Group != nil {
		svc.Group = *req.Group
	}
	if svc.AvailabilityMode == models.AvailabilityWeeklyDay && svc.AvailabilityWeekday == nil {
		return store.Invalid("availability_weekday")
	}
	return nil
}

func (h *Handler) handleAdminServices(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		var services []models.Service
		h.Store.View(func(d *store.Data) {
			services = append(services, d.Services...)
		})
		writeJSON(w, http.StatusOK, map[string]interface{}{"services": services})
	case http.MethodPost:
		var req serviceRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		var created models.Service
		err := h.Store.Update(func(d *store.Data) error {
			if req.NameAr == nil {
				return store.Invalid("name_ar")
			}
			created = models.Service{
				ID:               d.NextServiceID(),
				Type:             models.ServiceTypeWalkin,
				KioskVisible:     true,
				IsActive:         true,
				AvailabilityMode: models.AvailabilityAlways,
			}
			if err := applyServiceRequest(&created, &req); err != nil {
				return err
			}
			d.Services = append(d.Services, created)
			return nil
		})
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{"service": created})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleAdminServiceByID(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id, _ := pathID(r.URL.Path, "/api/admin/services/")
	var req serviceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var updated models.Service
	err := h.Store.Update(func(d *store.Data) error {
		svc := d.FindService(id)
		if svc == nil {
			return store.ErrServiceNotFound
		}
		draft := *svc
		if err := applyServiceRequest(&draft, &req); err != nil {
			return err
		}
		*svc = draft
		updated = draft
		return nil
	})
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"service": updated})
}

// users

type userRequest struct {
	Username          *string `json:"username,omitempty"`
	Password          *string `json:"password,omitempty"`
	FullName          *string `json:"full_name,omitempty"`
	Role              *string `json:"role,omitempty"`
	IsActive          *bool   `json:"is_active,omitempty"`
	FixedCounterID    *int    `json:"fixed_counter_id,omitempty"`
	AllowedServiceIDs *[]int  `json:"allowed_service_ids,omitempty"`
}

type userView struct {
	ID                int    `json:"id"`
	Username          string `json:"username"`
	FullName          string `json:"full_name"`
	Role              string `json:"role"`
	IsActive          bool   `json:"is_active"`
	FixedCounterID    *int   `json:"fixed_counter_id,omitempty"`
	AllowedServiceIDs []int  `json:"allowed_service_ids,omitempty"`
}

func viewUser(u models.User) userView {
	return userView{
		ID:                u.ID,
		Username:          u.Username,
		FullName:          u.FullName,
		Role:              u.Role,
		IsActive:          u.IsActive,
		FixedCounterID:    u.FixedCounterID,
		AllowedServiceIDs: u.AllowedServiceIDs,
	}
}

func validRole(role string) bool {
	switch role {
	case models.RoleAdmin, models.RoleSupervisor, models.RoleCounter:
		return true
	}
	return false
}

func (h *Handler) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		var users []userView
		h.Store.View(func(d *store.Data) {
			for _, u := range d.Users {
				users = append(users, viewUser(u))
			}
		})
		writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
	case http.MethodPost:
		var req userRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		var created models.User
		err := h.Store.Update(func(d *store.Data) error {
			if req.Username == nil || strings.TrimSpace(*req.Username) == "" {
				return store.Invalid("username")
			}
			if req.Password == nil || len(*req.Password) < 4 {
				return store.Invalid("password")
			}
			if req.Role == nil || !validRole(*req.Role) {
				return store.Invalid("role")
			}
			username := strings.TrimSpace(*req.Username)
			if d.FindUserByUsername(username) != nil {
				return store.ErrDuplicateUsername
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			created = models.User{
				ID:           d.NextUserID(),
				Username:     username,
				PasswordHash: string(hash),
				Role:         *req.Role,
				IsActive:     true,
			}
			if req.FullName != nil {
				created.FullName = strings.TrimSpace(*req.FullName)
			}
			if req.IsActive != nil {
				created.IsActive = *req.IsActive
			}
			if req.FixedCounterID != nil {
				if d.FindCounter(*req.FixedCounterID) == nil {
					return store.ErrCounterNotFound
				}
				created.FixedCounterID = req.FixedCounterID
			}
			if req.AllowedServiceIDs != nil {
				created.AllowedServiceIDs = *req.AllowedServiceIDs
			}
			d.Users = append(d.Users, created)
			return nil
		})
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{"user": viewUser(created)})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleAdminUserByID(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id, _ := pathID(r.URL.Path, "/api/admin/users/")
	var req userRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var updated models.User
	err := h.Store.Update(func(d *store.Data) error {
		u := d.FindUser(id)
		if u == nil {
			return store.ErrUserNotFound
		}
		if req.Username != nil {
			username := strings.TrimSpace(*req.Username)
			if username == "" {
				return store.Invalid("username")
			}
			if other := d.FindUserByUsername(username); other != nil && other.ID != u.ID {
				return store.ErrDuplicateUsername
			}
			u.Username = username
		}
		if req.Password != nil {
			if len(*req.Password) < 4 {
				return store.Invalid("password")
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			u.PasswordHash = string(hash)
		}
		if req.FullName != nil {
			u.FullName = strings.TrimSpace(*req.FullName)
		}
		if req.Role != nil {
			if !validRole(*req.Role) {
				return store.Invalid("role")
			}
			u.Role = *req.Role
		}
		if req.IsActive != nil {
			u.IsActive = *req.IsActive
		}
		if req.FixedCounterID != nil {
			if *req.FixedCounterID == 0 {
				u.FixedCounterID = nil
			} else {
				if d.FindCounter(*req.FixedCounterID) == nil {
					return store.ErrCounterNotFound
				}
				u.FixedCounterID = req.FixedCounterID
			}
		}
		if req.AllowedServiceIDs != nil {
			u.AllowedServiceIDs = *req.AllowedServiceIDs
		}
		updated = *u
		return nil
	})
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user": viewUser(updated)})
}

// settings

type settingsRequest struct {
	RestSecondsDefault    *int                                  `json:"rest_seconds_default,omitempty"`
	AutoCallEnabled       *bool                                 `json:"auto_call_enabled,omitempty"`
	CounterOverrides      *map[string]models.CounterOverride    `json:"counter_overrides,omitempty"`
	NoShowMaxRounds       *int                                  `json:"no_show_max_rounds,omitempty"`
	FeedbackWindowSeconds *int                                  `json:"feedback_window_seconds,omitempty"`
	FeedbackMode          *string                               `json:"feedback_mode,omitempty"`
	Question1Text         *string                               `json:"question1_text,omitempty"`
	Question2Text         *string                               `json:"question2_text,omitempty"`
	WorkHours             *models.WorkHours                     `json:"work_hours,omitempty"`
	ServiceCounterMap     *map[string]int                       `json:"service_counter_map,omitempty"`
}

func (h *Handler) handleAdminSettings(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		var settings models.Settings
		h.Store.View(func(d *store.Data) {
			settings = d.Settings
		})
		writeJSON(w, http.StatusOK, map[string]interface{}{"settings": settings})
	case http.MethodPost:
		var req settingsRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		var settings models.Settings
		err := h.Store.Update(func(d *store.Data) error {
			s := &d.Settings
			if req.RestSecondsDefault != nil {
				if *req.RestSecondsDefault < s.RestSecondsMin || *req.RestSecondsDefault > s.RestSecondsMax {
					return store.Invalid("rest_seconds_default")
				}
				s.RestSecondsDefault = *req.RestSecondsDefault
			}
			if req.AutoCallEnabled != nil {
				s.AutoCallEnabled = *req.AutoCallEnabled
			}
			if req.CounterOverrides != nil {
				s.CounterOverrides = *req.CounterOverrides
			}
			if req.NoShowMaxRounds != nil {
				if *req.NoShowMaxRounds < 1 {
					return store.Invalid("no_show_max_rounds")
				}
				s.NoShowMaxRounds = *req.NoShowMaxRounds
			}
			if req.FeedbackWindowSeconds != nil {
				if *req.FeedbackWindowSeconds < 1 {
					return store.Invalid("feedback_window_seconds")
				}
				s.FeedbackWindowSeconds = *req.FeedbackWindowSeconds
			}
			if req.FeedbackMode != nil {
				if *req.FeedbackMode != models.FeedbackModeShared && *req.FeedbackMode != models.FeedbackModePerCounter {
					return store.Invalid("feedback_mode")
				}
				s.FeedbackMode = *req.FeedbackMode
			}
			if req.Question1Text != nil {
				s.Question1Text = *req.Question1Text
			}
			if req.Question2Text != nil {
				s.Question2Text = *req.Question2Text
			}
			if req.WorkHours != nil {
				for _, day := range req.WorkHours.Days {
					if day < 0 || day > 6 {
						return store.Invalid("work_hours")
					}
				}
				s.WorkHours = *req.WorkHours
			}
			if req.ServiceCounterMap != nil {
				for _, counterID := range *req.ServiceCounterMap {
					if counterID != 0 && d.FindCounter(counterID) == nil {
						return store.ErrCounterNotFound
					}
				}
				s.ServiceCounterMap = *req.ServiceCounterMap
			}
			feedback.PruneExpired(d, h.Clock.Now())
			settings = *s
			return nil
		})
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"settings": settings})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// reporting and logs

func (h *Handler) handleAdminReports(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rangeName := r.URL.Query().Get("range")
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	writeJSON(w, http.StatusOK, h.Reports.Summary(rangeName, from, to))
}

func (h *Handler) handleAdminTransfers(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var transfers []models.TicketTransfer
	h.Store.View(func(d *store.Data) {
		transfers = append(transfers, d.TicketTransfers...)
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{"transfers": transfers})
}

func (h *Handler) handleAdminCaseByTicket(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ticketID := strings.TrimPrefix(r.URL.Path, "/api/admin/cases/")
	var found *models.CaseFile
	h.Store.View(func(d *store.Data) {
		if c := d.FindCase(ticketID); c != nil {
			copyCase := *c
			found = &copyCase
		}
	})
	if found == nil {
		writeMappedError(w, store.ErrTicketNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"case": found})
}
