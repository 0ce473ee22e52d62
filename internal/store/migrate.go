package store

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"masar/queue-service/internal/models"
)

// Migrate fills in every defaulted field so business logic never has to guess
// at missing settings. Older snapshots gain new fields here, once, at load,
// not via presence checks scattered through the engines.
func Migrate(d *Data, businessDate string) {
	if d.Sequences == nil {
		d.Sequences = make(map[string]map[int]int)
	}
	if d.System.Version == "" {
		d.System.Version = "0.2.0"
	}

	s := &d.Settings
	if s.RestSecondsDefault == 0 {
		s.RestSecondsDefault = 30
	}
	if s.RestSecondsMin == 0 {
		s.RestSecondsMin = 10
	}
	if s.RestSecondsMax == 0 {
		s.RestSecondsMax = 180
	}
	if s.CounterOverrides == nil {
		s.CounterOverrides = make(map[string]models.CounterOverride)
	}
	if s.NoShowMaxRounds == 0 {
		s.NoShowMaxRounds = 3
	}
	if s.FeedbackWindowSeconds == 0 {
		s.FeedbackWindowSeconds = 120
	}
	if s.FeedbackMode == "" {
		s.FeedbackMode = models.FeedbackModeShared
	}
	if s.Question1Text == "" {
		s.Question1Text = "هل تم إنجاز طلبك؟"
	}
	if s.Question2Text == "" {
		s.Question2Text = "قيّم خدمة الموظف"
	}
	if s.WorkHours.StartTime == "" {
		s.WorkHours.StartTime = "07:30"
	}
	if s.WorkHours.EndTime == "" {
		s.WorkHours.EndTime = "14:30"
	}
	if len(s.WorkHours.Days) == 0 {
		s.WorkHours.Days = []int{0, 1, 2, 3, 4}
	}
	if s.ServiceCounterMap == nil {
		s.ServiceCounterMap = make(map[string]int)
	}

	for i := range d.Services {
		if d.Services[i].AvailabilityMode == "" {
			d.Services[i].AvailabilityMode = models.AvailabilityAlways
		}
		if d.Services[i].Type == "" {
			d.Services[i].Type = models.ServiceTypeWalkin
		}
	}

	// Every counter gets a daily-enablement row for the business date,
	// defaulting to enabled.
	if businessDate != "" {
		seen := make(map[int]bool)
		for _, row := range d.CounterDaily {
			if row.WorkDate == businessDate {
				seen[row.CounterID] = true
			}
		}
		for _, c := range d.Counters {
			if !seen[c.ID] {
				d.CounterDaily = append(d.CounterDaily, models.CounterDaily{
					WorkDate:     businessDate,
					CounterID:    c.ID,
					EnabledToday: true,
				})
			}
		}
	}
}

// Seed builds the first snapshot for a fresh installation: ten counters, the
// default service catalogue, and an admin plus one counter operator.
func Seed(businessDate string) *Data {
	d := &Data{Sequences: make(map[string]map[int]int)}
	d.System.Version = "0.2.0"
	d.Settings.AutoCallEnabled = true

	for i := 1; i <= 10; i++ {
		d.Counters = append(d.Counters, models.Counter{
			ID:            i,
			Name:          fmt.Sprintf("كونتر %d", i),
			IsActive:      true,
			PriorityOrder: i,
		})
	}

	weekday := 4
	d.Services = []models.Service{
		{ID: 1, NameAr: "استفسار", NameEn: "Inquiry", Type: models.ServiceTypeWalkin, CodePrefix: "A", KioskVisible: true, IsActive: true, AvailabilityMode: models.AvailabilityAlways},
		{ID: 2, NameAr: "شكوى", NameEn: "Complaint", Type: models.ServiceTypeWalkin, CodePrefix: "C", KioskVisible: true, IsActive: true, AvailabilityMode: models.AvailabilityAlways},
		{ID: 3, NameAr: "متابعة طلب", NameEn: "Follow-up", Type: models.ServiceTypeWalkin, CodePrefix: "F", KioskVisible: true, IsActive: true, AvailabilityMode: models.AvailabilityAlways},
		{ID: 4, NameAr: "حجز لقاء مسؤول", NameEn: "Book an appointment", Type: models.ServiceTypeAppointment, CodePrefix: "M", KioskVisible: true, IsActive: true, AvailabilityMode: models.AvailabilityWeeklyDay, AvailabilityWeekday: &weekday},
		{ID: 5, NameAr: "طلب لقاء", NameEn: "Meeting request", Type: models.ServiceTypeWalkin, CodePrefix: "L", KioskVisible: true, IsActive: true, AvailabilityMode: models.AvailabilityAlways},
	}

	d.Users = []models.User{
		{ID: 1, Username: "admin", PasswordHash: mustHash("admin123"), FullName: "Admin", Role: models.RoleAdmin, IsActive: true},
		{ID: 2, Username: "emp01", PasswordHash: mustHash("1234"), FullName: "Operator 1", Role: models.RoleCounter, IsActive: true},
	}

	Migrate(d, businessDate)
	return d
}

func mustHash(password string) string {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return string(hash)
}
