package store

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"masar/queue-service/internal/models"
)

// Data is the whole directory snapshot: every collection the office runs on.
// It is loaded wholesale at startup and persisted wholesale after each
// mutation, so readers never observe a partial write.
type Data struct {
	System          models.SystemInfo        `json:"system"`
	Settings        models.Settings          `json:"settings"`
	Counters        []models.Counter         `json:"counters"`
	CounterDaily    []models.CounterDaily    `json:"counter_daily"`
	Services        []models.Service         `json:"services"`
	Users           []models.User            `json:"users"`
	Sessions        []models.Session         `json:"sessions"`
	Tickets         []models.Ticket          `json:"tickets"`
	TicketCalls     []models.TicketCall      `json:"ticket_calls"`
	TicketTransfers []models.TicketTransfer  `json:"ticket_transfers"`
	Cases           []models.CaseFile        `json:"cases"`
	Feedback        []models.Feedback        `json:"feedback"`
	FeedbackWindows []models.FeedbackWindow  `json:"feedback_windows"`
	Sequences       map[string]map[int]int   `json:"sequences"`
}

// Persister reads and writes the snapshot as a whole. Load reports found=false
// when no snapshot exists yet.
type Persister interface {
	Load(ctx context.Context) (*Data, bool, error)
	Save(ctx context.Context, data *Data) error
}

// Store owns the snapshot under a single-writer lock. All mutations run
// through Update, which serializes them and persists on success; the idle-rest
// timer goes through the same path, so no operation ever overlaps another.
type Store struct {
	mu        sync.Mutex
	data      *Data
	persister Persister
	logger    zerolog.Logger
}

// Open loads the snapshot (seeding when empty and seedOnEmpty is set), runs
// the defaults migration for businessDate, and persists the migrated result.
func Open(ctx context.Context, p Persister, seedOnEmpty bool, businessDate string, logger zerolog.Logger) (*Store, error) {
	data, found, err := p.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !found {
		if seedOnEmpty {
			data = Seed(businessDate)
		} else {
			data = &Data{}
		}
	}
	Migrate(data, businessDate)
	if err := p.Save(ctx, data); err != nil {
		return nil, err
	}
	return &Store{data: data, persister: p, logger: logger}, nil
}

// NewMemory returns a store backed by nothing, for tests.
func NewMemory(data *Data) *Store {
	if data == nil {
		data = &Data{}
	}
	Migrate(data, "")
	return &Store{data: data, persister: nopPersister{}}
}

// Update runs fn under the writer lock and persists the whole snapshot when fn
// succeeds. fn must validate before mutating: a returned error skips the save
// and must leave the snapshot untouched.
func (s *Store) Update(fn func(d *Data) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(s.data); err != nil {
		return err
	}
	if err := s.persister.Save(context.Background(), s.data); err != nil {
		s.logger.Error().Err(err).Msg("persist snapshot")
		return err
	}
	return nil
}

// View runs fn under the lock without persisting.
func (s *Store) View(fn func(d *Data)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.data)
}

type nopPersister struct{}

func (nopPersister) Load(context.Context) (*Data, bool, error) { return nil, false, nil }
func (nopPersister) Save(context.Context, *Data) error         { return nil }
