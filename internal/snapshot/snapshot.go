// Package snapshot loads the database-owned runtime configuration (monitored
// queues and extensions, company settings, alert recipients and webhooks)
// into an immutable value that event handling reads without locking.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/db"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/models"
	"gorm.io/gorm"
)

// Snapshot is a point-in-time copy of runtime configuration. It is never
// mutated after Load returns.
type Snapshot struct {
	Queues     map[string]models.Queue
	Extensions map[string]models.Extension
	Company    models.CompanyConfig
	Recipients []models.AlertRecipient
	Webhooks   []models.WebhookConfig
	SMTP       *models.SMTPConfig
	LoadedAt   time.Time
}

// Empty returns a snapshot that monitors nothing and carries default
// company settings.
func Empty() *Snapshot {
	return &Snapshot{
		Queues:     map[string]models.Queue{},
		Extensions: map[string]models.Extension{},
		Company:    db.DefaultCompanyConfig(),
	}
}

// QueueMonitored reports whether queue is an active monitored queue.
func (s *Snapshot) QueueMonitored(queue string) bool {
	_, ok := s.Queues[queue]
	return ok
}

// ExtensionMonitored reports whether ext is an active monitored extension.
func (s *Snapshot) ExtensionMonitored(ext string) bool {
	_, ok := s.Extensions[ext]
	return ok
}

// ExtensionName returns the configured display name for ext, if any.
func (s *Snapshot) ExtensionName(ext string) string {
	return s.Extensions[ext].DisplayName
}

// QueueLabel returns a human label for queue, falling back to the number.
func (s *Snapshot) QueueLabel(queue string) string {
	if q, ok := s.Queues[queue]; ok {
		return q.Label()
	}
	return queue
}

// QueueNumbers returns the monitored queue numbers in sorted order.
func (s *Snapshot) QueueNumbers() []string {
	out := make([]string, 0, len(s.Queues))
	for n := range s.Queues {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Load reads a fresh snapshot. A missing company_config row yields defaults.
func Load(ctx context.Context, gdb *gorm.DB) (*Snapshot, error) {
	tx := gdb.WithContext(ctx)
	snap := Empty()

	var queues []models.Queue
	if err := tx.Where("is_active = ?", true).Find(&queues).Error; err != nil {
		return nil, fmt.Errorf("snapshot: load queues: %w", err)
	}
	for _, q := range queues {
		snap.Queues[q.QueueNumber] = q
	}

	var exts []models.Extension
	if err := tx.Where("is_active = ?", true).Find(&exts).Error; err != nil {
		return nil, fmt.Errorf("snapshot: load extensions: %w", err)
	}
	for _, e := range exts {
		snap.Extensions[e.Extension] = e
	}

	var cc models.CompanyConfig
	err := tx.Order("id").First(&cc).Error
	switch {
	case err == nil:
		snap.Company = cc
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("snapshot: load company config: %w", err)
	}

	if err := tx.Where("is_active = ?", true).Order("id").Find(&snap.Recipients).Error; err != nil {
		return nil, fmt.Errorf("snapshot: load recipients: %w", err)
	}
	if err := tx.Where("is_active = ?", true).Order("id").Find(&snap.Webhooks).Error; err != nil {
		return nil, fmt.Errorf("snapshot: load webhooks: %w", err)
	}

	var smtp models.SMTPConfig
	err = tx.Where("is_configured = ?", true).Order("id").First(&smtp).Error
	switch {
	case err == nil:
		snap.SMTP = &smtp
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("snapshot: load smtp config: %w", err)
	}

	snap.LoadedAt = time.Now()
	return snap, nil
}

// Source hands out the current snapshot.
type Source interface {
	Current() *Snapshot
}

// Static is a Source that always returns the same snapshot.
type Static struct{ Snap *Snapshot }

// Current returns the wrapped snapshot.
func (s Static) Current() *Snapshot { return s.Snap }

// Store holds the latest snapshot and swaps it atomically on refresh.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
	cur    atomic.Pointer[Snapshot]
}

// NewStore creates a Store that serves Empty() until the first Refresh.
func NewStore(gdb *gorm.DB, logger zerolog.Logger) *Store {
	s := &Store{db: gdb, logger: logger.With().Str("component", "snapshot").Logger()}
	s.cur.Store(Empty())
	return s
}

// Current returns the latest snapshot.
func (s *Store) Current() *Snapshot { return s.cur.Load() }

// Refresh reloads the snapshot. On failure the previous snapshot stays in
// service.
func (s *Store) Refresh(ctx context.Context) error {
	snap, err := Load(ctx, s.db)
	if err != nil {
		s.logger.Warn().Err(err).Msg("snapshot refresh failed, keeping previous")
		return err
	}
	prev := s.cur.Swap(snap)
	if prev == nil || len(prev.Queues) != len(snap.Queues) || len(prev.Extensions) != len(snap.Extensions) {
		s.logger.Info().
			Int("queues", len(snap.Queues)).
			Int("extensions", len(snap.Extensions)).
			Msg("monitoring configuration loaded")
	}
	return nil
}
