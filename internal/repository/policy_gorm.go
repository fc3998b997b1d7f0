package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"MirrorTrader/internal/domain/models"
	"MirrorTrader/internal/domain/repository"
)

// OpenPostgres opens the configuration database and migrates its tables.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(
		&models.MonitoredChannel{},
		&models.BotRiskPolicy{},
		&models.TraderCopySettings{},
	); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// GormPolicyStore reads bot risk configuration from Postgres.
type GormPolicyStore struct {
	db *gorm.DB
}

// NewGormPolicyStore creates the policy store.
func NewGormPolicyStore(db *gorm.DB) repository.PolicyStore {
	return &GormPolicyStore{db: db}
}

func (s *GormPolicyStore) LoadPolicy(ctx context.Context, botID string) (*models.BotRiskPolicy, error) {
	var policy models.BotRiskPolicy
	err := s.db.WithContext(ctx).First(&policy, "bot_id = ?", botID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("policy for bot %s not found", botID)
		}
		return nil, fmt.Errorf("load policy: %w", err)
	}

	var perTrader []models.TraderCopySettings
	if err := s.db.WithContext(ctx).Find(&perTrader, "bot_id = ?", botID).Error; err != nil {
		return nil, fmt.Errorf("load copy settings: %w", err)
	}
	policy.PerTrader = perTrader
	return &policy, nil
}

func (s *GormPolicyStore) LoadCopySettings(ctx context.Context, botID string) ([]models.TraderCopySettings, error) {
	var out []models.TraderCopySettings
	if err := s.db.WithContext(ctx).Find(&out, "bot_id = ?", botID).Error; err != nil {
		return nil, fmt.Errorf("load copy settings: %w", err)
	}
	return out, nil
}

// GormChannelStore persists monitored channel configuration and the live
// state the scheduler writes back.
type GormChannelStore struct {
	db *gorm.DB
}

// NewGormChannelStore creates the channel store.
func NewGormChannelStore(db *gorm.DB) repository.ChannelStore {
	return &GormChannelStore{db: db}
}

func (s *GormChannelStore) Channels(ctx context.Context) ([]*models.MonitoredChannel, error) {
	var out []*models.MonitoredChannel
	if err := s.db.WithContext(ctx).Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("load channels: %w", err)
	}
	return out, nil
}

func (s *GormChannelStore) SaveChannel(ctx context.Context, ch *models.MonitoredChannel) error {
	if err := s.db.WithContext(ctx).Save(ch).Error; err != nil {
		return fmt.Errorf("save channel: %w", err)
	}
	return nil
}

// MemoryChannelStore backs the scheduler when no database is configured;
// channels come straight from the config file.
type MemoryChannelStore struct {
	chs map[string]*models.MonitoredChannel
}

// NewMemoryChannelStore seeds an in-memory store.
func NewMemoryChannelStore(chs []*models.MonitoredChannel) *MemoryChannelStore {
	m := &MemoryChannelStore{chs: make(map[string]*models.MonitoredChannel, len(chs))}
	for _, ch := range chs {
		m.chs[ch.ID] = ch
	}
	return m
}

func (m *MemoryChannelStore) Channels(_ context.Context) ([]*models.MonitoredChannel, error) {
	out := make([]*models.MonitoredChannel, 0, len(m.chs))
	for _, ch := range m.chs {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryChannelStore) SaveChannel(_ context.Context, ch *models.MonitoredChannel) error {
	m.chs[ch.ID] = ch
	return nil
}

// MemoryPolicyStore serves a fixed policy from configuration when no
// database is wired. The zero-value policy denies everything.
type MemoryPolicyStore struct {
	policy models.BotRiskPolicy
}

// NewMemoryPolicyStore creates the static store.
func NewMemoryPolicyStore(policy models.BotRiskPolicy) *MemoryPolicyStore {
	return &MemoryPolicyStore{policy: policy}
}

func (m *MemoryPolicyStore) LoadPolicy(_ context.Context, botID string) (*models.BotRiskPolicy, error) {
	if m.policy.BotID != "" && m.policy.BotID != botID {
		return nil, fmt.Errorf("policy for bot %s not found", botID)
	}
	cp := m.policy
	return &cp, nil
}

func (m *MemoryPolicyStore) LoadCopySettings(_ context.Context, _ string) ([]models.TraderCopySettings, error) {
	return m.policy.PerTrader, nil
}
