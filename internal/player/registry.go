package player

import (
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"
)

// Record captures a player profile the daemon has seen, either as the
// local session identity or through a remote lookup.
type Record struct {
	Key         string    `gorm:"column:player_key;primaryKey;size:190;not null"`
	DisplayName string    `gorm:"column:display_name;size:190;not null"`
	AccountType string    `gorm:"column:account_type;size:64;not null;default:'normal'"`
	FirstSeenAt time.Time `gorm:"column:first_seen_at;autoCreateTime"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "players"
}

// RegistryConfig describes the dependencies required for the registry.
type RegistryConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Registry upserts seen-player records and keeps an in-process cache of
// keys already written this session to avoid redundant writes.
type Registry struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewRegistry constructs the registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Database == nil {
		return nil, errors.New("player: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Registry{db: cfg.Database, now: clock}, nil
}

// Touch records that the given profile was observed now. The first
// observation of a key inserts a row; later observations refresh the
// display name, account type and last-seen timestamp.
func (r *Registry) Touch(profile Profile) error {
	if profile.Key == "" {
		return ErrInvalidUsername
	}

	seenAt := r.now().UTC()
	if _, seen := r.cache.Load(profile.Key); seen {
		return r.db.Model(&Record{}).
			Where("player_key = ?", profile.Key).
			Update("last_seen_at", seenAt).Error
	}

	var existing Record
	err := r.db.Where("player_key = ?", profile.Key).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		record := Record{
			Key:         profile.Key,
			DisplayName: profile.DisplayName,
			AccountType: string(profile.AccountType),
			LastSeenAt:  seenAt,
		}
		if record.DisplayName == "" {
			record.DisplayName = profile.Key
		}
		if err := r.db.Create(&record).Error; err != nil {
			return err
		}
	} else if err != nil {
		return err
	} else {
		updates := map[string]interface{}{"last_seen_at": seenAt}
		if profile.DisplayName != "" && profile.DisplayName != existing.DisplayName {
			updates["display_name"] = profile.DisplayName
		}
		if profile.AccountType != "" && string(profile.AccountType) != existing.AccountType {
			updates["account_type"] = string(profile.AccountType)
		}
		if err := r.db.Model(&Record{}).
			Where("player_key = ?", profile.Key).
			Updates(updates).Error; err != nil {
			return err
		}
	}

	r.cache.Store(profile.Key, struct{}{})
	return nil
}
