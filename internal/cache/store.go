package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/joemckie/collogsync/internal/catalog"
	"github.com/joemckie/collogsync/internal/tracker"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase  = errors.New("database handle is required")
	errMissingPlayerKey = errors.New("player key is required")
	noOpLogger          = zap.NewNop()
)

// StoreError carries a dotted operation code alongside the cause.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

func (e *StoreError) Code() string {
	return e.code
}

const (
	opStoreNew        = "cache.store.new"
	opUpsertMirror    = "cache.upsert_mirror"
	opMirrorItems     = "cache.mirror_items"
	opHasMirror       = "cache.has_mirror"
	opUpsertCached    = "cache.upsert_cached"
	opItemsByCategory = "cache.items_by_category"
	opLatestTimestamp = "cache.latest_timestamp"
	opPrune           = "cache.prune"
	opClearCached     = "cache.clear_cached"
)

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// StoreConfig describes the dependencies required by the Store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Store persists the authoritative mirror and the remote query cache.
// All operations are safe to invoke from background workers; each batch
// commits in its own transaction.
type Store struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewStore constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{db: cfg.Database, clock: clock, logger: logger}, nil
}

// UpsertMirror inserts or updates mirror rows for the player, keyed by
// (player, item id). The whole batch commits atomically.
func (s *Store) UpsertMirror(ctx context.Context, playerKey string, items []tracker.ObtainedItem) error {
	if playerKey == "" {
		return newStoreError(opUpsertMirror, "missing_player_key", errMissingPlayerKey)
	}
	if len(items) == 0 {
		return nil
	}

	accessedAt := s.clock().UTC().Unix()
	rows := make([]MirrorEntry, 0, len(items))
	for _, item := range items {
		rows = append(rows, MirrorEntry{
			PlayerKey:             playerKey,
			ItemID:                item.ID.Int(),
			ItemName:              item.Name,
			Count:                 item.Count,
			CollectedAtSeconds:    collectedSeconds(item),
			LastAccessedAtSeconds: accessedAt,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "player_key"}, {Name: "item_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"item_name", "item_count", "collected_at_s", "last_accessed_at_s"}),
		}).Create(&rows).Error
	})
	if err != nil {
		s.logError(opUpsertMirror, "tx_failed", err, zap.String("player", playerKey))
		return newStoreError(opUpsertMirror, "tx_failed", err)
	}
	return nil
}

// MirrorItems returns every mirror row for the player and refreshes the
// rows' last-accessed stamp.
func (s *Store) MirrorItems(ctx context.Context, playerKey string) ([]tracker.ObtainedItem, error) {
	if playerKey == "" {
		return nil, newStoreError(opMirrorItems, "missing_player_key", errMissingPlayerKey)
	}

	var rows []MirrorEntry
	if err := s.db.WithContext(ctx).
		Where("player_key = ?", playerKey).
		Order("item_id ASC").
		Find(&rows).Error; err != nil {
		s.logError(opMirrorItems, "query_failed", err, zap.String("player", playerKey))
		return nil, newStoreError(opMirrorItems, "query_failed", err)
	}

	s.touchMirror(ctx, playerKey)

	items := make([]tracker.ObtainedItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, mirrorToObtained(row))
	}
	return items, nil
}

// HasMirror reports whether any mirror row exists for the player.
func (s *Store) HasMirror(ctx context.Context, playerKey string) (bool, error) {
	if playerKey == "" {
		return false, newStoreError(opHasMirror, "missing_player_key", errMissingPlayerKey)
	}
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&MirrorEntry{}).
		Where("player_key = ?", playerKey).
		Count(&count).Error; err != nil {
		s.logError(opHasMirror, "query_failed", err, zap.String("player", playerKey))
		return false, newStoreError(opHasMirror, "query_failed", err)
	}
	return count > 0, nil
}

// UpsertCached inserts or updates query-cache rows for a fetched player
// log, keyed by (player, item id, category). The batch commits atomically.
func (s *Store) UpsertCached(ctx context.Context, playerKey string, categoryID catalog.CategoryID, items []tracker.ObtainedItem) error {
	if playerKey == "" {
		return newStoreError(opUpsertCached, "missing_player_key", errMissingPlayerKey)
	}
	if len(items) == 0 {
		return nil
	}

	accessedAt := s.clock().UTC().Unix()
	rows := make([]CachedEntry, 0, len(items))
	for _, item := range items {
		rows = append(rows, CachedEntry{
			PlayerKey:             playerKey,
			ItemID:                item.ID.Int(),
			CategoryID:            categoryID.String(),
			ItemName:              item.Name,
			Count:                 item.Count,
			CollectedAtSeconds:    collectedSeconds(item),
			LastAccessedAtSeconds: accessedAt,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "player_key"}, {Name: "item_id"}, {Name: "category_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"item_name", "item_count", "collected_at_s", "last_accessed_at_s"}),
		}).Create(&rows).Error
	})
	if err != nil {
		s.logError(opUpsertCached, "tx_failed", err, zap.String("player", playerKey))
		return newStoreError(opUpsertCached, "tx_failed", err)
	}
	return nil
}

// ItemsByCategory returns the player's cached rows restricted to the
// given item-id set and refreshes the rows' last-accessed stamp.
func (s *Store) ItemsByCategory(ctx context.Context, playerKey string, itemIDs []catalog.ItemID) ([]tracker.ObtainedItem, error) {
	if playerKey == "" {
		return nil, newStoreError(opItemsByCategory, "missing_player_key", errMissingPlayerKey)
	}
	if len(itemIDs) == 0 {
		return nil, nil
	}

	rawIDs := make([]int, 0, len(itemIDs))
	for _, id := range itemIDs {
		rawIDs = append(rawIDs, id.Int())
	}

	var rows []CachedEntry
	if err := s.db.WithContext(ctx).
		Where("player_key = ? AND item_id IN ?", playerKey, rawIDs).
		Order("item_id ASC").
		Find(&rows).Error; err != nil {
		s.logError(opItemsByCategory, "query_failed", err, zap.String("player", playerKey))
		return nil, newStoreError(opItemsByCategory, "query_failed", err)
	}

	s.touchCached(ctx, playerKey)

	items := make([]tracker.ObtainedItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, cachedToObtained(row))
	}
	return items, nil
}

// LatestTimestamp returns the max collected date across the player's
// cached rows, or nil when the player has no dated rows.
func (s *Store) LatestTimestamp(ctx context.Context, playerKey string) (*time.Time, error) {
	if playerKey == "" {
		return nil, newStoreError(opLatestTimestamp, "missing_player_key", errMissingPlayerKey)
	}

	var latest sql.NullInt64
	if err := s.db.WithContext(ctx).
		Model(&CachedEntry{}).
		Where("player_key = ? AND collected_at_s IS NOT NULL", playerKey).
		Select("MAX(collected_at_s)").
		Scan(&latest).Error; err != nil {
		s.logError(opLatestTimestamp, "query_failed", err, zap.String("player", playerKey))
		return nil, newStoreError(opLatestTimestamp, "query_failed", err)
	}
	if !latest.Valid {
		return nil, nil
	}
	stamp := time.Unix(latest.Int64, 0).UTC()
	return &stamp, nil
}

// IsFresh reports whether the player's cached data is at least as recent
// as the remote last-changed stamp. A missing local timestamp is stale.
func (s *Store) IsFresh(ctx context.Context, playerKey string, remoteLastChanged time.Time) (bool, error) {
	latest, err := s.LatestTimestamp(ctx, playerKey)
	if err != nil {
		return false, err
	}
	if latest == nil {
		return false, nil
	}
	return !latest.Before(remoteLastChanged), nil
}

// Prune evicts the oldest cached players beyond maxPlayers, ranking
// non-exempt players by their minimum last-accessed stamp. The exempt
// (local) player's rows are never deleted regardless of count. Returns
// the number of players evicted; the batch commits atomically.
func (s *Store) Prune(ctx context.Context, exemptPlayer string, maxPlayers int) (int, error) {
	if maxPlayers < 0 {
		return 0, newStoreError(opPrune, "invalid_max_players", fmt.Errorf("max players %d", maxPlayers))
	}

	type playerAge struct {
		PlayerKey string
		OldestAt  int64
	}

	var ages []playerAge
	if err := s.db.WithContext(ctx).
		Model(&CachedEntry{}).
		Select("player_key, MIN(last_accessed_at_s) AS oldest_at").
		Where("player_key <> ?", exemptPlayer).
		Group("player_key").
		Order("oldest_at ASC").
		Scan(&ages).Error; err != nil {
		s.logError(opPrune, "query_failed", err)
		return 0, newStoreError(opPrune, "query_failed", err)
	}

	if len(ages) <= maxPlayers {
		return 0, nil
	}

	evict := make([]string, 0, len(ages)-maxPlayers)
	for _, age := range ages[:len(ages)-maxPlayers] {
		evict = append(evict, age.PlayerKey)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Where("player_key IN ?", evict).Delete(&CachedEntry{}).Error
	})
	if err != nil {
		s.logError(opPrune, "delete_failed", err, zap.Int("players", len(evict)))
		return 0, newStoreError(opPrune, "delete_failed", err)
	}

	s.logger.Info("query cache pruned", zap.Int("players_evicted", len(evict)))
	return len(evict), nil
}

// ClearCached wipes the query cache. The authoritative mirror is not
// touched; a forced resync rebuilds cached lookups from the remote end.
func (s *Store) ClearCached(ctx context.Context) error {
	if err := s.db.WithContext(ctx).
		Where("1 = 1").
		Delete(&CachedEntry{}).Error; err != nil {
		s.logError(opClearCached, "delete_failed", err)
		return newStoreError(opClearCached, "delete_failed", err)
	}
	return nil
}

// touchMirror advances last-accessed for every mirror row of the player.
// The stamp is monotonically non-decreasing; failures are logged only.
func (s *Store) touchMirror(ctx context.Context, playerKey string) {
	accessedAt := s.clock().UTC().Unix()
	if err := s.db.WithContext(ctx).
		Model(&MirrorEntry{}).
		Where("player_key = ? AND last_accessed_at_s < ?", playerKey, accessedAt).
		Update("last_accessed_at_s", accessedAt).Error; err != nil {
		s.logError(opMirrorItems, "touch_failed", err, zap.String("player", playerKey))
	}
}

func (s *Store) touchCached(ctx context.Context, playerKey string) {
	accessedAt := s.clock().UTC().Unix()
	if err := s.db.WithContext(ctx).
		Model(&CachedEntry{}).
		Where("player_key = ? AND last_accessed_at_s < ?", playerKey, accessedAt).
		Update("last_accessed_at_s", accessedAt).Error; err != nil {
		s.logError(opItemsByCategory, "touch_failed", err, zap.String("player", playerKey))
	}
}

func collectedSeconds(item tracker.ObtainedItem) *int64 {
	if item.ObtainedAt == nil {
		return nil
	}
	seconds := item.ObtainedAt.UTC().Unix()
	return &seconds
}

func mirrorToObtained(row MirrorEntry) tracker.ObtainedItem {
	item := tracker.ObtainedItem{
		ID:    catalog.ItemID(row.ItemID),
		Name:  row.ItemName,
		Count: row.Count,
	}
	if row.CollectedAtSeconds != nil {
		stamp := time.Unix(*row.CollectedAtSeconds, 0).UTC()
		item.ObtainedAt = &stamp
	}
	return item
}

func cachedToObtained(row CachedEntry) tracker.ObtainedItem {
	item := tracker.ObtainedItem{
		ID:    catalog.ItemID(row.ItemID),
		Name:  row.ItemName,
		Count: row.Count,
	}
	if row.CollectedAtSeconds != nil {
		stamp := time.Unix(*row.CollectedAtSeconds, 0).UTC()
		item.ObtainedAt = &stamp
	}
	return item
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("cache store error", attrs...)
}
