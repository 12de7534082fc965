package cache

// MirrorEntry is one row of the authoritative mirror: the last known
// server-confirmed state for a (player, item) pair, used purely to
// compute diff uploads.
type MirrorEntry struct {
	PlayerKey             string `gorm:"column:player_key;primaryKey;size:190;not null"`
	ItemID                int    `gorm:"column:item_id;primaryKey;not null"`
	ItemName              string `gorm:"column:item_name;size:190;not null"`
	Count                 int    `gorm:"column:item_count;not null"`
	CollectedAtSeconds    *int64 `gorm:"column:collected_at_s"`
	LastAccessedAtSeconds int64  `gorm:"column:last_accessed_at_s;not null;index:idx_mirror_accessed"`
}

// TableName provides the explicit table binding for GORM.
func (MirrorEntry) TableName() string {
	return "log_mirror"
}

// CachedEntry is one row of the remote query cache: previously fetched
// read-only data for arbitrary players, kept to avoid re-querying the
// remote service on every lookup. Same shape as MirrorEntry plus the
// category the row was fetched under.
type CachedEntry struct {
	PlayerKey             string `gorm:"column:player_key;primaryKey;size:190;not null;index:idx_cached_player"`
	ItemID                int    `gorm:"column:item_id;primaryKey;not null"`
	CategoryID            string `gorm:"column:category_id;primaryKey;size:190;not null;default:''"`
	ItemName              string `gorm:"column:item_name;size:190;not null"`
	Count                 int    `gorm:"column:item_count;not null"`
	CollectedAtSeconds    *int64 `gorm:"column:collected_at_s"`
	LastAccessedAtSeconds int64  `gorm:"column:last_accessed_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (CachedEntry) TableName() string {
	return "log_query_cache"
}
