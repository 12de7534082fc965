package tracker

import (
	"sort"
	"strings"
	"time"

	"github.com/joemckie/collogsync/internal/catalog"
	"go.uber.org/zap"
)

// AggregatorConfig describes the dependencies of an Aggregator.
type AggregatorConfig struct {
	Catalog *catalog.Catalog
	Clock   func() time.Time
	Logger  *zap.Logger
}

// Aggregator reconciles the three raw signal streams (announcements,
// inventory deltas, loot grants) into concrete ObtainedItem records.
//
// All methods must be called from the coordinator's serial context; the
// aggregator performs no locking of its own.
type Aggregator struct {
	catalog *catalog.Catalog
	clock   func() time.Time
	logger  *zap.Logger

	// unresolved holds announced item names awaiting an id-bearing
	// signal. Duplicate names from stacked drops are appended, not
	// deduplicated, so N identical announcements need N resolutions.
	unresolved []string
	pending    map[catalog.ItemID]ObtainedItem
	inventory  map[int]int
	baselined  bool
}

// NewAggregator constructs an Aggregator.
func NewAggregator(cfg AggregatorConfig) *Aggregator {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		catalog:    cfg.Catalog,
		clock:      clock,
		logger:     logger,
		unresolved: make([]string, 0, 8),
		pending:    make(map[catalog.ItemID]ObtainedItem),
		inventory:  make(map[int]int),
	}
}

// SetCatalog swaps in a freshly built catalog.
func (a *Aggregator) SetCatalog(built *catalog.Catalog) {
	a.catalog = built
}

// ObserveAnnouncement queues the item name from a collection-log chat
// announcement. It reports whether the message was an announcement.
func (a *Aggregator) ObserveAnnouncement(message string) bool {
	name, ok := ParseAnnouncement(message)
	if !ok {
		return false
	}
	a.unresolved = append(a.unresolved, name)
	a.logger.Debug("announcement queued", zap.String("item", name), zap.Int("queued", len(a.unresolved)))
	return true
}

// ObserveInventory ingests a full inventory snapshot and resolves queued
// names against per-item quantity increases since the previous snapshot.
// The first snapshot of a session only establishes the baseline.
func (a *Aggregator) ObserveInventory(stacks []ItemStack) []ObtainedItem {
	current := make(map[int]int, len(stacks))
	names := make(map[int]string, len(stacks))
	for _, stack := range stacks {
		current[stack.ID] += stack.Quantity
		names[stack.ID] = stack.Name
	}

	previous := a.inventory
	hadBaseline := a.baselined
	a.inventory = current
	a.baselined = true

	if !hadBaseline {
		return nil
	}

	increased := make([]ItemStack, 0, 4)
	for id, quantity := range current {
		if delta := quantity - previous[id]; delta > 0 {
			increased = append(increased, ItemStack{ID: id, Name: names[id], Quantity: delta})
		}
	}
	// Map iteration order is random; deltas within one snapshot carry no
	// ordering of their own, so sort by id for determinism.
	sort.Slice(increased, func(i, j int) bool { return increased[i].ID < increased[j].ID })

	return a.resolveStacks(increased)
}

// ObserveLoot ingests a discrete loot-grant batch and resolves queued
// names against each grant.
func (a *Aggregator) ObserveLoot(grants []ItemStack) []ObtainedItem {
	return a.resolveStacks(grants)
}

func (a *Aggregator) resolveStacks(stacks []ItemStack) []ObtainedItem {
	if !a.catalog.Ready() || len(a.unresolved) == 0 {
		return nil
	}

	resolved := make([]ObtainedItem, 0, len(stacks))
	for _, stack := range stacks {
		if stack.Quantity <= 0 {
			continue
		}
		itemID, err := catalog.NewItemID(stack.ID)
		if err != nil {
			continue
		}
		canonical, tracked := a.catalog.Canonical(itemID)
		if !tracked {
			continue
		}
		if !a.consumeName(stack.Name) {
			continue
		}

		obtainedAt := a.clock().UTC()
		record := ObtainedItem{
			ID:         canonical,
			Name:       stack.Name,
			Count:      stack.Quantity,
			ObtainedAt: &obtainedAt,
		}
		if existing, ok := a.pending[canonical]; ok {
			record.Count += existing.Count
		}
		a.pending[canonical] = record
		resolved = append(resolved, record)
		a.logger.Debug("obtained item resolved",
			zap.Int("item_id", canonical.Int()),
			zap.String("item", stack.Name),
			zap.Int("count", record.Count))
	}
	return resolved
}

// consumeName removes the oldest unresolved instance of the given name.
// First match wins: when multiple item ids share a display name, whichever
// id is observed first consumes the queued name. That misattribution bias
// is part of the contract and must not change.
func (a *Aggregator) consumeName(name string) bool {
	for i, queued := range a.unresolved {
		if strings.EqualFold(queued, name) {
			a.unresolved = append(a.unresolved[:i], a.unresolved[i+1:]...)
			return true
		}
	}
	return false
}

// Pending returns the resolved records awaiting sync, ordered by item id.
func (a *Aggregator) Pending() []ObtainedItem {
	items := make([]ObtainedItem, 0, len(a.pending))
	for _, item := range a.pending {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

// PendingCount returns the number of distinct pending items.
func (a *Aggregator) PendingCount() int {
	return len(a.pending)
}

// UnresolvedCount returns the number of queued, unresolved names.
func (a *Aggregator) UnresolvedCount() int {
	return len(a.unresolved)
}

// ClearPending drops the pending set after a submission episode ends,
// leaving the unresolved queue and inventory baseline intact.
func (a *Aggregator) ClearPending() {
	a.pending = make(map[catalog.ItemID]ObtainedItem)
}

// Reset clears all session state wholesale on logout, world hop or
// disconnect. The unresolved queue and pending set must reset together;
// partial clearing is a bug.
func (a *Aggregator) Reset() {
	a.unresolved = a.unresolved[:0]
	a.pending = make(map[catalog.ItemID]ObtainedItem)
	a.inventory = make(map[int]int)
	a.baselined = false
}
