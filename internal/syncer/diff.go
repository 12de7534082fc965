package syncer

import (
	"github.com/joemckie/collogsync/internal/catalog"
	"github.com/joemckie/collogsync/internal/tracker"
)

// Diff returns the observed items that are not already matched by the
// authoritative mirror. A mirror row matches only on both item id and
// count; names are informational and do not participate.
func Diff(observed, mirror []tracker.ObtainedItem) []tracker.ObtainedItem {
	known := make(map[catalog.ItemID]int, len(mirror))
	for _, item := range mirror {
		known[item.ID] = item.Count
	}

	changed := make([]tracker.ObtainedItem, 0, len(observed))
	for _, item := range observed {
		if count, ok := known[item.ID]; ok && count == item.Count {
			continue
		}
		changed = append(changed, item)
	}
	return changed
}

// mergeByItem overlays fresh records onto base, keyed by item id, with
// fresh records winning. Output is ordered: base rows first, then any
// fresh items base did not cover.
func mergeByItem(base, fresh []tracker.ObtainedItem) []tracker.ObtainedItem {
	overlay := make(map[catalog.ItemID]tracker.ObtainedItem, len(fresh))
	for _, item := range fresh {
		overlay[item.ID] = item
	}

	merged := make([]tracker.ObtainedItem, 0, len(base)+len(fresh))
	for _, item := range base {
		if updated, ok := overlay[item.ID]; ok {
			merged = append(merged, updated)
			delete(overlay, item.ID)
			continue
		}
		merged = append(merged, item)
	}
	for _, item := range fresh {
		if _, remaining := overlay[item.ID]; remaining {
			merged = append(merged, item)
		}
	}
	return merged
}
