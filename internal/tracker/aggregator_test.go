package tracker

import (
	"testing"
	"time"

	"github.com/joemckie/collogsync/internal/catalog"
)

const (
	twistedBowID    = 20997
	gracefulBootsID = 11860
	recolorBootsID  = 24758
	coinsID         = 995
)

func testCatalog() *catalog.Catalog {
	return catalog.Build(&catalog.Manifest{
		Tabs: map[string]map[string]catalog.ManifestCategory{
			"Raids": {
				"chambers_of_xeric": {
					Name:  "Chambers of Xeric",
					Items: []int{twistedBowID},
				},
			},
			"Other": {
				"graceful": {
					Name:  "Graceful",
					Items: []int{gracefulBootsID, recolorBootsID},
				},
			},
		},
	})
}

func fixedClock() func() time.Time {
	return func() time.Time { return time.Unix(1750000000, 0).UTC() }
}

func newTestAggregator() *Aggregator {
	return NewAggregator(AggregatorConfig{Catalog: testCatalog(), Clock: fixedClock()})
}

func TestParseAnnouncement(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		wantItem string
		wantOK   bool
	}{
		{name: "announcement", message: "New item added to your collection log: Twisted bow", wantItem: "Twisted bow", wantOK: true},
		{name: "other-chat", message: "You have a funny feeling like you're being followed.", wantOK: false},
		{name: "empty-name", message: "New item added to your collection log: ", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, ok := ParseAnnouncement(tt.message)
			if ok != tt.wantOK {
				t.Fatalf("ParseAnnouncement(%q) ok = %v, want %v", tt.message, ok, tt.wantOK)
			}
			if item != tt.wantItem {
				t.Fatalf("ParseAnnouncement(%q) item = %q, want %q", tt.message, item, tt.wantItem)
			}
		})
	}
}

func TestAnnouncementThenInventoryDeltaResolves(t *testing.T) {
	aggregator := newTestAggregator()

	// Baseline snapshot before the drop.
	aggregator.ObserveInventory([]ItemStack{{ID: coinsID, Name: "Coins", Quantity: 10000}})

	if !aggregator.ObserveAnnouncement("New item added to your collection log: Twisted bow") {
		t.Fatalf("expected announcement to queue")
	}

	resolved := aggregator.ObserveInventory([]ItemStack{
		{ID: coinsID, Name: "Coins", Quantity: 10000},
		{ID: twistedBowID, Name: "Twisted bow", Quantity: 1},
	})

	if len(resolved) != 1 {
		t.Fatalf("expected 1 resolution, got %d", len(resolved))
	}
	if resolved[0].ID.Int() != twistedBowID || resolved[0].Name != "Twisted bow" || resolved[0].Count != 1 {
		t.Fatalf("unexpected resolution: %+v", resolved[0])
	}
	if aggregator.UnresolvedCount() != 0 {
		t.Fatalf("expected empty unresolved queue, got %d", aggregator.UnresolvedCount())
	}
	if aggregator.PendingCount() != 1 {
		t.Fatalf("expected 1 pending item, got %d", aggregator.PendingCount())
	}
}

func TestInventoryDeltaWithoutAnnouncementIsIgnored(t *testing.T) {
	aggregator := newTestAggregator()
	aggregator.ObserveInventory(nil)

	resolved := aggregator.ObserveInventory([]ItemStack{
		{ID: twistedBowID, Name: "Twisted bow", Quantity: 1},
	})

	if len(resolved) != 0 {
		t.Fatalf("expected no resolutions, got %d", len(resolved))
	}
	if aggregator.PendingCount() != 0 {
		t.Fatalf("expected empty pending set, got %d", aggregator.PendingCount())
	}
}

func TestDuplicateNamesResolveInArrivalOrder(t *testing.T) {
	aggregator := newTestAggregator()
	aggregator.ObserveInventory(nil)

	aggregator.ObserveAnnouncement("New item added to your collection log: Graceful boots")
	aggregator.ObserveAnnouncement("New item added to your collection log: Graceful boots")
	if aggregator.UnresolvedCount() != 2 {
		t.Fatalf("duplicate announcements must stack, got %d queued", aggregator.UnresolvedCount())
	}

	first := aggregator.ObserveLoot([]ItemStack{{ID: gracefulBootsID, Name: "Graceful boots", Quantity: 1}})
	second := aggregator.ObserveLoot([]ItemStack{{ID: recolorBootsID, Name: "Graceful boots", Quantity: 1}})

	if len(first) != 1 || first[0].ID.Int() != gracefulBootsID {
		t.Fatalf("first resolution should consume the oldest queued name: %+v", first)
	}
	if len(second) != 1 || second[0].ID.Int() != recolorBootsID {
		t.Fatalf("second resolution should bind the second id: %+v", second)
	}
	if aggregator.UnresolvedCount() != 0 {
		t.Fatalf("expected empty queue, got %d", aggregator.UnresolvedCount())
	}
	if aggregator.PendingCount() != 2 {
		t.Fatalf("expected 2 distinct pending items, got %d", aggregator.PendingCount())
	}
}

func TestLootOutsideCatalogLeavesNameQueued(t *testing.T) {
	aggregator := newTestAggregator()

	aggregator.ObserveAnnouncement("New item added to your collection log: Twisted bow")
	resolved := aggregator.ObserveLoot([]ItemStack{{ID: 9999, Name: "Twisted bow", Quantity: 1}})

	if len(resolved) != 0 {
		t.Fatalf("untracked item id must not resolve, got %+v", resolved)
	}
	if aggregator.UnresolvedCount() != 1 {
		t.Fatalf("name should remain queued, got %d", aggregator.UnresolvedCount())
	}
}

func TestNotReadyCatalogIsNoOp(t *testing.T) {
	aggregator := NewAggregator(AggregatorConfig{Catalog: catalog.Build(nil), Clock: fixedClock()})

	aggregator.ObserveAnnouncement("New item added to your collection log: Twisted bow")
	resolved := aggregator.ObserveLoot([]ItemStack{{ID: twistedBowID, Name: "Twisted bow", Quantity: 1}})

	if len(resolved) != 0 {
		t.Fatalf("not-ready catalog must no-op, got %+v", resolved)
	}
}

func TestRepeatResolutionAccumulatesCount(t *testing.T) {
	aggregator := newTestAggregator()

	aggregator.ObserveAnnouncement("New item added to your collection log: Twisted bow")
	aggregator.ObserveLoot([]ItemStack{{ID: twistedBowID, Name: "Twisted bow", Quantity: 1}})

	aggregator.ObserveAnnouncement("New item added to your collection log: Twisted bow")
	aggregator.ObserveLoot([]ItemStack{{ID: twistedBowID, Name: "Twisted bow", Quantity: 2}})

	pending := aggregator.Pending()
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending record, got %d", len(pending))
	}
	if pending[0].Count != 3 {
		t.Fatalf("expected accumulated count 3, got %d", pending[0].Count)
	}
}

func TestResetClearsQueueAndPendingTogether(t *testing.T) {
	aggregator := newTestAggregator()
	aggregator.ObserveInventory([]ItemStack{{ID: coinsID, Name: "Coins", Quantity: 100}})

	aggregator.ObserveAnnouncement("New item added to your collection log: Graceful boots")
	aggregator.ObserveAnnouncement("New item added to your collection log: Twisted bow")
	aggregator.ObserveLoot([]ItemStack{{ID: twistedBowID, Name: "Twisted bow", Quantity: 1}})

	aggregator.Reset()

	if aggregator.UnresolvedCount() != 0 {
		t.Fatalf("expected unresolved queue cleared, got %d", aggregator.UnresolvedCount())
	}
	if aggregator.PendingCount() != 0 {
		t.Fatalf("expected pending set cleared, got %d", aggregator.PendingCount())
	}

	// Post-reset, the next inventory snapshot is a baseline again.
	resolved := aggregator.ObserveInventory([]ItemStack{{ID: twistedBowID, Name: "Twisted bow", Quantity: 1}})
	if len(resolved) != 0 {
		t.Fatalf("first snapshot after reset must only baseline, got %+v", resolved)
	}
}
