package catalog

import "testing"

func testManifest() *Manifest {
	return &Manifest{
		Tabs: map[string]map[string]ManifestCategory{
			"Bosses": {
				"abyssal_sire": {
					Name:  "Abyssal Sire",
					Items: []int{13262, 7979, 7979, 13273},
				},
				"zulrah": {
					Name:  "Zulrah",
					Items: []int{12922, 12932, 12936},
				},
			},
			"Clues": {
				"beginner_treasure_trails": {
					Name:  "Beginner Treasure Trails",
					Items: []int{23285, 23288},
				},
			},
		},
		Replacements: []ItemReplacement{
			{From: 12932, To: 12940},
		},
	}
}

func TestBuildCollectsCanonicalItemSet(t *testing.T) {
	built := Build(testManifest())

	if !built.Ready() {
		t.Fatalf("expected catalog to be ready")
	}
	if built.Size() != 8 {
		t.Fatalf("expected 8 canonical items, got %d", built.Size())
	}
	if built.Categories() != 3 {
		t.Fatalf("expected 3 categories, got %d", built.Categories())
	}
}

func TestBuildResolvesReplacements(t *testing.T) {
	built := Build(testManifest())

	resolved, tracked := built.Canonical(ItemID(12932))
	if !tracked {
		t.Fatalf("replaced item should resolve into the catalog")
	}
	if resolved != ItemID(12940) {
		t.Fatalf("expected 12932 to resolve to 12940, got %d", resolved)
	}

	category, ok := built.Category(CategoryID("zulrah"))
	if !ok {
		t.Fatalf("expected zulrah category")
	}
	if !category.Contains(ItemID(12940)) {
		t.Fatalf("category should track the canonical replacement id")
	}
	if category.Contains(ItemID(12932)) {
		t.Fatalf("category should not track the deprecated id")
	}
}

func TestBuildDeduplicatesPreservingOrder(t *testing.T) {
	built := Build(testManifest())

	category, ok := built.Category(CategoryID("abyssal_sire"))
	if !ok {
		t.Fatalf("expected abyssal_sire category")
	}
	want := []ItemID{13262, 7979, 13273}
	if len(category.Items) != len(want) {
		t.Fatalf("expected %d items, got %d", len(want), len(category.Items))
	}
	for i, id := range want {
		if category.Items[i] != id {
			t.Fatalf("item %d: expected %d, got %d", i, id, category.Items[i])
		}
	}
}

func TestBuildWithoutDefinitionIsNotReady(t *testing.T) {
	built := Build(nil)

	if built.Ready() {
		t.Fatalf("empty catalog must not report ready")
	}
	if _, tracked := built.Canonical(ItemID(13262)); tracked {
		t.Fatalf("empty catalog must not track any item")
	}
	if built.Size() != 0 {
		t.Fatalf("expected size 0, got %d", built.Size())
	}
}

func TestBuildIgnoresInvalidEntries(t *testing.T) {
	built := Build(&Manifest{
		Tabs: map[string]map[string]ManifestCategory{
			"Bosses": {
				"":     {Name: "Nameless", Items: []int{1}},
				"kbd":  {Name: "King Black Dragon", Items: []int{0, -3, 11286}},
				"rex ": {Name: "Dagannoth Rex", Items: []int{6731}},
			},
		},
		Replacements: []ItemReplacement{{From: 0, To: 5}, {From: 6, To: -1}},
	})

	if built.Size() != 2 {
		t.Fatalf("expected 2 valid items, got %d", built.Size())
	}
	if _, ok := built.Category(CategoryID("rex")); !ok {
		t.Fatalf("category ids should be trimmed")
	}
}

func TestNewCategoryIDLowercases(t *testing.T) {
	id, err := NewCategoryID("  Zulrah ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.String() != "zulrah" {
		t.Fatalf("unexpected id %q", id.String())
	}

	if _, err := NewCategoryID("   "); err == nil {
		t.Fatalf("expected error for blank category id")
	}
}
