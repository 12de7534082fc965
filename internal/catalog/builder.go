package catalog

// Manifest is the raw hierarchical definition supplied by the remote
// service: tab -> category -> item id list, plus a replacement table
// mapping deprecated item ids to their canonical successors.
type Manifest struct {
	Tabs         map[string]map[string]ManifestCategory `json:"tabs"`
	Replacements []ItemReplacement                      `json:"replaced_items"`
}

// ManifestCategory carries one category definition inside a manifest tab.
type ManifestCategory struct {
	Name  string `json:"name"`
	Items []int  `json:"items"`
}

// ItemReplacement maps a deprecated item id to its canonical replacement.
type ItemReplacement struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Catalog holds the two stable artifacts built from a manifest: the flat
// canonical item-id set and the category -> ordered item-set mapping.
// A Catalog is immutable after Build and safe for concurrent reads.
type Catalog struct {
	items      map[ItemID]struct{}
	categories map[CategoryID]Category
	replaced   map[ItemID]ItemID
}

// Build turns a manifest into a Catalog. The transformation is pure:
// deterministic output given deterministic input ordering, no network,
// no mutable globals. A nil manifest yields an empty, not-ready Catalog.
func Build(manifest *Manifest) *Catalog {
	built := &Catalog{
		items:      make(map[ItemID]struct{}),
		categories: make(map[CategoryID]Category),
		replaced:   make(map[ItemID]ItemID),
	}
	if manifest == nil {
		return built
	}

	for _, replacement := range manifest.Replacements {
		from, err := NewItemID(replacement.From)
		if err != nil {
			continue
		}
		to, err := NewItemID(replacement.To)
		if err != nil {
			continue
		}
		built.replaced[from] = to
	}

	for _, tab := range manifest.Tabs {
		for rawID, definition := range tab {
			categoryID, err := NewCategoryID(rawID)
			if err != nil {
				continue
			}

			ordered := make([]ItemID, 0, len(definition.Items))
			seen := make(map[ItemID]struct{}, len(definition.Items))
			for _, raw := range definition.Items {
				itemID, err := NewItemID(raw)
				if err != nil {
					continue
				}
				itemID = built.resolve(itemID)
				if _, duplicate := seen[itemID]; duplicate {
					continue
				}
				seen[itemID] = struct{}{}
				ordered = append(ordered, itemID)
				built.items[itemID] = struct{}{}
			}

			built.categories[categoryID] = Category{
				ID:    categoryID,
				Title: definition.Name,
				Items: ordered,
			}
		}
	}

	return built
}

func (c *Catalog) resolve(id ItemID) ItemID {
	if canonical, ok := c.replaced[id]; ok {
		return canonical
	}
	return id
}

// Ready reports whether the catalog was built from a usable definition.
// Dependent operations treat a not-ready catalog as a no-op, not an error.
func (c *Catalog) Ready() bool {
	return c != nil && len(c.items) > 0
}

// Canonical resolves an observed item id through the replacement table and
// reports whether the resolved id belongs to the canonical catalog set.
func (c *Catalog) Canonical(id ItemID) (ItemID, bool) {
	if c == nil {
		return 0, false
	}
	resolved := c.resolve(id)
	_, ok := c.items[resolved]
	return resolved, ok
}

// Size returns the number of trackable items across all categories.
func (c *Catalog) Size() int {
	if c == nil {
		return 0
	}
	return len(c.items)
}

// Category returns the category definition for the given identifier.
func (c *Catalog) Category(id CategoryID) (Category, bool) {
	if c == nil {
		return Category{}, false
	}
	category, ok := c.categories[id]
	return category, ok
}

// Categories returns the number of categories tracked by the catalog.
func (c *Catalog) Categories() int {
	if c == nil {
		return 0
	}
	return len(c.categories)
}
