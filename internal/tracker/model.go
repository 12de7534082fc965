package tracker

import (
	"strings"
	"time"

	"github.com/joemckie/collogsync/internal/catalog"
)

// announcementPrefix introduces the chat line emitted when an item lands
// in the collection log.
const announcementPrefix = "New item added to your collection log: "

// ParseAnnouncement extracts the item display name from an announcement
// text event. It returns false for any other chat line.
func ParseAnnouncement(message string) (string, bool) {
	if !strings.HasPrefix(message, announcementPrefix) {
		return "", false
	}
	name := strings.TrimSpace(strings.TrimPrefix(message, announcementPrefix))
	if name == "" {
		return "", false
	}
	return name, true
}

// ItemStack is one (item id, display name, quantity) observation from
// either an inventory snapshot or a loot grant batch.
type ItemStack struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// ObtainedItem is one concrete acquisition record, either freshly
// observed or loaded from cache. Two records are equal iff item id and
// count match; the name is informational.
type ObtainedItem struct {
	ID         catalog.ItemID
	Name       string
	Count      int
	ObtainedAt *time.Time
}

// Equal reports record equality by item id and count.
func (i ObtainedItem) Equal(other ObtainedItem) bool {
	return i.ID == other.ID && i.Count == other.Count
}
