package catalog

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidCategoryID indicates that a category identifier is empty or malformed.
	ErrInvalidCategoryID = errors.New("catalog: invalid category id")
	// ErrInvalidItemID indicates that an item identifier is not positive.
	ErrInvalidItemID = errors.New("catalog: invalid item id")
)

// ItemID identifies a collectible item definition.
type ItemID int

// NewItemID validates the value and returns an ItemID.
func NewItemID(value int) (ItemID, error) {
	if value <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidItemID, value)
	}
	return ItemID(value), nil
}

// Int returns the raw item identifier.
func (id ItemID) Int() int {
	return int(id)
}

// CategoryID identifies one category (one boss or activity) within a tab.
type CategoryID string

// NewCategoryID validates raw input and returns a CategoryID.
func NewCategoryID(rawInput string) (CategoryID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidCategoryID)
	}
	return CategoryID(strings.ToLower(trimmed)), nil
}

// String returns the underlying category identifier.
func (id CategoryID) String() string {
	return string(id)
}

// Category groups an ordered, duplicate-free set of item ids under a title.
// Item order is significant only for display; membership drives diffing.
type Category struct {
	ID    CategoryID
	Title string
	Items []ItemID
}

// Contains reports whether the category tracks the given item.
func (c Category) Contains(id ItemID) bool {
	for _, item := range c.Items {
		if item == id {
			return true
		}
	}
	return false
}
