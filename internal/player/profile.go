package player

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidUsername indicates an empty or unusable player name.
var ErrInvalidUsername = errors.New("player: invalid username")

// AccountType enumerates the account variants reported by the game client.
type AccountType string

const (
	AccountTypeNormal         AccountType = "normal"
	AccountTypeIronman        AccountType = "ironman"
	AccountTypeHardcore       AccountType = "hardcore_ironman"
	AccountTypeUltimate       AccountType = "ultimate_ironman"
	AccountTypeGroupIronman   AccountType = "group_ironman"
	AccountTypeHardcoreGroup  AccountType = "hardcore_group_ironman"
	AccountTypeUnrankedGroup  AccountType = "unranked_group_ironman"
)

// ParseAccountType maps a raw variant string onto a known AccountType,
// defaulting to a normal account for unrecognized input.
func ParseAccountType(raw string) AccountType {
	switch AccountType(strings.ToLower(strings.TrimSpace(raw))) {
	case AccountTypeIronman:
		return AccountTypeIronman
	case AccountTypeHardcore:
		return AccountTypeHardcore
	case AccountTypeUltimate:
		return AccountTypeUltimate
	case AccountTypeGroupIronman:
		return AccountTypeGroupIronman
	case AccountTypeHardcoreGroup:
		return AccountTypeHardcoreGroup
	case AccountTypeUnrankedGroup:
		return AccountTypeUnrankedGroup
	default:
		return AccountTypeNormal
	}
}

// Mode prefixes attached to display names by the game client. The iron
// helmet glyphs render as these markers in chat-sourced names.
var modePrefixes = []string{
	"<img=2>", "<img=3>", "<img=10>", "<img=41>", "<img=42>", "<img=43>",
}

// Normalize computes the canonical submission key for a display name:
// mode prefixes stripped, whitespace collapsed to underscores, lowercased.
// The function is idempotent so the same human player always yields the
// same key regardless of display formatting.
func Normalize(displayName string) string {
	name := displayName
	for _, prefix := range modePrefixes {
		name = strings.ReplaceAll(name, prefix, "")
	}
	// Non-breaking spaces appear in names copied out of chat.
	name = strings.ReplaceAll(name, " ", " ")
	name = strings.TrimSpace(name)
	name = strings.Join(strings.Fields(name), "_")
	return strings.ToLower(name)
}

// Profile identifies the player whose collection log is being synced.
type Profile struct {
	Key         string
	DisplayName string
	AccountType AccountType
	AccountID   int64
}

// NewProfile normalizes the display name and returns a Profile.
func NewProfile(displayName string, accountType AccountType, accountID int64) (Profile, error) {
	key := Normalize(displayName)
	if key == "" {
		return Profile{}, fmt.Errorf("%w: empty after normalization", ErrInvalidUsername)
	}
	return Profile{
		Key:         key,
		DisplayName: strings.TrimSpace(displayName),
		AccountType: accountType,
		AccountID:   accountID,
	}, nil
}
