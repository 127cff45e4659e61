package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/chatsync/internal/entitlement"
)

// TypeTierChanged is the only message type on the tier topic.
const TypeTierChanged = "TIER_CHANGED"

// DefaultTopic is the bus topic shared by all instances.
const DefaultTopic = "tier-updates"

// TierChanged is both the bus payload and the local notification.
type TierChanged struct {
	Type      string           `json:"type"`
	UserID    string           `json:"userId"`
	NewTier   entitlement.Tier `json:"newTier"`
	Timestamp int64            `json:"timestamp"` // Unix milliseconds
	Source    string           `json:"source"`
	Origin    string           `json:"origin,omitempty"`
}

func decodeTierChanged(data []byte) (TierChanged, error) {
	var ev TierChanged
	if err := json.Unmarshal(data, &ev); err != nil {
		return TierChanged{}, fmt.Errorf("decode tier message: %w", err)
	}
	if ev.Type != TypeTierChanged {
		return TierChanged{}, fmt.Errorf("unexpected message type %q", ev.Type)
	}
	if ev.UserID == "" {
		return TierChanged{}, errors.New("tier message without user id")
	}
	return ev, nil
}
