package eventbus

import (
	"encoding/json"
	"fmt"

	"github.com/limber-app/limber/internal/domain"
)

// Encode marshals an event payload.
func Encode(e domain.Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.EventType(), err)
	}
	return data, nil
}

// Decode rebuilds a typed event from its type name and payload.
func Decode(t domain.EventType, payload []byte) (domain.Event, error) {
	var (
		e   domain.Event
		err error
	)
	switch t {
	case domain.EventStreakBroken:
		e, err = decodeAs[domain.StreakBroken](payload)
	case domain.EventStreakSaved:
		e, err = decodeAs[domain.StreakSaved](payload)
	case domain.EventStreakMaintained:
		e, err = decodeAs[domain.StreakMaintained](payload)
	case domain.EventStreakUpdated:
		e, err = decodeAs[domain.StreakUpdated](payload)
	case domain.EventChallengeCompleted:
		e, err = decodeAs[domain.ChallengeCompleted](payload)
	case domain.EventChallengeClaimed:
		e, err = decodeAs[domain.ChallengeClaimed](payload)
	case domain.EventLevelUp:
		e, err = decodeAs[domain.LevelUp](payload)
	case domain.EventRewardUnlocked:
		e, err = decodeAs[domain.RewardUnlocked](payload)
	default:
		return nil, fmt.Errorf("decode event: unknown type %q", t)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	return e, nil
}

func decodeAs[E domain.Event](payload []byte) (domain.Event, error) {
	var e E
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, err
	}
	return e, nil
}
