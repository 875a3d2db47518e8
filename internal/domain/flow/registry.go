package flow

import "fmt"

// Change requests one entity to move from one state to another.
type Change struct {
	Entity   EntityType `json:"entityType"`
	EntityID string     `json:"entityId,omitempty"`
	From     string     `json:"fromState"`
	To       string     `json:"toState"`
}

func (c Change) String() string {
	return fmt.Sprintf("%s %s -> %s", c.Entity, c.From, c.To)
}

// AllowedNext returns the allowed next states for an entity in the given state.
func AllowedNext(entity EntityType, state string) ([]string, error) {
	switch entity {
	case EntityPayment:
		next, ok := PaymentState(state).Next()
		if !ok {
			return nil, fmt.Errorf("unknown payment state %q", state)
		}
		return toStrings(next), nil
	case EntitySession:
		next, ok := SessionState(state).Next()
		if !ok {
			return nil, fmt.Errorf("unknown session state %q", state)
		}
		return toStrings(next), nil
	case EntityVideo:
		next, ok := VideoState(state).Next()
		if !ok {
			return nil, fmt.Errorf("unknown video call state %q", state)
		}
		return toStrings(next), nil
	}
	return nil, fmt.Errorf("invalid entity type: %s", entity)
}

// Validate checks a single-entity transition against its table.
func Validate(entity EntityType, from, to string) error {
	allowed, err := AllowedNext(entity, from)
	if err != nil {
		return &InvalidTransitionError{Entity: entity, From: from, To: to, Allowed: []string{}}
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return &InvalidTransitionError{Entity: entity, From: from, To: to, Allowed: allowed}
}

// IsKnownState reports whether state belongs to the entity's state set.
func IsKnownState(entity EntityType, state string) bool {
	_, err := AllowedNext(entity, state)
	return err == nil
}

func toStrings[S ~string](states []S) []string {
	out := make([]string, 0, len(states))
	for _, s := range states {
		out = append(out, string(s))
	}
	return out
}
