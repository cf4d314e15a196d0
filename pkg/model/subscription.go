package model

// SubscriptionFilter narrows a live subscription to a single contract
// and, optionally, a set of event types and/or a set of keys that must
// intersect the event's raw keys.
type SubscriptionFilter struct {
	ContractAddress Address
	EventTypes      map[string]struct{}
	EventKeys       map[FieldElement]struct{}
}

// Matches reports whether a decoded event satisfies the filter
// predicate described in spec §4.6.
func (f SubscriptionFilter) Matches(e *DecodedEvent) bool {
	if e.ContractAddress != f.ContractAddress {
		return false
	}
	if len(f.EventTypes) > 0 {
		if _, ok := f.EventTypes[e.EventType]; !ok {
			return false
		}
	}
	if len(f.EventKeys) > 0 {
		matched := false
		for _, k := range e.RawKeys {
			if _, ok := f.EventKeys[k]; ok {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}
