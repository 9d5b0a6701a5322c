package relay

import "slices"

// Subscriptions maps a client token to the topics it is subscribed to.
// Topic lists keep insertion order but hold each topic at most once, and a
// token never maps to an empty list.
type Subscriptions map[string][]string

// Add appends topic to the token's topics. It reports whether anything changed.
func (s Subscriptions) Add(token, topic string) bool {
	if slices.Contains(s[token], topic) {
		return false
	}
	s[token] = append(s[token], topic)
	return true
}

// Remove drops topic from the token's topics, deleting the token entry once
// it has none left. It reports whether anything changed.
func (s Subscriptions) Remove(token, topic string) bool {
	topics, ok := s[token]
	if !ok {
		return false
	}
	idx := slices.Index(topics, topic)
	if idx < 0 {
		return false
	}
	remaining := slices.Delete(slices.Clone(topics), idx, idx+1)
	if len(remaining) == 0 {
		delete(s, token)
		return true
	}
	s[token] = remaining
	return true
}

// Clone returns a deep copy.
func (s Subscriptions) Clone() Subscriptions {
	out := make(Subscriptions, len(s))
	for token, topics := range s {
		out[token] = slices.Clone(topics)
	}
	return out
}

// Normalize returns a copy with empty tokens and topics, duplicate topics and
// empty entries removed. Stores run loaded data through it.
func Normalize(raw map[string][]string) Subscriptions {
	out := make(Subscriptions, len(raw))
	for token, topics := range raw {
		if token == "" {
			continue
		}
		for _, topic := range topics {
			if topic != "" {
				out.Add(token, topic)
			}
		}
	}
	return out
}
