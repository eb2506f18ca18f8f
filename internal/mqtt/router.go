package mqtt

import (
	"strings"
	"sync"
)

// Handler is called for each message delivered to a matching subscription.
// Implementations must be safe for concurrent use, though in practice every
// handler in this service runs on the single loop.Engine goroutine because
// [Client] submits dispatch through it.
type Handler func(topic string, payload []byte)

type subscription struct {
	filter  string
	handler Handler
}

// router fans a single broker connection out to many independent
// subscribers of possibly-overlapping topic filters — several Inputs
// across different groups can each subscribe to the same external topic
// without knowing about one another.
type router struct {
	mu   sync.Mutex
	subs []subscription
}

// Subscribe registers handler against filter. Safe to call before or after
// Client.Start; filters registered later are included in the next
// (re)connect's SUBSCRIBE packet.
func (r *router) Subscribe(filter string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, subscription{filter: filter, handler: handler})
}

// Filters returns the distinct set of topic filters currently registered.
func (r *router) Filters() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(r.subs))
	filters := make([]string, 0, len(r.subs))
	for _, s := range r.subs {
		if seen[s.filter] {
			continue
		}
		seen[s.filter] = true
		filters = append(filters, s.filter)
	}
	return filters
}

// Dispatch invokes every handler whose filter matches topic.
func (r *router) Dispatch(topic string, payload []byte) {
	r.mu.Lock()
	matches := make([]Handler, 0, 1)
	for _, s := range r.subs {
		if TopicMatch(s.filter, topic) {
			matches = append(matches, s.handler)
		}
	}
	r.mu.Unlock()

	for _, h := range matches {
		h(topic, payload)
	}
}

// TopicMatch reports whether topic satisfies the MQTT topic filter,
// honoring the single-level "+" and trailing multi-level "#" wildcards.
func TopicMatch(filter, topic string) bool {
	filterParts := strings.Split(filter, "/")
	topicParts := strings.Split(topic, "/")

	for i, fp := range filterParts {
		if fp == "#" {
			return true // "#" matches this level and everything below
		}
		if i >= len(topicParts) {
			return false
		}
		if fp == "+" {
			continue
		}
		if fp != topicParts[i] {
			return false
		}
	}
	return len(filterParts) == len(topicParts)
}
