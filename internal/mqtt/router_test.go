package mqtt

import "testing"

func TestTopicMatchExact(t *testing.T) {
	if !TopicMatch("sensor/door", "sensor/door") {
		t.Error("exact match should succeed")
	}
	if TopicMatch("sensor/door", "sensor/window") {
		t.Error("distinct topics should not match")
	}
}

func TestTopicMatchSingleLevelWildcard(t *testing.T) {
	if !TopicMatch("sensor/+/state", "sensor/door/state") {
		t.Error("+ should match a single level")
	}
	if TopicMatch("sensor/+/state", "sensor/door/hall/state") {
		t.Error("+ should not match multiple levels")
	}
}

func TestTopicMatchMultiLevelWildcard(t *testing.T) {
	if !TopicMatch("sensor/#", "sensor/door/state") {
		t.Error("# should match everything below its level")
	}
	if !TopicMatch("sensor/#", "sensor") {
		t.Error("# should match the parent level itself")
	}
	if TopicMatch("sensor/#", "other/door/state") {
		t.Error("# should not match a different prefix")
	}
}

func TestRouterDispatchFansOutToAllMatches(t *testing.T) {
	r := &router{}
	var a, b int
	r.Subscribe("sensor/+", func(string, []byte) { a++ })
	r.Subscribe("sensor/door", func(string, []byte) { b++ })

	r.Dispatch("sensor/door", []byte("1"))

	if a != 1 || b != 1 {
		t.Errorf("a=%d b=%d, want both handlers invoked once", a, b)
	}
}

func TestRouterFiltersDeduplicates(t *testing.T) {
	r := &router{}
	r.Subscribe("sensor/door", func(string, []byte) {})
	r.Subscribe("sensor/door", func(string, []byte) {})
	r.Subscribe("sensor/window", func(string, []byte) {})

	filters := r.Filters()
	if len(filters) != 2 {
		t.Errorf("len(Filters()) = %d, want 2 distinct filters", len(filters))
	}
}
