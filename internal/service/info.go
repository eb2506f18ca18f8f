package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hollowoak/alarmd/internal/alarm"
)

// infoSuppressWindow bounds how often an unchanged per-field topic is
// republished: a value that changes publishes immediately, an unchanged
// one at most once per window (a heartbeat against retained-message
// loss rather than a flood of identical publishes).
const infoSuppressWindow = 60 * time.Second

type infoCache struct {
	mu     sync.Mutex
	last   map[string]string
	lastAt map[string]time.Time
}

func newInfoCache() *infoCache {
	return &infoCache{last: map[string]string{}, lastAt: map[string]time.Time{}}
}

func (c *infoCache) shouldPublish(key, value string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if last, known := c.last[key]; known && last == value {
		if now.Sub(c.lastAt[key]) < infoSuppressWindow {
			return false
		}
	}
	c.last[key] = value
	c.lastAt[key] = now
	return true
}

func boolStr(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// publishInfo renders every group's current state to the service's
// MQTT namespace: a JSON snapshot of the whole fleet plus, per group, a
// flattened tree of individually-suppressed state topics.
func (s *Service) publishInfo() {
	base := fmt.Sprintf("service/%s", s.cfg.Service.Name)

	snapshots := make([]alarm.GroupSnapshot, 0, len(s.groups))
	for _, g := range s.groups {
		snapshots = append(snapshots, g.GetState())
	}
	if doc, err := json.Marshal(snapshots); err != nil {
		s.logger.Warn("info snapshot marshal failed", "error", err)
	} else {
		s.publishRaw(base+"/snapshot", doc)
	}

	for _, snap := range snapshots {
		groupBase := base + "/" + snap.Name
		s.publishField(groupBase+"/state", snap.State)
		s.publishField(groupBase+"/display_state", snap.DisplayState)
		s.publishField(groupBase+"/enabled/state", boolStr(snap.Enabled))
		s.publishField(groupBase+"/inhibited/state", boolStr(snap.InhibitedState))
		s.publishField(groupBase+"/all_inputs_online", boolStr(snap.AllInputsOnline))
		s.publishField(groupBase+"/any_inhibitor_active", boolStr(snap.AnyInhibitorActive))
		s.publishField(groupBase+"/live", boolStr(snap.Live))
		s.publishField(groupBase+"/label", snap.Label)

		s.publishInputTree(groupBase+"/input", snap.Inputs)
		s.publishInputTree(groupBase+"/inhibitor", snap.Inhibitors)
		s.publishInputTree(groupBase+"/liveness", snap.Liveness)
	}
}

func (s *Service) publishInputTree(prefix string, inputs []alarm.InputSnapshot) {
	for _, in := range inputs {
		s.publishField(prefix+"/"+in.Label+"/state", in.State)
		s.publishField(prefix+"/"+in.Label+"/value", in.Value)
	}
}

func (s *Service) publishField(topic, value string) {
	if !s.info.shouldPublish(topic, value) {
		return
	}
	s.publishRaw(topic, []byte(value))
}

func (s *Service) publishRaw(topic string, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.mqttClient.Publish(ctx, topic, payload, true); err != nil {
		s.logger.Warn("info publish failed", "topic", topic, "error", err)
	}
}
