package alarm

import (
	"fmt"
	"strings"
)

// activeEntry is one group's contribution to a TextOutput's published
// summary while that group is in PREALARM or ALARM.
type activeEntry struct {
	label  string
	state  string
	inputs []string
}

// TextOutput is a coalesced aggregator: it tracks a set of groups (in
// priority order) and publishes a formatted summary of whichever are
// currently in PREALARM or ALARM, emitting only when that summary
// changes.
type TextOutput struct {
	topic  string
	info   bool
	groups []*AlarmGroup

	published     string
	everPublished bool
	publish       func(topic, message string)
}

// NewTextOutput builds a coalesced aggregator over groups, which should
// already be sorted by priority.
func NewTextOutput(topic string, info bool, groups []*AlarmGroup, publish func(topic, message string)) *TextOutput {
	return &TextOutput{topic: topic, info: info, groups: groups, publish: publish}
}

// Info reports whether this output also receives warning-channel messages.
func (t *TextOutput) Info() bool { return t.info }

// Update recomputes the active-alarm summary and publishes it only if it
// differs from the last publication.
func (t *TextOutput) Update() {
	var entries []activeEntry
	for _, g := range t.groups {
		snap := g.GetState()
		if snap.State != "prealarm" && snap.State != "alarm" {
			continue
		}
		var names []string
		for _, in := range snap.Inputs {
			if in.Value == "1" {
				names = append(names, in.Label)
			}
		}
		entries = append(entries, activeEntry{label: snap.Label, state: strings.ToUpper(snap.State), inputs: names})
	}

	message := formatEntries(entries)
	if t.everPublished && message == t.published {
		return
	}
	t.published = message
	t.everPublished = true
	if t.publish != nil {
		t.publish(t.topic, message)
	}
}

// SendInfo always publishes message, regardless of the coalescing state —
// used by the service's warning channel when Info is set.
func (t *TextOutput) SendInfo(message string) {
	if t.publish != nil {
		t.publish(t.topic, message)
	}
}

func formatEntries(entries []activeEntry) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%s %s: %s", e.state, e.label, strings.Join(e.inputs, ", ")))
	}
	return strings.Join(lines, "\n")
}
