package testutil

import (
	"sync"

	"checkin/internal/checkin"
)

// RecordingNotifier remembers every broadcast event in order.
type RecordingNotifier struct {
	mu     sync.Mutex
	events []checkin.ChangeEvent
}

func (n *RecordingNotifier) Broadcast(e checkin.ChangeEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

// Events returns a copy of the recorded events.
func (n *RecordingNotifier) Events() []checkin.ChangeEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]checkin.ChangeEvent(nil), n.events...)
}

// Count returns how many times e was broadcast.
func (n *RecordingNotifier) Count(e checkin.ChangeEvent) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, got := range n.events {
		if got == e {
			c++
		}
	}
	return c
}
