package checkin

// ChangeEvent is broadcast to observers after a bulk mutation completes.
type ChangeEvent string

const (
	EventVisitsChanged   ChangeEvent = "visits-changed"
	EventTaxonomyChanged ChangeEvent = "taxonomy-changed"
)

// Notifier delivers change events to whatever presents the data.
type Notifier interface {
	Broadcast(event ChangeEvent)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(event ChangeEvent)

func (f NotifierFunc) Broadcast(event ChangeEvent) { f(event) }

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Broadcast(ChangeEvent) {}
