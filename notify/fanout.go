package notify

import "github.com/moyoez/docdrop/types"

type Notifier interface {
	Notify(n types.Notification)
}

// Fanout delivers every notification to each non-nil notifier in order.
type Fanout []Notifier

func (f Fanout) Notify(n types.Notification) {
	for _, target := range f {
		if target != nil {
			target.Notify(n)
		}
	}
}
