// Package events propagates lock and unlock notifications between processes
// contending for the same names, so that waiters can retry as soon as a lease
// is released instead of polling blindly.
package events

import (
	"context"
	"encoding/json"
	"time"
)

// Kind is the type of a lease event.
type Kind string

const (
	KindLock   Kind = "lock"
	KindUnlock Kind = "unlock"
)

// Event describes a transition of a named lease.
type Event struct {
	Kind Kind      `json:"k"`
	Name string    `json:"n"`
	At   time.Time `json:"t"`
}

// Bus delivers events to subscribers of a lock name. Delivery is best-effort:
// a slow subscriber misses events rather than blocking publishers.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context, name string) (chan Event, error)
	Unsubscribe(ctx context.Context, name string, ch chan Event) error
}

type Metrics struct {
	Published uint64
	Delivered uint64
}

func encode(ev Event) ([]byte, error) { return json.Marshal(ev) }

func decode(data []byte) (Event, error) {
	var ev Event
	err := json.Unmarshal(data, &ev)
	return ev, err
}

// fanout sends ev to every channel without blocking and returns how many
// channels accepted it.
func fanout(chans []chan Event, ev Event) uint64 {
	var n uint64
	for _, ch := range chans {
		select {
		case ch <- ev:
			n++
		default:
		}
	}
	return n
}

func removeChan(chans []chan Event, ch chan Event) ([]chan Event, bool) {
	for i, c := range chans {
		if c == ch {
			chans[i] = chans[len(chans)-1]
			return chans[:len(chans)-1], true
		}
	}
	return chans, false
}
