// Package metrics is the side channel for request, query and blob timings.
// Handlers record unconditionally; a backend failing or being absent never
// changes a response.
package metrics

import "time"

type Kind int

const (
	KindAPI Kind = iota
	KindDB
	KindBlob
)

func (k Kind) String() string {
	switch k {
	case KindAPI:
		return "api"
	case KindDB:
		return "db"
	case KindBlob:
		return "blob"
	default:
		return "unknown"
	}
}

// Event is one named, timed occurrence. Status is the HTTP status for
// KindAPI events and zero otherwise.
type Event struct {
	Kind     Kind
	Name     string
	Duration time.Duration
	Status   int
}

// Recorder must not block the caller for longer than it takes to enqueue.
type Recorder interface {
	Record(e Event)
}

type Nop struct{}

func (Nop) Record(Event) {}

// Multi fans every event out to each recorder in order.
type Multi []Recorder

func (m Multi) Record(e Event) {
	for _, r := range m {
		r.Record(e)
	}
}

func ObserveAPI(r Recorder, api string, status int, d time.Duration) {
	r.Record(Event{Kind: KindAPI, Name: api, Duration: d, Status: status})
}

func ObserveDB(r Recorder, queryType string, start time.Time) {
	r.Record(Event{Kind: KindDB, Name: queryType, Duration: time.Since(start)})
}

func ObserveBlob(r Recorder, op string, start time.Time) {
	r.Record(Event{Kind: KindBlob, Name: op, Duration: time.Since(start)})
}
