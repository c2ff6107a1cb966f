package application

import (
	"iter"

	"github.com/felixgeelhaar/imagery/internal/shared/domain"
)

// Tracker receives every entity a repository loads or stages.
type Tracker interface {
	Track(source domain.EventSource)
}

// Journal is the append-only record of what a unit of work touched.
// Repositories report entities through Track; messages that do not belong to
// an entity are appended with Emit. Drain harvests both.
//
// A Journal is not safe for concurrent use.
type Journal struct {
	seen    []domain.EventSource
	index   map[domain.EventSource]struct{}
	pending []domain.Message
}

// NewJournal creates an empty journal.
func NewJournal() *Journal {
	return &Journal{index: make(map[domain.EventSource]struct{})}
}

// Track records a source once; repeated calls with the same source are ignored.
// Sources whose dynamic value cannot be hashed are recorded on every call.
func (j *Journal) Track(source domain.EventSource) {
	if source == nil || !j.remember(source) {
		return
	}
	j.seen = append(j.seen, source)
}

// remember adds source to the index and reports whether it was new.
func (j *Journal) remember(source domain.EventSource) (fresh bool) {
	defer func() {
		// Hashing a value holding a slice, map or func panics.
		if recover() != nil {
			fresh = true
		}
	}()
	if _, ok := j.index[source]; ok {
		return false
	}
	j.index[source] = struct{}{}
	return true
}

// Emit appends messages that are not attached to any entity.
func (j *Journal) Emit(msgs ...domain.Message) {
	j.pending = append(j.pending, msgs...)
}

// Seen returns the number of tracked sources.
func (j *Journal) Seen() int {
	return len(j.seen)
}

// Reset forgets every tracked source and pending message.
func (j *Journal) Reset() {
	j.seen = nil
	j.index = make(map[domain.EventSource]struct{})
	j.pending = nil
}

// Drain lazily yields the events attached to every tracked source, in
// tracking order, followed by the emitted messages. Each message is removed
// as it is yielded. If the consumer stops early, the messages not yet yielded
// stay queued for the next drain.
func (j *Journal) Drain() iter.Seq[domain.Message] {
	return func(yield func(domain.Message) bool) {
		for i := 0; i < len(j.seen); i++ {
			events := j.seen[i].TakeEvents()
			for k, msg := range events {
				if !yield(msg) {
					rest := make([]domain.Message, 0, len(events)-k-1+len(j.pending))
					rest = append(rest, events[k+1:]...)
					j.pending = append(rest, j.pending...)
					return
				}
			}
		}
		for len(j.pending) > 0 {
			msg := j.pending[0]
			j.pending[0] = nil
			j.pending = j.pending[1:]
			if !yield(msg) {
				return
			}
		}
	}
}
