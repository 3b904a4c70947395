package events

import (
	"errors"
	"fmt"
	"sync"
)

// ErrSlowConsumer is reported by a Subscription whose buffer overflowed.
// The subscriber re-Subscribes from Pos() to resume without loss.
var ErrSlowConsumer = errors.New("subscriber too slow, events dropped from buffer")

// Store is the durable backing for a Log. Implementations must persist
// events in sequence order and return them the same way.
type Store interface {
	Append(ev Event) error
	Load() ([]Event, error)
	Close() error
}

// Log is the append-only, totally ordered event sequence. Appends are
// serialized; reads copy out; subscriptions hand off from historical
// replay to live delivery without dropping or duplicating events.
type Log struct {
	mu      sync.Mutex
	entries []Event
	store   Store
	subs    map[uint64]*subscriber
	nextSub uint64
}

type subscriber struct {
	live chan Event
}

// NewLog restores a log from its store's contents.
func NewLog(store Store) (*Log, error) {
	entries, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load event log: %w", err)
	}
	for i, ev := range entries {
		if ev.Seq != uint64(i) {
			return nil, fmt.Errorf("corrupt event log: entry %d has seq %d", i, ev.Seq)
		}
	}
	return &Log{
		entries: entries,
		store:   store,
		subs:    make(map[uint64]*subscriber),
	}, nil
}

// Len returns the number of appended events; the next event gets seq Len().
func (l *Log) Len() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint64(len(l.entries))
}

// Append assigns the next sequence number, persists the event, and
// fans it out to live subscribers. A subscriber whose buffer is full
// is detached rather than blocking the log.
func (l *Log) Append(ev Event) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ev.Seq = uint64(len(l.entries))
	if err := l.store.Append(ev); err != nil {
		return 0, fmt.Errorf("persist event %d: %w", ev.Seq, err)
	}
	l.entries = append(l.entries, ev)

	for id, sub := range l.subs {
		select {
		case sub.live <- ev:
		default:
			// Buffer overflow: detach. The pump goroutine reports
			// ErrSlowConsumer and the consumer resumes from its cursor.
			close(sub.live)
			delete(l.subs, id)
		}
	}
	return ev.Seq, nil
}

// Range returns a copy of events with from <= seq < to, clamped to the
// log's bounds.
func (l *Log) Range(from, to uint64) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := uint64(len(l.entries))
	if to > n {
		to = n
	}
	if from >= to {
		return nil
	}
	out := make([]Event, to-from)
	copy(out, l.entries[from:to])
	return out
}

// Subscription delivers events in sequence order on C, starting from
// the cursor passed to Subscribe. C is closed when the subscription
// ends; Err reports why.
type Subscription struct {
	C <-chan Event

	log   *Log
	subID uint64

	mu   sync.Mutex
	pos  uint64 // next seq the consumer has not yet received
	err  error
	stop chan struct{}
	once sync.Once
}

// Subscribe streams events from seq `from` onward: the backlog first,
// then live appends, with the handoff made under the log lock so the
// boundary neither drops nor duplicates. buf bounds the live buffer;
// the consumer controls its own read rate, and if it falls more than
// buf behind the subscription ends with ErrSlowConsumer.
func (l *Log) Subscribe(from uint64, buf int) *Subscription {
	if buf <= 0 {
		buf = 256
	}

	l.mu.Lock()
	start := from
	if n := uint64(len(l.entries)); start > n {
		start = n
	}
	backlog := make([]Event, uint64(len(l.entries))-start)
	copy(backlog, l.entries[start:])
	live := make(chan Event, buf)
	id := l.nextSub
	l.nextSub++
	l.subs[id] = &subscriber{live: live}
	l.mu.Unlock()

	out := make(chan Event, buf)
	sub := &Subscription{
		C:     out,
		log:   l,
		subID: id,
		pos:   from,
		stop:  make(chan struct{}),
	}

	go sub.pump(from, backlog, live, out)
	return sub
}

func (s *Subscription) pump(from uint64, backlog []Event, live chan Event, out chan<- Event) {
	defer close(out)

	for _, ev := range backlog {
		select {
		case out <- ev:
			s.advance(ev.Seq + 1)
		case <-s.stop:
			return
		}
	}
	for {
		select {
		case ev, ok := <-live:
			if !ok {
				select {
				case <-s.stop: // clean Unsubscribe, not an overflow
				default:
					s.fail(ErrSlowConsumer)
				}
				return
			}
			// A cursor ahead of the head sees an empty backlog but is
			// already wired for live delivery; drop anything before it.
			if ev.Seq < from {
				continue
			}
			select {
			case out <- ev:
				s.advance(ev.Seq + 1)
			case <-s.stop:
				return
			}
		case <-s.stop:
			return
		}
	}
}

// Pos returns the seq of the next event the consumer has not received.
// After ErrSlowConsumer, re-Subscribe from Pos() to resume losslessly.
func (s *Subscription) Pos() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// Err returns nil for a clean shutdown, or ErrSlowConsumer.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Unsubscribe detaches from the log and closes C.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.stop)
		s.log.mu.Lock()
		if sub, ok := s.log.subs[s.subID]; ok {
			close(sub.live)
			delete(s.log.subs, s.subID)
		}
		s.log.mu.Unlock()
	})
}

func (s *Subscription) advance(pos uint64) {
	s.mu.Lock()
	s.pos = pos
	s.mu.Unlock()
}

func (s *Subscription) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}
