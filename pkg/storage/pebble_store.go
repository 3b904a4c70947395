package storage

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/sangwoo-bae/etherdex/pkg/events"
)

// PebbleStore persists the event log in Pebble. Events are stored as
// JSON under zero-padded sequence keys so an iterator scan returns
// them in append order.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// keys: ev:<20-digit-seq>
const prefixEvent = "ev:"

func eventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixEvent, seq))
}

func eventPrefix() []byte {
	return []byte(prefixEvent)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

// Append durably writes one event. Sync so the log survives a crash:
// the ledger considers an operation committed once its event persists.
func (s *PebbleStore) Append(ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %d: %w", ev.Seq, err)
	}
	if err := s.db.Set(eventKey(ev.Seq), data, pebble.Sync); err != nil {
		return fmt.Errorf("write event %d: %w", ev.Seq, err)
	}
	return nil
}

// Load returns every stored event in sequence order.
func (s *PebbleStore) Load() ([]events.Event, error) {
	prefix := eventPrefix()
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []events.Event
	for iter.First(); iter.Valid(); iter.Next() {
		var ev events.Event
		if err := json.Unmarshal(iter.Value(), &ev); err != nil {
			return nil, fmt.Errorf("decode event at %q: %w", iter.Key(), err)
		}
		out = append(out, ev)
	}
	return out, iter.Error()
}

var _ events.Store = (*PebbleStore)(nil)
