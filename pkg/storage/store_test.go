package storage

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sangwoo-bae/etherdex/pkg/events"
)

var (
	testAsset = common.HexToAddress("0xDa99000000000000000000000000000000000000")
	testUser  = common.HexToAddress("0xAA00000000000000000000000000000000000000")
)

func sampleEvents(n int) []events.Event {
	out := make([]events.Event, n)
	for i := 0; i < n; i++ {
		out[i] = events.Event{
			Seq:  uint64(i),
			Kind: events.KindDeposit,
			Deposit: &events.Deposit{
				Asset:   testAsset,
				User:    testUser,
				Amount:  big.NewInt(int64(i + 1)),
				Balance: big.NewInt(int64(i + 1)),
			},
		}
	}
	return out
}

// storeContract runs the shared Store behavior against an implementation.
func storeContract(t *testing.T, open func(t *testing.T) events.Store) {
	t.Helper()

	t.Run("empty load", func(t *testing.T) {
		s := open(t)
		got, err := s.Load()
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("fresh store holds %d events", len(got))
		}
	})

	t.Run("append then load in order", func(t *testing.T) {
		s := open(t)
		want := sampleEvents(25)
		for _, ev := range want {
			if err := s.Append(ev); err != nil {
				t.Fatalf("append %d: %v", ev.Seq, err)
			}
		}

		got, err := s.Load()
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if len(got) != len(want) {
			t.Fatalf("loaded %d events, want %d", len(got), len(want))
		}
		for i, ev := range got {
			if ev.Seq != want[i].Seq || ev.Kind != want[i].Kind {
				t.Errorf("event %d = seq %d kind %s", i, ev.Seq, ev.Kind)
			}
			if ev.Deposit == nil || ev.Deposit.Amount.Cmp(want[i].Deposit.Amount) != 0 {
				t.Errorf("event %d payload mismatch: %+v", i, ev.Deposit)
			}
		}
	})
}

func TestInMemoryStore(t *testing.T) {
	storeContract(t, func(t *testing.T) events.Store {
		return NewInMemoryStore()
	})
}

func TestPebbleStore(t *testing.T) {
	storeContract(t, func(t *testing.T) events.Store {
		s, err := NewPebbleStore(t.TempDir())
		if err != nil {
			t.Fatalf("open pebble: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

// TestPebbleStoreReopen checks the events survive a close/reopen cycle
// with addresses and amounts intact.
func TestPebbleStoreReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := NewPebbleStore(dir)
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	want := sampleEvents(10)
	for _, ev := range want {
		if err := s.Append(ev); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := NewPebbleStore(dir)
	if err != nil {
		t.Fatalf("reopen pebble: %v", err)
	}
	defer s2.Close()

	got, err := s2.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("loaded %d events after reopen, want %d", len(got), len(want))
	}
	for i, ev := range got {
		if ev.Deposit.User != testUser || ev.Deposit.Balance.Cmp(want[i].Deposit.Balance) != 0 {
			t.Errorf("event %d = %+v", i, ev.Deposit)
		}
	}
}
