package api

import (
	"context"
	"testing"
	"time"
)

// TestHubShutdownUnblocksClients stops the hub with a client still
// attached and checks late register/unregister calls return instead of
// blocking on channels nobody services anymore.
func TestHubShutdownUnblocksClients(t *testing.T) {
	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	ran := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(ran)
	}()

	c := &Client{hub: h, send: make(chan []byte, 1), id: "c1", subscriptions: map[string]bool{"events": true}}
	if !h.add(c) {
		t.Fatal("add before shutdown failed")
	}

	cancel()
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	// The detach a reader performs when its connection dies after
	// shutdown must not hang.
	detached := make(chan struct{})
	go func() {
		h.remove(c)
		close(detached)
	}()
	select {
	case <-detached:
	case <-time.After(2 * time.Second):
		t.Fatal("remove blocked after hub shutdown")
	}

	if h.add(&Client{hub: h, send: make(chan []byte, 1)}) {
		t.Error("add accepted a client after hub shutdown")
	}
}
