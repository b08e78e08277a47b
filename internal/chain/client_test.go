package chain_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"bridgewatch/internal/chain"
	"bridgewatch/internal/chain/chaintest"
	"bridgewatch/internal/codec"
	"bridgewatch/internal/model"
)

const bridge = "z1qxemdeddedxdrydgexxxxxxxxxxxxxxxmqgr0d"

func dial(t *testing.T, node *chaintest.Node, idle time.Duration) *chain.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := chain.Dial(ctx, chain.Config{URL: node.URL, IdleTimeout: idle}, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestClientSubscribeAndNotify(t *testing.T) {
	node := chaintest.NewNode(t, func(s *chaintest.Session) {
		_ = s.Notify(model.AccountBlock{Hash: "aa", Height: 7, Address: bridge})
	})
	client := dial(t, node, 2*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := client.Subscribe(ctx, bridge)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	frame, err := client.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	gotSub, blocks, err := codec.ParseNotification(frame)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if gotSub != sub || len(blocks) != 1 || blocks[0].Height != 7 {
		t.Fatalf("unexpected notification: %s %+v", gotSub, blocks)
	}
}

func TestClientHistoryCalls(t *testing.T) {
	node := chaintest.NewNode(t)
	client := dial(t, node, 2*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	height, err := client.FrontierHeight(ctx, bridge)
	if err != nil {
		t.Fatalf("frontier: %v", err)
	}
	if height != 0 {
		t.Fatalf("expected empty chain, got %d", height)
	}

	for h := uint64(1); h <= 5; h++ {
		node.Append(model.AccountBlock{Hash: "h", Height: h, Address: bridge})
	}
	height, err = client.FrontierHeight(ctx, bridge)
	if err != nil || height != 5 {
		t.Fatalf("frontier mismatch: %d %v", height, err)
	}
	blocks, err := client.AccountBlocksByHeight(ctx, bridge, 2, 3)
	if err != nil {
		t.Fatalf("blocks by height: %v", err)
	}
	if len(blocks) != 3 || blocks[0].Height != 2 || blocks[2].Height != 4 {
		t.Fatalf("unexpected page: %+v", blocks)
	}
}

func TestClientQueuesNotificationsDuringCall(t *testing.T) {
	ready := make(chan *chaintest.Session, 1)
	node := chaintest.NewNode(t, func(s *chaintest.Session) {
		_ = s.Notify(model.AccountBlock{Hash: "queued", Height: 1, Address: bridge})
		ready <- s
	})
	client := dial(t, node, 2*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Subscribe(ctx, bridge); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	<-ready
	if _, err := client.FrontierHeight(ctx, bridge); err != nil {
		t.Fatalf("frontier: %v", err)
	}
	frame, err := client.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	_, blocks, err := codec.ParseNotification(frame)
	if err != nil || len(blocks) != 1 || blocks[0].Hash != "queued" {
		t.Fatalf("expected queued notification, got %+v %v", blocks, err)
	}
}

func TestClientIdleTimeout(t *testing.T) {
	node := chaintest.NewNode(t)
	client := dial(t, node, 150*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Subscribe(ctx, bridge); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	_, err := client.Next(ctx)
	if !chain.IsTransport(err) || !errors.Is(err, chain.ErrIdleTimeout) {
		t.Fatalf("expected idle transport error, got %v", err)
	}
}

func TestClientPingKeepsSessionAlive(t *testing.T) {
	node := chaintest.NewNode(t, func(s *chaintest.Session) {
		for i := 0; i < 4; i++ {
			time.Sleep(100 * time.Millisecond)
			_ = s.Ping()
		}
		_ = s.Notify(model.AccountBlock{Hash: "late", Height: 2, Address: bridge})
	})
	client := dial(t, node, 250*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Subscribe(ctx, bridge); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := client.Next(ctx); err != nil {
		t.Fatalf("expected notification after pings, got %v", err)
	}
}

func TestClientDropIsTransportError(t *testing.T) {
	node := chaintest.NewNode(t, func(s *chaintest.Session) {
		s.Drop()
	})
	client := dial(t, node, 2*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Subscribe(ctx, bridge); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := client.Next(ctx); !chain.IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestDialFailureIsTransportError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := chain.Dial(ctx, chain.Config{URL: "ws://127.0.0.1:1"}, nil)
	if !chain.IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
}
