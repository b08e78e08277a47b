// Package chaintest provides a scripted in-process Zenon node for tests.
package chaintest

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"bridgewatch/internal/model"
)

// Script drives a session after its subscription is acknowledged.
type Script func(s *Session)

// Node serves the ledger JSON-RPC subset used by the bridge pipeline.
type Node struct {
	URL string

	server   *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	chain    []model.AccountBlock
	scripts  []Script
	sessions int
	calls    []string
}

// Session is one accepted client connection.
type Session struct {
	Index int

	conn *websocket.Conn
	mu   sync.Mutex
	sub  string
}

type request struct {
	ID     uint64            `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// NewNode starts a node. The i-th script runs for the i-th session.
func NewNode(t testing.TB, scripts ...Script) *Node {
	t.Helper()
	n := &Node{scripts: scripts}
	n.server = httptest.NewServer(http.HandlerFunc(n.serve))
	n.URL = "ws" + strings.TrimPrefix(n.server.URL, "http")
	t.Cleanup(n.server.Close)
	return n
}

// Append adds blocks to the bridge account chain served by the history calls.
func (n *Node) Append(blocks ...model.AccountBlock) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.chain = append(n.chain, blocks...)
}

// Sessions returns the number of accepted connections.
func (n *Node) Sessions() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sessions
}

// Calls returns the JSON-RPC methods received so far.
func (n *Node) Calls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.calls))
	copy(out, n.calls)
	return out
}

func (n *Node) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	n.mu.Lock()
	session := &Session{Index: n.sessions, conn: conn}
	var script Script
	if n.sessions < len(n.scripts) {
		script = n.scripts[n.sessions]
	}
	n.sessions++
	n.mu.Unlock()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req request
		if err := json.Unmarshal(frame, &req); err != nil {
			return
		}

		n.mu.Lock()
		n.calls = append(n.calls, req.Method)
		n.mu.Unlock()

		switch req.Method {
		case "ledger.subscribe":
			session.sub = "0x" + strconv.Itoa(session.Index+1)
			if err := session.reply(req.ID, session.sub); err != nil {
				return
			}
			if script != nil {
				go script(session)
			}
		case "ledger.getFrontierAccountBlock":
			if err := session.reply(req.ID, n.frontier()); err != nil {
				return
			}
		case "ledger.getAccountBlocksByHeight":
			var height, count uint64
			if len(req.Params) == 3 {
				_ = json.Unmarshal(req.Params[1], &height)
				_ = json.Unmarshal(req.Params[2], &count)
			}
			list := n.byHeight(height, count)
			if err := session.reply(req.ID, map[string]interface{}{
				"list":  list,
				"count": len(list),
				"more":  false,
			}); err != nil {
				return
			}
		default:
			if err := session.write(map[string]interface{}{
				"jsonrpc": "2.0",
				"id":      req.ID,
				"error":   map[string]interface{}{"code": -32601, "message": "method not found"},
			}); err != nil {
				return
			}
		}
	}
}

func (n *Node) frontier() *model.AccountBlock {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.chain) == 0 {
		return nil
	}
	block := n.chain[len(n.chain)-1]
	return &block
}

func (n *Node) byHeight(height, count uint64) []model.AccountBlock {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]model.AccountBlock, 0)
	for _, block := range n.chain {
		if block.Height >= height && block.Height < height+count {
			out = append(out, block)
		}
	}
	return out
}

// Notify sends a subscription notification carrying blocks.
func (s *Session) Notify(blocks ...model.AccountBlock) error {
	return s.write(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "ledger.subscription",
		"params": map[string]interface{}{
			"subscription": s.sub,
			"result":       blocks,
		},
	})
}

// Ping sends a protocol ping.
func (s *Session) Ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
}

// Drop closes the connection without a close handshake.
func (s *Session) Drop() {
	_ = s.conn.Close()
}

func (s *Session) reply(id uint64, result interface{}) error {
	return s.write(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	})
}

func (s *Session) write(msg interface{}) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}
