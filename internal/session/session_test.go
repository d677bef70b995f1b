package session

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/confirmationui/internal/channel"
	"github.com/danmuck/confirmationui/internal/client"
	"github.com/danmuck/confirmationui/internal/keys"
	"github.com/danmuck/confirmationui/internal/protocol/packet"
	"github.com/danmuck/confirmationui/internal/transport"
	"github.com/danmuck/confirmationui/internal/testutil/testlog"
)

const testMTU = 64

type recordingHandler struct {
	mu       sync.Mutex
	key      *keys.Key
	requests [][]byte
	aborts   int
	err      error
}

func (h *recordingHandler) SetAuthTokenKey(k *keys.Key) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.key = k
}

// Handle answers with the request reversed.
func (h *recordingHandler) Handle(req []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.requests = append(h.requests, append([]byte(nil), req...))
	if h.err != nil {
		return nil, h.err
	}
	out := make([]byte, len(req))
	for i, b := range req {
		out[len(req)-1-i] = b
	}
	return out, nil
}

func (h *recordingHandler) Abort() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.aborts++
}

func (h *recordingHandler) abortCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.aborts
}

type result struct {
	outcome Outcome
	err     error
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MTU = testMTU
	cfg.Capacity = 512
	return cfg
}

func startSession(t *testing.T, h Handler, kp keys.Provider) (*channel.PipeEnd, *Session, <-chan result) {
	t.Helper()
	peer, local := channel.Pipe(testMTU)
	sess, err := New(local, h, testConfig())
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	done := make(chan result, 1)
	go func() {
		outcome, err := sess.Run(context.Background(), kp)
		done <- result{outcome, err}
	}()
	return peer, sess, done
}

func waitResult(t *testing.T, done <-chan result) result {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(5 * time.Second):
		t.Fatalf("session did not exit")
		return result{}
	}
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + 3)
	}
	return b
}

func TestSessionServesRequestsUntilHangup(t *testing.T) {
	testlog.Start(t)

	h := &recordingHandler{}
	peer, sess, done := startSession(t, h, keys.TestKeyProvider{})
	c, err := client.New(peer, testMTU)
	if err != nil {
		t.Fatalf("client: %v", err)
	}

	ctx := context.Background()
	for _, n := range []int{200, 1, 0, 130} {
		req := pattern(n)
		resp, err := c.Call(ctx, req)
		if err != nil {
			t.Fatalf("call %d: %v", n, err)
		}
		if len(resp) != n {
			t.Fatalf("response len %d, want %d", len(resp), n)
		}
		for i := range req {
			if resp[len(resp)-1-i] != req[i] {
				t.Fatalf("response byte %d mismatch", i)
			}
		}
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	r := waitResult(t, done)
	if r.outcome != OutcomeHangup || r.err != nil {
		t.Fatalf("outcome %s err %v", r.outcome, r.err)
	}
	if h.abortCount() != 1 {
		t.Fatalf("abort called %d times", h.abortCount())
	}
	if h.key == nil || !h.key.Scrubbed() {
		t.Fatalf("session key not scrubbed")
	}
	if len(h.requests) != 4 || !bytes.Equal(h.requests[0], pattern(200)) {
		t.Fatalf("handler saw %d requests", len(h.requests))
	}
	if sess.Transport().State() != transport.StateDesync {
		t.Fatalf("transport usable after teardown")
	}
}

func TestReceiveWhileReceivingDesyncsAndAbortsOnce(t *testing.T) {
	testlog.Start(t)

	h := &recordingHandler{}
	peer, _, done := startSession(t, h, keys.TestKeyProvider{})
	if err := peer.Send(packet.Header{Type: packet.TypeReceive}, nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	r := waitResult(t, done)
	if r.outcome != OutcomeDesync || !errors.Is(r.err, transport.ErrDesync) {
		t.Fatalf("outcome %s err %v", r.outcome, r.err)
	}
	if h.abortCount() != 1 {
		t.Fatalf("abort called %d times", h.abortCount())
	}
	ev, err := peer.Wait(context.Background())
	if err != nil || !ev.Has(channel.EventHangup) {
		t.Fatalf("channel not closed after desync: %v %v", ev, err)
	}
	if len(h.requests) != 0 {
		t.Fatalf("handler invoked after desync")
	}
}

func TestAckFromPeerDesyncs(t *testing.T) {
	h := &recordingHandler{}
	peer, _, done := startSession(t, h, keys.TestKeyProvider{})
	_ = peer.Send(packet.Header{Type: packet.TypeAck}, nil)
	if r := waitResult(t, done); r.outcome != OutcomeDesync {
		t.Fatalf("outcome %s", r.outcome)
	}
}

func TestKeyFailureClosesBeforeAnyRequest(t *testing.T) {
	testlog.Start(t)

	h := &recordingHandler{}
	boom := errors.New("keymaster unavailable")
	peer, _, done := startSession(t, h, keys.FailingProvider{Err: boom})
	r := waitResult(t, done)
	if r.outcome != OutcomeKey || !errors.Is(r.err, ErrKeyUnavailable) || !errors.Is(r.err, keys.ErrUnavailable) {
		t.Fatalf("outcome %s err %v", r.outcome, r.err)
	}
	if h.abortCount() != 1 || h.key != nil {
		t.Fatalf("aborts %d key %v", h.abortCount(), h.key)
	}
	ev, err := peer.Wait(context.Background())
	if err != nil || !ev.Has(channel.EventHangup) {
		t.Fatalf("channel not closed after key failure")
	}
}

func TestHandlerFailureEndsSession(t *testing.T) {
	h := &recordingHandler{err: errors.New("broken")}
	peer, _, done := startSession(t, h, keys.TestKeyProvider{})
	c, _ := client.New(peer, testMTU)
	if _, err := c.Call(context.Background(), pattern(10)); err == nil {
		t.Fatalf("expected call to fail when the session drops")
	}
	r := waitResult(t, done)
	if r.outcome != OutcomeHandler || !errors.Is(r.err, ErrHandler) || h.abortCount() != 1 {
		t.Fatalf("outcome %s err %v aborts %d", r.outcome, r.err, h.abortCount())
	}
}

func TestIdleTimeoutAndCancel(t *testing.T) {
	h := &recordingHandler{}
	_, local := channel.Pipe(testMTU)
	cfg := testConfig()
	cfg.IdleTimeout = 20 * time.Millisecond
	sess, err := New(local, h, cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	outcome, err := sess.Run(context.Background(), keys.TestKeyProvider{})
	if outcome != OutcomeIdleTimeout || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("outcome %s err %v", outcome, err)
	}

	_, local = channel.Pipe(testMTU)
	sess, _ = New(local, h, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if outcome, _ := sess.Run(ctx, keys.TestKeyProvider{}); outcome != OutcomeCanceled && outcome != OutcomeKey {
		t.Fatalf("canceled session outcome %s", outcome)
	}
	if h.abortCount() != 2 {
		t.Fatalf("aborts %d", h.abortCount())
	}
}

func TestTeardownIsIdempotent(t *testing.T) {
	h := &recordingHandler{}
	_, local := channel.Pipe(testMTU)
	sess, _ := New(local, h, testConfig())
	sess.teardown()
	sess.teardown()
	if h.abortCount() != 1 {
		t.Fatalf("aborts %d", h.abortCount())
	}
}

func TestInvalidConfig(t *testing.T) {
	_, local := channel.Pipe(testMTU)
	cfg := testConfig()
	cfg.MTU = 4
	if _, err := New(local, &recordingHandler{}, cfg); !errors.Is(err, transport.ErrInvalidConfig) && !errors.Is(err, packet.ErrInvalidMTU) {
		t.Fatalf("expected config error, got %v", err)
	}
}
