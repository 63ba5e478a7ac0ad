package gate

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"
)

// fakePusher records pushes and fails for handles listed in failing.
type fakePusher struct {
	mu      sync.Mutex
	pushes  map[string][][]byte
	failing map[string]error
}

func newFakePusher() *fakePusher {
	return &fakePusher{
		pushes:  make(map[string][][]byte),
		failing: make(map[string]error),
	}
}

func (p *fakePusher) Push(_ context.Context, handle string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.failing[handle]; ok {
		return err
	}
	p.pushes[handle] = append(p.pushes[handle], payload)
	return nil
}

func (p *fakePusher) delivered(handle string) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pushes[handle]
}

func TestSendOneSerializesEvent(t *testing.T) {
	pusher := newFakePusher()
	g := New(zaptest.NewLogger(t), pusher)

	event := map[string]string{"event": "registered"}
	if err := g.SendOne(context.Background(), "h1", event); err != nil {
		t.Fatalf("send one: %v", err)
	}

	got := pusher.delivered("h1")
	if len(got) != 1 {
		t.Fatalf("expected one push, got %d", len(got))
	}
	var decoded map[string]string
	if err := json.Unmarshal(got[0], &decoded); err != nil {
		t.Fatalf("decode push: %v", err)
	}
	if decoded["event"] != "registered" {
		t.Fatalf("unexpected payload: %v", decoded)
	}
}

func TestSendOneReturnsPushError(t *testing.T) {
	pusher := newFakePusher()
	stale := errors.New("stale handle")
	pusher.failing["gone"] = stale

	g := New(zaptest.NewLogger(t), pusher)
	if err := g.SendOne(context.Background(), "gone", map[string]string{"event": "x"}); !errors.Is(err, stale) {
		t.Fatalf("expected push error surfaced in outcome, got %v", err)
	}
}

func TestSendManyIsolatesFailures(t *testing.T) {
	pusher := newFakePusher()
	pusher.failing["dead"] = errors.New("connection gone")

	g := New(zaptest.NewLogger(t), pusher)
	outcomes := g.SendMany(context.Background(), []string{"dead", "alive"}, map[string]string{"event": "newPrivateMessage"})

	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	if outcomes[0].Handle != "dead" || outcomes[0].Err == nil {
		t.Fatalf("expected failure outcome for dead handle, got %+v", outcomes[0])
	}
	if outcomes[1].Handle != "alive" || outcomes[1].Err != nil {
		t.Fatalf("expected success outcome for alive handle, got %+v", outcomes[1])
	}
	if len(pusher.delivered("alive")) != 1 {
		t.Fatal("alive handle should still receive its delivery")
	}
}

func TestSendManySameBytesToAll(t *testing.T) {
	pusher := newFakePusher()
	g := New(zaptest.NewLogger(t), pusher)

	g.SendMany(context.Background(), []string{"h1", "h2"}, map[string]string{"event": "newPrivateMessage", "text": "hi"})

	a := pusher.delivered("h1")
	b := pusher.delivered("h2")
	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("expected one delivery per handle, got %d and %d", len(a), len(b))
	}
	if string(a[0]) != string(b[0]) {
		t.Fatalf("handles received different payloads: %s vs %s", a[0], b[0])
	}
}
