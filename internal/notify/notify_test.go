package notify

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/narratorlabs/narrator-core/internal/protocol"
)

type capturePublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
}

func (c *capturePublisher) Publish(subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return nil
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPostPublishesAndRetains(t *testing.T) {
	pub := &capturePublisher{}
	n := New(pub, newLogger())
	t.Cleanup(n.Close)

	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	n.clock = func() time.Time { return at }

	n.Post("warn", "history full, oldest entry evicted")

	if len(pub.subjects) != 1 || pub.subjects[0] != protocol.SubjectNotify {
		t.Fatalf("expected one publish on %s, got %v", protocol.SubjectNotify, pub.subjects)
	}
	var notice protocol.Notice
	if err := json.Unmarshal(pub.payloads[0], &notice); err != nil {
		t.Fatalf("decode notice: %v", err)
	}
	if notice.Level != "warn" || notice.Message != "history full, oldest entry evicted" {
		t.Fatalf("unexpected notice: %+v", notice)
	}
	if !notice.ExpiresAt.Equal(at.Add(TTL)) {
		t.Fatalf("expected expiry %v, got %v", at.Add(TTL), notice.ExpiresAt)
	}

	cur := n.Current()
	if cur == nil || cur.Message != notice.Message {
		t.Fatalf("expected current notice retained, got %+v", cur)
	}
}

func TestPostReplacesCurrent(t *testing.T) {
	n := New(&capturePublisher{}, newLogger())
	t.Cleanup(n.Close)

	n.Post("info", "first")
	n.Post("error", "second")

	cur := n.Current()
	if cur == nil || cur.Message != "second" || cur.Level != "error" {
		t.Fatalf("expected second notice current, got %+v", cur)
	}
}

func TestNoticeExpires(t *testing.T) {
	n := New(&capturePublisher{}, newLogger())
	t.Cleanup(n.Close)
	n.ttl = 10 * time.Millisecond

	n.Post("info", "short lived")

	deadline := time.Now().Add(2 * time.Second)
	for n.Current() != nil {
		if time.Now().After(deadline) {
			t.Fatal("notice did not expire")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNilPublisher(t *testing.T) {
	n := New(nil, newLogger())
	t.Cleanup(n.Close)

	n.Post("info", "offline")
	if cur := n.Current(); cur == nil || cur.Message != "offline" {
		t.Fatalf("expected notice retained without publisher, got %+v", cur)
	}
}
