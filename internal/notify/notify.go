// Package notify publishes transient user-facing notices on the bus.
package notify

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/narratorlabs/narrator-core/internal/protocol"
)

// TTL is how long a notice stays current before it clears itself.
const TTL = 5 * time.Second

type publisher interface {
	Publish(subject string, data []byte) error
}

// Notifier keeps at most one live notice. Posting replaces the previous one
// and restarts the expiry timer.
type Notifier struct {
	pub publisher
	log *slog.Logger

	mu      sync.Mutex
	current *protocol.Notice
	timer   *time.Timer
	gen     uint64

	ttl   time.Duration
	clock func() time.Time
}

func New(pub publisher, log *slog.Logger) *Notifier {
	return &Notifier{
		pub:   pub,
		log:   log.With(slog.String("component", "notify")),
		ttl:   TTL,
		clock: time.Now,
	}
}

// Post publishes a notice and retains it until the TTL elapses.
func (n *Notifier) Post(level, message string) {
	notice := protocol.Notice{
		Level:     level,
		Message:   message,
		ExpiresAt: n.clock().UTC().Add(n.ttl),
	}

	n.mu.Lock()
	n.current = &notice
	if n.timer != nil {
		n.timer.Stop()
	}
	n.gen++
	gen := n.gen
	// A stopped timer may already have fired; the generation check keeps a
	// stale expiry from clearing a newer notice.
	n.timer = time.AfterFunc(n.ttl, func() { n.expire(gen) })
	n.mu.Unlock()

	data, err := json.Marshal(notice)
	if err != nil {
		n.log.Warn("failed to marshal notice", slogError(err))
		return
	}
	if n.pub == nil {
		return
	}
	if err := n.pub.Publish(protocol.SubjectNotify, data); err != nil {
		n.log.Warn("failed to publish notice", slogError(err))
	}
}

// Current returns the live notice, or nil once it has expired.
func (n *Notifier) Current() *protocol.Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// Close stops the expiry timer.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.current = nil
}

func (n *Notifier) expire(gen uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.gen != gen {
		return
	}
	n.current = nil
	n.timer = nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
