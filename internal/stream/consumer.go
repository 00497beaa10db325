package stream

import (
	"context"

	"goa.design/clue/log"

	"github.com/xiaot623/gogo/workspace/internal/domain"
)

// Delivery is one event ready for dispatch.
type Delivery struct {
	RunID string
	LogID int64
	// Index is the position of the envelope within its frame.
	Index int
	// InReplyTo is the log id of the user message an agent envelope
	// answers, or 0.
	InReplyTo int64
	// Seq counts successfully parsed envelopes over the consumer's lifetime.
	Seq   uint64
	Event Event
}

type dedupeKey struct {
	eventType domain.EventType
	logID     int64
	index     int
}

// Consumer turns frames of one run into typed deliveries. It tracks the
// cursor of the run it follows and drops repeats within a connection.
//
// A Consumer is not safe for concurrent use.
type Consumer struct {
	runID      string
	cursor     int64
	seq        uint64
	generation uint64
	seen       map[dedupeKey]struct{}
}

// NewConsumer returns a consumer following runID from cursor 0.
func NewConsumer(runID string) *Consumer {
	return &Consumer{runID: runID, seen: map[dedupeKey]struct{}{}}
}

// RunID returns the run being followed.
func (c *Consumer) RunID() string { return c.runID }

// Cursor returns the last log id seen on the current run.
func (c *Consumer) Cursor() int64 { return c.cursor }

// Seq returns the number of envelopes parsed so far.
func (c *Consumer) Seq() uint64 { return c.seq }

// Generation identifies the current connection.
func (c *Consumer) Generation() uint64 { return c.generation }

// Switch moves the consumer to another run. The cursor and de-duplication
// set start over and frames from earlier connections are dropped.
func (c *Consumer) Switch(runID string) uint64 {
	c.runID = runID
	return c.Reconnect()
}

// Reconnect starts a new connection on the same run. The server replays
// from cursor 0, so the de-duplication set starts over too.
func (c *Consumer) Reconnect() uint64 {
	c.cursor = 0
	c.seen = map[dedupeKey]struct{}{}
	c.generation++
	return c.generation
}

// Handle parses one frame received on connection generation. Frames from a
// superseded connection, keep-alives and unparseable pieces yield nothing.
// Malformed pieces are logged and skipped.
func (c *Consumer) Handle(ctx context.Context, generation uint64, f Frame) []Delivery {
	if generation != c.generation || f.KeepAlive {
		return nil
	}
	if f.Event != "" && f.Event != EventMessage {
		return nil
	}
	if f.HasID && f.ID > c.cursor {
		c.cursor = f.ID
	}

	envs, errs := ParsePayload(f.Data)
	for _, err := range errs {
		log.Warn(ctx, log.KV{K: "msg", V: "dropping malformed envelope"},
			log.KV{K: "run_id", V: c.runID}, log.KV{K: "log_id", V: f.ID}, log.KV{K: "err", V: err.Error()})
	}

	var out []Delivery
	for i, env := range envs {
		if f.HasID {
			key := dedupeKey{eventType: env.EventType, logID: f.ID, index: i}
			if _, dup := c.seen[key]; dup {
				continue
			}
			c.seen[key] = struct{}{}
		}

		ev, err := Decode(env)
		if err != nil {
			log.Warn(ctx, log.KV{K: "msg", V: "dropping undecodable envelope"},
				log.KV{K: "run_id", V: c.runID}, log.KV{K: "log_id", V: f.ID}, log.KV{K: "err", V: err.Error()})
			continue
		}
		c.seq++
		if u, ok := ev.(Unknown); ok {
			log.Debug(ctx, log.KV{K: "msg", V: "ignoring unknown event"},
				log.KV{K: "event_type", V: string(u.EventType)}, log.KV{K: "log_id", V: f.ID})
		}
		out = append(out, Delivery{
			RunID:     c.runID,
			LogID:     f.ID,
			Index:     i,
			InReplyTo: env.InReplyTo(),
			Seq:       c.seq,
			Event:     ev,
		})
	}
	return out
}
