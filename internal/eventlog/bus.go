package eventlog

import (
	"context"
	"crypto/rand"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/oklog/ulid/v2"
)

// Bus fans out newly appended frames to live tailers, keyed by stream path.
// It is strictly best-effort: a tailer that isn't subscribed when a frame is
// appended only ever sees it by re-reading the durable log via Read, never
// through the bus. The bus exists purely to avoid poll loops for the common
// case of a client attached while a worker is actively producing output.
type Bus struct {
	pubsub *gochannel.GoChannel

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewBus constructs a Bus backed by watermill's in-memory gochannel pubsub.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer:            256,
				Persistent:                     false,
				BlockPublishUntilSubscriberAck: false,
			},
			watermill.NopLogger{},
		),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Publish announces that frame was appended to the stream at path. Delivery
// to subscribers is asynchronous and best-effort; Publish never blocks on a
// slow subscriber beyond the bus's internal channel buffer.
func (b *Bus) Publish(path string, frame []byte) error {
	b.mu.Lock()
	id := ulid.MustNew(ulid.Now(), b.entropy)
	b.mu.Unlock()

	msg := message.NewMessage(id.String(), frame)
	return b.pubsub.Publish(path, msg)
}

// Subscribe returns a channel of newly appended frames for the stream at
// path. The returned cancel func must be called to release resources once
// the caller is done tailing.
func (b *Bus) Subscribe(ctx context.Context, path string) (<-chan []byte, func(), error) {
	msgs, err := b.pubsub.Subscribe(ctx, path)
	if err != nil {
		return nil, func() {}, err
	}

	out := make(chan []byte, 256)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-done:
					msg.Ack()
					return
				}
				msg.Ack()
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() { once.Do(func() { close(done) }) }
	return out, cancel, nil
}

// Close shuts down the bus, unblocking every subscriber's channel.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
