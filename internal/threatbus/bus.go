package threatbus

import (
	"container/list"
	"context"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/aegis-network/edge-core/internal/metrics"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPublishQueueDepth = 1000
	messageIDLRUCapacity     = 50_000
)

// Handler processes an incoming, already-verified SignedRecord.
type Handler func(*SignedRecord)

// CounterHandler processes an incoming, already-verified SignedCounterOp.
type CounterHandler func(*SignedCounterOp)

// publishJob is queued by Publish and drained by worker goroutines,
// grounded on internal/webhooks/dispatcher.go's bounded-channel +
// worker-pool delivery shape.
type publishJob struct {
	topic string
	data  []byte
}

// Bus is the peer threat-intel gossip bus: local in-process fanout plus
// a Redis Pub/Sub transport for cross-node delivery, the same local/
// cross-pod split as internal/fabric/event_bus.go + redis_event_bus.go.
type Bus struct {
	client *redis.Client
	prefix string

	mu                   sync.RWMutex
	localHandlers        map[string][]Handler
	localCounterHandlers map[string][]CounterHandler
	trustedIssuers       map[string]struct{} // hex pubkey -> present

	seenMu  sync.Mutex
	seen    *list.List
	seenIdx map[string]*list.Element

	queue   chan publishJob
	rateCap int
	stopCh  chan struct{}
}

// New builds a Bus. trustedIssuerKeys are hex-encoded Ed25519 public keys
// whose records are accepted; an empty list means every signature that
// verifies is accepted (no issuer allow-list configured).
func New(client *redis.Client, channelPrefix string, trustedIssuerKeys []string, publishQueueDepth, ratePerSec int) *Bus {
	if channelPrefix == "" {
		channelPrefix = "aegis:threatbus:"
	}
	if publishQueueDepth <= 0 {
		publishQueueDepth = defaultPublishQueueDepth
	}
	trusted := make(map[string]struct{}, len(trustedIssuerKeys))
	for _, k := range trustedIssuerKeys {
		trusted[k] = struct{}{}
	}
	b := &Bus{
		client:               client,
		prefix:               channelPrefix,
		localHandlers:        make(map[string][]Handler),
		localCounterHandlers: make(map[string][]CounterHandler),
		trustedIssuers:       trusted,
		seen:           list.New(),
		seenIdx:        make(map[string]*list.Element),
		queue:          make(chan publishJob, publishQueueDepth),
		rateCap:        ratePerSec,
		stopCh:         make(chan struct{}),
	}
	go b.publishWorker()
	return b
}

// Subscribe registers a handler for topic, called for every verified,
// non-replayed record received (locally published or relayed via Redis).
func (b *Bus) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.localHandlers[topic] = append(b.localHandlers[topic], h)
}

// SubscribeCounterOps registers a handler for CRDT partials received on
// topic (normally TopicCounterOps).
func (b *Bus) SubscribeCounterOps(topic string, h CounterHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.localCounterHandlers[topic] = append(b.localCounterHandlers[topic], h)
}

// Listen starts the Redis Pub/Sub receive loop for topic until ctx is
// cancelled. Messages on TopicCounterOps are dispatched as
// SignedCounterOp; every other topic is dispatched as SignedRecord.
func (b *Bus) Listen(ctx context.Context, topic string) error {
	sub := b.client.Subscribe(ctx, b.prefix+topic)
	ch := sub.Channel()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if topic == TopicCounterOps {
					b.handleIncomingCounterOp(topic, []byte(msg.Payload))
				} else {
					b.handleIncoming(topic, []byte(msg.Payload))
				}
			}
		}
	}()
	return nil
}

// PublishCounterOp enqueues a signed CRDT partial for async delivery to
// topic (normally TopicCounterOps), subject to the same bounded-queue
// drop-not-block behavior as Publish.
func (b *Bus) PublishCounterOp(topic string, sop *SignedCounterOp) error {
	data, err := json.Marshal(sop)
	if err != nil {
		return err
	}
	select {
	case b.queue <- publishJob{topic: topic, data: data}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Publish enqueues a signed record for async delivery to topic. Publish
// never blocks on Redis: if the queue is full the record is dropped and
// ErrQueueFull is returned, mirroring dispatcher.go's "queue full, drop
// event" behavior rather than applying backpressure to the caller.
func (b *Bus) Publish(topic string, sr *SignedRecord) error {
	data, err := json.Marshal(sr)
	if err != nil {
		return err
	}
	select {
	case b.queue <- publishJob{topic: topic, data: data}:
		metrics.Get().ThreatRecordsPub.Inc()
		return nil
	default:
		return ErrQueueFull
	}
}

func (b *Bus) publishWorker() {
	for {
		select {
		case <-b.stopCh:
			return
		case job := <-b.queue:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := b.client.Publish(ctx, b.prefix+job.topic, job.data).Err(); err != nil {
				slog.Warn("threatbus: publish failed", "topic", job.topic, "error", err)
			}
			cancel()
		}
	}
}

// Stop halts the background publish worker.
func (b *Bus) Stop() {
	close(b.stopCh)
}

// SetTrustedIssuers replaces the issuer allow-list wholesale, called by
// internal/registry's poll loop whenever the on-chain registry's
// trusted_public_keys set changes. An empty list disables the allow-list
// (every signature that verifies is accepted).
func (b *Bus) SetTrustedIssuers(keys []string) {
	trusted := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		trusted[k] = struct{}{}
	}
	b.mu.Lock()
	b.trustedIssuers = trusted
	b.mu.Unlock()
}

func (b *Bus) issuerTrusted(key string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.trustedIssuers) == 0 {
		return true
	}
	_, ok := b.trustedIssuers[key]
	return ok
}

// handleIncoming verifies and deduplicates a received payload before
// fanning it out to local handlers.
func (b *Bus) handleIncoming(topic string, payload []byte) {
	var sr SignedRecord
	if err := json.Unmarshal(payload, &sr); err != nil {
		slog.Warn("threatbus: malformed payload", "topic", topic, "error", err)
		return
	}

	if b.isReplay(sr.Record.ID) {
		metrics.Get().ThreatRecordsDrop.WithLabelValues("replay").Inc()
		return
	}

	pubKey, err := hex.DecodeString(sr.Record.IssuerKey)
	if err != nil {
		slog.Warn("threatbus: bad issuer key encoding", "issuer", sr.Record.IssuerKey)
		metrics.Get().ThreatRecordsDrop.WithLabelValues("bad_issuer_key").Inc()
		return
	}
	if !b.issuerTrusted(sr.Record.IssuerKey) {
		slog.Warn("threatbus: untrusted issuer", "issuer", sr.Record.IssuerKey)
		metrics.Get().ThreatRecordsDrop.WithLabelValues("untrusted_issuer").Inc()
		return
	}
	if err := Verify(&sr, pubKey, time.Now()); err != nil {
		slog.Warn("threatbus: record verification failed", "error", err)
		metrics.Get().ThreatRecordsDrop.WithLabelValues(verifyFailureReason(err)).Inc()
		return
	}

	metrics.Get().ThreatRecordsSeen.Inc()
	b.mu.RLock()
	handlers := append([]Handler(nil), b.localHandlers[topic]...)
	b.mu.RUnlock()
	for _, h := range handlers {
		go h(&sr)
	}
}

func verifyFailureReason(err error) string {
	switch err {
	case ErrBadSignature:
		return "bad_signature"
	case ErrStaleRecord:
		return "stale"
	case ErrMalformedRecord:
		return "malformed"
	case ErrFieldOutOfRange:
		return "field_out_of_range"
	default:
		return "unknown"
	}
}

// handleIncomingCounterOp verifies a received CRDT partial before fanning
// it out to local counter handlers. Unlike ThreatRecord delivery, no
// message-id replay guard is applied here: G-Counter/PN-Counter merge is
// idempotent by construction (I11), so redelivery of the same op is
// harmless.
func (b *Bus) handleIncomingCounterOp(topic string, payload []byte) {
	var sop SignedCounterOp
	if err := json.Unmarshal(payload, &sop); err != nil {
		slog.Warn("threatbus: malformed counter op", "topic", topic, "error", err)
		return
	}

	pubKey, err := hex.DecodeString(sop.Op.IssuerKey)
	if err != nil {
		slog.Warn("threatbus: bad counter-op issuer key encoding", "issuer", sop.Op.IssuerKey)
		return
	}
	if !b.issuerTrusted(sop.Op.IssuerKey) {
		slog.Warn("threatbus: untrusted counter-op issuer", "issuer", sop.Op.IssuerKey)
		return
	}
	if !VerifyCounterOp(&sop, pubKey) {
		slog.Warn("threatbus: counter op signature verification failed", "actor", sop.Op.Actor)
		return
	}

	b.mu.RLock()
	handlers := append([]CounterHandler(nil), b.localCounterHandlers[topic]...)
	b.mu.RUnlock()
	for _, h := range handlers {
		go h(&sop)
	}
}

// isReplay reports whether id has been seen before, recording it if not.
func (b *Bus) isReplay(id string) bool {
	b.seenMu.Lock()
	defer b.seenMu.Unlock()
	if _, ok := b.seenIdx[id]; ok {
		return true
	}
	el := b.seen.PushFront(id)
	b.seenIdx[id] = el
	if b.seen.Len() > messageIDLRUCapacity {
		oldest := b.seen.Back()
		if oldest != nil {
			b.seen.Remove(oldest)
			delete(b.seenIdx, oldest.Value.(string))
		}
	}
	return false
}
