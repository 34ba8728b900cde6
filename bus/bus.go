package bus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// Delivery and registration errors.
var (
	ErrNotRunning        = errors.New("message bus not running")
	ErrHandlerExists     = errors.New("handler already registered")
	ErrHandlerNotFound   = errors.New("handler not found")
	ErrRecipientNotFound = errors.New("recipient not registered")
	ErrQueueFull         = errors.New("handler queue full")
)

// Handler is the callback an agent registers to receive its addressed
// messages. A non-nil reply is routed by the bus after the handler
// returns. Errors are logged; they do not stop the delivery loop.
type Handler func(ctx context.Context, msg *Message) (*Message, error)

// HandlerStats is a snapshot of one registered handler.
type HandlerStats struct {
	Active       bool
	Messages     int64
	LastActivity time.Time
	QueueDepth   int
}

// Stats is a snapshot of the bus as a whole.
type Stats struct {
	Running     bool
	Handlers    int
	HistorySize int
}

type handlerEntry struct {
	id    string
	fn    Handler
	queue chan *Message
	done  chan struct{}

	mu           sync.Mutex
	active       bool
	messages     int64
	lastActivity time.Time
}

func (h *handlerEntry) touch() {
	h.mu.Lock()
	h.messages++
	h.lastActivity = time.Now()
	h.mu.Unlock()
}

func (h *handlerEntry) isActive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

func (h *handlerEntry) deactivate() {
	h.mu.Lock()
	h.active = false
	h.mu.Unlock()
}

// Bus routes messages between registered handlers. Each handler owns a
// dedicated bounded queue drained by a dedicated goroutine, so a slow
// handler never blocks another handler's deliveries. Construct with New
// and pass the instance to every component that needs it; there is no
// package-level singleton.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]*handlerEntry
	history  *history
	queueCap int
	running  bool
	wg       sync.WaitGroup
}

// Option configures a Bus.
type Option func(*Bus)

// WithQueueCapacity sets the per-handler queue bound. A full queue
// rejects further sends with ErrQueueFull rather than blocking the
// sender, giving producers an explicit backpressure signal.
func WithQueueCapacity(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueCap = n
		}
	}
}

// WithHistorySize sets the bounded history length.
func WithHistorySize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.history = newHistory(n)
		}
	}
}

// New creates a stopped Bus. Call Start before sending.
func New(opts ...Option) *Bus {
	b := &Bus{
		handlers: make(map[string]*handlerEntry),
		history:  newHistory(defaultHistorySize),
		queueCap: defaultQueueCapacity,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

const (
	defaultQueueCapacity = 256
	defaultHistorySize   = 1000
)

// Start marks the bus as running. Idempotent.
func (b *Bus) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return
	}
	b.running = true
	log.Printf("bus: started")
}

// Stop marks the bus as stopped, shuts down every delivery loop and
// waits for them to drain their in-flight callback. Messages still
// queued are dropped. Idempotent.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	entries := make([]*handlerEntry, 0, len(b.handlers))
	for _, h := range b.handlers {
		entries = append(entries, h)
	}
	b.handlers = make(map[string]*handlerEntry)
	b.mu.Unlock()

	for _, h := range entries {
		h.deactivate()
		close(h.done)
	}
	b.wg.Wait()
	log.Printf("bus: stopped")
}

// Running reports whether the bus accepts messages.
func (b *Bus) Running() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

// RegisterHandler allocates a queue and delivery loop for id. Fails
// with ErrHandlerExists if the id is already registered; the existing
// registration is never replaced.
func (b *Bus) RegisterHandler(id string, fn Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.handlers[id]; exists {
		return fmt.Errorf("register %s: %w", id, ErrHandlerExists)
	}

	h := &handlerEntry{
		id:     id,
		fn:     fn,
		queue:  make(chan *Message, b.queueCap),
		done:   make(chan struct{}),
		active: true,
	}
	b.handlers[id] = h

	b.wg.Add(1)
	go b.deliverLoop(h)

	log.Printf("bus: registered handler %s", id)
	return nil
}

// UnregisterHandler removes id and stops its delivery loop. Messages
// already queued for it are dropped, not redelivered.
func (b *Bus) UnregisterHandler(id string) error {
	b.mu.Lock()
	h, exists := b.handlers[id]
	if !exists {
		b.mu.Unlock()
		return fmt.Errorf("unregister %s: %w", id, ErrHandlerNotFound)
	}
	delete(b.handlers, id)
	b.mu.Unlock()

	h.deactivate()
	close(h.done)
	log.Printf("bus: unregistered handler %s", id)
	return nil
}

// Send delivers msg to its recipient's queue. An empty recipient
// delegates to Broadcast. On any failure the message status is set to
// StatusFailed and an error is returned; sends are never retried.
func (b *Bus) Send(msg *Message) error {
	if msg.Recipient == "" {
		return b.Broadcast(msg)
	}

	b.mu.RLock()
	running := b.running
	h, exists := b.handlers[msg.Recipient]
	b.mu.RUnlock()

	if !running {
		msg.Status = StatusFailed
		return ErrNotRunning
	}
	if !exists {
		log.Printf("bus: recipient %s not found for %s", msg.Recipient, msg.ID)
		msg.Status = StatusFailed
		return fmt.Errorf("send %s: %w", msg.Recipient, ErrRecipientNotFound)
	}

	msg.Status = StatusProcessing
	b.history.add(msg)

	select {
	case h.queue <- msg.Clone():
		msg.Status = StatusCompleted
		return nil
	default:
		msg.Status = StatusFailed
		return fmt.Errorf("send %s: %w", msg.Recipient, ErrQueueFull)
	}
}

// Broadcast enqueues msg to every registered handler's queue. Handlers
// whose queues are full are skipped; the first such error is returned
// after all enqueues are attempted.
func (b *Bus) Broadcast(msg *Message) error {
	b.mu.RLock()
	running := b.running
	entries := make([]*handlerEntry, 0, len(b.handlers))
	for _, h := range b.handlers {
		entries = append(entries, h)
	}
	b.mu.RUnlock()

	if !running {
		msg.Status = StatusFailed
		return ErrNotRunning
	}

	msg.Status = StatusProcessing
	b.history.add(msg)

	var firstErr error
	for _, h := range entries {
		select {
		case h.queue <- msg.Clone():
		default:
			log.Printf("bus: dropped broadcast %s for %s: queue full", msg.ID, h.id)
			if firstErr == nil {
				firstErr = fmt.Errorf("broadcast to %s: %w", h.id, ErrQueueFull)
			}
		}
	}

	if firstErr != nil {
		msg.Status = StatusFailed
		return firstErr
	}
	msg.Status = StatusCompleted
	return nil
}

// deliverLoop drains one handler's queue until the handler is
// unregistered or the bus stops. Messages sent to the same recipient
// are delivered in FIFO enqueue order.
func (b *Bus) deliverLoop(h *handlerEntry) {
	defer b.wg.Done()

	for {
		select {
		case <-h.done:
			return
		case msg := <-h.queue:
			if !h.isActive() {
				return
			}
			h.touch()
			b.invoke(h, msg)
		}
	}
}

// invoke runs the handler callback, recovering panics so a faulty
// handler cannot crash its loop or the bus. A non-nil reply is routed.
func (b *Bus) invoke(h *handlerEntry, msg *Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("bus: handler %s panicked on %s: %v", h.id, msg.ID, r)
		}
	}()

	reply, err := h.fn(context.Background(), msg)
	if err != nil {
		log.Printf("bus: handler %s failed on %s: %v", h.id, msg.ID, err)
		return
	}
	if reply != nil {
		if sendErr := b.Send(reply); sendErr != nil {
			log.Printf("bus: could not route reply from %s: %v", h.id, sendErr)
		}
	}
}

// History returns up to limit recorded messages matching the filters,
// most recent last. Zero values disable the respective filter.
func (b *Bus) History(handlerID string, t Type, limit int) []*Message {
	return b.history.query(handlerID, t, limit)
}

// HandlerStats returns a per-handler activity snapshot.
func (b *Bus) HandlerStats() map[string]HandlerStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]HandlerStats, len(b.handlers))
	for id, h := range b.handlers {
		h.mu.Lock()
		out[id] = HandlerStats{
			Active:       h.active,
			Messages:     h.messages,
			LastActivity: h.lastActivity,
			QueueDepth:   len(h.queue),
		}
		h.mu.Unlock()
	}
	return out
}

// Stats returns a snapshot of the bus.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		Running:     b.running,
		Handlers:    len(b.handlers),
		HistorySize: b.history.size(),
	}
}
