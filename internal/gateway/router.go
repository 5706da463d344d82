package gateway

import (
	"context"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/stellarlinkco/autoreply/internal/bus"
	"github.com/stellarlinkco/autoreply/internal/profile"
	"github.com/stellarlinkco/autoreply/internal/responder"
)

const (
	workerQueueSize   = 16
	workerIdleTimeout = 10 * time.Minute
)

// Drop reasons, in filter order.
const (
	dropSelf         = "self-sent"
	dropStatus       = "status"
	dropDuplicate    = "duplicate"
	dropGroup        = "group"
	dropNotMonitored = "not monitored"
	dropEmpty        = "empty"
)

type Sender interface {
	Send(ctx context.Context, msg bus.OutboundMessage) error
}

type Responder interface {
	Respond(ctx context.Context, contactID, name, number, text string) responder.Reply
}

type History interface {
	Append(contactID, name, text string, fromMe bool, messageType string)
}

type ResponseRecorder interface {
	RecordResponseType(kind string)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReplyDelay is the pause after a reply before the contact's next message is handled.
func ReplyDelay(relationship string) time.Duration {
	switch relationship {
	case profile.Family:
		return 2 * time.Second
	case profile.CloseFriend:
		return 3 * time.Second
	default:
		return 4 * time.Second
	}
}

type RouterOptions struct {
	Monitor   *Monitor
	Dedup     *Dedup
	History   History
	Responder Responder
	Sender    Sender
	Recorder  ResponseRecorder
	Sleep     SleepFunc
	// IdleTimeout retires a contact's worker after this long without messages.
	IdleTimeout time.Duration
}

// contactWorker owns one contact's queue. pending counts messages handed to
// the queue and not yet taken off it; it is guarded by Router.mu.
type contactWorker struct {
	queue   chan bus.InboundMessage
	pending int
}

// Router filters inbound messages and runs one worker per contact, so a
// contact's messages are answered in order while contacts proceed in parallel.
type Router struct {
	monitor   *Monitor
	dedup     *Dedup
	history   History
	responder Responder
	sender    Sender
	recorder  ResponseRecorder
	sleep     SleepFunc
	idle      time.Duration

	mu      sync.Mutex
	workers map[string]*contactWorker
	wg      sync.WaitGroup
}

func NewRouter(opts RouterOptions) *Router {
	r := &Router{
		monitor:   opts.Monitor,
		dedup:     opts.Dedup,
		history:   opts.History,
		responder: opts.Responder,
		sender:    opts.Sender,
		recorder:  opts.Recorder,
		sleep:     opts.Sleep,
		idle:      opts.IdleTimeout,
		workers:   make(map[string]*contactWorker),
	}
	if r.monitor == nil {
		r.monitor = NewMonitor(nil)
	}
	if r.dedup == nil {
		r.dedup = NewDedup()
	}
	if r.sleep == nil {
		r.sleep = sleepContext
	}
	if r.idle <= 0 {
		r.idle = workerIdleTimeout
	}
	return r
}

func dedupKey(msg bus.InboundMessage) string {
	if msg.MessageID == "" {
		return ""
	}
	return msg.Channel + ":" + msg.MessageID
}

// filter returns the reason msg is dropped, or "".
func (r *Router) filter(msg bus.InboundMessage) string {
	switch {
	case msg.FromMe:
		return dropSelf
	case msg.IsStatus:
		return dropStatus
	}
	if key := dedupKey(msg); key != "" && r.dedup.Seen(key) {
		return dropDuplicate
	}
	if msg.IsGroup {
		return dropGroup
	}
	if !r.monitor.Match(msg) {
		return dropNotMonitored
	}
	if msg.Content == "" {
		return dropEmpty
	}
	return ""
}

// Dispatch queues msg on its contact's worker when it passes the filters.
// It reports whether the message was accepted.
func (r *Router) Dispatch(ctx context.Context, msg bus.InboundMessage) bool {
	if reason := r.filter(msg); reason != "" {
		if reason != dropSelf && reason != dropStatus {
			log.Printf("[router] skip %s from %s: %s", msg.MessageID, msg.SenderName, reason)
		}
		return false
	}
	key := dedupKey(msg)
	if key != "" && !r.dedup.Claim(key) {
		log.Printf("[router] skip %s from %s: %s", msg.MessageID, msg.SenderName, dropDuplicate)
		return false
	}

	w := r.acquire(ctx, msg.ContactKey())
	select {
	case w.queue <- msg:
		return true
	case <-ctx.Done():
		r.mu.Lock()
		w.pending--
		r.mu.Unlock()
		if key != "" {
			r.dedup.Release(key)
		}
		return false
	}
}

// acquire returns the contact's worker, starting one if needed, with a
// pending slot reserved for the caller's message.
func (r *Router) acquire(ctx context.Context, contactID string) *contactWorker {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[contactID]
	if !ok {
		w = &contactWorker{queue: make(chan bus.InboundMessage, workerQueueSize)}
		r.workers[contactID] = w
		r.wg.Add(1)
		go r.run(ctx, contactID, w)
	}
	w.pending++
	return w
}

func (r *Router) run(ctx context.Context, contactID string, w *contactWorker) {
	defer r.wg.Done()
	idle := time.NewTimer(r.idle)
	defer idle.Stop()

	for {
		select {
		case msg := <-w.queue:
			r.mu.Lock()
			w.pending--
			r.mu.Unlock()
			r.handle(ctx, msg)
			idle.Reset(r.idle)
		case <-idle.C:
			r.mu.Lock()
			if w.pending == 0 {
				delete(r.workers, contactID)
				r.mu.Unlock()
				return
			}
			r.mu.Unlock()
			idle.Reset(r.idle)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Router) activeWorkers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}

// Wait blocks until every worker has exited. Workers exit when the context
// passed to Dispatch is done.
func (r *Router) Wait() {
	r.wg.Wait()
}

func (r *Router) handle(ctx context.Context, msg bus.InboundMessage) {
	key := dedupKey(msg)
	sent := false
	defer func() {
		if p := recover(); p != nil {
			log.Printf("[router] handler panic for %s: %v\n%s", msg.MessageID, p, debug.Stack())
		}
		if !sent && key != "" {
			r.dedup.Release(key)
		}
	}()

	contactID := msg.ContactKey()
	r.history.Append(contactID, msg.SenderName, msg.Content, false, msg.MessageType)

	reply := r.responder.Respond(ctx, contactID, msg.SenderName, msg.SenderNumber, msg.Content)
	log.Printf("[router] %s: %s reply for message %s from %s", reply.RequestID, reply.Source, msg.MessageID, msg.SenderName)

	err := r.sender.Send(ctx, bus.OutboundMessage{
		Channel:  msg.Channel,
		ChatID:   msg.ChatID,
		Content:  reply.Text,
		ReplyTo:  msg.MessageID,
		Metadata: msg.Metadata,
	})
	if err != nil {
		log.Printf("[router] %s: reply to %s from %s failed: %v", reply.RequestID, msg.MessageID, msg.SenderName, err)
		return
	}
	sent = true

	r.history.Append(contactID, msg.SenderName, reply.Text, true, "text")
	if r.recorder != nil {
		r.recorder.RecordResponseType(reply.Source)
	}
	log.Printf("[router] %s: replied to %s (%s, %s)", reply.RequestID, msg.SenderName, reply.Source, reply.Profile.RelationshipLevel)

	_ = r.sleep(ctx, ReplyDelay(reply.Profile.RelationshipLevel))
}
