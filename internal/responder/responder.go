// Package responder turns an inbound message into exactly one reply: the
// generator's output when it answers in time, a canned reply otherwise.
package responder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stellarlinkco/autoreply/internal/memory"
	"github.com/stellarlinkco/autoreply/internal/profile"
)

// Reply sources.
const (
	SourceAI       = "ai"
	SourceFallback = "fallback"
	SourceSimple   = "simple"
)

const DefaultTimeout = 15 * time.Second

var (
	// ErrEmptyOutput is returned when the generator answers with blank text.
	ErrEmptyOutput = errors.New("generator returned empty output")
	ErrNoGenerator = errors.New("no generator configured")
)

// ContextMessage is a ledger entry enriched with the contact's current profile.
type ContextMessage struct {
	memory.MessageEntry
	ContactProfile profile.ContactProfile `json:"contactProfile"`
}

type Request struct {
	// RequestID is unique per Respond call and shows up in every log line about it.
	RequestID   string
	ContactID   string
	Message     string
	ContactName string
	Profile     profile.ContactProfile
	History     []ContextMessage
}

// Generator produces reply text. Implementations must honor ctx cancellation.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

type Reply struct {
	RequestID string
	Text      string
	Source    string
	Profile   profile.ContactProfile
}

// Profiler builds contact profiles.
type Profiler interface {
	Build(contactID, name, number string) profile.ContactProfile
}

// Window reads recent ledger entries.
type Window interface {
	RecentWindow(contactID string, n int) []memory.MessageEntry
}

type Options struct {
	UseAI       bool
	SimpleReply string
	Timeout     time.Duration
}

type Orchestrator struct {
	profiles Profiler
	history  Window
	gen      Generator
	opts     Options
}

func New(profiles Profiler, history Window, gen Generator, opts Options) *Orchestrator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Orchestrator{
		profiles: profiles,
		history:  history,
		gen:      gen,
		opts:     opts,
	}
}

// ContextSize is how many recent messages are sent along for a relationship.
func ContextSize(relationship string) int {
	switch relationship {
	case profile.Family:
		return 10
	case profile.CloseFriend:
		return 8
	default:
		return 5
	}
}

// Respond always resolves to usable text.
func (o *Orchestrator) Respond(ctx context.Context, contactID, name, number, text string) Reply {
	id := uuid.NewString()
	p := o.profiles.Build(contactID, name, number)
	window := o.history.RecentWindow(contactID, ContextSize(p.RelationshipLevel))

	if !o.opts.UseAI {
		return Reply{RequestID: id, Text: o.opts.SimpleReply, Source: SourceSimple, Profile: p}
	}

	history := make([]ContextMessage, len(window))
	for i, e := range window {
		history[i] = ContextMessage{MessageEntry: e, ContactProfile: p}
	}
	req := Request{
		RequestID:   id,
		ContactID:   contactID,
		Message:     text,
		ContactName: name,
		Profile:     p,
		History:     history,
	}

	out, err := o.generate(ctx, req)
	if err != nil {
		log.Printf("[responder] %s: generation failed for %s, using fallback: %v", id, contactID, err)
		return Reply{RequestID: id, Text: Fallback(p), Source: SourceFallback, Profile: p}
	}
	return Reply{RequestID: id, Text: out, Source: SourceAI, Profile: p}
}

type result struct {
	text string
	err  error
}

// generate races the generator against the timeout. A result arriving after
// the deadline is dropped.
func (o *Orchestrator) generate(ctx context.Context, req Request) (string, error) {
	if o.gen == nil {
		return "", ErrNoGenerator
	}

	ctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("generator panic: %v", r)}
			}
		}()
		text, err := o.gen.Generate(ctx, req)
		done <- result{text: text, err: err}
	}()

	select {
	case r := <-done:
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("generate: %w", err)
		}
		if r.err != nil {
			return "", r.err
		}
		if strings.TrimSpace(r.text) == "" {
			return "", ErrEmptyOutput
		}
		return r.text, nil
	case <-ctx.Done():
		return "", fmt.Errorf("generate: %w", ctx.Err())
	}
}

// Fallback picks a canned reply from the relationship and communication style.
func Fallback(p profile.ContactProfile) string {
	style := p.CommunicationStyle
	switch p.RelationshipLevel {
	case profile.Family:
		if style.UsesEmojis {
			return "Hey! Busy right now but will get back to you soon ❤️"
		}
		return "Hi! I'm busy at the moment but will respond soon."
	case profile.CloseFriend:
		if style.FormalityLevel == profile.Informal {
			return "Hey! Can't chat rn but will hit you up soon! 😊"
		}
		return "Hi! I'm busy right now but will respond soon."
	default:
		if style.FormalityLevel == profile.Formal {
			return "Thank you for your message. I'm currently busy but will respond as soon as possible."
		}
		return "Hi! I'm busy right now but will get back to you soon."
	}
}
