// Package events publishes domain events (posts created, contracts signed,
// payments settled) to interested consumers.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	CommunityPostCreated   = "community.post.created"
	CommunityCommentAdded  = "community.comment.created"
	NexusOpportunityPosted = "nexus.opportunity.created"
	NexusApplicationSent   = "nexus.application.created"
	NexusContractCreated   = "nexus.contract.created"
	NexusContractUpdated   = "nexus.contract.updated"
	NexusPaymentSucceeded  = "nexus.payment.succeeded"
	NexusPaymentFailed     = "nexus.payment.failed"
	FoundationEnrolled     = "foundation.enrollment.created"
	FoundationCompleted    = "foundation.course.completed"
	EthosTrackPublished    = "ethos.track.created"
	DiscordLinked          = "discord.linked"
	IdentityWalletLinked   = "identity.wallet.linked"
	IdentityRobloxLinked   = "identity.roblox.linked"
	BlogPostPublished      = "blog.post.created"
)

// Event is a domain event.
type Event struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	ActorID    string      `json:"actor_id,omitempty"`
	Arm        string      `json:"arm,omitempty"`
	Data       interface{} `json:"data,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// New builds an event with a fresh ID and timestamp.
func New(eventType, actorID string, data interface{}) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		ActorID:    actorID,
		Data:       data,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to several publishers and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

// Events returns a copy of everything recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []string {
	evs := r.Events()
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.Type
	}
	return out
}
