// Package notify computes who must learn about session activity: the
// de-duplicated union of the creator chat identity and explicit chat
// subscribers, plus client subscribers on their separate delivery channel.
package notify

import (
	"context"
	"fmt"
	"time"

	tclock "github.com/tetherhq/tether/internal/clock"
	"github.com/tetherhq/tether/internal/model"
)

// Identity names a subscription target. Exactly one field is set; chat
// and client identities are delivered over different transports and are
// never merged.
type Identity struct {
	ChatID   string
	ClientID string
}

func (id Identity) validate() error {
	if (id.ChatID == "") == (id.ClientID == "") {
		return fmt.Errorf("identity must set exactly one of chat id or client id")
	}
	return nil
}

// Store is the subscription slice of durable storage.
type Store interface {
	SubscribeChat(ctx context.Context, sessionID, chatID string, now time.Time) (model.Subscription, error)
	SubscribeClient(ctx context.Context, sessionID, clientID string, now time.Time) (model.Subscription, error)
	UnsubscribeChat(ctx context.Context, sessionID, chatID string, now time.Time) error
	UnsubscribeClient(ctx context.Context, sessionID, clientID string) error
	SetCreator(ctx context.Context, sessionID, chatID string, now time.Time) error
	Recipients(ctx context.Context, sessionID string) (model.Recipients, error)
}

// Service is the notification fan-out.
type Service struct {
	store Store
	clock tclock.Clock
}

// NewService creates a fan-out service.
func NewService(store Store, clk tclock.Clock) *Service {
	return &Service{store: store, clock: clk}
}

// Subscribe adds (or refreshes) a subscription for an identity.
func (s *Service) Subscribe(ctx context.Context, sessionID string, ident Identity) (model.Subscription, error) {
	if err := ident.validate(); err != nil {
		return model.Subscription{}, err
	}
	if ident.ChatID != "" {
		return s.store.SubscribeChat(ctx, sessionID, ident.ChatID, s.clock.Now())
	}
	return s.store.SubscribeClient(ctx, sessionID, ident.ClientID, s.clock.Now())
}

// Unsubscribe removes an identity's subscription. Removing the creator's
// chat identity also clears the creator designation.
func (s *Service) Unsubscribe(ctx context.Context, sessionID string, ident Identity) error {
	if err := ident.validate(); err != nil {
		return err
	}
	if ident.ChatID != "" {
		return s.store.UnsubscribeChat(ctx, sessionID, ident.ChatID, s.clock.Now())
	}
	return s.store.UnsubscribeClient(ctx, sessionID, ident.ClientID)
}

// SetCreator designates the creator chat identity for a session.
func (s *Service) SetCreator(ctx context.Context, sessionID, chatID string) error {
	return s.store.SetCreator(ctx, sessionID, chatID, s.clock.Now())
}

// Recipients computes the delivery target set for a session event.
func (s *Service) Recipients(ctx context.Context, sessionID string) (model.Recipients, error) {
	return s.store.Recipients(ctx, sessionID)
}
