package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tokotalk/tokotalk/pkg/cache"
	"github.com/tokotalk/tokotalk/pkg/models"
)

// conversationTTL expires idle conversations from the cache. Every write
// refreshes it, so the clock measures inactivity.
const conversationTTL = 24 * time.Hour

// ConversationService manages the per-chat hot state. It lives entirely
// in the cache; per-chat serialisation upstream (the buffer's single
// drain winner) makes last-write-wins on the snapshot safe.
type ConversationService struct {
	store cache.Store
	now   func() time.Time
}

// NewConversationService creates a new ConversationService.
func NewConversationService(store cache.Store) *ConversationService {
	return &ConversationService{store: store, now: time.Now}
}

// GetOrCreate loads the conversation for a chat, creating a fresh one in
// the greeting state on first contact.
func (s *ConversationService) GetOrCreate(ctx context.Context, tenantID, customerID, chatID string) (*models.Conversation, bool, error) {
	var conv models.Conversation
	err := s.store.GetJSON(ctx, cache.ConversationKey(chatID), &conv)
	if err == nil {
		return &conv, false, nil
	}
	if !errors.Is(err, cache.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to load conversation: %w", err)
	}

	now := s.now()
	conv = models.Conversation{
		ID:             chatID,
		TenantID:       tenantID,
		CustomerID:     customerID,
		State:          models.StateGreeting,
		Context:        map[string]any{},
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := s.save(ctx, &conv); err != nil {
		return nil, false, err
	}
	if err := s.store.SetJSON(ctx, cache.CustomerConversationKey(customerID), chatID, conversationTTL); err != nil {
		return nil, false, fmt.Errorf("failed to index conversation by customer: %w", err)
	}
	return &conv, true, nil
}

// Get loads a conversation; ErrNotFound if absent or expired.
func (s *ConversationService) Get(ctx context.Context, chatID string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.store.GetJSON(ctx, cache.ConversationKey(chatID), &conv)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return &conv, nil
}

// AppendMessage adds a turn to the history under the history cap and
// refreshes the inactivity TTL.
func (s *ConversationService) AppendMessage(ctx context.Context, chatID, role, content string, metadata map[string]any) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.update(ctx, chatID, &conv, func() error {
		conv.Append(models.ConversationMessage{
			Role:      role,
			Content:   content,
			Timestamp: s.now(),
			Metadata:  metadata,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// TransitionState moves the conversation through its state graph.
// Illegal edges are rejected; staying put is always fine.
func (s *ConversationService) TransitionState(ctx context.Context, chatID string, to models.ConversationState) (*models.Conversation, error) {
	if !models.ValidConversationState(to) {
		return nil, NewValidationError("state", "unknown conversation state")
	}
	var conv models.Conversation
	err := s.update(ctx, chatID, &conv, func() error {
		if !conv.State.CanTransition(to) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, conv.State, to)
		}
		conv.State = to
		conv.LastActivityAt = s.now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// SetCurrentOrder pins the order the conversation is assembling.
func (s *ConversationService) SetCurrentOrder(ctx context.Context, chatID, orderID string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.update(ctx, chatID, &conv, func() error {
		conv.CurrentOrderID = orderID
		conv.LastActivityAt = s.now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// MergeContext folds keys into the opaque context map. A nil value
// removes the key.
func (s *ConversationService) MergeContext(ctx context.Context, chatID string, delta map[string]any) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.update(ctx, chatID, &conv, func() error {
		if conv.Context == nil {
			conv.Context = map[string]any{}
		}
		for k, v := range delta {
			if v == nil {
				delete(conv.Context, k)
				continue
			}
			conv.Context[k] = v
		}
		conv.LastActivityAt = s.now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// update reads, mutates, and writes back a conversation atomically.
func (s *ConversationService) update(ctx context.Context, chatID string, conv *models.Conversation, mutate func() error) error {
	err := s.store.UpdateJSON(ctx, cache.ConversationKey(chatID), func(current []byte) (any, time.Duration, error) {
		if current == nil {
			return nil, 0, ErrNotFound
		}
		*conv = models.Conversation{}
		if err := json.Unmarshal(current, conv); err != nil {
			return nil, 0, fmt.Errorf("failed to decode conversation: %w", err)
		}
		if err := mutate(); err != nil {
			return nil, 0, err
		}
		return conv, conversationTTL, nil
	})
	if err != nil {
		return err
	}
	return nil
}

func (s *ConversationService) save(ctx context.Context, conv *models.Conversation) error {
	if err := s.store.SetJSON(ctx, cache.ConversationKey(conv.ID), conv, conversationTTL); err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}
