package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dotsetgreg/chatpilot/pkg/cache"
	"github.com/dotsetgreg/chatpilot/pkg/model"
	"github.com/dotsetgreg/chatpilot/pkg/providers"
	"github.com/dotsetgreg/chatpilot/pkg/store"
)

// Generator is the slice of the provider gateway the orchestrator needs.
type Generator interface {
	Generate(ctx context.Context, messages []providers.Message, systemPrompt, provider string) (string, []providers.Message, error)
	Summarize(ctx context.Context, messages []providers.Message, previousSummary, provider string) string
}

// Orchestrator runs the full turn pipeline: context lookup through the
// cache and store tiers, response generation, history bookkeeping,
// rolling summarization, and write-back to both tiers.
type Orchestrator struct {
	cache       *cache.Manager
	store       store.Documents
	llm         Generator
	provider    string
	maxMessages int
	overlap     int
}

func NewOrchestrator(cacheManager *cache.Manager, documents store.Documents, llm Generator, provider string, maxMessages, overlap int) *Orchestrator {
	return &Orchestrator{
		cache:       cacheManager,
		store:       documents,
		llm:         llm,
		provider:    provider,
		maxMessages: maxMessages,
		overlap:     overlap,
	}
}

// HandleTurn processes one user message end to end and returns the
// assistant's response. Nothing is persisted when generation fails, so a
// failed turn leaves the stored context untouched.
func (o *Orchestrator) HandleTurn(ctx context.Context, userID, userMessage string, isFirstTime bool, interestTopic string) (string, error) {
	uc, exists, err := o.loadContext(ctx, userID, isFirstTime, interestTopic)
	if err != nil {
		return "", err
	}

	actualMessage := userMessage
	var messages []providers.Message
	if isFirstTime {
		// The interest topic doubles as the opening message.
		actualMessage = interestTopic
		uc.ChatInterest = interestTopic
		messages = []providers.Message{{Role: providers.RoleUser, Content: actualMessage}}
	} else {
		recent := uc.RecentHistory(o.maxMessages)
		messages = make([]providers.Message, 0, len(recent)+1)
		messages = append(messages, toProviderMessages(recent)...)
		messages = append(messages, providers.Message{Role: providers.RoleUser, Content: actualMessage})
	}

	systemPrompt := BuildSystemPrompt(uc, isFirstTime)
	slog.Info("generating response",
		"user_id", userID,
		"provider", o.provider,
		"message_count", len(messages),
		"is_first_time", isFirstTime)

	responseText, _, err := o.llm.Generate(ctx, messages, systemPrompt, o.provider)
	if err != nil {
		return "", fmt.Errorf("generate response for %s: %w", userID, err)
	}

	uc.AppendTurn(actualMessage, responseText)
	o.summarizeIfNeeded(ctx, userID, uc)

	if err := o.persist(ctx, userID, uc, exists); err != nil {
		return "", err
	}

	slog.Info("turn completed",
		"user_id", userID,
		"history_length", len(uc.ChatHistory),
		"response_length", len(responseText))
	return responseText, nil
}

// loadContext resolves the user's context through the cache and store
// tiers. The returned exists flag records whether a durable document was
// found, so persistence later knows to create or update without a second
// lookup. A cache hit is taken as existing (the cache is only populated
// from the store or after a successful store write); persist tolerates
// the hint being stale.
func (o *Orchestrator) loadContext(ctx context.Context, userID string, isFirstTime bool, interestTopic string) (*model.UserContext, bool, error) {
	if uc, ok := o.cache.Get(userID); ok {
		return uc, true, nil
	}

	slog.Info("cache miss, fetching from store", "user_id", userID)
	uc, err := o.store.GetUserContext(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Info("new user detected", "user_id", userID)
		topic := ""
		if isFirstTime {
			topic = interestTopic
		}
		return model.NewUserContext(topic), false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load context for %s: %w", userID, err)
	}

	if err := o.cache.Set(userID, uc); err != nil {
		slog.Warn("cache write-back failed", "user_id", userID, "error", err)
	}
	return uc, true, nil
}

// summarizeIfNeeded folds overflow history into the rolling summary once
// the threshold is crossed. Summarization itself cannot fail; the
// gateway degrades to a counting fallback instead.
func (o *Orchestrator) summarizeIfNeeded(ctx context.Context, userID string, uc *model.UserContext) {
	needed, _ := o.cache.CheckAndSummarize(userID, uc, o.maxMessages, o.overlap)
	if !needed {
		return
	}

	threshold := o.maxMessages + o.overlap
	overflowCount := len(uc.ChatHistory) - threshold
	overflow := uc.ChatHistory[:overflowCount]

	summary := o.llm.Summarize(ctx, toProviderMessages(overflow), uc.UserSummary, o.provider)
	uc.UserSummary = summary
	uc.ChatHistory = uc.ChatHistory[len(uc.ChatHistory)-o.maxMessages:]

	slog.Info("summarization complete",
		"user_id", userID,
		"summarized_messages", overflowCount,
		"summary_length", len(summary),
		"remaining_messages", len(uc.ChatHistory))
}

// persist writes the durable store first and only then the cache, so a
// store failure leaves nothing of the failed turn behind: the cache
// entry is dropped rather than left holding state the store never saw.
// The exists flag is a hint from load time; if the store disagrees (the
// document vanished, or an earlier create failed after the cache was
// populated), update falls back to create instead of stranding the user.
func (o *Orchestrator) persist(ctx context.Context, userID string, uc *model.UserContext, exists bool) error {
	var err error
	if exists {
		err = o.store.UpdateUserContext(ctx, userID, uc)
		if errors.Is(err, store.ErrNotFound) {
			slog.Warn("context missing on update, creating", "user_id", userID)
			err = o.store.CreateUserContext(ctx, userID, uc)
		}
	} else {
		err = o.store.CreateUserContext(ctx, userID, uc)
	}
	if err != nil {
		o.cache.Delete(userID)
		return fmt.Errorf("persist context for %s: %w", userID, err)
	}

	if err := o.cache.Set(userID, uc); err != nil {
		slog.Warn("cache update failed", "user_id", userID, "error", err)
	}
	return nil
}

func toProviderMessages(history []model.Message) []providers.Message {
	out := make([]providers.Message, len(history))
	for i, msg := range history {
		out[i] = providers.Message{Role: msg.Role, Content: msg.Content}
	}
	return out
}
