// Package chat orchestrates video chats: creating them from pasted links
// and streaming LLM completions over their message history.
package chat

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/binnykanjur/caption-zen/internal/metrics"
	"github.com/binnykanjur/caption-zen/internal/providers"
	"github.com/binnykanjur/caption-zen/internal/providers/registry"
	"github.com/binnykanjur/caption-zen/internal/settings"
	"github.com/binnykanjur/caption-zen/internal/storage"
	"github.com/binnykanjur/caption-zen/internal/video"
)

//go:embed prompt.txt
var summarizeInstructions string

// persistTimeout bounds the assistant-message write that runs after the
// caller's context is already cancelled.
const persistTimeout = 10 * time.Second

// errStreamCancelled is returned from the delta callback to stop the
// transport when the caller's context is done. It never escapes
// StreamCompletion.
var errStreamCancelled = errors.New("stream cancelled")

// Chunk is one fragment of assistant text, delivered in arrival order.
type Chunk struct {
	Text string
}

// Detail is a chat with its full message history, oldest first.
type Detail struct {
	Chat     storage.Chat
	Messages []storage.ChatMessage
}

type Service struct {
	store      *storage.Store
	settings   *settings.Service
	video      video.Source
	httpClient *http.Client
	logger     zerolog.Logger
	metrics    *metrics.Metrics

	// Swappable in tests.
	buildTransport func(registry.BuildOptions) (providers.Transport, error)
}

type Config struct {
	Store      *storage.Store
	Settings   *settings.Service
	Video      video.Source
	HTTPClient *http.Client
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
}

func NewService(cfg Config) *Service {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Global()
	}
	return &Service{
		store:          cfg.Store,
		settings:       cfg.Settings,
		video:          cfg.Video,
		httpClient:     cfg.HTTPClient,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		buildTransport: registry.Build,
	}
}

// CreateChat resolves a pasted video link into a new chat seeded with a
// single user message carrying the summarize instructions and the
// transcript. It fails before touching the video services when no usable
// provider is configured, so the caller finds out immediately.
func (s *Service) CreateChat(ctx context.Context, videoURL string) (storage.Chat, error) {
	videoURL = strings.TrimSpace(videoURL)
	if video.ExtractVideoID(videoURL) == "" {
		return storage.Chat{}, fmt.Errorf("%w: %q", ErrInvalidVideo, videoURL)
	}
	if _, _, err := s.resolveTransport(ctx); err != nil {
		return storage.Chat{}, err
	}

	details, err := s.video.Details(ctx, videoURL)
	if err != nil {
		return storage.Chat{}, fmt.Errorf("%w: %v", ErrInvalidVideo, err)
	}
	transcript, err := s.video.Transcript(ctx, videoURL)
	if err != nil {
		return storage.Chat{}, fmt.Errorf("fetch transcript: %w", err)
	}
	if strings.TrimSpace(transcript) == "" {
		return storage.Chat{}, ErrNoTranscript
	}

	now := time.Now().UTC()
	chat := storage.Chat{
		ID:        uuid.New(),
		VideoURL:  videoURL,
		Title:     details.Title,
		Thumbnail: s.fetchThumbnail(ctx, details.ThumbnailURL),
		CreatedAt: now,
	}
	if details.Description != "" {
		chat.Description = &details.Description
	}

	seed := []storage.ChatMessage{{
		ChatID:    chat.ID,
		Role:      storage.RoleUser,
		Body:      summarizePrompt(details.Title, transcript),
		CreatedAt: now,
	}}
	if err := s.store.CreateChat(ctx, chat, seed); err != nil {
		return storage.Chat{}, fmt.Errorf("create chat: %w", err)
	}

	s.metrics.ChatsCreated.Inc()
	s.logger.Info().
		Str("chat_id", chat.ID.String()).
		Str("video_id", details.VideoID).
		Msg("chat created")
	return chat, nil
}

// Chat returns one chat with its messages re-sorted oldest first.
func (s *Service) Chat(ctx context.Context, id uuid.UUID) (Detail, error) {
	c, err := s.store.GetChat(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Detail{}, ErrNotFound
		}
		return Detail{}, fmt.Errorf("load chat: %w", err)
	}
	msgs, err := s.store.ListMessages(ctx, id)
	if err != nil {
		return Detail{}, fmt.Errorf("load messages: %w", err)
	}
	reverseMessages(msgs)
	return Detail{Chat: c, Messages: msgs}, nil
}

func (s *Service) ListChats(ctx context.Context) ([]storage.ChatInfo, error) {
	return s.store.ListChats(ctx)
}

func (s *Service) DeleteChat(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeleteChat(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete chat: %w", err)
	}
	return nil
}

// AppendUserMessage stores a follow-up question on an existing chat.
func (s *Service) AppendUserMessage(ctx context.Context, chatID uuid.UUID, body string) (storage.ChatMessage, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return storage.ChatMessage{}, fmt.Errorf("%w: empty message body", ErrInvalidState)
	}
	if _, err := s.store.GetChat(ctx, chatID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.ChatMessage{}, ErrNotFound
		}
		return storage.ChatMessage{}, fmt.Errorf("load chat: %w", err)
	}
	m := storage.ChatMessage{
		ChatID:    chatID,
		Role:      storage.RoleUser,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	id, err := s.store.AppendMessage(ctx, m)
	if err != nil {
		return storage.ChatMessage{}, fmt.Errorf("append message: %w", err)
	}
	m.ID = id
	return m, nil
}

// StreamCompletion runs one completion over the chat's history, invoking
// onChunk for each assistant text fragment in arrival order.
//
// Preconditions are checked before any stream is opened: the chat must
// exist, it must have at least one message, and the default provider must
// be fully configured. A precondition failure leaves no trace in storage.
//
// Once streaming begins, exactly one assistant message is persisted no
// matter how the stream ends. Cancellation is a normal ending: whatever
// text arrived before the context was done is persisted and nil is
// returned. A transport failure persists the partial text and returns a
// *TransportError; an error from onChunk stops the stream and is returned
// unchanged. If the final write itself fails, *PersistenceError wins over
// whatever the stream returned.
func (s *Service) StreamCompletion(ctx context.Context, chatID uuid.UUID, onChunk func(Chunk) error) (err error) {
	c, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("load chat: %w", err)
	}

	msgs, err := s.store.ListMessages(ctx, chatID)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	if len(msgs) == 0 {
		return fmt.Errorf("%w: chat %s has no messages", ErrInvalidState, chatID)
	}

	cfg, transport, err := s.resolveTransport(ctx)
	if err != nil {
		return err
	}

	history := make([]providers.Message, len(msgs))
	for i, m := range msgs {
		history[len(msgs)-1-i] = providers.Message{Role: string(m.Role), Content: m.Body}
	}

	s.metrics.CompletionsStarted.Inc()
	started := time.Now()

	var accumulated strings.Builder
	defer func() {
		assistant := storage.ChatMessage{
			ChatID:     c.ID,
			Role:       storage.RoleAssistant,
			Body:       accumulated.String(),
			CreatedAt:  time.Now().UTC(),
			ProviderID: &cfg.ID,
			Model:      cfg.Model,
		}
		persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()
		if _, perr := s.store.AppendMessage(persistCtx, assistant); perr != nil {
			err = &PersistenceError{Err: perr}
		}
		if err != nil {
			s.metrics.CompletionsFailed.Inc()
			return
		}
		s.metrics.CompletionsCompleted.Inc()
		s.logger.Debug().
			Str("chat_id", c.ID.String()).
			Int("chars", accumulated.Len()).
			Dur("elapsed", time.Since(started)).
			Msg("completion finished")
	}()

	var callerErr error
	streamErr := transport.StreamChat(ctx, history, func(text string) error {
		if text == "" {
			return nil
		}
		if ctx.Err() != nil {
			return errStreamCancelled
		}
		accumulated.WriteString(text)
		if onChunk != nil {
			if cerr := onChunk(Chunk{Text: text}); cerr != nil {
				callerErr = cerr
				return cerr
			}
		}
		s.metrics.ChunksStreamed.Inc()
		return nil
	})

	switch {
	case streamErr == nil:
		return nil
	case errors.Is(streamErr, errStreamCancelled),
		errors.Is(streamErr, context.Canceled),
		errors.Is(streamErr, context.DeadlineExceeded):
		// Caller went away. The partial text still persists above.
		return nil
	case callerErr != nil && errors.Is(streamErr, callerErr):
		return callerErr
	default:
		s.logger.Warn().Err(streamErr).Str("chat_id", c.ID.String()).Msg("provider stream failed")
		return &TransportError{Err: streamErr}
	}
}

// resolveTransport loads the default provider, validates every field its
// vendor marks as required, and builds a live transport. All failures map
// to the sentinel errors so callers can react without string matching.
func (s *Service) resolveTransport(ctx context.Context) (*settings.ProviderConfig, providers.Transport, error) {
	cfg, err := s.settings.DefaultProvider(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load default provider: %w", err)
	}
	if cfg == nil {
		return nil, nil, ErrProviderNotConfigured
	}

	endpoint := derefTrimmed(cfg.Endpoint)
	model := derefTrimmed(cfg.Model)
	switch {
	case cfg.EndpointRequired && endpoint == "":
		return nil, nil, fmt.Errorf("%w: %s requires an endpoint", ErrProviderNotConfigured, cfg.Name)
	case cfg.APIKeyRequired && cfg.APIKey == "":
		return nil, nil, fmt.Errorf("%w: %s requires an API key", ErrProviderNotConfigured, cfg.Name)
	case cfg.ModelRequired && model == "":
		return nil, nil, fmt.Errorf("%w: %s requires a model", ErrProviderNotConfigured, cfg.Name)
	}

	transport, err := s.buildTransport(registry.BuildOptions{
		Vendor:     string(cfg.Vendor),
		Endpoint:   endpoint,
		APIKey:     cfg.APIKey,
		Model:      model,
		HTTPClient: s.httpClient,
	})
	if err != nil {
		if errors.Is(err, registry.ErrUnsupportedVendor) {
			return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Vendor)
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrProviderNotConfigured, err)
	}
	return cfg, transport, nil
}

// fetchThumbnail downloads the thumbnail bytes, best effort. A missing or
// failed thumbnail never blocks chat creation.
func (s *Service) fetchThumbnail(ctx context.Context, thumbnailURL string) []byte {
	if thumbnailURL == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, thumbnailURL, nil)
	if err != nil {
		return nil
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Warn().Err(err).Msg("thumbnail download failed")
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil
	}
	return data
}

func summarizePrompt(title, transcript string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(summarizeInstructions))
	b.WriteString("\n\nVideo title: ")
	b.WriteString(title)
	b.WriteString("\n\nTranscript:\n")
	b.WriteString(transcript)
	return b.String()
}

func reverseMessages(msgs []storage.ChatMessage) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

func derefTrimmed(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
