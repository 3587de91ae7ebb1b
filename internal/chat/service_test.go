package chat

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/binnykanjur/caption-zen/internal/providers"
	"github.com/binnykanjur/caption-zen/internal/providers/registry"
	"github.com/binnykanjur/caption-zen/internal/secrets"
	"github.com/binnykanjur/caption-zen/internal/settings"
	"github.com/binnykanjur/caption-zen/internal/storage"
	"github.com/binnykanjur/caption-zen/internal/video"
)

type fakeVideo struct {
	details       video.Details
	transcript    string
	detailsErr    error
	transcriptErr error
}

func (f *fakeVideo) Details(context.Context, string) (video.Details, error) {
	return f.details, f.detailsErr
}

func (f *fakeVideo) Transcript(context.Context, string) (string, error) {
	return f.transcript, f.transcriptErr
}

type fakeTransport struct {
	chunks []string
	err    error
	seen   []providers.Message
}

func (f *fakeTransport) StreamChat(_ context.Context, msgs []providers.Message, onDelta func(string) error) error {
	f.seen = msgs
	for _, c := range f.chunks {
		if err := onDelta(c); err != nil {
			return err
		}
	}
	return f.err
}

type testEnv struct {
	service  *Service
	store    *storage.Store
	settings *settings.Service
}

func newTestEnv(t *testing.T, vid video.Source) *testEnv {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db")
	store, err := storage.Open(context.Background(), "sqlite", dsn, true, "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	keyring, err := secrets.NewKeyring("k1", map[string][]byte{"k1": make([]byte, 32)})
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	settingsService := settings.NewService(store, keyring)

	if vid == nil {
		vid = &fakeVideo{}
	}
	svc := NewService(Config{
		Store:    store,
		Settings: settingsService,
		Video:    vid,
		Logger:   zerolog.Nop(),
	})
	return &testEnv{service: svc, store: store, settings: settingsService}
}

// configureDefault marks the seeded anthropic provider as default with a
// key and model, so resolveTransport's validation passes.
func (e *testEnv) configureDefault(t *testing.T) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	providerRows, err := e.settings.Providers(ctx)
	if err != nil {
		t.Fatalf("list providers: %v", err)
	}
	for _, p := range providerRows {
		if p.Vendor == storage.VendorAnthropic {
			model := "claude-sonnet-4-5"
			if err := e.settings.Save(ctx, p.ID, nil, &model, "sk-ant-test", true); err != nil {
				t.Fatalf("save provider: %v", err)
			}
			return p.ID
		}
	}
	t.Fatal("no anthropic provider seeded")
	return uuid.Nil
}

func (e *testEnv) seedChat(t *testing.T, bodies ...string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	c := storage.Chat{
		ID:        uuid.New(),
		VideoURL:  "https://www.youtube.com/watch?v=abc123xyz00",
		Title:     "A Video",
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.CreateChat(ctx, c, nil); err != nil {
		t.Fatalf("create chat: %v", err)
	}
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	for i, body := range bodies {
		role := storage.RoleUser
		if i%2 == 1 {
			role = storage.RoleAssistant
		}
		if _, err := e.store.AppendMessage(ctx, storage.ChatMessage{
			ChatID:    c.ID,
			Role:      role,
			Body:      body,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("append seed message: %v", err)
		}
	}
	return c.ID
}

func (e *testEnv) messageCount(t *testing.T, chatID uuid.UUID) int {
	t.Helper()
	msgs, err := e.store.ListMessages(context.Background(), chatID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	return len(msgs)
}

func TestStreamCompletionChatNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	err := env.service.StreamCompletion(context.Background(), uuid.New(), nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStreamCompletionEmptyChat(t *testing.T) {
	env := newTestEnv(t, nil)
	env.configureDefault(t)
	chatID := env.seedChat(t)

	err := env.service.StreamCompletion(context.Background(), chatID, nil)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if n := env.messageCount(t, chatID); n != 0 {
		t.Fatalf("empty chat gained %d messages", n)
	}
}

func TestStreamCompletionNoDefaultProvider(t *testing.T) {
	env := newTestEnv(t, nil)
	chatID := env.seedChat(t, "summarize this")

	for i := 0; i < 2; i++ {
		err := env.service.StreamCompletion(context.Background(), chatID, func(Chunk) error {
			t.Fatal("no chunks expected")
			return nil
		})
		if !errors.Is(err, ErrProviderNotConfigured) {
			t.Fatalf("call %d: expected ErrProviderNotConfigured, got %v", i, err)
		}
	}
	if n := env.messageCount(t, chatID); n != 1 {
		t.Fatalf("precondition failure must not write, have %d messages", n)
	}
}

func TestStreamCompletionUnsupportedVendor(t *testing.T) {
	env := newTestEnv(t, nil)
	env.configureDefault(t)
	chatID := env.seedChat(t, "summarize this")

	env.service.buildTransport = func(registry.BuildOptions) (providers.Transport, error) {
		return nil, fmt.Errorf("%w: %q", registry.ErrUnsupportedVendor, "legacy")
	}

	err := env.service.StreamCompletion(context.Background(), chatID, nil)
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
	if n := env.messageCount(t, chatID); n != 1 {
		t.Fatalf("precondition failure must not write, have %d messages", n)
	}
}

func TestStreamCompletionHappyPath(t *testing.T) {
	env := newTestEnv(t, nil)
	providerID := env.configureDefault(t)
	chatID := env.seedChat(t, "summarize this", "an earlier answer", "what about indexes?")

	transport := &fakeTransport{chunks: []string{"Here ", "is a ", "summary."}}
	env.service.buildTransport = func(registry.BuildOptions) (providers.Transport, error) {
		return transport, nil
	}

	var got []string
	err := env.service.StreamCompletion(context.Background(), chatID, func(c Chunk) error {
		got = append(got, c.Text)
		return nil
	})
	if err != nil {
		t.Fatalf("stream completion: %v", err)
	}
	if strings.Join(got, "") != "Here is a summary." {
		t.Fatalf("chunks out of order or missing: %q", got)
	}

	// History handed to the transport is chronological.
	if len(transport.seen) != 3 {
		t.Fatalf("expected 3 history messages, got %d", len(transport.seen))
	}
	if transport.seen[0].Content != "summarize this" || transport.seen[2].Content != "what about indexes?" {
		t.Fatalf("history not chronological: %+v", transport.seen)
	}

	msgs, err := env.store.ListMessages(context.Background(), chatID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("expected exactly one new message, have %d total", len(msgs))
	}
	latest := msgs[0]
	if latest.Role != storage.RoleAssistant {
		t.Fatalf("expected assistant message, got %q", latest.Role)
	}
	if latest.Body != "Here is a summary." {
		t.Fatalf("persisted body mismatch: %q", latest.Body)
	}
	if latest.ProviderID == nil || *latest.ProviderID != providerID {
		t.Fatalf("provider attribution missing: %+v", latest.ProviderID)
	}
	if latest.Model == nil || *latest.Model != "claude-sonnet-4-5" {
		t.Fatalf("model attribution missing: %+v", latest.Model)
	}
}

func TestStreamCompletionCancellationPersistsPartial(t *testing.T) {
	env := newTestEnv(t, nil)
	env.configureDefault(t)
	chatID := env.seedChat(t, "summarize this")

	transport := &fakeTransport{chunks: []string{"one ", "two ", "three ", "four"}}
	env.service.buildTransport = func(registry.BuildOptions) (providers.Transport, error) {
		return transport, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var delivered int
	err := env.service.StreamCompletion(ctx, chatID, func(Chunk) error {
		delivered++
		if delivered == 2 {
			cancel()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("cancellation should end the stream cleanly, got %v", err)
	}
	if delivered != 2 {
		t.Fatalf("expected 2 delivered chunks, got %d", delivered)
	}

	msgs, err := env.store.ListMessages(context.Background(), chatID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected exactly one persisted assistant message, have %d total", len(msgs))
	}
	if msgs[0].Body != "one two " {
		t.Fatalf("expected partial text persisted, got %q", msgs[0].Body)
	}
}

func TestStreamCompletionTransportFailurePersistsPartial(t *testing.T) {
	env := newTestEnv(t, nil)
	env.configureDefault(t)
	chatID := env.seedChat(t, "summarize this")

	transport := &fakeTransport{chunks: []string{"Partial"}, err: errors.New("connection reset")}
	env.service.buildTransport = func(registry.BuildOptions) (providers.Transport, error) {
		return transport, nil
	}

	err := env.service.StreamCompletion(context.Background(), chatID, func(Chunk) error { return nil })
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransportError, got %v", err)
	}

	msgs, lerr := env.store.ListMessages(context.Background(), chatID)
	if lerr != nil {
		t.Fatalf("list messages: %v", lerr)
	}
	if len(msgs) != 2 || msgs[0].Body != "Partial" {
		t.Fatalf("expected persisted partial text, got %+v", msgs)
	}
}

func TestStreamCompletionZeroChunksPersistsEmptyMessage(t *testing.T) {
	env := newTestEnv(t, nil)
	providerID := env.configureDefault(t)
	chatID := env.seedChat(t, "summarize this")

	transport := &fakeTransport{}
	env.service.buildTransport = func(registry.BuildOptions) (providers.Transport, error) {
		return transport, nil
	}

	err := env.service.StreamCompletion(context.Background(), chatID, func(Chunk) error {
		t.Fatal("no chunks expected")
		return nil
	})
	if err != nil {
		t.Fatalf("stream completion: %v", err)
	}

	msgs, err := env.store.ListMessages(context.Background(), chatID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("an empty stream must still persist one assistant message, have %d total", len(msgs))
	}
	if msgs[0].Role != storage.RoleAssistant || msgs[0].Body != "" {
		t.Fatalf("expected empty-bodied assistant message, got %+v", msgs[0])
	}
	if msgs[0].ProviderID == nil || *msgs[0].ProviderID != providerID {
		t.Fatalf("empty message still carries attribution: %+v", msgs[0].ProviderID)
	}
}

func TestStreamCompletionPersistenceErrorWinsOverTransportError(t *testing.T) {
	env := newTestEnv(t, nil)
	env.configureDefault(t)
	chatID := env.seedChat(t, "summarize this")

	transport := &fakeTransport{chunks: []string{"Partial"}, err: errors.New("connection reset")}
	env.service.buildTransport = func(registry.BuildOptions) (providers.Transport, error) {
		return transport, nil
	}

	// Closing the store from inside the callback makes the finalize write
	// fail after the transport has also errored.
	err := env.service.StreamCompletion(context.Background(), chatID, func(Chunk) error {
		if cerr := env.store.Close(); cerr != nil {
			t.Fatalf("close store: %v", cerr)
		}
		return nil
	})

	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *PersistenceError when the finalize write fails, got %v", err)
	}
	var te *TransportError
	if errors.As(err, &te) {
		t.Fatal("persistence failure must take precedence over the transport error")
	}
}

func TestStreamCompletionCallerErrorReturnedUnchanged(t *testing.T) {
	env := newTestEnv(t, nil)
	env.configureDefault(t)
	chatID := env.seedChat(t, "summarize this")

	transport := &fakeTransport{chunks: []string{"a", "b", "c"}}
	env.service.buildTransport = func(registry.BuildOptions) (providers.Transport, error) {
		return transport, nil
	}

	stop := errors.New("consumer gave up")
	err := env.service.StreamCompletion(context.Background(), chatID, func(c Chunk) error {
		if c.Text == "b" {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected caller error back unchanged, got %v", err)
	}

	var te *TransportError
	if errors.As(err, &te) {
		t.Fatal("caller error must not be wrapped as a transport failure")
	}

	msgs, lerr := env.store.ListMessages(context.Background(), chatID)
	if lerr != nil {
		t.Fatalf("list messages: %v", lerr)
	}
	if len(msgs) != 2 || msgs[0].Body != "ab" {
		t.Fatalf("expected text up to the failing chunk persisted, got %+v", msgs)
	}
}

func TestCreateChatSeedsTranscriptPrompt(t *testing.T) {
	vid := &fakeVideo{
		details: video.Details{
			VideoID: "abc123xyz00",
			URL:     "https://www.youtube.com/watch?v=abc123xyz00",
			Title:   "Databases Explained",
		},
		transcript: "indexes make reads fast and writes slower",
	}
	env := newTestEnv(t, vid)
	env.configureDefault(t)

	c, err := env.service.CreateChat(context.Background(), "https://www.youtube.com/watch?v=abc123xyz00")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if c.Title != "Databases Explained" {
		t.Fatalf("unexpected title: %q", c.Title)
	}

	msgs, err := env.store.ListMessages(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected one seed message, got %d", len(msgs))
	}
	if msgs[0].Role != storage.RoleUser {
		t.Fatalf("seed message must be a user turn, got %q", msgs[0].Role)
	}
	if !strings.Contains(msgs[0].Body, "indexes make reads fast") {
		t.Fatalf("seed message missing transcript: %q", msgs[0].Body)
	}
	if !strings.Contains(msgs[0].Body, "Databases Explained") {
		t.Fatalf("seed message missing title: %q", msgs[0].Body)
	}
}

func TestCreateChatRequiresProvider(t *testing.T) {
	vid := &fakeVideo{transcript: "text"}
	env := newTestEnv(t, vid)

	_, err := env.service.CreateChat(context.Background(), "https://youtu.be/abc123xyz00")
	if !errors.Is(err, ErrProviderNotConfigured) {
		t.Fatalf("expected ErrProviderNotConfigured, got %v", err)
	}

	chats, lerr := env.store.ListChats(context.Background())
	if lerr != nil {
		t.Fatalf("list chats: %v", lerr)
	}
	if len(chats) != 0 {
		t.Fatalf("failed creation must not leave rows, got %d", len(chats))
	}
}

func TestCreateChatInvalidURL(t *testing.T) {
	env := newTestEnv(t, nil)
	env.configureDefault(t)

	_, err := env.service.CreateChat(context.Background(), "https://example.com/not-a-video")
	if !errors.Is(err, ErrInvalidVideo) {
		t.Fatalf("expected ErrInvalidVideo, got %v", err)
	}
}

func TestCreateChatNoTranscript(t *testing.T) {
	vid := &fakeVideo{
		details:    video.Details{VideoID: "abc123xyz00", Title: "Silent Film"},
		transcript: "",
	}
	env := newTestEnv(t, vid)
	env.configureDefault(t)

	_, err := env.service.CreateChat(context.Background(), "https://youtu.be/abc123xyz00")
	if !errors.Is(err, ErrNoTranscript) {
		t.Fatalf("expected ErrNoTranscript, got %v", err)
	}
}

func TestChatDetailChronological(t *testing.T) {
	env := newTestEnv(t, nil)
	chatID := env.seedChat(t, "first", "second", "third")

	detail, err := env.service.Chat(context.Background(), chatID)
	if err != nil {
		t.Fatalf("chat detail: %v", err)
	}
	if len(detail.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(detail.Messages))
	}
	for i, want := range []string{"first", "second", "third"} {
		if detail.Messages[i].Body != want {
			t.Fatalf("position %d: expected %q, got %q", i, want, detail.Messages[i].Body)
		}
	}
}

func TestAppendUserMessageValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	chatID := env.seedChat(t, "seed")

	if _, err := env.service.AppendUserMessage(context.Background(), uuid.New(), "hello"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing chat, got %v", err)
	}
	if _, err := env.service.AppendUserMessage(context.Background(), chatID, "   "); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for empty body, got %v", err)
	}

	m, err := env.service.AppendUserMessage(context.Background(), chatID, "  a question  ")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if m.Body != "a question" {
		t.Fatalf("body not trimmed: %q", m.Body)
	}
}

func TestDeleteChatNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	if err := env.service.DeleteChat(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
