package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(context.Background(), "sqlite", dsn, true, "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSeedProviders(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	providers, err := s.ListProviders(ctx)
	if err != nil {
		t.Fatalf("list providers: %v", err)
	}
	if len(providers) != 4 {
		t.Fatalf("expected 4 seeded providers, got %d", len(providers))
	}

	seen := map[Vendor]bool{}
	for _, p := range providers {
		seen[p.Vendor] = true
	}
	for _, v := range []Vendor{VendorOpenAICompat, VendorOllama, VendorOpenAI, VendorAnthropic} {
		if !seen[v] {
			t.Fatalf("missing seeded vendor %q", v)
		}
	}

	anthropic, err := s.GetProvider(ctx, uuid.MustParse(seedAnthropicID))
	if err != nil {
		t.Fatalf("get anthropic provider: %v", err)
	}
	if !anthropic.APIKeyRequired || !anthropic.ModelRequired || anthropic.EndpointRequired {
		t.Fatalf("unexpected anthropic required flags: %+v", anthropic)
	}
}

func TestCreateGetDeleteChat(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	desc := "a talk about databases"
	chat := Chat{
		ID:          uuid.New(),
		VideoURL:    "https://www.youtube.com/watch?v=abc123xyz00",
		Title:       "Databases Explained",
		Description: &desc,
		Thumbnail:   []byte{0xff, 0xd8},
		CreatedAt:   time.Now().UTC(),
	}
	seed := []ChatMessage{{
		ChatID:    chat.ID,
		Role:      RoleUser,
		Body:      "summarize this",
		CreatedAt: chat.CreatedAt,
	}}
	if err := s.CreateChat(ctx, chat, seed); err != nil {
		t.Fatalf("create chat: %v", err)
	}

	got, err := s.GetChat(ctx, chat.ID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if got.Title != chat.Title || got.VideoURL != chat.VideoURL {
		t.Fatalf("unexpected chat: %+v", got)
	}
	if got.Description == nil || *got.Description != desc {
		t.Fatalf("description lost: %+v", got.Description)
	}
	if len(got.Thumbnail) != 2 {
		t.Fatalf("thumbnail lost: %v", got.Thumbnail)
	}

	infos, err := s.ListChats(ctx)
	if err != nil {
		t.Fatalf("list chats: %v", err)
	}
	if len(infos) != 1 || infos[0].ID != chat.ID {
		t.Fatalf("unexpected listing: %+v", infos)
	}

	if err := s.DeleteChat(ctx, chat.ID); err != nil {
		t.Fatalf("delete chat: %v", err)
	}
	if _, err := s.GetChat(ctx, chat.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	msgs, err := s.ListMessages(ctx, chat.ID)
	if err != nil {
		t.Fatalf("list messages after delete: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("messages survived chat deletion: %+v", msgs)
	}
}

func TestDeleteMissingChat(t *testing.T) {
	s := openTestStore(t)
	if err := s.DeleteChat(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListMessagesNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	chat := Chat{ID: uuid.New(), VideoURL: "https://youtu.be/abc123xyz00", Title: "t", CreatedAt: time.Now().UTC()}
	if err := s.CreateChat(ctx, chat, nil); err != nil {
		t.Fatalf("create chat: %v", err)
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	bodies := []string{"first", "second", "third"}
	for i, body := range bodies {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		_, err := s.AppendMessage(ctx, ChatMessage{
			ChatID:    chat.ID,
			Role:      role,
			Body:      body,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("append %q: %v", body, err)
		}
	}

	msgs, err := s.ListMessages(ctx, chat.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, want := range []string{"third", "second", "first"} {
		if msgs[i].Body != want {
			t.Fatalf("position %d: expected %q, got %q", i, want, msgs[i].Body)
		}
	}
}

func TestAppendMessageKeepsAttribution(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	chat := Chat{ID: uuid.New(), VideoURL: "https://youtu.be/abc123xyz00", Title: "t", CreatedAt: time.Now().UTC()}
	if err := s.CreateChat(ctx, chat, nil); err != nil {
		t.Fatalf("create chat: %v", err)
	}

	providerID := uuid.MustParse(seedOpenAIID)
	model := "gpt-4o-mini"
	if _, err := s.AppendMessage(ctx, ChatMessage{
		ChatID:     chat.ID,
		Role:       RoleAssistant,
		Body:       "the summary",
		CreatedAt:  time.Now().UTC(),
		ProviderID: &providerID,
		Model:      &model,
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	msgs, err := s.ListMessages(ctx, chat.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	m := msgs[0]
	if m.ProviderID == nil || *m.ProviderID != providerID {
		t.Fatalf("provider attribution lost: %+v", m.ProviderID)
	}
	if m.Model == nil || *m.Model != model {
		t.Fatalf("model attribution lost: %+v", m.Model)
	}
}

func TestUpdateProviderConfig(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id := uuid.MustParse(seedOllamaID)
	endpoint := "http://localhost:11434/"
	model := "phi3.5"
	if err := s.UpdateProviderConfig(ctx, id, &endpoint, &model); err != nil {
		t.Fatalf("update provider config: %v", err)
	}

	p, err := s.GetProvider(ctx, id)
	if err != nil {
		t.Fatalf("get provider: %v", err)
	}
	if p.Endpoint == nil || *p.Endpoint != endpoint {
		t.Fatalf("endpoint not stored: %+v", p.Endpoint)
	}
	if p.Model == nil || *p.Model != model {
		t.Fatalf("model not stored: %+v", p.Model)
	}
	if p.ModifiedAt == nil {
		t.Fatal("modified_at not set")
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.GetSetting(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	v1 := "one"
	if err := s.SetSetting(ctx, "k", &v1, false); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := s.GetSetting(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || *got != "one" {
		t.Fatalf("unexpected value: %v", got)
	}

	v2 := "two"
	if err := s.SetSetting(ctx, "k", &v2, true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err = s.GetSetting(ctx, "k")
	if err != nil {
		t.Fatalf("get after overwrite: %v", err)
	}
	if got == nil || *got != "two" {
		t.Fatalf("unexpected value after overwrite: %v", got)
	}
}
