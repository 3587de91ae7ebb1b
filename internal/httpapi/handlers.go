package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/binnykanjur/caption-zen/internal/chat"
	"github.com/binnykanjur/caption-zen/internal/queue"
	"github.com/binnykanjur/caption-zen/internal/storage"
)

type chatSummary struct {
	ID        uuid.UUID `json:"id"`
	VideoURL  string    `json:"video_url"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

type chatDetail struct {
	ID          uuid.UUID     `json:"id"`
	VideoURL    string        `json:"video_url"`
	Title       string        `json:"title"`
	Description *string       `json:"description,omitempty"`
	Thumbnail   string        `json:"thumbnail,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	Messages    []chatMessage `json:"messages"`
}

type chatMessage struct {
	ID         int64      `json:"id"`
	Role       string     `json:"role"`
	Body       string     `json:"body"`
	CreatedAt  time.Time  `json:"created_at"`
	ProviderID *uuid.UUID `json:"provider_id,omitempty"`
	Model      *string    `json:"model,omitempty"`
}

type providerView struct {
	ID               uuid.UUID `json:"id"`
	Vendor           string    `json:"vendor"`
	Name             string    `json:"name"`
	EndpointRequired bool      `json:"endpoint_required"`
	Endpoint         *string   `json:"endpoint,omitempty"`
	EndpointHint     string    `json:"endpoint_hint"`
	APIKeyRequired   bool      `json:"api_key_required"`
	APIKeySet        bool      `json:"api_key_set"`
	APIKeyHint       string    `json:"api_key_hint"`
	ModelRequired    bool      `json:"model_required"`
	Model            *string   `json:"model,omitempty"`
	ModelHint        string    `json:"model_hint"`
	HelpText         string    `json:"help_text"`
	GetStartedText   string    `json:"get_started_text"`
	GetStartedURL    string    `json:"get_started_url"`
	IsDefault        bool      `json:"is_default"`
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.chats.ListChats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]chatSummary, 0, len(chats))
	for _, c := range chats {
		out = append(out, chatSummary{ID: c.ID, VideoURL: c.VideoURL, Title: c.Title, CreatedAt: c.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VideoURL string `json:"video_url"`
		Async    bool   `json:"async"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}

	if req.Async && s.ingest != nil {
		jobID, err := s.ingest.Enqueue(r.Context(), queue.IngestJob{VideoURL: req.VideoURL})
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.metrics.EnqueuedJobs.Inc()
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
		return
	}

	c, err := s.chats.CreateChat(r.Context(), req.VideoURL)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, chatSummary{ID: c.ID, VideoURL: c.VideoURL, Title: c.Title, CreatedAt: c.CreatedAt})
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	detail, err := s.chats.Chat(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := chatDetail{
		ID:          detail.Chat.ID,
		VideoURL:    detail.Chat.VideoURL,
		Title:       detail.Chat.Title,
		Description: detail.Chat.Description,
		CreatedAt:   detail.Chat.CreatedAt,
		Messages:    make([]chatMessage, 0, len(detail.Messages)),
	}
	if len(detail.Chat.Thumbnail) > 0 {
		out.Thumbnail = base64.StdEncoding.EncodeToString(detail.Chat.Thumbnail)
	}
	for _, m := range detail.Messages {
		out.Messages = append(out.Messages, chatMessage{
			ID:         m.ID,
			Role:       string(m.Role),
			Body:       m.Body,
			CreatedAt:  m.CreatedAt,
			ProviderID: m.ProviderID,
			Model:      m.Model,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	if err := s.chats.DeleteChat(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	var req struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}
	m, err := s.chats.AppendUserMessage(r.Context(), id, req.Body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, chatMessage{
		ID:        m.ID,
		Role:      string(m.Role),
		Body:      m.Body,
		CreatedAt: m.CreatedAt,
	})
}

// handleStreamCompletion runs one completion and relays chunks as
// server-sent events. Errors that surface before the first chunk map to a
// proper status code; after that the response is committed and failures
// arrive as an "error" event.
func (s *Server) handleStreamCompletion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}

	if s.limiter != nil {
		allowed, _, resetAt, err := s.limiter.Allow(r.Context(), id, time.Now())
		if err != nil {
			s.writeError(w, err)
			return
		}
		if !allowed {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(time.Until(resetAt).Seconds())))
			writeJSON(w, http.StatusTooManyRequests, errorBody("completion rate limit reached"))
			return
		}
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		writeJSON(w, http.StatusInternalServerError, errorBody("streaming unsupported"))
		return
	}

	headersSent := false
	sendEvent := func(event string, payload any) {
		if !headersSent {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
			headersSent = true
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
		flusher.Flush()
	}

	err := s.chats.StreamCompletion(r.Context(), id, func(c chat.Chunk) error {
		sendEvent("chunk", map[string]string{"text": c.Text})
		return nil
	})
	if err != nil {
		if headersSent {
			sendEvent("error", errorBody(publicError(err)))
			return
		}
		s.writeError(w, err)
		return
	}
	sendEvent("done", map[string]bool{"done": true})
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := s.settings.Providers(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	defaultID, err := s.settings.DefaultProviderID(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]providerView, 0, len(providers))
	for _, p := range providers {
		keySet, err := s.settings.HasAPIKey(r.Context(), p.ID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		out = append(out, providerToView(p, keySet, defaultID))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSaveProvider(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	var req struct {
		Endpoint    *string `json:"endpoint"`
		Model       *string `json:"model"`
		APIKey      string  `json:"api_key"`
		MakeDefault bool    `json:"make_default"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}
	if err := s.settings.Save(r.Context(), id, req.Endpoint, req.Model, req.APIKey, req.MakeDefault); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetDefaultProvider(w http.ResponseWriter, r *http.Request) {
	id, err := s.settings.DefaultProviderID(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*uuid.UUID{"default_provider_id": id})
}

func providerToView(p storage.Provider, keySet bool, defaultID *uuid.UUID) providerView {
	return providerView{
		ID:               p.ID,
		Vendor:           string(p.Vendor),
		Name:             p.Name,
		EndpointRequired: p.EndpointRequired,
		Endpoint:         p.Endpoint,
		EndpointHint:     p.EndpointHint,
		APIKeyRequired:   p.APIKeyRequired,
		APIKeySet:        keySet,
		APIKeyHint:       p.APIKeyHint,
		ModelRequired:    p.ModelRequired,
		Model:            p.Model,
		ModelHint:        p.ModelHint,
		HelpText:         p.HelpText,
		GetStartedText:   p.GetStartedText,
		GetStartedURL:    p.GetStartedURL,
		IsDefault:        defaultID != nil && *defaultID == p.ID,
	}
}

func pathUUID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid id"))
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, chat.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, chat.ErrInvalidVideo), errors.Is(err, chat.ErrInvalidState):
		status = http.StatusBadRequest
	case errors.Is(err, chat.ErrNoTranscript):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, chat.ErrProviderNotConfigured), errors.Is(err, chat.ErrUnsupportedProvider):
		status = http.StatusConflict
	default:
		status = http.StatusInternalServerError
		s.logger.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, errorBody(publicError(err)))
}

// publicError hides internals behind a generic message for 5xx-class
// failures while letting sentinel-backed errors through verbatim.
func publicError(err error) string {
	switch {
	case errors.Is(err, chat.ErrNotFound),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, chat.ErrInvalidVideo),
		errors.Is(err, chat.ErrInvalidState),
		errors.Is(err, chat.ErrNoTranscript),
		errors.Is(err, chat.ErrProviderNotConfigured),
		errors.Is(err, chat.ErrUnsupportedProvider):
		return err.Error()
	default:
		return "internal error"
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
