package storage

import (
	"time"

	"github.com/google/uuid"
)

// Vendor identifies which transport implementation a provider row maps to.
type Vendor string

const (
	VendorOpenAICompat Vendor = "openai_compat"
	VendorOllama       Vendor = "ollama"
	VendorOpenAI       Vendor = "openai"
	VendorAnthropic    Vendor = "anthropic"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Chat struct {
	ID          uuid.UUID
	VideoURL    string
	Title       string
	Description *string
	Thumbnail   []byte
	CreatedAt   time.Time
}

// ChatInfo is the listing projection of a chat, without the thumbnail blob.
type ChatInfo struct {
	ID        uuid.UUID
	VideoURL  string
	Title     string
	CreatedAt time.Time
}

type ChatMessage struct {
	ID        int64
	ChatID    uuid.UUID
	Role      Role
	Body      string
	CreatedAt time.Time

	// Set for assistant messages: the provider/model that produced the body.
	ProviderID *uuid.UUID
	Model      *string
}

// Provider is one configurable LLM backend. The required-field flags drive
// validation before a completion is attempted; the hint fields are static
// UI text seeded alongside the row.
type Provider struct {
	ID     uuid.UUID
	Vendor Vendor
	Name   string

	EndpointRequired bool
	Endpoint         *string
	EndpointHint     string

	APIKeyRequired bool
	APIKeyHint     string

	ModelRequired bool
	Model         *string
	ModelHint     string

	HelpText       string
	GetStartedText string
	GetStartedURL  string

	ModifiedAt *time.Time
}

type Setting struct {
	Name       string
	Value      *string
	Sensitive  bool
	CreatedAt  time.Time
	ModifiedAt *time.Time
}
