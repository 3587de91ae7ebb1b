package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/binnykanjur/caption-zen/internal/secrets"
	"github.com/binnykanjur/caption-zen/internal/storage"
)

const (
	defaultProviderKey = "default_provider_id"
	apiKeySuffix       = "_api_key"
)

// ProviderConfig is a provider row joined with its decrypted API key. The
// plaintext key only ever exists in memory, for the duration of a request.
type ProviderConfig struct {
	storage.Provider
	APIKey string
}

type Service struct {
	store   *storage.Store
	keyring *secrets.Keyring
}

func NewService(store *storage.Store, keyring *secrets.Keyring) *Service {
	return &Service{store: store, keyring: keyring}
}

// DefaultProviderID returns nil without error when no default is set.
func (s *Service) DefaultProviderID(ctx context.Context) (*uuid.UUID, error) {
	value, err := s.store.GetSetting(ctx, defaultProviderKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load default provider id: %w", err)
	}
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil, nil
	}
	id, err := uuid.Parse(*value)
	if err != nil {
		return nil, fmt.Errorf("parse default provider id: %w", err)
	}
	return &id, nil
}

func (s *Service) SetDefaultProviderID(ctx context.Context, id *uuid.UUID) error {
	var value *string
	if id != nil {
		v := id.String()
		value = &v
	}
	return s.store.SetSetting(ctx, defaultProviderKey, value, false)
}

// APIKey returns the decrypted key for the provider, or "" when none is set.
func (s *Service) APIKey(ctx context.Context, providerID uuid.UUID) (string, error) {
	value, err := s.store.GetSetting(ctx, providerID.String()+apiKeySuffix)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("load api key setting: %w", err)
	}
	if value == nil || *value == "" {
		return "", nil
	}
	plain, err := s.keyring.Open(*value)
	if err != nil {
		return "", fmt.Errorf("decrypt api key: %w", err)
	}
	return plain, nil
}

// SetAPIKey seals and stores the key; an empty key clears the stored value.
func (s *Service) SetAPIKey(ctx context.Context, providerID uuid.UUID, apiKey string) error {
	name := providerID.String() + apiKeySuffix
	if strings.TrimSpace(apiKey) == "" {
		return s.store.SetSetting(ctx, name, nil, true)
	}
	sealed, err := s.keyring.Seal(apiKey)
	if err != nil {
		return fmt.Errorf("encrypt api key: %w", err)
	}
	return s.store.SetSetting(ctx, name, &sealed, true)
}

// DefaultProvider resolves the current default provider with its decrypted
// key. Returns nil when no default is set, or when the referenced provider
// row no longer exists.
func (s *Service) DefaultProvider(ctx context.Context) (*ProviderConfig, error) {
	id, err := s.DefaultProviderID(ctx)
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, nil
	}

	p, err := s.store.GetProvider(ctx, *id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load default provider: %w", err)
	}

	apiKey, err := s.APIKey(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return &ProviderConfig{Provider: p, APIKey: apiKey}, nil
}

// Providers lists every provider row, without decrypting any keys.
func (s *Service) Providers(ctx context.Context) ([]storage.Provider, error) {
	return s.store.ListProviders(ctx)
}

// HasAPIKey reports whether a key is stored for the provider without
// decrypting it.
func (s *Service) HasAPIKey(ctx context.Context, providerID uuid.UUID) (bool, error) {
	value, err := s.store.GetSetting(ctx, providerID.String()+apiKeySuffix)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load api key setting: %w", err)
	}
	return value != nil && *value != "", nil
}

// Provider returns a configured provider (with decrypted key) by id.
func (s *Service) Provider(ctx context.Context, id uuid.UUID) (*ProviderConfig, error) {
	p, err := s.store.GetProvider(ctx, id)
	if err != nil {
		return nil, err
	}
	apiKey, err := s.APIKey(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return &ProviderConfig{Provider: p, APIKey: apiKey}, nil
}

// Save updates a provider's endpoint/model, stores its key, and optionally
// marks it as the default.
func (s *Service) Save(ctx context.Context, id uuid.UUID, endpoint, model *string, apiKey string, makeDefault bool) error {
	if err := s.store.UpdateProviderConfig(ctx, id, endpoint, model); err != nil {
		return err
	}
	if err := s.SetAPIKey(ctx, id, apiKey); err != nil {
		return err
	}
	if makeDefault {
		return s.SetDefaultProviderID(ctx, &id)
	}
	return nil
}
