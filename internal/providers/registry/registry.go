package registry

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/binnykanjur/caption-zen/internal/providers"
	"github.com/binnykanjur/caption-zen/internal/providers/anthropic"
	"github.com/binnykanjur/caption-zen/internal/providers/ollama"
	"github.com/binnykanjur/caption-zen/internal/providers/openai"
	"github.com/binnykanjur/caption-zen/internal/providers/openai_compat"
)

// ErrUnsupportedVendor marks a vendor tag with no registered transport.
var ErrUnsupportedVendor = errors.New("unsupported provider vendor")

type BuildOptions struct {
	Vendor     string
	Endpoint   string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

// Build maps a vendor tag and its validated configuration to a live
// transport. Adding a vendor means adding one case here plus its client
// package; nothing upstream changes.
func Build(opts BuildOptions) (providers.Transport, error) {
	switch opts.Vendor {
	case "openai_compat", "openai-compatible":
		return openai_compat.New(openai_compat.Config{
			BaseURL:    opts.Endpoint,
			APIKey:     opts.APIKey,
			Model:      opts.Model,
			HTTPClient: opts.HTTPClient,
		}), nil

	case "ollama":
		return ollama.New(opts.Endpoint, opts.Model, opts.HTTPClient)

	case "openai":
		return openai.New(opts.APIKey, opts.Model)

	case "anthropic":
		return anthropic.New(opts.APIKey, opts.Model)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVendor, opts.Vendor)
	}
}
