package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"

	"codemorph/pkg/domain"
)

// Provider resolves named secrets from an external key/value store.
type Provider interface {
	Get(ctx context.Context, name string) (string, error)
}

// EnvProvider resolves secrets from environment variables. It is the default
// backend for local development.
type EnvProvider struct{}

func (EnvProvider) Get(_ context.Context, name string) (string, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return "", fmt.Errorf("%w: env %s not set", domain.ErrCredential, name)
	}
	return v, nil
}

// Bundle holds the credentials the service resolves at startup. They are
// never embedded in source and never returned in any response.
type Bundle struct {
	AppPrivateKeyPEM []byte
	WebhookSecret    []byte
	ClientSecret     string
	LLMAPIKey        string
}

// BundleNames identifies which secret names to resolve.
type BundleNames struct {
	PrivateKey    string
	WebhookSecret string
	ClientSecret  string
	LLMAPIKey     string
}

// LoadBundle resolves all credentials. The private key and webhook secret are
// mandatory; a missing LLM key is mandatory too since every job needs it. The
// client secret is optional (only used for OAuth flows).
func LoadBundle(ctx context.Context, p Provider, names BundleNames) (Bundle, error) {
	var b Bundle
	pem, err := p.Get(ctx, names.PrivateKey)
	if err != nil {
		return b, fmt.Errorf("resolve app private key: %w", err)
	}
	b.AppPrivateKeyPEM = []byte(pem)
	wh, err := p.Get(ctx, names.WebhookSecret)
	if err != nil {
		return b, fmt.Errorf("resolve webhook secret: %w", err)
	}
	b.WebhookSecret = []byte(wh)
	if names.LLMAPIKey != "" {
		key, err := p.Get(ctx, names.LLMAPIKey)
		if err != nil {
			return b, fmt.Errorf("resolve llm api key: %w", err)
		}
		b.LLMAPIKey = key
	}
	if names.ClientSecret != "" {
		cs, err := p.Get(ctx, names.ClientSecret)
		if err == nil {
			b.ClientSecret = cs
		}
	}
	return b, nil
}
