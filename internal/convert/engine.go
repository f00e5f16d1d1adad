// Package convert turns one source file into its target-language equivalent
// through an LLM text generator.
package convert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"codemorph/internal/classify"
	"codemorph/pkg/ai"
	"codemorph/pkg/domain"
)

const (
	defaultAttempts = 3
	defaultBackoff  = 2 * time.Second
	maxBackoff      = 30 * time.Second
)

// Request identifies one file to convert.
type Request struct {
	Path           string
	SourceLanguage string
	TargetLanguage string
	Content        string
}

// Result is a successfully converted file.
type Result struct {
	Path          string
	ConvertedPath string
	Content       string
}

// Engine drives per-file conversion with bounded retries and exponential
// backoff on transient provider failures.
type Engine struct {
	gen      ai.TextGenerator
	attempts int
	backoff  time.Duration
}

// New builds an engine over the given generator.
func New(gen ai.TextGenerator) *Engine {
	return &Engine{gen: gen, attempts: defaultAttempts, backoff: defaultBackoff}
}

// Convert invokes the LLM and validates its output. Unusable output after
// all attempts yields ErrConversion; provider quota exhaustion yields
// ErrUpstreamQuota. A failure here applies to this file only.
func (e *Engine) Convert(ctx context.Context, req Request) (Result, error) {
	system := systemPrompt(req.SourceLanguage, req.TargetLanguage)
	user := userPrompt(req.Path, req.SourceLanguage, req.TargetLanguage, req.Content)

	var lastErr error
	for attempt := 0; attempt < e.attempts; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, e.backoff, attempt); err != nil {
				return Result{}, err
			}
		}
		text, err := e.gen.GenerateText(ctx, system, user)
		if err != nil {
			if errors.Is(err, ai.ErrQuota) {
				lastErr = fmt.Errorf("%w: %v", domain.ErrUpstreamQuota, err)
			} else {
				lastErr = err
			}
			continue
		}
		code, err := extractCode(text, req.TargetLanguage)
		if err != nil {
			lastErr = err
			continue
		}
		return Result{
			Path:          req.Path,
			ConvertedPath: classify.ConvertedPath(req.Path, req.TargetLanguage),
			Content:       code,
		}, nil
	}
	if errors.Is(lastErr, domain.ErrUpstreamQuota) {
		return Result{}, lastErr
	}
	return Result{}, fmt.Errorf("%w: %s after %d attempts: %v", domain.ErrConversion, req.Path, e.attempts, lastErr)
}

func sleepBackoff(ctx context.Context, base time.Duration, attempt int) error {
	delay := base << (attempt - 1)
	if delay > maxBackoff {
		delay = maxBackoff
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// extractCode pulls the converted source out of the response. The model is
// told to answer with a single fenced block; bare responses are accepted as
// long as they pass the plausibility check.
func extractCode(text, targetLanguage string) (string, error) {
	code := text
	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		// Skip the info string on the opening fence.
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		end := strings.Index(rest, "```")
		if end < 0 {
			return "", fmt.Errorf("unterminated code fence in response")
		}
		code = rest[:end]
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return "", fmt.Errorf("response contained no code")
	}
	if strings.Contains(code, "```") {
		return "", fmt.Errorf("response contained multiple code fences")
	}
	if !plausible(code, targetLanguage) {
		return "", fmt.Errorf("response does not look like %s", targetLanguage)
	}
	return code, nil
}

// plausible is a cheap syntax sanity check, not a compile.
func plausible(code, targetLanguage string) bool {
	switch targetLanguage {
	case "python":
		return strings.Contains(code, "import ") || strings.Contains(code, "def ") ||
			strings.Contains(code, "=") || strings.Contains(code, "print(")
	case "go":
		return strings.Contains(code, "package ") || strings.Contains(code, "func ")
	case "javascript", "typescript":
		return strings.Contains(code, "function") || strings.Contains(code, "const ") ||
			strings.Contains(code, "=>") || strings.Contains(code, "=")
	case "ruby":
		return strings.Contains(code, "def ") || strings.Contains(code, "require") ||
			strings.Contains(code, "=")
	case "rust":
		return strings.Contains(code, "fn ") || strings.Contains(code, "use ")
	default:
		return true
	}
}
