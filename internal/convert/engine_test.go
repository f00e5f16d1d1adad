package convert

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"codemorph/pkg/ai"
	"codemorph/pkg/domain"
)

type scriptedGenerator struct {
	responses []response
	calls     int
}

type response struct {
	text string
	err  error
}

func (g *scriptedGenerator) GenerateText(_ context.Context, _, _ string) (string, error) {
	if g.calls >= len(g.responses) {
		return "", fmt.Errorf("unexpected call %d", g.calls)
	}
	r := g.responses[g.calls]
	g.calls++
	return r.text, r.err
}

func fastEngine(gen ai.TextGenerator) *Engine {
	e := New(gen)
	e.backoff = time.Millisecond
	return e
}

func pyRequest() Request {
	return Request{
		Path:           "scripts/build.sh",
		SourceLanguage: "shell",
		TargetLanguage: "python",
		Content:        "#!/bin/sh\necho hi\n",
	}
}

func TestConvertExtractsFencedBlock(t *testing.T) {
	gen := &scriptedGenerator{responses: []response{
		{text: "Here you go:\n```python\nimport subprocess\nsubprocess.run([\"echo\", \"hi\"])\n```\n"},
	}}
	res, err := fastEngine(gen).Convert(context.Background(), pyRequest())
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if res.ConvertedPath != "scripts/build.py" {
		t.Fatalf("converted path = %q", res.ConvertedPath)
	}
	if res.Content != "import subprocess\nsubprocess.run([\"echo\", \"hi\"])" {
		t.Fatalf("unexpected content: %q", res.Content)
	}
}

func TestConvertRetriesTransientFailure(t *testing.T) {
	gen := &scriptedGenerator{responses: []response{
		{err: errors.New("connection reset")},
		{text: "```python\nprint(\"hi\")\n```"},
	}}
	res, err := fastEngine(gen).Convert(context.Background(), pyRequest())
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if gen.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", gen.calls)
	}
	if res.Content != "print(\"hi\")" {
		t.Fatalf("unexpected content: %q", res.Content)
	}
}

func TestConvertRetriesUnusableOutputThenFails(t *testing.T) {
	bad := response{text: "I cannot convert this file, sorry!"}
	gen := &scriptedGenerator{responses: []response{bad, bad, bad}}
	_, err := fastEngine(gen).Convert(context.Background(), pyRequest())
	if !errors.Is(err, domain.ErrConversion) {
		t.Fatalf("got %v, want ErrConversion", err)
	}
	if gen.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", gen.calls)
	}
}

func TestConvertQuotaExhaustion(t *testing.T) {
	quota := response{err: fmt.Errorf("%w: 429", ai.ErrQuota)}
	gen := &scriptedGenerator{responses: []response{quota, quota, quota}}
	_, err := fastEngine(gen).Convert(context.Background(), pyRequest())
	if !errors.Is(err, domain.ErrUpstreamQuota) {
		t.Fatalf("got %v, want ErrUpstreamQuota", err)
	}
}

func TestConvertHonorsContextCancellation(t *testing.T) {
	gen := &scriptedGenerator{responses: []response{
		{err: errors.New("transient")},
		{text: "```python\nprint(1)\n```"},
	}}
	e := New(gen) // default 2s backoff keeps the retry sleeping
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Convert(ctx, pyRequest())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestExtractCodeRejections(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"unterminated fence", "```python\nprint(1)\n"},
		{"empty block", "```python\n\n```"},
		{"multiple fences", "```python\nprint(1)\n```\nand\n```python\nprint(2)\n```"},
		{"wrong language shape", "```go\nSELECT * FROM t;\n```"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := extractCode(tc.text, "go"); err == nil {
				t.Fatalf("expected rejection")
			}
		})
	}
}

func TestExtractCodeAcceptsBarePlausibleResponse(t *testing.T) {
	code, err := extractCode("package main\n\nfunc main() {}\n", "go")
	if err != nil {
		t.Fatalf("bare response rejected: %v", err)
	}
	if code != "package main\n\nfunc main() {}" {
		t.Fatalf("unexpected code: %q", code)
	}
}
