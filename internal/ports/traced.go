package ports

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/codi-dev/codi/internal/common/tracing"
)

// Tracing is expressed as explicit wrappers around the ports rather
// than decorators buried in framework internals: wrap at bootstrap,
// and every invocation through the wrapped port gets a span.

const tracerName = "codi-ports"

func tracer() trace.Tracer {
	return tracing.Tracer(tracerName)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

type tracedLLM struct {
	inner LLM
	agent string
}

// WithLLMTracing wraps an LLM port so each invocation is recorded as a
// span attributed to the given agent.
func WithLLMTracing(inner LLM, agent string) LLM {
	return &tracedLLM{inner: inner, agent: agent}
}

func (t *tracedLLM) Invoke(ctx context.Context, modelID string, messages []ChatMessage, tools []ToolDef) (*ChatMessage, error) {
	ctx, span := tracer().Start(ctx, "llm.invoke", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("agent", t.agent),
		attribute.String("model_id", modelID),
		attribute.Int("message_count", len(messages)),
	)
	reply, err := t.inner.Invoke(ctx, modelID, messages, tools)
	endSpan(span, err)
	return reply, err
}

func (t *tracedLLM) Stream(ctx context.Context, modelID string, messages []ChatMessage, tools []ToolDef) (<-chan StreamChunk, error) {
	ctx, span := tracer().Start(ctx, "llm.stream", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("agent", t.agent),
		attribute.String("model_id", modelID),
	)
	ch, err := t.inner.Stream(ctx, modelID, messages, tools)
	endSpan(span, err)
	return ch, err
}

type tracedFilesystem struct {
	inner Filesystem
	agent string
}

// WithFilesystemTracing wraps a Filesystem port with per-call spans.
func WithFilesystemTracing(inner Filesystem, agent string) Filesystem {
	return &tracedFilesystem{inner: inner, agent: agent}
}

func (t *tracedFilesystem) span(ctx context.Context, op, path string) (context.Context, trace.Span) {
	ctx, span := tracer().Start(ctx, "tool.fs."+op, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("agent", t.agent),
		attribute.String("path", path),
	)
	return ctx, span
}

func (t *tracedFilesystem) Read(ctx context.Context, path string) ([]byte, error) {
	ctx, span := t.span(ctx, "read", path)
	data, err := t.inner.Read(ctx, path)
	endSpan(span, err)
	return data, err
}

func (t *tracedFilesystem) Write(ctx context.Context, path string, content []byte) error {
	ctx, span := t.span(ctx, "write", path)
	err := t.inner.Write(ctx, path, content)
	endSpan(span, err)
	return err
}

func (t *tracedFilesystem) Delete(ctx context.Context, path string) error {
	ctx, span := t.span(ctx, "delete", path)
	err := t.inner.Delete(ctx, path)
	endSpan(span, err)
	return err
}

func (t *tracedFilesystem) List(ctx context.Context, dir string) ([]FileEntry, error) {
	ctx, span := t.span(ctx, "list", dir)
	entries, err := t.inner.List(ctx, dir)
	endSpan(span, err)
	return entries, err
}

func (t *tracedFilesystem) Search(ctx context.Context, pattern string) ([]string, error) {
	ctx, span := t.span(ctx, "search", pattern)
	paths, err := t.inner.Search(ctx, pattern)
	endSpan(span, err)
	return paths, err
}

type tracedContainer struct {
	inner Container
	agent string
}

// WithContainerTracing wraps a Container port with per-call spans.
func WithContainerTracing(inner Container, agent string) Container {
	return &tracedContainer{inner: inner, agent: agent}
}

func (t *tracedContainer) span(ctx context.Context, op string) (context.Context, trace.Span) {
	ctx, span := tracer().Start(ctx, "tool.container."+op, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.String("agent", t.agent))
	return ctx, span
}

func (t *tracedContainer) Build(ctx context.Context) (*BuildResult, error) {
	ctx, span := t.span(ctx, "build")
	result, err := t.inner.Build(ctx)
	endSpan(span, err)
	return result, err
}

func (t *tracedContainer) Start(ctx context.Context) (string, string, error) {
	ctx, span := t.span(ctx, "start")
	id, url, err := t.inner.Start(ctx)
	endSpan(span, err)
	return id, url, err
}

func (t *tracedContainer) Stop(ctx context.Context, containerID string) error {
	ctx, span := t.span(ctx, "stop")
	err := t.inner.Stop(ctx, containerID)
	endSpan(span, err)
	return err
}

func (t *tracedContainer) Logs(ctx context.Context, containerID string, tail int) (string, error) {
	ctx, span := t.span(ctx, "logs")
	out, err := t.inner.Logs(ctx, containerID, tail)
	endSpan(span, err)
	return out, err
}
