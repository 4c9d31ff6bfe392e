package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"shelfscan/internal/services"
)

func TestContextAttrs(t *testing.T) {
	ctx := services.WithJobID(context.Background(), "job-42")
	ctx = services.WithStage(ctx, "report")

	attrs := ContextAttrs(ctx)
	if len(attrs) != 2 {
		t.Fatalf("expected job id and stage attrs, got %v", attrs)
	}
	keys := map[string]string{}
	for _, attr := range attrs {
		keys[attr.Key] = attr.Value.String()
	}
	if keys[FieldJobID] != "job-42" || keys[FieldStage] != "report" {
		t.Fatalf("unexpected attr values: %v", keys)
	}
	if got := ContextAttrs(context.Background()); len(got) != 0 {
		t.Fatalf("bare context must yield no attrs, got %v", got)
	}
}

func TestWithContextAnnotatesRecords(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	ctx := services.WithRequestID(context.Background(), "req-7")
	WithContext(ctx, base).Info("hello")

	line := buf.String()
	if !strings.Contains(line, FieldRequestID+"=req-7") {
		t.Fatalf("expected request id on the record, got %q", line)
	}
	if WithContext(context.Background(), nil) == nil {
		t.Fatal("nil logger must fall back to the nop logger")
	}
}
