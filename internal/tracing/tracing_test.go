package tracing

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestSetup_Disabled(t *testing.T) {
	before := otel.GetTracerProvider()
	shutdown, err := Setup(context.Background(), Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
	if otel.GetTracerProvider() != before {
		t.Error("disabled tracing must not replace the global provider")
	}
}

func TestSetup_ExportsToCollector(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case got <- r.URL.Path:
		default:
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	before := otel.GetTracerProvider()
	defer otel.SetTracerProvider(before)

	shutdown, err := Setup(context.Background(), Config{
		Endpoint: strings.TrimPrefix(srv.URL, "http://"),
		Insecure: true,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	_, span := otel.Tracer("test").Start(context.Background(), "op")
	span.End()

	// Shutdown flushes the batcher.
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	select {
	case path := <-got:
		if path != "/v1/traces" {
			t.Errorf("unexpected export path %q", path)
		}
	default:
		t.Error("expected spans to be exported on shutdown")
	}
}
