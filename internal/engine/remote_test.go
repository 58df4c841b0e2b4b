package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tzamtzis/obsidian-transcription-plugin/internal/domain"
	"github.com/tzamtzis/obsidian-transcription-plugin/internal/logging"
)

func newRemoteTestServer(t *testing.T, handler http.HandlerFunc) (*RemoteEngine, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := openai.DefaultConfig("sk-test-key-0123456789abcdef")
	cfg.BaseURL = server.URL + "/v1"
	return NewRemoteEngineWithConfig(cfg, logging.Discard()), server
}

func tempAudioFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audio.wav")
	if err := os.WriteFile(path, []byte("RIFF....WAVE"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	return path
}

// TestRemoteTranscribeParsesSegments verifies the multipart upload and
// verbose response mapping.
func TestRemoteTranscribeParsesSegments(t *testing.T) {
	var sawLanguage string
	engine, _ := newRemoteTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("expected multipart payload: %v", err)
		}
		sawLanguage = r.FormValue("language")
		if r.FormValue("model") == "" {
			t.Error("model field missing from upload")
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"task":     "transcribe",
			"text":     "Hello world.",
			"language": "en",
			"duration": 2.8,
			"segments": []map[string]any{
				{"start": 0.0, "end": 1.2, "text": "Hello"},
				{"start": 1.2, "end": 2.8, "text": "world."},
			},
		})
	})

	got, err := engine.Transcribe(context.Background(), tempAudioFile(t), Options{Language: "en"})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if sawLanguage != "en" {
		t.Fatalf("language field = %q, want en", sawLanguage)
	}
	if len(got.Segments) != 2 || got.Segments[1].End != 2.8 {
		t.Fatalf("unexpected segments: %+v", got.Segments)
	}
	if got.Language != "en" || got.Duration != 2.8 {
		t.Fatalf("metadata = %q/%v", got.Language, got.Duration)
	}
}

// TestRemoteTranscribeOmitsLanguageOnAuto verifies the auto-detect
// hint is not sent to the API.
func TestRemoteTranscribeOmitsLanguageOnAuto(t *testing.T) {
	engine, _ := newRemoteTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseMultipartForm(32 << 20)
		if lang := r.FormValue("language"); lang != "" {
			t.Errorf("language field = %q, want omitted", lang)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"text": "hi", "language": "en", "duration": 1.0})
	})

	got, err := engine.Transcribe(context.Background(), tempAudioFile(t), Options{Language: "auto"})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	// A response without segments still yields one unsegmented span.
	if len(got.Segments) != 1 || got.Segments[0].Text != "hi" {
		t.Fatalf("unexpected segments: %+v", got.Segments)
	}
}

func apiError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": message, "type": "invalid_request_error"},
	})
}

// TestRemoteTranscribeErrorMapping covers the status-driven taxonomy.
func TestRemoteTranscribeErrorMapping(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		wantCode domain.FailureCode
		wantKind domain.FailureKind
	}{
		{"unauthorized", http.StatusUnauthorized, domain.CodeUnauthorized, domain.KindConfig},
		{"payload too large", http.StatusRequestEntityTooLarge, domain.CodePayloadTooLarge, domain.KindConfig},
		{"rate limited", http.StatusTooManyRequests, domain.CodeRateLimited, domain.KindTransient},
		{"server error", http.StatusBadGateway, domain.CodeRemoteError, domain.KindTransient},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine, _ := newRemoteTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				apiError(w, tc.status, tc.name)
			})

			_, err := engine.Transcribe(context.Background(), tempAudioFile(t), Options{})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := domain.CodeOf(err); got != tc.wantCode {
				t.Fatalf("code = %s, want %s", got, tc.wantCode)
			}
			if got := domain.KindOf(err); got != tc.wantKind {
				t.Fatalf("kind = %s, want %s", got, tc.wantKind)
			}
		})
	}
}

// TestRemoteTranscribeCancelled verifies the request aborts promptly.
func TestRemoteTranscribeCancelled(t *testing.T) {
	engine, _ := newRemoteTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Transcribe(ctx, tempAudioFile(t), Options{})
	if domain.KindOf(err) != domain.KindCancelled {
		t.Fatalf("kind = %s, want cancelled", domain.KindOf(err))
	}
}
