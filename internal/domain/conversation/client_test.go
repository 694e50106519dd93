package conversation

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"maitri-console-go/internal/domain/remote"
	"maitri-console-go/internal/platform/logging"
)

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger, err := logging.New(logging.Config{Level: "ERROR"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return logger
}

func TestStartSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/invoke" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		var payload map[string]string
		if err := sonic.Unmarshal(raw, &payload); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if payload["emotion"] != "happy" {
			t.Errorf("expected seed emotion happy, got %s", payload["emotion"])
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"conversation_id":"c1","emotion":"happy","response_text":"I see you're happy!","audio_url":"/audio/c1.mp3"}`))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{ChatURL: srv.URL}, testLogger(t))

	result, err := client.StartSession(context.Background(), "happy")
	if err != nil {
		t.Fatalf("start session failed: %v", err)
	}
	if result.SessionID != "c1" {
		t.Errorf("expected session id c1, got %s", result.SessionID)
	}
	if result.AssistantText != "I see you're happy!" {
		t.Errorf("unexpected assistant text %q", result.AssistantText)
	}
	if result.AudioURL != "/audio/c1.mp3" {
		t.Errorf("unexpected audio url %q", result.AudioURL)
	}
}

func TestSendText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/respond-text" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		var payload map[string]string
		_ = sonic.Unmarshal(raw, &payload)
		if payload["conversation_id"] != "c1" || payload["text"] != "hello" {
			t.Errorf("unexpected payload %v", payload)
		}
		w.Write([]byte(`{"conversation_id":"c1","response_text":"hi there","audio_url":""}`))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{ChatURL: srv.URL}, testLogger(t))

	result, err := client.SendText(context.Background(), "c1", "hello")
	if err != nil {
		t.Fatalf("send text failed: %v", err)
	}
	if result.AssistantText != "hi there" {
		t.Errorf("unexpected reply %q", result.AssistantText)
	}
	// absent audio is not an error
	if result.AudioURL != "" {
		t.Errorf("expected empty audio url, got %q", result.AudioURL)
	}
}

func TestSendVoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/respond" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("conversation_id"); got != "c1" {
			t.Errorf("expected conversation_id c1, got %s", got)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("missing file field: %v", err)
		}
		blob, _ := io.ReadAll(file)
		if string(blob) != "wav-bytes" {
			t.Errorf("audio payload corrupted: %q", blob)
		}
		w.Write([]byte(`{"conversation_id":"c1","transcription":"how are you","response_text":"doing well","audio_url":"/audio/r2.mp3"}`))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{ChatURL: srv.URL}, testLogger(t))

	result, err := client.SendVoice(context.Background(), "c1", []byte("wav-bytes"))
	if err != nil {
		t.Fatalf("send voice failed: %v", err)
	}
	if result.Transcript != "how are you" {
		t.Errorf("unexpected transcript %q", result.Transcript)
	}
}

func TestClient_RemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"Invalid emotion"}`))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{ChatURL: srv.URL}, testLogger(t))

	_, err := client.StartSession(context.Background(), "bogus")
	if !remote.IsRemote(err) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if err.Error() != "Invalid emotion" {
		t.Errorf("expected backend message, got %q", err.Error())
	}
}

func TestClient_TransportError(t *testing.T) {
	client := NewClient(ClientConfig{
		ChatURL:        "http://127.0.0.1:1",
		RequestTimeout: 200 * time.Millisecond,
	}, testLogger(t))

	_, err := client.SendText(context.Background(), "c1", "hello")
	if !remote.IsTransport(err) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}
