package speech

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestVerifyChecksUserEndpoint(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/user" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotKey = r.Header.Get("xi-api-key")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	e := NewElevenLabs("secret", "", "", srv.URL, nil)
	if err := e.Verify(context.Background()); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if gotKey != "secret" {
		t.Errorf("xi-api-key = %q, want secret", gotKey)
	}
}

func TestVerifyChecksAgentWhenConfigured(t *testing.T) {
	paths := make(map[string]bool)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths[r.URL.Path] = true
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	e := NewElevenLabs("secret", "", "agent-1", srv.URL, nil)
	if err := e.Verify(context.Background()); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !paths["/v1/convai/agents/agent-1"] {
		t.Error("agent endpoint was not checked")
	}
}

func TestVerifyFailsOnUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"invalid key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	e := NewElevenLabs("bad", "", "", srv.URL, nil)
	if err := e.Verify(context.Background()); err == nil {
		t.Fatal("expected error on 401")
	}
}

func TestSpeakPostsToVoiceEndpoint(t *testing.T) {
	var gotPath, gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var payload struct {
			Text string `json:"text"`
		}
		json.NewDecoder(r.Body).Decode(&payload)
		gotText = payload.Text
		w.Write([]byte("mp3-bytes"))
	}))
	defer srv.Close()

	var played []byte
	e := NewElevenLabs("secret", "voice-7", "", srv.URL, nil)
	e.Play = func(_ context.Context, audio []byte, _ string) error {
		played = audio
		return nil
	}

	if err := e.Speak(context.Background(), "hello there"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if gotPath != "/v1/text-to-speech/voice-7" {
		t.Errorf("path = %q", gotPath)
	}
	if gotText != "hello there" {
		t.Errorf("text = %q, want hello there", gotText)
	}
	if string(played) != "mp3-bytes" {
		t.Errorf("played = %q, want mp3-bytes", played)
	}
}

func TestNoopSpeakNeverFails(t *testing.T) {
	n := NewNoop(nil)
	if err := n.Verify(context.Background()); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := n.Speak(context.Background(), "anything"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
}
