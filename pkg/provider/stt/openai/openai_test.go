package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/MrWong99/hark/pkg/provider/stt"
)

func TestNew_EmptyAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New("", ""); err == nil {
		t.Fatal("expected error for empty apiKey")
	}
}

func TestNew_DefaultModel(t *testing.T) {
	t.Parallel()
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if p.model != DefaultModel {
		t.Errorf("model = %q, want %q", p.model, DefaultModel)
	}
	if p.Name() != "openai" {
		t.Errorf("Name() = %q, want openai", p.Name())
	}
}

func TestBaseLanguage(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"en":    "en",
		"de-DE": "de",
		"pt_BR": "pt",
		"FR":    "fr",
	}
	for in, want := range tests {
		if got := baseLanguage(in); got != want {
			t.Errorf("baseLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	t.Parallel()
	p, _ := New("sk-test", "")
	if _, err := p.Transcribe(context.Background(), stt.Request{}); !errors.Is(err, stt.ErrEmptyAudio) {
		t.Errorf("Transcribe() error = %v, want ErrEmptyAudio", err)
	}
}

func TestTranscribe_MultipartUpload(t *testing.T) {
	t.Parallel()
	var (
		mu     sync.Mutex
		fields = map[string]string{}
		path   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		path = r.URL.Path
		for k, v := range r.MultipartForm.Value {
			fields[k] = v[0]
		}
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": " take me home "})
	}))
	defer srv.Close()

	p, err := New("sk-test", "whisper-1", WithBaseURL(srv.URL+"/v1/"), WithLanguage("de-DE"))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	tr, err := p.Transcribe(context.Background(), stt.Request{
		Audio:      make([]byte, 3200),
		SampleRate: 16000,
		Keywords:   []stt.KeywordBoost{{Keyword: "home"}},
	})
	if err != nil {
		t.Fatalf("Transcribe() error: %v", err)
	}
	if tr.Text != "take me home" {
		t.Errorf("Text = %q, want %q", tr.Text, "take me home")
	}

	mu.Lock()
	defer mu.Unlock()
	if path != "/v1/audio/transcriptions" {
		t.Errorf("path = %q, want /v1/audio/transcriptions", path)
	}
	if fields["model"] != "whisper-1" {
		t.Errorf("model = %q, want whisper-1", fields["model"])
	}
	if fields["language"] != "de" {
		t.Errorf("language = %q, want de", fields["language"])
	}
	if fields["prompt"] != "home" {
		t.Errorf("prompt = %q, want home", fields["prompt"])
	}
}
