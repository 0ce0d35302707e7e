package evolution

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendText(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("apikey")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := New(srv.URL, "secret-key")
	if err := c.SendText(context.Background(), "inst-1", "5511999@s.whatsapp.net", "olá"); err != nil {
		t.Fatalf("send text: %v", err)
	}

	if gotPath != "/message/sendText/inst-1" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "secret-key" {
		t.Errorf("apikey header = %q", gotKey)
	}
	if gotBody["number"] != "5511999@s.whatsapp.net" || gotBody["text"] != "olá" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestSendPresence(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
	}))
	defer srv.Close()

	c := New(srv.URL, "k")
	if err := c.SendPresence(context.Background(), "inst-1", "num", PresenceRecording); err != nil {
		t.Fatalf("send presence: %v", err)
	}

	if gotPath != "/chat/sendPresence/inst-1" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["presence"] != "recording" {
		t.Errorf("presence = %v", gotBody["presence"])
	}
	if delay, ok := gotBody["delay"].(float64); !ok || int(delay) != 1200 {
		t.Errorf("delay = %v", gotBody["delay"])
	}
}

func TestSendText_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, "bad")
	if err := c.SendText(context.Background(), "i", "n", "t"); err == nil {
		t.Fatal("expected error on 401")
	}
}

func TestDownloadMedia(t *testing.T) {
	payload := []byte{0x4f, 0x67, 0x67, 0x53} // ogg magic
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write(payload)
	}))
	defer srv.Close()

	c := New(srv.URL, "k")
	got, err := c.DownloadMedia(context.Background(), srv.URL+"/media/abc.ogg")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("payload = %x", got)
	}
}

func TestDownloadMedia_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := New(srv.URL, "k")
	if _, err := c.DownloadMedia(context.Background(), srv.URL+"/missing"); err == nil {
		t.Fatal("expected error on 404")
	}
}
