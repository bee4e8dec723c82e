package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panwatch/pkg/panwatch"
)

type fakeChannel struct {
	name string
	err  error
	mu   sync.Mutex
	got  []Message
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(_ context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, msg)
	return f.err
}

func TestManagerNoChannels(t *testing.T) {
	m := NewManager(nil, 0)
	err := m.Notify(context.Background(), Message{Title: "t"})
	assert.ErrorIs(t, err, ErrNoChannels)
}

func TestManagerPartialFailureSucceeds(t *testing.T) {
	bad := &fakeChannel{name: "bad", err: errors.New("boom")}
	good := &fakeChannel{name: "good"}
	m := NewManager(nil, time.Second, bad, good)

	require.NoError(t, m.Notify(context.Background(), Message{Title: "t", Content: "c"}))
	assert.Len(t, bad.got, 1)
	assert.Len(t, good.got, 1)
	assert.Equal(t, []string{"bad", "good"}, m.Names())
}

func TestManagerAllFail(t *testing.T) {
	a := &fakeChannel{name: "a", err: errors.New("down")}
	b := &fakeChannel{name: "b", err: errors.New("down")}
	m := NewManager(nil, 0, a, b)

	err := m.Notify(context.Background(), Message{Title: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a: down")
	assert.Contains(t, err.Error(), "b: down")
}

func TestWebhookAndSlackPayloads(t *testing.T) {
	var mu sync.Mutex
	bodies := map[string]map[string]any{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		mu.Lock()
		bodies[r.URL.Path] = payload
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	channels := FromConfig(nil, srv.Client(), []panwatch.NotifyChannel{
		{ID: 1, Name: "hook", Type: "webhook", Config: map[string]string{"url": srv.URL + "/hook"}},
		{ID: 2, Type: "slack", Config: map[string]string{"webhook_url": srv.URL + "/slack"}},
	})
	require.Len(t, channels, 2)
	assert.Equal(t, "slack#2", channels[1].Name())

	m := NewManager(nil, time.Second, channels...)
	require.NoError(t, m.Notify(context.Background(), Message{Title: "Alert", Content: "AAPL +3%", Images: [][]byte{[]byte("png")}}))

	assert.Equal(t, "Alert", bodies["/hook"]["title"])
	assert.Equal(t, "AAPL +3%", bodies["/hook"]["content"])
	assert.Equal(t, []any{"cG5n"}, bodies["/hook"]["images"])
	assert.Equal(t, "*Alert*\nAAPL +3%", bodies["/slack"]["text"])
}

func TestFromConfigSkipsInvalid(t *testing.T) {
	channels := FromConfig(nil, http.DefaultClient, []panwatch.NotifyChannel{
		{ID: 1, Type: "webhook", Config: map[string]string{}},
		{ID: 2, Type: "carrier-pigeon"},
		{ID: 3, Type: "telegram", Config: map[string]string{"bot_token": "x"}},
	})
	assert.Empty(t, channels)
}

func TestTelegramSendsTextThenPhotos(t *testing.T) {
	var paths []string
	var text string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if strings.HasSuffix(r.URL.Path, "/sendMessage") {
			var payload map[string]string
			_ = json.NewDecoder(r.Body).Decode(&payload)
			text = payload["text"]
		} else {
			assert.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, "42", r.FormValue("chat_id"))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tg := &Telegram{name: "tg", BaseURL: srv.URL, Token: "tok", ChatID: "42", Client: srv.Client()}
	require.NoError(t, tg.Send(context.Background(), Message{Title: "T", Content: "body", Images: [][]byte{[]byte("img")}}))

	assert.Equal(t, []string{"/bottok/sendMessage", "/bottok/sendPhoto"}, paths)
	assert.Equal(t, "T\n\nbody", text)
}

func TestHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_token", http.StatusForbidden)
	}))
	defer srv.Close()

	s := &Slack{name: "s", WebhookURL: srv.URL, Client: srv.Client()}
	err := s.Send(context.Background(), Message{Title: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "invalid_token")
}
