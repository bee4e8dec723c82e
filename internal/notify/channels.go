package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"panwatch/internal/httpclient"
)

// Webhook posts a JSON document to an arbitrary URL.
type Webhook struct {
	name   string
	URL    string
	Client httpclient.Doer
}

type webhookPayload struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

func (w *Webhook) Name() string { return w.name }

func (w *Webhook) Send(ctx context.Context, msg Message) error {
	payload := webhookPayload{Title: msg.Title, Content: msg.Content}
	for _, img := range msg.Images {
		payload.Images = append(payload.Images, base64.StdEncoding.EncodeToString(img))
	}
	return postJSON(ctx, w.Client, w.URL, payload)
}

// Slack posts to an incoming webhook.
type Slack struct {
	name       string
	WebhookURL string
	Client     httpclient.Doer
}

type slackMessage struct {
	Text string `json:"text"`
}

func (s *Slack) Name() string { return s.name }

func (s *Slack) Send(ctx context.Context, msg Message) error {
	return postJSON(ctx, s.Client, s.WebhookURL, slackMessage{Text: "*" + msg.Title + "*\n" + msg.Content})
}

// Telegram sends through the Bot API. Images go out as photos after the text.
type Telegram struct {
	name    string
	BaseURL string
	Token   string
	ChatID  string
	Client  httpclient.Doer
}

// telegramTextLimit is the Bot API cap on message length.
const telegramTextLimit = 4096

func (t *Telegram) Name() string { return t.name }

func (t *Telegram) endpoint(method string) string {
	base := strings.TrimRight(t.BaseURL, "/")
	if base == "" {
		base = "https://api.telegram.org"
	}
	return fmt.Sprintf("%s/bot%s/%s", base, t.Token, method)
}

func (t *Telegram) Send(ctx context.Context, msg Message) error {
	text := msg.Title + "\n\n" + msg.Content
	if r := []rune(text); len(r) > telegramTextLimit {
		text = string(r[:telegramTextLimit-3]) + "..."
	}
	if err := postJSON(ctx, t.Client, t.endpoint("sendMessage"), map[string]string{"chat_id": t.ChatID, "text": text}); err != nil {
		return err
	}
	for i, img := range msg.Images {
		if err := t.sendPhoto(ctx, img, fmt.Sprintf("chart-%d.png", i+1)); err != nil {
			return err
		}
	}
	return nil
}

func (t *Telegram) sendPhoto(ctx context.Context, img []byte, filename string) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("chat_id", t.ChatID); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("photo", filename)
	if err != nil {
		return err
	}
	if _, err := part.Write(img); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint("sendPhoto"), &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return do(t.Client, req)
}

func postJSON(ctx context.Context, client httpclient.Doer, url string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return do(client, req)
}

func do(client httpclient.Doer, req *http.Request) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("http status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
