package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const discordTimeout = 30 * time.Second

// DiscordSink posts to a Discord webhook. Evidence images are attached when
// the file exists.
type DiscordSink struct {
	URL        string
	httpClient *http.Client
	now        func() time.Time
}

func NewDiscordSink(webhookURL string) *DiscordSink {
	return &DiscordSink{
		URL:        webhookURL,
		httpClient: &http.Client{Timeout: discordTimeout},
		now:        time.Now,
	}
}

func (d *DiscordSink) Name() string { return "discord" }

func (d *DiscordSink) Send(ctx context.Context, msg Message) error {
	var text string
	switch msg.Kind {
	case KindImmediate:
		if len(msg.Events) == 1 {
			text = discordDetection(msg.Events[0])
		} else {
			text = discordSummary(msg.Events)
		}
	case KindDaily:
		text = discordSummary(msg.Events)
	case KindTest:
		text = discordTest(d.now())
	default:
		text = msg.Text
	}

	if msg.ImagePath != "" {
		if _, err := os.Stat(msg.ImagePath); err == nil {
			return d.postWithFile(ctx, text, msg.ImagePath)
		}
	}
	return d.postJSON(ctx, text)
}

func (d *DiscordSink) Test(ctx context.Context) (bool, string) {
	if d.URL == "" {
		return false, "Discord webhook URL not configured"
	}
	if err := d.postJSON(ctx, discordTest(d.now())); err != nil {
		return false, err.Error()
	}
	return true, "Test message sent to Discord"
}

func (d *DiscordSink) postJSON(ctx context.Context, content string) error {
	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return d.do(req)
}

func (d *DiscordSink) postWithFile(ctx context.Context, content, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read attachment: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("content", content); err != nil {
		return fmt.Errorf("write content field: %w", err)
	}
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("create form part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, &buf)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return d.do(req)
}

func (d *DiscordSink) do(req *http.Request) error {
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord error: %d %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}
