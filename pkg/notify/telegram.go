// Package notify delivers rendered reports to a Telegram chat through the
// Bot API.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gitlab.com/tinyland/lab/host-pulse/pkg/report"
)

// Defaults applied by NewTelegram when the corresponding Config field is zero.
const (
	DefaultAPIBaseURL      = "https://api.telegram.org"
	DefaultTimeout         = 10 * time.Second
	DefaultAutoDeleteAfter = 24 * time.Hour
)

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 4 << 10

// Config holds the bot credentials and request settings.
type Config struct {
	BotToken        string
	ChannelID       string
	APIBaseURL      string
	Timeout         time.Duration
	AutoDeleteAfter time.Duration
}

// sendMessageRequest is the sendMessage payload.
type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
	MessageAutoDeleteTime int64  `json:"message_auto_delete_time,omitempty"`
}

// apiResponse is the envelope every Bot API reply uses.
type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Telegram posts reports with sendMessage. It is safe for concurrent use.
type Telegram struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// NewTelegram creates a notifier. A nil client uses http.DefaultClient; the
// per-request deadline comes from cfg.Timeout either way.
func NewTelegram(cfg Config, client *http.Client, logger *slog.Logger) *Telegram {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.AutoDeleteAfter < 0 {
		cfg.AutoDeleteAfter = 0
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Telegram{cfg: cfg, client: client, logger: logger}
}

// Deliver sends r and reports whether the API accepted it. Failures are
// logged and never returned.
func (t *Telegram) Deliver(ctx context.Context, r report.Report) bool {
	start := time.Now()
	err := t.Send(ctx, r)
	if err != nil {
		attrs := []any{"error", err, "elapsed", time.Since(start)}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			attrs = append(attrs, "status", apiErr.StatusCode)
			if apiErr.RetryAfter > 0 {
				attrs = append(attrs, "retry_after", apiErr.RetryAfter)
			}
		}
		t.logger.Warn("delivery failed", attrs...)
		return false
	}
	t.logger.Debug("report delivered", "bytes", len(r), "elapsed", time.Since(start))
	return true
}

// Send performs one sendMessage call. Non-2xx responses are returned as
// *APIError.
func (t *Telegram) Send(ctx context.Context, r report.Report) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:                t.cfg.ChannelID,
		Text:                  string(r),
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
		MessageAutoDeleteTime: int64(t.cfg.AutoDeleteAfter / time.Second),
	})
	if err != nil {
		return fmt.Errorf("marshal sendMessage: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	endpoint := t.cfg.APIBaseURL + "/bot" + t.cfg.BotToken + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", redact(err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("sendMessage: %w", redact(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseErrorResponse(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// redact strips the request URL, which carries the bot token, from
// transport errors.
func redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s: %w", urlErr.Op, urlErr.Err)
	}
	return err
}

func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	apiErr := &APIError{StatusCode: resp.StatusCode}
	var env apiResponse
	if err := json.Unmarshal(body, &env); err == nil && env.Description != "" {
		apiErr.Description = env.Description
		if env.Parameters != nil && env.Parameters.RetryAfter > 0 {
			apiErr.RetryAfter = time.Duration(env.Parameters.RetryAfter) * time.Second
		}
		return apiErr
	}
	apiErr.Description = strings.TrimSpace(string(body))
	return apiErr
}
