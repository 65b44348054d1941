package notify

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinels matched by APIError via errors.Is.
var (
	// ErrUnauthorized indicates the bot token was rejected.
	ErrUnauthorized = errors.New("bot token rejected")
	// ErrChatNotFound indicates the channel id is unknown to the bot.
	ErrChatNotFound = errors.New("chat not found")
	// ErrRateLimited indicates the bot hit a flood limit.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// APIError is a non-2xx reply from the Bot API.
type APIError struct {
	StatusCode  int
	Description string
	// RetryAfter is the flood-control hint, zero when absent.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("telegram API error %d", e.StatusCode)
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	return msg
}

// Is implements errors.Is for sentinel error matching.
func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return target == ErrUnauthorized
	case http.StatusBadRequest:
		return target == ErrChatNotFound && e.Description == "Bad Request: chat not found"
	case http.StatusTooManyRequests:
		return target == ErrRateLimited
	}
	return false
}
