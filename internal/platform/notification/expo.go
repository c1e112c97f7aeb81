package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const DefaultExpoPushURL = "https://exp.host/--/api/v2/push/send"

var (
	ErrInvalidToken        = errors.New("invalid Expo push token")
	ErrDeviceNotRegistered = errors.New("device not registered")
)

// ValidExpoToken reports whether token has the ExponentPushToken[...] or
// ExpoPushToken[...] shape.
func ValidExpoToken(token string) bool {
	return (strings.HasPrefix(token, "ExponentPushToken[") || strings.HasPrefix(token, "ExpoPushToken[")) &&
		strings.HasSuffix(token, "]")
}

type expoMessage struct {
	To    string                 `json:"to"`
	Sound string                 `json:"sound"`
	Title string                 `json:"title"`
	Body  string                 `json:"body"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

type expoTicket struct {
	Status  string `json:"status"`
	ID      string `json:"id"`
	Message string `json:"message"`
	Details struct {
		Error string `json:"error"`
	} `json:"details"`
}

type expoResponse struct {
	Data expoTicket `json:"data"`
}

// ExpoSender posts single messages to the Expo push service.
type ExpoSender struct {
	url    string
	client *http.Client
}

func NewExpoSender(url string, client *http.Client) *ExpoSender {
	if url == "" {
		url = DefaultExpoPushURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &ExpoSender{url: url, client: client}
}

func (s *ExpoSender) Send(ctx context.Context, token, title, body string, data map[string]interface{}) error {
	if !ValidExpoToken(token) {
		return fmt.Errorf("%w: %q", ErrInvalidToken, maskToken(token))
	}

	payload, err := json.Marshal(expoMessage{To: token, Sound: "default", Title: title, Body: body, Data: data})
	if err != nil {
		return fmt.Errorf("encode push message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post push message: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read push response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("expo push returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out expoResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decode push response: %w", err)
	}
	switch out.Data.Status {
	case "ok":
		return nil
	case "error":
		if out.Data.Details.Error == "DeviceNotRegistered" {
			return fmt.Errorf("%w: %s", ErrDeviceNotRegistered, out.Data.Message)
		}
		return fmt.Errorf("expo push error: %s", out.Data.Message)
	default:
		return fmt.Errorf("unexpected expo push response: %s", strings.TrimSpace(string(raw)))
	}
}
