package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
)

const (
	defaultTimeout  = 15 * time.Second
	maxErrorBodyLen = 512
)

// postJSON sends body as JSON and decodes a 2xx response into out. Any other outcome is a *SendError.
// errorMessage extracts a provider message from a non-2xx body; it may return "".
func postJSON(ctx context.Context, client *http.Client, kind model.Channel, url string, headers map[string]string,
	body, out interface{}, errorMessage func([]byte) string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "request timed out"
		}
		return &SendError{Channel: kind, Message: msg}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &SendError{Channel: kind, StatusCode: resp.StatusCode, Message: "reading response: " + err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := ""
		if errorMessage != nil {
			msg = errorMessage(raw)
		}
		if msg == "" {
			msg = truncate(strings.TrimSpace(string(raw)), maxErrorBodyLen)
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &SendError{Channel: kind, StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &SendError{Channel: kind, StatusCode: resp.StatusCode, Message: "decoding response: " + err.Error()}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}
