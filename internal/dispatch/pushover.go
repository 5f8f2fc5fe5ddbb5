package dispatch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const pushoverAPI = "https://api.pushover.net/1/messages.json"

// PushoverNotifier delivers alerts through the Pushover message API.
type PushoverNotifier struct {
	token  string
	user   string
	client *http.Client
}

// NewPushoverNotifier reads credentials from the named environment
// variables. Returns nil when either is missing.
func NewPushoverNotifier(tokenEnv, userEnv string) *PushoverNotifier {
	token := os.Getenv(tokenEnv)
	user := os.Getenv(userEnv)
	if token == "" || user == "" {
		return nil
	}
	return &PushoverNotifier{
		token:  token,
		user:   user,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *PushoverNotifier) Name() string { return "pushover" }

// Send posts one message. High-priority alerts use Pushover priority 1;
// bodies are HTML-formatted.
func (p *PushoverNotifier) Send(ctx context.Context, title, htmlBody string, highPriority bool) error {
	priority := "0"
	if highPriority {
		priority = "1"
	}

	form := url.Values{
		"token":    {p.token},
		"user":     {p.user},
		"title":    {title},
		"message":  {htmlBody},
		"priority": {priority},
		"html":     {"1"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pushoverAPI,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("pushover: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("pushover: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
