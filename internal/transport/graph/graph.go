package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/shineum/mail-dispatch/internal/email"
	"github.com/shineum/mail-dispatch/internal/mailerr"
)

// Config holds the configuration for creating a Transport.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Sender       string
}

// Transport sends emails via the Microsoft Graph API using OAuth2 client
// credentials. Each Submit is a single request; retries belong to the caller.
type Transport struct {
	sender     string
	graphURL   string
	httpClient *http.Client
	tokens     oauth2.TokenSource
}

// New creates a Transport for the given tenant and application.
func New(cfg Config) *Transport {
	tokenURL := fmt.Sprintf(
		"https://login.microsoftonline.com/%s/oauth2/v2.0/token",
		url.PathEscape(cfg.TenantID),
	)
	graphURL := fmt.Sprintf("https://graph.microsoft.com/v1.0/users/%s/sendMail", url.PathEscape(cfg.Sender))
	return newWithOverrides(cfg, graphURL, tokenURL, &http.Client{Timeout: 30 * time.Second})
}

// newWithOverrides creates a Transport with custom URLs and HTTP client,
// used for testing.
func newWithOverrides(cfg Config, graphURL, tokenURL string, client *http.Client) *Transport {
	return &Transport{
		sender:     cfg.Sender,
		graphURL:   graphURL,
		httpClient: client,
		tokens:     newTokenSource(tokenURL, cfg.ClientID, cfg.ClientSecret, client),
	}
}

// Submit delivers msg via sendMail. Graph returns no message id, so the
// response is the request-id header when present.
func (t *Transport) Submit(ctx context.Context, msg *email.Email) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	bodyJSON, err := json.Marshal(buildSendMailRequest(msg))
	if err != nil {
		return "", mailerr.Transient(fmt.Errorf("failed to marshal request body: %w", err))
	}

	token, err := t.token()
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.graphURL, bytes.NewReader(bodyJSON))
	if err != nil {
		return "", mailerr.Transient(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", mailerr.Connection(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer resp.Body.Close()

	// HTTP 202 Accepted is success for sendMail
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		if id := resp.Header.Get("request-id"); id != "" {
			return id, nil
		}
		return "accepted", nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	message := string(body)
	var graphErrResp graphErrorResponse
	if jsonErr := json.Unmarshal(body, &graphErrResp); jsonErr == nil && graphErrResp.Error.Message != "" {
		message = graphErrResp.Error.Message
	}
	return "", classifyError(resp.StatusCode, message)
}

// Verify checks that an access token can be obtained.
func (t *Transport) Verify(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.token()
	return err
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return "msgraph"
}

// StatusError is a non-success response from the Graph API.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// classifyError maps an HTTP error response onto the relay failure taxonomy.
func classifyError(statusCode int, message string) error {
	err := &StatusError{StatusCode: statusCode, Message: message}

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return mailerr.Auth(err)
	default:
		return mailerr.Transient(err)
	}
}
