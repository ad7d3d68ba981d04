package email

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/resend/resend-go/v3"
)

// ResendTransport delivers messages through the Resend API.
type ResendTransport struct {
	client *resend.Client
}

type ResendOption func(*resend.Client)

// WithResendBaseURL points the client at another API root, e.g. a test server.
func WithResendBaseURL(base *url.URL) ResendOption {
	return func(c *resend.Client) { c.BaseURL = base }
}

func NewResendTransport(apiKey string, opts ...ResendOption) *ResendTransport {
	httpClient := &http.Client{
		Timeout:   time.Minute,
		Transport: statusRecorder{next: http.DefaultTransport},
	}
	client := resend.NewCustomClient(httpClient, apiKey)
	for _, opt := range opts {
		opt(client)
	}
	return &ResendTransport{client: client}
}

func (t *ResendTransport) Send(ctx context.Context, msg Message) (string, error) {
	req := &resend.SendEmailRequest{
		From:    msg.From.String(),
		To:      []string{msg.To.String()},
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
	}

	status := new(int)
	ctx = context.WithValue(ctx, statusKey{}, status)

	resp, err := t.client.Emails.SendWithContext(ctx, req)
	if err != nil {
		err = fmt.Errorf("resend: failed to send email (status %d): %w", *status, err)
		if rejected(*status) {
			return "", Permanent(err)
		}
		return "", err
	}
	return resp.Id, nil
}

// rejected reports whether the API refused the request itself. Rate limiting
// and request timeouts are worth retrying.
func rejected(status int) bool {
	if status == http.StatusTooManyRequests || status == http.StatusRequestTimeout {
		return false
	}
	return status >= 400 && status < 500
}

type statusKey struct{}

// statusRecorder stores the response status in the request context, since the
// resend client does not expose it on errors.
type statusRecorder struct {
	next http.RoundTripper
}

func (s statusRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := s.next.RoundTrip(req)
	if err == nil {
		if status, ok := req.Context().Value(statusKey{}).(*int); ok {
			*status = resp.StatusCode
		}
	}
	return resp, err
}
