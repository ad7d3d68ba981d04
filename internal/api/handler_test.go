package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"PulseMail/internal/memstore"
	"PulseMail/internal/models"
	"PulseMail/internal/queue"
	"PulseMail/internal/worker"
)

type senderFunc func(ctx context.Context, entry *models.QueueEntry) (string, error)

func (f senderFunc) Send(ctx context.Context, entry *models.QueueEntry) (string, error) {
	return f(ctx, entry)
}

func newServer(t *testing.T, sender worker.Sender) (*httptest.Server, *memstore.Store) {
	t.Helper()

	store := memstore.New()
	require.NoError(t, store.UpsertTemplate(context.Background(), &models.Template{
		Name:     "receipt",
		Subject:  "Receipt #{{order}}",
		BodyHTML: "<p>{{name}}, you paid {{total}}.</p><ul>{{#each items}}<li>{{this}}</li>{{/each}}</ul>",
	}))

	processor := worker.NewProcessor(store, sender, zap.NewNop(), worker.Config{})
	enqueuer := queue.NewEnqueuer(store, store, processor, zap.NewNop(), queue.Config{
		From: queue.Recipient{Email: "shop@example.com", Name: "Shop"},
	})
	h := &Handler{Queue: enqueuer, Log: zap.NewNop(), MaxBulkRows: 100}

	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv, store
}

func ok() senderFunc {
	return func(context.Context, *models.QueueEntry) (string, error) { return "msg-1", nil }
}

func post(t *testing.T, url, contentType, body string) *http.Response {
	t.Helper()

	resp, err := http.Post(url, contentType, strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestSendTemplateEmail(t *testing.T) {
	t.Parallel()

	srv, store := newServer(t, ok())

	body := `{"to":{"email":"ana@example.com","name":"Ana"},
		"variables":{"order":1042,"name":"Ana","total":"$12.50","items":["tea","cake"]}}`
	resp := post(t, srv.URL+"/templates/receipt/emails", "application/json", body)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	got := decodeBody[enqueueResponse](t, resp)
	require.Equal(t, models.StatusPending, got.Status)

	e, err := store.GetByID(context.Background(), got.ID)
	require.NoError(t, err)
	require.Equal(t, "Receipt #1042", e.Subject)
	require.Equal(t, "<p>Ana, you paid $12.50.</p><ul><li>tea</li><li>cake</li></ul>", e.BodyHTML)
	require.JSONEq(t, `{"order":1042,"name":"Ana","total":"$12.50","items":["tea","cake"]}`, string(e.TemplateVariables))
}

func TestSendTemplateEmail_Errors(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t, ok())

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{name: "unknown template", path: "/templates/nope/emails", body: `{"to":{"email":"a@example.com"}}`, status: http.StatusNotFound},
		{name: "bad json", path: "/templates/receipt/emails", body: `{`, status: http.StatusBadRequest},
		{name: "bad recipient", path: "/templates/receipt/emails", body: `{"to":{"email":"nope"}}`, status: http.StatusBadRequest},
		{name: "unsupported variable", path: "/templates/receipt/emails", body: `{"to":{"email":"a@example.com"},"variables":{"name":{"first":"Ana"}}}`, status: http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp := post(t, srv.URL+tt.path, "application/json", tt.body)
			require.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestSendEmail_SendNow(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t, ok())

	body := `{"to":{"email":"ana@example.com"},"subject":"Hi","html":"<p>Hi</p>","send_now":true}`
	resp := post(t, srv.URL+"/emails", "application/json", body)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	got := decodeBody[enqueueResponse](t, resp)
	require.Equal(t, models.StatusSent, got.Status)

	detail, err := http.Get(srv.URL + "/emails/" + got.ID.String())
	require.NoError(t, err)
	defer detail.Body.Close()
	require.Equal(t, http.StatusOK, detail.StatusCode)

	details := decodeBody[queue.EntryDetails](t, detail)
	require.Equal(t, "msg-1", *details.Entry.ProviderMessageID)
	require.Len(t, details.Events, 3)
}

func TestSendEmail_SendNowFailureStillReturnsID(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t, senderFunc(func(context.Context, *models.QueueEntry) (string, error) {
		return "", errors.New("connection refused")
	}))

	body := `{"to":{"email":"ana@example.com"},"subject":"Hi","text":"Hi","send_now":true}`
	resp := post(t, srv.URL+"/emails", "application/json", body)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	got := decodeBody[enqueueResponse](t, resp)
	require.NotEqual(t, uuid.Nil, got.ID)
	require.Equal(t, models.StatusRetry, got.Status)
}

func TestGetEmail_Errors(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t, ok())

	resp, err := http.Get(srv.URL + "/emails/not-a-uuid")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/emails/" + uuid.NewString())
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSendBulk(t *testing.T) {
	t.Parallel()

	srv, store := newServer(t, ok())

	csv := "email,name,order,total\n" +
		"ana@example.com,Ana,1,$5\n" +
		"broken,Bo,2,$6\n" +
		"cy@example.com,Cy,3,$7\n"
	resp := post(t, srv.URL+"/templates/receipt/bulk", "text/csv", csv)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var got struct {
		IDs    []uuid.UUID `json:"ids"`
		Errors []struct {
			Line  int    `json:"line"`
			Email string `json:"email"`
			Error string `json:"error"`
		} `json:"errors"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got.IDs, 2)
	require.Len(t, got.Errors, 1)
	require.Equal(t, 3, got.Errors[0].Line)
	require.Equal(t, "broken", got.Errors[0].Email)

	e, err := store.GetByID(context.Background(), got.IDs[1])
	require.NoError(t, err)
	require.Equal(t, "Receipt #3", e.Subject)
	require.Equal(t, "Cy", e.ToDisplayName)

	resp = post(t, srv.URL+"/templates/receipt/bulk", "text/csv", "name\nAna\n")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, srv.URL+"/templates/nope/bulk", "text/csv", csv)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSendBulk_ReportsRejectedAndTruncatedRows(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t, ok())

	csv := "email,name,order,total\n" +
		"ana@example.com,Ana,1,$5\n" +
		"short@example.com,Bo,2\n" +
		",Cy,3,$7\n" +
		"dee@example.com,Dee,4,$8\n" +
		"eve@example.com,Eve,5,$9\n"
	resp := post(t, srv.URL+"/templates/receipt/bulk?max_rows=4", "text/csv", csv)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var got struct {
		IDs    []uuid.UUID `json:"ids"`
		Errors []struct {
			Line  int    `json:"line"`
			Email string `json:"email"`
			Error string `json:"error"`
		} `json:"errors"`
		Truncated bool `json:"truncated"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got.IDs, 2)
	require.True(t, got.Truncated)

	require.Len(t, got.Errors, 2)
	require.Equal(t, 3, got.Errors[0].Line)
	require.Equal(t, "short@example.com", got.Errors[0].Email)
	require.Contains(t, got.Errors[0].Error, "wrong number of columns")
	require.Equal(t, 4, got.Errors[1].Line)
	require.Contains(t, got.Errors[1].Error, "email is empty")
}

func TestQueueStatusAndProcess(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t, ok())

	for range 2 {
		resp := post(t, srv.URL+"/emails", "application/json", `{"to":{"email":"ana@example.com"},"subject":"Hi","text":"Hi"}`)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	}

	resp, err := http.Get(srv.URL + "/queue/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	status := decodeBody[struct {
		Counts map[string]int `json:"counts"`
		Total  int            `json:"total"`
	}](t, resp)
	require.Equal(t, 2, status.Total)
	require.Equal(t, 2, status.Counts["pending"])

	resp = post(t, srv.URL+"/queue/process", "application/json", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stats := decodeBody[worker.Stats](t, resp)
	require.Equal(t, worker.Stats{Processed: 2, Successful: 2}, stats)
}
