package email

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"PulseMail/internal/models"
)

// MockTransport is a mock implementation of Transport.
type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Send(ctx context.Context, msg Message) (string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Error(1)
}

func testEntry() *models.QueueEntry {
	return &models.QueueEntry{
		ToAddress:       "ana@example.com",
		ToDisplayName:   "Ana",
		FromAddress:     "noreply@example.com",
		FromDisplayName: "Support",
		Subject:         "Hi Ana",
		BodyHTML:        "<p>Hello</p>",
		BodyText:        "Hello",
	}
}

func TestExecutor_Send_Success(t *testing.T) {
	t.Parallel()

	transport := &MockTransport{}
	transport.On("Send", mock.Anything, Message{
		From:    Address{Email: "noreply@example.com", Name: "Support"},
		To:      Address{Email: "ana@example.com", Name: "Ana"},
		Subject: "Hi Ana",
		HTML:    "<p>Hello</p>",
		Text:    "Hello",
	}).Return("provider-1", nil).Once()

	id, err := NewExecutor(transport, time.Second).Send(context.Background(), testEntry())

	require.NoError(t, err)
	require.Equal(t, "provider-1", id)
	transport.AssertExpectations(t)
}

func TestExecutor_Send_TransportFailure(t *testing.T) {
	t.Parallel()

	sendErr := errors.New("connection refused")
	transport := &MockTransport{}
	transport.On("Send", mock.Anything, mock.Anything).Return("", sendErr).Once()

	_, err := NewExecutor(transport, time.Second).Send(context.Background(), testEntry())

	require.ErrorIs(t, err, sendErr)
	require.False(t, IsPermanent(err))
	transport.AssertNumberOfCalls(t, "Send", 1)
}

func TestExecutor_Send_InvalidAddressIsPermanent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		modify func(*models.QueueEntry)
	}{
		{name: "recipient", modify: func(e *models.QueueEntry) { e.ToAddress = "not-an-address" }},
		{name: "empty recipient", modify: func(e *models.QueueEntry) { e.ToAddress = "" }},
		{name: "sender", modify: func(e *models.QueueEntry) { e.FromAddress = "@@" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			transport := &MockTransport{}
			entry := testEntry()
			tt.modify(entry)

			_, err := NewExecutor(transport, time.Second).Send(context.Background(), entry)

			require.Error(t, err)
			require.True(t, IsPermanent(err))
			transport.AssertNotCalled(t, "Send")
		})
	}
}

// slowTransport blocks until the context is done.
type slowTransport struct{}

func (slowTransport) Send(ctx context.Context, _ Message) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestExecutor_Send_Timeout(t *testing.T) {
	t.Parallel()

	_, err := NewExecutor(slowTransport{}, 20*time.Millisecond).Send(context.Background(), testEntry())

	require.ErrorIs(t, err, ErrSendTimeout)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, IsPermanent(err))
}

func TestAddress_String(t *testing.T) {
	t.Parallel()

	require.Equal(t, "ana@example.com", Address{Email: "ana@example.com"}.String())
	require.Equal(t, `"Ana" <ana@example.com>`, Address{Email: "ana@example.com", Name: "Ana"}.String())
}

func TestPermanent(t *testing.T) {
	t.Parallel()

	require.NoError(t, Permanent(nil))

	cause := errors.New("550 mailbox unavailable")
	err := Permanent(cause)
	require.True(t, IsPermanent(err))
	require.ErrorIs(t, err, cause)
}

func TestSMTPTransport_Build(t *testing.T) {
	t.Parallel()

	tr := NewSMTPTransport("smtp.example.com", 1025, "", "")
	msg, err := MessageFromEntry(testEntry())
	require.NoError(t, err)

	m := tr.build(msg, "<id-1@smtp.example.com>")

	var buf bytes.Buffer
	_, err = m.WriteTo(&buf)
	require.NoError(t, err)

	raw := buf.String()
	require.Contains(t, raw, "Message-ID: <id-1@smtp.example.com>")
	require.Contains(t, raw, "Subject: Hi Ana")
	require.Contains(t, raw, "ana@example.com")
	require.Contains(t, raw, "multipart/alternative")
	require.Equal(t, "smtp.example.com", tr.domain())
}
