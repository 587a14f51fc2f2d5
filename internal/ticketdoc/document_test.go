package ticketdoc

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCode(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		code := GenerateCode()
		require.True(t, strings.HasPrefix(code, "TICKET-"), code)
		_, err := uuid.Parse(strings.TrimPrefix(code, "TICKET-"))
		require.NoError(t, err)
		_, dup := seen[code]
		require.False(t, dup, "duplicate code %s", code)
		seen[code] = struct{}{}
	}
}

func TestRenderDocument(t *testing.T) {
	r := NewRenderer("https://tickets.example.com")
	ticket := TicketInfo{ID: uuid.New(), Code: GenerateCode()}
	event := EventInfo{
		ID:        uuid.New(),
		Title:     "Café Night",
		Location:  "Main Hall",
		StartDate: time.Date(2026, 11, 1, 19, 30, 0, 0, time.UTC),
	}

	doc, err := r.RenderDocument(ticket, event)
	require.NoError(t, err)

	assert.Equal(t, ticket.Code+".pdf", doc.Filename)
	assert.True(t, bytes.HasPrefix(doc.Content, []byte("%PDF-")))

	decoded, err := base64.StdEncoding.DecodeString(doc.Base64())
	require.NoError(t, err)
	assert.Equal(t, doc.Content, decoded)
}

func TestVerificationURL(t *testing.T) {
	r := NewRenderer("https://tickets.example.com")
	eventID := uuid.MustParse("7f1e3c52-3b0a-4a51-9d38-4a8c0f5f2e11")

	got := r.VerificationURL("TICKET-abc", eventID)

	assert.Equal(t, "https://tickets.example.com/tickets/verify?code=TICKET-abc&event=7f1e3c52-3b0a-4a51-9d38-4a8c0f5f2e11", got)
}
