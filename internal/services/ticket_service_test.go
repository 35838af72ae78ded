package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/yoockh/dmcommerce/internal/logger"
	"github.com/yoockh/dmcommerce/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTicketOpenReusesOpenTicket(t *testing.T) {
	ctx := context.Background()
	tickets := &fakeTickets{}
	svc := NewTicketService(tickets, nil, EscalationConfig{Threshold: 3}, logger.Discard())

	first, err := svc.Open(ctx, "u1", "c1", complaintSummary, "سفارشم نرسیده")
	require.NoError(t, err)
	assert.Equal(t, models.TicketOpen, first.Status)

	second, err := svc.Open(ctx, "u1", "c1", complaintSummary, strings.Repeat("x", 2500))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	require.Len(t, tickets.rows, 1)
	assert.Len(t, []rune(tickets.rows[0].LastMessage), ticketTextMax)

	tickets.rows[0].Status = models.TicketClosed
	third, err := svc.Open(ctx, "u1", "c1", complaintSummary, "دوباره")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)

	_, err = svc.Open(ctx, "", "c1", "", "")
	require.Error(t, err)
}

func TestEscalateLoop(t *testing.T) {
	ctx := context.Background()
	tickets := &fakeTickets{}
	events := &fakeEvents{}
	svc := NewTicketService(tickets, events, EscalationConfig{Threshold: 3, Cooldown: time.Hour}, logger.Discard())

	st := &models.ConversationState{ConversationID: "c1", LoopCounter: 2, LastBotAction: "faq"}
	got, err := svc.EscalateLoop(ctx, st, "u1", "باز هم همون جواب")
	require.NoError(t, err)
	assert.Nil(t, got, "below threshold")

	st.LoopCounter = 3
	got, err = svc.EscalateLoop(ctx, st, "u1", "باز هم همون جواب")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, loopTicketSummary, got.Summary)
	logged := events.ofType(models.EventLoopEscalated)
	require.Len(t, logged, 1)
	assert.Equal(t, got.ID, logged[0].Data["ticket_id"])

	st.LoopCounter = 4
	got, err = svc.EscalateLoop(ctx, st, "u1", "باز هم")
	require.NoError(t, err)
	assert.Nil(t, got, "suppressed during cooldown")
	assert.Len(t, events.ofType(models.EventLoopEscalated), 1)

	events.rows[len(events.rows)-1].CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	got, err = svc.EscalateLoop(ctx, st, "u1", "باز هم")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, tickets.rows, 1, "open ticket reused")
}
