package repos

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"campusdesk/internal/model"
)

func TestEscalateCreatesPendingRequest(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	student := createTestAccount(t, ctx, store, "ana", model.RoleStudent)

	conv, req := createEscalatedConversation(t, ctx, store, student.ID)
	if req.Status != model.RequestPending || req.ConversationID != conv.ID || req.UserID != student.ID {
		t.Fatalf("unexpected request: %+v", req)
	}

	got, err := store.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if got.State != model.ConversationEscalatedPending || got.EscalatedAt == nil {
		t.Fatalf("expected escalated_pending with timestamp, got %s %v", got.State, got.EscalatedAt)
	}

	if _, err := store.EscalateConversation(ctx, conv.ID); !errors.Is(err, ErrStateChanged) {
		t.Fatalf("expected ErrStateChanged on second escalation, got %v", err)
	}
	n, err := store.Count(ctx, "agent_requests")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 request, got %d", n)
	}
}

func TestClaimSameRequestSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	student := createTestAccount(t, ctx, store, "ana", model.RoleStudent)
	agentA := createTestAccount(t, ctx, store, "agent-a", model.RoleSupport)
	agentB := createTestAccount(t, ctx, store, "agent-b", model.RoleSupport)
	conv, req := createEscalatedConversation(t, ctx, store, student.ID)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, agentID := range []string{agentA.ID, agentB.ID} {
		i, agentID := i, agentID
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = store.ClaimRequest(ctx, req.ID, agentID)
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrRequestNotPending):
		default:
			t.Fatalf("unexpected claim error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected single winner, got errors %v", errs)
	}

	got, err := store.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if got.State != model.ConversationEscalatedInProgress {
		t.Fatalf("expected escalated_in_progress, got %s", got.State)
	}
	events, err := store.ListOutbox(ctx, model.OutboxPending, 10)
	if err != nil {
		t.Fatalf("list outbox: %v", err)
	}
	if len(events) != 1 || events[0].Kind != model.OutboxKindAssignmentClaimed {
		t.Fatalf("expected one assignment event, got %+v", events)
	}
}

func TestClaimTwoRequestsSameAgentOneSucceeds(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	ana := createTestAccount(t, ctx, store, "ana", model.RoleStudent)
	luis := createTestAccount(t, ctx, store, "luis", model.RoleStudent)
	agent := createTestAccount(t, ctx, store, "agent", model.RoleSupport)
	_, reqA := createEscalatedConversation(t, ctx, store, ana.ID)
	_, reqB := createEscalatedConversation(t, ctx, store, luis.ID)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{reqA.ID, reqB.ID} {
		i, id := i, id
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = store.ClaimRequest(ctx, id, agent.ID)
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrAgentBusy):
		default:
			t.Fatalf("unexpected claim error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one claim, got errors %v", errs)
	}
	n, err := store.CountInProgress(ctx, agent.ID)
	if err != nil {
		t.Fatalf("count in progress: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 in-progress request, got %d", n)
	}
}

func TestClaimUnknownRequest(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	agent := createTestAccount(t, ctx, store, "agent", model.RoleSupport)

	if _, err := store.ClaimRequest(ctx, "missing", agent.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestResolveRequiresAssignee(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	student := createTestAccount(t, ctx, store, "ana", model.RoleStudent)
	agentA := createTestAccount(t, ctx, store, "agent-a", model.RoleSupport)
	agentB := createTestAccount(t, ctx, store, "agent-b", model.RoleSupport)
	conv, req := createEscalatedConversation(t, ctx, store, student.ID)

	if _, err := store.ResolveRequest(ctx, req.ID, agentA.ID); !errors.Is(err, ErrNotAssignee) {
		t.Fatalf("expected ErrNotAssignee before claim, got %v", err)
	}
	if _, err := store.ClaimRequest(ctx, req.ID, agentA.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := store.ResolveRequest(ctx, req.ID, agentB.ID); !errors.Is(err, ErrNotAssignee) {
		t.Fatalf("expected ErrNotAssignee for other agent, got %v", err)
	}

	resolved, err := store.ResolveRequest(ctx, req.ID, agentA.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != model.RequestResolved || resolved.ResolvedAt == nil {
		t.Fatalf("unexpected resolved request: %+v", resolved)
	}
	got, err := store.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if got.State != model.ConversationResolved || got.ResolvedAt == nil {
		t.Fatalf("expected resolved conversation, got %s", got.State)
	}

	active, err := store.ActiveRequestForAgent(ctx, agentA.ID)
	if err != nil {
		t.Fatalf("active request: %v", err)
	}
	if active != nil {
		t.Fatalf("expected no active case after resolve, got %+v", active)
	}
}

func TestListPendingRequestsView(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	student := createTestAccount(t, ctx, store, "ana", model.RoleStudent)
	_, req := createEscalatedConversation(t, ctx, store, student.ID)

	queue, err := store.ListPendingRequests(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(queue) != 1 {
		t.Fatalf("expected 1 pending request, got %d", len(queue))
	}
	v := queue[0]
	if v.ID != req.ID || v.UserName != "ana" || v.MessageCount != 1 || v.LastMessage != "necesito hablar con un agente" {
		t.Fatalf("unexpected view: %+v", v)
	}
}

func TestGetRequestAndStatsByState(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	student := createTestAccount(t, ctx, store, "ana", model.RoleStudent)
	_, req := createEscalatedConversation(t, ctx, store, student.ID)
	if _, err := store.CreateConversation(ctx, student.ID, nil); err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	got, err := store.GetRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if got.ID != req.ID || got.Status != model.RequestPending {
		t.Fatalf("unexpected request: %+v", got)
	}
	if _, err := store.GetRequest(ctx, "missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats["conversations_escalated_pending"] != 1 || stats["conversations_active"] != 1 || stats["conversations_resolved"] != 0 {
		t.Fatalf("unexpected per-state counts: %v", stats)
	}
	if stats["agent_requests_pending"] != 1 {
		t.Fatalf("expected one pending request, got %v", stats)
	}
}
