package assignment

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"campusdesk/internal/apperr"
	"campusdesk/internal/broker"
	"campusdesk/internal/config"
	"campusdesk/internal/escalation"
	"campusdesk/internal/metrics"
	"campusdesk/internal/model"
	"campusdesk/internal/retry"
	"campusdesk/internal/storage"
	"campusdesk/internal/storage/repos"
)

type fixture struct {
	store   *repos.Store
	broker  *broker.MemoryBroker
	metrics *metrics.Metrics
	mgr     *Manager
}

func fastPolicy() retry.Policy {
	p := retry.Default()
	p.Backoff = func(int) time.Duration { return 0 }
	return p
}

func setup(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "assignment.db")
	db, err := storage.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, storage.Migrate(context.Background(), db))

	f := &fixture{
		store:   repos.New(db),
		broker:  broker.NewMemory(16),
		metrics: metrics.New(),
	}
	f.mgr = NewManager(f.store, f.broker, fastPolicy(), f.metrics, zap.NewNop())
	return f
}

func (f *fixture) account(t *testing.T, name string, role model.Role) model.Account {
	t.Helper()
	acc, err := f.store.CreateAccount(context.Background(), repos.CreateAccountInput{
		Email:       name + "@campus.test",
		DisplayName: name,
		Role:        role,
		APIKeyHash:  name + "-hash",
	})
	require.NoError(t, err)
	return acc
}

// chat saves a user message and escalates when it asks for a human.
func (f *fixture) chat(t *testing.T, userID, text string) (model.Conversation, *model.AgentRequest) {
	t.Helper()
	ctx := context.Background()
	conv, err := f.store.CreateConversation(ctx, userID, nil)
	require.NoError(t, err)
	_, err = f.store.AddMessage(ctx, repos.CreateMessageInput{ConversationID: conv.ID, Role: model.MessageRoleUser, Content: text})
	require.NoError(t, err)
	if !escalation.Detect(text) {
		return conv, nil
	}
	req, err := f.mgr.Escalate(ctx, conv.ID, "")
	require.NoError(t, err)
	return conv, &req
}

func TestEscalationClaimEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	student := f.account(t, "ana", model.RoleStudent)
	agentA := f.account(t, "carlos", model.RoleSupport)
	agentB := f.account(t, "diana", model.RoleSupport)

	conv, req := f.chat(t, student.ID, "necesito hablar con un agente")
	require.NotNil(t, req)

	got, err := f.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ConversationEscalatedPending, got.State)
	assert.Equal(t, model.RequestPending, req.Status)
	n, err := f.store.Count(ctx, "agent_requests")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	events, err := f.broker.Subscribe(ctx, "test-room", broker.ChatTopic(conv.ID))
	require.NoError(t, err)

	claimed, err := f.mgr.Claim(ctx, req.ID, agentA.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestInProgress, claimed.Status)
	require.NotNil(t, claimed.AgentID)
	assert.Equal(t, agentA.ID, *claimed.AgentID)

	got, err = f.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ConversationEscalatedInProgress, got.State)

	select {
	case evt := <-events:
		assert.Equal(t, model.ChatEventAgentJoined, evt.Type)
		assert.Equal(t, "carlos", evt.Data["agent_name"])
	case <-time.After(time.Second):
		t.Fatal("expected agent_joined event")
	}

	_, err = f.mgr.Claim(ctx, req.ID, agentB.ID)
	assert.ErrorIs(t, err, ErrAlreadyAssigned)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	queueB, err := f.mgr.ListPending(ctx, agentB.ID)
	require.NoError(t, err)
	assert.Nil(t, queueB.ActiveCase)
	assert.Empty(t, queueB.Pending)

	queueA, err := f.mgr.ListPending(ctx, agentA.ID)
	require.NoError(t, err)
	require.NotNil(t, queueA.ActiveCase)
	assert.Equal(t, req.ID, queueA.ActiveCase.ID)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AssignmentClaims.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AssignmentClaims.WithLabelValues("already_assigned")))

	outbox, err := f.store.ListOutbox(ctx, model.OutboxPending, 10)
	require.NoError(t, err)
	require.Len(t, outbox, 1)
	assert.Equal(t, student.ID, outbox[0].Payload["user_id"])
}

func TestNonEscalatingMessageLeavesConversationActive(t *testing.T) {
	f := setup(t)
	student := f.account(t, "ana", model.RoleStudent)
	conv, req := f.chat(t, student.ID, "¿cuándo abre la biblioteca?")
	assert.Nil(t, req)

	got, err := f.store.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ConversationActive, got.State)
}

func TestClaimWhileHoldingActiveCase(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	ana := f.account(t, "ana", model.RoleStudent)
	luis := f.account(t, "luis", model.RoleStudent)
	agent := f.account(t, "carlos", model.RoleSupport)
	_, first := f.chat(t, ana.ID, "quiero un agente")
	_, second := f.chat(t, luis.ID, "hablar con un operador")

	_, err := f.mgr.Claim(ctx, first.ID, agent.ID)
	require.NoError(t, err)
	_, err = f.mgr.Claim(ctx, second.ID, agent.ID)
	assert.ErrorIs(t, err, ErrAlreadyHasActiveCase)

	queue, err := f.mgr.ListPending(ctx, agent.ID)
	require.NoError(t, err)
	require.Len(t, queue.Pending, 1)
	assert.Equal(t, second.ID, queue.Pending[0].ID)
	require.NotNil(t, queue.ActiveCase)
	assert.Equal(t, first.ID, queue.ActiveCase.ID)
}

func TestClaimUnknownRequest(t *testing.T) {
	f := setup(t)
	agent := f.account(t, "carlos", model.RoleSupport)
	_, err := f.mgr.Claim(context.Background(), "missing", agent.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestEscalateMissingConversation(t *testing.T) {
	_, err := setup(t).mgr.Escalate(context.Background(), "missing", "")
	assert.ErrorIs(t, err, ErrConversationNotFound)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.NotErrorIs(t, err, apperr.ErrConflict)
}

func TestRequestVisibility(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	student := f.account(t, "ana", model.RoleStudent)
	agentA := f.account(t, "carlos", model.RoleSupport)
	agentB := f.account(t, "diana", model.RoleSupport)
	_, req := f.chat(t, student.ID, "quiero hablar con un agente")

	got, err := f.mgr.Request(ctx, agentB.ID, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestPending, got.Status)

	_, err = f.mgr.Claim(ctx, req.ID, agentA.ID)
	require.NoError(t, err)

	got, err = f.mgr.Request(ctx, agentA.ID, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestInProgress, got.Status)
	_, err = f.mgr.Request(ctx, agentB.ID, req.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.mgr.Request(ctx, agentA.ID, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveFlowAndNoReEscalation(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	student := f.account(t, "ana", model.RoleStudent)
	agentA := f.account(t, "carlos", model.RoleSupport)
	agentB := f.account(t, "diana", model.RoleSupport)
	conv, req := f.chat(t, student.ID, "necesito hablar con un agente")

	_, err := f.mgr.Claim(ctx, req.ID, agentA.ID)
	require.NoError(t, err)

	_, err = f.mgr.Resolve(ctx, req.ID, agentB.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	resolved, err := f.mgr.Resolve(ctx, req.ID, agentA.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestResolved, resolved.Status)

	got, err := f.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ConversationResolved, got.State)

	_, err = f.mgr.Resolve(ctx, req.ID, agentA.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.mgr.Escalate(ctx, conv.ID, "otra vez")
	assert.ErrorIs(t, err, ErrNotEscalatable)

	// The agent is free again.
	active, err := f.mgr.ActiveCase(ctx, agentA.ID)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestSendAgentMessageOnlyForActiveCase(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	student := f.account(t, "ana", model.RoleStudent)
	agent := f.account(t, "carlos", model.RoleSupport)
	other := f.account(t, "diana", model.RoleSupport)
	conv, req := f.chat(t, student.ID, "quiero hablar con una persona real")

	_, err := f.mgr.SendAgentMessage(ctx, agent.ID, conv.ID, "hola")
	assert.ErrorIs(t, err, ErrForbidden)

	msgs, err := f.mgr.ConversationMessages(ctx, other.ID, conv.ID)
	require.NoError(t, err, "pending conversations are readable by any agent")
	assert.Len(t, msgs, 1)

	_, err = f.mgr.Claim(ctx, req.ID, agent.ID)
	require.NoError(t, err)

	_, err = f.mgr.SendAgentMessage(ctx, agent.ID, conv.ID, "   ")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	msg, err := f.mgr.SendAgentMessage(ctx, agent.ID, conv.ID, "Hola Ana, soy Carlos.")
	require.NoError(t, err)
	assert.Equal(t, model.ResponseAgent, msg.ResponseType)
	assert.Equal(t, model.MessageRoleAssistant, msg.Role)

	_, err = f.mgr.ConversationMessages(ctx, other.ID, conv.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	msgs, err = f.mgr.ConversationMessages(ctx, agent.ID, conv.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestEscalateWithNoteSavesEscalationMessage(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	student := f.account(t, "ana", model.RoleStudent)
	conv, err := f.store.CreateConversation(ctx, student.ID, nil)
	require.NoError(t, err)

	_, err = f.mgr.Escalate(ctx, conv.ID, "Mi matrícula no aparece")
	require.NoError(t, err)

	msgs, err := f.store.ListMessages(ctx, conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.ResponseEscalation, msgs[0].ResponseType)
}

// flakyStore fails the first n claims with a transient error.
type flakyStore struct {
	Store
	failures int
}

func (s *flakyStore) ClaimRequest(ctx context.Context, requestID, agentID string) (model.AgentRequest, error) {
	if s.failures > 0 {
		s.failures--
		return model.AgentRequest{}, errors.New("database is locked (5) (SQLITE_BUSY)")
	}
	return s.Store.ClaimRequest(ctx, requestID, agentID)
}

func TestClaimRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	student := f.account(t, "ana", model.RoleStudent)
	agent := f.account(t, "carlos", model.RoleSupport)
	_, req := f.chat(t, student.ID, "agente por favor")

	var retried []int
	policy := fastPolicy()
	policy.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }

	flaky := &flakyStore{Store: f.store, failures: 2}
	mgr := NewManager(flaky, f.broker, policy, f.metrics, zap.NewNop())
	_, err := mgr.Claim(ctx, req.ID, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, retried, "the policy hook sees every retry")
	assert.Zero(t, testutil.CollectAndCount(f.metrics.RetryAttempts), "the manager adds no retry series of its own")

	_, other := f.chat(t, student.ID, "agente otra vez")
	flaky.failures = 5
	_, err = mgr.Claim(ctx, other.ID, agent.ID)
	assert.ErrorIs(t, err, apperr.ErrTransientUnavailable)
}
