package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"campusdesk/internal/apperr"
	"campusdesk/internal/assignment"
	"campusdesk/internal/auth"
	"campusdesk/internal/broker"
	"campusdesk/internal/config"
	"campusdesk/internal/escalation"
	"campusdesk/internal/faq"
	"campusdesk/internal/llm"
	"campusdesk/internal/metrics"
	"campusdesk/internal/model"
	"campusdesk/internal/retry"
	"campusdesk/internal/storage/repos"
)

var (
	ErrUnauthorized         = apperr.ErrUnauthorized
	ErrForbidden            = apperr.ErrForbidden
	ErrNotFound             = apperr.ErrNotFound
	ErrConflict             = apperr.ErrConflict
	ErrValidation           = apperr.ErrValidation
	ErrAlreadyHasActiveCase = apperr.ErrAlreadyHasActiveCase
	ErrTransientUnavailable = apperr.ErrTransientUnavailable
)

type AuthContext struct {
	Account    model.Account
	Permission map[string]struct{}
}

func (a AuthContext) UserID() string { return a.Account.ID }

type Options struct {
	LLM      llm.Client
	Detector *escalation.Detector
	Policy   *retry.Policy
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	// Clock is the local wall clock used for activity date checks.
	Clock func() time.Time
}

type App struct {
	Config   config.Config
	Store    *repos.Store
	Broker   broker.Broker
	Assign   *assignment.Manager
	FAQ      *faq.Service
	LLM      llm.Client
	Detector *escalation.Detector
	Metrics  *metrics.Metrics
	Logger   *zap.Logger

	policy retry.Policy
	now    func() time.Time
}

func New(cfg config.Config, store *repos.Store, b broker.Broker, opts Options) *App {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := RetryPolicy(cfg, opts.Metrics, logger)
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	client := opts.LLM
	if client == nil {
		client = llm.Static{}
	}
	det := opts.Detector
	if det == nil {
		det = escalation.New()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &App{
		Config:   cfg,
		Store:    store,
		Broker:   b,
		Assign:   assignment.NewManager(store, b, policy, opts.Metrics, logger),
		FAQ:      faq.New(store),
		LLM:      client,
		Detector: det,
		Metrics:  opts.Metrics,
		Logger:   logger,
		policy:   policy,
		now:      clock,
	}
}

// RetryPolicy builds the store retry policy from config. Each retry is
// logged and counted once, under the "retried" outcome.
func RetryPolicy(cfg config.Config, m *metrics.Metrics, logger *zap.Logger) retry.Policy {
	p := retry.Default()
	if cfg.Retry.MaxAttempts > 0 {
		p.MaxAttempts = cfg.Retry.MaxAttempts
	}
	p.Backoff = retry.Linear(config.Duration(cfg.Retry.BaseDelay, 500*time.Millisecond))
	if logger == nil {
		logger = zap.NewNop()
	}
	p.OnRetry = func(attempt int, err error) {
		if m != nil {
			m.RetryAttempts.WithLabelValues("retried").Inc()
		}
		logger.Warn("store call retried", zap.Int("attempt", attempt), zap.Error(err))
	}
	return p
}

// BootstrapInit creates the first admin account and returns its raw key.
func (a *App) BootstrapInit(ctx context.Context, email, name string) (model.Account, string, error) {
	if strings.TrimSpace(name) == "" {
		name = "admin"
	}
	if strings.TrimSpace(email) == "" {
		email = "admin@campusdesk.local"
	}
	admins, _, err := a.Store.ListAccounts(ctx, string(model.RoleAdmin), 1, 1)
	if err != nil {
		return model.Account{}, "", err
	}
	if len(admins) > 0 {
		return model.Account{}, "", fmt.Errorf("%w: admin already exists", ErrConflict)
	}
	return a.CreateAccount(ctx, repos.CreateAccountInput{
		Email:       email,
		DisplayName: name,
		Role:        model.RoleAdmin,
	}, "live")
}

func (a *App) Authenticate(ctx context.Context, rawKey string) (AuthContext, error) {
	rawKey = strings.TrimSpace(rawKey)
	if _, ok := auth.WellFormed(rawKey); !ok {
		return AuthContext{}, ErrUnauthorized
	}
	acc, err := a.Store.GetAccountByAPIKeyHash(ctx, auth.HashKey(rawKey))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AuthContext{}, ErrUnauthorized
		}
		return AuthContext{}, err
	}
	if acc.Status != model.AccountStatusActive {
		return AuthContext{}, ErrForbidden
	}
	_ = a.Store.UpdateLastSeen(ctx, acc.ID)
	return AuthContext{
		Account:    acc,
		Permission: auth.PermissionSet(acc.Role),
	}, nil
}

func (a *App) Authorize(authCtx AuthContext, resource, action string) error {
	if auth.IsAllowed(authCtx.Account.Role, resource, action) {
		return nil
	}
	return ErrForbidden
}

func (a *App) CreateAccount(ctx context.Context, in repos.CreateAccountInput, keyKind string) (model.Account, string, error) {
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return model.Account{}, "", fmt.Errorf("%w: invalid email", ErrValidation)
	}
	if in.Role == "" {
		in.Role = model.RoleStudent
	}
	if err := auth.ValidateRole(in.Role); err != nil {
		return model.Account{}, "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	raw, hash, err := issueKey(keyKind)
	if err != nil {
		return model.Account{}, "", err
	}
	in.APIKeyHash = hash
	acc, err := a.Store.CreateAccount(ctx, in)
	if err != nil {
		if errors.Is(err, repos.ErrDuplicateEmail) {
			return model.Account{}, "", fmt.Errorf("%w: email already registered", ErrConflict)
		}
		return model.Account{}, "", err
	}
	a.audit(ctx, "", "create", auth.ResourceAccounts, acc.ID, map[string]any{"role": acc.Role})
	return acc, raw, nil
}

func (a *App) RotateAccountKey(ctx context.Context, accountID, kind string) (string, error) {
	raw, hash, err := issueKey(kind)
	if err != nil {
		return "", err
	}
	if err := a.Store.RotateAccountKey(ctx, accountID, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	a.audit(ctx, accountID, "rotate_key", auth.ResourceAccounts, accountID, nil)
	return raw, nil
}

func issueKey(kind string) (string, string, error) {
	k, err := auth.ParseKeyKind(kind)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return auth.IssueKey(k)
}

func (a *App) audit(ctx context.Context, actorID, action, resource, resourceID string, meta map[string]any) {
	if err := a.Store.AddAuditLog(ctx, model.AuditEntry{
		ActorID:    actorID,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Metadata:   meta,
	}); err != nil {
		a.Logger.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}

// notFound turns a missing row into ErrNotFound with a subject.
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s not found", ErrNotFound, what)
	}
	return err
}
