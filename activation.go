package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionContext is passed into hooks for additional processing.
type TransitionContext struct {
	Actor   ActorRef
	Account *Account
	From    ActivationStatus
	To      ActivationStatus
	Meta    TransitionMetadata
}

// TransitionHook is executed before or after a transition.
type TransitionHook func(ctx context.Context, tc TransitionContext) error

// TransitionHookPhase identifies whether a hook ran before or after persistence.
type TransitionHookPhase string

const (
	HookPhaseBefore TransitionHookPhase = "before_transition"
	HookPhaseAfter  TransitionHookPhase = "after_transition"
)

// HookErrorHandler handles errors surfaced by transition hooks.
type HookErrorHandler func(ctx context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error

// TransitionOption customizes a single transition.
type TransitionOption func(*transitionOptions)

type transitionOptions struct {
	metadata    TransitionMetadata
	beforeHooks []TransitionHook
	afterHooks  []TransitionHook
}

// WithTransitionMetadata merges metadata into the transition context.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata.Metadata[k] = v
		}
	}
}

// WithBeforeTransitionHook adds a hook executed before the local update.
func WithBeforeTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.beforeHooks = append(opts.beforeHooks, h)
		}
	}
}

// WithAfterTransitionHook adds a hook executed after both stores are updated.
func WithAfterTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.afterHooks = append(opts.afterHooks, h)
		}
	}
}

// WorkflowOption customizes ActivationWorkflow construction.
type WorkflowOption func(*ActivationWorkflow)

// WithHookErrorHandler overrides how hook failures are propagated. The
// default returns the hook error unchanged.
func WithHookErrorHandler(handler HookErrorHandler) WorkflowOption {
	return func(w *ActivationWorkflow) {
		if handler != nil {
			w.hookErrorHandler = handler
		}
	}
}

// WithWorkflowHooks registers hooks applied to every transition.
func WithWorkflowHooks(before, after TransitionHook) WorkflowOption {
	return func(w *ActivationWorkflow) {
		if before != nil {
			w.beforeHooks = append(w.beforeHooks, before)
		}
		if after != nil {
			w.afterHooks = append(w.afterHooks, after)
		}
	}
}

// ActivationWorkflow moves professional accounts between PENDING, APPROVED
// and REJECTED, keeping the local activation flag and the remote enabled bit
// in step.
type ActivationWorkflow struct {
	accounts         AccountStore
	requests         ActivationRequestStore
	authority        *authorityClient
	notifier         Notifier
	transitions      map[ActivationStatus]map[ActivationStatus]struct{}
	beforeHooks      []TransitionHook
	afterHooks       []TransitionHook
	hookErrorHandler HookErrorHandler
	now              func() time.Time
	logger           Logger
	metrics          Metrics
	activity         activityRecorder
}

// NewActivationWorkflow wires an ActivationWorkflow. authority may be nil when
// professional credentials are held locally.
func NewActivationWorkflow(stores Stores, authority ExternalAuthority, notifier Notifier, opts []Option, wopts ...WorkflowOption) *ActivationWorkflow {
	o := buildOptions("identity.activation", opts)
	w := &ActivationWorkflow{
		accounts:  stores.Accounts,
		requests:  stores.Requests,
		authority: newAuthorityClient(authority, o),
		notifier:  normalizeNotifier(notifier),
		transitions: map[ActivationStatus]map[ActivationStatus]struct{}{
			ActivationPending: {
				ActivationApproved: {},
				ActivationRejected: {},
			},
			ActivationApproved: {
				ActivationRejected: {},
			},
			ActivationRejected: {
				ActivationRejected: {},
			},
		},
		now:      o.now,
		logger:   o.logger,
		metrics:  o.metrics,
		activity: activityRecorder{sink: o.activity, logger: o.logger, now: o.now},
		hookErrorHandler: func(_ context.Context, _ TransitionHookPhase, err error, _ TransitionContext) error {
			return err
		},
	}

	for _, opt := range wopts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Approve activates a professional account. Approving an activated account
// is a no-op.
func (w *ActivationWorkflow) Approve(ctx context.Context, principal Principal, accountID uuid.UUID, opts ...TransitionOption) (*Account, error) {
	account, err := w.approve(ctx, principal, accountID, opts...)
	w.metrics.ActivationObserved("approve", activationOutcome(err))
	return account, err
}

func (w *ActivationWorkflow) approve(ctx context.Context, principal Principal, accountID uuid.UUID, opts ...TransitionOption) (*Account, error) {
	if err := requireAdmin(principal); err != nil {
		return nil, err
	}

	account, err := w.loadProfessional(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if account.IsActivated {
		w.logger.Info("approve on activated account ignored", "account_id", account.ID)
		return account, nil
	}

	from := currentStatus(account)
	if from == ActivationRejected {
		return nil, ErrTerminalState.Clone().WithMetadata(map[string]any{
			"from": from,
			"to":   ActivationApproved,
		})
	}
	if !w.canTransition(from, ActivationApproved) {
		return nil, invalidTransition(from, ActivationApproved)
	}

	options := buildTransitionOptions(opts)
	tc := TransitionContext{
		Actor:   principal.Actor(),
		Account: account,
		From:    from,
		To:      ActivationApproved,
		Meta:    options.cloneMetadata(),
	}

	if err := w.runHooks(ctx, concatHooks(w.beforeHooks, options.beforeHooks), tc, HookPhaseBefore); err != nil {
		return nil, err
	}

	now := w.now()
	if err := w.accounts.UpdateActivation(ctx, account.ID, ActivationUpdate{
		IsActivated: true,
		Status:      ActivationApproved,
		ActivatedAt: &now,
	}); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to activate account")
	}
	account.IsActivated = true
	account.ActivationStatus = ActivationApproved
	account.ActivatedAt = &now

	if err := w.resolve(ctx, account, ActivationResolution{
		Status:     ActivationApproved,
		ResolvedBy: principal.AccountID.String(),
		ResolvedAt: now,
	}); err != nil {
		return nil, err
	}

	if err := w.syncRemote(ctx, account, ActivationApproved, ""); err != nil {
		w.logger.Warn("account activated locally but remote identity is not enabled",
			"account_id", account.ID,
			"remote_id", account.RemoteID,
		)
		return account, err
	}

	if err := w.runHooks(ctx, concatHooks(w.afterHooks, options.afterHooks), tc, HookPhaseAfter); err != nil {
		return nil, err
	}

	dispatch(ctx, w.notifier, w.logger, accountNotification(NotificationAccountActivated, account, nil))

	w.activity.record(ctx, ActivityEvent{
		EventType:  ActivityEventActivationApproved,
		Actor:      tc.Actor,
		AccountID:  account.ID.String(),
		FromStatus: from,
		ToStatus:   ActivationApproved,
		Metadata:   tc.Meta.Metadata,
	})

	return account, nil
}

// Reject refuses a professional account. reason is required. Rejecting an
// already rejected account re-applies the remote disable and only notifies
// again when the reason changed.
func (w *ActivationWorkflow) Reject(ctx context.Context, principal Principal, accountID uuid.UUID, reason string, opts ...TransitionOption) (*Account, error) {
	account, err := w.reject(ctx, principal, accountID, reason, opts...)
	w.metrics.ActivationObserved("reject", activationOutcome(err))
	return account, err
}

func (w *ActivationWorkflow) reject(ctx context.Context, principal Principal, accountID uuid.UUID, reason string, opts ...TransitionOption) (*Account, error) {
	if err := requireAdmin(principal); err != nil {
		return nil, err
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, validationMessage("reason", "a rejection reason is required")
	}

	account, err := w.loadProfessional(ctx, accountID)
	if err != nil {
		return nil, err
	}

	from := currentStatus(account)
	if !w.canTransition(from, ActivationRejected) {
		return nil, invalidTransition(from, ActivationRejected)
	}

	previousReason := ""
	if from == ActivationRejected {
		if request, err := w.requests.GetByAccount(ctx, account.ID); err == nil {
			previousReason = request.Reason
		}
	}

	options := buildTransitionOptions(opts)
	options.metadata.Reason = reason
	tc := TransitionContext{
		Actor:   principal.Actor(),
		Account: account,
		From:    from,
		To:      ActivationRejected,
		Meta:    options.cloneMetadata(),
	}

	if err := w.runHooks(ctx, concatHooks(w.beforeHooks, options.beforeHooks), tc, HookPhaseBefore); err != nil {
		return nil, err
	}

	now := w.now()
	if err := w.accounts.UpdateActivation(ctx, account.ID, ActivationUpdate{
		IsActivated: false,
		Status:      ActivationRejected,
	}); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to reject account")
	}
	account.IsActivated = false
	account.ActivationStatus = ActivationRejected
	account.ActivatedAt = nil

	if err := w.resolve(ctx, account, ActivationResolution{
		Status:     ActivationRejected,
		Reason:     reason,
		ResolvedBy: principal.AccountID.String(),
		ResolvedAt: now,
	}); err != nil {
		return nil, err
	}

	if err := w.syncRemote(ctx, account, ActivationRejected, reason); err != nil {
		return account, err
	}

	if err := w.runHooks(ctx, concatHooks(w.afterHooks, options.afterHooks), tc, HookPhaseAfter); err != nil {
		return nil, err
	}

	if from != ActivationRejected || previousReason != reason {
		dispatch(ctx, w.notifier, w.logger, accountNotification(NotificationAccountRejected, account, map[string]any{
			"reason": reason,
		}))
	}

	w.activity.record(ctx, ActivityEvent{
		EventType:  ActivityEventActivationRejected,
		Actor:      tc.Actor,
		AccountID:  account.ID.String(),
		FromStatus: from,
		ToStatus:   ActivationRejected,
		Metadata:   w.transitionMetadata(tc.Meta),
	})

	return account, nil
}

// ListPending returns professional accounts that are not activated,
// rejected ones included. Callers tell them apart by ActivationStatus.
func (w *ActivationWorkflow) ListPending(ctx context.Context, principal Principal) ([]*Account, error) {
	return w.list(ctx, principal, false)
}

// ListApproved returns activated professional accounts.
func (w *ActivationWorkflow) ListApproved(ctx context.Context, principal Principal) ([]*Account, error) {
	return w.list(ctx, principal, true)
}

// CountPending returns the number of professional accounts that are not
// activated.
func (w *ActivationWorkflow) CountPending(ctx context.Context, principal Principal) (int, error) {
	if err := requireAdmin(principal); err != nil {
		return 0, err
	}
	count, err := w.accounts.CountByActivation(ctx, RoleProfessional, false)
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to count pending accounts")
	}
	return count, nil
}

func (w *ActivationWorkflow) list(ctx context.Context, principal Principal, activated bool) ([]*Account, error) {
	if err := requireAdmin(principal); err != nil {
		return nil, err
	}
	accounts, err := w.accounts.ListByActivation(ctx, RoleProfessional, activated)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list accounts")
	}
	return accounts, nil
}

func (w *ActivationWorkflow) loadProfessional(ctx context.Context, accountID uuid.UUID) (*Account, error) {
	account, err := w.accounts.GetByID(ctx, accountID)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return nil, ErrAccountNotFound.Clone().WithMetadata(map[string]any{
				"account_id": accountID.String(),
			})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load account")
	}
	if !account.IsProfessional() {
		return nil, ErrNotProfessional
	}
	return account, nil
}

// resolve closes the activation request, creating it first when the
// registration never got that far. The request is left unsynced until the
// remote identity reflects the new state.
func (w *ActivationWorkflow) resolve(ctx context.Context, account *Account, resolution ActivationResolution) error {
	if _, err := w.ensureRequest(ctx, account); err != nil {
		return err
	}
	if err := w.requests.Resolve(ctx, account.ID, resolution); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve activation request")
	}
	return nil
}

func (w *ActivationWorkflow) ensureRequest(ctx context.Context, account *Account) (*ActivationRequest, error) {
	request, err := w.requests.GetByAccount(ctx, account.ID)
	if err == nil {
		return request, nil
	}
	if !goerrors.IsNotFound(err) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load activation request")
	}

	requestedAt := w.now()
	if account.ActivationRequestedAt != nil {
		requestedAt = *account.ActivationRequestedAt
	}
	request = NewActivationRequest(account, requestedAt)
	if err := w.requests.Create(ctx, request); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create activation request")
	}
	return request, nil
}

// syncRemote pushes status to the remote identity and marks the request
// synced. Accounts with a local credential have nothing to push.
func (w *ActivationWorkflow) syncRemote(ctx context.Context, account *Account, status ActivationStatus, reason string) error {
	cred, ok := account.Credential().(ExternallyManagedCredential)
	if !ok {
		return w.markSynced(ctx, account.ID)
	}

	if w.authority == nil || cred.RemoteID == "" {
		step := opEnableIdentity
		if status == ActivationRejected {
			step = opDisableIdentity
		}
		err := authorityFailure(step, cred.RemoteID, missingRemoteCause(w.authority != nil))
		w.logger.Error("external authority failure", "error", err, "step", step, "remote_id", cred.RemoteID, "account_id", account.ID)
		return err
	}

	switch status {
	case ActivationApproved:
		if err := w.authority.enableIdentity(ctx, cred.RemoteID); err != nil {
			return err
		}
		if err := w.authority.sendCredentialSetup(ctx, cred.RemoteID); err != nil {
			return err
		}
	case ActivationRejected:
		if err := w.authority.disableIdentity(ctx, cred.RemoteID, reason); err != nil {
			return err
		}
	default:
		return invalidTransition(status, status)
	}

	return w.markSynced(ctx, account.ID)
}

func (w *ActivationWorkflow) markSynced(ctx context.Context, accountID uuid.UUID) error {
	if err := w.requests.MarkRemoteSynced(ctx, accountID, true); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mark activation request synced")
	}
	return nil
}

func (w *ActivationWorkflow) canTransition(from, to ActivationStatus) bool {
	if allowed, ok := w.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (w *ActivationWorkflow) runHooks(ctx context.Context, hooks []TransitionHook, data TransitionContext, phase TransitionHookPhase) error {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, data); err != nil {
			if w.hookErrorHandler == nil {
				return err
			}
			return w.hookErrorHandler(ctx, phase, err, data)
		}
	}
	return nil
}

func (w *ActivationWorkflow) transitionMetadata(meta TransitionMetadata) map[string]any {
	out := make(map[string]any, len(meta.Metadata)+1)
	for k, v := range meta.Metadata {
		out[k] = v
	}
	if meta.Reason != "" {
		out["reason"] = meta.Reason
	}
	return out
}

func concatHooks(base, extra []TransitionHook) []TransitionHook {
	out := make([]TransitionHook, 0, len(base)+len(extra))
	out = append(out, base...)
	return append(out, extra...)
}

func buildTransitionOptions(opts []TransitionOption) *transitionOptions {
	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	return options
}

func (o *transitionOptions) cloneMetadata() TransitionMetadata {
	var cloned map[string]any
	if len(o.metadata.Metadata) > 0 {
		cloned = make(map[string]any, len(o.metadata.Metadata))
		for k, v := range o.metadata.Metadata {
			cloned[k] = v
		}
	}

	return TransitionMetadata{
		Reason:   o.metadata.Reason,
		Metadata: cloned,
	}
}

func currentStatus(account *Account) ActivationStatus {
	if account.ActivationStatus != "" {
		return account.ActivationStatus
	}
	if account.IsActivated {
		return ActivationApproved
	}
	return ActivationPending
}

func invalidTransition(from, to ActivationStatus) error {
	return ErrInvalidTransition.Clone().WithMetadata(map[string]any{
		"from": string(from),
		"to":   string(to),
	})
}

func activationOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsExternalAuthorityFailure(err):
		return "remote_failed"
	default:
		return fmt.Sprintf("error_%d", HTTPStatus(err))
	}
}
