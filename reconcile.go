package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// ReconcileReport describes what ReconcileAccount did for one account.
type ReconcileReport struct {
	AccountID           string           `json:"accountId"`
	RegistrationStep    RegistrationStep `json:"registrationStep"`
	RegistrationResumed bool             `json:"registrationResumed"`
	RemoteResynced      bool             `json:"remoteResynced"`
	Error               string           `json:"error,omitempty"`
}

// Reconciler re-drives professional accounts left between the local store and
// the external authority. It is invoked by an operator, never scheduled.
type Reconciler struct {
	accounts  AccountStore
	requests  ActivationRequestStore
	authority *authorityClient
	workflow  *ActivationWorkflow
	now       func() time.Time
	logger    Logger
	activity  activityRecorder
}

// NewReconciler wires a Reconciler. The workflow is used to push activation
// state to the remote identity.
func NewReconciler(stores Stores, authority ExternalAuthority, workflow *ActivationWorkflow, opts ...Option) *Reconciler {
	o := buildOptions("identity.reconcile", opts)
	return &Reconciler{
		accounts:  stores.Accounts,
		requests:  stores.Requests,
		authority: newAuthorityClient(authority, o),
		workflow:  workflow,
		now:       o.now,
		logger:    o.logger,
		activity:  activityRecorder{sink: o.activity, logger: o.logger, now: o.now},
	}
}

// ReconcileAccount completes an unfinished registration and re-applies an
// unsynced approval or rejection. Every step is idempotent.
func (r *Reconciler) ReconcileAccount(ctx context.Context, principal Principal, accountID uuid.UUID) (ReconcileReport, error) {
	if err := requireAdmin(principal); err != nil {
		return ReconcileReport{}, err
	}
	return r.reconcile(ctx, principal, accountID)
}

func (r *Reconciler) reconcile(ctx context.Context, principal Principal, accountID uuid.UUID) (ReconcileReport, error) {
	report := ReconcileReport{AccountID: accountID.String()}

	account, err := r.workflow.loadProfessional(ctx, accountID)
	if err != nil {
		return report, err
	}
	report.RegistrationStep = account.RegistrationStep

	if !account.RegistrationStep.Reached(StepCompleted) {
		if err := r.resumeRegistration(ctx, account); err != nil {
			return report, err
		}
		report.RegistrationResumed = true
		report.RegistrationStep = account.RegistrationStep
	}

	request, err := r.workflow.ensureRequest(ctx, account)
	if err != nil {
		return report, err
	}

	if !request.RemoteSynced && request.Status != ActivationPending {
		if err := r.workflow.syncRemote(ctx, account, request.Status, request.Reason); err != nil {
			return report, err
		}
		report.RemoteResynced = true
	}

	if report.RegistrationResumed || report.RemoteResynced {
		r.activity.record(ctx, ActivityEvent{
			EventType: ActivityEventReconciled,
			Actor:     principal.Actor(),
			AccountID: account.ID.String(),
			ToStatus:  currentStatus(account),
			Metadata: map[string]any{
				"registration_resumed": report.RegistrationResumed,
				"remote_resynced":      report.RemoteResynced,
			},
		})
	}

	return report, nil
}

func (r *Reconciler) resumeRegistration(ctx context.Context, account *Account) error {
	if _, external := account.Credential().(ExternallyManagedCredential); external && account.RemoteID == "" {
		if r.authority == nil {
			return authorityFailure(opCreateIdentity, "", errMissingAuthority)
		}

		remote, err := r.authority.findIdentityByEmail(ctx, account.Email)
		if err != nil && !IsRemoteIdentityNotFound(err) {
			return err
		}
		if remote == nil {
			remote, err = r.authority.createIdentity(ctx, RemoteIdentitySpecFor(account))
			if err != nil {
				return err
			}
		}

		if err := r.accounts.LinkRemoteIdentity(ctx, account.ID, remote.ID, StepRemoteIdentityLinked); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to link remote identity")
		}
		account.SetCredential(ExternallyManagedCredential{RemoteID: remote.ID})
		account.RegistrationStep = StepRemoteIdentityLinked
		r.logger.Info("remote identity linked", "account_id", account.ID, "remote_id", remote.ID)
	}

	if _, err := r.workflow.ensureRequest(ctx, account); err != nil {
		return err
	}

	if err := r.accounts.UpdateRegistrationStep(ctx, account.ID, StepCompleted); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to complete registration")
	}
	account.RegistrationStep = StepCompleted
	return nil
}

// ReconcileStuck reconciles unfinished registrations older than olderThan and
// activation requests whose remote state was never applied. Failures are
// collected in the reports and do not stop the scan.
func (r *Reconciler) ReconcileStuck(ctx context.Context, principal Principal, olderThan time.Duration, limit int) ([]ReconcileReport, error) {
	if err := requireAdmin(principal); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	ids := map[uuid.UUID]struct{}{}
	order := []uuid.UUID{}
	add := func(id uuid.UUID) {
		if _, seen := ids[id]; !seen {
			ids[id] = struct{}{}
			order = append(order, id)
		}
	}

	unfinished, err := r.accounts.ListUnfinishedRegistrations(ctx, r.now().Add(-olderThan), limit)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list unfinished registrations")
	}
	for _, a := range unfinished {
		add(a.ID)
	}

	unsynced, err := r.requests.ListUnsynced(ctx, limit)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list unsynced activation requests")
	}
	for _, req := range unsynced {
		add(req.AccountID)
	}

	reports := make([]ReconcileReport, 0, len(order))
	for _, id := range order {
		report, err := r.reconcile(ctx, principal, id)
		if err != nil {
			report.Error = err.Error()
			r.logger.Warn("reconcile failed", "error", err, "account_id", id)
		}
		reports = append(reports, report)
	}

	r.logger.Info("reconcile finished", "accounts", len(reports))
	return reports, nil
}
