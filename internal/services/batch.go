package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ras-rm/auth-service/internal/logging"
	"github.com/ras-rm/auth-service/internal/notify"
	"github.com/ras-rm/auth-service/internal/retention"
	"github.com/ras-rm/auth-service/internal/store"
	"github.com/ras-rm/auth-service/types"
)

// ErrNoAccountsPending is returned by a sweep that found nothing to process.
var ErrNoAccountsPending = errors.New("no accounts pending")

const (
	SweepNotification    = "notification"
	SweepMarkForDeletion = "mark-for-deletion"
	SweepHardDelete      = "hard-delete"
)

// BatchRepository defines the population queries and bulk mutations used by
// the retention sweeps.
type BatchRepository interface {
	ListNotificationCandidates(ctx context.Context, stage types.Stage, oldest, newest time.Time) ([]types.Account, error)
	ListDeletionCandidates(ctx context.Context, inactiveBefore, unverifiedBefore time.Time) ([]types.Account, error)
	ListMarkedForDeletion(ctx context.Context) ([]types.Account, error)
	MarkForDeletion(ctx context.Context, ids []int64) (int64, error)
	StampNotification(ctx context.Context, id int64, stage types.Stage, at time.Time) error
	DeleteMarked(ctx context.Context, id int64) error
}

// Dispatcher sends one stage notification.
type Dispatcher interface {
	Dispatch(ctx context.Context, acc types.Account, stage types.Stage) (notify.Receipt, error)
}

// PartyDeleter removes the party-side respondent linked to an account.
type PartyDeleter interface {
	DeleteRespondent(ctx context.Context, email string) error
}

// ReportStore archives a finished sweep report.
type ReportStore interface {
	Store(ctx context.Context, sweep string, at time.Time, report any) (string, error)
}

// SweepFailure is one account a sweep could not process.
type SweepFailure struct {
	Account string `json:"account"`
	Error   string `json:"error"`
}

// SweepReport summarises one sweep run. Accounts are always obfuscated.
type SweepReport struct {
	Sweep      string         `json:"sweep"`
	Stage      string         `json:"stage,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Candidates int            `json:"candidates"`
	Succeeded  int            `json:"succeeded"`
	Skipped    int            `json:"skipped"`
	Failures   []SweepFailure `json:"failures"`
	ReportKey  string         `json:"-"`
}

func (r *SweepReport) fail(username string, err error) {
	r.Failures = append(r.Failures, SweepFailure{Account: logging.ObfuscateEmail(username), Error: err.Error()})
}

// BatchOption configures optional BatchService collaborators.
type BatchOption func(*BatchService)

// WithClock overrides the evaluation clock.
func WithClock(now func() time.Time) BatchOption {
	return func(s *BatchService) { s.now = now }
}

// WithReportStore archives every sweep report in store.
func WithReportStore(reports ReportStore) BatchOption {
	return func(s *BatchService) { s.reports = reports }
}

// BatchService runs the retention sweeps over the whole account population.
type BatchService struct {
	repo       BatchRepository
	tx         Transactor
	policy     retention.Policy
	dispatcher Dispatcher
	party      PartyDeleter
	reports    ReportStore
	logger     *zap.Logger
	now        func() time.Time
}

// NewBatchService constructs a BatchService over repo. Options override the
// clock and attach a report store.
func NewBatchService(repo BatchRepository, tx Transactor, policy retention.Policy, dispatcher Dispatcher, party PartyDeleter, logger *zap.Logger, opts ...BatchOption) *BatchService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &BatchService{
		repo:       repo,
		tx:         tx,
		policy:     policy,
		dispatcher: dispatcher,
		party:      party,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EligibleForNotification lists accounts for which stage is due now.
func (s *BatchService) EligibleForNotification(ctx context.Context, stage types.Stage) ([]types.Account, error) {
	return s.eligible(ctx, stage, s.now())
}

func (s *BatchService) eligible(ctx context.Context, stage types.Stage, now time.Time) ([]types.Account, error) {
	window, err := s.policy.Window(stage, now)
	if err != nil {
		return nil, err
	}
	candidates, err := s.repo.ListNotificationCandidates(ctx, stage, window.Oldest, window.Newest)
	if err != nil {
		return nil, fmt.Errorf("list %s notification candidates: %w", stage, err)
	}

	// A shared window boundary belongs to the older stage.
	eligible := candidates[:0]
	for _, acc := range candidates {
		if due, ok := s.policy.NotificationDue(now, acc); ok && due == stage {
			eligible = append(eligible, acc)
		}
	}
	return eligible, nil
}

// RunNotificationStage dispatches the stage notification to every eligible
// account and stamps each account whose dispatch succeeded. A failing
// account is reported and skipped; the remaining accounts are still sent.
func (s *BatchService) RunNotificationStage(ctx context.Context, stage types.Stage) (SweepReport, error) {
	report := SweepReport{Sweep: SweepNotification, Stage: stage.String(), StartedAt: s.now()}
	logger := s.logger.With(zap.String("sweep", report.Sweep), zap.String("stage", report.Stage))

	accounts, err := s.eligible(ctx, stage, report.StartedAt)
	if err != nil {
		logger.Error("unable to query accounts eligible for notification", zap.Error(err))
		return report, err
	}
	report.Candidates = len(accounts)
	logger.Info("processing accounts due for notification", zap.Int("count", len(accounts)))

	for _, acc := range accounts {
		accLogger := logger.With(logging.Email("email", acc.Username))
		if _, err := s.dispatcher.Dispatch(ctx, acc, stage); err != nil {
			accLogger.Error("notification dispatch failed", zap.Error(err))
			report.fail(acc.Username, err)
			continue
		}

		err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
			return s.repo.StampNotification(ctx, acc.ID, stage, s.now())
		})
		if err != nil {
			accLogger.Error("notification sent but stamp failed", zap.Error(err))
			report.fail(acc.Username, err)
			continue
		}
		report.Succeeded++
	}

	s.finish(ctx, &report, logger)
	return report, nil
}

// RunMarkForDeletionSweep soft-deletes every account whose deletion is due,
// in a single transaction.
func (s *BatchService) RunMarkForDeletionSweep(ctx context.Context) (SweepReport, error) {
	report := SweepReport{Sweep: SweepMarkForDeletion, StartedAt: s.now()}
	logger := s.logger.With(zap.String("sweep", report.Sweep))
	now := report.StartedAt

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		candidates, err := s.repo.ListDeletionCandidates(ctx, now.Add(-s.policy.DeletionAfter), now.Add(-s.policy.UnverifiedGrace))
		if err != nil {
			return fmt.Errorf("list deletion candidates: %w", err)
		}
		ids := make([]int64, 0, len(candidates))
		for _, acc := range candidates {
			if s.policy.DeletionDue(now, acc) {
				ids = append(ids, acc.ID)
			}
		}
		report.Candidates = len(ids)

		marked, err := s.repo.MarkForDeletion(ctx, ids)
		if err != nil {
			return fmt.Errorf("mark accounts for deletion: %w", err)
		}
		report.Succeeded = int(marked)
		return nil
	})
	if err != nil {
		logger.Error("unable to perform mark for deletion sweep", zap.Error(err))
		return SweepReport{Sweep: report.Sweep, StartedAt: report.StartedAt}, err
	}

	s.finish(ctx, &report, logger)
	return report, nil
}

// RunHardDeleteSweep permanently removes accounts marked for deletion once
// the party service has confirmed removal of each respondent. One account's
// failure never stops the sweep.
func (s *BatchService) RunHardDeleteSweep(ctx context.Context) (SweepReport, error) {
	report := SweepReport{Sweep: SweepHardDelete, StartedAt: s.now()}
	logger := s.logger.With(zap.String("sweep", report.Sweep))

	marked, err := s.repo.ListMarkedForDeletion(ctx)
	if err != nil {
		logger.Error("unable to query accounts marked for deletion", zap.Error(err))
		return report, fmt.Errorf("list accounts marked for deletion: %w", err)
	}
	if len(marked) == 0 {
		logger.Info("no user marked for deletion at this time, nothing to delete")
		return report, ErrNoAccountsPending
	}
	report.Candidates = len(marked)

	for _, acc := range marked {
		accLogger := logger.With(logging.Email("email", acc.Username))
		if err := s.party.DeleteRespondent(ctx, acc.Username); err != nil {
			accLogger.Error("party service did not confirm respondent deletion", zap.Error(err))
			report.fail(acc.Username, err)
			continue
		}

		err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
			return s.repo.DeleteMarked(ctx, acc.ID)
		})
		switch {
		case errors.Is(err, store.ErrNotFound):
			accLogger.Warn("account no longer marked for deletion, skipped")
			report.Skipped++
		case err != nil:
			accLogger.Error("unable to delete account", zap.Error(err))
			report.fail(acc.Username, err)
		default:
			report.Succeeded++
		}
	}

	s.finish(ctx, &report, logger)
	return report, nil
}

func (s *BatchService) finish(ctx context.Context, report *SweepReport, logger *zap.Logger) {
	report.FinishedAt = s.now()
	logger.Info("sweep finished",
		zap.Int("candidates", report.Candidates),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", len(report.Failures)),
	)
	if s.reports == nil {
		return
	}
	name := report.Sweep
	if report.Stage != "" {
		name += "-" + report.Stage
	}
	key, err := s.reports.Store(ctx, name, report.FinishedAt, report)
	if err != nil {
		logger.Warn("unable to archive sweep report", zap.Error(err))
		return
	}
	report.ReportKey = key
}
