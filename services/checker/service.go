package checker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"attendbot-backend/lib/scrapers/nietcloud"
	"attendbot-backend/lib/telemetry"
	"attendbot-backend/lib/timezone"
	"attendbot-backend/lib/vault"
	"attendbot-backend/services/accounts"
	"attendbot-backend/services/notifier"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("attendbot.services.checker")

// PortalSession is the slice of the scraper the pipeline needs, so
// tests can substitute a fake.
type PortalSession interface {
	LoginWithRetry(ctx context.Context, username, password string, attempts int) error
	ScrapeSummary(ctx context.Context) (nietcloud.Snapshot, error)
	ScanAllSubjects(ctx context.Context, snapshot nietcloud.Snapshot, target time.Time) map[string]nietcloud.DayStatus
	Close()
}

// SessionFactory opens one fresh portal session. Every user gets their
// own, closed before the next user starts.
type SessionFactory func(ctx context.Context) (PortalSession, error)

const defaultLoginAttempts = 2

// Service runs the scrape-and-report pipeline over the active account
// set. All collaborators are passed in explicitly.
type Service struct {
	store         accounts.Store
	vault         vault.Vault
	sender        notifier.Sender
	newSession    SessionFactory
	loginAttempts int
}

func NewService(store accounts.Store, v vault.Vault, sender notifier.Sender, newSession SessionFactory) Service {
	return Service{
		store:         store,
		vault:         v,
		sender:        sender,
		newSession:    newSession,
		loginAttempts: defaultLoginAttempts,
	}
}

type RunOptions struct {
	ShardID     int
	TotalShards int
	// restricts the run to one portal id, for targeted test runs
	OnlyUser string
	// scrape but do not email or touch failure counters
	DryRun bool
}

type UserResult struct {
	CollegeID string
	Snapshot  nietcloud.Snapshot
	Statuses  map[string]nietcloud.DayStatus
	Err       error
}

type RunReport struct {
	Processed    int
	Succeeded    int
	Failed       int
	Deactivated  int
	SendFailures int
	Results      []UserResult
}

// assignedToShard is the whole partitioning scheme: index order comes
// stable from the store, so shards cover the active set exactly once
// without any cross-process coordination.
func assignedToShard(index, shardID, totalShards int) bool {
	return index%totalShards == shardID
}

// Run processes every assigned account sequentially. Only a failure to
// fetch the account list is fatal, anything per-user is absorbed into
// the strikes policy.
func (s Service) Run(ctx context.Context, opts RunOptions) (RunReport, error) {
	ctx, span := tracer.Start(ctx, "checker:Run")
	defer span.End()

	if opts.TotalShards <= 0 {
		opts.TotalShards = 1
	}
	span.SetAttributes(
		attribute.Int("shard_id", opts.ShardID),
		attribute.Int("total_shards", opts.TotalShards),
	)

	users, err := s.store.ListActive(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch the account list")
		return RunReport{}, fmt.Errorf("failed to fetch the account list: %w", err)
	}

	target := timezone.Yesterday()
	var report RunReport
	for i, user := range users {
		if !assignedToShard(i, opts.ShardID, opts.TotalShards) {
			continue
		}
		if opts.OnlyUser != "" && user.CollegeID != opts.OnlyUser {
			continue
		}

		report.Processed++
		slog.InfoContext(ctx, "processing user", "college_id", user.CollegeID)

		result := s.processUser(ctx, user, target, opts.DryRun, &report)
		report.Results = append(report.Results, result)

		if result.Err != nil {
			report.Failed++
			slog.WarnContext(
				ctx, "pipeline failed for user",
				"college_id", user.CollegeID,
				"err", result.Err,
			)
			if !opts.DryRun && s.strike(ctx, user.CollegeID) {
				report.Deactivated++
			}
			continue
		}

		report.Succeeded++
		if !opts.DryRun && user.FailCount > 0 {
			err := s.store.RecordSuccess(ctx, user.CollegeID)
			if err != nil {
				slog.ErrorContext(
					ctx, "failed to reset failure counter",
					"college_id", user.CollegeID,
					"err", err,
				)
			}
		}
	}

	slog.InfoContext(
		ctx, "run finished",
		"processed", report.Processed,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"deactivated", report.Deactivated,
	)
	return report, nil
}

// processUser owns one account's full pipeline. The session is closed
// no matter where the pipeline stops.
func (s Service) processUser(ctx context.Context, user accounts.User, target time.Time, dryRun bool, report *RunReport) UserResult {
	ctx, span := tracer.Start(ctx, "checker:processUser")
	defer span.End()
	span.SetAttributes(attribute.String("college_id", user.CollegeID))

	result := UserResult{CollegeID: user.CollegeID}

	password, err := s.vault.Decrypt(user.EncryptedPass)
	if err != nil {
		span.SetStatus(codes.Error, "decryption failed")
		result.Err = fmt.Errorf("decrypt credentials: %w", err)
		return result
	}

	session, err := s.newSession(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open a portal session")
		result.Err = fmt.Errorf("open portal session: %w", err)
		return result
	}
	defer session.Close()

	err = session.LoginWithRetry(ctx, user.CollegeID, password, s.loginAttempts)
	if err != nil {
		span.SetStatus(codes.Error, "login failed")
		result.Err = fmt.Errorf("login: %w", err)
		return result
	}

	snapshot, err := session.ScrapeSummary(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "extraction failed")
		result.Err = fmt.Errorf("scrape summary: %w", err)
		return result
	}
	result.Snapshot = snapshot
	result.Statuses = session.ScanAllSubjects(ctx, snapshot, target)

	if dryRun {
		return result
	}

	rendered, err := notifier.BuildReport(snapshot, result.Statuses, target)
	if err != nil {
		result.Err = fmt.Errorf("render report: %w", err)
		return result
	}
	err = s.sender.Send(ctx, user.TargetEmail, rendered.Subject, rendered.HTML)
	if err != nil {
		// the scrape itself worked, a lost email is not a strike
		report.SendFailures++
		slog.ErrorContext(
			ctx, "failed to send report",
			"college_id", user.CollegeID,
			"err", err,
		)
	}
	return result
}

// strike records one failure and, on the third in a row, sends the
// one-time deactivation notice.
func (s Service) strike(ctx context.Context, collegeID string) bool {
	failCount, deactivated, err := s.store.RecordFailure(ctx, collegeID)
	if err != nil {
		slog.ErrorContext(
			ctx, "failed to record failure",
			"college_id", collegeID,
			"err", err,
		)
		return false
	}
	slog.InfoContext(
		ctx, "recorded failure",
		"college_id", collegeID,
		"fail_count", failCount,
		"deactivated", deactivated,
	)
	if !deactivated {
		return false
	}

	user, err := s.store.Get(ctx, collegeID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load deactivated user", "college_id", collegeID, "err", err)
		return true
	}
	notice, err := notifier.BuildDeactivationNotice(collegeID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to render deactivation notice", "err", err)
		return true
	}
	err = s.sender.Send(ctx, user.TargetEmail, notice.Subject, notice.HTML)
	if err != nil {
		slog.ErrorContext(
			ctx, "failed to send deactivation notice",
			"college_id", collegeID,
			"err", err,
		)
	}
	return true
}
