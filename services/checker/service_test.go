package checker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"attendbot-backend/lib/scrapers/nietcloud"
	"attendbot-backend/lib/testutil"
	"attendbot-backend/lib/vault"
	"attendbot-backend/services/accounts"
	"attendbot-backend/services/accounts/db"

	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	loginErr  error
	scrapeErr error
	snapshot  nietcloud.Snapshot
	statuses  map[string]nietcloud.DayStatus
	closed    *int
}

func (f *fakeSession) LoginWithRetry(ctx context.Context, username, password string, attempts int) error {
	return f.loginErr
}

func (f *fakeSession) ScrapeSummary(ctx context.Context) (nietcloud.Snapshot, error) {
	if f.scrapeErr != nil {
		return nietcloud.Snapshot{}, f.scrapeErr
	}
	return f.snapshot, nil
}

func (f *fakeSession) ScanAllSubjects(ctx context.Context, snapshot nietcloud.Snapshot, target time.Time) map[string]nietcloud.DayStatus {
	return f.statuses
}

func (f *fakeSession) Close() {
	if f.closed != nil {
		*f.closed++
	}
}

type sentMail struct {
	to      string
	subject string
}

type fakeSender struct {
	sent    []sentMail
	sendErr error
}

func (f *fakeSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentMail{to: to, subject: subject})
	return nil
}

func healthySnapshot() nietcloud.Snapshot {
	return nietcloud.Snapshot{
		OverallText: "81.25%",
		Overall:     81.25,
		Subjects: []nietcloud.SubjectRecord{
			{Name: "Database Systems", Attended: 39, Delivered: 48, Percent: 81.25, PercentText: "81.25"},
		},
		Total: &nietcloud.SubjectRecord{
			Name: "GRAND TOTAL", Attended: 39, Delivered: 48, Percent: 81.25, PercentText: "81.25",
		},
	}
}

type fixture struct {
	ctx     context.Context
	store   accounts.Store
	vault   vault.Vault
	sender  *fakeSender
	session *fakeSession
	closed  int
	svc     Service
}

func setupChecker(t *testing.T) *fixture {
	setup, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "services/checker",
		DbSchema: db.Schema,
	})
	t.Cleanup(cleanup)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	t.Cleanup(cancel)

	key, err := vault.GenerateKey()
	require.NoError(t, err)
	v, err := vault.NewVault(key)
	require.NoError(t, err)

	f := &fixture{
		ctx:    ctx,
		store:  accounts.NewStore(setup.DB),
		vault:  v,
		sender: &fakeSender{},
		session: &fakeSession{
			snapshot: healthySnapshot(),
			statuses: map[string]nietcloud.DayStatus{"Database Systems": nietcloud.StatusPresent},
		},
	}
	f.session.closed = &f.closed
	f.svc = NewService(f.store, f.vault, f.sender, func(ctx context.Context) (PortalSession, error) {
		return f.session, nil
	})
	return f
}

func (f *fixture) addUser(t *testing.T, collegeID, password, email string) {
	sealed, err := f.vault.Encrypt(password)
	require.NoError(t, err)
	err = f.store.Upsert(f.ctx, accounts.User{
		CollegeID:     collegeID,
		EncryptedPass: sealed,
		TargetEmail:   email,
	})
	require.NoError(t, err)
}

func TestShardsPartitionActiveUsers(t *testing.T) {
	totalShards := 3
	users := 10

	seen := map[int]int{}
	for shard := 0; shard < totalShards; shard++ {
		for i := 0; i < users; i++ {
			if assignedToShard(i, shard, totalShards) {
				seen[i]++
			}
		}
	}

	require.Len(t, seen, users)
	for i, count := range seen {
		require.Equal(t, 1, count, "user %d claimed by %d shards", i, count)
	}
}

func TestRunSendsReport(t *testing.T) {
	f := setupChecker(t)
	f.addUser(t, "0221001@niet.co.in", "hunter2", "a@example.com")

	report, err := f.svc.Run(f.ctx, RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, report.Processed)
	require.Equal(t, 1, report.Succeeded)
	require.Equal(t, 0, report.Failed)
	require.Equal(t, 1, f.closed)

	require.Len(t, f.sender.sent, 1)
	require.Equal(t, "a@example.com", f.sender.sent[0].to)
	require.Contains(t, f.sender.sent[0].subject, "81.25%")
}

func TestRunOnlyUser(t *testing.T) {
	f := setupChecker(t)
	f.addUser(t, "0221001@niet.co.in", "hunter2", "a@example.com")
	f.addUser(t, "0221002@niet.co.in", "hunter2", "b@example.com")

	report, err := f.svc.Run(f.ctx, RunOptions{OnlyUser: "0221002@niet.co.in"})
	require.NoError(t, err)
	require.Equal(t, 1, report.Processed)
	require.Len(t, f.sender.sent, 1)
	require.Equal(t, "b@example.com", f.sender.sent[0].to)
}

func TestRunDryRun(t *testing.T) {
	f := setupChecker(t)
	f.addUser(t, "0221001@niet.co.in", "hunter2", "a@example.com")
	f.session.loginErr = nietcloud.ErrLoginFailed

	report, err := f.svc.Run(f.ctx, RunOptions{DryRun: true})
	require.NoError(t, err)
	require.Equal(t, 1, report.Failed)
	require.Empty(t, f.sender.sent)

	// a dry run never touches the strikes counter
	user, err := f.store.Get(f.ctx, "0221001@niet.co.in")
	require.NoError(t, err)
	require.Equal(t, 0, user.FailCount)
	require.True(t, user.Active)
}

func TestThreeStrikesDeactivates(t *testing.T) {
	f := setupChecker(t)
	f.addUser(t, "0221001@niet.co.in", "hunter2", "a@example.com")
	f.session.loginErr = nietcloud.ErrLoginFailed

	for run := 1; run <= 3; run++ {
		report, err := f.svc.Run(f.ctx, RunOptions{})
		require.NoError(t, err)
		require.Equal(t, 1, report.Failed, "run %d", run)
		if run < 3 {
			require.Equal(t, 0, report.Deactivated, "run %d", run)
		} else {
			require.Equal(t, 1, report.Deactivated)
		}
	}

	user, err := f.store.Get(f.ctx, "0221001@niet.co.in")
	require.NoError(t, err)
	require.False(t, user.Active)

	// exactly one deactivation notice, no attendance reports
	require.Len(t, f.sender.sent, 1)
	require.Equal(t, "a@example.com", f.sender.sent[0].to)
	require.Contains(t, f.sender.sent[0].subject, "paused")

	// the fourth run skips the inactive account entirely
	report, err := f.svc.Run(f.ctx, RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 0, report.Processed)
	require.Len(t, f.sender.sent, 1)
}

func TestSuccessResetsStrikes(t *testing.T) {
	f := setupChecker(t)
	f.addUser(t, "0221001@niet.co.in", "hunter2", "a@example.com")

	f.session.loginErr = nietcloud.ErrLoginFailed
	_, err := f.svc.Run(f.ctx, RunOptions{})
	require.NoError(t, err)
	_, err = f.svc.Run(f.ctx, RunOptions{})
	require.NoError(t, err)

	user, err := f.store.Get(f.ctx, "0221001@niet.co.in")
	require.NoError(t, err)
	require.Equal(t, 2, user.FailCount)

	f.session.loginErr = nil
	_, err = f.svc.Run(f.ctx, RunOptions{})
	require.NoError(t, err)

	user, err = f.store.Get(f.ctx, "0221001@niet.co.in")
	require.NoError(t, err)
	require.Equal(t, 0, user.FailCount)
	require.True(t, user.Active)
}

func TestSendFailureIsNotAStrike(t *testing.T) {
	f := setupChecker(t)
	f.addUser(t, "0221001@niet.co.in", "hunter2", "a@example.com")
	f.sender.sendErr = errors.New("smtp down")

	report, err := f.svc.Run(f.ctx, RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, report.Succeeded)
	require.Equal(t, 1, report.SendFailures)

	user, err := f.store.Get(f.ctx, "0221001@niet.co.in")
	require.NoError(t, err)
	require.Equal(t, 0, user.FailCount)
}

func TestDecryptFailureCountsAsStrike(t *testing.T) {
	f := setupChecker(t)
	err := f.store.Upsert(f.ctx, accounts.User{
		CollegeID:     "0221001@niet.co.in",
		EncryptedPass: "not-a-ciphertext",
		TargetEmail:   "a@example.com",
	})
	require.NoError(t, err)

	report, runErr := f.svc.Run(f.ctx, RunOptions{})
	require.NoError(t, runErr)
	require.Equal(t, 1, report.Failed)

	user, err := f.store.Get(f.ctx, "0221001@niet.co.in")
	require.NoError(t, err)
	require.Equal(t, 1, user.FailCount)
}

func TestShardedRunsCoverAllUsers(t *testing.T) {
	f := setupChecker(t)
	for i := 1; i <= 5; i++ {
		f.addUser(t, fmt.Sprintf("022100%d@niet.co.in", i), "hunter2", fmt.Sprintf("u%d@example.com", i))
	}

	totalProcessed := 0
	for shard := 0; shard < 2; shard++ {
		report, err := f.svc.Run(f.ctx, RunOptions{ShardID: shard, TotalShards: 2})
		require.NoError(t, err)
		totalProcessed += report.Processed
	}
	require.Equal(t, 5, totalProcessed)
	require.Len(t, f.sender.sent, 5)
}
