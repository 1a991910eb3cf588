package accounts

import (
	"context"
	"database/sql"
	"errors"

	"attendbot-backend/services/accounts/db"
)

// MaxStrikes is how many consecutive login/scrape failures deactivate
// an account. Re-registering through the form reactivates it.
const MaxStrikes = 3

var ErrNotFound = errors.New("account not found")

type User struct {
	CollegeID     string
	EncryptedPass string
	TargetEmail   string
	Active        bool
	FailCount     int
}

func fromRow(row db.User) User {
	return User{
		CollegeID:     row.CollegeID,
		EncryptedPass: row.EncryptedPass,
		TargetEmail:   row.TargetEmail,
		Active:        row.IsActive,
		FailCount:     int(row.FailCount),
	}
}

type Store struct {
	db  *sql.DB
	qry *db.Queries
}

func NewStore(database *sql.DB) Store {
	return Store{
		db:  database,
		qry: db.New(database),
	}
}

// ListActive returns every active account in a stable order.
func (s Store) ListActive(ctx context.Context) ([]User, error) {
	rows, err := s.qry.ListActiveUsers(ctx)
	if err != nil {
		return nil, err
	}
	users := make([]User, len(rows))
	for i, row := range rows {
		users[i] = fromRow(row)
	}
	return users, nil
}

func (s Store) Get(ctx context.Context, collegeID string) (User, error) {
	row, err := s.qry.GetUser(ctx, collegeID)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return fromRow(row), nil
}

// Upsert inserts or updates an account keyed on the portal id and
// resets the failure counter, the registration form's contract.
func (s Store) Upsert(ctx context.Context, user User) error {
	return s.qry.UpsertUser(ctx, db.UpsertUserParams{
		CollegeID:     user.CollegeID,
		EncryptedPass: user.EncryptedPass,
		TargetEmail:   user.TargetEmail,
	})
}

// RecordSuccess clears the failure counter after a successful login.
func (s Store) RecordSuccess(ctx context.Context, collegeID string) error {
	return s.qry.ResetFailCount(ctx, collegeID)
}

// RecordFailure increments the account's failure counter and, on the
// third strike, deactivates it. Returns the new counter and whether
// this call flipped the account inactive.
func (s Store) RecordFailure(ctx context.Context, collegeID string) (failCount int, deactivated bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, err
	}
	defer tx.Rollback()
	txqry := s.qry.WithTx(tx)

	row, err := txqry.GetUser(ctx, collegeID)
	if err == sql.ErrNoRows {
		return 0, false, ErrNotFound
	}
	if err != nil {
		return 0, false, err
	}

	failCount = int(row.FailCount) + 1
	if failCount >= MaxStrikes {
		err = txqry.DeactivateUser(ctx, db.DeactivateUserParams{
			FailCount: int64(failCount),
			CollegeID: collegeID,
		})
		deactivated = row.IsActive
	} else {
		err = txqry.SetFailCount(ctx, db.SetFailCountParams{
			FailCount: int64(failCount),
			CollegeID: collegeID,
		})
	}
	if err != nil {
		return 0, false, err
	}

	return failCount, deactivated, tx.Commit()
}
