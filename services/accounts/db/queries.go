package db

import (
	"context"
)

const getUser = `
SELECT college_id, encrypted_pass, target_email, is_active, fail_count
FROM users WHERE college_id = ?
`

func (q *Queries) GetUser(ctx context.Context, collegeID string) (User, error) {
	row := q.db.QueryRowContext(ctx, getUser, collegeID)
	var u User
	err := row.Scan(&u.CollegeID, &u.EncryptedPass, &u.TargetEmail, &u.IsActive, &u.FailCount)
	return u, err
}

// ordered so shard partitioning stays deterministic across runs
const listActiveUsers = `
SELECT college_id, encrypted_pass, target_email, is_active, fail_count
FROM users WHERE is_active = TRUE ORDER BY college_id
`

func (q *Queries) ListActiveUsers(ctx context.Context) ([]User, error) {
	rows, err := q.db.QueryContext(ctx, listActiveUsers)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		err := rows.Scan(&u.CollegeID, &u.EncryptedPass, &u.TargetEmail, &u.IsActive, &u.FailCount)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

const upsertUser = `
INSERT INTO users (college_id, encrypted_pass, target_email, is_active, fail_count)
VALUES (?, ?, ?, TRUE, 0)
ON CONFLICT (college_id) DO UPDATE SET
    encrypted_pass = excluded.encrypted_pass,
    target_email = excluded.target_email,
    is_active = TRUE,
    fail_count = 0
`

type UpsertUserParams struct {
	CollegeID     string
	EncryptedPass string
	TargetEmail   string
}

func (q *Queries) UpsertUser(ctx context.Context, arg UpsertUserParams) error {
	_, err := q.db.ExecContext(ctx, upsertUser, arg.CollegeID, arg.EncryptedPass, arg.TargetEmail)
	return err
}

const setFailCount = `
UPDATE users SET fail_count = ? WHERE college_id = ?
`

type SetFailCountParams struct {
	FailCount int64
	CollegeID string
}

func (q *Queries) SetFailCount(ctx context.Context, arg SetFailCountParams) error {
	_, err := q.db.ExecContext(ctx, setFailCount, arg.FailCount, arg.CollegeID)
	return err
}

const deactivateUser = `
UPDATE users SET is_active = FALSE, fail_count = ? WHERE college_id = ?
`

type DeactivateUserParams struct {
	FailCount int64
	CollegeID string
}

func (q *Queries) DeactivateUser(ctx context.Context, arg DeactivateUserParams) error {
	_, err := q.db.ExecContext(ctx, deactivateUser, arg.FailCount, arg.CollegeID)
	return err
}

const resetFailCount = `
UPDATE users SET fail_count = 0 WHERE college_id = ?
`

func (q *Queries) ResetFailCount(ctx context.Context, collegeID string) error {
	_, err := q.db.ExecContext(ctx, resetFailCount, collegeID)
	return err
}
