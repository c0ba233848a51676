package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/quarkoj/quark"
)

type contestRow struct {
	ID              int             `db:"id"`
	Name            string          `db:"name"`
	FromTime        quark.Timestamp `db:"from_time"`
	ToTime          quark.Timestamp `db:"to_time"`
	SubmissionLimit int             `db:"submission_limit"`
	ProblemIDs      string          `db:"problem_ids"`
	UserIDs         string          `db:"user_ids"`
}

func (r *contestRow) toContest() (*quark.Contest, error) {
	c := &quark.Contest{
		ID:              r.ID,
		Name:            r.Name,
		From:            r.FromTime,
		To:              r.ToTime,
		SubmissionLimit: r.SubmissionLimit,
	}
	if err := json.Unmarshal([]byte(r.ProblemIDs), &c.ProblemIDs); err != nil {
		return nil, fmt.Errorf("corrupt problem id list for contest %d: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.UserIDs), &c.UserIDs); err != nil {
		return nil, fmt.Errorf("corrupt user id list for contest %d: %w", r.ID, err)
	}
	return c, nil
}

func idListJSON(ids []int) string {
	if ids == nil {
		ids = []int{}
	}
	data, _ := json.Marshal(ids)
	return string(data)
}

// Contests lists all contests ascending by id.
func (d *DB) Contests(ctx context.Context) ([]*quark.Contest, error) {
	var rows []contestRow
	if err := d.conn.SelectContext(ctx, &rows, `
		SELECT id, name, from_time, to_time, submission_limit, problem_ids, user_ids
		FROM contests ORDER BY id`); err != nil {
		return nil, err
	}
	contests := make([]*quark.Contest, 0, len(rows))
	for i := range rows {
		c, err := rows[i].toContest()
		if err != nil {
			return nil, err
		}
		contests = append(contests, c)
	}
	return contests, nil
}

// Contest fetches one contest. Returns (nil, nil) when missing.
func (d *DB) Contest(ctx context.Context, id int) (*quark.Contest, error) {
	var row contestRow
	err := d.conn.GetContext(ctx, &row, `
		SELECT id, name, from_time, to_time, submission_limit, problem_ids, user_ids
		FROM contests WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toContest()
}

// CreateContest inserts a contest with id = max+1, starting at 1 (id 0 is
// the global pseudo-contest).
func (d *DB) CreateContest(ctx context.Context, c *quark.Contest) (*quark.Contest, error) {
	tx, err := d.conn.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var nextID int
	if err := tx.GetContext(ctx, &nextID, `SELECT COALESCE(MAX(id) + 1, 1) FROM contests`); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO contests (id, name, from_time, to_time, submission_limit, problem_ids, user_ids)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		nextID, c.Name, c.From, c.To, c.SubmissionLimit,
		idListJSON(c.ProblemIDs), idListJSON(c.UserIDs)); err != nil {
		return nil, fmt.Errorf("couldn't insert contest: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	out := *c
	out.ID = nextID
	return &out, nil
}

// UpdateContest replaces the stored contest with the given id.
func (d *DB) UpdateContest(ctx context.Context, c *quark.Contest) error {
	_, err := d.conn.ExecContext(ctx, `
		UPDATE contests SET name = ?, from_time = ?, to_time = ?, submission_limit = ?, problem_ids = ?, user_ids = ?
		WHERE id = ?`,
		c.Name, c.From, c.To, c.SubmissionLimit,
		idListJSON(c.ProblemIDs), idListJSON(c.UserIDs), c.ID)
	return err
}
