package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/quarkoj/quark"
)

type jobRow struct {
	ID          int             `db:"id"`
	CreatedTime quark.Timestamp `db:"created_time"`
	UpdatedTime quark.Timestamp `db:"updated_time"`
	UserID      int             `db:"user_id"`
	ContestID   int             `db:"contest_id"`
	ProblemID   int             `db:"problem_id"`
	SourceCode  string          `db:"source_code"`
	Language    string          `db:"language"`
	State       string          `db:"state"`
	Result      string          `db:"result"`
	Score       float64         `db:"score"`
}

func (r *jobRow) toJob() *quark.Job {
	return &quark.Job{
		ID:          r.ID,
		CreatedTime: r.CreatedTime,
		UpdatedTime: r.UpdatedTime,
		Submission: quark.Submission{
			SourceCode: r.SourceCode,
			Language:   r.Language,
			UserID:     r.UserID,
			ContestID:  r.ContestID,
			ProblemID:  r.ProblemID,
		},
		State:  quark.JobState(r.State),
		Result: quark.Verdict(r.Result),
		Score:  r.Score,
	}
}

// CreateJob inserts a fresh Queueing job with numCases+1 Waiting case rows
// (index 0 is the compile step) and returns the stored snapshot.
func (d *DB) CreateJob(ctx context.Context, sub *quark.Submission, numCases int, now quark.Timestamp) (*quark.Job, error) {
	tx, err := d.conn.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO jobs (created_time, updated_time, user_id, contest_id, problem_id, source_code, language, state, result, score)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'Queueing', 'Waiting', 0.0)`,
		now, now, sub.UserID, sub.ContestID, sub.ProblemID, sub.SourceCode, sub.Language)
	if err != nil {
		return nil, fmt.Errorf("couldn't insert job: %w", err)
	}
	pk, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	id := int(pk) - 1

	for i := 0; i <= numCases; i++ {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO job_case (job_id, case_index, result, time_us, memory_bytes, info)
			VALUES (?, ?, 'Waiting', 0, 0, '')`, id, i); err != nil {
			return nil, fmt.Errorf("couldn't insert job case: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	job := &quark.Job{
		ID:          id,
		CreatedTime: now,
		UpdatedTime: now,
		Submission:  *sub,
		State:       quark.StateQueueing,
		Result:      quark.VerdictWaiting,
		Score:       0,
		Cases:       make([]quark.JobCase, numCases+1),
	}
	for i := range job.Cases {
		job.Cases[i] = quark.JobCase{ID: i, Result: quark.VerdictWaiting}
	}
	return job, nil
}

// Job fetches one job with its cases. Returns (nil, nil) when missing.
func (d *DB) Job(ctx context.Context, id int) (*quark.Job, error) {
	var row jobRow
	err := d.conn.GetContext(ctx, &row, `
		SELECT id, created_time, updated_time, user_id, contest_id, problem_id, source_code, language, state, result, score
		FROM jobs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	job := row.toJob()
	if err := d.conn.SelectContext(ctx, &job.Cases, `
		SELECT case_index, result, time_us, memory_bytes, info
		FROM job_case WHERE job_id = ? ORDER BY case_index`, id); err != nil {
		return nil, err
	}
	return job, nil
}

// Jobs lists jobs matching the filter, ascending by creation time (job id
// breaks creation-time ties so the order is deterministic).
func (d *DB) Jobs(ctx context.Context, filter *quark.JobFilter) ([]*quark.Job, error) {
	qb := jobFilterQuery(filter)

	var rows []jobRow
	if err := d.conn.SelectContext(ctx, &rows, `
		SELECT id, created_time, updated_time, user_id, contest_id, problem_id, source_code, language, state, result, score
		FROM jobs WHERE `+qb.Where()+` ORDER BY created_time, id`, qb.Args()...); err != nil {
		return nil, err
	}

	jobs := make([]*quark.Job, 0, len(rows))
	byID := make(map[int]*quark.Job, len(rows))
	ids := make([]int, 0, len(rows))
	for i := range rows {
		job := rows[i].toJob()
		jobs = append(jobs, job)
		byID[job.ID] = job
		ids = append(ids, job.ID)
	}
	if len(ids) == 0 {
		return jobs, nil
	}

	query, args, err := sqlx.In(`
		SELECT job_id, case_index, result, time_us, memory_bytes, info
		FROM job_case WHERE job_id IN (?) ORDER BY job_id, case_index`, ids)
	if err != nil {
		return nil, err
	}
	var cases []struct {
		JobID int `db:"job_id"`
		quark.JobCase
	}
	if err := d.conn.SelectContext(ctx, &cases, query, args...); err != nil {
		return nil, err
	}
	for _, c := range cases {
		if job, ok := byID[c.JobID]; ok {
			job.Cases = append(job.Cases, c.JobCase)
		}
	}
	return jobs, nil
}

// ApplyJobUpdate writes one pipeline delta in a single transaction.
func (d *DB) ApplyJobUpdate(ctx context.Context, id int, upd *quark.JobUpdate, now quark.Timestamp) error {
	tx, err := d.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	set := "updated_time = ?"
	args := []any{now}
	if upd.State != nil {
		set += ", state = ?"
		args = append(args, string(*upd.State))
	}
	if upd.Result != nil {
		set += ", result = ?"
		args = append(args, string(*upd.Result))
	}
	if upd.Score != nil {
		set += ", score = ?"
		args = append(args, *upd.Score)
	}
	args = append(args, id)
	if _, err := tx.ExecContext(ctx, "UPDATE jobs SET "+set+" WHERE id = ?", args...); err != nil {
		return fmt.Errorf("couldn't update job %d: %w", id, err)
	}

	if c := upd.Case; c != nil {
		if _, err := tx.ExecContext(ctx, `
			UPDATE job_case SET result = ?, time_us = ?, memory_bytes = ?, info = ?
			WHERE job_id = ? AND case_index = ?`,
			string(c.Result), c.Time, c.Memory, c.Info, id, c.ID); err != nil {
			return fmt.Errorf("couldn't update job %d case %d: %w", id, c.ID, err)
		}
	}

	return tx.Commit()
}

// CancelJob marks a queued job Canceled with every case Skipped.
func (d *DB) CancelJob(ctx context.Context, id int, now quark.Timestamp) error {
	tx, err := d.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET state = 'Canceled', result = 'Skipped', updated_time = ? WHERE id = ?`, now, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE job_case SET result = 'Skipped' WHERE job_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// ResetJob reverts a job to the Queueing state with all cases Waiting.
// Creation time and the submission are untouched.
func (d *DB) ResetJob(ctx context.Context, id int, now quark.Timestamp) error {
	tx, err := d.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET state = 'Queueing', result = 'Waiting', score = 0.0, updated_time = ? WHERE id = ?`, now, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE job_case SET result = 'Waiting', time_us = 0, memory_bytes = 0, info = '' WHERE job_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// UnfinishedJobIDs returns ids of Queueing/Running jobs in id order, for
// the startup rehydration scan.
func (d *DB) UnfinishedJobIDs(ctx context.Context) ([]int, error) {
	var ids []int
	err := d.conn.SelectContext(ctx, &ids, `
		SELECT id FROM jobs WHERE state IN ('Queueing', 'Running') ORDER BY id`)
	return ids, err
}

// AllJobs returns every stored job, ascending by id.
func (d *DB) AllJobs(ctx context.Context) ([]*quark.Job, error) {
	return d.Jobs(ctx, &quark.JobFilter{})
}

// CountSubmissions counts jobs for a (user, problem, contest) triple.
func (d *DB) CountSubmissions(ctx context.Context, userID, problemID, contestID int) (int, error) {
	var count int
	err := d.conn.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM jobs WHERE user_id = ? AND problem_id = ? AND contest_id = ?`,
		userID, problemID, contestID)
	return count, err
}
