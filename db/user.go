package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/quarkoj/quark"
)

// Users lists all users ascending by id.
func (d *DB) Users(ctx context.Context) ([]*quark.User, error) {
	var users []*quark.User
	err := d.conn.SelectContext(ctx, &users, `SELECT id, name FROM users ORDER BY id`)
	return users, err
}

// User fetches one user. Returns (nil, nil) when missing.
func (d *DB) User(ctx context.Context, id int) (*quark.User, error) {
	var u quark.User
	err := d.conn.GetContext(ctx, &u, `SELECT id, name FROM users WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UserByName fetches one user by name. Returns (nil, nil) when missing.
func (d *DB) UserByName(ctx context.Context, name string) (*quark.User, error) {
	var u quark.User
	err := d.conn.GetContext(ctx, &u, `SELECT id, name FROM users WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UserNameTaken reports whether name belongs to a user other than
// excludeID (pass a negative id to check against everyone).
func (d *DB) UserNameTaken(ctx context.Context, name string, excludeID int) (bool, error) {
	var count int
	err := d.conn.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM users WHERE name = ? AND id != ?`, name, excludeID)
	return count > 0, err
}

// CreateUser inserts a user with id = max+1.
func (d *DB) CreateUser(ctx context.Context, name string) (*quark.User, error) {
	tx, err := d.conn.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var nextID int
	if err := tx.GetContext(ctx, &nextID, `SELECT COALESCE(MAX(id) + 1, 0) FROM users`); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO users (id, name) VALUES (?, ?)`, nextID, name); err != nil {
		return nil, fmt.Errorf("couldn't insert user: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &quark.User{ID: nextID, Name: name}, nil
}

// RenameUser updates an existing user's name.
func (d *DB) RenameUser(ctx context.Context, id int, name string) (*quark.User, error) {
	if _, err := d.conn.ExecContext(ctx, `UPDATE users SET name = ? WHERE id = ?`, name, id); err != nil {
		return nil, err
	}
	return &quark.User{ID: id, Name: name}, nil
}
