package sudoapi

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/quarkoj/quark"
)

// Users lists all users ascending by id.
func (s *BaseAPI) Users(ctx context.Context) ([]*quark.User, error) {
	users, err := s.store.Users(ctx)
	if err != nil {
		return nil, quark.WrapExternal(err)
	}
	return users, nil
}

// CreateUser registers a user under the next free id.
func (s *BaseAPI) CreateUser(ctx context.Context, name string) (*quark.User, error) {
	if err := validation.Validate(name, validation.Required); err != nil {
		return nil, quark.Statusf(quark.CodeInvalidArgument, "Invalid user name: %v", err)
	}
	taken, err := s.store.UserNameTaken(ctx, name, -1)
	if err != nil {
		return nil, quark.WrapExternal(err)
	}
	if taken {
		return nil, quark.Statusf(quark.CodeInvalidArgument, "User name '%s' already exists.", name)
	}
	user, err := s.store.CreateUser(ctx, name)
	if err != nil {
		return nil, quark.WrapExternal(err)
	}
	return user, nil
}

// UpdateUser renames an existing user. Renaming a user to its current
// name is a no-op.
func (s *BaseAPI) UpdateUser(ctx context.Context, id int, name string) (*quark.User, error) {
	if err := validation.Validate(name, validation.Required); err != nil {
		return nil, quark.Statusf(quark.CodeInvalidArgument, "Invalid user name: %v", err)
	}
	existing, err := s.store.User(ctx, id)
	if err != nil {
		return nil, quark.WrapExternal(err)
	}
	if existing == nil {
		return nil, quark.Statusf(quark.CodeNotFound, "User %d not found.", id)
	}
	taken, err := s.store.UserNameTaken(ctx, name, id)
	if err != nil {
		return nil, quark.WrapExternal(err)
	}
	if taken {
		return nil, quark.Statusf(quark.CodeInvalidArgument, "User name '%s' already exists.", name)
	}
	if existing.Name == name {
		return existing, nil
	}
	user, err := s.store.RenameUser(ctx, id, name)
	if err != nil {
		return nil, quark.WrapExternal(err)
	}
	return user, nil
}
