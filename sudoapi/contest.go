package sudoapi

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/quarkoj/quark"
)

// Contests lists all stored contests ascending by id.
func (s *BaseAPI) Contests(ctx context.Context) ([]*quark.Contest, error) {
	contests, err := s.store.Contests(ctx)
	if err != nil {
		return nil, quark.WrapExternal(err)
	}
	return contests, nil
}

// Contest fetches one contest. Id 0 names the global pseudo-contest and
// is never stored.
func (s *BaseAPI) Contest(ctx context.Context, id int) (*quark.Contest, error) {
	contest, err := s.store.Contest(ctx, id)
	if err != nil {
		return nil, quark.WrapExternal(err)
	}
	if contest == nil {
		return nil, quark.Statusf(quark.CodeNotFound, "Contest %d not found.", id)
	}
	return contest, nil
}

// CreateContest stores a new contest under the next free id (starting
// at 1). The request must not name an id.
func (s *BaseAPI) CreateContest(ctx context.Context, c *quark.Contest) (*quark.Contest, error) {
	if err := s.validateContest(ctx, c); err != nil {
		return nil, err
	}
	out, err := s.store.CreateContest(ctx, c)
	if err != nil {
		return nil, quark.WrapExternal(err)
	}
	return out, nil
}

// UpdateContest replaces an existing contest wholesale.
func (s *BaseAPI) UpdateContest(ctx context.Context, c *quark.Contest) (*quark.Contest, error) {
	existing, err := s.store.Contest(ctx, c.ID)
	if err != nil {
		return nil, quark.WrapExternal(err)
	}
	if existing == nil {
		return nil, quark.Statusf(quark.CodeNotFound, "Contest %d not found.", c.ID)
	}
	if err := s.validateContest(ctx, c); err != nil {
		return nil, err
	}
	if err := s.store.UpdateContest(ctx, c); err != nil {
		return nil, quark.WrapExternal(err)
	}
	return c, nil
}

func (s *BaseAPI) validateContest(ctx context.Context, c *quark.Contest) error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Name, validation.Required),
		validation.Field(&c.SubmissionLimit, validation.Min(0)),
	); err != nil {
		return quark.Statusf(quark.CodeInvalidArgument, "Invalid contest: %v", err)
	}
	if c.To.Before(c.From.Time) {
		return quark.Statusf(quark.CodeInvalidArgument, "Contest window ends before it starts.")
	}

	seen := make(map[int]bool)
	for _, pid := range c.ProblemIDs {
		if seen[pid] {
			return quark.Statusf(quark.CodeInvalidArgument, "Duplicate problem %d in contest.", pid)
		}
		seen[pid] = true
		if s.conf.Problem(pid) == nil {
			return quark.Statusf(quark.CodeNotFound, "Problem %d not found.", pid)
		}
	}

	seen = make(map[int]bool)
	for _, uid := range c.UserIDs {
		if seen[uid] {
			return quark.Statusf(quark.CodeInvalidArgument, "Duplicate user %d in contest.", uid)
		}
		seen[uid] = true
		user, err := s.store.User(ctx, uid)
		if err != nil {
			return quark.WrapExternal(err)
		}
		if user == nil {
			return quark.Statusf(quark.CodeNotFound, "User %d not found.", uid)
		}
	}
	return nil
}
