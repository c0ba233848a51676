package db

import (
	"strings"

	"github.com/quarkoj/quark"
)

// filterBuilder accumulates WHERE constraints with `?` placeholders.
type filterBuilder struct {
	where []string
	args  []any
}

func (q *filterBuilder) AddConstraint(expr string, args ...any) {
	q.where = append(q.where, expr)
	q.args = append(q.args, args...)
}

func (q *filterBuilder) Where() string {
	if len(q.where) == 0 {
		return "1 = 1"
	}
	return strings.Join(q.where, " AND ")
}

func (q *filterBuilder) Args() []any {
	return q.args
}

func jobFilterQuery(filter *quark.JobFilter) *filterBuilder {
	qb := &filterBuilder{}
	if v := filter.UserID; v != nil {
		qb.AddConstraint("user_id = ?", *v)
	}
	if v := filter.UserName; v != nil {
		qb.AddConstraint("user_id IN (SELECT id FROM users WHERE name = ?)", *v)
	}
	if v := filter.ContestID; v != nil {
		qb.AddConstraint("contest_id = ?", *v)
	}
	if v := filter.ProblemID; v != nil {
		qb.AddConstraint("problem_id = ?", *v)
	}
	if v := filter.Language; v != nil {
		qb.AddConstraint("language = ?", *v)
	}
	if v := filter.From; v != nil {
		qb.AddConstraint("created_time >= ?", v.String())
	}
	if v := filter.To; v != nil {
		qb.AddConstraint("created_time <= ?", v.String())
	}
	if v := filter.State; v != nil {
		qb.AddConstraint("state = ?", string(*v))
	}
	if v := filter.Result; v != nil {
		qb.AddConstraint("result = ?", string(*v))
	}
	return qb
}
