package sudoapi

import (
	"context"
	"sort"

	"github.com/quarkoj/quark"
)

const (
	ScoringLatest  = "latest"
	ScoringHighest = "highest"

	TieBreakerSubmissionTime  = "submission_time"
	TieBreakerSubmissionCount = "submission_count"
	TieBreakerUserID          = "user_id"
)

type RanklistRow struct {
	User *quark.User `json:"user"`
	Rank int         `json:"rank"`
	// Scores holds one entry per problem, in the ranked problem order.
	Scores []float64 `json:"scores"`
}

type userStanding struct {
	user *quark.User

	scores          []float64
	total           float64
	latestScoredSub *quark.Timestamp
	submissionCount int
}

// Ranklist computes the standing for a contest, or the global standing
// for contest id 0. It is a pure function over the stored jobs; dynamic
// ranking scores are recomputed lazily here from the persisted metrics.
func (s *BaseAPI) Ranklist(ctx context.Context, contestID int, scoringRule, tieBreaker string) ([]*RanklistRow, error) {
	switch scoringRule {
	case "", ScoringLatest, ScoringHighest:
	default:
		return nil, quark.Statusf(quark.CodeInvalidArgument, "Invalid scoring_rule: %s", scoringRule)
	}
	if scoringRule == "" {
		scoringRule = ScoringLatest
	}
	switch tieBreaker {
	case "", TieBreakerSubmissionTime, TieBreakerSubmissionCount, TieBreakerUserID:
	default:
		return nil, quark.Statusf(quark.CodeInvalidArgument, "Invalid tie_breaker: %s", tieBreaker)
	}

	users, problemIDs, jobs, err := s.ranklistScope(ctx, contestID)
	if err != nil {
		return nil, err
	}

	effective := s.effectiveScores(jobs)

	standings := make([]*userStanding, 0, len(users))
	for _, user := range users {
		st := &userStanding{user: user, scores: make([]float64, len(problemIDs))}

		var userJobs []*quark.Job
		for _, job := range jobs {
			if job.Submission.UserID == user.ID {
				userJobs = append(userJobs, job)
			}
		}
		st.submissionCount = len(userJobs)

		for pi, pid := range problemIDs {
			chosen := chooseJob(userJobs, pid, scoringRule, effective)
			if chosen == nil {
				continue
			}
			st.scores[pi] = effective[chosen.ID]
			if st.latestScoredSub == nil || chosen.CreatedTime.After(st.latestScoredSub.Time) {
				t := chosen.CreatedTime
				st.latestScoredSub = &t
			}
		}
		for _, sc := range st.scores {
			st.total += sc
		}
		standings = append(standings, st)
	}

	sort.SliceStable(standings, func(i, j int) bool {
		a, b := standings[i], standings[j]
		if a.total != b.total {
			return a.total > b.total
		}
		return tieLess(a, b, tieBreaker)
	})

	rows := make([]*RanklistRow, 0, len(standings))
	rank := 1
	for i, st := range standings {
		if i > 0 {
			prev := standings[i-1]
			if st.total < prev.total || tieDistinct(st, prev, tieBreaker) {
				rank = i + 1
			}
		}
		rows = append(rows, &RanklistRow{User: st.user, Rank: rank, Scores: st.scores})
	}
	return rows, nil
}

func (s *BaseAPI) ranklistScope(ctx context.Context, contestID int) ([]*quark.User, []int, []*quark.Job, error) {
	if contestID == 0 {
		users, err := s.store.Users(ctx)
		if err != nil {
			return nil, nil, nil, quark.WrapExternal(err)
		}
		problemIDs := make([]int, 0, len(s.conf.Problems))
		for _, p := range s.conf.Problems {
			problemIDs = append(problemIDs, p.ID)
		}
		sort.Ints(problemIDs)

		jobs, err := s.store.AllJobs(ctx)
		if err != nil {
			return nil, nil, nil, quark.WrapExternal(err)
		}
		return users, problemIDs, jobs, nil
	}

	contest, err := s.Contest(ctx, contestID)
	if err != nil {
		return nil, nil, nil, err
	}
	users := make([]*quark.User, 0, len(contest.UserIDs))
	for _, uid := range contest.UserIDs {
		user, err := s.store.User(ctx, uid)
		if err != nil {
			return nil, nil, nil, quark.WrapExternal(err)
		}
		if user != nil {
			users = append(users, user)
		}
	}
	jobs, err := s.store.Jobs(ctx, &quark.JobFilter{ContestID: &contestID})
	if err != nil {
		return nil, nil, nil, quark.WrapExternal(err)
	}
	return users, contest.ProblemIDs, jobs, nil
}

// effectiveScores maps job id to the score used for ranking. For
// dynamic-ranking problems the stored score is the plain accepted sum;
// the competitive component is recomputed here against the best metric
// across the finished jobs passed in (all jobs for the global ranklist,
// the contest's jobs otherwise).
func (s *BaseAPI) effectiveScores(jobs []*quark.Job) map[int]float64 {
	type caseKey struct{ problem, index int }
	best := make(map[caseKey]int64)

	for _, job := range jobs {
		problem := s.conf.Problem(job.Submission.ProblemID)
		if problem == nil || problem.Type != quark.ProblemDynamicRanking || job.State != quark.StateFinished {
			continue
		}
		for _, c := range job.Cases {
			if c.ID == 0 || c.Result != quark.VerdictAccepted || c.Time <= 0 {
				continue
			}
			key := caseKey{job.Submission.ProblemID, c.ID}
			if cur, ok := best[key]; !ok || c.Time < cur {
				best[key] = c.Time
			}
		}
	}

	out := make(map[int]float64, len(jobs))
	for _, job := range jobs {
		problem := s.conf.Problem(job.Submission.ProblemID)
		if problem == nil || problem.Type != quark.ProblemDynamicRanking || job.State != quark.StateFinished {
			out[job.ID] = job.Score
			continue
		}

		ratio := problem.Misc.DynamicRankingRatio
		var score float64
		for _, c := range job.Cases {
			if c.ID == 0 || c.ID > len(problem.Cases) || c.Result != quark.VerdictAccepted {
				continue
			}
			tc := problem.Cases[c.ID-1]
			score += tc.Score * ratio
			if bestTime, ok := best[caseKey{job.Submission.ProblemID, c.ID}]; ok && c.Time > 0 {
				score += tc.Score * (1 - ratio) * float64(bestTime) / float64(c.Time)
			}
		}
		out[job.ID] = score
	}
	return out
}

// chooseJob picks the scoring job for one (user, problem) pair.
func chooseJob(userJobs []*quark.Job, problemID int, rule string, effective map[int]float64) *quark.Job {
	var chosen *quark.Job
	for _, job := range userJobs {
		if job.Submission.ProblemID != problemID {
			continue
		}
		if chosen == nil {
			chosen = job
			continue
		}
		switch rule {
		case ScoringHighest:
			// Higher score wins; equal scores prefer the earlier one.
			if effective[job.ID] > effective[chosen.ID] ||
				(effective[job.ID] == effective[chosen.ID] && job.CreatedTime.Before(chosen.CreatedTime.Time)) {
				chosen = job
			}
		default: // latest
			if job.CreatedTime.After(chosen.CreatedTime.Time) ||
				(job.CreatedTime.Equal(chosen.CreatedTime.Time) && job.ID > chosen.ID) {
				chosen = job
			}
		}
	}
	return chosen
}

// tieLess orders two equal-total standings by the tie breaker.
func tieLess(a, b *userStanding, breaker string) bool {
	switch breaker {
	case TieBreakerSubmissionTime:
		// Earlier latest scored submission is better; having one beats
		// having none.
		switch {
		case a.latestScoredSub == nil && b.latestScoredSub == nil:
			return false
		case b.latestScoredSub == nil:
			return true
		case a.latestScoredSub == nil:
			return false
		default:
			return a.latestScoredSub.Before(b.latestScoredSub.Time)
		}
	case TieBreakerSubmissionCount:
		return a.submissionCount < b.submissionCount
	case TieBreakerUserID:
		return a.user.ID < b.user.ID
	default:
		return false
	}
}

// tieDistinct reports whether the tie breaker separates two equal-total
// standings, which advances the shared rank.
func tieDistinct(a, b *userStanding, breaker string) bool {
	switch breaker {
	case TieBreakerSubmissionTime:
		switch {
		case a.latestScoredSub == nil && b.latestScoredSub == nil:
			return false
		case a.latestScoredSub == nil || b.latestScoredSub == nil:
			return true
		default:
			return !a.latestScoredSub.Equal(b.latestScoredSub.Time)
		}
	case TieBreakerSubmissionCount:
		return a.submissionCount != b.submissionCount
	case TieBreakerUserID:
		return a.user.ID != b.user.ID
	default:
		return false
	}
}
