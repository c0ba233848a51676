package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/quarkoj/quark"
)

type contestRequest struct {
	ID              *int            `json:"id"`
	Name            string          `json:"name"`
	From            quark.Timestamp `json:"from"`
	To              quark.Timestamp `json:"to"`
	ProblemIDs      []int           `json:"problem_ids"`
	UserIDs         []int           `json:"user_ids"`
	SubmissionLimit int             `json:"submission_limit"`
}

// postContest creates a contest when no id is given, otherwise replaces
// the existing one. Id 0 is reserved for the global pseudo-contest.
func (s *API) postContest(w http.ResponseWriter, r *http.Request) {
	var req contestRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	contest := &quark.Contest{
		Name:            req.Name,
		From:            req.From,
		To:              req.To,
		ProblemIDs:      req.ProblemIDs,
		UserIDs:         req.UserIDs,
		SubmissionLimit: req.SubmissionLimit,
	}

	ctx := r.Context()
	if req.ID == nil {
		out, err := s.base.CreateContest(ctx, contest)
		if err != nil {
			statusError(w, err)
			return
		}
		returnData(w, out)
		return
	}

	if *req.ID == 0 {
		invalidArgument(w, "Contest id 0 is reserved.")
		return
	}
	contest.ID = *req.ID
	out, err := s.base.UpdateContest(ctx, contest)
	if err != nil {
		statusError(w, err)
		return
	}
	returnData(w, out)
}

func (s *API) getContests(w http.ResponseWriter, r *http.Request) {
	contests, err := s.base.Contests(r.Context())
	if err != nil {
		statusError(w, err)
		return
	}
	returnData(w, contests)
}

func (s *API) getContest(w http.ResponseWriter, r *http.Request) {
	id, ok := contestID(w, r)
	if !ok {
		return
	}
	contest, err := s.base.Contest(r.Context(), id)
	if err != nil {
		statusError(w, err)
		return
	}
	returnData(w, contest)
}

func (s *API) getRanklist(w http.ResponseWriter, r *http.Request) {
	id, ok := contestID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	rows, err := s.base.Ranklist(r.Context(), id, q.Get("scoring_rule"), q.Get("tie_breaker"))
	if err != nil {
		statusError(w, err)
		return
	}
	returnData(w, rows)
}

func contestID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 0 {
		invalidArgument(w, "Invalid contest id.")
		return 0, false
	}
	return id, true
}
