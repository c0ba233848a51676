package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/quarkoj/quark"
)

func (s *API) postJob(w http.ResponseWriter, r *http.Request) {
	var sub quark.Submission
	if !decodeJSON(w, r, &sub) {
		return
	}
	job, err := s.base.Submit(r.Context(), &sub)
	if err != nil {
		statusError(w, err)
		return
	}
	returnData(w, job)
}

func (s *API) getJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	job, err := s.base.Job(r.Context(), id)
	if err != nil {
		statusError(w, err)
		return
	}
	returnData(w, job)
}

func (s *API) getJobs(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseJobFilter(w, r)
	if !ok {
		return
	}
	jobs, err := s.base.Jobs(r.Context(), filter)
	if err != nil {
		statusError(w, err)
		return
	}
	returnData(w, jobs)
}

func (s *API) putJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	job, err := s.base.Rejudge(r.Context(), id)
	if err != nil {
		statusError(w, err)
		return
	}
	returnData(w, job)
}

func (s *API) deleteJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	if err := s.base.Cancel(r.Context(), id); err != nil {
		statusError(w, err)
		return
	}
	returnData(w, nil)
}

func jobID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 0 {
		invalidArgument(w, "Invalid job id.")
		return 0, false
	}
	return id, true
}

// parseJobFilter reads the query string into a JobFilter. Malformed
// values are rejected; well-formed values that match nothing are the
// caller's concern.
func parseJobFilter(w http.ResponseWriter, r *http.Request) (*quark.JobFilter, bool) {
	filter := &quark.JobFilter{}
	q := r.URL.Query()

	for _, f := range []struct {
		key string
		dst **int
	}{
		{"user_id", &filter.UserID},
		{"contest_id", &filter.ContestID},
		{"problem_id", &filter.ProblemID},
	} {
		if v := q.Get(f.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				invalidArgument(w, "Invalid %s.", f.key)
				return nil, false
			}
			*f.dst = &n
		}
	}

	if v := q.Get("user_name"); v != "" {
		filter.UserName = &v
	}
	if v := q.Get("language"); v != "" {
		filter.Language = &v
	}
	if v := q.Get("from"); v != "" {
		t, err := quark.ParseTimestamp(v)
		if err != nil {
			invalidArgument(w, "Invalid from timestamp.")
			return nil, false
		}
		filter.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := quark.ParseTimestamp(v)
		if err != nil {
			invalidArgument(w, "Invalid to timestamp.")
			return nil, false
		}
		filter.To = &t
	}
	if v := q.Get("state"); v != "" {
		if !quark.ValidJobState(v) {
			invalidArgument(w, "Invalid state.")
			return nil, false
		}
		st := quark.JobState(v)
		filter.State = &st
	}
	if v := q.Get("result"); v != "" {
		if !quark.ValidVerdict(v) {
			invalidArgument(w, "Invalid result.")
			return nil, false
		}
		res := quark.Verdict(v)
		filter.Result = &res
	}
	return filter, true
}
