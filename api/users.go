package api

import "net/http"

type userRequest struct {
	ID   *int   `json:"id"`
	Name string `json:"name"`
}

// postUser creates a user when no id is given, otherwise renames the
// existing one.
func (s *API) postUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx := r.Context()
	if req.ID == nil {
		user, err := s.base.CreateUser(ctx, req.Name)
		if err != nil {
			statusError(w, err)
			return
		}
		returnData(w, user)
		return
	}

	user, err := s.base.UpdateUser(ctx, *req.ID, req.Name)
	if err != nil {
		statusError(w, err)
		return
	}
	returnData(w, user)
}

func (s *API) getUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.base.Users(r.Context())
	if err != nil {
		statusError(w, err)
		return
	}
	returnData(w, users)
}
