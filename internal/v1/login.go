// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package v1

import (
	"github.com/google/uuid"
	"gopkg.in/errgo.v1"
	"gopkg.in/httprequest.v1"

	"github.com/canonical/hybridauth/internal/mapper"
	"github.com/canonical/hybridauth/internal/session"
	"github.com/canonical/hybridauth/params"
	"github.com/canonical/hybridauth/store"
)

// AuthenticationRequests serves the GET /v1/authentication-requests
// endpoint. The action defaults to login.
func (h *apiHandler) AuthenticationRequests(p httprequest.Params, req *params.AuthenticationRequestsRequest) (*params.AuthenticationRequestsResponse, error) {
	action := mapper.Action(req.Action)
	if action == "" {
		action = mapper.ActionLogin
	}
	reqs, err := h.engine.AuthenticationRequests(p.Context, action, req.Username)
	if err != nil {
		return nil, engineError(err)
	}
	resp := params.AuthenticationRequestsResponse{
		Requests: make([]params.AuthenticationRequest, len(reqs)),
	}
	for i, r := range reqs {
		fields := make([]params.Field, len(r.Fields))
		for j, f := range r.Fields {
			fields[j] = params.Field{
				Name:      f.Name,
				Label:     f.Label,
				Type:      string(f.Type),
				Sensitive: f.Sensitive,
			}
		}
		resp.Requests[i] = params.AuthenticationRequest{
			Domain:      r.Domain,
			Description: r.Description,
			Local:       r.Local,
			Fields:      fields,
		}
	}
	return &resp, nil
}

// Login serves the POST /v1/login endpoint. It authenticates the
// given fields in a domain and reports what the caller must do next.
func (h *apiHandler) Login(p httprequest.Params, req *params.LoginRequest) (*params.LoginResponse, error) {
	if req.Body.Domain == "" {
		return nil, errgo.WithCausef(nil, params.ErrBadRequest, "domain not specified")
	}
	sess := h.h.params.Sessions.New()
	if req.Body.Session != "" {
		var err error
		if sess, err = h.session(req.Body.Session); err != nil {
			return nil, errgo.Mask(err, errgo.Is(params.ErrBadRequest))
		}
	}
	var target *store.Account
	if req.Body.Account != "" {
		a, err := h.h.params.AccountStore.AccountByName(p.Context, req.Body.Account)
		if err != nil {
			return nil, storeError(err)
		}
		target = a
	}
	resp := h.engine.Begin(p.Context, sess, req.Body.Domain, req.Body.Fields, target)
	switch resp.Status {
	case mapper.StatusFail:
		return nil, errgo.Mask(resp.Err, errgo.Any)
	case mapper.StatusAbstain:
		return &params.LoginResponse{
			Session: sess.ID(),
			Status:  params.LoginAbstain,
			Message: resp.Err.Error(),
		}, nil
	}
	lr := &params.LoginResponse{
		Session:       sess.ID(),
		Status:        params.LoginPass,
		CreateAccount: resp.CreateAccount,
	}
	if resp.Account != nil {
		lr.Account = accountParams(resp.Account)
	}
	if r := resp.LinkRequest; r != nil {
		lr.LinkRequest = &params.LinkRequest{
			Domain:      r.Domain,
			Description: r.Description,
			ExternalKey: r.ExternalKey,
			Username:    r.Username,
		}
	}
	return lr, nil
}

// CreateAccount serves the POST /v1/login/:session/account endpoint.
// It creates the account requested by a login in the session and links
// it to the authenticated external identity.
func (h *apiHandler) CreateAccount(p httprequest.Params, req *params.CreateAccountRequest) (*params.Account, error) {
	sess, err := h.session(req.Session)
	if err != nil {
		return nil, errgo.Mask(err, errgo.Is(params.ErrBadRequest))
	}
	if req.Body.Username == "" {
		return nil, errgo.WithCausef(nil, params.ErrBadRequest, "username not specified")
	}
	a := &store.Account{
		Name:     req.Body.Username,
		RealName: req.Body.RealName,
		Email:    req.Body.Email,
	}
	if err := h.engine.AccountCreated(p.Context, sess, a); err != nil {
		return nil, engineError(err)
	}
	logger.Infof("%s created account %q in session %s", h.id, a.Name, sess.ID())
	return accountParams(a), nil
}

// Logout serves the DELETE /v1/login/:session endpoint.
func (h *apiHandler) Logout(p httprequest.Params, req *params.LogoutRequest) error {
	sess, err := h.session(req.Session)
	if err != nil {
		return errgo.Mask(err, errgo.Is(params.ErrBadRequest))
	}
	return errgo.Mask(h.engine.PostAuthentication(p.Context, sess))
}

// Change serves the POST /v1/change endpoint.
func (h *apiHandler) Change(p httprequest.Params, req *params.ChangeRequest) error {
	var sess *session.Session
	if req.Body.Session != "" {
		var err error
		if sess, err = h.session(req.Body.Session); err != nil {
			return errgo.Mask(err, errgo.Is(params.ErrBadRequest))
		}
	}
	if req.Body.Domain == "" {
		return errgo.WithCausef(nil, params.ErrBadRequest, "domain not specified")
	}
	err := h.engine.ChangeAuthenticationData(p.Context, sess, mapper.ChangeRequest{
		Action:      mapper.Action(req.Body.Action),
		Domain:      req.Body.Domain,
		Username:    req.Body.Username,
		ExternalKey: req.Body.ExternalKey,
		Fields:      req.Body.Fields,
	})
	if err != nil {
		return engineError(err)
	}
	logger.Infof("%s: %s %q in domain %q", h.id, req.Body.Action, req.Body.Username, req.Body.Domain)
	return nil
}

// Authenticate serves the POST /v1/authenticate endpoint.
func (h *apiHandler) Authenticate(p httprequest.Params, req *params.AuthenticateRequest) (*params.Identity, error) {
	if req.Body.Domain == "" {
		return nil, errgo.WithCausef(nil, params.ErrBadRequest, "domain not specified")
	}
	id, err := h.engine.Authenticate(p.Context, req.Body.Domain, req.Body.Fields)
	if err != nil {
		return nil, engineError(err)
	}
	return &params.Identity{
		ID:       id.ID,
		Username: id.Username,
		RealName: id.RealName,
		Email:    id.Email,
	}, nil
}

// UserExists serves the GET /v1/users/:username/exists endpoint.
func (h *apiHandler) UserExists(p httprequest.Params, req *params.UserExistsRequest) (*params.UserExistsResponse, error) {
	ok, err := h.engine.UserExists(p.Context, req.Username)
	if err != nil {
		return nil, errgo.Mask(err)
	}
	return &params.UserExistsResponse{
		Exists: ok,
	}, nil
}

// session resumes the ceremony with the given ID.
func (h *apiHandler) session(id string) (*session.Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errgo.WithCausef(nil, params.ErrBadRequest, "invalid session %q", id)
	}
	return h.h.params.Sessions.Session(id), nil
}

func accountParams(a *store.Account) *params.Account {
	return &params.Account{
		ID:             a.ID,
		Username:       a.Name,
		RealName:       a.RealName,
		Email:          a.Email,
		EmailConfirmed: a.EmailConfirmed,
		Preferences:    a.Preferences,
	}
}

// engineError converts an error from the mapper engine into one
// suitable for the API.
func engineError(err error) error {
	if errgo.Cause(err) == store.ErrNotFound {
		return errgo.WithCausef(err, params.ErrNotFound, "")
	}
	return errgo.Mask(err, errgo.Any)
}
