// Copyright 2014 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package v1 implements the API of the hybridauth service: the
// administrative endpoints and the endpoints that drive authentication
// ceremonies on behalf of a login frontend.
package v1

import (
	"context"

	"github.com/juju/loggo"
	"gopkg.in/errgo.v1"
	"gopkg.in/httprequest.v1"

	"github.com/canonical/hybridauth/internal/auth"
	"github.com/canonical/hybridauth/internal/identity"
	"github.com/canonical/hybridauth/internal/mapper"
	"github.com/canonical/hybridauth/internal/monitoring"
	"github.com/canonical/hybridauth/params"
	"github.com/canonical/hybridauth/store"
)

var logger = loggo.GetLogger("hybridauth.internal.v1")

// NewAPIHandler is an identity.NewAPIHandlerFunc.
func NewAPIHandler(p identity.HandlerParams) ([]httprequest.Handler, error) {
	h := New(p)
	return identity.ReqServer.Handlers(h.apiHandler), nil
}

// Handler handles the /v1 api requests.
type Handler struct {
	params identity.HandlerParams
}

// New returns a new instance of the v1 API handler.
func New(p identity.HandlerParams) *Handler {
	return &Handler{
		params: p,
	}
}

// apiHandler creates a per-request handler. It has the signature
// required by https://godoc.org/gopkg.in/httprequest.v1#Server.Handlers
// so the endpoints can be derived from the methods of apiHandler.
func (h *Handler) apiHandler(p httprequest.Params, arg interface{}) (*apiHandler, context.Context, error) {
	id, err := h.params.Authorizer.Authenticate(p.Context, p.Request)
	if err != nil {
		return nil, nil, errgo.Mask(err, errgo.Is(params.ErrUnauthorized))
	}
	if acl := aclForRequest(arg); acl != "" {
		if err := h.params.Authorizer.CheckACL(p.Context, acl, id); err != nil {
			return nil, nil, errgo.Mask(err, errgo.Is(params.ErrForbidden))
		}
	}
	return &apiHandler{
		h:      h,
		id:     id,
		links:  h.params.LinkStore,
		engine: h.params.Engine,
		monReq: monitoring.NewRequest(&p),
	}, p.Context, nil
}

// aclForRequest returns the ACL that the caller must belong to in
// order to make the given request. Every caller must be authenticated.
func aclForRequest(arg interface{}) string {
	switch arg.(type) {
	case *params.LinksRequest, *params.UnlinkRequest, *params.UnlinkAccountRequest:
		return auth.LinkACL
	case *params.AuthenticationRequestsRequest,
		*params.LoginRequest,
		*params.CreateAccountRequest,
		*params.LogoutRequest,
		*params.ChangeRequest,
		*params.AuthenticateRequest,
		*params.UserExistsRequest:
		return auth.LoginACL
	}
	return ""
}

type apiHandler struct {
	h      *Handler
	id     auth.Identity
	links  store.LinkStore
	engine *mapper.Engine
	monReq monitoring.Request
}

// Close implements io.Closer. httprequest will automatically call this
// once a request is complete.
func (h *apiHandler) Close() error {
	h.monReq.ObserveMetric()
	return nil
}

// storeError converts a store error into one suitable for the API.
func storeError(err error) error {
	if errgo.Cause(err) == store.ErrNotFound {
		return errgo.WithCausef(err, params.ErrNotFound, "")
	}
	return errgo.Mask(err)
}
