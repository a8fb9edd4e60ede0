// Copyright 2014 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package identity wires the hybridauth services together and serves
// them over HTTP.
package identity

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/juju/aclstore/v2"
	"github.com/juju/clock"
	"github.com/juju/loggo"
	"github.com/juju/simplekv"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/errgo.v1"
	"gopkg.in/httprequest.v1"

	"github.com/canonical/hybridauth/internal/auth"
	"github.com/canonical/hybridauth/internal/mapper"
	"github.com/canonical/hybridauth/internal/monitoring"
	"github.com/canonical/hybridauth/internal/session"
	"github.com/canonical/hybridauth/params"
	"github.com/canonical/hybridauth/store"
)

const defaultSessionTimeout = 15 * time.Minute

var logger = loggo.GetLogger("hybridauth.internal.identity")

// NewAPIHandlerFunc is a function that returns set of httprequest
// handlers that uses the given server params.
type NewAPIHandlerFunc func(HandlerParams) ([]httprequest.Handler, error)

// New returns a handler that serves the given API versions. The key of
// the versions map is the version name.
func New(sp ServerParams, versions map[string]NewAPIHandlerFunc) (*Server, error) {
	if len(versions) == 0 {
		return nil, errgo.Newf("identity server must serve at least one version of the API")
	}
	if sp.Clock == nil {
		sp.Clock = clock.WallClock
	}
	if sp.SessionTimeout == 0 {
		sp.SessionTimeout = defaultSessionTimeout
	}
	authorizer, err := auth.New(context.Background(), auth.Params{
		AdminPassword:     sp.AdminPassword,
		ACLStore:          sp.ACLStore,
		InitialAutoCreate: sp.InitialAutoCreate,
	})
	if err != nil {
		return nil, errgo.Mask(err)
	}
	engine, err := mapper.New(mapper.Params{
		Domains:      sp.Domains,
		Links:        sp.LinkStore,
		Accounts:     sp.AccountStore,
		Permissions:  authorizer,
		Metrics:      monitoring.NewMapperMetrics(),
		LocalEnabled: sp.LocalEnabled,
	})
	if err != nil {
		return nil, errgo.Notef(err, "cannot create mapper")
	}
	sessions := session.NewStore(session.Params{
		Store:   sp.SessionStore,
		Clock:   sp.Clock,
		Timeout: sp.SessionTimeout,
	})

	linkCollector := monitoring.LinkCollector{Links: sp.LinkStore}
	prometheus.Register(linkCollector)

	// Create the HTTP server.
	srv := &Server{
		router:        httprouter.New(),
		engine:        engine,
		linkCollector: linkCollector,
	}
	srv.router.RedirectTrailingSlash = false
	srv.router.RedirectFixedPath = false
	srv.router.NotFound = http.HandlerFunc(notFound)
	srv.router.MethodNotAllowed = http.HandlerFunc(srv.methodNotAllowed)

	aclHandler := authorizer.ACLHandler("/acl")
	srv.router.Handle("OPTIONS", "/*path", srv.options)
	srv.router.Handler("GET", "/metrics", promhttp.Handler())
	srv.router.Handler("GET", "/acl/*path", aclHandler)
	srv.router.Handler("PUT", "/acl/*path", aclHandler)
	srv.router.Handler("POST", "/acl/*path", aclHandler)
	for name, newAPI := range versions {
		handlers, err := newAPI(HandlerParams{
			ServerParams: sp,
			Authorizer:   authorizer,
			Engine:       engine,
			Sessions:     sessions,
		})
		if err != nil {
			engine.Close()
			prometheus.Unregister(linkCollector)
			return nil, errgo.Notef(err, "cannot create API %s", name)
		}
		for _, h := range handlers {
			srv.router.Handle(h.Method, h.Path, h.Handle)
		}
	}
	logger.Infof("serving %d domains", len(engine.Domains().Names()))
	return srv, nil
}

// Server serves the hybridauth endpoints.
type Server struct {
	router        *httprouter.Router
	engine        *mapper.Engine
	linkCollector monitoring.LinkCollector
}

// ServeHTTP implements http.Handler.
func (srv *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	defer func() {
		if v := recover(); v != nil {
			logger.Errorf("PANIC!: %v\n%s", v, debug.Stack())
			httprequest.WriteJSON(w, http.StatusInternalServerError, params.Error{
				Code:    "panic",
				Message: fmt.Sprintf("%v", v),
			})
		}
	}()
	srv.router.ServeHTTP(w, req)
}

// Close closes any resources held by this Server.
func (srv *Server) Close() {
	logger.Debugf("Closing Server")
	srv.engine.Close()
	prometheus.Unregister(srv.linkCollector)
}

// ServerParams contains configuration parameters for a server.
type ServerParams struct {
	// LinkStore holds the links between external identities and
	// accounts.
	LinkStore store.LinkStore

	// AccountStore holds the local accounts.
	AccountStore store.AccountStore

	// SessionStore holds the state of authentication sessions.
	SessionStore simplekv.Store

	// ACLStore holds the ACLs of the service.
	ACLStore aclstore.ACLStore

	// AdminPassword holds the password for admin login.
	AdminPassword string

	// Location holds a URL representing the externally accessible
	// base URL of the service, without a trailing slash.
	Location string

	// Domains holds the configuration of the external identity
	// domains.
	Domains []mapper.DomainParams

	// LocalEnabled records whether local login is offered alongside
	// the domains.
	LocalEnabled bool

	// SessionTimeout holds the lifetime of authentication session
	// state. If it is zero a default of 15 minutes is used.
	SessionTimeout time.Duration

	// InitialAutoCreate holds the initial members of the autocreate
	// ACL.
	InitialAutoCreate []string

	// Clock is used to time sessions. If it is nil the wall clock
	// is used.
	Clock clock.Clock
}

type HandlerParams struct {
	ServerParams

	// Authorizer contains an auth.Authorizer that should be used by
	// handlers to authorize requests.
	Authorizer *auth.Authorizer

	// Engine contains the engine that runs the authentication
	// flows.
	Engine *mapper.Engine

	// Sessions holds the state of the authentication ceremonies
	// driven by Engine.
	Sessions *session.Store
}

// notFound is the handler that is called when a handler cannot be found
// for the requested endpoint.
func notFound(w http.ResponseWriter, req *http.Request) {
	WriteError(context.TODO(), w, errgo.WithCausef(nil, params.ErrNotFound, "not found: %s", req.URL.Path))
}

// methodNotAllowed is the handler that is called when a handler cannot
// be found for the requested endpoint with the request method, but
// there is a handler avaiable using a different method.
func (srv *Server) methodNotAllowed(w http.ResponseWriter, req *http.Request) {
	for _, method := range []string{"GET", "POST", "PUT", "DELETE", "HEAD", "PATCH"} {
		if method == req.Method {
			continue
		}
		if h, _, _ := srv.router.Lookup(method, req.URL.Path); h != nil {
			WriteError(context.TODO(), w, errgo.WithCausef(nil, params.ErrMethodNotAllowed, "%s not allowed for %s", req.Method, req.URL.Path))
			return
		}
	}
	notFound(w, req)
}

// options handles every OPTIONS request and always succeeds.
func (srv *Server) options(http.ResponseWriter, *http.Request, httprouter.Params) {}
