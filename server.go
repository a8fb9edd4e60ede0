// Copyright 2014 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package hybridauth serves the hybridauth identity mapping service.
package hybridauth

import (
	"net/http"
	"sort"
	"time"

	"github.com/juju/aclstore/v2"
	"github.com/juju/clock"
	"github.com/juju/simplekv"
	"gopkg.in/errgo.v1"

	"github.com/canonical/hybridauth/internal/debug"
	"github.com/canonical/hybridauth/internal/identity"
	"github.com/canonical/hybridauth/internal/mapper"
	v1 "github.com/canonical/hybridauth/internal/v1"
	"github.com/canonical/hybridauth/store"
)

// Versions of the API that can be served.
const (
	Debug = "debug"
	V1    = "v1"
)

var versions = map[string]identity.NewAPIHandlerFunc{
	Debug: debug.NewAPIHandler,
	V1:    v1.NewAPIHandler,
}

// Versions returns all known API version strings in alphabetical order.
func Versions() []string {
	vs := make([]string, 0, len(versions))
	for v := range versions {
		vs = append(vs, v)
	}
	sort.Strings(vs)
	return vs
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

	// ACLStore holds the ACLStore for the server.
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
	// state.
	SessionTimeout time.Duration

	// InitialAutoCreate holds the initial members of the autocreate
	// ACL.
	InitialAutoCreate []string

	// Clock is used to time sessions. If it is nil the wall clock
	// is used.
	Clock clock.Clock
}

// NewServer returns a new handler that handles hybridauth requests and
// stores its data in the given stores. The handler will serve the
// specified versions of the API.
func NewServer(params ServerParams, serveVersions ...string) (HandlerCloser, error) {
	newAPIs := make(map[string]identity.NewAPIHandlerFunc)
	for _, vers := range serveVersions {
		newAPI := versions[vers]
		if newAPI == nil {
			return nil, errgo.Newf("unknown version %q", vers)
		}
		newAPIs[vers] = newAPI
	}
	srv, err := identity.New(identity.ServerParams(params), newAPIs)
	if err != nil {
		return nil, errgo.Mask(err)
	}
	return srv, nil
}

type HandlerCloser interface {
	http.Handler
	Close()
}
