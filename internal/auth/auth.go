// Copyright 2014 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package auth checks the permissions of callers of the service.
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/juju/aclstore/v2"
	"github.com/juju/loggo"
	"gopkg.in/errgo.v1"

	"github.com/canonical/hybridauth/params"
)

var logger = loggo.GetLogger("hybridauth.internal.auth")

const (
	// AdminUsername is the name of the administrator identity.
	AdminUsername = "admin"

	// Everyone is the ACL entry that matches every identity and, in
	// the autocreate ACL, every domain.
	Everyone = "everyone"
)

// Names of the ACLs used by the service.
const (
	// AdminACL controls access to the ACLs themselves.
	AdminACL = "admin"

	// LinkACL controls who may remove links through the
	// administrative API.
	LinkACL = "link"

	// LoginACL controls who may drive authentication ceremonies
	// and change authentication data on behalf of users.
	LoginACL = "login"

	// AutoCreateACL holds the names of the domains that may
	// create accounts automatically.
	AutoCreateACL = "autocreate"
)

// Params holds the parameters for an Authorizer.
type Params struct {
	// AdminPassword holds the password of the admin user. If it
	// is empty basic authentication always fails.
	AdminPassword string

	// ACLStore holds the store used for ACLs.
	ACLStore aclstore.ACLStore

	// InitialAutoCreate holds the initial contents of the
	// autocreate ACL. If it is empty Everyone is used. It has no
	// effect when the ACL already exists.
	InitialAutoCreate []string
}

// An Authorizer authenticates callers and checks their access.
type Authorizer struct {
	adminPassword string
	store         aclstore.ACLStore
	manager       *aclstore.Manager
}

// New creates a new Authorizer, creating any ACLs that do not yet
// exist.
func New(ctx context.Context, p Params) (*Authorizer, error) {
	m, err := aclstore.NewManager(ctx, aclstore.Params{
		Store:             p.ACLStore,
		InitialAdminUsers: []string{AdminUsername},
	})
	if err != nil {
		return nil, errgo.Notef(err, "cannot create ACL manager")
	}
	for _, name := range []string{LinkACL, LoginACL} {
		if err := p.ACLStore.CreateACL(ctx, name, []string{AdminUsername}); err != nil {
			return nil, errgo.Notef(err, "cannot create %q ACL", name)
		}
	}
	autoCreate := p.InitialAutoCreate
	if len(autoCreate) == 0 {
		autoCreate = []string{Everyone}
	}
	if err := p.ACLStore.CreateACL(ctx, AutoCreateACL, autoCreate); err != nil {
		return nil, errgo.Notef(err, "cannot create %q ACL", AutoCreateACL)
	}
	return &Authorizer{
		adminPassword: p.AdminPassword,
		store:         p.ACLStore,
		manager:       m,
	}, nil
}

// Authenticate determines the identity making the given request from
// its basic authentication credentials. An error with a cause of
// params.ErrUnauthorized is returned if there are no credentials or
// they are wrong.
func (a *Authorizer) Authenticate(ctx context.Context, req *http.Request) (Identity, error) {
	username, password, ok := req.BasicAuth()
	if !ok {
		return "", errgo.WithCausef(nil, params.ErrUnauthorized, "authentication required")
	}
	if username == AdminUsername && a.adminPassword != "" && subtle.ConstantTimeCompare([]byte(password), []byte(a.adminPassword)) == 1 {
		logger.Debugf("admin login success as %q", AdminUsername)
		return Identity(AdminUsername), nil
	}
	logger.Infof("invalid credentials for %q", username)
	return "", errgo.WithCausef(nil, params.ErrUnauthorized, "invalid credentials")
}

// CheckACL checks that the given identity is a member of the named ACL.
// If it is not an error with a cause of params.ErrForbidden is
// returned.
func (a *Authorizer) CheckACL(ctx context.Context, aclName string, id Identity) error {
	acl, err := a.store.Get(ctx, aclName)
	if err != nil {
		return errgo.Notef(err, "cannot get ACL %q", aclName)
	}
	ok, err := id.Allow(ctx, acl)
	if err != nil {
		return errgo.Mask(err)
	}
	if !ok {
		return errgo.WithCausef(nil, params.ErrForbidden, "permission denied")
	}
	return nil
}

// AllowAutoCreate reports whether the given domain may create accounts
// automatically.
func (a *Authorizer) AllowAutoCreate(ctx context.Context, domain string) (bool, error) {
	acl, err := a.store.Get(ctx, AutoCreateACL)
	if err != nil {
		return false, errgo.Notef(err, "cannot get ACL %q", AutoCreateACL)
	}
	for _, name := range acl {
		if name == Everyone || name == domain {
			return true, nil
		}
	}
	return false, nil
}

// ACLHandler returns a handler that manages the ACLs, rooted at the
// given path. Only members of the admin ACL may use it.
func (a *Authorizer) ACLHandler(rootPath string) http.Handler {
	return a.manager.NewHandler(aclstore.HandlerParams{
		RootPath: rootPath,
		Authenticate: func(ctx context.Context, w http.ResponseWriter, req *http.Request) (aclstore.Identity, error) {
			id, err := a.Authenticate(ctx, req)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="hybridauth"`)
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return nil, errgo.Mask(err, errgo.Any)
			}
			return id, nil
		},
	})
}

// An Identity is an authenticated caller.
type Identity string

// Allow implements aclstore.Identity.Allow by checking whether the
// identity, or everyone, is named in the ACL.
func (id Identity) Allow(ctx context.Context, acl []string) (bool, error) {
	for _, name := range acl {
		if name == Everyone || name == string(id) {
			return true, nil
		}
	}
	return false, nil
}
