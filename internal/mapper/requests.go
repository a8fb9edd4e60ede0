// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package mapper

import (
	"context"

	"gopkg.in/errgo.v1"

	"github.com/canonical/hybridauth/idp"
	"github.com/canonical/hybridauth/internal/session"
	"github.com/canonical/hybridauth/params"
	"github.com/canonical/hybridauth/store"
)

// An Action is something a user does with their authentication data.
type Action string

const (
	ActionLogin  Action = "login"
	ActionLink   Action = "link"
	ActionChange Action = "change"
	ActionUnlink Action = "unlink"
	ActionRemove Action = "remove"
)

// LocalDomain is the domain name used by the request for local login.
const LocalDomain = "local"

// A Request describes the information needed to perform an action in
// one domain.
type Request struct {
	Domain      string
	Description string

	// Local is set for the local login request.
	Local bool

	// Fields holds the fields the user must fill in.
	Fields []idp.Field
}

// localFields holds the fields of the local login request.
var localFields = []idp.Field{{
	Name:  "username",
	Label: "Username",
	Type:  idp.FieldString,
}, {
	Name:      "password",
	Label:     "Password",
	Type:      idp.FieldPassword,
	Sensitive: true,
}}

// AuthenticationRequests returns the requests that may be used to
// perform the given action for the named account. The account name is
// ignored for ActionLogin.
func (e *Engine) AuthenticationRequests(ctx context.Context, action Action, username string) ([]Request, error) {
	var reqs []Request
	if action == ActionLogin {
		for _, d := range e.enabledDomains(ctx) {
			reqs = append(reqs, Request{
				Domain:      d.name,
				Description: d.provider.Description(),
				Fields:      d.provider.AuthenticationFields(),
			})
		}
		if e.p.LocalEnabled {
			reqs = append(reqs, Request{
				Domain:      LocalDomain,
				Description: "Local account",
				Local:       true,
				Fields:      localFields,
			})
		}
		return reqs, nil
	}
	var accountID int64
	a, err := e.p.Accounts.AccountByName(ctx, username)
	switch {
	case err == nil:
		accountID = a.ID
	case errgo.Cause(err) != store.ErrNotFound:
		return nil, errgo.Mask(err)
	case action != ActionLink:
		return nil, errgo.WithCausef(nil, params.ErrNotFound, "account %q not found", username)
	}
	for _, d := range e.enabledDomains(ctx) {
		var key string
		if accountID != 0 {
			key, err = e.p.Links.ExternalKeyForAccount(ctx, accountID, d.name)
			if err != nil && errgo.Cause(err) != store.ErrNotFound {
				return nil, errgo.Mask(err)
			}
		}
		req := Request{
			Domain:      d.name,
			Description: d.provider.Description(),
		}
		switch action {
		case ActionLink:
			if key != "" {
				continue
			}
			req.Fields = d.provider.AuthenticationFields()
		case ActionChange:
			if key == "" {
				continue
			}
			req.Fields = d.provider.AttributeFields(key)
			if len(req.Fields) == 0 {
				continue
			}
			if !d.provider.CanSudo(key) {
				req.Fields = append(d.provider.AuthenticationFields(), req.Fields...)
			}
		case ActionUnlink, ActionRemove:
			if key == "" {
				continue
			}
		default:
			return nil, errgo.WithCausef(nil, params.ErrBadRequest, "unknown action %q", action)
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// enabledDomains returns the handles of all the enabled domains that
// can be created.
func (e *Engine) enabledDomains(ctx context.Context) []*Domain {
	var ds []*Domain
	for _, name := range e.domains.Names() {
		d, err := e.domains.Domain(ctx, name)
		if err != nil || !d.Enabled() {
			continue
		}
		ds = append(ds, d)
	}
	return ds
}

// A ChangeRequest completes an action on the authentication data of an
// account.
type ChangeRequest struct {
	Action Action

	// Domain holds the domain the change applies to.
	Domain string

	// Username holds the name of the account.
	Username string

	// ExternalKey optionally holds the external identity to link,
	// taken from a LinkRequest. It is only used by ActionLink and
	// must match the identity authenticated in the session.
	ExternalKey string

	// Fields holds the values of the fields of the request. For
	// ActionChange these hold the new attribute values and, when
	// required, the credentials of the external identity.
	Fields map[string]string
}

// ChangeAuthenticationData performs the given change. ActionLink links
// the external identity that Begin authenticated in the given session
// and returned a LinkRequest for.
func (e *Engine) ChangeAuthenticationData(ctx context.Context, sess *session.Session, req ChangeRequest) error {
	d, err := e.domains.Domain(ctx, req.Domain)
	if err != nil {
		return errgo.Mask(err, errgo.Any)
	}
	a, err := e.p.Accounts.AccountByName(ctx, req.Username)
	if err != nil {
		return errgo.Mask(err, errgo.Is(store.ErrNotFound))
	}
	switch req.Action {
	case ActionLink:
		key, err := e.takeLink(ctx, sess, d, req.ExternalKey)
		if err != nil {
			return errgo.Mask(err, errgo.Is(params.ErrBadRequest), errgo.Is(params.ErrForbidden))
		}
		return errgo.Mask(e.link(ctx, d, a, key), errgo.Is(params.ErrLinkConflict))
	case ActionUnlink, ActionRemove:
		existed, err := e.p.Links.Unlink(ctx, a.ID, d.name)
		if err != nil {
			return errgo.Mask(err)
		}
		if existed {
			logger.Infof("%s: unlinked account %q", d.name, a.Name)
		}
		return nil
	case ActionChange:
		return errgo.Mask(e.changeAttributes(ctx, d, a, req.Fields), errgo.Any)
	}
	return errgo.WithCausef(nil, params.ErrBadRequest, "unknown action %q", req.Action)
}

// takeLink consumes the pending link request held in the session and
// returns its external key. The request must be for the given domain
// and, when key is not empty, for that external key.
func (e *Engine) takeLink(ctx context.Context, sess *session.Session, d *Domain, key string) (string, error) {
	if sess == nil {
		return "", errgo.WithCausef(nil, params.ErrBadRequest, "no external identity to link")
	}
	var pl pendingLink
	err := sess.Take(ctx, linkKey, &pl, func() error {
		if pl.Domain != d.name || key != "" && key != pl.ExternalKey {
			logger.Warningf("%s: rejecting link of unauthenticated identity %q", d.name, key)
			return errgo.WithCausef(nil, params.ErrForbidden, "external identity was not authenticated in this session")
		}
		return nil
	})
	switch {
	case errgo.Cause(err) == session.ErrNotFound:
		return "", errgo.WithCausef(nil, params.ErrBadRequest, "no external identity to link")
	case err != nil:
		return "", errgo.Mask(err, errgo.Is(params.ErrForbidden))
	}
	return pl.ExternalKey, nil
}

func (e *Engine) changeAttributes(ctx context.Context, d *Domain, a *store.Account, fields map[string]string) error {
	key, err := e.p.Links.ExternalKeyForAccount(ctx, a.ID, d.name)
	if err != nil {
		return errgo.Mask(err, errgo.Is(store.ErrNotFound))
	}
	s, err := e.session(ctx, d, key, fields)
	if err != nil {
		return errgo.Mask(err, errgo.Any)
	}
	attrs := make(map[string][]string)
	for _, f := range d.provider.AttributeFields(key) {
		v, ok := fields[f.Name]
		if !ok {
			continue
		}
		var values []string
		if v != "" {
			values = []string{v}
		}
		attrs[f.Name] = values
	}
	if len(attrs) == 0 {
		return nil
	}
	if err := s.SetAttributes(ctx, attrs); err != nil {
		return d.userError(errgo.NoteMask(err, "cannot set attributes", errgo.Any))
	}
	return nil
}

// An Identity holds the account that an external identity
// authenticated as.
type Identity struct {
	ID       int64
	Username string
	RealName string
	Email    string
}

// Authenticate authenticates with the given fields in the named domain
// and returns the account the external identity is linked to, creating
// and linking an account when the identity is new. It never links an
// identity to an existing account that it does not map to.
func (e *Engine) Authenticate(ctx context.Context, domain string, fields map[string]string) (*Identity, error) {
	d, s, resp := e.authenticate(ctx, domain, fields)
	if resp != nil {
		return nil, errgo.Mask(resp.Err, errgo.Any)
	}
	key := s.UserID()
	var a *store.Account
	id, err := e.p.Links.AccountForExternalKey(ctx, d.name, key)
	switch {
	case err == nil:
		a, err = e.p.Accounts.Account(ctx, id)
		if err != nil {
			return nil, errgo.Notef(err, "cannot get linked account")
		}
	case errgo.Cause(err) != store.ErrNotFound:
		return nil, errgo.Notef(err, "cannot get link")
	default:
		a, err = e.createFromMapping(ctx, d, s)
		if err != nil {
			e.p.Metrics.Outcome(d.name, outcome(err))
			return nil, errgo.Mask(err, errgo.Any)
		}
	}
	if resp := e.pass(ctx, d, a, s); resp.Status != StatusPass {
		return nil, errgo.Mask(resp.Err, errgo.Any)
	}
	return &Identity{
		ID:       a.ID,
		Username: a.Name,
		RealName: a.RealName,
		Email:    a.Email,
	}, nil
}

// createFromMapping links the external identity in s to the account it
// maps to, creating the account from the hint when allowed.
func (e *Engine) createFromMapping(ctx context.Context, d *Domain, s idp.Session) (*store.Account, error) {
	key := s.UserID()
	var a *store.Account
	switch r := d.Map(ctx, s).(type) {
	case Mapped:
		a = r.Account
	case Failed:
		return nil, d.userError(r.Err)
	case Hinted:
		if r.Hint.Exists {
			logger.Warningf("%s: %q mapped to collided user %q", d.name, key, r.Hint.Name)
			return nil, errgo.WithCausef(nil, params.ErrLinkConflict, "account %q already exists", r.Hint.Name)
		}
		ok, err := d.AutoCreate(ctx)
		if err != nil {
			return nil, errgo.Notef(err, "cannot check permissions")
		}
		if !ok {
			return nil, errgo.WithCausef(nil, params.ErrForbidden, "not creating account %q", r.Hint.Name)
		}
		a = &store.Account{Name: r.Hint.Name}
		if err := e.p.Accounts.CreateAccount(ctx, a); err != nil {
			if errgo.Cause(err) == store.ErrDuplicateUsername {
				return nil, errgo.WithCausef(err, params.ErrLinkConflict, "cannot create account")
			}
			return nil, errgo.Notef(err, "cannot create account")
		}
		logger.Infof("%s: created account %q", d.name, a.Name)
	default:
		return nil, errgo.WithCausef(nil, params.ErrNotFound, "no account found")
	}
	if err := e.link(ctx, d, a, key); err != nil {
		return nil, errgo.Mask(err, errgo.Is(params.ErrLinkConflict))
	}
	return a, nil
}
