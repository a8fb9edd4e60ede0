// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package mapper

import (
	"context"
	"time"

	"gopkg.in/errgo.v1"

	"github.com/canonical/hybridauth/idp"
	"github.com/canonical/hybridauth/internal/monitoring"
	"github.com/canonical/hybridauth/internal/session"
	"github.com/canonical/hybridauth/params"
	"github.com/canonical/hybridauth/store"
)

const (
	// pendingKey is the session key holding a pending account
	// creation.
	pendingKey = "hybridauth-pending"

	// linkKey is the session key holding the external identity of a
	// pending link request.
	linkKey = "hybridauth-link"
)

// Status is the status of an authentication attempt.
type Status string

const (
	// StatusPass is returned when the external identity has been
	// authenticated. The response says what the caller must do
	// next.
	StatusPass Status = "pass"

	// StatusFail is returned when the authentication has failed.
	StatusFail Status = "fail"

	// StatusAbstain is returned when the domain rejected the
	// credentials but other mechanisms may still accept them.
	StatusAbstain Status = "abstain"
)

// A Response is the result of beginning an authentication.
type Response struct {
	Status Status

	// Account holds the account that the external identity is
	// linked to, when there is one.
	Account *store.Account

	// CreateAccount holds the name of an account that the caller
	// should create. Once it has been created AccountCreated must
	// be called to link it.
	CreateAccount string

	// LinkRequest is set when the user must choose an account to
	// link. The external identity is held in the session until a
	// ChangeRequest with ActionLink completes the link.
	LinkRequest *LinkRequest

	// Err holds the reason for a failure.
	Err error
}

// A LinkRequest asks for an external identity to be linked to an
// account.
type LinkRequest struct {
	Domain      string
	Description string
	ExternalKey string

	// Username holds the name of a suggested account, if any.
	Username string
}

// Engine runs the authentication flows of all the domains.
type Engine struct {
	p       Params
	domains *Domains
}

// New creates a new Engine.
func New(p Params) (*Engine, error) {
	ds, err := NewDomains(p)
	if err != nil {
		return nil, errgo.Mask(err, errgo.Is(params.ErrConfiguration))
	}
	return &Engine{
		p:       p,
		domains: ds,
	}, nil
}

// Domains returns the domain handles used by the engine.
func (e *Engine) Domains() *Domains {
	return e.domains
}

// Close closes all the domains.
func (e *Engine) Close() {
	e.domains.Close()
}

// Begin authenticates with the given fields in the named domain and
// resolves the external identity to an account. If target is not nil
// the identity is linked to that account rather than a mapped one.
func (e *Engine) Begin(ctx context.Context, sess *session.Session, domain string, fields map[string]string, target *store.Account) *Response {
	d, s, resp := e.authenticate(ctx, domain, fields)
	if resp != nil {
		return resp
	}
	key := s.UserID()
	id, err := e.p.Links.AccountForExternalKey(ctx, d.name, key)
	switch {
	case err == nil:
		if target != nil && target.ID != id {
			return e.fail(d.name, errgo.WithCausef(nil, params.ErrLinkConflict, "%s: external identity is already linked to a different account", d.name))
		}
		a, err := e.p.Accounts.Account(ctx, id)
		if err != nil {
			return e.fail(d.name, errgo.Notef(err, "cannot get linked account"))
		}
		return e.pass(ctx, d, a, s)
	case errgo.Cause(err) != store.ErrNotFound:
		return e.fail(d.name, errgo.Notef(err, "cannot get link"))
	}

	var result MapResult
	if target != nil {
		result = Mapped{Account: target}
	} else {
		result = d.Map(ctx, s)
	}
	switch r := result.(type) {
	case Mapped:
		if err := e.link(ctx, d, r.Account, key); err != nil {
			return e.fail(d.name, err)
		}
		return e.pass(ctx, d, r.Account, s)
	case Failed:
		return e.fail(d.name, d.userError(r.Err))
	case Hinted:
		if r.Hint.Exists {
			return e.linkRequest(ctx, sess, d, key, r.Hint.Name)
		}
		ok, err := d.AutoCreate(ctx)
		if err != nil {
			return e.fail(d.name, errgo.Notef(err, "cannot check permissions"))
		}
		if !ok {
			return e.linkRequest(ctx, sess, d, key, r.Hint.Name)
		}
		pending := pendingCreation{
			Domain:      d.name,
			ExternalKey: key,
		}
		if !d.provider.CanSudo(key) && !d.sync.Empty() {
			pending.Fields = fields
		}
		if err := sess.Set(ctx, pendingKey, pending); err != nil {
			return e.fail(d.name, errgo.Notef(err, "cannot save session"))
		}
		logger.Infof("%s: requesting creation of account %q", d.name, r.Hint.Name)
		e.p.Metrics.Outcome(d.name, monitoring.OutcomeCreate)
		return &Response{
			Status:        StatusPass,
			CreateAccount: r.Hint.Name,
		}
	default:
		return e.linkRequest(ctx, sess, d, key, "")
	}
}

// pendingCreation holds the state of an account creation between Begin
// and AccountCreated.
type pendingCreation struct {
	Domain      string            `json:"domain"`
	ExternalKey string            `json:"external-key"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// pendingLink holds the external identity authenticated by Begin while
// the user chooses an account to link it to.
type pendingLink struct {
	Domain      string `json:"domain"`
	ExternalKey string `json:"external-key"`
}

// authenticate authenticates with the provider of the named domain. If
// it fails the returned response is not nil.
func (e *Engine) authenticate(ctx context.Context, domain string, fields map[string]string) (*Domain, idp.Session, *Response) {
	d, err := e.domains.Domain(ctx, domain)
	if err != nil {
		return nil, nil, e.fail(domain, errgo.Mask(err, errgo.Any))
	}
	if !d.Enabled() {
		return nil, nil, e.fail(domain, errgo.WithCausef(nil, params.ErrForbidden, "domain %q is not enabled", domain))
	}
	s, err := d.provider.Authenticate(ctx, fields)
	if err == nil {
		return d, s, nil
	}
	if errgo.Cause(err) == params.ErrCredential && !d.params.Authoritative {
		logger.Debugf("%s: abstaining: %s", d.name, err)
		e.p.Metrics.Outcome(d.name, monitoring.OutcomeAbstain)
		return nil, nil, &Response{
			Status: StatusAbstain,
			Err:    err,
		}
	}
	return nil, nil, e.fail(d.name, d.userError(err))
}

// link links the account to the external key. If the key has been
// linked to a different account in the meantime an error with a cause of
// params.ErrLinkConflict is returned.
func (e *Engine) link(ctx context.Context, d *Domain, a *store.Account, key string) error {
	if a.ID == 0 {
		logger.Debugf("%s: not linking %q to unsaved account %q", d.name, key, a.Name)
		return nil
	}
	replaced, err := e.p.Links.Link(ctx, a.ID, d.name, key)
	if err == nil {
		logger.Infof("%s: linked %q to account %q (replaced %v)", d.name, key, a.Name, replaced)
		e.p.Metrics.LinkCreated(d.name)
		return nil
	}
	if errgo.Cause(err) != store.ErrDuplicateKey {
		return errgo.Notef(err, "cannot link account")
	}
	id, rerr := e.p.Links.AccountForExternalKey(ctx, d.name, key)
	if rerr == nil && id == a.ID {
		return nil
	}
	logger.Warningf("%s: %s", d.name, err)
	return errgo.WithCausef(err, params.ErrLinkConflict, "cannot link account %q", a.Name)
}

func (e *Engine) pass(ctx context.Context, d *Domain, a *store.Account, s idp.Session) *Response {
	if err := e.sync(ctx, d, a, s); err != nil {
		return e.fail(d.name, err)
	}
	e.p.Metrics.Outcome(d.name, monitoring.OutcomePass)
	return &Response{
		Status:  StatusPass,
		Account: a,
	}
}

func (e *Engine) sync(ctx context.Context, d *Domain, a *store.Account, s idp.Session) error {
	if d.sync.Empty() {
		return nil
	}
	start := time.Now()
	defer e.p.Metrics.SyncCompleted(d.name, start)
	return errgo.Mask(d.sync.Sync(ctx, a, s), errgo.Is(params.ErrSync))
}

func (e *Engine) fail(domain string, err error) *Response {
	logger.Debugf("%s: authentication failed: %s", domain, err)
	e.p.Metrics.Outcome(domain, outcome(err))
	return &Response{
		Status: StatusFail,
		Err:    err,
	}
}

func outcome(err error) string {
	if errgo.Cause(err) == params.ErrLinkConflict {
		return monitoring.OutcomeConflict
	}
	return monitoring.OutcomeFail
}

func (e *Engine) linkRequest(ctx context.Context, sess *session.Session, d *Domain, key, username string) *Response {
	pl := pendingLink{
		Domain:      d.name,
		ExternalKey: key,
	}
	if err := sess.Set(ctx, linkKey, pl); err != nil {
		return e.fail(d.name, errgo.Notef(err, "cannot save session"))
	}
	e.p.Metrics.Outcome(d.name, monitoring.OutcomeLinkRequest)
	return &Response{
		Status: StatusPass,
		LinkRequest: &LinkRequest{
			Domain:      d.name,
			Description: d.provider.Description(),
			ExternalKey: key,
			Username:    username,
		},
	}
}

// AccountCreated is called once the account requested by Begin has been
// created. It links the account to the external identity and then
// synchronizes its attributes. If a has not yet been saved, it is
// created once the pending creation has been claimed. A pending
// creation is only ever linked once; subsequent calls return an error
// with a cause of params.ErrNotFound.
func (e *Engine) AccountCreated(ctx context.Context, sess *session.Session, a *store.Account) error {
	if a.ID == 0 {
		if _, err := e.p.Accounts.AccountByName(ctx, a.Name); err == nil {
			return errgo.WithCausef(nil, params.ErrLinkConflict, "account %q already exists", a.Name)
		}
	}
	var p pendingCreation
	if err := sess.Take(ctx, pendingKey, &p, nil); err != nil {
		if errgo.Cause(err) == session.ErrNotFound {
			return errgo.WithCausef(nil, params.ErrNotFound, "no account creation pending")
		}
		return errgo.Mask(err)
	}
	d, err := e.domains.Domain(ctx, p.Domain)
	if err != nil {
		return errgo.Mask(err, errgo.Any)
	}
	if a.ID == 0 {
		if err := e.p.Accounts.CreateAccount(ctx, a); err != nil {
			switch errgo.Cause(err) {
			case store.ErrDuplicateUsername:
				return errgo.WithCausef(err, params.ErrLinkConflict, "cannot create account")
			case store.ErrInvalidName:
				return errgo.WithCausef(err, params.ErrBadRequest, "cannot create account")
			}
			return errgo.Notef(err, "cannot create account")
		}
		logger.Infof("%s: created account %q", d.name, a.Name)
	}
	if err := e.link(ctx, d, a, p.ExternalKey); err != nil {
		return errgo.Mask(err, errgo.Is(params.ErrLinkConflict))
	}
	if d.sync.Empty() {
		return nil
	}
	s, err := e.session(ctx, d, p.ExternalKey, p.Fields)
	if err != nil {
		return errgo.Mask(err, errgo.Any)
	}
	return errgo.Mask(e.sync(ctx, d, a, s), errgo.Is(params.ErrSync))
}

// session returns a session for the external identity with the given
// key, without credentials if the provider allows it.
func (e *Engine) session(ctx context.Context, d *Domain, key string, fields map[string]string) (idp.Session, error) {
	if d.provider.CanSudo(key) {
		s, err := d.provider.Sudo(ctx, key)
		if err != nil {
			return nil, d.userError(err)
		}
		return s, nil
	}
	s, err := d.provider.Authenticate(ctx, fields)
	if err != nil {
		return nil, d.userError(err)
	}
	if s.UserID() != key {
		return nil, errgo.WithCausef(nil, params.ErrCredential, "credentials do not match the linked identity")
	}
	return s, nil
}

// PostAuthentication clears any state held in the session.
func (e *Engine) PostAuthentication(ctx context.Context, sess *session.Session) error {
	for _, key := range []string{pendingKey, linkKey} {
		if err := sess.Remove(ctx, key); err != nil {
			return errgo.Mask(err)
		}
	}
	return nil
}

// UserExists reports whether the named account is linked in any
// configured domain.
func (e *Engine) UserExists(ctx context.Context, name string) (bool, error) {
	a, err := e.p.Accounts.AccountByName(ctx, name)
	if errgo.Cause(err) == store.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, errgo.Mask(err)
	}
	domains, err := e.p.Links.DomainsForAccount(ctx, a.ID)
	if err != nil {
		return false, errgo.Mask(err)
	}
	for _, domain := range domains {
		if _, ok := e.domains.params[domain]; ok {
			return true, nil
		}
	}
	return false, nil
}
