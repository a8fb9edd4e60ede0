// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package mapper maps external identities to local accounts and manages
// the links between them.
package mapper

import (
	"context"
	"sync"

	"github.com/juju/loggo"
	"gopkg.in/errgo.v1"

	"github.com/canonical/hybridauth/idp"
	"github.com/canonical/hybridauth/internal/attrsync"
	"github.com/canonical/hybridauth/internal/monitoring"
	"github.com/canonical/hybridauth/params"
	"github.com/canonical/hybridauth/store"
)

var logger = loggo.GetLogger("hybridauth.internal.mapper")

// Permissions decides what domains may do.
type Permissions interface {
	// AllowAutoCreate reports whether the given domain may create
	// accounts automatically.
	AllowAutoCreate(ctx context.Context, domain string) (bool, error)
}

// Params holds the parameters for the mapper.
type Params struct {
	// Domains holds the configuration of each domain.
	Domains []DomainParams

	// Links holds the links between external identities and
	// accounts.
	Links store.LinkStore

	// Accounts holds the local accounts.
	Accounts store.AccountStore

	// Permissions is used to check whether a domain may create
	// accounts. If it is nil every domain may.
	Permissions Permissions

	// Metrics is used to record outcomes. It may be nil.
	Metrics *monitoring.MapperMetrics

	// LocalEnabled records whether local login is offered
	// alongside the domains.
	LocalEnabled bool
}

// Domains holds the domain handles. Handles are created when they are
// first used and then cached for the life of the Domains.
type Domains struct {
	p      Params
	names  []string
	params map[string]DomainParams

	mu      sync.Mutex
	domains map[string]*Domain
}

// NewDomains checks the domain configuration and returns a new Domains.
func NewDomains(p Params) (*Domains, error) {
	ds := &Domains{
		p:       p,
		params:  make(map[string]DomainParams),
		domains: make(map[string]*Domain),
	}
	for i, dp := range p.Domains {
		if dp.Name == "" {
			return nil, errgo.WithCausef(nil, params.ErrConfiguration, "domain %d has no name", i)
		}
		if _, ok := ds.params[dp.Name]; ok {
			return nil, errgo.WithCausef(nil, params.ErrConfiguration, "duplicate domain %q", dp.Name)
		}
		if dp.Provider.Provider == nil {
			return nil, errgo.WithCausef(nil, params.ErrConfiguration, "domain %q has no provider", dp.Name)
		}
		ds.names = append(ds.names, dp.Name)
		ds.params[dp.Name] = dp
	}
	return ds, nil
}

// Names returns the names of all configured domains in configuration
// order.
func (ds *Domains) Names() []string {
	return ds.names
}

// Domain returns the handle of the named domain. If there is no such
// domain an error with a cause of params.ErrNotFound is returned. An
// invalid domain configuration results in an error satisfying
// params.IsConfigurationError.
func (ds *Domains) Domain(ctx context.Context, name string) (*Domain, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if d := ds.domains[name]; d != nil {
		return d, nil
	}
	dp, ok := ds.params[name]
	if !ok {
		return nil, errgo.WithCausef(nil, params.ErrNotFound, "domain %q not found", name)
	}
	d, err := ds.newDomain(ctx, dp)
	if err != nil {
		if params.IsConfigurationError(err) {
			logger.Criticalf("domain %q: %s", name, err)
		} else {
			logger.Errorf("domain %q: %s", name, err)
		}
		return nil, errgo.Mask(err, params.IsConfigurationError, params.IsInfrastructureError)
	}
	ds.domains[name] = d
	return d, nil
}

func (ds *Domains) newDomain(ctx context.Context, dp DomainParams) (*Domain, error) {
	keys := make(map[idp.AttributeKind]string)
	for k, v := range dp.User.Attributes {
		kind, err := idp.ParseAttributeKind(k)
		if err != nil {
			return nil, errgo.NoteMask(err, "invalid user attributes", errgo.Is(params.ErrConfiguration))
		}
		keys[kind] = v
	}
	mapType, err := parseKind(dp.User.MapType)
	if err != nil {
		return nil, errgo.NoteMask(err, "invalid map-type", errgo.Is(params.ErrConfiguration))
	}
	hintType, err := parseKind(dp.User.HintType)
	if err != nil {
		return nil, errgo.NoteMask(err, "invalid hint-type", errgo.Is(params.ErrConfiguration))
	}
	provider := dp.Provider.Provider
	if err := provider.Init(ctx, idp.InitParams{Domain: dp.Name}); err != nil {
		return nil, errgo.NoteMask(err, "cannot initialize provider", params.IsConfigurationError, params.IsInfrastructureError)
	}
	resolver := idp.NewResolver(keys, provider)
	syncer, err := attrsync.New(dp.Name, dp.Sync, resolver, ds.p.Accounts)
	if err != nil {
		return nil, errgo.Mask(err, errgo.Is(params.ErrConfiguration))
	}
	logger.Infof("domain %q: %s (map-type %s, hint-type %s)", dp.Name, provider.Description(), mapType, hintType)
	return &Domain{
		name:        dp.Name,
		params:      dp,
		provider:    provider,
		resolver:    resolver,
		mapType:     mapType,
		hintType:    hintType,
		sync:        syncer,
		links:       ds.p.Links,
		accounts:    ds.p.Accounts,
		permissions: ds.p.Permissions,
	}, nil
}

func parseKind(s string) (idp.AttributeKind, error) {
	if s == "" {
		return idp.Name, nil
	}
	return idp.ParseAttributeKind(s)
}

// Describe returns descriptions of every domain that can be used.
// Domains that cannot be created are left out.
func (ds *Domains) Describe(ctx context.Context) []params.Domain {
	var descs []params.Domain
	for _, name := range ds.names {
		d, err := ds.Domain(ctx, name)
		if err != nil {
			continue
		}
		descs = append(descs, d.describe())
	}
	return descs
}

// Close closes the providers of all the domain handles that have been
// created.
func (ds *Domains) Close() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	for name, d := range ds.domains {
		if err := d.provider.Close(); err != nil {
			logger.Errorf("cannot close domain %q: %s", name, err)
		}
	}
	ds.domains = make(map[string]*Domain)
}

// A Domain is a handle on a configured domain.
type Domain struct {
	name        string
	params      DomainParams
	provider    idp.Provider
	resolver    *idp.Resolver
	mapType     idp.AttributeKind
	hintType    idp.AttributeKind
	sync        *attrsync.Synchronizer
	links       store.LinkStore
	accounts    store.AccountStore
	permissions Permissions
}

// Name returns the name of the domain.
func (d *Domain) Name() string {
	return d.name
}

// Enabled reports whether the domain may be used.
func (d *Domain) Enabled() bool {
	return d.params.enabled()
}

// Provider returns the identity provider of the domain.
func (d *Domain) Provider() idp.Provider {
	return d.provider
}

func (d *Domain) describe() params.Domain {
	return params.Domain{
		Name:        d.name,
		Type:        d.provider.Type(),
		Description: d.provider.Description(),
		Enabled:     d.Enabled(),
		AutoCreate:  d.params.autoCreate(),
	}
}

// AutoCreate reports whether the domain may create accounts.
func (d *Domain) AutoCreate(ctx context.Context) (bool, error) {
	if !d.params.autoCreate() {
		return false, nil
	}
	if d.permissions == nil {
		return true, nil
	}
	ok, err := d.permissions.AllowAutoCreate(ctx, d.name)
	if err != nil {
		return false, errgo.Mask(err)
	}
	return ok, nil
}

// Map finds the account that the external identity in the given
// session maps to. An account is only ever returned when it is not
// already linked in the domain.
func (d *Domain) Map(ctx context.Context, s idp.Session) MapResult {
	var mapErr error
	values, err := d.resolver.Values(ctx, s, d.mapType)
	if err != nil {
		mapErr = err
	}
	for _, v := range values {
		a, err := d.findAccount(ctx, d.mapType, v)
		if err != nil {
			mapErr = err
			break
		}
		if a == nil {
			continue
		}
		linked, err := d.links.IsLinked(ctx, a.ID, d.name)
		if err != nil {
			mapErr = err
			break
		}
		if linked {
			logger.Debugf("%s: account %q is already linked", d.name, a.Name)
			continue
		}
		logger.Debugf("%s: %s %q mapped to account %q", d.name, d.mapType, v, a.Name)
		return Mapped{Account: a}
	}
	if d.hintType != d.mapType {
		hint, err := d.hint(ctx, s)
		if err != nil {
			logger.Errorf("%s: cannot determine hint: %s", d.name, err)
			if mapErr == nil {
				mapErr = err
			}
		} else if hint != nil {
			return Hinted{Hint: *hint}
		}
	}
	if mapErr != nil {
		return Failed{Err: mapErr}
	}
	return NoMatch{}
}

func (d *Domain) hint(ctx context.Context, s idp.Session) (*Hint, error) {
	values, err := d.resolver.Values(ctx, s, d.hintType)
	if err != nil {
		return nil, errgo.Mask(err, errgo.Any)
	}
	for _, v := range values {
		a, err := d.findAccount(ctx, d.hintType, v)
		if err != nil {
			return nil, errgo.Mask(err, errgo.Any)
		}
		if a == nil {
			if d.hintType != idp.Name {
				continue
			}
			name, err := store.CanonicalName(v)
			if err != nil {
				logger.Debugf("%s: cannot use hint %q: %s", d.name, v, err)
				continue
			}
			return &Hint{Name: name}, nil
		}
		linked, err := d.links.IsLinked(ctx, a.ID, d.name)
		if err != nil {
			return nil, errgo.Mask(err)
		}
		if linked {
			logger.Debugf("%s: discarding hint to linked account %q", d.name, a.Name)
			continue
		}
		return &Hint{Name: a.Name, Exists: true, AccountID: a.ID}, nil
	}
	return nil, nil
}

// findAccount returns the single account with the given value of the
// given kind, or nil if there is not exactly one.
func (d *Domain) findAccount(ctx context.Context, kind idp.AttributeKind, value string) (*store.Account, error) {
	var accounts []*store.Account
	var err error
	switch kind {
	case idp.Name:
		a, err := d.accounts.AccountByName(ctx, value)
		if errgo.Cause(err) == store.ErrNotFound {
			return nil, nil
		}
		if err != nil {
			return nil, errgo.Mask(err)
		}
		return a, nil
	case idp.Email:
		accounts, err = d.accounts.AccountsByEmail(ctx, value)
	case idp.RealName:
		accounts, err = d.accounts.AccountsByRealName(ctx, value)
	default:
		return nil, errgo.WithCausef(nil, params.ErrConfiguration, "invalid attribute type %q", kind)
	}
	if err != nil {
		return nil, errgo.Mask(err)
	}
	switch len(accounts) {
	case 0:
		return nil, nil
	case 1:
		return accounts[0], nil
	}
	logger.Warningf("%s: %d accounts have %s %q, ignoring", d.name, len(accounts), kind, value)
	return nil, nil
}

// userError returns the error reported to the user for a failure in
// the domain. Infrastructure and configuration errors are logged and
// replaced by a generic message with the same cause.
func (d *Domain) userError(err error) error {
	switch {
	case params.IsConfigurationError(err):
		logger.Criticalf("%s: %s", d.name, err)
	case params.IsInfrastructureError(err):
		logger.Errorf("%s: %s", d.name, err)
	default:
		return err
	}
	return errgo.WithCausef(nil, errgo.Cause(err), "authentication failed")
}
