// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package attrsync synchronizes attributes between local accounts and
// external identities.
//
// Pull rules run before push rules. All writes are buffered and only
// committed when every rule has succeeded. The account is saved first
// and the provider attributes are then written in a single change; if
// that fails the account is restored, so a failed run changes neither
// the account nor the provider.
package attrsync

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/juju/loggo"
	errgo "gopkg.in/errgo.v1"

	"github.com/canonical/hybridauth/idp"
	"github.com/canonical/hybridauth/params"
	"github.com/canonical/hybridauth/store"
)

var logger = loggo.GetLogger("hybridauth.internal.attrsync")

// A Synchronizer applies the synchronization rules of one domain.
type Synchronizer struct {
	domain   string
	pull     []rule
	push     []rule
	resolver *idp.Resolver
	accounts store.AccountStore
}

// New returns a Synchronizer for the given domain. Provider attribute
// kinds are resolved with resolver and accounts are saved in accounts.
// An error with a cause of params.ErrConfiguration is returned if any
// rule is invalid.
func New(domain string, p Params, resolver *idp.Resolver, accounts store.AccountStore) (*Synchronizer, error) {
	s := &Synchronizer{
		domain:   domain,
		resolver: resolver,
		accounts: accounts,
	}
	for i, r := range p.Pull {
		pr, err := parseRule(r, false)
		if err != nil {
			return nil, errgo.NoteMask(err, fmt.Sprintf("invalid pull rule %d", i), errgo.Is(params.ErrConfiguration))
		}
		s.pull = append(s.pull, pr)
	}
	for i, r := range p.Push {
		pr, err := parseRule(r, true)
		if err != nil {
			return nil, errgo.NoteMask(err, fmt.Sprintf("invalid push rule %d", i), errgo.Is(params.ErrConfiguration))
		}
		s.push = append(s.push, pr)
	}
	return s, nil
}

// Empty reports whether the synchronizer has no rules.
func (s *Synchronizer) Empty() bool {
	return s == nil || len(s.pull) == 0 && len(s.push) == 0
}

// run holds the buffered state of one synchronization.
type run struct {
	s       *Synchronizer
	session idp.Session
	account *store.Account

	// changed records whether account differs from the stored one.
	changed bool

	// attrs holds the provider attributes to write.
	attrs map[string][]string
}

// Sync applies the pull then the push rules to the given account and
// external identity session. On success any changes have been saved and
// the account is updated in place. On failure an error with a cause of
// params.ErrSync is returned and nothing has been written.
func (s *Synchronizer) Sync(ctx context.Context, account *store.Account, session idp.Session) error {
	if s.Empty() {
		return nil
	}
	r := &run{
		s:       s,
		session: session,
		account: account.Clone(),
		attrs:   make(map[string][]string),
	}
	for i, pr := range s.pull {
		if err := r.apply(ctx, pr, r.pullSource, r.pullDestination); err != nil {
			return s.syncError(err, "pull", i, account)
		}
	}
	for i, pr := range s.push {
		if err := r.apply(ctx, pr, r.pushSource, r.pushDestination); err != nil {
			return s.syncError(err, "push", i, account)
		}
	}
	if err := r.commit(ctx, account); err != nil {
		return s.syncError(err, "commit", -1, account)
	}
	*account = *r.account
	return nil
}

func (s *Synchronizer) syncError(err error, stage string, i int, account *store.Account) error {
	if params.IsConfigurationError(err) {
		logger.Criticalf("domain %s: %s rule %d: %s", s.domain, stage, i, err)
	} else {
		logger.Errorf("domain %s: cannot synchronize account %d: %s", s.domain, account.ID, err)
	}
	if i < 0 {
		return errgo.WithCausef(err, params.ErrSync, "cannot synchronize account")
	}
	return errgo.WithCausef(err, params.ErrSync, "cannot synchronize account: %s rule %d", stage, i)
}

type (
	readFunc  func(ctx context.Context, v Value) ([]string, error)
	writeFunc func(ctx context.Context, v Value, values []string, overwrite bool) error
)

func (r *run) apply(ctx context.Context, pr rule, read readFunc, write writeFunc) error {
	values, err := r.source(ctx, pr.source, read)
	if err != nil {
		return errgo.Mask(err, errgo.Any)
	}
	if pr.filter != nil {
		var ok bool
		values, ok = pr.filter(ctx, values)
		if !ok {
			logger.Debugf("domain %s: rule %s -> %s skipped by filter %q", r.s.domain, pr.Source, pr.Destination, pr.Filter)
			return nil
		}
	}
	values = nonEmpty(values)
	if len(values) == 0 && !pr.Delete {
		return nil
	}
	return errgo.Mask(write(ctx, pr.destination, values, pr.Overwrite), errgo.Any)
}

func (r *run) source(ctx context.Context, v Value, read readFunc) ([]string, error) {
	if v.Type == Literal {
		return []string{v.Name}, nil
	}
	values, err := read(ctx, v)
	return values, errgo.Mask(err, errgo.Any)
}

// pullSource reads a provider value.
func (r *run) pullSource(ctx context.Context, v Value) ([]string, error) {
	name, err := r.attrName(v)
	if err != nil {
		return nil, errgo.Mask(err, errgo.Any)
	}
	values, err := r.session.Attributes(ctx, name)
	if err != nil {
		return nil, errgo.Notef(err, "cannot read attribute %q", name)
	}
	return values, nil
}

// pullDestination writes a value to the buffered account.
func (r *run) pullDestination(_ context.Context, v Value, values []string, overwrite bool) error {
	current := localValues(r.account, v)
	if len(current) > 0 && !overwrite {
		return nil
	}
	var value string
	if len(values) > 0 {
		value = values[0]
	}
	switch v.Type {
	case Email:
		value = normalizeEmail(value)
		if r.account.Email == value && r.account.EmailConfirmed == (value != "") {
			return nil
		}
		r.account.Email = value
		r.account.EmailConfirmed = value != ""
	case RealName:
		if r.account.RealName == value {
			return nil
		}
		r.account.RealName = value
	case Pref:
		old, ok := r.account.Preferences[v.Name]
		switch {
		case value == "" && !ok, value != "" && ok && old == value:
			return nil
		case value == "":
			delete(r.account.Preferences, v.Name)
		default:
			if r.account.Preferences == nil {
				r.account.Preferences = make(map[string]string)
			}
			r.account.Preferences[v.Name] = value
		}
	default:
		return errgo.WithCausef(nil, params.ErrConfiguration, "invalid destination %q", v)
	}
	r.changed = true
	return nil
}

// pushSource reads a value from the buffered account, so that values
// pulled in the same run are seen.
func (r *run) pushSource(_ context.Context, v Value) ([]string, error) {
	return localValues(r.account, v), nil
}

// pushDestination writes a value to the buffered provider attributes.
func (r *run) pushDestination(ctx context.Context, v Value, values []string, overwrite bool) error {
	name, err := r.attrName(v)
	if err != nil {
		return errgo.Mask(err, errgo.Any)
	}
	current, ok := r.attrs[name]
	if !ok {
		current, err = r.session.Attributes(ctx, name)
		if err != nil {
			return errgo.Notef(err, "cannot read attribute %q", name)
		}
	}
	if len(nonEmpty(current)) > 0 && !overwrite {
		logger.Debugf("domain %s: not overwriting attribute %q", r.s.domain, name)
		return nil
	}
	if equal(current, values) {
		return nil
	}
	r.attrs[name] = values
	return nil
}

// attrName returns the provider attribute named by v.
func (r *run) attrName(v Value) (string, error) {
	switch v.Type {
	case Attr:
		return v.Name, nil
	case Kind:
		name, err := r.s.resolver.Key(idp.AttributeKind(v.Name))
		if err != nil {
			return "", errgo.Mask(err, errgo.Is(params.ErrUnmappedAttribute))
		}
		return name, nil
	}
	return "", errgo.WithCausef(nil, params.ErrConfiguration, "%q is not a provider attribute", v)
}

// commit saves the buffered account and then pushes the buffered
// provider attributes. If the push fails the account is saved again as
// original.
func (r *run) commit(ctx context.Context, original *store.Account) error {
	if r.changed {
		if err := r.s.accounts.SaveAccount(ctx, r.account); err != nil {
			return errgo.Notef(err, "cannot save account")
		}
	}
	if len(r.attrs) > 0 {
		if err := r.session.SetAttributes(ctx, r.attrs); err != nil {
			if r.changed {
				r.restore(ctx, original)
			}
			return errgo.Notef(err, "cannot set attributes %s", attrNames(r.attrs))
		}
		logger.Debugf("domain %s: pushed attributes %s", r.s.domain, attrNames(r.attrs))
	}
	if r.changed {
		logger.Infof("domain %s: synchronized account %d", r.s.domain, r.account.ID)
	}
	return nil
}

func (r *run) restore(ctx context.Context, original *store.Account) {
	if err := r.s.accounts.SaveAccount(ctx, original.Clone()); err != nil {
		logger.Errorf("domain %s: cannot restore account %d: %s", r.s.domain, original.ID, err)
	}
}

// attrNames returns the sorted, quoted names of the given attributes.
func attrNames(attrs map[string][]string) string {
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, fmt.Sprintf("%q", name))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func localValues(a *store.Account, v Value) []string {
	var value string
	switch v.Type {
	case Email:
		value = a.Email
	case RealName:
		value = a.RealName
	case Username:
		value = a.Name
	case Pref:
		value = a.Preferences[v.Name]
	}
	if value == "" {
		return nil
	}
	return []string{value}
}

// normalizeEmail trims the address and lower-cases its domain part.
func normalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	if i := strings.LastIndexByte(email, '@'); i >= 0 {
		email = email[:i] + strings.ToLower(email[i:])
	}
	return email
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
