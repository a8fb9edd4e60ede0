// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package directory

import (
	"context"
	"sort"
	"strings"

	"gopkg.in/errgo.v1"
	"gopkg.in/ldap.v2"

	"github.com/canonical/hybridauth/params"
)

// DNKey is the key under which the DN of an entry is held in an Entry.
const DNKey = "dn"

// Entry holds the normalised attributes of a directory entry. Every
// attribute maps to its ordered list of values and the DN of the entry
// is held under DNKey.
type Entry map[string][]string

// DN returns the distinguished name of the entry.
func (e Entry) DN() string {
	if v := e[DNKey]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Search searches the subtree under baseDN for entries matching filter,
// returning the requested attributes of each. If baseDN is empty the
// configured base DN is used. If attrs is empty all attributes are
// returned. An error with a cause of params.ErrDirectory is returned if
// the search fails, and one with a cause of params.ErrConfiguration if
// a term of filter has no attribute.
func (c *Client) Search(ctx context.Context, attrs []string, filter Filter, baseDN string) ([]Entry, error) {
	if err := filter.validate(); err != nil {
		return nil, errgo.Mask(err, errgo.Is(params.ErrConfiguration))
	}
	if baseDN == "" {
		baseDN = c.params.BaseDN
	}
	req := ldap.NewSearchRequest(
		baseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0,
		0,
		false,
		filter.String(),
		attrs,
		nil,
	)
	res, err := c.search(ctx, req)
	if ldap.IsErrorWithCode(errgo.Cause(err), ldap.LDAPResultNoSuchObject) {
		return nil, errgo.WithCausef(err, params.ErrDirectory, "base %q does not exist", baseDN)
	}
	if err != nil {
		return nil, errgo.Mask(err, params.IsDirectoryError)
	}
	return c.entries(res, attrs), nil
}

// Read reads the entry with the given DN, returning nil if the entry
// does not exist or does not match filter.
func (c *Client) Read(ctx context.Context, dn string, attrs []string, filter Filter) (Entry, error) {
	if err := filter.validate(); err != nil {
		return nil, errgo.Mask(err, errgo.Is(params.ErrConfiguration))
	}
	req := ldap.NewSearchRequest(
		dn,
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		1,
		0,
		false,
		filter.String(),
		attrs,
		nil,
	)
	res, err := c.search(ctx, req)
	if ldap.IsErrorWithCode(errgo.Cause(err), ldap.LDAPResultNoSuchObject) {
		return nil, nil
	}
	if err != nil {
		return nil, errgo.Mask(err, params.IsDirectoryError)
	}
	entries := c.entries(res, attrs)
	if len(entries) == 0 {
		return nil, nil
	}
	return entries[0], nil
}

// search runs req on the shared connection, reconnecting once if the
// connection has been lost.
func (c *Client) search(ctx context.Context, req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	for attempt := 0; ; attempt++ {
		if err := c.EnsureBound(ctx); err != nil {
			return nil, errgo.Mask(err, errgo.Is(params.ErrDirectoryBind))
		}
		conn, err := c.connection()
		if err != nil {
			return nil, errgo.Mask(err, errgo.Is(params.ErrDirectoryConnection))
		}
		logger.Debugf("search base %q filter %q", req.BaseDN, req.Filter)
		res, err := conn.Search(req)
		if err == nil {
			return res, nil
		}
		if isNetworkError(err) && attempt == 0 {
			logger.Infof("connection lost, reconnecting: %s", err)
			c.discard(conn)
			continue
		}
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return nil, errgo.Mask(err, errgo.Any)
		}
		logger.Errorf("search base %q filter %q failed: %s", req.BaseDN, req.Filter, err)
		return nil, errgo.WithCausef(err, params.ErrDirectory, "search failed")
	}
}

// entries normalises the entries in res. When attrs is non-empty only
// those attributes are included, keyed by the requested name.
func (c *Client) entries(res *ldap.SearchResult, attrs []string) []Entry {
	if len(res.Referrals) > 0 {
		logger.Warningf("ignoring referrals %q", res.Referrals)
	}
	entries := make([]Entry, 0, len(res.Entries))
	for _, e := range res.Entries {
		if e == nil {
			continue
		}
		entries = append(entries, normalize(e, attrs))
	}
	return entries
}

func normalize(e *ldap.Entry, attrs []string) Entry {
	entry := Entry{
		DNKey: {e.DN},
	}
	if len(attrs) == 0 {
		for _, a := range e.Attributes {
			entry[a.Name] = append(entry[a.Name], a.Values...)
		}
		return entry
	}
	for _, name := range attrs {
		for _, a := range e.Attributes {
			// Servers may return attribute names in a different
			// case to the one requested.
			if strings.EqualFold(a.Name, name) {
				entry[name] = append(entry[name], a.Values...)
			}
		}
	}
	return entry
}

// Modify replaces the given attributes of the entry with the given DN.
// An attribute with no values is deleted.
func (c *Client) Modify(ctx context.Context, dn string, attrs map[string][]string) error {
	if len(attrs) == 0 {
		return nil
	}
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	req := ldap.NewModifyRequest(dn)
	for _, name := range names {
		values := attrs[name]
		if len(values) == 0 {
			req.Delete(name, nil)
			continue
		}
		req.Replace(name, values)
	}
	if err := c.EnsureBound(ctx); err != nil {
		return errgo.Mask(err, errgo.Is(params.ErrDirectoryBind))
	}
	conn, err := c.connection()
	if err != nil {
		return errgo.Mask(err, errgo.Is(params.ErrDirectoryConnection))
	}
	if err := conn.Modify(req); err != nil {
		if isNetworkError(err) {
			c.discard(conn)
		}
		logger.Errorf("modify %q failed: %s", dn, err)
		return errgo.WithCausef(err, params.ErrDirectory, "cannot modify %q", dn)
	}
	return nil
}
