// Copyright 2017 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package ldap contains identity providers that validate against ldap
// servers.
package ldap

import (
	"context"
	"sync"

	"github.com/juju/loggo"
	"gopkg.in/errgo.v1"

	"github.com/canonical/hybridauth/directory"
	"github.com/canonical/hybridauth/idp"
	"github.com/canonical/hybridauth/params"
)

var logger = loggo.GetLogger("hybridauth.idp.ldap")

func init() {
	idp.Register("ldap", func(unmarshal func(interface{}) error) (idp.Provider, error) {
		var p Params
		if err := unmarshal(&p); err != nil {
			return nil, errgo.Notef(err, "cannot unmarshal ldap parameters")
		}
		idp, err := NewProvider(p)
		if err != nil {
			return nil, errgo.Mask(err)
		}
		return idp, nil
	})
}

// noAttributes requests that a search returns no attributes (RFC 4511
// section 4.5.1.8).
const noAttributes = "1.1"

type Params struct {
	// Description is the description that will be used with the
	// provider. If this is not set "LDAP: <domain>" is used.
	Description string `yaml:"description"`

	// Connection holds the parameters used to connect to the
	// directory server.
	Connection directory.Params `yaml:"connection"`

	// User defines how users are found in the directory.
	User UserParams `yaml:"user"`

	// EditableAttributes holds the directory attributes that users
	// may change.
	EditableAttributes []string `yaml:"editable-attributes"`
}

// UserParams defines how users are found in the directory.
type UserParams struct {
	// BaseDN holds the base of all user entries. If it is empty
	// BaseRDN is prepended to the connection base DN.
	BaseDN  string `yaml:"base-dn"`
	BaseRDN string `yaml:"base-rdn"`

	// NameAttr, RealNameAttr and EmailAttr hold the attributes
	// holding the user name, real name and email address. They
	// default to uid, cn and mail.
	NameAttr     string `yaml:"name-attr"`
	RealNameAttr string `yaml:"realname-attr"`
	EmailAttr    string `yaml:"email-attr"`

	// SearchFilter holds an additional filter that every user entry
	// must match, for example "objectClass=inetOrgPerson". It is
	// used verbatim.
	SearchFilter string `yaml:"search-filter"`

	// SearchAttr holds the attribute matched against the username
	// when looking up users. It defaults to uid.
	SearchAttr string `yaml:"search-attr"`

	// BindAttr, when set, is used to build user DNs directly as
	// "<bind-attr>=<username>,<base>" instead of searching.
	BindAttr string `yaml:"bind-attr"`
}

// NewProvider creates a new LDAP identity provider. The connection to
// the directory is made when the provider is initialised.
func NewProvider(p Params) (idp.Provider, error) {
	if p.User.SearchFilter != "" {
		if err := directory.CheckFilter(directory.Filter{directory.Raw(p.User.SearchFilter)}); err != nil {
			return nil, errgo.NoteMask(err, "invalid 'search-filter' config parameter", errgo.Is(params.ErrConfiguration))
		}
	}
	return &provider{
		params: p,
		dial:   directory.DialLDAP,
	}, nil
}

type provider struct {
	params     Params
	initParams idp.InitParams
	dial       directory.Dialer
	client     *directory.Client
}

// Type implements idp.Provider.Type.
func (*provider) Type() string {
	return "ldap"
}

// Description implements idp.Provider.Description.
func (p *provider) Description() string {
	if p.params.Description != "" {
		return p.params.Description
	}
	return "LDAP: " + p.initParams.Domain
}

// Init implements idp.Provider.Init.
func (p *provider) Init(ctx context.Context, params idp.InitParams) error {
	p.initParams = params
	client, err := directory.Connect(p.params.Connection, p.dial)
	if err != nil {
		return errgo.Mask(err, errgo.Any)
	}
	p.client = client
	return nil
}

// AuthenticationFields implements idp.Provider.AuthenticationFields.
func (*provider) AuthenticationFields() []idp.Field {
	return []idp.Field{{
		Name:  "username",
		Label: "Username",
		Type:  idp.FieldString,
	}, {
		Name:      "password",
		Label:     "Password",
		Type:      idp.FieldPassword,
		Sensitive: true,
	}}
}

// AttributeFields implements idp.Provider.AttributeFields.
func (p *provider) AttributeFields(string) []idp.Field {
	fields := make([]idp.Field, 0, len(p.params.EditableAttributes))
	for _, a := range p.params.EditableAttributes {
		fields = append(fields, idp.Field{
			Name:  a,
			Label: a,
			Type:  idp.FieldString,
		})
	}
	return fields
}

// MapAttribute implements idp.Provider.MapAttribute.
func (p *provider) MapAttribute(kind idp.AttributeKind) string {
	u := p.params.User
	switch kind {
	case idp.Name:
		return valueOr(u.NameAttr, idp.DirectoryDefaults[idp.Name])
	case idp.Email:
		return valueOr(u.EmailAttr, idp.DirectoryDefaults[idp.Email])
	case idp.RealName:
		return valueOr(u.RealNameAttr, idp.DirectoryDefaults[idp.RealName])
	}
	return ""
}

// Authenticate implements idp.Provider.Authenticate. The user's DN is
// found, either by construction or by a search, and the password is
// checked by binding as that DN.
func (p *provider) Authenticate(ctx context.Context, fields map[string]string) (idp.Session, error) {
	username, password := fields["username"], fields["password"]
	if username == "" || password == "" {
		return nil, errgo.WithCausef(nil, params.ErrCredential, "username and password required")
	}
	dn, err := p.lookup(ctx, username)
	if err != nil {
		return nil, errgo.Mask(err, params.IsDirectoryError)
	}
	if dn == "" {
		return nil, errgo.WithCausef(nil, params.ErrCredential, "user %q not found", username)
	}
	ok, err := p.client.BindAs(ctx, dn, password)
	if err != nil {
		return nil, errgo.Mask(err, params.IsDirectoryError)
	}
	if !ok {
		return nil, errgo.WithCausef(nil, params.ErrCredential, "authentication failed for user %q", username)
	}
	if p.params.User.BindAttr != "" && p.params.User.SearchFilter != "" {
		// A constructed DN has not yet been checked against the
		// search filter.
		e, err := p.read(ctx, dn)
		if err != nil {
			return nil, errgo.Mask(err, params.IsDirectoryError)
		}
		if e == nil {
			return nil, errgo.WithCausef(nil, params.ErrCredential, "user %q not permitted", username)
		}
	}
	logger.Debugf("authenticated %q as %q", username, dn)
	return &session{p: p, dn: dn}, nil
}

// CanSudo implements idp.Provider.CanSudo. Sessions can be opened
// without credentials only when a service identity is available to read
// the directory.
func (p *provider) CanSudo(string) bool {
	return p.params.Connection.BindDN != "" && p.params.Connection.BindPassword != ""
}

// Sudo implements idp.Provider.Sudo.
func (p *provider) Sudo(ctx context.Context, dn string) (idp.Session, error) {
	if !p.CanSudo(dn) {
		return nil, errgo.WithCausef(nil, params.ErrForbidden, "sudo requires a service identity")
	}
	e, err := p.read(ctx, dn)
	if err != nil {
		return nil, errgo.Mask(err, params.IsDirectoryError)
	}
	if e == nil {
		return nil, errgo.WithCausef(nil, params.ErrNotFound, "user %q not found", dn)
	}
	return &session{p: p, dn: dn}, nil
}

// Close implements idp.Provider.Close.
func (p *provider) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}

// userBaseDN returns the base of all user entries.
func (p *provider) userBaseDN() string {
	u := p.params.User
	if u.BaseDN != "" {
		return u.BaseDN
	}
	base := p.client.BaseDN()
	switch {
	case u.BaseRDN == "":
		return base
	case base == "":
		return u.BaseRDN
	}
	return u.BaseRDN + "," + base
}

// lookup returns the DN of the user with the given username, or "" if
// there is not exactly one such user.
func (p *provider) lookup(ctx context.Context, username string) (string, error) {
	u := p.params.User
	if u.BindAttr != "" {
		dn := u.BindAttr + "=" + directory.EscapeDN(username)
		if base := p.userBaseDN(); base != "" {
			dn += "," + base
		}
		return dn, nil
	}
	filter := p.filter(directory.Eq(valueOr(u.SearchAttr, "uid"), username))
	entries, err := p.client.Search(ctx, []string{noAttributes}, filter, p.userBaseDN())
	if err != nil {
		logger.Errorf("cannot search for user %q: %s", username, err)
		return "", errgo.Mask(err, params.IsDirectoryError, errgo.Is(params.ErrConfiguration))
	}
	switch len(entries) {
	case 0:
		return "", nil
	case 1:
		return entries[0].DN(), nil
	}
	logger.Warningf("user query returned more than one result (filter: %s)", filter)
	return "", nil
}

// read reads the user entry with the given DN, returning nil if there is
// no such entry or it does not match the search filter.
func (p *provider) read(ctx context.Context, dn string, attrs ...string) (directory.Entry, error) {
	if len(attrs) == 0 {
		attrs = []string{noAttributes}
	}
	e, err := p.client.Read(ctx, dn, attrs, p.filter())
	if err != nil {
		return nil, errgo.Mask(err, params.IsDirectoryError, errgo.Is(params.ErrConfiguration))
	}
	return e, nil
}

// filter returns a filter of the given terms and the configured search
// filter.
func (p *provider) filter(terms ...directory.Term) directory.Filter {
	f := directory.Filter(terms)
	if p.params.User.SearchFilter != "" {
		f = append(f, directory.Raw(p.params.User.SearchFilter))
	}
	return f
}

func valueOr(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

// session is an authenticated user entry. The entry's attributes are
// read once and cached until they are changed.
type session struct {
	p  *provider
	dn string

	mu    sync.Mutex
	entry directory.Entry
}

// UserID implements idp.Session.UserID.
func (s *session) UserID() string {
	return s.dn
}

// Attributes implements idp.Session.Attributes.
func (s *session) Attributes(ctx context.Context, name string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry == nil {
		e, err := s.p.client.Read(ctx, s.dn, nil, s.p.filter())
		if err != nil {
			return nil, errgo.Mask(err, params.IsDirectoryError)
		}
		if e == nil {
			return nil, errgo.WithCausef(nil, params.ErrDirectory, "entry %q no longer exists", s.dn)
		}
		s.entry = e
	}
	r := idp.Record{Key: s.dn, Attributes: s.entry}
	return append([]string(nil), r.Values(name)...), nil
}

// SetAttributes implements idp.Session.SetAttributes.
func (s *session) SetAttributes(ctx context.Context, attrs map[string][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry = nil
	if err := s.p.client.Modify(ctx, s.dn, attrs); err != nil {
		return errgo.Mask(err, params.IsDirectoryError)
	}
	return nil
}
