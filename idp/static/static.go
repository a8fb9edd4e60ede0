// Copyright 2018 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package static contains identity providers that validate against a static list of users.
// This provider is intended for testing and small deployments.
package static

import (
	"context"
	"sync"

	"github.com/juju/loggo"
	"gopkg.in/errgo.v1"

	"github.com/canonical/hybridauth/idp"
	"github.com/canonical/hybridauth/params"
)

var logger = loggo.GetLogger("hybridauth.idp.static")

func init() {
	idp.Register("static", func(unmarshal func(interface{}) error) (idp.Provider, error) {
		var p Params
		if err := unmarshal(&p); err != nil {
			return nil, errgo.Notef(err, "cannot unmarshal static parameters")
		}
		return NewProvider(p), nil
	})
}

// Attributes used to hold the fixed user information.
const (
	UsernameAttr = "username"
	EmailAttr    = "email"
	RealNameAttr = "realname"
)

type Params struct {
	// Description is the description that will be used with the
	// provider. If this is not set a description is derived from
	// the domain name.
	Description string `yaml:"description"`

	// Users is the set of users that are allowed to authenticate,
	// indexed by username.
	Users map[string]UserInfo `yaml:"users"`

	// AllowSudo allows sessions to be opened for users without
	// their password.
	AllowSudo bool `yaml:"allow-sudo"`

	// EditableAttributes holds the attributes that users may
	// change.
	EditableAttributes []string `yaml:"editable-attributes"`
}

type UserInfo struct {
	// Password is the password for the user.
	Password string `yaml:"password"`
	// Name is the full name of the user.
	Name string `yaml:"name"`
	// Email is the user e-mail.
	Email string `yaml:"email"`
	// Attributes holds any further attributes of the user.
	Attributes map[string][]string `yaml:"attributes"`
}

// NewProvider creates a new static identity provider.
func NewProvider(p Params) idp.Provider {
	prov := &provider{
		params: p,
		users:  make(map[string]map[string][]string),
	}
	for name, u := range p.Users {
		attrs := make(map[string][]string)
		for k, v := range u.Attributes {
			attrs[k] = append([]string(nil), v...)
		}
		attrs[UsernameAttr] = []string{name}
		if u.Email != "" {
			attrs[EmailAttr] = []string{u.Email}
		}
		if u.Name != "" {
			attrs[RealNameAttr] = []string{u.Name}
		}
		prov.users[name] = attrs
	}
	return prov
}

type provider struct {
	params     Params
	initParams idp.InitParams

	mu    sync.Mutex
	users map[string]map[string][]string
}

// Type implements idp.Provider.Type.
func (*provider) Type() string {
	return "static"
}

// Description implements idp.Provider.Description.
func (p *provider) Description() string {
	if p.params.Description != "" {
		return p.params.Description
	}
	return "Static: " + p.initParams.Domain
}

// Init implements idp.Provider.Init.
func (p *provider) Init(ctx context.Context, params idp.InitParams) error {
	p.initParams = params
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
func (*provider) MapAttribute(kind idp.AttributeKind) string {
	switch kind {
	case idp.Name:
		return UsernameAttr
	case idp.Email:
		return EmailAttr
	case idp.RealName:
		return RealNameAttr
	}
	return ""
}

// Authenticate implements idp.Provider.Authenticate.
func (p *provider) Authenticate(ctx context.Context, fields map[string]string) (idp.Session, error) {
	user, password := fields["username"], fields["password"]
	if user == "" || password == "" {
		return nil, errgo.WithCausef(nil, params.ErrCredential, "username and password required")
	}
	if u, ok := p.params.Users[user]; ok && u.Password == password {
		logger.Debugf("authenticated %q", user)
		return &session{p: p, user: user}, nil
	}
	return nil, errgo.WithCausef(nil, params.ErrCredential, "authentication failed for user %q", user)
}

// CanSudo implements idp.Provider.CanSudo.
func (p *provider) CanSudo(string) bool {
	return p.params.AllowSudo
}

// Sudo implements idp.Provider.Sudo.
func (p *provider) Sudo(ctx context.Context, key string) (idp.Session, error) {
	if !p.params.AllowSudo {
		return nil, errgo.WithCausef(nil, params.ErrForbidden, "sudo not allowed")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.users[key]; !ok {
		return nil, errgo.WithCausef(nil, params.ErrNotFound, "user %q not found", key)
	}
	return &session{p: p, user: key}, nil
}

// Close implements idp.Provider.Close.
func (*provider) Close() error {
	return nil
}

type session struct {
	p    *provider
	user string
}

// UserID implements idp.Session.UserID.
func (s *session) UserID() string {
	return s.user
}

// Attributes implements idp.Session.Attributes.
func (s *session) Attributes(ctx context.Context, name string) ([]string, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	r := idp.Record{Key: s.user, Attributes: s.p.users[s.user]}
	return append([]string(nil), r.Values(name)...), nil
}

// SetAttributes implements idp.Session.SetAttributes.
func (s *session) SetAttributes(ctx context.Context, attrs map[string][]string) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	user := s.p.users[s.user]
	for name, values := range attrs {
		if len(values) == 0 {
			delete(user, name)
			continue
		}
		user[name] = append([]string(nil), values...)
	}
	return nil
}
