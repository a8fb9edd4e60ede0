// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package idp

import (
	"context"

	"gopkg.in/errgo.v1"

	"github.com/canonical/hybridauth/params"
)

// An AttributeKind is an abstract identity attribute that is mapped to
// a provider specific attribute.
type AttributeKind string

const (
	Name     AttributeKind = "username"
	Email    AttributeKind = "email"
	RealName AttributeKind = "realname"
)

// Kinds holds all the known attribute kinds.
var Kinds = []AttributeKind{Name, Email, RealName}

// ParseAttributeKind parses s as an attribute kind. An unknown kind
// returns an error with a cause of params.ErrConfiguration.
func ParseAttributeKind(s string) (AttributeKind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", errgo.WithCausef(nil, params.ErrConfiguration, "invalid attribute type %q", s)
}

// DirectoryDefaults holds the attributes conventionally used by
// directory servers for each kind.
var DirectoryDefaults = map[AttributeKind]string{
	Name:     "uid",
	Email:    "mail",
	RealName: "cn",
}

// A Resolver maps attribute kinds to provider attributes.
type Resolver struct {
	// Keys holds the configured attribute for each kind.
	Keys map[AttributeKind]string

	// Defaults holds the attribute used for a kind that has no
	// configured attribute.
	Defaults map[AttributeKind]string
}

// NewResolver returns a resolver that uses the given configured keys,
// falling back to the attributes suggested by p.
func NewResolver(keys map[AttributeKind]string, p Provider) *Resolver {
	r := &Resolver{
		Keys:     keys,
		Defaults: make(map[AttributeKind]string),
	}
	for _, k := range Kinds {
		if a := p.MapAttribute(k); a != "" {
			r.Defaults[k] = a
		}
	}
	return r
}

// Key returns the provider attribute holding values of the given kind.
// If no attribute is configured and there is no default an error with a
// cause of params.ErrUnmappedAttribute is returned.
func (r *Resolver) Key(kind AttributeKind) (string, error) {
	if a := r.Keys[kind]; a != "" {
		return a, nil
	}
	if a := r.Defaults[kind]; a != "" {
		return a, nil
	}
	return "", errgo.WithCausef(nil, params.ErrUnmappedAttribute, "no attribute mapped for %q", kind)
}

// Values returns the ordered values of the attribute of the given kind
// held by s. The result may be empty.
func (r *Resolver) Values(ctx context.Context, s Session, kind AttributeKind) ([]string, error) {
	key, err := r.Key(kind)
	if err != nil {
		return nil, errgo.Mask(err, errgo.Is(params.ErrUnmappedAttribute))
	}
	values, err := s.Attributes(ctx, key)
	if err != nil {
		return nil, errgo.Mask(err, params.IsInfrastructureError)
	}
	return values, nil
}
