// Copyright 2015 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package idp defines the API provided by all identity providers.
package idp

import (
	"context"
	"strings"
)

// FieldType is the type of an input field requested by a provider.
type FieldType string

const (
	FieldString   FieldType = "string"
	FieldPassword FieldType = "password"
)

// A Field describes a value that a provider requires from the user,
// either to authenticate or to change an attribute.
type Field struct {
	// Name is the key under which the value is passed back to the
	// provider.
	Name string `json:"name"`

	// Label is a human readable label for the field.
	Label string `json:"label"`

	// Type is the type of input expected.
	Type FieldType `json:"type"`

	// Sensitive is set when the value must not be logged or
	// echoed back to the user.
	Sensitive bool `json:"sensitive,omitempty"`
}

// InitParams are passed to the identity provider to initialise it.
type InitParams struct {
	// Domain holds the name of the domain that the provider serves.
	Domain string
}

// A Provider authenticates principals against an external identity
// source.
type Provider interface {
	// Type returns the registered type of the provider.
	Type() string

	// Description returns a human readable description of the
	// provider.
	Description() string

	// Init is used to perform any one time initialization tasks
	// that are needed for the identity provider. Init is called
	// once by the domain handle before any other method.
	Init(ctx context.Context, params InitParams) error

	// AuthenticationFields returns the fields that must be supplied
	// to Authenticate.
	AuthenticationFields() []Field

	// AttributeFields returns the provider attributes of the given
	// external identity that the user may change.
	AttributeFields(key string) []Field

	// MapAttribute returns the provider attribute that conventionally
	// holds values of the given kind, or "" if there is none.
	MapAttribute(kind AttributeKind) string

	// Authenticate authenticates a principal with the given field
	// values. If the credentials are wrong, or do not identify
	// exactly one principal, an error with a cause of
	// params.ErrCredential is returned. Infrastructure failures have
	// a cause satisfying params.IsInfrastructureError.
	Authenticate(ctx context.Context, fields map[string]string) (Session, error)

	// CanSudo reports whether Sudo may be used for the given
	// external identity.
	CanSudo(key string) bool

	// Sudo returns a session for an external identity without
	// fresh credentials. If the identity does not exist an error
	// with a cause of params.ErrNotFound is returned.
	Sudo(ctx context.Context, key string) (Session, error)

	// Close releases any resources held by the provider.
	Close() error
}

// A Session gives access to an authenticated external identity.
type Session interface {
	// UserID returns the external key of the identity.
	UserID() string

	// Attributes returns the values of the named provider attribute,
	// which may be empty.
	Attributes(ctx context.Context, name string) ([]string, error)

	// SetAttributes replaces the values of the given provider
	// attributes, keyed by attribute name. An attribute with no
	// values is deleted. Either all the attributes are changed or
	// none are.
	SetAttributes(ctx context.Context, attrs map[string][]string) error
}

// A Record is a snapshot of an external identity: its key and a set of
// multi-valued attributes.
type Record struct {
	Key        string
	Attributes map[string][]string
}

// Values returns the values of the named attribute. Attribute names are
// matched without regard to case.
func (r Record) Values(name string) []string {
	if v, ok := r.Attributes[name]; ok {
		return v
	}
	for k, v := range r.Attributes {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return nil
}
