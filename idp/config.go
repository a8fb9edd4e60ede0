// Copyright 2015 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package idp

import (
	"sort"
	"strings"

	"gopkg.in/errgo.v1"
)

// An UnmarshalProviderFunc creates a Provider from the provider section
// of a domain's configuration, decoded with unmarshal according to the
// rules of gopkg.in/yaml.v2.
type UnmarshalProviderFunc func(unmarshal func(interface{}) error) (Provider, error)

// idps holds the registered providers, indexed by type.
var idps = make(map[string]UnmarshalProviderFunc)

// Register makes a provider available under the given type name. It is
// intended to be called from the init function of the provider's
// package.
func Register(idpType string, f UnmarshalProviderFunc) {
	idps[idpType] = f
}

// Types returns the registered provider types in sorted order.
func Types() []string {
	types := make([]string, 0, len(idps))
	for t := range idps {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Config is the provider section of a domain's configuration. The
// "type" field selects the registered provider that decodes the rest of
// it.
type Config struct {
	Provider
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var t struct {
		Type string `yaml:"type"`
	}
	if err := unmarshal(&t); err != nil {
		return errgo.Notef(err, "cannot unmarshal identity provider type")
	}
	if t.Type == "" {
		return errgo.Newf("identity provider type not specified")
	}
	f, ok := idps[t.Type]
	if !ok {
		return errgo.Newf("unrecognised identity provider type %q (available: %s)", t.Type, strings.Join(Types(), ", "))
	}
	p, err := f(unmarshal)
	if err != nil {
		return errgo.Notef(err, "cannot unmarshal %s configuration", t.Type)
	}
	c.Provider = p
	return nil
}
