// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package attrsync

import (
	"context"
	"fmt"
	"strings"
	"sync"

	errgo "gopkg.in/errgo.v1"

	"github.com/canonical/hybridauth/idp"
	"github.com/canonical/hybridauth/params"
)

// Params holds the synchronization rules of a domain.
type Params struct {
	// Pull holds the rules that copy values from the provider into
	// the local account. They run first.
	Pull []Rule `yaml:"pull"`

	// Push holds the rules that copy values from the local account
	// to the provider.
	Push []Rule `yaml:"push"`
}

// A Rule describes how one value is synchronized.
type Rule struct {
	// Source holds the value to copy, see ParseValue.
	Source string `yaml:"source"`

	// Destination holds where the value is written, see ParseValue.
	Destination string `yaml:"destination"`

	// Overwrite allows a destination that already holds a value to
	// be replaced.
	Overwrite bool `yaml:"overwrite"`

	// Delete clears the destination when the source is empty.
	Delete bool `yaml:"delete"`

	// Filter optionally names a registered filter applied to the
	// source values.
	Filter string `yaml:"filter"`
}

// ValueType is the type of a rule source or destination.
type ValueType string

const (
	// Literal is a constant value, for example "literal:en".
	Literal ValueType = "literal"

	// Attr is a named provider attribute, for example "attr:mail".
	Attr ValueType = "attr"

	// Kind is the provider attribute holding an attribute kind, for
	// example "kind:email".
	Kind ValueType = "kind"

	// Pref is a local account preference, for example
	// "pref:language".
	Pref ValueType = "pref"

	// Email is the email address of the local account.
	Email ValueType = "email"

	// RealName is the real name of the local account.
	RealName ValueType = "realname"

	// Username is the name of the local account. It can only be
	// used as a source.
	Username ValueType = "username"
)

// A Value is a parsed rule source or destination.
type Value struct {
	Type ValueType

	// Name holds the literal value, attribute, kind or preference
	// name, depending on Type.
	Name string
}

func (v Value) String() string {
	if v.Name == "" && v.Type != Literal {
		return string(v.Type)
	}
	return string(v.Type) + ":" + v.Name
}

// local reports whether v refers to the local account.
func (v Value) local() bool {
	switch v.Type {
	case Pref, Email, RealName, Username:
		return true
	}
	return false
}

// ParseValue parses a rule source or destination. An error with a cause
// of params.ErrConfiguration is returned if s is not valid.
func ParseValue(s string) (Value, error) {
	t, name, hasName := strings.Cut(s, ":")
	v := Value{Type: ValueType(t), Name: name}
	switch v.Type {
	case Literal:
		if !hasName {
			return Value{}, errgo.WithCausef(nil, params.ErrConfiguration, "invalid value %q: literal needs a value", s)
		}
		return v, nil
	case Attr, Pref:
		if name == "" {
			return Value{}, errgo.WithCausef(nil, params.ErrConfiguration, "invalid value %q: missing name", s)
		}
		return v, nil
	case Kind:
		if _, err := idp.ParseAttributeKind(name); err != nil {
			return Value{}, errgo.NoteMask(err, fmt.Sprintf("invalid value %q", s), errgo.Is(params.ErrConfiguration))
		}
		return v, nil
	case Email, RealName, Username:
		if hasName {
			return Value{}, errgo.WithCausef(nil, params.ErrConfiguration, "invalid value %q: unexpected name", s)
		}
		return v, nil
	}
	return Value{}, errgo.WithCausef(nil, params.ErrConfiguration, "invalid value %q: unknown type %q", s, t)
}

// A FilterFunc transforms the source values of a rule. If ok is false
// the rule is skipped.
type FilterFunc func(ctx context.Context, values []string) (_ []string, ok bool)

var (
	filtersMu sync.RWMutex
	filters   = make(map[string]FilterFunc)
)

// RegisterFilter registers a filter that rules may refer to by name. It
// is usually called from an init function.
func RegisterFilter(name string, f FilterFunc) {
	filtersMu.Lock()
	defer filtersMu.Unlock()
	filters[name] = f
}

func filter(name string) (FilterFunc, bool) {
	filtersMu.RLock()
	defer filtersMu.RUnlock()
	f, ok := filters[name]
	return f, ok
}

func init() {
	RegisterFilter("lower", func(_ context.Context, values []string) ([]string, bool) {
		out := make([]string, len(values))
		for i, v := range values {
			out[i] = strings.ToLower(v)
		}
		return out, true
	})
	RegisterFilter("first", func(_ context.Context, values []string) ([]string, bool) {
		if len(values) > 1 {
			values = values[:1]
		}
		return values, true
	})
	RegisterFilter("non-empty", func(_ context.Context, values []string) ([]string, bool) {
		return values, len(values) > 0
	})
}

// rule is a Rule with its values parsed.
type rule struct {
	Rule
	source      Value
	destination Value
	filter      FilterFunc
}

func parseRule(r Rule, push bool) (rule, error) {
	pr := rule{Rule: r}
	var err error
	if pr.source, err = ParseValue(r.Source); err != nil {
		return rule{}, errgo.Mask(err, errgo.Is(params.ErrConfiguration))
	}
	if pr.destination, err = ParseValue(r.Destination); err != nil {
		return rule{}, errgo.Mask(err, errgo.Is(params.ErrConfiguration))
	}
	if r.Filter != "" {
		f, ok := filter(r.Filter)
		if !ok {
			return rule{}, errgo.WithCausef(nil, params.ErrConfiguration, "unknown filter %q", r.Filter)
		}
		pr.filter = f
	}
	// Pull rules read the provider and write the account, push
	// rules the reverse.
	srcLocal, dstLocal := !push, push
	if pr.source.Type != Literal && pr.source.local() == srcLocal {
		return rule{}, errgo.WithCausef(nil, params.ErrConfiguration, "invalid source %q", r.Source)
	}
	if pr.destination.Type == Literal || pr.destination.Type == Username || pr.destination.local() == dstLocal {
		return rule{}, errgo.WithCausef(nil, params.ErrConfiguration, "invalid destination %q", r.Destination)
	}
	return pr, nil
}
