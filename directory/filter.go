// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package directory

import (
	"strings"

	"gopkg.in/errgo.v1"
	"gopkg.in/ldap.v2"

	"github.com/canonical/hybridauth/params"
)

// A Term is one component of a Filter.
type Term struct {
	// Attr and Value hold an equality term. An empty Value
	// requires that Attr is not present. Attr must not be empty.
	Attr  string
	Value string

	// Raw holds a filter fragment that is used verbatim. When Raw is
	// set Attr and Value are ignored.
	Raw string
}

// Eq returns a term matching entries where attr equals value. The value
// is escaped. If value is empty the term matches entries that have no
// attr at all.
func Eq(attr, value string) Term {
	return Term{Attr: attr, Value: value}
}

// Raw returns a term holding the given filter fragment, which is not
// escaped. Raw terms must only be built from trusted configuration.
func Raw(fragment string) Term {
	return Term{Raw: fragment}
}

// Filter is a conjunction of terms.
type Filter []Term

// String returns the RFC 2254 representation of the filter. An empty
// filter matches every entry.
func (f Filter) String() string {
	if len(f) == 0 {
		return "(objectClass=*)"
	}
	var buf strings.Builder
	buf.WriteString("(&")
	for _, t := range f {
		buf.WriteString(t.String())
	}
	buf.WriteString(")")
	return buf.String()
}

// String returns the RFC 2254 representation of the term.
func (t Term) String() string {
	switch {
	case t.Raw != "":
		if strings.HasPrefix(t.Raw, "(") {
			return t.Raw
		}
		return "(" + t.Raw + ")"
	case t.Value == "":
		return "(!(" + t.Attr + "=*))"
	default:
		return "(" + t.Attr + "=" + Escape(t.Value) + ")"
	}
}

// validate checks that every equality term in f names an attribute.
// Attribute names come from configuration, so a missing one returns an
// error with a cause of params.ErrConfiguration.
func (f Filter) validate() error {
	for i, t := range f {
		if t.Raw == "" && t.Attr == "" {
			return errgo.WithCausef(nil, params.ErrConfiguration, "filter term %d has no attribute", i)
		}
	}
	return nil
}

// CheckFilter checks that f compiles to a valid search filter. Raw
// terms and attribute names come from configuration, so an invalid
// filter returns an error with a cause of params.ErrConfiguration.
func CheckFilter(f Filter) error {
	if err := f.validate(); err != nil {
		return errgo.Mask(err, errgo.Is(params.ErrConfiguration))
	}
	if _, err := ldap.CompileFilter(f.String()); err != nil {
		return errgo.WithCausef(err, params.ErrConfiguration, "invalid filter %q", f.String())
	}
	return nil
}

// Escape escapes value for inclusion in a search filter. The characters
// \ ( ) * and NUL are replaced by their hex escapes so that the value
// always matches literally. Bytes outside the ASCII range are hex
// escaped too, which is equivalent under RFC 4515.
func Escape(value string) string {
	return ldap.EscapeFilter(value)
}

// EscapeDN escapes value for use as an attribute value in a DN, as
// described in RFC 4514 section 2.4.
func EscapeDN(value string) string {
	var buf strings.Builder
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case c == 0:
			buf.WriteString(`\00`)
			continue
		case strings.IndexByte(`"+,;<>\=`, c) >= 0:
			buf.WriteByte('\\')
		case i == 0 && (c == ' ' || c == '#'):
			buf.WriteByte('\\')
		case i == len(value)-1 && c == ' ':
			buf.WriteByte('\\')
		}
		buf.WriteByte(c)
	}
	return buf.String()
}
