// Copyright 2018 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package ldaptest provides an in-memory directory server for testing
// code that uses the directory package.
package ldaptest

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/asn1-ber.v1"
	"gopkg.in/ldap.v2"

	"github.com/canonical/hybridauth/directory"
)

// Doc is a directory entry. The "dn" key holds the DN of the entry and
// the "userPassword" key holds the password used by Bind.
type Doc map[string][]string

// DB is a set of directory entries.
type DB []Doc

// Dialer dials connections to an in-memory directory.
type Dialer struct {
	mu sync.Mutex
	db DB

	// Conns holds all the connections that have been dialed.
	Conns []*Conn

	// Err, when set, is returned by Dial.
	Err error
}

// NewDialer returns a Dialer for connections to db.
func NewDialer(db DB) *Dialer {
	return &Dialer{db: db}
}

// Dial implements directory.Dialer.
func (d *Dialer) Dial(network, address string, tlsConfig *tls.Config) (directory.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return nil, d.Err
	}
	conn := &Conn{
		d:         d,
		Network:   network,
		Address:   address,
		TLSConfig: tlsConfig,
	}
	d.Conns = append(d.Conns, conn)
	return conn, nil
}

// Break makes every open connection fail with a network error.
func (d *Dialer) Break() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.Conns {
		c.broken = true
	}
}

// Entry returns the entry with the given DN, or nil.
func (d *Dialer) Entry(dn string) Doc {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.entry(dn)
}

// Conn is a connection to an in-memory directory.
type Conn struct {
	d *Dialer

	// Network and Address are set to the arguments passed to the
	// dial function, TLSConfig is set when the connection was
	// dialed with TLS.
	Network   string
	Address   string
	TLSConfig *tls.Config

	// StartTLSConfig is set when StartTLS is called.
	StartTLSConfig *tls.Config

	// SearchReqs records every search request.
	SearchReqs []*ldap.SearchRequest

	// ModifyReqs records every modify request.
	ModifyReqs []*ldap.ModifyRequest

	// BoundUsername is set when Bind succeeds.
	BoundUsername string

	// Closed is set when Close is called.
	Closed bool

	broken bool
}

var errNetwork = ldap.NewError(ldap.ErrorNetwork, errors.New("connection closed"))

// StartTLS implements directory.Conn.StartTLS.
func (c *Conn) StartTLS(config *tls.Config) error {
	c.StartTLSConfig = config
	return nil
}

// Bind implements directory.Conn.Bind.
func (c *Conn) Bind(username, password string) error {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if c.broken {
		return errNetwork
	}
	doc := c.d.db.entry(username)
	if doc != nil && len(doc["userPassword"]) > 0 && doc["userPassword"][0] == password {
		c.BoundUsername = username
		return nil
	}
	return ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("invalid credentials"))
}

// Search implements directory.Conn.Search.
func (c *Conn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	c.SearchReqs = append(c.SearchReqs, req)
	if c.broken {
		return nil, errNetwork
	}
	match, err := filterMatcher(req.Filter)
	if err != nil {
		return nil, ldap.NewError(ldap.ErrorFilterCompile, err)
	}
	var candidates []Doc
	switch req.Scope {
	case ldap.ScopeBaseObject:
		doc := c.d.db.entry(req.BaseDN)
		if doc == nil {
			return nil, ldap.NewError(ldap.LDAPResultNoSuchObject, fmt.Errorf("no such object %q", req.BaseDN))
		}
		candidates = []Doc{doc}
	default:
		for _, doc := range c.d.db {
			if under(doc.dn(), req.BaseDN) {
				candidates = append(candidates, doc)
			}
		}
	}
	var entries []*ldap.Entry
	for _, doc := range candidates {
		if !match(doc) {
			continue
		}
		entries = append(entries, doc.entry(req.Attributes))
	}
	return &ldap.SearchResult{Entries: entries}, nil
}

// Modify implements directory.Conn.Modify.
func (c *Conn) Modify(req *ldap.ModifyRequest) error {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if c.broken {
		return errNetwork
	}
	c.ModifyReqs = append(c.ModifyReqs, req)
	doc := c.d.db.entry(req.DN)
	if doc == nil {
		return ldap.NewError(ldap.LDAPResultNoSuchObject, fmt.Errorf("no such object %q", req.DN))
	}
	for _, a := range req.ReplaceAttributes {
		doc[a.Type] = append([]string(nil), a.Vals...)
	}
	for _, a := range req.DeleteAttributes {
		delete(doc, a.Type)
	}
	for _, a := range req.AddAttributes {
		doc[a.Type] = append(doc[a.Type], a.Vals...)
	}
	return nil
}

// Close implements directory.Conn.Close.
func (c *Conn) Close() {
	c.Closed = true
}

func (db DB) entry(dn string) Doc {
	for _, doc := range db {
		if strings.EqualFold(doc.dn(), dn) {
			return doc
		}
	}
	return nil
}

func (doc Doc) dn() string {
	if len(doc["dn"]) == 0 {
		return ""
	}
	return doc["dn"][0]
}

func (doc Doc) entry(attrs []string) *ldap.Entry {
	e := &ldap.Entry{
		DN: doc.dn(),
	}
	for name, values := range doc {
		if name == "dn" || name == "userPassword" {
			continue
		}
		if len(attrs) > 0 && !contains(attrs, name) {
			continue
		}
		e.Attributes = append(e.Attributes, &ldap.EntryAttribute{
			Name:   name,
			Values: values,
		})
	}
	return e
}

func contains(attrs []string, name string) bool {
	for _, a := range attrs {
		if strings.EqualFold(a, name) {
			return true
		}
	}
	return false
}

func under(dn, base string) bool {
	if base == "" {
		return true
	}
	dn, base = strings.ToLower(dn), strings.ToLower(base)
	return dn == base || strings.HasSuffix(dn, ","+base)
}

// values returns the values of the named attribute, matching the
// name without regard to case.
func (doc Doc) values(name string) []string {
	for k, v := range doc {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return nil
}

// filterMatcher returns a function that reports whether a given document
// matches the LDAP filter. It returns an error if the filter is malformed.
func filterMatcher(filter string) (func(Doc) bool, error) {
	packet, err := ldap.CompileFilter(filter)
	if err != nil {
		return nil, err
	}
	return packetFilterMatcher(packet), nil
}

func packetFilterMatcher(packet *ber.Packet) func(Doc) bool {
	switch packet.Tag {
	case ldap.FilterAnd:
		var children []func(Doc) bool
		for _, child := range packet.Children {
			children = append(children, packetFilterMatcher(child))
		}
		return func(doc Doc) bool {
			for _, child := range children {
				if !child(doc) {
					return false
				}
			}
			return true
		}
	case ldap.FilterOr:
		var children []func(Doc) bool
		for _, child := range packet.Children {
			children = append(children, packetFilterMatcher(child))
		}
		return func(doc Doc) bool {
			for _, child := range children {
				if child(doc) {
					return true
				}
			}
			return false
		}
	case ldap.FilterNot:
		child := packetFilterMatcher(packet.Children[0])
		return func(doc Doc) bool {
			return !child(doc)
		}
	case ldap.FilterPresent:
		attr := packet.Data.String()
		return func(doc Doc) bool {
			if strings.EqualFold(attr, "objectClass") {
				return true
			}
			return len(doc.values(attr)) > 0
		}
	case ldap.FilterEqualityMatch:
		attr := string(packet.Children[0].Data.Bytes())
		expected := string(packet.Children[1].Data.Bytes())
		return func(doc Doc) bool {
			for _, value := range doc.values(attr) {
				if strings.EqualFold(value, expected) {
					return true
				}
			}
			return false
		}
	default:
		panic(fmt.Sprintf("unimplemented tag: %v", packet.Tag))
	}
}
