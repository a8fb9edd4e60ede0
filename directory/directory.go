// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package directory implements the protocol level operations used to
// talk to LDAPv3 directory servers: connecting, binding, searching and
// reading entries. It has no knowledge of users or accounts.
package directory

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/juju/loggo"
	"gopkg.in/errgo.v1"
	"gopkg.in/ldap.v2"

	"github.com/canonical/hybridauth/params"
)

var logger = loggo.GetLogger("hybridauth.directory")

// Params holds the connection parameters for a directory server.
type Params struct {
	// URI holds the URI of the server, for example
	// "ldaps://ldap.example.com". When it is empty the URI is
	// built from Proto, Host, Port and TLS.
	URI string `yaml:"uri"`

	// Proto holds the scheme to use when URI is not set. It
	// defaults to "ldaps" when TLS is set and "ldap" otherwise.
	Proto string `yaml:"proto"`

	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Version holds the protocol version. Only version 3 is
	// supported; zero means 3.
	Version int `yaml:"version"`

	// Referrals records whether the server's referrals should be
	// followed. Referrals are never chased by this client; when
	// they are returned they are logged and ignored.
	Referrals bool `yaml:"referrals"`

	TLS      bool `yaml:"tls"`
	StartTLS bool `yaml:"starttls"`

	// TLSCAFile holds the path of a PEM bundle of trusted CA
	// certificates.
	TLSCAFile string `yaml:"tls-ca-file"`

	// TLSCADir holds the path of a directory of PEM encoded CA
	// certificates.
	TLSCADir string `yaml:"tls-ca-dir"`

	// TLSCertFile and TLSKeyFile hold the paths of the client
	// certificate and key presented to the server.
	TLSCertFile string `yaml:"tls-cert-file"`
	TLSKeyFile  string `yaml:"tls-key-file"`

	// BaseDN is the default base of searches.
	BaseDN string `yaml:"base-dn"`

	// BindDN and BindPassword hold the service identity. If
	// either is empty the client binds anonymously.
	BindDN       string `yaml:"bind-dn"`
	BindPassword string `yaml:"bind-password"`
}

// Conn is the subset of *ldap.Conn used by the client.
type Conn interface {
	StartTLS(*tls.Config) error
	Bind(username, password string) error
	Search(*ldap.SearchRequest) (*ldap.SearchResult, error)
	Modify(*ldap.ModifyRequest) error
	Close()
}

// A Dialer opens a connection to addr. When tlsConfig is non-nil the
// connection must be established over TLS.
type Dialer func(network, addr string, tlsConfig *tls.Config) (Conn, error)

// DialLDAP is the Dialer used when none is given to Connect.
func DialLDAP(network, addr string, tlsConfig *tls.Config) (Conn, error) {
	if tlsConfig != nil {
		c, err := ldap.DialTLS(network, addr, tlsConfig)
		if err != nil {
			return nil, errgo.Mask(err)
		}
		return c, nil
	}
	c, err := ldap.Dial(network, addr)
	if err != nil {
		return nil, errgo.Mask(err)
	}
	return c, nil
}

// Client is a connection to a directory server. The connection is
// established by Connect, bound lazily with the service identity and
// reused for the lifetime of the Client. A Client may be used
// concurrently.
type Client struct {
	params    Params
	dial      Dialer
	addr      string
	tlsConfig *tls.Config
	useTLS    bool

	mu    sync.Mutex
	conn  Conn
	bound bool
}

// Connect establishes a connection to the directory server described
// by p. If dial is nil, DialLDAP is used. An error with a cause of
// params.ErrConfiguration is returned for unusable parameters and one
// with a cause of params.ErrDirectoryConnection if the server cannot
// be reached.
func Connect(p Params, dial Dialer) (*Client, error) {
	if dial == nil {
		dial = DialLDAP
	}
	if p.Version == 0 {
		p.Version = 3
	}
	if p.Version != 3 {
		return nil, errgo.WithCausef(nil, params.ErrConfiguration, "unsupported protocol version %d", p.Version)
	}
	u, err := url.Parse(p.uri())
	if err != nil {
		return nil, errgo.WithCausef(err, params.ErrConfiguration, "invalid uri %q", p.uri())
	}
	c := &Client{
		params: p,
		dial:   dial,
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		host = u.Host
	}
	switch u.Scheme {
	case "ldap":
		if port == "" {
			port = "389"
		}
	case "ldaps":
		if port == "" {
			port = "636"
		}
		c.useTLS = true
	default:
		return nil, errgo.WithCausef(nil, params.ErrConfiguration, "unsupported scheme %q", u.Scheme)
	}
	if host == "" {
		return nil, errgo.WithCausef(nil, params.ErrConfiguration, "no host specified")
	}
	c.addr = net.JoinHostPort(host, port)
	if c.useTLS || p.StartTLS {
		c.tlsConfig, err = p.newTLSConfig(host)
		if err != nil {
			return nil, errgo.WithCausef(err, params.ErrConfiguration, "cannot configure tls")
		}
	}
	if p.Referrals {
		logger.Infof("referral chasing is not supported, referrals from %s will be ignored", c.addr)
	}
	conn, err := c.open()
	if err != nil {
		return nil, errgo.Mask(err, errgo.Is(params.ErrDirectoryConnection))
	}
	c.conn = conn
	return c, nil
}

// uri returns the URI of the server, building it from the individual
// parameters if necessary.
func (p Params) uri() string {
	if p.URI != "" {
		return p.URI
	}
	proto := p.Proto
	if proto == "" {
		proto = "ldap"
		if p.TLS {
			proto = "ldaps"
		}
	}
	host := p.Host
	if p.Port != 0 {
		host = net.JoinHostPort(host, strconv.Itoa(p.Port))
	}
	return fmt.Sprintf("%s://%s", proto, host)
}

// newTLSConfig creates the TLS configuration holding the configured
// certificate material.
func (p Params) newTLSConfig(serverName string) (*tls.Config, error) {
	config := &tls.Config{
		ServerName: serverName,
	}
	if p.TLSCAFile != "" || p.TLSCADir != "" {
		config.RootCAs = x509.NewCertPool()
	}
	if p.TLSCAFile != "" {
		if err := appendCertsFromFile(config.RootCAs, p.TLSCAFile); err != nil {
			return nil, errgo.Mask(err)
		}
	}
	if p.TLSCADir != "" {
		files, err := os.ReadDir(p.TLSCADir)
		if err != nil {
			return nil, errgo.Notef(err, "cannot read CA directory")
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			if err := appendCertsFromFile(config.RootCAs, filepath.Join(p.TLSCADir, f.Name())); err != nil {
				logger.Warningf("skipping CA file: %s", err)
			}
		}
	}
	if p.TLSCertFile != "" || p.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(p.TLSCertFile, p.TLSKeyFile)
		if err != nil {
			return nil, errgo.Notef(err, "cannot load client certificate")
		}
		config.Certificates = []tls.Certificate{cert}
	}
	return config, nil
}

func appendCertsFromFile(pool *x509.CertPool, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errgo.Notef(err, "cannot read CA file")
	}
	if !pool.AppendCertsFromPEM(data) {
		return errgo.Newf("no certificates found in %q", path)
	}
	return nil
}

// open dials a new connection and upgrades it with StartTLS if
// required.
func (c *Client) open() (Conn, error) {
	var tlsConfig *tls.Config
	if c.useTLS {
		tlsConfig = c.tlsConfig
	}
	conn, err := c.dial("tcp", c.addr, tlsConfig)
	if err != nil {
		return nil, errgo.WithCausef(err, params.ErrDirectoryConnection, "cannot connect to %s", c.addr)
	}
	if c.params.StartTLS && !c.useTLS {
		if err := conn.StartTLS(c.tlsConfig); err != nil {
			conn.Close()
			return nil, errgo.WithCausef(err, params.ErrDirectoryConnection, "cannot start tls with %s", c.addr)
		}
	}
	return conn, nil
}

// connection returns the shared connection, reopening it if a previous
// operation discarded it.
func (c *Client) connection() (Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}
	conn, err := c.open()
	if err != nil {
		return nil, errgo.Mask(err, errgo.Is(params.ErrDirectoryConnection))
	}
	c.conn = conn
	c.bound = false
	return conn, nil
}

// discard drops conn if it is still the shared connection, so that the
// next operation reconnects.
func (c *Client) discard(conn Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return
	}
	conn.Close()
	c.conn = nil
	c.bound = false
}

// BaseDN returns the configured base DN.
func (c *Client) BaseDN() string {
	return c.params.BaseDN
}

// Bind binds the shared connection with the service identity, or
// anonymously when no service identity is configured. It returns false
// if the server rejected the credentials; an error is returned only for
// transport failures.
func (c *Client) Bind(ctx context.Context) (bool, error) {
	conn, err := c.connection()
	if err != nil {
		return false, errgo.Mask(err, errgo.Is(params.ErrDirectoryConnection))
	}
	if c.params.BindDN == "" || c.params.BindPassword == "" {
		// An LDAPv3 connection that has not been bound is
		// anonymous.
		c.setBound(conn)
		return true, nil
	}
	ok, err := bind(conn, c.params.BindDN, c.params.BindPassword)
	if err != nil {
		c.discard(conn)
		return false, errgo.Mask(err, errgo.Is(params.ErrDirectoryConnection))
	}
	if ok {
		c.setBound(conn)
	}
	return ok, nil
}

func (c *Client) setBound(conn Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.bound = true
	}
}

// IsBound reports whether the shared connection is bound.
func (c *Client) IsBound() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bound
}

// EnsureBound binds the shared connection with the service identity if
// it is not already bound. If binding fails an error with a cause of
// params.ErrDirectoryBind is returned.
func (c *Client) EnsureBound(ctx context.Context) error {
	if c.IsBound() {
		return nil
	}
	ok, err := c.Bind(ctx)
	if err != nil {
		return errgo.WithCausef(err, params.ErrDirectoryBind, "cannot bind to directory")
	}
	if !ok {
		return errgo.WithCausef(nil, params.ErrDirectoryBind, "cannot bind to directory as %q", c.params.BindDN)
	}
	return nil
}

// BindAs checks the given credentials by binding as dn. The check uses
// its own connection so the shared connection keeps the service
// binding. It returns false if the credentials are not valid; an error
// is returned only for transport failures. An empty password is always
// refused, as servers treat it as an unauthenticated bind.
func (c *Client) BindAs(ctx context.Context, dn, password string) (bool, error) {
	if dn == "" || password == "" {
		return false, nil
	}
	conn, err := c.open()
	if err != nil {
		return false, errgo.Mask(err, errgo.Is(params.ErrDirectoryConnection))
	}
	defer conn.Close()
	ok, err := bind(conn, dn, password)
	if err != nil {
		return false, errgo.Mask(err, errgo.Is(params.ErrDirectoryConnection))
	}
	return ok, nil
}

func bind(conn Conn, dn, password string) (bool, error) {
	err := conn.Bind(dn, password)
	if err == nil {
		return true, nil
	}
	if isNetworkError(err) {
		return false, errgo.WithCausef(err, params.ErrDirectoryConnection, "cannot bind as %q", dn)
	}
	if !ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
		logger.Infof("bind as %q refused: %s", dn, err)
	}
	return false, nil
}

func isNetworkError(err error) bool {
	return ldap.IsErrorWithCode(err, ldap.ErrorNetwork)
}

// Close closes the shared connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.bound = false
}
