// Copyright 2015 Canonical Ltd.
// Licensed under the LGPLv3, see LICENCE.client file for details.

// Package hybridclient provides a client for the hybridauth API.
package hybridclient

import (
	"context"
	"net/http"
	"net/url"

	"gopkg.in/errgo.v1"
	"gopkg.in/httprequest.v1"

	"github.com/canonical/hybridauth/params"
)

// AdminUsername is the user name used to authenticate with the
// administrative API.
const AdminUsername = "admin"

// Client represents the client of a hybridauth server.
type Client struct {
	client
}

// NewParams holds the parameters for creating a new client.
type NewParams struct {
	// BaseURL holds the URL of the hybridauth server.
	BaseURL string

	// Password holds the admin password.
	Password string

	// Doer is used to make HTTP requests. If it is nil,
	// http.DefaultClient is used.
	Doer httprequest.Doer
}

// New returns a new client.
func New(p NewParams) (*Client, error) {
	u, err := url.Parse(p.BaseURL)
	if p.BaseURL == "" || err != nil || u.Scheme == "" {
		return nil, errgo.Newf("bad hybridauth client base URL %q", p.BaseURL)
	}
	doer := p.Doer
	if doer == nil {
		doer = http.DefaultClient
	}
	var c Client
	c.Client.BaseURL = p.BaseURL
	c.Client.Doer = AdminDoer(doer, p.Password)
	c.Client.UnmarshalError = httprequest.ErrorUnmarshaler(new(params.Error))
	return &c, nil
}

// AdminDoer returns a Doer that adds the admin credentials with the
// given password to every request made with d.
func AdminDoer(d httprequest.Doer, password string) httprequest.Doer {
	return basicAuthDoer{
		doer:     d,
		password: password,
	}
}

type basicAuthDoer struct {
	doer     httprequest.Doer
	password string
}

func (d basicAuthDoer) Do(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(AdminUsername, d.password)
	return d.doer.Do(req)
}

type client struct {
	Client httprequest.Client
}

// Domains returns the configured domains.
func (c *client) Domains(ctx context.Context, p *params.DomainsRequest) (*params.DomainsResponse, error) {
	var r *params.DomainsResponse
	err := c.Client.Call(ctx, p, &r)
	return r, err
}

// Links returns the links held by an account.
func (c *client) Links(ctx context.Context, p *params.LinksRequest) (*params.LinksResponse, error) {
	var r *params.LinksResponse
	err := c.Client.Call(ctx, p, &r)
	return r, err
}

// Unlink removes the link held by an external identity.
func (c *client) Unlink(ctx context.Context, p *params.UnlinkRequest) (*params.UnlinkResponse, error) {
	var r *params.UnlinkResponse
	err := c.Client.Call(ctx, p, &r)
	return r, err
}

// UnlinkAccount removes the link held by an account in a domain.
func (c *client) UnlinkAccount(ctx context.Context, p *params.UnlinkAccountRequest) (*params.UnlinkResponse, error) {
	var r *params.UnlinkResponse
	err := c.Client.Call(ctx, p, &r)
	return r, err
}

// AuthenticationRequests returns the requests that may be used to
// perform an action.
func (c *client) AuthenticationRequests(ctx context.Context, p *params.AuthenticationRequestsRequest) (*params.AuthenticationRequestsResponse, error) {
	var r *params.AuthenticationRequestsResponse
	err := c.Client.Call(ctx, p, &r)
	return r, err
}

// Login authenticates an external identity in a domain.
func (c *client) Login(ctx context.Context, p *params.LoginRequest) (*params.LoginResponse, error) {
	var r *params.LoginResponse
	err := c.Client.Call(ctx, p, &r)
	return r, err
}

// CreateAccount creates the account requested by a login.
func (c *client) CreateAccount(ctx context.Context, p *params.CreateAccountRequest) (*params.Account, error) {
	var r *params.Account
	err := c.Client.Call(ctx, p, &r)
	return r, err
}

// Logout discards the state of an authentication ceremony.
func (c *client) Logout(ctx context.Context, p *params.LogoutRequest) error {
	return c.Client.Call(ctx, p, nil)
}

// Change changes the authentication data of an account.
func (c *client) Change(ctx context.Context, p *params.ChangeRequest) error {
	return c.Client.Call(ctx, p, nil)
}

// Authenticate authenticates an external identity in a single step.
func (c *client) Authenticate(ctx context.Context, p *params.AuthenticateRequest) (*params.Identity, error) {
	var r *params.Identity
	err := c.Client.Call(ctx, p, &r)
	return r, err
}

// UserExists reports whether an account is linked in any configured
// domain.
func (c *client) UserExists(ctx context.Context, p *params.UserExistsRequest) (*params.UserExistsResponse, error) {
	var r *params.UserExistsResponse
	err := c.Client.Call(ctx, p, &r)
	return r, err
}
