// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package params

import (
	"gopkg.in/httprequest.v1"
)

// Field describes a value the user must supply to a domain.
type Field struct {
	Name      string `json:"name"`
	Label     string `json:"label"`
	Type      string `json:"type"`
	Sensitive bool   `json:"sensitive,omitempty"`
}

// AuthenticationRequest describes how to perform an action in one
// domain.
type AuthenticationRequest struct {
	Domain      string  `json:"domain"`
	Description string  `json:"description"`
	Local       bool    `json:"local,omitempty"`
	Fields      []Field `json:"fields"`
}

// AuthenticationRequestsRequest asks for the requests that may be
// used to perform an action. Username is ignored for the login action.
type AuthenticationRequestsRequest struct {
	httprequest.Route `httprequest:"GET /v1/authentication-requests"`
	Action            string `httprequest:"action,form"`
	Username          string `httprequest:"username,form"`
}

// AuthenticationRequestsResponse holds the response to an
// AuthenticationRequestsRequest.
type AuthenticationRequestsResponse struct {
	Requests []AuthenticationRequest `json:"requests"`
}

// Account describes a local account.
type Account struct {
	ID             int64             `json:"id"`
	Username       string            `json:"username"`
	RealName       string            `json:"real-name,omitempty"`
	Email          string            `json:"email,omitempty"`
	EmailConfirmed bool              `json:"email-confirmed,omitempty"`
	Preferences    map[string]string `json:"preferences,omitempty"`
}

// LoginRequest starts an authentication ceremony in a domain.
type LoginRequest struct {
	httprequest.Route `httprequest:"POST /v1/login"`
	Body              LoginBody `httprequest:",body"`
}

// LoginBody holds the body of a LoginRequest.
type LoginBody struct {
	// Session optionally holds the ID of an existing ceremony to
	// continue. A new one is started when it is empty.
	Session string `json:"session,omitempty"`

	Domain string            `json:"domain"`
	Fields map[string]string `json:"fields"`

	// Account optionally holds the name of the account that the
	// external identity must be linked to.
	Account string `json:"account,omitempty"`
}

// LoginStatus is the outcome of a login.
type LoginStatus string

const (
	// LoginPass means the external identity was authenticated.
	LoginPass LoginStatus = "pass"

	// LoginAbstain means the domain rejected the credentials but
	// other mechanisms may still accept them.
	LoginAbstain LoginStatus = "abstain"
)

// LinkRequest asks the user to choose an account for an external
// identity.
type LinkRequest struct {
	Domain      string `json:"domain"`
	Description string `json:"description"`
	ExternalKey string `json:"external-key"`
	Username    string `json:"username,omitempty"`
}

// LoginResponse holds the response to a LoginRequest. When the status
// is LoginPass exactly one of Account, CreateAccount and LinkRequest is
// set.
type LoginResponse struct {
	Session       string       `json:"session"`
	Status        LoginStatus  `json:"status"`
	Message       string       `json:"message,omitempty"`
	Account       *Account     `json:"account,omitempty"`
	CreateAccount string       `json:"create-account,omitempty"`
	LinkRequest   *LinkRequest `json:"link-request,omitempty"`
}

// CreateAccountRequest creates the account requested by a login and
// links it to the authenticated external identity.
type CreateAccountRequest struct {
	httprequest.Route `httprequest:"POST /v1/login/:session/account"`
	Session           string            `httprequest:"session,path"`
	Body              CreateAccountBody `httprequest:",body"`
}

// CreateAccountBody holds the body of a CreateAccountRequest.
type CreateAccountBody struct {
	Username string `json:"username"`
	RealName string `json:"real-name,omitempty"`
	Email    string `json:"email,omitempty"`
}

// LogoutRequest discards the state of an authentication ceremony.
type LogoutRequest struct {
	httprequest.Route `httprequest:"DELETE /v1/login/:session"`
	Session           string `httprequest:"session,path"`
}

// ChangeRequest changes the authentication data of an account. A link
// action completes the link request returned by a login in the same
// session.
type ChangeRequest struct {
	httprequest.Route `httprequest:"POST /v1/change"`
	Body              ChangeBody `httprequest:",body"`
}

// ChangeBody holds the body of a ChangeRequest.
type ChangeBody struct {
	Session     string            `json:"session,omitempty"`
	Action      string            `json:"action"`
	Domain      string            `json:"domain"`
	Username    string            `json:"username"`
	ExternalKey string            `json:"external-key,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// AuthenticateRequest authenticates an external identity in a single
// step, creating and linking an account when it is new.
type AuthenticateRequest struct {
	httprequest.Route `httprequest:"POST /v1/authenticate"`
	Body              AuthenticateBody `httprequest:",body"`
}

// AuthenticateBody holds the body of an AuthenticateRequest.
type AuthenticateBody struct {
	Domain string            `json:"domain"`
	Fields map[string]string `json:"fields"`
}

// Identity holds the account an external identity authenticated as.
type Identity struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	RealName string `json:"real-name,omitempty"`
	Email    string `json:"email,omitempty"`
}

// UserExistsRequest asks whether an account is linked in any configured
// domain.
type UserExistsRequest struct {
	httprequest.Route `httprequest:"GET /v1/users/:username/exists"`
	Username          string `httprequest:"username,path"`
}

// UserExistsResponse holds the response to a UserExistsRequest.
type UserExistsResponse struct {
	Exists bool `json:"exists"`
}
