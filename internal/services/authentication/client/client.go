// Package client is the Authentication service's RPC client. Its
// Authenticate/Role methods satisfy management.Authenticator by structural
// typing; its Register/Login/ResetPassword/Delete methods let the frontend
// ingress forward user account operations directly to Authentication.
package client

import (
	"context"

	"github.com/opaquemesh/platform/internal/domain/credential"
	"github.com/opaquemesh/platform/internal/domain/user"
	"github.com/opaquemesh/platform/internal/transport/rpc"
)

const (
	MethodRegister       = "AuthRegister"
	MethodLogin          = "AuthLogin"
	MethodChangePassword = "AuthChangePassword"
	MethodResetPassword  = "AuthResetPassword"
	MethodDelete         = "AuthDelete"
	MethodAuthenticate   = "AuthAuthenticate"
	MethodRole           = "AuthRole"
)

// Client calls a remote Authentication service.
type Client struct{ rpc *rpc.Client }

// New wraps an rpc.Client as an Authentication client.
func New(rpcClient *rpc.Client) *Client { return &Client{rpc: rpcClient} }

type registerRequest struct {
	ID       string
	Password string
	Role     user.Role
}

func (c *Client) Register(ctx context.Context, id, password string, role user.Role) error {
	return c.rpc.Do(ctx, MethodRegister, registerRequest{ID: id, Password: password, Role: role}, nil)
}

type loginRequest struct {
	ID       string
	Password string
}
type loginResponse struct{ Token string }

func (c *Client) Login(ctx context.Context, id, password string) (string, error) {
	var resp loginResponse
	if err := c.rpc.Do(ctx, MethodLogin, loginRequest{ID: id, Password: password}, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

type changePasswordRequest struct {
	ID          string
	OldPassword string
	NewPassword string
}

// ChangePassword forwards spec §6's "UserChangePassword(old, new)" to
// Authentication, under the calling user's own proof of the old password.
func (c *Client) ChangePassword(ctx context.Context, id, oldPassword, newPassword string) error {
	req := changePasswordRequest{ID: id, OldPassword: oldPassword, NewPassword: newPassword}
	return c.rpc.Do(ctx, MethodChangePassword, req, nil)
}

type resetPasswordRequest struct {
	ID          string
	NewPassword string
}

func (c *Client) ResetPassword(ctx context.Context, id, newPassword string) error {
	return c.rpc.Do(ctx, MethodResetPassword, resetPasswordRequest{ID: id, NewPassword: newPassword}, nil)
}

type deleteRequest struct{ ID string }

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.rpc.Do(ctx, MethodDelete, deleteRequest{ID: id}, nil)
}

type authenticateRequest struct{ Credential credential.Credential }
type authenticateResponse struct{ Verdict credential.Verdict }

func (c *Client) Authenticate(ctx context.Context, cred credential.Credential) credential.Verdict {
	var resp authenticateResponse
	if err := c.rpc.Do(ctx, MethodAuthenticate, authenticateRequest{Credential: cred}, &resp); err != nil {
		return credential.Reject
	}
	return resp.Verdict
}

type roleRequest struct{ UserID string }
type roleResponse struct{ Role user.Role }

func (c *Client) Role(ctx context.Context, userID string) (user.Role, error) {
	var resp roleResponse
	if err := c.rpc.Do(ctx, MethodRole, roleRequest{UserID: userID}, &resp); err != nil {
		return "", err
	}
	return resp.Role, nil
}
