package client

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/pesio-ai/be-mfg-batch-approvals/internal/httpclient"
)

// IdentityClient resolves operators through the identity service's REST API.
type IdentityClient struct {
	client *httpclient.Client
}

// NewIdentityClient creates a new identity service client
func NewIdentityClient(baseURL string, timeout time.Duration) *IdentityClient {
	return &IdentityClient{
		client: httpclient.NewClient(baseURL, httpclient.WithTimeout(timeout)),
	}
}

// GetUser returns the user record for userID.
func (c *IdentityClient) GetUser(ctx context.Context, userID string) (*User, error) {
	var user User
	if err := c.client.Get(ctx, "/api/v1/users/"+url.PathEscape(userID), &user); err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}
