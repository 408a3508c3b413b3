package client

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/pesio-ai/be-mfg-batch-approvals/internal/httpclient"
)

// MachinesClient is a client for the machine registry service
type MachinesClient struct {
	client *httpclient.Client
}

// NewMachinesClient creates a new machine registry client
func NewMachinesClient(baseURL string, timeout time.Duration) *MachinesClient {
	return &MachinesClient{
		client: httpclient.NewClient(baseURL, httpclient.WithTimeout(timeout)),
	}
}

// ValidateMachine reports whether the machine exists and is active
func (c *MachinesClient) ValidateMachine(ctx context.Context, machineID string) (bool, string, error) {
	path := "/api/v1/machines/validate?id=" + url.QueryEscape(machineID)

	var resp ValidateMachineResponse
	if err := c.client.Get(ctx, path, &resp); err != nil {
		return false, "", fmt.Errorf("failed to validate machine: %w", err)
	}

	return resp.Valid, resp.Message, nil
}

// ListActiveMachines returns every active machine
func (c *MachinesClient) ListActiveMachines(ctx context.Context) ([]Machine, error) {
	var resp ListMachinesResponse
	if err := c.client.Get(ctx, "/api/v1/machines?active=true", &resp); err != nil {
		return nil, fmt.Errorf("failed to list machines: %w", err)
	}
	return resp.Machines, nil
}
