package client

import "context"

// MachineDirectoryInterface validates machine ids against the plant's machine registry.
type MachineDirectoryInterface interface {
	ValidateMachine(ctx context.Context, machineID string) (bool, string, error)
}

// UserDirectoryInterface resolves operator ids to display names.
type UserDirectoryInterface interface {
	GetUser(ctx context.Context, userID string) (*User, error)
}

// EventPublisherInterface publishes domain events. Implementations never fail the caller.
type EventPublisherInterface interface {
	PublishEvent(ctx context.Context, event *Event)
}
