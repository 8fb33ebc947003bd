package connection

import (
	"context"

	"waconsole/provider"
)

// Gateway is the slice of the provider control plane the lifecycle manager
// needs. Init and Reconnect return the scannable pairing payload; an empty
// payload means the provider did not issue one. Status returns the
// provider-defined status token plus the paired phone number once known.
// Logout and Delete are idempotent teardown calls.
type Gateway interface {
	Init(ctx context.Context, sessionId string) (qrCode string, err error)
	Status(ctx context.Context, sessionId string) (status, phoneNumber string, err error)
	Reconnect(ctx context.Context, sessionId string) (qrCode string, err error)
	Logout(ctx context.Context, sessionId string) error
	Delete(ctx context.Context, sessionId string) error
	UpdateWebhook(ctx context.Context, sessionId string, receiveGroupMessages bool) error
}

var _ Gateway = (*provider.Client)(nil)
