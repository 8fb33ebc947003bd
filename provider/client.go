// Package provider talks to the messaging provider's control-plane API. All
// calls are keyed by the opaque instance name the console generates for a
// connection; the provider never sees console identifiers.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/guonaihong/gout"
	"go.uber.org/zap"
)

type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	logger  *zap.Logger
}

type initResponse struct {
	QRCode string `json:"qrcode"`
}

type statusResponse struct {
	Status      string `json:"status"`
	PhoneNumber string `json:"phoneNumber"`
}

func NewClient(baseURL, apiKey string, requestTimeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		timeout: requestTimeout,
		logger:  logger,
	}
}

// Init begins a new pairing instance. An empty qr code in the response means
// the provider refused to start one; callers treat that as a failure.
func (c *Client) Init(ctx context.Context, sessionId string) (string, error) {
	var (
		resp initResponse
		code int
	)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := gout.POST(c.baseURL + "/instance/init").
		WithContext(ctx).
		SetHeader(gout.H{"apikey": c.apiKey}).
		SetJSON(gout.H{"instanceName": sessionId}).
		BindJSON(&resp).
		Code(&code).
		Do()
	if err != nil {
		return "", fmt.Errorf("provider init request failed : %w", err)
	}
	if code < http.StatusOK || code >= http.StatusMultipleChoices {
		return "", fmt.Errorf("provider init returned status %d", code)
	}

	return resp.QRCode, nil
}

// Status reports the provider's view of the instance. The status vocabulary
// is provider-defined; interpreting it is up to the caller.
func (c *Client) Status(ctx context.Context, sessionId string) (string, string, error) {
	var (
		resp statusResponse
		code int
	)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := gout.GET(c.baseURL + "/instance/status/" + sessionId).
		WithContext(ctx).
		SetHeader(gout.H{"apikey": c.apiKey}).
		BindJSON(&resp).
		Code(&code).
		Do()
	if err != nil {
		return "", "", fmt.Errorf("provider status request failed : %w", err)
	}
	if code < http.StatusOK || code >= http.StatusMultipleChoices {
		return "", "", fmt.Errorf("provider status returned status %d", code)
	}

	return resp.Status, resp.PhoneNumber, nil
}

// Reconnect has the same shape as Init but reuses the instance's identity on
// the provider side.
func (c *Client) Reconnect(ctx context.Context, sessionId string) (string, error) {
	var (
		resp initResponse
		code int
	)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := gout.POST(c.baseURL + "/instance/reconnect/" + sessionId).
		WithContext(ctx).
		SetHeader(gout.H{"apikey": c.apiKey}).
		BindJSON(&resp).
		Code(&code).
		Do()
	if err != nil {
		return "", fmt.Errorf("provider reconnect request failed : %w", err)
	}
	if code < http.StatusOK || code >= http.StatusMultipleChoices {
		return "", fmt.Errorf("provider reconnect returned status %d", code)
	}

	return resp.QRCode, nil
}

// Logout tears down the provider's live session. Idempotent on the provider
// side, so transient failures are retried a couple of times before giving up.
func (c *Client) Logout(ctx context.Context, sessionId string) error {
	return c.teardown(ctx, "logout", func() error {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		var code int
		err := gout.POST(c.baseURL + "/instance/logout/" + sessionId).
			WithContext(ctx).
			SetHeader(gout.H{"apikey": c.apiKey}).
			Code(&code).
			Do()
		if err != nil {
			return err
		}
		if code < http.StatusOK || code >= http.StatusMultipleChoices {
			return fmt.Errorf("provider logout returned status %d", code)
		}
		return nil
	})
}

// Delete removes the provider instance entirely. Also idempotent.
func (c *Client) Delete(ctx context.Context, sessionId string) error {
	return c.teardown(ctx, "delete", func() error {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		var code int
		err := gout.DELETE(c.baseURL + "/instance/" + sessionId).
			WithContext(ctx).
			SetHeader(gout.H{"apikey": c.apiKey}).
			Code(&code).
			Do()
		if err != nil {
			return err
		}
		if code < http.StatusOK || code >= http.StatusMultipleChoices {
			return fmt.Errorf("provider delete returned status %d", code)
		}
		return nil
	})
}

// UpdateWebhook toggles group-message delivery for an instance. Independent
// of the pairing state machine.
func (c *Client) UpdateWebhook(ctx context.Context, sessionId string, receiveGroupMessages bool) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var code int

	err := gout.POST(c.baseURL + "/webhook/" + sessionId).
		WithContext(ctx).
		SetHeader(gout.H{"apikey": c.apiKey}).
		SetJSON(gout.H{"receiveGroupMessages": receiveGroupMessages}).
		Code(&code).
		Do()
	if err != nil {
		return fmt.Errorf("provider webhook request failed : %w", err)
	}
	if code < http.StatusOK || code >= http.StatusMultipleChoices {
		return fmt.Errorf("provider webhook returned status %d", code)
	}

	return nil
}

func (c *Client) teardown(ctx context.Context, name string, op func() error) error {
	err := backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(500*time.Millisecond), 2), ctx))
	if err != nil {
		c.logger.Warn("provider teardown call failed",
			zap.String("operation", name),
			zap.Error(err),
		)
	}

	return err
}
