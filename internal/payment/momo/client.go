package momo

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// Config holds provider connection settings.
type Config struct {
	// BaseURL is the provider API root, e.g. https://api.momo.example/v1.
	BaseURL string
	// APIKey authenticates collection requests.
	APIKey string
	// TargetEnv selects the provider environment (sandbox or production).
	TargetEnv string
	// CountryCode is the default country prefix for local payer numbers.
	CountryCode string
	// Timeout bounds each provider call.
	Timeout time.Duration
}

// Configured reports whether enough settings are present to reach a real
// provider.
func (c Config) Configured() bool {
	return c.BaseURL != "" && c.APIKey != ""
}

// Client talks to the request-to-pay provider over authenticated HTTP.
type Client struct {
	cfg  Config
	http *http.Client
}

var _ Gateway = (*Client)(nil)

// NewClient creates a provider client. It does not validate credentials;
// RequestPush returns ErrNotConfigured when they are missing.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}
}

// RequestPush validates the request locally, then asks the provider to queue
// a payment prompt. Malformed payer numbers and non-positive amounts are
// business rejections made without a network call.
func (c *Client) RequestPush(ctx context.Context, req PushRequest) (*PushResult, error) {
	if !req.Amount.IsPositive() {
		return nil, &RejectionError{Reason: "amount must be positive"}
	}

	msisdn, err := NormalizeMSISDN(req.PayerMSISDN, c.cfg.CountryCode)
	if err != nil {
		return nil, &RejectionError{Reason: "invalid payer phone number"}
	}

	if !c.cfg.Configured() {
		return nil, ErrNotConfigured
	}

	body := encodePushRequest(msisdn, req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/collections/request-to-pay", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build push request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("X-Target-Environment", c.cfg.TargetEnv)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(ErrUnavailable, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, errors.Wrap(ErrUnavailable, "read push response")
	}

	msg := decodeProviderMessage(raw)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &PushResult{ProviderMessage: msg}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		if msg == "" {
			msg = resp.Status
		}
		return nil, &RejectionError{Reason: msg}
	default:
		return nil, errors.Wrapf(ErrUnavailable, "provider returned %s", resp.Status)
	}
}

// Status queries the provider for the outcome of a prior push.
func (c *Client) Status(ctx context.Context, reference string) (Outcome, string, error) {
	if !c.cfg.Configured() {
		return OutcomeUnknown, "", ErrNotConfigured
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/collections/request-to-pay/"+reference, nil)
	if err != nil {
		return OutcomeUnknown, "", errors.Wrap(err, "build status request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("X-Target-Environment", c.cfg.TargetEnv)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return OutcomeUnknown, "", errors.Wrap(ErrUnavailable, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return OutcomeUnknown, "", errors.Wrap(ErrUnavailable, "read status response")
	}

	if resp.StatusCode == http.StatusNotFound {
		return OutcomeUnknown, "", nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return OutcomeUnknown, "", errors.Wrapf(ErrUnavailable, "provider returned %s", resp.Status)
	}

	status, msg := decodeStatusResponse(raw)
	return MapProviderStatus(status), msg, nil
}

// MapProviderStatus translates the provider's status vocabulary into an
// Outcome. Unrecognised values map to OutcomeUnknown, never to settled.
func MapProviderStatus(s string) Outcome {
	switch s {
	case "SUCCESSFUL":
		return OutcomeSettled
	case "FAILED", "REJECTED", "TIMEOUT":
		return OutcomeRejected
	case "PENDING":
		return OutcomePending
	default:
		return OutcomeUnknown
	}
}

// encodePushRequest builds the provider wire payload.
func encodePushRequest(msisdn string, req PushRequest) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("amount")
	e.Str(req.Amount.String())
	e.FieldStart("externalId")
	e.Str(req.Reference)
	e.FieldStart("payer")
	e.ObjStart()
	e.FieldStart("partyIdType")
	e.Str("MSISDN")
	e.FieldStart("partyId")
	e.Str(msisdn)
	e.ObjEnd()
	e.FieldStart("payerMessage")
	e.Str(req.Description)
	e.ObjEnd()
	return e.Bytes()
}

// decodeProviderMessage extracts the human-readable message from a provider
// response body, tolerating absent or malformed bodies.
func decodeProviderMessage(raw []byte) string {
	var msg string
	d := jx.DecodeBytes(raw)
	_ = d.Obj(func(d *jx.Decoder, key string) error {
		if key == "message" {
			v, err := d.Str()
			if err != nil {
				return err
			}
			msg = v
			return nil
		}
		return d.Skip()
	})
	return msg
}

// decodeStatusResponse extracts the status and message fields.
func decodeStatusResponse(raw []byte) (status, msg string) {
	d := jx.DecodeBytes(raw)
	_ = d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "status":
			v, err := d.Str()
			if err != nil {
				return err
			}
			status = v
			return nil
		case "message", "reason":
			v, err := d.Str()
			if err != nil {
				return err
			}
			msg = v
			return nil
		default:
			return d.Skip()
		}
	})
	return status, msg
}
