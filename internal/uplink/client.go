// Package uplink talks to the remote pet reporting service.
package uplink

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goodtune/petwatch/internal/location"
	"github.com/rs/zerolog"
)

// maxBodyBytes bounds how much of a response is read.
const maxBodyBytes = 1 << 20

// sendDateLayout is ISO-8601 UTC with millisecond precision.
const sendDateLayout = "2006-01-02T15:04:05.000Z"

// Doer is the HTTP transport. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures a Client.
type Config struct {
	BaseURL string
	// Credential is a pre-encoded Basic credential. When empty, Username and
	// Password are encoded instead.
	Credential string
	Username   string
	Password   string
	UserAgent  string
}

// Observer receives the outcome of each request.
type Observer func(op string, d time.Duration, err error)

// Client issues uplink requests. It never retries.
type Client struct {
	baseURL    string
	credential string
	userAgent  string
	doer       Doer
	observe    Observer
	logger     zerolog.Logger
}

// Ack is a successful sample delivery.
type Ack struct {
	StatusCode int    `json:"status_code"`
	Body       string `json:"body"`
}

// Metadata describes a tracked pet.
type Metadata struct {
	Name string
	Raw  json.RawMessage
}

type samplePayload struct {
	PetID    string  `json:"petID"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	SendDate string  `json:"sendDate"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// New creates a Client.
func New(cfg Config, doer Doer, logger zerolog.Logger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https: %q", cfg.BaseURL)
	}
	if doer == nil {
		doer = &http.Client{Timeout: 30 * time.Second}
	}

	credential := cfg.Credential
	if credential == "" && (cfg.Username != "" || cfg.Password != "") {
		credential = base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.Password))
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		credential: credential,
		userAgent:  cfg.UserAgent,
		doer:       doer,
		logger:     logger.With().Str("component", "uplink").Logger(),
	}, nil
}

// SetObserver installs a per-request observer, typically metrics.
func (c *Client) SetObserver(fn Observer) {
	c.observe = fn
}

// PostSample reports one sample for petID.
func (c *Client) PostSample(ctx context.Context, petID string, sample location.Sample) (Ack, error) {
	body, err := json.Marshal(samplePayload{
		PetID:    petID,
		Lat:      sample.Latitude,
		Lon:      sample.Longitude,
		SendDate: sample.CapturedAt.UTC().Format(sendDateLayout),
	})
	if err != nil {
		return Ack{}, fmt.Errorf("marshal sample: %w", err)
	}

	status, respBody, err := c.do(ctx, "post_sample", http.MethodPost, "/coordinates/app/"+url.PathEscape(petID), body, nil)
	if err != nil {
		return Ack{}, err
	}
	return Ack{StatusCode: status, Body: string(respBody)}, nil
}

// FetchMetadata retrieves the pet's metadata.
func (c *Client) FetchMetadata(ctx context.Context, petID string) (Metadata, error) {
	var payload struct {
		Name string `json:"name"`
	}
	_, respBody, err := c.do(ctx, "fetch_metadata", http.MethodGet, "/pet/app/"+url.PathEscape(petID), nil,
		func(body []byte) error { return json.Unmarshal(body, &payload) })
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{Name: payload.Name, Raw: json.RawMessage(respBody)}, nil
}

// do performs one request. decode, when set, runs on 2xx bodies and its
// failure is reported as KindDecode.
func (c *Client) do(ctx context.Context, op, method, path string, body []byte, decode func([]byte) error) (int, []byte, error) {
	started := time.Now()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.credential != "" {
		req.Header.Set("Authorization", "Basic "+c.credential)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		uerr := &Error{Kind: KindTransport, Err: err}
		c.report(op, time.Since(started), uerr)
		return 0, nil, uerr
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		uerr := &Error{Kind: KindTransport, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
		c.report(op, time.Since(started), uerr)
		return 0, nil, uerr
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		uerr := &Error{Kind: KindHTTPStatus, StatusCode: resp.StatusCode, Message: serverMessage(respBody)}
		c.report(op, time.Since(started), uerr)
		return resp.StatusCode, nil, uerr
	}

	if decode != nil {
		if err := decode(respBody); err != nil {
			uerr := &Error{Kind: KindDecode, StatusCode: resp.StatusCode, Err: err}
			c.report(op, time.Since(started), uerr)
			return resp.StatusCode, nil, uerr
		}
	}

	c.report(op, time.Since(started), nil)
	return resp.StatusCode, respBody, nil
}

// serverMessage extracts {"message": ...}, falling back to the raw body.
func serverMessage(body []byte) string {
	var payload errorPayload
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return strings.TrimSpace(string(body))
}

func (c *Client) report(op string, d time.Duration, err error) {
	if c.observe != nil {
		c.observe(op, d, err)
	}
	if err == nil {
		c.logger.Debug().Str("op", op).Dur("duration", d).Msg("Uplink request succeeded")
		return
	}
	var uerr *Error
	if errors.As(err, &uerr) {
		c.logger.Warn().
			Err(err).
			Str("op", op).
			Str("kind", uerr.Kind.String()).
			Int("status", uerr.StatusCode).
			Dur("duration", d).
			Msg("Uplink request failed")
	}
}
