// Package replicate implements the remote upscaling call on top of the
// Replicate Go SDK: upload the input through the Files API, run the model,
// wait for the prediction and download its output.
package replicate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	r8 "github.com/replicate/replicate-go"
)

const defaultBaseURL = "https://api.replicate.com/v1"

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("status %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("status %d %s: %s", e.Code, http.StatusText(e.Code), e.Detail)
}

// StatusCode exposes the HTTP status for retry classification.
func (e *StatusError) StatusCode() int {
	return e.Code
}

// PredictionError reports a prediction that ended without output.
type PredictionError struct {
	ID      string
	Status  string
	Message string
}

func (e *PredictionError) Error() string {
	return fmt.Sprintf("replicate: prediction %s %s: %s", e.ID, e.Status, e.Message)
}

// Config configures the client.
type Config struct {
	BaseURL        string // API root including the version, e.g. https://api.replicate.com/v1
	Token          string
	Model          string // owner/name or owner/name:version
	ConnectTimeout time.Duration
	RequestTimeout time.Duration // bound for the whole call: upload, predict, poll and download
	PollInterval   time.Duration
}

// Client runs a single-input image model on Replicate.
type Client struct {
	api          *r8.Client
	http         *http.Client
	owner        string
	name         string
	version      string
	timeout      time.Duration
	pollInterval time.Duration
}

// Option configures the client.
type Option func(*options)

type options struct {
	http *http.Client
}

// WithHTTPClient injects a custom HTTP client (primarily for tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		if hc != nil {
			o.http = hc
		}
	}
}

// New constructs a Replicate client.
func New(cfg Config, opts ...Option) (*Client, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("replicate api token required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, errors.New("replicate model required")
	}

	c := &Client{
		timeout:      cfg.RequestTimeout,
		pollInterval: cfg.PollInterval,
	}
	if name, version, ok := strings.Cut(model, ":"); ok {
		model, c.version = name, version
	}
	owner, name, ok := strings.Cut(model, "/")
	if !ok || owner == "" || name == "" {
		return nil, fmt.Errorf("replicate model %q must be owner/name", cfg.Model)
	}
	c.owner, c.name = owner, name
	if c.pollInterval <= 0 {
		c.pollInterval = time.Second
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.http == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.DialContext = (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext
		transport.TLSHandshakeTimeout = cfg.ConnectTimeout
		o.http = &http.Client{Transport: transport}
	}
	c.http = o.http

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	// Retries belong to enhance.Controller, which knows the per-class delays.
	api, err := r8.NewClient(
		r8.WithToken(token),
		r8.WithBaseURL(baseURL),
		r8.WithHTTPClient(o.http),
		r8.WithRetryPolicy(0, &r8.ConstantBackoff{}),
	)
	if err != nil {
		return nil, fmt.Errorf("replicate: create client: %w", err)
	}
	c.api = api

	return c, nil
}

// Enhance uploads image, waits for the prediction to finish and downloads the result.
func (c *Client) Enhance(ctx context.Context, image []byte) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	file, err := c.api.CreateFileFromBytes(ctx, image, &r8.CreateFileOptions{
		Filename:    "input",
		ContentType: http.DetectContentType(image),
	})
	if err != nil {
		return nil, c.wrap(ctx, "upload input", err)
	}
	defer c.deleteFile(file.ID)

	input := r8.PredictionInput{"image": file.URLs["get"]}

	var p *r8.Prediction
	if c.version != "" {
		p, err = c.api.CreatePrediction(ctx, c.version, input, nil, false)
	} else {
		p, err = c.api.CreatePredictionWithModel(ctx, c.owner, c.name, input, nil, false)
	}
	if err != nil {
		return nil, c.wrap(ctx, "create prediction", err)
	}

	if err := c.api.Wait(ctx, p, r8.WithPollingInterval(c.pollInterval)); err != nil {
		return nil, c.wrap(ctx, "wait for prediction "+p.ID, err)
	}

	if p.Status != r8.Succeeded {
		return nil, &PredictionError{ID: p.ID, Status: string(p.Status), Message: errorText(p.Error)}
	}

	url, err := outputURL(p.Output)
	if err != nil {
		return nil, fmt.Errorf("replicate: prediction %s: %w", p.ID, err)
	}

	data, err := c.download(ctx, url)
	if err != nil {
		return nil, c.wrap(ctx, "download output", err)
	}
	return data, nil
}

// deleteFile removes the uploaded input. Uploads expire on their own, so a
// failure here is ignored.
func (c *Client) deleteFile(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = c.api.DeleteFile(ctx, id)
}

// wrap maps SDK errors onto StatusError and keeps deadline expiry visible to
// errors.Is even when the SDK flattens the cause.
func (c *Client) wrap(ctx context.Context, op string, err error) error {
	var apiErr *r8.APIError
	if errors.As(err, &apiErr) {
		detail := apiErr.Detail
		if detail == "" {
			detail = apiErr.Title
		}
		return fmt.Errorf("replicate: %s: %w", op, &StatusError{Code: apiErr.Status, Detail: detail})
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("replicate: %s: %w: %v", op, ctxErr, err)
	}
	return fmt.Errorf("replicate: %s: %w", op, err)
}

// download fetches the output file. Output URLs are pre-signed, so the API
// token is not sent along.
func (c *Client) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, &StatusError{Code: resp.StatusCode, Detail: strings.TrimSpace(string(raw))}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.ContentLength > 0 && int64(len(data)) != resp.ContentLength {
		return nil, fmt.Errorf("incomplete message: got %d of %d bytes", len(data), resp.ContentLength)
	}
	return data, nil
}

func outputURL(out r8.PredictionOutput) (string, error) {
	switch v := any(out).(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case []any:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok && s != "" {
				return s, nil
			}
		}
	case []string:
		if len(v) > 0 && v[0] != "" {
			return v[0], nil
		}
	}
	return "", errors.New("prediction has no output")
}

func errorText(v any) string {
	switch e := v.(type) {
	case nil:
		return "no error detail"
	case string:
		if e != "" {
			return e
		}
		return "no error detail"
	default:
		return fmt.Sprint(e)
	}
}
