// Package dpsreport talks to the dps.report ingestion service: it fetches
// short-lived user tokens and uploads combat logs.
package dpsreport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sydlexius/archarvest/internal/remote"
)

// maxResponseBody caps the upload response; player payloads can be large.
const maxResponseBody = 16 * 1024 * 1024

// Token is an opaque upload capability with a server-defined expiry.
type Token struct {
	Value string
}

// Client uploads artifacts to dps.report.
type Client struct {
	http      *remote.Client
	tokenURL  string
	uploadURL string
	logger    *slog.Logger
}

// New creates a Client.
func New(client *remote.Client, tokenURL, uploadURL string, logger *slog.Logger) *Client {
	return &Client{
		http:      client,
		tokenURL:  tokenURL,
		uploadURL: uploadURL,
		logger:    logger.With(slog.String("component", "dpsreport")),
	}
}

// GetToken requests a fresh user token.
func (c *Client) GetToken(ctx context.Context) (Token, error) {
	body, err := c.http.GetBytes(ctx, remote.EndpointDPSReport, c.tokenURL)
	if err != nil {
		return Token{}, err
	}

	obj, err := decodeObject(body)
	if err != nil {
		return Token{}, &remote.DecodeError{Endpoint: remote.EndpointDPSReport, Cause: err}
	}
	var value string
	if raw, ok := obj["usertoken"]; ok {
		if err := json.Unmarshal(raw, &value); err != nil {
			return Token{}, &remote.DecodeError{Endpoint: remote.EndpointDPSReport, Cause: fmt.Errorf("userToken: %w", err)}
		}
	}
	if value == "" {
		return Token{}, &remote.DecodeError{Endpoint: remote.EndpointDPSReport, Cause: fmt.Errorf("response has no userToken")}
	}
	return Token{Value: value}, nil
}

// Upload sends the file at path as a multipart upload and decodes the
// response leniently. Transport failures and non-2xx statuses return a
// *remote.NetworkError and no result.
func (c *Client) Upload(ctx context.Context, path string, token Token) (*Result, []Diagnostic, error) {
	payload, contentType, size, err := buildMultipart(path)
	if err != nil {
		return nil, nil, err
	}

	u, err := url.Parse(c.uploadURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing upload url: %w", err)
	}
	q := u.Query()
	q.Set("json", "1")
	q.Set("userToken", token.Value)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	c.logger.Info("uploading artifact",
		slog.String("path", path),
		slog.String("size", humanize.Bytes(uint64(size)))) //nolint:gosec // G115: size from os.Stat is non-negative
	start := time.Now()

	resp, err := c.http.Do(ctx, remote.EndpointDPSReport, req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, nil, &remote.NetworkError{Endpoint: remote.EndpointDPSReport, URL: u.String(), Cause: fmt.Errorf("reading body: %w", err)}
	}

	result, diags, err := Decode(body)
	if err != nil {
		return nil, nil, err
	}
	for _, d := range diags {
		c.logger.Warn("dropped malformed response field", slog.String("path", path), slog.String("field", d.Field), slog.String("reason", d.Reason))
	}
	c.logger.Debug("upload complete",
		slog.String("path", path),
		slog.String("permalink", result.Permalink),
		slog.Duration("elapsed", time.Since(start)))
	return result, diags, nil
}

func buildMultipart(path string) ([]byte, string, int64, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path from the scanner
	if err != nil {
		return nil, "", 0, fmt.Errorf("opening artifact: %w", err)
	}
	defer f.Close() //nolint:errcheck

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", 0, fmt.Errorf("creating form file: %w", err)
	}
	n, err := io.Copy(part, f)
	if err != nil {
		return nil, "", 0, fmt.Errorf("reading artifact: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", 0, fmt.Errorf("finalizing multipart body: %w", err)
	}
	return buf.Bytes(), mw.FormDataContentType(), n, nil
}
