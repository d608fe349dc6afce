// Package dispatch routes an uploaded report to the registration endpoint
// for its kind of encounter.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/sydlexius/archarvest/internal/dpsreport"
	"github.com/sydlexius/archarvest/internal/remote"
)

// GolemMarker is the permalink substring that identifies a training-golem
// benchmark encounter.
const GolemMarker = "Golem"

// Target is a registration endpoint.
type Target string

// Known targets. The value is the path segment under the registration base.
const (
	TargetGolem Target = "golem"
	TargetRaid  Target = "raid"
)

// Errors returned by Dispatch.
var (
	ErrMissingPermalink   = errors.New("upload result has no permalink")
	ErrRegistrationFailed = errors.New("report registration failed")
)

// Classify maps a permalink to its target. It is pure and total.
func Classify(permalink string) Target {
	if strings.Contains(permalink, GolemMarker) {
		return TargetGolem
	}
	return TargetRaid
}

// Dispatcher registers permalinks with the report service.
type Dispatcher struct {
	client  *remote.Client
	baseURL string
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher. baseURL is the registration root, for
// example "https://localhost:8443/api/Report".
func NewDispatcher(client *remote.Client, baseURL string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With(slog.String("component", "dispatcher")),
	}
}

// URL returns the registration URL for a permalink.
func (d *Dispatcher) URL(target Target, permalink string) string {
	return d.baseURL + "/" + string(target) + "/" + escapeSegment(permalink)
}

// Dispatch classifies the result and PUTs an empty body to the matching
// endpoint. The caller must not mark the artifact processed on error.
func (d *Dispatcher) Dispatch(ctx context.Context, result *dpsreport.Result) (Target, error) {
	if result == nil || result.Permalink == "" {
		return "", ErrMissingPermalink
	}

	target := Classify(result.Permalink)
	endpoint := d.URL(target, result.Permalink)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, http.NoBody)
	if err != nil {
		return target, fmt.Errorf("%w: creating request: %w", ErrRegistrationFailed, err)
	}

	resp, err := d.client.Do(ctx, remote.EndpointRegistry, req)
	if err != nil {
		d.logger.Error("failed to register report",
			slog.String("target", string(target)),
			slog.String("permalink", result.Permalink),
			slog.Any("error", err))
		return target, fmt.Errorf("%w: %w", ErrRegistrationFailed, err)
	}
	resp.Body.Close() //nolint:errcheck

	d.logger.Debug("report registered",
		slog.String("target", string(target)),
		slog.String("permalink", result.Permalink))
	return target, nil
}

// escapeSegment percent-encodes everything outside the RFC 3986 unreserved
// set, so the permalink's slashes and colon survive as one path segment.
func escapeSegment(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
