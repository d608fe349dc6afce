package updater

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sydlexius/archarvest/internal/event"
	"github.com/sydlexius/archarvest/internal/filesystem"
	"github.com/sydlexius/archarvest/internal/remote"
)

// Installer downloads the latest dependency build.
type Installer struct {
	client   *remote.Client
	url      string
	logger   *slog.Logger
	eventBus *event.Bus
}

// NewInstaller creates an Installer that downloads from url.
func NewInstaller(client *remote.Client, url string, logger *slog.Logger) *Installer {
	return &Installer{
		client: client,
		url:    url,
		logger: logger.With(slog.String("component", "installer")),
	}
}

// SetEventBus sets the event bus for publishing install events.
func (i *Installer) SetEventBus(bus *event.Bus) {
	i.eventBus = bus
}

// Install downloads the binary and swaps it into path. The download is
// staged next to the target, so a failure leaves any existing binary in
// place.
func (i *Installer) Install(ctx context.Context, path string) error {
	i.logger.Info("fetching latest arcdps build", slog.String("url", i.url))
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := i.client.Do(ctx, remote.EndpointArcDPS, req)
	if err != nil {
		return fmt.Errorf("downloading dependency: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	n, err := filesystem.ReplaceFromReader(path, resp.Body, 0o644)
	if err != nil {
		return fmt.Errorf("installing dependency to %s: %w", path, err)
	}

	i.logger.Info("installed latest arcdps build",
		slog.String("path", path),
		slog.String("size", humanize.Bytes(uint64(n))), //nolint:gosec // G115: n is non-negative
		slog.Duration("elapsed", time.Since(start)))

	i.eventBus.Publish(event.Event{
		Type: event.DependencyInstalled,
		Data: map[string]any{"path": path, "bytes": n},
	})
	return nil
}
