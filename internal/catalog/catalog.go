// Package catalog loads the dps.report boss ID list. It is a display-only
// side table: lookups never influence where an upload is routed.
package catalog

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/sydlexius/archarvest/internal/remote"
)

// Boss is one catalog entry.
type Boss struct {
	ID   int
	Name string
}

// Catalog maps boss IDs to display names. The zero value and nil are empty
// catalogs.
type Catalog struct {
	byID map[int]string
}

// Name returns the display name for id.
func (c *Catalog) Name(id int) (string, bool) {
	if c == nil || c.byID == nil {
		return "", false
	}
	name, ok := c.byID[id]
	return name, ok
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.byID)
}

// Parse reads the newline-delimited catalog format. Lines starting with '#'
// are comments; data lines are "id - key - name". Malformed lines are logged
// and skipped.
func Parse(r io.Reader, logger *slog.Logger) (*Catalog, error) {
	c := &Catalog{byID: make(map[int]string)}

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}

		b, err := parseLine(line)
		if err != nil {
			logger.Warn("skipping malformed catalog line",
				slog.Int("line", lineNo),
				slog.String("text", line),
				slog.Any("error", err))
			continue
		}
		if _, dup := c.byID[b.ID]; dup {
			logger.Debug("duplicate boss id in catalog, keeping first", slog.Int("id", b.ID))
			continue
		}
		c.byID[b.ID] = b.Name
	}
	if err := sc.Err(); err != nil {
		return c, fmt.Errorf("reading catalog: %w", err)
	}
	return c, nil
}

func parseLine(line string) (Boss, error) {
	parts := strings.Split(line, " - ")
	if len(parts) < 3 {
		return Boss{}, fmt.Errorf("expected 3 fields, got %d", len(parts))
	}
	id, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Boss{}, fmt.Errorf("parsing id: %w", err)
	}
	name := strings.TrimSpace(parts[2])
	if name == "" {
		return Boss{}, fmt.Errorf("empty name")
	}
	return Boss{ID: id, Name: name}, nil
}

// Fetcher downloads the catalog.
type Fetcher struct {
	client *remote.Client
	url    string
	logger *slog.Logger
}

// NewFetcher creates a Fetcher for the catalog at url.
func NewFetcher(client *remote.Client, url string, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		client: client,
		url:    url,
		logger: logger.With(slog.String("component", "catalog")),
	}
}

// Fetch downloads and parses the catalog.
func (f *Fetcher) Fetch(ctx context.Context) (*Catalog, error) {
	body, err := f.client.GetText(ctx, remote.EndpointDPSReport, f.url)
	if err != nil {
		return nil, fmt.Errorf("fetching boss catalog: %w", err)
	}
	c, err := Parse(strings.NewReader(body), f.logger)
	if err != nil {
		return c, err
	}
	f.logger.Debug("boss catalog loaded", slog.Int("entries", c.Len()))
	return c, nil
}
