// Package harvest runs a single pass over the log directory: every candidate
// artifact is uploaded, its permalink registered, and its marker written.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sydlexius/archarvest/internal/catalog"
	"github.com/sydlexius/archarvest/internal/dispatch"
	"github.com/sydlexius/archarvest/internal/dpsreport"
	"github.com/sydlexius/archarvest/internal/event"
	"github.com/sydlexius/archarvest/internal/remote"
	"github.com/sydlexius/archarvest/internal/scanner"
)

// Uploader obtains tokens and uploads artifacts.
type Uploader interface {
	GetToken(ctx context.Context) (dpsreport.Token, error)
	Upload(ctx context.Context, path string, token dpsreport.Token) (*dpsreport.Result, []dpsreport.Diagnostic, error)
}

// Registrar forwards an upload result to its registration endpoint.
type Registrar interface {
	Dispatch(ctx context.Context, result *dpsreport.Result) (dispatch.Target, error)
}

// CatalogSource provides the boss catalog used for log text.
type CatalogSource interface {
	Fetch(ctx context.Context) (*catalog.Catalog, error)
}

// Harvester runs passes over one log directory.
type Harvester struct {
	scanner   *scanner.Scanner
	uploader  Uploader
	registrar Registrar
	catalog   CatalogSource
	root      string
	logger    *slog.Logger
	eventBus  *event.Bus
}

// New creates a Harvester for the log directory at root.
func New(sc *scanner.Scanner, uploader Uploader, registrar Registrar, cat CatalogSource, root string, logger *slog.Logger) *Harvester {
	return &Harvester{
		scanner:   sc,
		uploader:  uploader,
		registrar: registrar,
		catalog:   cat,
		root:      root,
		logger:    logger.With(slog.String("component", "harvester")),
	}
}

// SetEventBus sets the event bus for publishing artifact and pass events.
func (h *Harvester) SetEventBus(bus *event.Bus) {
	h.eventBus = bus
}

// passState is the context shared by all artifacts of one pass.
type passState struct {
	catalog  *catalog.Catalog
	token    *dpsreport.Token
	tokenErr error
}

// RunPass uploads every candidate artifact currently under root. Failures
// are isolated per artifact; cancellation is checked between artifacts.
func (h *Harvester) RunPass(ctx context.Context) *PassResult {
	result := &PassResult{
		ID:        uuid.New().String(),
		StartedAt: time.Now().UTC(),
	}
	logger := h.logger.With(slog.String("pass_id", result.ID))
	logger.Info("pass started", slog.String("root", h.root))

	state := &passState{catalog: h.loadCatalog(ctx, logger)}
	for a, err := range h.scanner.Scan(ctx, h.root) {
		if ctx.Err() != nil {
			result.Canceled = true
			break
		}
		if err != nil {
			result.Skipped++
			logger.Warn("scan error", slog.Any("error", err))
			continue
		}

		result.Discovered++
		h.processArtifact(ctx, logger, state, a, result)
	}

	now := time.Now().UTC()
	result.CompletedAt = &now
	logger.Info("pass completed",
		slog.Int("discovered", result.Discovered),
		slog.Int("uploaded", result.Uploaded),
		slog.Int("failed", result.Failed),
		slog.Int("skipped", result.Skipped),
		slog.Bool("canceled", result.Canceled),
		slog.Duration("elapsed", now.Sub(result.StartedAt)))

	h.eventBus.Publish(event.Event{
		Type: event.PassCompleted,
		Data: map[string]any{
			"pass_id":      result.ID,
			"started_at":   result.StartedAt,
			"completed_at": now,
			"discovered":   result.Discovered,
			"uploaded":     result.Uploaded,
			"failed":       result.Failed,
			"skipped":      result.Skipped,
			"canceled":     result.Canceled,
		},
	})
	return result
}

func (h *Harvester) processArtifact(ctx context.Context, logger *slog.Logger, state *passState, a scanner.Artifact, result *PassResult) {
	logger.Info("processing artifact", slog.String("path", a.Path))

	res, target, err := h.upload(ctx, state, a)
	if err != nil {
		result.Failed++
		attrs := []any{slog.String("path", a.Path), slog.Any("error", err)}
		if res != nil && res.ErrorMessage() != "" {
			attrs = append(attrs, slog.String("server_error", res.ErrorMessage()))
		}
		logger.Error("failed to process artifact, skipping", attrs...)
		h.eventBus.Publish(event.Event{
			Type: event.ArtifactFailed,
			Data: map[string]any{
				"pass_id": result.ID,
				"path":    a.Path,
				"error":   err.Error(),
			},
		})
		return
	}

	result.Uploaded++
	boss := bossName(state.catalog, res)
	logger.Info("uploaded artifact",
		slog.String("path", a.Path),
		slog.String("permalink", res.Permalink),
		slog.String("target", string(target)),
		slog.String("boss", boss))

	h.eventBus.Publish(event.Event{
		Type: event.ArtifactUploaded,
		Data: map[string]any{
			"pass_id":   result.ID,
			"path":      a.Path,
			"permalink": res.Permalink,
			"target":    string(target),
			"boss":      boss,
		},
	})
}

// upload runs token, upload, dispatch, and marker for one artifact. The
// marker is written only when every earlier step succeeded.
func (h *Harvester) upload(ctx context.Context, state *passState, a scanner.Artifact) (*dpsreport.Result, dispatch.Target, error) {
	if state.tokenErr != nil {
		return nil, "", state.tokenErr
	}
	if state.token == nil {
		tok, err := h.uploader.GetToken(ctx)
		if err != nil {
			state.tokenErr = fmt.Errorf("getting upload token: %w", err)
			return nil, "", state.tokenErr
		}
		state.token = &tok
	}

	res, _, err := h.uploader.Upload(ctx, a.Path, *state.token)
	if err != nil {
		if tokenRejected(err) {
			state.token = nil
		}
		return nil, "", fmt.Errorf("uploading: %w", err)
	}

	target, err := h.registrar.Dispatch(ctx, res)
	if err != nil {
		return res, target, err
	}

	if err := h.scanner.MarkProcessed(a); err != nil {
		return res, target, fmt.Errorf("registered but not marked, may be uploaded again: %w", err)
	}
	return res, target, nil
}

// loadCatalog fetches the boss catalog for this pass. A failed fetch
// yields an empty catalog.
func (h *Harvester) loadCatalog(ctx context.Context, logger *slog.Logger) *catalog.Catalog {
	if h.catalog == nil {
		return nil
	}
	cat, err := h.catalog.Fetch(ctx)
	if err != nil {
		logger.Warn("boss catalog unavailable, names will be empty", slog.Any("error", err))
		return nil
	}
	return cat
}

// bossName resolves a display name. An unresolved name is returned as "".
func bossName(cat *catalog.Catalog, res *dpsreport.Result) string {
	id, ok := res.BossID()
	if !ok {
		return ""
	}
	name, _ := cat.Name(id)
	return name
}

// tokenRejected reports whether an upload failure suggests the token
// expired, so the next artifact should fetch a new one.
func tokenRejected(err error) bool {
	var netErr *remote.NetworkError
	if !errors.As(err, &netErr) {
		return false
	}
	return netErr.StatusCode == http.StatusUnauthorized || netErr.StatusCode == http.StatusForbidden
}
