// Package updater keeps the arcdps binary current: Checker compares the
// installed file's MD5 with the published checksum, Installer replaces it.
package updater

import (
	"context"
	"crypto/md5" //nolint:gosec // G501: the upstream checksum format is MD5
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/sydlexius/archarvest/internal/remote"
)

// HashSuffix is the file name the checksum endpoint appends after the digest.
const HashSuffix = "  x64/d3d9.dll"

// Decision is the outcome of a version check.
type Decision int

// Possible decisions.
const (
	Unknown Decision = iota
	UpToDate
	Stale
)

func (d Decision) String() string {
	switch d {
	case UpToDate:
		return "up_to_date"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// Checker decides whether the local dependency needs replacing.
type Checker struct {
	client  *remote.Client
	hashURL string
	path    string
	logger  *slog.Logger
}

// NewChecker creates a Checker for the dependency at path.
func NewChecker(client *remote.Client, hashURL, path string, logger *slog.Logger) *Checker {
	return &Checker{
		client:  client,
		hashURL: hashURL,
		path:    path,
		logger:  logger.With(slog.String("component", "version-check")),
	}
}

// Path returns the dependency path being checked.
func (c *Checker) Path() string { return c.path }

// CheckForUpdate compares local and remote hashes. A failed remote fetch
// is indistinguishable from a mismatch and yields Stale. Unknown means the
// local file exists but could not be read.
func (c *Checker) CheckForUpdate(ctx context.Context) Decision {
	c.logger.Info("polling arcdps checksum", slog.String("url", c.hashURL))

	remoteHash, err := c.RemoteHash(ctx)
	if err != nil {
		c.logger.Warn("remote checksum unavailable, treating as stale", slog.Any("error", err))
	}

	localHash, err := LocalHash(c.path)
	if err != nil {
		c.logger.Error("hashing local dependency", slog.String("path", c.path), slog.Any("error", err))
		return Unknown
	}

	d := Decide(localHash, remoteHash)
	c.logger.Info("version check complete",
		slog.String("decision", d.String()),
		slog.String("local", localHash),
		slog.String("remote", remoteHash))
	return d
}

// RemoteHash fetches and normalizes the published checksum.
func (c *Checker) RemoteHash(ctx context.Context) (string, error) {
	body, err := c.client.GetText(ctx, remote.EndpointArcDPS, c.hashURL)
	if err != nil {
		return "", err
	}
	return ParseRemoteHash(body), nil
}

// ParseRemoteHash strips the trailing file name and surrounding whitespace
// from a "<hex>  x64/d3d9.dll" line.
func ParseRemoteHash(body string) string {
	return strings.TrimSpace(strings.ReplaceAll(body, HashSuffix, ""))
}

// LocalHash returns the lower-case hex MD5 of the file at path. A missing
// file is not an error and yields "".
func LocalHash(path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path from configuration
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("opening dependency: %w", err)
	}
	defer f.Close() //nolint:errcheck

	h := md5.New() //nolint:gosec // G401: see import
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("reading dependency: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Decide is UpToDate iff both hashes are present and equal.
func Decide(local, remote string) Decision {
	if local != "" && remote != "" && strings.EqualFold(local, remote) {
		return UpToDate
	}
	return Stale
}
