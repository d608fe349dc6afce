// Package version holds build metadata injected with -ldflags.
package version

// Set at build time:
//
//	go build -ldflags "-X github.com/sydlexius/archarvest/internal/version.Version=v1.2.0"
var (
	Version = "dev"
	Commit  = "unknown"
)

// UserAgent returns the User-Agent header sent with every outbound request.
func UserAgent() string {
	return "archarvest/" + Version
}
