package version

// Build metadata, overridden at link time:
// go build -ldflags "-X github.com/geddydukes/portfolio/internal/version.Version=1.2.0"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// String renders the build metadata for startup logs.
func String() string {
	return Version + " (" + GitCommit + ", built " + BuildTime + ")"
}
