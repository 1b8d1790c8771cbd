package utils

// Build information, set with -ldflags "-X github.com/alpacahq/tracelog/utils.Tag=..." at release time.
var (
	Tag        = "dev"
	GitHash    = "unknown"
	BuildStamp = "unknown"
)
