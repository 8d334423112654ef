package browser

// DefaultUserAgent is presented to the storefront when no override is
// configured. Kept current with a recent stable Chrome release.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Config controls how the Chrome session is launched.
type Config struct {
	// Headless runs Chrome without a window. Defaults to false so the
	// operator can complete interactive sign-in.
	Headless bool

	// Stealth applies the anti-automation-detection launch flags and the
	// fingerprint masking script.
	Stealth bool

	// ProfileDir is the persistent Chrome user data directory. Session
	// cookies land here, so sign-in survives between runs.
	ProfileDir string

	// StagingDir receives browser-initiated downloads before the pipeline
	// moves them to their final destination.
	StagingDir string

	// ChromePath overrides browser binary discovery.
	ChromePath string

	// UserAgent overrides the browser's user agent string.
	UserAgent string
}

// DefaultConfig returns a Config suitable for an interactive first run.
func DefaultConfig() Config {
	return Config{
		Headless:   false,
		Stealth:    false,
		ProfileDir: ".profile",
		StagingDir: "downloads/.staging",
		UserAgent:  DefaultUserAgent,
	}
}
