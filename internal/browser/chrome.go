package browser

import (
	"os"
	"os/exec"
	"runtime"

	"github.com/invoicehound/invoicehound/internal/logger"
)

// chromeEnvVar points the session at a specific browser binary, skipping
// discovery. An explicit --chrome-path still wins.
const chromeEnvVar = "INVOICEHOUND_CHROME"

// chromePathNames are the binary names tried against PATH, preferred first.
var chromePathNames = []string{
	"google-chrome-stable",
	"google-chrome",
	"chromium",
	"chromium-browser",
	"chrome",
}

// chromeInstallLocations returns the usual install paths for the current
// platform, checked when PATH turns up nothing.
func chromeInstallLocations() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		}
	case "windows":
		return []string{
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		}
	default:
		return []string{
			"/usr/bin/google-chrome-stable",
			"/usr/bin/google-chrome",
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
			"/snap/bin/chromium",
		}
	}
}

// FindChromePath resolves the Chrome or Chromium binary the capture session
// launches: the INVOICEHOUND_CHROME override when set, then PATH, then the
// platform's usual install locations. Returns empty when nothing was found,
// in which case browser startup fails.
func FindChromePath() string {
	if override := os.Getenv(chromeEnvVar); override != "" {
		if isRegularFile(override) {
			logger.Debug("using Chrome binary from environment", "path", override)
			return override
		}
		logger.Warn("Chrome override does not point at a binary; falling back to discovery",
			"var", chromeEnvVar, "path", override)
	}

	for _, name := range chromePathNames {
		if path, err := exec.LookPath(name); err == nil {
			logger.Debug("found Chrome binary on PATH", "name", name, "path", path)
			return path
		}
	}

	for _, loc := range chromeInstallLocations() {
		if isRegularFile(loc) {
			logger.Debug("found Chrome binary", "path", loc)
			return loc
		}
	}

	logger.Warn("no Chrome binary found; invoice capture cannot run without one")
	return ""
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
