package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/mitchellh/go-homedir"
)

// statFile is swapped in tests.
var statFile = os.Stat

// chromeCandidates lists well known install locations per platform.
func chromeCandidates(goos string) []string {
	switch goos {
	case "windows":
		candidates := []string{
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		}
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			candidates = append(candidates, filepath.Join(local, "Google", "Chrome", "Application", "chrome.exe"))
		}
		return candidates
	case "darwin":
		return []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		}
	default:
		return []string{
			"/usr/bin/google-chrome-stable",
			"/usr/bin/google-chrome",
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
		}
	}
}

// ResolveChromeExecutable picks the renderer binary. An explicit path wins
// (with "~" expanded), then CHROME_PATH, then the first existing platform
// candidate. An empty result lets chromedp search PATH itself.
func ResolveChromeExecutable(configured string) string {
	if configured != "" {
		if expanded, err := homedir.Expand(configured); err == nil {
			return expanded
		}
		return configured
	}
	if env := os.Getenv("CHROME_PATH"); env != "" {
		if expanded, err := homedir.Expand(env); err == nil {
			return expanded
		}
		return env
	}
	for _, candidate := range chromeCandidates(runtime.GOOS) {
		if _, err := statFile(candidate); err == nil {
			return candidate
		}
	}
	return ""
}
