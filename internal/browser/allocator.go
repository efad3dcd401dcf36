// internal/browser/allocator.go
package browser

import (
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/ruxailab/accessiblity-testing-backend/internal/config"
)

// launchFlag is one Chromium command line switch.
type launchFlag struct {
	Name  string
	Value interface{}
}

// baseLaunchFlags keep rendering deterministic inside containers. Web security
// is disabled so stylesheets and frames on other origins can be read back.
var baseLaunchFlags = []launchFlag{
	{"no-sandbox", true},
	{"disable-setuid-sandbox", true},
	{"disable-dev-shm-usage", true},
	{"disable-gpu", true},
	{"disable-web-security", true},
	{"disable-features", "VizDisplayCompositor"},
}

// launchFlags assembles the switches for cfg. Extra args from the
// configuration come last so they can override the base set.
func launchFlags(cfg config.BrowserConfig) []launchFlag {
	flags := make([]launchFlag, 0, len(baseLaunchFlags)+len(cfg.Args)+1)
	flags = append(flags, launchFlag{"headless", cfg.Headless})
	flags = append(flags, baseLaunchFlags...)

	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if name == "" {
			continue
		}
		if len(parts) == 2 {
			flags = append(flags, launchFlag{name, parts[1]})
		} else {
			flags = append(flags, launchFlag{name, true})
		}
	}
	return flags
}

// allocatorOptions converts cfg into chromedp exec allocator options on top
// of chromedp's defaults.
func allocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for _, f := range launchFlags(cfg) {
		opts = append(opts, chromedp.Flag(f.Name, f.Value))
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = config.DefaultUserAgent
	}
	opts = append(opts,
		chromedp.UserAgent(userAgent),
		chromedp.WindowSize(viewportWidth(cfg), viewportHeight(cfg)),
	)
	if cfg.ExecutablePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecutablePath))
	}
	return opts
}

func viewportWidth(cfg config.BrowserConfig) int {
	if cfg.ViewportWidth > 0 {
		return cfg.ViewportWidth
	}
	return 1366
}

func viewportHeight(cfg config.BrowserConfig) int {
	if cfg.ViewportHeight > 0 {
		return cfg.ViewportHeight
	}
	return 768
}
