// Package sentinel decides whether a page is showing an anti-bot challenge
// instead of its real content. Checks are layered cheapest first: known
// CAPTCHA widget selectors, then URL substrings, then the title, then a
// bounded scan of landmark text. The default rule set covers the major
// hosted challenge providers; callers can swap in their own Classifier.
package sentinel

import (
	"strings"

	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/pagemap/api/schemas"
	"github.com/xkilldash9x/pagemap/internal/dom"
)

// Verdict is the outcome of a classification. A zero Verdict means the page
// looks like ordinary content.
type Verdict struct {
	Blocked  bool
	Provider string
	Signal   string
}

// Classifier inspects a page snapshot for challenge interstitials.
type Classifier interface {
	Classify(url, title string, doc *html.Node) Verdict
}

// Sentinel is the default Classifier.
type Sentinel struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Sentinel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sentinel{logger: logger.Named("sentinel")}
}

// widgetSelectors are DOM probes for hosted challenge widgets. Matching one
// of these is the strongest signal and is checked before anything else.
var widgetSelectors = []struct {
	provider string
	xpath    string
}{
	{"recaptcha", `//*[contains(@class,'g-recaptcha')]`},
	{"recaptcha", `//iframe[contains(@src,'google.com/recaptcha')]`},
	{"hcaptcha", `//*[contains(@class,'h-captcha')]`},
	{"hcaptcha", `//iframe[contains(@src,'hcaptcha.com')]`},
	{"turnstile", `//*[contains(@class,'cf-turnstile')]`},
	{"turnstile", `//iframe[contains(@src,'challenges.cloudflare.com')]`},
	{"cloudflare", `//div[@id='cf-challenge-running' or @id='challenge-form' or @id='challenge-stage']`},
	{"arkose", `//iframe[contains(@src,'arkoselabs.com') or contains(@src,'funcaptcha.com')]`},
	{"perimeterx", `//div[@id='px-captcha']`},
	{"datadome", `//iframe[contains(@src,'captcha-delivery.com') or contains(@src,'datadome')]`},
}

var urlSignals = []struct {
	provider string
	needle   string
}{
	{"cloudflare", "/cdn-cgi/challenge-platform"},
	{"cloudflare", "__cf_chl"},
	{"datadome", "captcha-delivery.com"},
	{"akamai", "/_sec/verify"},
	{"generic", "/captcha"},
	{"generic", "bot-detection"},
}

var titleSignals = []string{
	"just a moment",
	"attention required",
	"access denied",
	"are you a robot",
	"verify you are human",
	"security check",
	"one more step",
	"pardon our interruption",
}

var textSignals = []string{
	"captcha",
	"verify you are human",
	"prove you are human",
	"are you a robot",
	"complete the following challenge",
	"checking if the site connection is secure",
	"enable javascript and cookies to continue",
	"unusual traffic from your computer network",
}

// Classify runs the layered rules against a snapshot.
func (s *Sentinel) Classify(url, title string, doc *html.Node) Verdict {
	if doc != nil {
		for _, w := range widgetSelectors {
			if n, err := htmlquery.Query(doc, w.xpath); err == nil && n != nil && dom.IsVisible(n) {
				return s.blocked(w.provider, "challenge widget: "+w.xpath)
			}
		}
	}

	lowURL := strings.ToLower(url)
	for _, u := range urlSignals {
		if strings.Contains(lowURL, u.needle) {
			return s.blocked(u.provider, "challenge url: "+u.needle)
		}
	}

	lowTitle := strings.ToLower(title)
	for _, t := range titleSignals {
		if strings.Contains(lowTitle, t) {
			return s.blocked("generic", "page title: "+t)
		}
	}

	if doc != nil {
		if sig := scanLandmarks(doc); sig != "" {
			return s.blocked("generic", "page text: "+sig)
		}
	}
	return Verdict{}
}

func (s *Sentinel) blocked(provider, signal string) Verdict {
	s.logger.Warn("Bot challenge detected.",
		zap.String("provider", provider), zap.String("signal", signal))
	return Verdict{Blocked: true, Provider: provider, Signal: signal}
}

// scanLandmarks checks headline and main-content text for challenge phrasing.
// The scan is capped so a long article mentioning "captcha" in passing does
// not trip it; only prominent text counts.
func scanLandmarks(doc *html.Node) string {
	var chunks []string
	for _, xp := range []string{"//h1", "//h2", "//main", "//*[@role='main']", "//form[@id='challenge-form']"} {
		nodes, err := htmlquery.QueryAll(doc, xp)
		if err != nil {
			continue
		}
		for _, n := range nodes {
			chunks = append(chunks, dom.TextCapped(n, 200))
		}
	}
	haystack := strings.ToLower(strings.Join(chunks, " "))
	for _, sig := range textSignals {
		if strings.Contains(haystack, sig) {
			return sig
		}
	}
	return ""
}

// Err turns a positive verdict into the error every public operation returns
// while a page stays blocked.
func (v Verdict) Err() error {
	if !v.Blocked {
		return nil
	}
	return &schemas.BotBlockedError{Provider: v.Provider, Signal: v.Signal}
}
