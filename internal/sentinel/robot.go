package sentinel

import (
	"net/url"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/pagemap/internal/dom"
)

// challengeHosts are domains that serve hosted human-verification widgets.
// An iframe or script pointing at one of these from another origin is a
// robot check regardless of what the page around it says.
var challengeHosts = []string{
	"google.com/recaptcha",
	"recaptcha.net",
	"hcaptcha.com",
	"challenges.cloudflare.com",
	"arkoselabs.com",
	"funcaptcha.com",
	"captcha-delivery.com",
	"geo.captcha-delivery.com",
	"px-cdn.net",
}

var challengeFrameTitles = []string{
	"recaptcha",
	"hcaptcha",
	"widget containing a cloudflare security challenge",
	"human verification",
	"challenge",
}

// DetectRobotCheck inspects embedded resources rather than page copy: it
// flags cross-origin challenge iframes, sitekey attributes and known
// anti-bot script URLs. pageURL scopes the cross-origin comparison; an
// empty or unparsable pageURL disables only that comparison, not the check.
func DetectRobotCheck(pageURL string, doc *html.Node) Verdict {
	if doc == nil {
		return Verdict{}
	}
	pageHost := hostOf(pageURL)

	if nodes, err := htmlquery.QueryAll(doc, "//iframe[@src]"); err == nil {
		for _, n := range nodes {
			src := dom.Attr(n, "src")
			if provider := matchChallengeHost(src); provider != "" {
				if pageHost == "" || hostOf(src) != pageHost {
					return Verdict{Blocked: true, Provider: provider, Signal: "cross-origin challenge iframe: " + src}
				}
			}
			title := strings.ToLower(dom.Attr(n, "title"))
			for _, t := range challengeFrameTitles {
				if title != "" && strings.Contains(title, t) {
					return Verdict{Blocked: true, Provider: "generic", Signal: "challenge iframe title: " + title}
				}
			}
		}
	}

	if n, err := htmlquery.Query(doc, "//*[@data-sitekey]"); err == nil && n != nil {
		return Verdict{Blocked: true, Provider: "generic", Signal: "sitekey attribute on <" + dom.Tag(n) + ">"}
	}

	if nodes, err := htmlquery.QueryAll(doc, "//script[@src]"); err == nil {
		for _, n := range nodes {
			src := dom.Attr(n, "src")
			if provider := matchChallengeHost(src); provider != "" {
				return Verdict{Blocked: true, Provider: provider, Signal: "anti-bot script: " + src}
			}
		}
	}
	return Verdict{}
}

func matchChallengeHost(src string) string {
	low := strings.ToLower(src)
	for _, h := range challengeHosts {
		if strings.Contains(low, h) {
			switch {
			case strings.Contains(h, "recaptcha"):
				return "recaptcha"
			case strings.Contains(h, "hcaptcha"):
				return "hcaptcha"
			case strings.Contains(h, "cloudflare"):
				return "turnstile"
			case strings.Contains(h, "arkose"), strings.Contains(h, "funcaptcha"):
				return "arkose"
			case strings.Contains(h, "captcha-delivery"):
				return "datadome"
			default:
				return "generic"
			}
		}
	}
	return ""
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Host), "www.")
}
