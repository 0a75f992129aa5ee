package scraper

import (
	"context"
	"net/http"
	"time"
)

// noFollowClient issues requests without following redirects, so the
// Location header of the first hop is observable.
var noFollowClient = &http.Client{
	Timeout: 10 * time.Second,
	CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	},
}

// ResolveRedirectURL resolves a redirect URL to its destination with a
// single HEAD request. Job boards often link through redirect URLs
// (e.g. /job/go/123/) that point at the real posting; the destination
// is what identifies the item across sources. On any error, or when
// the response is not a redirect, the original URL is returned.
func ResolveRedirectURL(ctx context.Context, rawURL string) string {
	if rawURL == "" {
		return rawURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return rawURL
	}

	resp, err := noFollowClient.Do(req)
	if err != nil {
		return rawURL
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		if loc := resp.Header.Get("Location"); loc != "" {
			return loc
		}
	}
	return rawURL
}
