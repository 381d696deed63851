package enrichment

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// DefaultIPInfoURL is the public ipinfo.io endpoint.
const DefaultIPInfoURL = "https://ipinfo.io"

// IPInfoLocator looks addresses up through the ipinfo.io JSON API. The
// response object is stored as-is.
type IPInfoLocator struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewIPInfoLocator creates a locator for baseURL. token is optional; a nil
// client gets a default one.
func NewIPInfoLocator(baseURL, token string, client *http.Client) *IPInfoLocator {
	if baseURL == "" {
		baseURL = DefaultIPInfoURL
	}
	if client == nil {
		client = newHTTPClient(DefaultLookupTimeout)
	}
	return &IPInfoLocator{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

// Locate implements GeoLocator.
func (l *IPInfoLocator) Locate(ctx context.Context, ip string) (map[string]any, error) {
	u := fmt.Sprintf("%s/%s/json", l.baseURL, url.PathEscape(ip))

	var out map[string]any
	if err := getJSON(ctx, l.client, u, "application/json", l.token, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNoData
	}
	return out, nil
}
