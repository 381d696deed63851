package enrichment

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// DefaultRDAPURL is the rdap.org bootstrap redirector.
const DefaultRDAPURL = "https://rdap.org"

// rdapNetwork is the subset of an RDAP ip network object that is kept.
type rdapNetwork struct {
	Handle       string `json:"handle"`
	Name         string `json:"name"`
	Country      string `json:"country"`
	StartAddress string `json:"startAddress"`
	EndAddress   string `json:"endAddress"`
	Type         string `json:"type"`
	ParentHandle string `json:"parentHandle"`
}

// RDAPWhois fetches registration data for an address over RDAP and
// flattens it into a small key/value map.
type RDAPWhois struct {
	baseURL string
	client  *http.Client
}

// NewRDAPWhois creates a WHOIS lookup against baseURL.
func NewRDAPWhois(baseURL string, client *http.Client) *RDAPWhois {
	if baseURL == "" {
		baseURL = DefaultRDAPURL
	}
	if client == nil {
		client = newHTTPClient(DefaultLookupTimeout)
	}
	return &RDAPWhois{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Whois implements WhoisLookup.
func (w *RDAPWhois) Whois(ctx context.Context, ip string) (map[string]string, error) {
	u := fmt.Sprintf("%s/ip/%s", w.baseURL, url.PathEscape(ip))

	var network rdapNetwork
	if err := getJSON(ctx, w.client, u, "application/rdap+json, application/json", "", &network); err != nil {
		return nil, err
	}

	out := make(map[string]string, 7)
	for key, value := range map[string]string{
		"handle":        network.Handle,
		"name":          network.Name,
		"country":       network.Country,
		"start_address": network.StartAddress,
		"end_address":   network.EndAddress,
		"type":          network.Type,
		"parent_handle": network.ParentHandle,
	} {
		if value != "" {
			out[key] = value
		}
	}
	if len(out) == 0 {
		return nil, ErrNoData
	}
	return out, nil
}
