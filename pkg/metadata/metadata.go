package metadata

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"energon/pkg/models"
)

// maxDocumentSize caps metadata responses.
const maxDocumentSize = 1 << 20

// Fetcher loads token metadata, rewriting ipfs:// URIs onto HTTPS gateways
// and falling back to the next gateway when one fails.
type Fetcher struct {
	gateways []string
	client   *http.Client
	logger   *slog.Logger
}

func New(gateways []string, timeout time.Duration, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	normalized := make([]string, 0, len(gateways))
	for _, g := range gateways {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		if !strings.HasSuffix(g, "/") {
			g += "/"
		}
		normalized = append(normalized, g)
	}
	return &Fetcher{
		gateways: normalized,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// ipfsPath returns "CID/path" for ipfs:// URIs and for HTTP URLs that point
// at some gateway's /ipfs/ path.
func ipfsPath(uri string) (string, bool) {
	if rest, ok := strings.CutPrefix(uri, "ipfs://"); ok {
		rest = strings.TrimPrefix(rest, "ipfs/")
		return strings.TrimPrefix(rest, "/"), rest != ""
	}
	u, err := url.Parse(uri)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}
	if _, rest, ok := strings.Cut(u.Path, "/ipfs/"); ok && rest != "" {
		return rest, true
	}
	return "", false
}

// Resolve lists the URLs to try for uri, in order.
func (f *Fetcher) Resolve(uri string) []string {
	uri = strings.TrimSpace(uri)
	path, isIPFS := ipfsPath(uri)
	if !isIPFS {
		return []string{uri}
	}
	var urls []string
	if !strings.HasPrefix(uri, "ipfs://") {
		urls = append(urls, uri)
	}
	for _, g := range f.gateways {
		u := g + path
		if len(urls) > 0 && urls[0] == u {
			continue
		}
		urls = append(urls, u)
	}
	return urls
}

// Fetch returns the metadata document behind uri. Every failure is wrapped
// in models.ErrMetadataFetch.
func (f *Fetcher) Fetch(ctx context.Context, uri string) (*models.TokenMetadata, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, fmt.Errorf("%w: empty token URI", models.ErrMetadataFetch)
	}
	if strings.HasPrefix(uri, "data:") {
		meta, err := decodeDataURI(uri)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrMetadataFetch, err)
		}
		return meta, nil
	}

	var lastErr error
	for _, u := range f.Resolve(uri) {
		meta, err := f.get(ctx, u)
		if err == nil {
			return meta, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrMetadataFetch, ctx.Err())
		}
		f.logger.Debug("metadata gateway failed", "url", u, "error", err)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no gateway configured")
	}
	return nil, fmt.Errorf("%w: %v", models.ErrMetadataFetch, lastErr)
}

func (f *Fetcher) get(ctx context.Context, u string) (*models.TokenMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %s", u, resp.Status)
	}
	var meta models.TokenMetadata
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDocumentSize)).Decode(&meta); err != nil {
		return nil, fmt.Errorf("%s: %w", u, err)
	}
	return &meta, nil
}

// decodeDataURI handles on-chain metadata ("data:application/json;base64,...").
func decodeDataURI(uri string) (*models.TokenMetadata, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, errors.New("malformed data URI")
	}
	var body []byte
	if strings.HasSuffix(header, ";base64") {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, err
		}
		body = decoded
	} else {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return nil, err
		}
		body = []byte(unescaped)
	}
	var meta models.TokenMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}
