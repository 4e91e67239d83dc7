package catalog

import (
	"context"
	"fmt"

	"github.com/hypertube/hypertube/internal/media"
)

// Provider identifies an upstream catalog. The set is closed: adding a
// provider means adding a constant and a case to New.
type Provider string

const (
	ProviderArchiveOrg Provider = "archive.org"
)

// Client is the upstream catalog surface consumed by the metadata
// cache and the REST edge.
type Client interface {
	// Search queries the provider. An empty query returns the
	// provider's trending set, sorted by downloads.
	Search(ctx context.Context, query string, page, limit int) ([]*media.ContentRecord, error)
	// Details fetches the full record for one id. Returns
	// media.ErrNotFound for unknown ids.
	Details(ctx context.Context, id string) (*media.ContentRecord, error)
	// TorrentFile fetches the packed torrent metadata for one id.
	TorrentFile(ctx context.Context, id string) ([]byte, error)
}

// New builds the client for the given provider.
func New(provider Provider, baseURL string) (Client, error) {
	switch provider {
	case ProviderArchiveOrg:
		return NewArchiveOrgClient(baseURL), nil
	default:
		return nil, fmt.Errorf("unknown catalog provider: %q", provider)
	}
}
