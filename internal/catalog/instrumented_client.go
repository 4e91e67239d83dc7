package catalog

import (
	"context"

	"github.com/hypertube/hypertube/internal/media"
	"github.com/hypertube/hypertube/internal/telemetry"
)

// InstrumentedClient wraps Client with telemetry.
type InstrumentedClient struct {
	client    Client
	telemetry *telemetry.Telemetry
	provider  string
}

// NewInstrumentedClient creates a new instrumented catalog client.
func NewInstrumentedClient(client Client, tel *telemetry.Telemetry, provider Provider) *InstrumentedClient {
	return &InstrumentedClient{
		client:    client,
		telemetry: tel,
		provider:  string(provider),
	}
}

// Search searches the catalog with telemetry.
func (c *InstrumentedClient) Search(ctx context.Context, query string, page, limit int) ([]*media.ContentRecord, error) {
	result, err := c.client.Search(ctx, query, page, limit)
	c.telemetry.RecordCatalogRequest(ctx, c.provider, "search", statusOf(err))

	return result, err
}

// Details fetches full metadata for one item with telemetry.
func (c *InstrumentedClient) Details(ctx context.Context, id string) (*media.ContentRecord, error) {
	result, err := c.client.Details(ctx, id)
	c.telemetry.RecordCatalogRequest(ctx, c.provider, "details", statusOf(err))

	return result, err
}

// TorrentFile fetches packed torrent metadata with telemetry.
func (c *InstrumentedClient) TorrentFile(ctx context.Context, id string) ([]byte, error) {
	result, err := c.client.TorrentFile(ctx, id)
	c.telemetry.RecordCatalogRequest(ctx, c.provider, "torrent_file", statusOf(err))

	return result, err
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}
