package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hypertube/hypertube/internal/logctx"
	"github.com/hypertube/hypertube/internal/media"
)

const (
	defaultArchiveBaseURL = "https://archive.org"

	// Archive.org provides original quality only; there is no ladder of
	// encodes to pick from.
	archiveQualityLabel = "Original"

	maxGenres      = 5
	requestTimeout = 30 * time.Second
)

// videoFormats are the archive file formats treated as playable video
// when picking the payload out of a metadata listing.
var videoFormats = map[string]bool{
	"MPEG4":     true,
	"h.264":     true,
	"Ogg Video": true,
	"Matroska":  true,
}

// searchFields is the field list requested from advancedsearch.
var searchFields = []string{
	"identifier",
	"title",
	"description",
	"year",
	"runtime",
	"creator",
	"subject",
	"downloads",
	"avg_rating",
	"num_reviews",
}

// ArchiveOrgClient talks to the Archive.org search and metadata APIs.
type ArchiveOrgClient struct {
	client  *http.Client
	baseURL string
}

// NewArchiveOrgClient creates an Archive.org catalog client. An empty
// baseURL selects the public instance.
func NewArchiveOrgClient(baseURL string) *ArchiveOrgClient {
	if baseURL == "" {
		baseURL = defaultArchiveBaseURL
	}

	return &ArchiveOrgClient{
		client:  &http.Client{Timeout: requestTimeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// searchResponse is the advancedsearch JSON envelope.
type searchResponse struct {
	Response struct {
		NumFound int         `json:"numFound"`
		Docs     []searchDoc `json:"docs"`
	} `json:"response"`
}

// searchDoc is one advancedsearch result. Archive.org is loose about
// scalar vs list values, so the polymorphic fields decode raw.
type searchDoc struct {
	Identifier  string          `json:"identifier"`
	Title       json.RawMessage `json:"title"`
	Description json.RawMessage `json:"description"`
	Year        json.RawMessage `json:"year"`
	Runtime     json.RawMessage `json:"runtime"`
	Creator     json.RawMessage `json:"creator"`
	Subject     json.RawMessage `json:"subject"`
	Downloads   int             `json:"downloads"`
	AvgRating   json.RawMessage `json:"avg_rating"`
	NumReviews  int             `json:"num_reviews"`
}

// metadataResponse is the /metadata/{id} envelope.
type metadataResponse struct {
	Metadata struct {
		Identifier  string          `json:"identifier"`
		Title       json.RawMessage `json:"title"`
		Description json.RawMessage `json:"description"`
		Year        json.RawMessage `json:"year"`
		Runtime     json.RawMessage `json:"runtime"`
		Director    json.RawMessage `json:"director"`
		Creator     json.RawMessage `json:"creator"`
		Subject     json.RawMessage `json:"subject"`
		Language    json.RawMessage `json:"language"`
	} `json:"metadata"`
	Files []metadataFile `json:"files"`
}

type metadataFile struct {
	Name   string `json:"name"`
	Format string `json:"format"`
	// Size arrives as a string in most listings and a number in some.
	Size json.Number `json:"size"`
}

// Search queries advancedsearch with the movies mediatype filter. An
// empty query matches everything, which combined with the downloads
// sort yields the provider's most popular items.
func (c *ArchiveOrgClient) Search(ctx context.Context, query string, page, limit int) ([]*media.ContentRecord, error) {
	if page < 1 {
		page = 1
	}

	q := "mediatype:movies"
	if query != "" {
		q = fmt.Sprintf("(%s) AND mediatype:movies", query)
	}

	params := url.Values{}
	params.Set("q", q)

	for _, f := range searchFields {
		params.Add("fl[]", f)
	}

	params.Set("rows", strconv.Itoa(limit))
	params.Set("page", strconv.Itoa(page))
	params.Add("sort[]", "downloads desc")
	params.Set("output", "json")

	var body searchResponse
	if err := c.getJSON(ctx, c.baseURL+"/advancedsearch.php?"+params.Encode(), &body); err != nil {
		return nil, &media.CatalogError{Provider: string(ProviderArchiveOrg), Op: "search", Err: err}
	}

	records := make([]*media.ContentRecord, 0, len(body.Response.Docs))

	for _, doc := range body.Response.Docs {
		if doc.Identifier == "" {
			continue
		}

		records = append(records, c.recordFromDoc(doc))
	}

	logctx.LoggerFromContext(ctx).Debug("catalog search completed",
		"provider", ProviderArchiveOrg, "query", query, "results", len(records))

	return records, nil
}

func (c *ArchiveOrgClient) recordFromDoc(doc searchDoc) *media.ContentRecord {
	id := doc.Identifier

	title := firstString(doc.Title)
	if title == "" {
		title = "Unknown"
	}

	return &media.ContentRecord{
		ID:             id,
		Source:         string(ProviderArchiveOrg),
		Title:          title,
		Description:    firstString(doc.Description),
		Year:           parseYear(doc.Year),
		RuntimeSeconds: parseRuntime(doc.Runtime),
		Director:       firstString(doc.Creator),
		Genres:         parseGenres(doc.Subject),
		PosterURL:      c.posterURL(id),
		CatalogURL:     c.baseURL + "/details/" + id,
		ArchiveRating:  parseFloat(doc.AvgRating),
		Torrents: map[string]media.Torrent{
			archiveQualityLabel: {
				Quality:    archiveQualityLabel,
				TorrentURL: c.torrentURL(id),
			},
		},
		Downloads:  doc.Downloads,
		NumReviews: doc.NumReviews,
	}
}

// Details fetches /metadata/{id} and resolves the payload as the
// largest file in a known video format.
func (c *ArchiveOrgClient) Details(ctx context.Context, id string) (*media.ContentRecord, error) {
	var body metadataResponse
	if err := c.getJSON(ctx, c.baseURL+"/metadata/"+url.PathEscape(id), &body); err != nil {
		return nil, &media.CatalogError{Provider: string(ProviderArchiveOrg), Op: "details", Err: err}
	}

	// The metadata endpoint answers 200 with an empty body for unknown
	// identifiers.
	if body.Metadata.Identifier == "" && len(body.Files) == 0 {
		return nil, media.ErrNotFound
	}

	md := body.Metadata

	title := firstString(md.Title)
	if title == "" {
		title = "Unknown"
	}

	director := firstString(md.Director)
	if director == "" {
		director = firstString(md.Creator)
	}

	torrent := media.Torrent{
		Quality:    archiveQualityLabel,
		TorrentURL: c.torrentURL(id),
	}

	if best, ok := largestVideoFile(body.Files); ok {
		torrent.SizeBytes, _ = best.Size.Int64()
		torrent.FileFormat = best.Format
	}

	return &media.ContentRecord{
		ID:             id,
		Source:         string(ProviderArchiveOrg),
		Title:          title,
		Description:    firstString(md.Description),
		Year:           parseYear(md.Year),
		RuntimeSeconds: parseRuntime(md.Runtime),
		Director:       director,
		Language:       firstString(md.Language),
		Genres:         parseGenres(md.Subject),
		PosterURL:      c.posterURL(id),
		CatalogURL:     c.baseURL + "/details/" + id,
		Torrents:       map[string]media.Torrent{archiveQualityLabel: torrent},
	}, nil
}

// TorrentFile downloads the packed torrent metadata for one item.
func (c *ArchiveOrgClient) TorrentFile(ctx context.Context, id string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.torrentURL(id), nil)
	if err != nil {
		return nil, &media.CatalogError{Provider: string(ProviderArchiveOrg), Op: "torrent", Err: err}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &media.CatalogError{Provider: string(ProviderArchiveOrg), Op: "torrent", Err: err}
	}

	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, media.ErrNotFound
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &media.CatalogError{
			Provider: string(ProviderArchiveOrg),
			Op:       "torrent",
			Err:      fmt.Errorf("unexpected status: %d", resp.StatusCode),
		}
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &media.CatalogError{Provider: string(ProviderArchiveOrg), Op: "torrent", Err: err}
	}

	return content, nil
}

func (c *ArchiveOrgClient) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

func (c *ArchiveOrgClient) torrentURL(id string) string {
	return fmt.Sprintf("%s/download/%s/%s_archive.torrent", c.baseURL, id, id)
}

func (c *ArchiveOrgClient) posterURL(id string) string {
	return c.baseURL + "/services/img/" + id
}

// largestVideoFile picks the biggest file in a known video format;
// larger usually means the better encode.
func largestVideoFile(files []metadataFile) (metadataFile, bool) {
	var (
		best     metadataFile
		bestSize int64 = -1
		found    bool
	)

	for _, f := range files {
		if !videoFormats[f.Format] {
			continue
		}

		size, _ := f.Size.Int64()
		if size > bestSize {
			best = f
			bestSize = size
			found = true
		}
	}

	return best, found
}
