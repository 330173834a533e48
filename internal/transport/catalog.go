package transport

import (
	"context"
	"fmt"

	"go.uber.org/ratelimit"

	"github.com/agentstation/catsync/pkg/constants"
	"github.com/agentstation/catsync/pkg/entity"
	"github.com/agentstation/catsync/pkg/errors"
	"github.com/agentstation/catsync/pkg/logging"
)

// Catalog is an entity.RemoteCatalog served over the catalog HTTP API:
//
//	GET  {base}/catalogs/{id}/items?page_size=N&page_token=T
//	POST {base}/catalogs/{id}/items          {"values": [...]} -> {"id": "..."}
//	PUT  {base}/catalogs/{id}/items/{item}   {"values": [...]}
type Catalog struct {
	client   *Client
	builder  *RequestBuilder
	pageSize int
	limiter  ratelimit.Limiter
}

var _ entity.RemoteCatalog = (*Catalog)(nil)

// CatalogOption configures a Catalog.
type CatalogOption func(*Catalog)

// WithClient sets the transport client.
func WithClient(c *Client) CatalogOption {
	return func(cat *Catalog) {
		cat.client = c
	}
}

// WithPageSize sets the snapshot page size, clamped to the API maximum.
func WithPageSize(n int) CatalogOption {
	return func(cat *Catalog) {
		switch {
		case n <= 0:
			cat.pageSize = constants.DefaultPageSize
		case n > constants.MaxPageSize:
			cat.pageSize = constants.MaxPageSize
		default:
			cat.pageSize = n
		}
	}
}

// WithWriteRate limits creates and updates to perSecond calls. Zero or less
// disables limiting.
func WithWriteRate(perSecond int) CatalogOption {
	return func(cat *Catalog) {
		if perSecond <= 0 {
			cat.limiter = ratelimit.NewUnlimited()
			return
		}
		cat.limiter = ratelimit.New(perSecond)
	}
}

// NewCatalog returns a Catalog rooted at baseURL.
func NewCatalog(baseURL string, opts ...CatalogOption) (*Catalog, error) {
	if baseURL == "" {
		return nil, errors.NewValidationError("remote.url", baseURL, "remote URL is required")
	}
	cat := &Catalog{
		client:   New(),
		builder:  NewRequestBuilder(baseURL),
		pageSize: constants.DefaultPageSize,
		limiter:  ratelimit.New(constants.DefaultWriteRate),
	}
	for _, opt := range opts {
		opt(cat)
	}
	return cat, nil
}

type itemPayload struct {
	ID      string   `json:"id"`
	Values  []string `json:"values"`
	Deleted bool     `json:"deleted,omitempty"`
}

// pagePayload is one snapshot page. Items is a pointer so a page without
// an items field can be told apart from an empty catalog.
type pagePayload struct {
	Items         *[]itemPayload `json:"items"`
	NextPageToken string        `json:"next_page_token,omitempty"`
}

type writePayload struct {
	Values []string `json:"values"`
}

type createdPayload struct {
	ID string `json:"id"`
}

// FetchSnapshot implements entity.RemoteCatalog. It follows page tokens
// until the last page; a failure on any page fails the whole fetch.
func (c *Catalog) FetchSnapshot(ctx context.Context, catalogID string) ([]entity.RemoteRecord, error) {
	var (
		rows  []entity.RemoteRecord
		token string
		seen  = make(map[string]bool)
	)
	for page := 0; ; page++ {
		if page >= constants.MaxSnapshotPages {
			return nil, errors.WrapTransport(catalogID, "fetch snapshot",
				fmt.Errorf("exceeded %d pages", constants.MaxSnapshotPages))
		}

		resp, err := c.client.Get(ctx, c.builder.ItemsURL(catalogID, c.pageSize, token))
		if err != nil {
			return nil, errors.WrapTransport(catalogID, "fetch snapshot", err)
		}
		var body pagePayload
		if err := DecodeResponse(resp, catalogID, &body); err != nil {
			return nil, errors.WrapTransport(catalogID, "fetch snapshot", err)
		}
		// A page without an items field is malformed, not an empty catalog.
		if body.Items == nil {
			return nil, errors.WrapTransport(catalogID, "fetch snapshot",
				errors.NewParseError("json", "response", fmt.Sprintf("page %d has no items field", page+1), nil))
		}

		for i, item := range *body.Items {
			if item.ID == "" {
				return nil, errors.WrapTransport(catalogID, "fetch snapshot",
					errors.NewParseError("json", "response", fmt.Sprintf("page %d item %d has no id", page+1, i), nil))
			}
			rows = append(rows, entity.RemoteRecord{
				ExternalID: item.ID,
				Values:     item.Values,
				Deleted:    item.Deleted,
			})
		}

		if body.NextPageToken == "" {
			break
		}
		if seen[body.NextPageToken] {
			return nil, errors.WrapTransport(catalogID, "fetch snapshot",
				fmt.Errorf("page token %q repeated", body.NextPageToken))
		}
		seen[body.NextPageToken] = true
		token = body.NextPageToken
	}

	logging.FromContext(ctx).Debug().
		Str("catalog", catalogID).
		Int("rows", len(rows)).
		Msg("fetched remote snapshot")
	return rows, nil
}

// CreateItem implements entity.RemoteCatalog.
func (c *Catalog) CreateItem(ctx context.Context, catalogID string, values []string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	body, err := EncodeBody(writePayload{Values: values})
	if err != nil {
		return "", err
	}
	resp, err := c.client.Post(ctx, c.builder.ItemsURL(catalogID, 0, ""), body)
	if err != nil {
		return "", errors.WrapTransport(catalogID, "create item", err)
	}

	var created createdPayload
	if err := DecodeResponse(resp, catalogID, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", errors.NewParseError("json", "response", "create response has no id", nil)
	}
	return created.ID, nil
}

// UpdateItem implements entity.RemoteCatalog.
func (c *Catalog) UpdateItem(ctx context.Context, catalogID, externalID string, values []string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	body, err := EncodeBody(writePayload{Values: values})
	if err != nil {
		return err
	}
	resp, err := c.client.Put(ctx, c.builder.ItemURL(catalogID, externalID), body)
	if err != nil {
		return errors.WrapTransport(catalogID, "update item", err)
	}
	return DecodeResponse(resp, catalogID, nil)
}

// wait blocks for a write slot, then reports cancellation.
func (c *Catalog) wait(ctx context.Context) error {
	c.limiter.Take()
	return ctx.Err()
}
