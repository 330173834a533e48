package transport

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/agentstation/catsync/pkg/errors"
	"github.com/agentstation/catsync/pkg/logging"
)

// RequestBuilder builds catalog API URLs from a base URL.
type RequestBuilder struct {
	baseURL string
}

// NewRequestBuilder creates a new request builder. Trailing slashes on the
// base URL are ignored.
func NewRequestBuilder(baseURL string) *RequestBuilder {
	return &RequestBuilder{baseURL: strings.TrimRight(baseURL, "/")}
}

// BaseURL returns the normalized base URL.
func (rb *RequestBuilder) BaseURL() string {
	return rb.baseURL
}

// ItemsURL returns the URL of a catalog's item collection. A zero page size
// or empty token is omitted.
func (rb *RequestBuilder) ItemsURL(catalogID string, pageSize int, pageToken string) string {
	u := rb.baseURL + "/catalogs/" + url.PathEscape(catalogID) + "/items"
	query := url.Values{}
	if pageSize > 0 {
		query.Set("page_size", strconv.Itoa(pageSize))
	}
	if pageToken != "" {
		query.Set("page_token", pageToken)
	}
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// ItemURL returns the URL of a single catalog item.
func (rb *RequestBuilder) ItemURL(catalogID, itemID string) string {
	return rb.baseURL + "/catalogs/" + url.PathEscape(catalogID) + "/items/" + url.PathEscape(itemID)
}

// EncodeBody marshals v as a JSON request body.
func EncodeBody(v any) (io.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.WrapParse("json", "request", err)
	}
	return bytes.NewReader(data), nil
}

// DecodeResponse decodes a JSON response into target. Any non-2xx status
// becomes an *errors.APIError for catalog. A nil target discards the body.
func DecodeResponse(resp *http.Response, catalog string, target any) error {
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logging.Warn().Err(err).Msg("failed to close response body")
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.WrapIO("read", "response body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := errors.NewAPIError(catalog, resp.StatusCode, apiMessage(body, resp.Status))
		if resp.Request != nil && resp.Request.URL != nil {
			apiErr.Endpoint = resp.Request.URL.Path
		}
		return apiErr
	}

	if target == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, target); err != nil {
		return errors.WrapParse("json", "response", err)
	}
	return nil
}

// apiMessage extracts {"error": "..."} or {"message": "..."} from an error
// body, falling back to the raw body or the status line.
func apiMessage(body []byte, status string) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		switch {
		case payload.Error != "":
			return payload.Error
		case payload.Message != "":
			return payload.Message
		}
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return msg
	}
	return status
}
