// Package transport implements statereader.DataFetcher against a real
// backing-store HTTP endpoint.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/statefetch/reader/pkg/log"
	"github.com/statefetch/reader/statereader"
)

// HTTPFetcher is an HTTP-backed statereader.DataFetcher. It posts the
// composite WireRequest as JSON to a single query endpoint and decodes the
// composite WireResponse in return, the same request/response-per-call
// shape the metric store client uses for its own query API.
type HTTPFetcher struct {
	client        http.Client
	jwt           string
	queryEndpoint string
}

// NewHTTPFetcher constructs a fetcher against baseURL's "/api/fetch"
// endpoint. token is sent as a bearer credential; pass "" if the backing
// store has no auth configured.
func NewHTTPFetcher(baseURL, token string) *HTTPFetcher {
	return &HTTPFetcher{
		queryEndpoint: fmt.Sprintf("%s/api/fetch", baseURL),
		jwt:           token,
		client: http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// GetData implements statereader.DataFetcher.
func (f *HTTPFetcher) GetData(ctx context.Context, req *statereader.WireRequest) (*statereader.WireResponse, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(req); err != nil {
		log.Errorf("transport: error while encoding request body: %s", err.Error())
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.queryEndpoint, buf)
	if err != nil {
		log.Errorf("transport: error while building request: %s", err.Error())
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if f.jwt != "" {
		httpReq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", f.jwt))
	}

	res, err := f.client.Do(httpReq)
	if err != nil {
		log.Errorf("transport: error while performing request: %s", err.Error())
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("'%s': HTTP status: %s", f.queryEndpoint, res.Status)
	}

	var resBody statereader.WireResponse
	if err := json.NewDecoder(bufio.NewReader(res.Body)).Decode(&resBody); err != nil {
		log.Errorf("transport: error while decoding response body: %s", err.Error())
		return nil, err
	}

	return &resBody, nil
}
