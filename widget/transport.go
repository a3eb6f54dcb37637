package widget

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
)

// maxBodyBytes bounds a visitors response; 100 points fit comfortably.
const maxBodyBytes = 1 << 20

// HTTPTransport implements Transport with net/http, which the js/wasm
// runtime maps onto the browser's fetch.
type HTTPTransport struct {
	Client *http.Client
	// Header is added to every request. The js/wasm build uses it for
	// js.fetch:* options.
	Header http.Header
	// KeepalivePost, when set, carries PostJSON instead of net/http. The
	// js/wasm build uses fetch with keepalive so a report survives the page
	// being unloaded.
	KeepalivePost func(ctx context.Context, url string, body []byte) error
}

func (t *HTTPTransport) client() *http.Client {
	if t.Client != nil {
		return t.Client
	}
	return http.DefaultClient
}

func (t *HTTPTransport) do(req *http.Request) ([]byte, error) {
	for k, vs := range t.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := t.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read_error: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("http_%d", resp.StatusCode)
	}
	return body, nil
}

func (t *HTTPTransport) GetJSON(ctx context.Context, url string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	body, err := t.do(req)
	if err != nil {
		return nil, err
	}

	out := map[string]any{}
	if len(bytes.TrimSpace(body)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("json_parse_error: %w", err)
	}
	return out, nil
}

func (t *HTTPTransport) PostJSON(ctx context.Context, url string, body []byte) error {
	if t.KeepalivePost != nil {
		return t.KeepalivePost(ctx, url, body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	_, err = t.do(req)
	return err
}
