package channel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
)

// DefaultReadLimit is large enough for base64 encoded speech chunks.
const DefaultReadLimit = 32 << 20

// WebsocketDialer connects using the websocket protocol.
type WebsocketDialer struct {
	HTTPClient *http.Client
	ReadLimit  int64
}

func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
	})
	if err != nil {
		return nil, err
	}

	limit := d.ReadLimit
	if limit == 0 {
		limit = DefaultReadLimit
	}
	conn.SetReadLimit(limit)

	return conn, nil
}

// WebsocketURL derives the websocket endpoint from the backend's base URL.
// The scheme is upgraded to wss for https URLs.
func WebsocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q, expected http(s) or ws(s)", u.Scheme)
	}

	if u.Host == "" {
		return "", fmt.Errorf("server url %q does not specify a host", serverURL)
	}

	if !strings.HasSuffix(u.Path, "/ws") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	}

	return u.String(), nil
}
