package stampwatch

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// JoinURL joins a base URL with additional path segments, handling leading/trailing slashes correctly.
func JoinURL(base string, paths ...string) string {
	// credits: https://stackoverflow.com/a/57220413
	p := path.Join(paths...)
	return fmt.Sprintf("%s/%s", strings.TrimRight(base, "/"), strings.TrimLeft(p, "/"))
}

// WebsocketURL turns an http(s) API base URL into the ws(s) URL of the
// given endpoint below it.
func WebsocketURL(base string, paths ...string) (string, error) {
	u, err := url.Parse(JoinURL(base, paths...))
	if err != nil {
		return "", fmt.Errorf("parse %q: %w: %w", base, err, ErrFatal)
	}

	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q: %w", u.Scheme, ErrFatal)
	}

	return u.String(), nil
}
