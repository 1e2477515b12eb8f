package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// newCheckOrigin returns a CheckOrigin function for the websocket upgrader.
// It allows empty origins (non-browser clients) and the app's own origin
// (derived from appURL). When isDevelopment is true, localhost origins are
// additionally allowed.
func newCheckOrigin(appURL string, isDevelopment bool) func(r *http.Request) bool {
	appOrigin := extractOrigin(appURL)

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		if origin == "" {
			return true
		}

		if origin == appOrigin {
			return true
		}

		if isDevelopment && isLocalhostOrigin(origin) {
			return true
		}

		slog.Warn("WebSocket origin rejected", "origin", origin, "remote_addr", r.RemoteAddr)
		return false
	}
}

func extractOrigin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func isLocalhostOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1"
}

func isDevelopment(appEnv string) bool {
	return !strings.EqualFold(appEnv, "production")
}
