package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
)

const maxDeployBody = 1 << 20

// Credentials verifies caller tokens and exposes the live token.
type Credentials interface {
	Verify(candidate string) bool
	Token() string
}

// requireAPIKey accepts a bearer header or an "api_key" field in the JSON
// body. A well-formed bearer header wins over the body.
func (r *Router) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		token, err := bearerToken(req.Header.Get("Authorization"))
		if err != nil {
			token = bodyAPIKey(req)
		}
		if !r.creds.Verify(token) {
			r.logger.Warn("authentication failed", "ip", remoteHost(req), "path", req.URL.Path)
			writeFailure(w, http.StatusUnauthorized, "invalid API key", "")
			return
		}
		next(w, req)
	}
}

// requireStreamKey accepts a bearer header or an "api_key" query parameter,
// since browsers cannot set headers on websocket upgrades.
func (r *Router) requireStreamKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		token, err := bearerToken(req.Header.Get("Authorization"))
		if err != nil {
			token = req.URL.Query().Get("api_key")
		}
		if !r.creds.Verify(token) {
			r.logger.Warn("authentication failed", "ip", remoteHost(req), "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next(w, req)
	}
}

// bearerToken requires the literal "Bearer " prefix and returns the rest
// untouched, so the comparison stays byte-for-byte.
func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("missing authorization header")
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", errors.New("invalid authorization header format")
	}
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}

// bodyAPIKey reads api_key from a JSON body and restores the body for the
// next handler. Malformed or non-object bodies yield no key.
func bodyAPIKey(req *http.Request) string {
	if req.Body == nil {
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(req.Body, maxDeployBody))
	_ = req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil || len(bytes.TrimSpace(data)) == 0 {
		return ""
	}
	var payload struct {
		APIKey string `json:"api_key"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return ""
	}
	return payload.APIKey
}

// remoteHost is the transport peer address. Forwarding headers are ignored.
func remoteHost(req *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func isLoopback(req *http.Request) bool {
	ip := net.ParseIP(remoteHost(req))
	return ip != nil && ip.IsLoopback()
}
