package dispatch

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/require"
)

type echoResponse struct {
	Method        string `json:"method"`
	Path          string `json:"path"`
	ID            string `json:"id"`
	Query         string `json:"query"`
	Body          string `json:"body"`
	ContentType   string `json:"content_type"`
	Authorization string `json:"authorization"`
	Cookie        string `json:"cookie"`
	RequestID     string `json:"request_id"`
	RemoteAddr    string `json:"remote_addr"`
}

// newEchoRouter returns a router that reflects what it received.
func newEchoRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)

	echo := func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(echoResponse{
			Method:        r.Method,
			Path:          r.URL.Path,
			ID:            chi.URLParam(r, "id"),
			Query:         r.URL.RawQuery,
			Body:          string(body),
			ContentType:   r.Header.Get("Content-Type"),
			Authorization: r.Header.Get("Authorization"),
			Cookie:        r.Header.Get("Cookie"),
			RequestID:     chimiddleware.GetReqID(r.Context()),
			RemoteAddr:    r.RemoteAddr,
		})
	}

	r.Post("/webhook", echo)
	r.Get("/items/{id}", echo)
	r.Put("/items/{id}", echo)
	r.Get("/text", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("plain"))
	})
	r.Get("/binary", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte{0xff, 0xfe, 0x00})
	})
	r.Get("/cookies", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "a", Value: "1"})
		http.SetCookie(w, &http.Cookie{Name: "b", Value: "2"})
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("router exploded")
	})
	return r
}

func decodeEcho(t *testing.T, body string) echoResponse {
	t.Helper()
	var echo echoResponse
	require.NoError(t, json.Unmarshal([]byte(body), &echo))
	return echo
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
