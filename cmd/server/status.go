package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/erain9/tickbook/pkg/core"
	"github.com/erain9/tickbook/pkg/otel"
	"github.com/erain9/tickbook/pkg/server"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const defaultDepthLevels = 10

// newStatusHandler serves the read-only views of the running books:
//
//	GET /                          every book's Info
//	GET /quote?book=NAME           top of book
//	GET /depth?book=NAME&levels=N  aggregated levels per side
func newStatusHandler(manager *server.OrderBookManager, defaultBook string, logger zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, manager.ListOrderBooks(r.Context()))
	})

	mux.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		book, ok := lookupBook(w, r, manager, defaultBook)
		if !ok {
			return
		}
		quote, err := book.Quote(r.Context())
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		writeJSON(w, http.StatusOK, quote)
	})

	mux.HandleFunc("/depth", func(w http.ResponseWriter, r *http.Request) {
		book, ok := lookupBook(w, r, manager, defaultBook)
		if !ok {
			return
		}
		levels := defaultDepthLevels
		if s := r.URL.Query().Get("levels"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, errors.New("levels must be a non-negative integer"))
				return
			}
			levels = n
		}

		bids, err := book.Depth(r.Context(), core.Buy, levels)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		asks, err := book.Depth(r.Context(), core.Sell, levels)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Book string            `json:"book"`
			Bids []core.LevelDepth `json:"bids"`
			Asks []core.LevelDepth `json:"asks"`
		}{book.Name(), bids, asks})
	})

	return withRequestLogger(mux, logger)
}

func lookupBook(w http.ResponseWriter, r *http.Request, manager *server.OrderBookManager, defaultBook string) (*server.BookServer, bool) {
	name := r.URL.Query().Get("book")
	if name == "" {
		name = defaultBook
	}
	book, err := manager.GetOrderBook(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return nil, false
	}
	return book, true
}

func withRequestLogger(next http.Handler, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logger.With().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Logger()
		reqLogger.Debug().Msg("HTTP request")

		ctx := otel.ExtractHTTP(r.Context(), r.Header)
		ctx, span := otel.StartOrderSpan(ctx, otel.SpanStatusQuery,
			attribute.String(otel.AttributeHTTPPath, r.URL.Path))
		defer span.End()

		next.ServeHTTP(w, r.WithContext(reqLogger.WithContext(ctx)))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
