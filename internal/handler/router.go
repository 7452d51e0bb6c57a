package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"table-access-service/config"
)

// NewRouter はルーターを生成する。
func NewRouter(h *TokenHandler, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	// ミドルウェア
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)

	// ルート定義
	r.Route("/v1/tables/{table_name}", func(r chi.Router) {
		r.Post("/sas", h.IssueToken)
		r.Get("/tokens", h.ListTokens)
		r.Route("/policies", func(r chi.Router) {
			r.Post("/", h.CreatePolicy)
			r.Get("/", h.ListPolicies)
			r.Get("/{identifier}", h.GetPolicy)
			r.Delete("/{identifier}", h.RevokePolicy)
		})
	})

	// トレーシング有効時はHTTPサーバー全体を計装する
	if cfg != nil && cfg.OtelEnabled {
		return otelhttp.NewHandler(r, cfg.OtelServiceName)
	}
	return r
}
