package main

import (
	"net/http"

	"admission-gateway/middleware/pipeline"

	"github.com/go-chi/chi/v5"
)

// Headers repassados ao upstream. Os de entrada são descartados para que o
// cliente não consiga se passar por outro usuário.
const (
	upstreamUserHeader    = "X-User-ID"
	upstreamRoleHeader    = "X-User-Role"
	upstreamAccountHeader = "X-Account-ID"
)

type apiRoute struct {
	pattern string
	route   pipeline.Route
}

// apiRoutes mapeia cada família de rotas do dashboard para seus estágios.
var apiRoutes = []apiRoute{
	{"/api/auth/*", pipeline.Route{Endpoint: "auth"}},
	{"/api/chat/*", pipeline.Route{Endpoint: "chat", Auth: pipeline.AuthRequired, RequireSubscription: true}},
	{"/api/documents/*", pipeline.Route{Endpoint: "documents", Auth: pipeline.AuthRequired, RequireSubscription: true}},
	{"/api/tenders/*", pipeline.Route{Endpoint: "tenders", Auth: pipeline.AuthOptional}},
	{"/api/monitoring/*", pipeline.Route{Endpoint: "monitoring", Auth: pipeline.AuthRequired}},
	{"/api/admin/*", pipeline.Route{Endpoint: "default", Roles: []string{"admin"}}},
	{"/api/webhooks/*", pipeline.Route{Endpoint: "webhook"}},
	{"/*", pipeline.Route{Endpoint: "default", Auth: pipeline.AuthOptional}},
}

func mountRoutes(r chi.Router, p *pipeline.Pipeline, upstream http.Handler) {
	h := forwardIdentity(upstream)
	for _, ar := range apiRoutes {
		r.Handle(ar.pattern, p.Wrap(ar.route, h))
	}
}

func forwardIdentity(upstream http.Handler) pipeline.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		r.Header.Del(upstreamUserHeader)
		r.Header.Del(upstreamRoleHeader)
		r.Header.Del(upstreamAccountHeader)
		if s := pipeline.SessionFromContext(r.Context()); s != nil {
			r.Header.Set(upstreamUserHeader, s.UserID)
			r.Header.Set(upstreamRoleHeader, s.Role)
			r.Header.Set(upstreamAccountHeader, s.AccountID)
		}
		r.Header.Set(pipeline.HeaderRequestID, pipeline.RequestIDFromContext(r.Context()))
		upstream.ServeHTTP(w, r)
		return nil
	}
}
