package main

import (
	"net/http"

	"github.com/angeloszaimis/edge-proxy/internal/admin"
	"github.com/angeloszaimis/edge-proxy/pkg/logger"
)

// setupAdmin builds the admin API over the live components of a.
func setupAdmin(a *app) http.Handler {
	return admin.NewRouter(admin.Deps{
		Cache:     a.cache,
		Endpoints: a.stats,
		Health:    a.health,
		Mapper:    a.mapper,
		Certs:     a.certs,
		Metrics:   a.collector,
		Logger:    logger.Component(a.logger, "admin"),
	})
}
