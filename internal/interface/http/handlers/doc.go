// Package handlers contains reusable pieces of the Roomies Hub HTTP API:
// health checks and middleware.
//
// # Health Checks
//
// Named checks are executed in parallel. Critical checks decide readiness;
// optional checks (the Redis analytics cache) only mark the service degraded,
// since analytics fall back to the in-process cache:
//
//	checker := handlers.NewCompositeHealthChecker("v1.0.0")
//	checker.AddCheck("database", conn.Ping)
//	checker.AddOptionalCheck("cache", cache.Ping)
//
//	status := checker.Check(ctx)
//
// # Middleware
//
//	auth := handlers.NewAPIKeyAuth("X-API-Key", cfg.HTTP.APIKeys)
//	handler := handlers.ChainHandler(
//	    mutations,
//	    handlers.SecurityHeadersMiddleware,
//	    handlers.RequestSizeLimitMiddleware(64<<10),
//	    auth.Middleware,
//	)
package handlers
