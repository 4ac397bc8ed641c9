// Package middleware provides dispatch middleware for socksync servers.
//
// # OpenTelemetry Middleware
//
// The OpenTelemetry middleware traces every inbound command. Span names
// follow "socksync.<kind>.<func>", for example "socksync.list.insert", and
// spans carry the group name, kind, command and connection id.
//
//	srv.Use(middleware.OpenTelemetry(
//	    middleware.WithTracerName("my-app"),
//	    middleware.WithFilter(func(msg protocol.Message) bool {
//	        return msg.Func() != protocol.FuncGet
//	    }),
//	))
//
// # Prometheus Metrics
//
// The Prometheus middleware collects:
//   - socksync_commands_total: commands processed by kind, func and status
//   - socksync_command_duration_seconds: command processing duration
//
// RegisterServerMetrics adds scrape-time gauges and counters read from a
// Server, such as socksync_active_connections.
//
//	reg := prometheus.NewRegistry()
//	srv.Use(middleware.Prometheus(middleware.WithRegistry(reg)))
//	middleware.RegisterServerMetrics(srv, middleware.WithRegistry(reg))
//
// Then serve the registry through the server's metrics endpoint:
//
//	cfg.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
package middleware
