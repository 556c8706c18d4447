// Package logger provides structured logging for the gateway using zerolog.
//
// It supports console and JSON output, level configuration, and
// component-scoped loggers carrying structured fields.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
//
// # Usage
//
//	log := logger.WithComponent("dispatcher")
//	log.Info("request proxied", logger.Fields("route", "orders", "status", 200))
package logger
