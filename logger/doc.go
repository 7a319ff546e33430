// Package logger provides structured logging for meshkit binaries
// using zerolog.
//
// It supports JSON and console output, level configuration, and
// component-scoped loggers with structured map fields.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
//
// # Usage
//
//	log := logger.GetGlobalLogger().WithComponent("registry")
//	log.Info("instance registered", logger.InstanceFields("user-service", "i1"))
package logger
