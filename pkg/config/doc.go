// Package config loads cadplug configuration.
//
// Values come from built-in defaults, then an optional YAML file, then
// CADPLUG_* environment variables, each layer overriding the previous one.
//
//	log:
//	  level: debug
//	  format: json
//	build:
//	  runner: docker          # local or docker
//	  docker_image: node:20-alpine
//	  timeout: 10m
//	verifier:
//	  inbox_dir: /var/lib/cadplug/inbox
//	  debounce: 500ms
//	  rescan_schedule: "@every 1h"
//	ledger:
//	  driver: postgres        # sqlite3 or postgres
//	  dsn: postgres://cadplug@localhost/cadplug?sslmode=disable
//	server:
//	  addr: ":8080"
//
// Environment overrides:
//
//	CADPLUG_CONFIG=/etc/cadplug/config.yaml
//	CADPLUG_LOG_LEVEL=debug
//	CADPLUG_BUILD_RUNNER=docker
//	CADPLUG_INBOX_DIR=/var/lib/cadplug/inbox
//	CADPLUG_LEDGER_DRIVER=postgres
//	CADPLUG_LEDGER_DSN=postgres://...
//	CADPLUG_HTTP_ADDR=:8080
//	CADPLUG_OTEL_ENABLED=true
package config
