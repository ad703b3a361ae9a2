// Package config handles configuration loading for the chat platform.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults. The chat server and
// the auth server share one file; each binary reads the sections it needs.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from CHAT_CONFIG environment variable
//  2. ./config.yaml (current directory)
//  3. ~/.config/chatplatphorm/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${CHAT_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	auth:
//	  access_token_ttl: "15m"
//	  refresh_token_ttl: "720h"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: ":8081"  # chat server: REST API and WebSocket
//	  auth_addr: ":8080"  # auth server: accounts and tokens
//
// Message store:
//
//	scylla:
//	  hosts: ["127.0.0.1:9042"]
//	  keyspace: "chat"
//	  replication_factor: 1
//
// Event bus:
//
//	kafka:
//	  brokers: ["127.0.0.1:9092"]
//	  topic: "chat_messages"
//	  group_id: "chat-service-group-v1"
//
// Accounts:
//
//	postgres:
//	  url: "${CHAT_POSTGRES_URL}"
//	redis:
//	  url: "redis://127.0.0.1:6379/0"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/chatplatphorm/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
