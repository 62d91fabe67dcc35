// Package config loads and validates corral's runtime configuration.
//
// Configuration lives in a single config.yaml inside a configuration
// directory, by default ~/.config/corral. Every field has a default, so an
// empty or missing file yields a working configuration. The file covers two
// sections:
//
//	namespace: default
//	controller:
//	  workers: 2
//	  maxRetries: 5
//	bridge:
//	  port: 8090
//	  maxSessions: 1000
//
// Interval and timeout values are integers in seconds. The CORRAL_NAMESPACE
// environment variable overrides the namespace regardless of file content,
// which is how in-cluster deployments point corral at their own namespace via
// the downward API.
package config
