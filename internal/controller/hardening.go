package controller

import (
	"regexp"
)

// ValidResourceTypes is the whitelist of resource types the controller
// accepts from external callers. Triggers arriving through the API layer are
// checked against it before they reach the queue.
var ValidResourceTypes = map[ResourceType]bool{
	ResourceTypeMCPServer:     true,
	ResourceTypeMCPServerPool: true,
}

// IsValidResourceType reports whether a caller-supplied resource type names a
// reconcilable kind. The check is case-sensitive: kinds are proper nouns.
func IsValidResourceType(resourceType string) bool {
	return ValidResourceTypes[ResourceType(resourceType)]
}

// Patterns for values that must not leak into CRD status fields or events.
// Status subresources are world-readable in most clusters, so error strings
// are scrubbed before they are stored.
var (
	// bearerTokenPattern matches bearer credentials in auth error messages.
	bearerTokenPattern = regexp.MustCompile(`(?i)(bearer)\s+[A-Za-z0-9._~+/=-]+`)

	// credentialPattern matches key=value pairs whose key names a secret.
	credentialPattern = regexp.MustCompile(`(?i)\b(password|passwd|pwd|apikey|api_key|api-key|token|secret)=\S+`)

	// base64RunPattern matches long base64-looking runs, which are usually
	// encoded tokens or keys rather than prose.
	base64RunPattern = regexp.MustCompile(`[A-Za-z0-9+/_-]{40,}={0,2}`)

	// absolutePathPattern matches multi-segment absolute filesystem paths.
	// Single-segment paths like /tmp stay, they carry no layout information.
	absolutePathPattern = regexp.MustCompile(`(?:/[\w.~-]+){2,}/?`)
)

// SanitizeErrorMessage scrubs an error message of credentials and filesystem
// layout before it is recorded on a status field or event.
//
// Plain messages pass through unchanged, including dotted Kubernetes
// identifiers such as `MCPServer.corral.giantswarm.io "git-tools" not found`.
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Order matters: bearer tokens first so their short segments are caught
	// even below the base64 length floor, then named credentials so the key
	// survives with the value redacted, then everything that still looks like
	// encoded secret material, then paths.
	msg = bearerTokenPattern.ReplaceAllString(msg, "${1} [redacted]")
	msg = credentialPattern.ReplaceAllString(msg, "${1}=[redacted]")
	msg = base64RunPattern.ReplaceAllString(msg, "[redacted]")
	msg = absolutePathPattern.ReplaceAllString(msg, "[path]")

	return msg
}
