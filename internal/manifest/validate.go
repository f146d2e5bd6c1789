package manifest

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	adapterIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{1,63}$`)
	actionNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_!_]{1,63}$`)
	bindingPattern    = regexp.MustCompile(`^[A-Z][A-Z0-9_]{1,127}$`)
)

// ValidationResult is the outcome of Validate: either an accepted,
// normalized manifest, or a list of human-readable error strings.
type ValidationResult struct {
	OK     bool
	Errors []string
}

// Validate enforces every constraint in the data model: field shapes,
// numeric bounds, secret-binding consistency, and the resolved-URL
// host allow-list. It is pure — no I/O, no store, no network — so
// proposal submission, apply, and any pre-flight caller share one
// implementation.
func Validate(m *Manifest) ValidationResult {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if !adapterIDPattern.MatchString(m.ID) {
		add("id %q does not match required pattern", m.ID)
	}
	if m.Revision <= 0 {
		add("revision must be a positive integer, got %d", m.Revision)
	}
	if len(m.Description) > 280 {
		add("description must be at most 280 characters, got %d", len(m.Description))
	}

	baseURL, err := url.Parse(m.BaseURL)
	if err != nil || baseURL.Scheme != "https" || baseURL.Host == "" {
		add("baseUrl must be an absolute HTTPS URL, got %q", m.BaseURL)
		baseURL = nil
	}

	allowed := make(map[string]bool, len(m.AllowedHosts))
	for _, h := range m.AllowedHosts {
		lh := strings.ToLower(h)
		if lh != h {
			add("allowedHosts entry %q must be lowercase", h)
		}
		if strings.Contains(lh, "*") {
			add("allowedHosts entry %q must not contain wildcards", h)
		}
		allowed[lh] = true
	}
	if baseURL != nil && !allowed[strings.ToLower(baseURL.Host)] {
		add("allowedHosts must include baseUrl's host %q", baseURL.Host)
	}

	requiredSecrets := make(map[string]bool, len(m.RequiredSecrets))
	for _, b := range m.RequiredSecrets {
		if !bindingPattern.MatchString(b) {
			add("requiredSecrets entry %q does not match required pattern", b)
		}
		requiredSecrets[b] = true
	}

	if len(m.Actions) == 0 {
		add("manifest must declare at least one action")
	}
	for name, action := range m.Actions {
		prefix := fmt.Sprintf("action %q", name)
		if !actionNamePattern.MatchString(name) {
			add("%s: name does not match required pattern", prefix)
		}
		validateAction(prefix, action, baseURL, allowed, requiredSecrets, add)
	}

	return ValidationResult{OK: len(errs) == 0, Errors: errs}
}

func validateAction(prefix string, a Action, baseURL *url.URL, allowedHosts, requiredSecrets map[string]bool, add func(string, ...any)) {
	switch a.Method {
	case MethodGET, MethodPOST:
	default:
		add("%s: method must be GET or POST, got %q", prefix, a.Method)
	}

	switch a.RequestMode {
	case RequestModeQuery, RequestModeJSON:
	default:
		add("%s: requestMode must be query or json, got %q", prefix, a.RequestMode)
	}

	if a.Path == "" || (!strings.HasPrefix(a.Path, "/") && !strings.Contains(a.Path, "://")) {
		add("%s: path must start with / or be an absolute URL", prefix)
	} else if baseURL != nil {
		resolved, err := baseURL.Parse(a.Path)
		if err != nil {
			add("%s: path does not resolve against baseUrl: %v", prefix, err)
		} else {
			if resolved.Scheme != "https" {
				add("%s: resolved URL must be HTTPS, got %q", prefix, resolved.Scheme)
			}
			host := strings.ToLower(resolved.Host)
			if !allowedHosts[host] {
				add("%s: resolved host %q not in allowedHosts", prefix, host)
			}
		}
	}

	switch a.Auth.Placement {
	case AuthPlacementHeader, AuthPlacementQuery:
	default:
		add("%s: auth.placement must be header or query, got %q", prefix, a.Auth.Placement)
	}
	if a.Auth.Name == "" {
		add("%s: auth.name must be non-empty", prefix)
	}
	if a.Auth.SecretBinding == "" {
		add("%s: auth.secretBinding must be non-empty", prefix)
	} else if !requiredSecrets[a.Auth.SecretBinding] {
		add("%s: auth.secretBinding %q must appear in requiredSecrets", prefix, a.Auth.SecretBinding)
	}

	if a.Limits.MaxBodyKb <= 0 || a.Limits.MaxBodyKb > 1024 {
		add("%s: limits.maxBodyKb must be in (0, 1024], got %d", prefix, a.Limits.MaxBodyKb)
	}
	if a.Limits.TimeoutMs <= 0 || a.Limits.TimeoutMs > 120000 {
		add("%s: limits.timeoutMs must be in (0, 120000], got %d", prefix, a.Limits.TimeoutMs)
	}
	if a.Limits.RatePerMinute <= 0 || a.Limits.RatePerMinute > 100000 {
		add("%s: limits.ratePerMinute must be in (0, 100000], got %d", prefix, a.Limits.RatePerMinute)
	}

	if a.InputSchema.Type != "" && a.InputSchema.Type != "object" {
		add("%s: inputSchema.type must be object, got %q", prefix, a.InputSchema.Type)
	}
	for propName, prop := range a.InputSchema.Properties {
		pprefix := fmt.Sprintf("%s: inputSchema.properties.%s", prefix, propName)
		switch prop.Type {
		case PropertyString, PropertyInteger, PropertyNumber, PropertyBoolean:
		default:
			add("%s: type must be string, integer, number, or boolean, got %q", pprefix, prop.Type)
		}
		if prop.MinLength != nil && *prop.MinLength < 0 {
			add("%s: minLength must be >= 0", pprefix)
		}
		if prop.MaxLength != nil && prop.MinLength != nil && *prop.MaxLength < *prop.MinLength {
			add("%s: maxLength must be >= minLength", pprefix)
		}
		if prop.Minimum != nil && prop.Maximum != nil && *prop.Maximum < *prop.Minimum {
			add("%s: maximum must be >= minimum", pprefix)
		}
	}
	for _, req := range a.InputSchema.Required {
		if _, ok := a.InputSchema.Properties[req]; !ok {
			add("%s: required entry %q is not a declared property", prefix, req)
		}
	}
}
