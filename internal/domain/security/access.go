package security

// Denial reasons returned by Validate.
const (
	ReasonBlocked        = "blocked by policy"
	ReasonNotInAllowlist = "not in allowlist"
)

// AccessOptions are the per-call switches that influence validation.
type AccessOptions struct {
	// AllowBlocked lets a blocklisted tool through. The allowlist still applies.
	AllowBlocked bool
}

// Decision is the outcome of access validation.
type Decision struct {
	Allowed bool
	// Reason is set when the call is denied.
	Reason string
}

// Validate decides whether toolName may be called on a server with the given
// profile. Rules are evaluated in order: blocklist, allowlist, allow.
func Validate(profile Profile, toolName string, opts AccessOptions) Decision {
	if profile.IsBlocked(toolName) && !opts.AllowBlocked {
		return Decision{Reason: ReasonBlocked}
	}
	if len(profile.ToolAllowlist) > 0 && !profile.IsAllowlisted(toolName) {
		return Decision{Reason: ReasonNotInAllowlist}
	}
	return Decision{Allowed: true}
}
