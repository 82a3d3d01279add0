package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging the active
// configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Execution.KeyPassphrase)
	redact(&out.Server.APIKey)

	// Copy slices so callers cannot mutate the original through the copy.
	out.Venues = append([]VenueConfig(nil), cfg.Venues...)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.Risk.StableSymbols = append([]string(nil), cfg.Risk.StableSymbols...)
	out.Risk.NativeSymbols = append([]string(nil), cfg.Risk.NativeSymbols...)
	out.Risk.VolatileSymbols = append([]string(nil), cfg.Risk.VolatileSymbols...)

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
