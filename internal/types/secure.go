package types

// SecretString is a string wrapper that redacts itself in logs and formatted
// output. Use it for connection strings, API keys, and any other credential
// carried in configuration.
type SecretString string

// String implements fmt.Stringer and always redacts the value.
func (s SecretString) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// Reveal returns the underlying secret value. Call sites should be the only
// places the raw value escapes (e.g., handing a DSN to the driver).
func (s SecretString) Reveal() string {
	return string(s)
}

// MarshalJSON redacts the value in JSON output.
func (s SecretString) MarshalJSON() ([]byte, error) {
	if s == "" {
		return []byte(`""`), nil
	}
	return []byte(`"[REDACTED]"`), nil
}
