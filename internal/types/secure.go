package types

const redactedPlaceholder = "***REDACTED***"

// SecretString holds a credential (webhook signing secret, provider token).
// It prints and marshals as a placeholder so it cannot leak through logs or
// config dumps; call Unmask at the point of use.
type SecretString string

// String returns the redacted placeholder.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON encodes the redacted placeholder.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redactedPlaceholder + `"`), nil
}

// Unmask returns the raw value.
func (s SecretString) Unmask() string {
	return string(s)
}

// IsSet reports whether a non-empty secret was configured.
func (s SecretString) IsSet() bool {
	return s != ""
}
