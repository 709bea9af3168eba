package types

// redactedPlaceholder replaces secret values in logs and serialization.
const redactedPlaceholder = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString holds a sensitive value (API key, webhook secret, password)
// that must never appear in logs or serialized output. String and
// MarshalJSON return a redacted placeholder; call Unmask to get the raw
// value at the point of use.
type SecretString string

// String returns the redacted placeholder. Invoked by fmt and by slog when
// the value is logged directly.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON returns the redacted placeholder as a JSON string.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the raw plaintext value. Limit calls to the places that
// genuinely need the secret, such as Authorization headers and DSNs.
func (s SecretString) Unmask() string {
	return string(s)
}
