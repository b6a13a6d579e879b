package middleware

// errorEnvelope matches the API's response envelope for errors written
// directly by middleware.
type errorEnvelope struct {
	Error string `json:"error"`
}
