package middleware

// contextKey is a private type for context keys defined in this package so
// they never collide with keys from other packages.
type contextKey string
