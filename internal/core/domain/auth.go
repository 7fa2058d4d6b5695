package domain

// APIKey is a credential accepted by the local HTTP surface.
type APIKey struct {
	Name      string
	TokenHash string
}
