package domain

// ExternalClaims is the normalized shape of an external identity
// provider's claim set. Boundary parsing of the raw (untyped) claims map
// happens in exactly one place; everything downstream consumes this.
type ExternalClaims struct {
	Subject       string
	Email         string
	EmailVerified bool
	FirstName     string
	LastName      string
}
