package domain

// Identity is the acting caller of an operation. It is either Anonymous or
// Registered; switch on the concrete type.
type Identity interface {
	isIdentity()
}

// Anonymous is a caller that presented no credentials.
type Anonymous struct{}

// Registered is an authenticated owner.
type Registered struct {
	OwnerID int64
	Email   string
}

func (Anonymous) isIdentity()  {}
func (Registered) isIdentity() {}

// IsAnonymous reports whether id is the anonymous caller. A nil identity counts
// as anonymous.
func IsAnonymous(id Identity) bool {
	switch id.(type) {
	case Registered:
		return false
	default:
		return true
	}
}
