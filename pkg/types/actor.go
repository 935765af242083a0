package types

// Actor identifies the caller of a billing operation. Operator is set only
// by the operator-auth middleware after verifying the JWT role claim.
type Actor struct {
	UserID   string
	Operator bool
}

// CanActOn reports whether the actor may manage a subscription owned by
// ownerID. Owners manage their own rows; operators manage any.
func (a Actor) CanActOn(ownerID string) bool {
	return a.Operator || a.UserID == ownerID
}
