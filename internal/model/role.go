package model

// Roles carried in the session token's "role" claim.
const (
    RoleCustomer = "CUSTOMER"
    RoleAdmin    = "ADMIN"
    RoleStaff    = "STAFF"
)

// CanActForOthers reports whether role may book on behalf of another user.
func CanActForOthers(role string) bool {
    return role == RoleAdmin || role == RoleStaff
}
