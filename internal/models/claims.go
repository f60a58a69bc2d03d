package models

import "github.com/golang-jwt/jwt/v5"

// Roles issued by the identity service.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Application permissions
const (
	PermissionTransactionRead  = "transaction:read"
	PermissionTransactionWrite = "transaction:write"

	// Admin permissions
	PermissionReadAdmin    = "admin:read"
	PermissionDisputeWrite = "dispute:write"
)

type UserClaims struct {
	jwt.RegisteredClaims
	UserID       uint     `json:"user_id"`
	Email        string   `json:"email"`
	Role         string   `json:"role"`
	Permissions  []string `json:"permissions"`
	TokenVersion int      `json:"token_version"`
}

// HasPermission checks if the claims include a specific permission
func (c *UserClaims) HasPermission(permission string) bool {
	for _, p := range c.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// GetDefaultPermissions returns default permissions based on role
func GetDefaultPermissions(role string) []string {
	switch role {
	case RoleAdmin:
		return []string{
			PermissionTransactionRead,
			PermissionTransactionWrite,
			PermissionReadAdmin,
			PermissionDisputeWrite,
		}
	case RoleUser:
		return []string{
			PermissionTransactionRead,
			PermissionTransactionWrite,
		}
	default:
		return []string{}
	}
}
