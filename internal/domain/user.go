// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const (
	MaxDeviceIDLen = 128
)

var (
	ErrDeviceIDEmpty   = errors.New("device id empty")
	ErrDeviceIDTooLong = errors.New("device id too long")
)

type UserID string

// User is an identity resolved by the identity provider.
type User struct {
	ID            UserID `json:"id"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"emailVerified"`
}

// Role is what a connection declared itself to be during auth.
type Role string

const (
	RoleBrowser     Role = "browser"
	RoleEdgeGateway Role = "edge-gateway"
)

func (r Role) Valid() bool {
	return r == RoleBrowser || r == RoleEdgeGateway
}
