package model

import (
	"slices"
	"time"
)

type Permission string

const (
	PermRead     Permission = "read"
	PermTrade    Permission = "trade"
	PermWithdraw Permission = "withdraw"
	PermAdmin    Permission = "admin" // 管理员权限包含其他所有权限
)

func (p Permission) Valid() bool {
	switch p {
	case PermRead, PermTrade, PermWithdraw, PermAdmin:
		return true
	}
	return false
}

type IdentityStatus string

const (
	IdentityActive    IdentityStatus = "active"
	IdentityInactive  IdentityStatus = "inactive"
	IdentitySuspended IdentityStatus = "suspended"
)

func (s IdentityStatus) Valid() bool {
	switch s {
	case IdentityActive, IdentityInactive, IdentitySuspended:
		return true
	}
	return false
}

// Identity 代表一个 API 调用方
type Identity struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Name   string `gorm:"size:128" json:"name"`
	APIKey string `gorm:"size:64;uniqueIndex;not null" json:"api_key"`
	// SecretCipher is the AES-GCM sealed signing secret, never the clear value.
	SecretCipher string         `gorm:"not null" json:"-"`
	Permissions  []Permission   `gorm:"serializer:json" json:"permissions"`
	Status       IdentityStatus `gorm:"size:16;index;not null" json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (i *Identity) IsActive() bool {
	return i != nil && i.Status == IdentityActive
}

// HasPermission reports whether perms grants required. Admin grants everything.
func HasPermission(perms []Permission, required Permission) bool {
	return slices.Contains(perms, PermAdmin) || slices.Contains(perms, required)
}
