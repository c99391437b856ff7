package domain

import (
	"time"

	"github.com/google/uuid"
)

// EntitlementStatus represents whether a granted right is currently active.
type EntitlementStatus string

const (
	EntitlementStatusActive  EntitlementStatus = "ACTIVE"
	EntitlementStatusRevoked EntitlementStatus = "REVOKED"
)

// Entitlement is a granted right to a paid gallery — the downstream effect
// the event ledger protects from duplication. Unique per order reference.
type Entitlement struct {
	ID        uuid.UUID         `json:"id"`
	UserID    string            `json:"user_id"`
	OrderRef  string            `json:"order_ref"`
	GalleryID string            `json:"gallery_id"`
	Status    EntitlementStatus `json:"status"`
	GrantedAt time.Time         `json:"granted_at"`
	RevokedAt *time.Time        `json:"revoked_at,omitempty"`
}

// PhotoState tracks which derived artifacts already exist for a photo, so
// job handlers can skip work a crashed predecessor already finished.
type PhotoState struct {
	PhotoID      string    `json:"photo_id"`
	FaceIndexed  bool      `json:"face_indexed"`
	IndexedFaces int       `json:"indexed_faces"`
	PreviewReady bool      `json:"preview_ready"`
	UpdatedAt    time.Time `json:"updated_at"`
}
