package service

import (
	"context"
	"fmt"
	"time"

	"fotofeed-core/internal/core/domain"
	"fotofeed-core/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event types applied by the entitlement applier.
const (
	EventPurchaseCompleted = "purchase.completed"
	EventPurchaseRefunded  = "purchase.refunded"
)

// EntitlementApplier implements ports.EventApplier for purchase lifecycle
// events. Its effects are idempotent on their own (grant keyed by order_ref,
// revoke conditional on ACTIVE), so re-applying after a crash between the
// effect and the ledger mark is safe.
type EntitlementApplier struct {
	entitlements ports.EntitlementRepository
	log          zerolog.Logger
}

// NewEntitlementApplier creates a new EntitlementApplier.
func NewEntitlementApplier(entitlements ports.EntitlementRepository, log zerolog.Logger) *EntitlementApplier {
	return &EntitlementApplier{entitlements: entitlements, log: log}
}

// Apply executes the business effect of one claimed event. Unknown event
// types are acknowledged without effect so providers adding new types do not
// dead-end our webhook endpoint.
func (a *EntitlementApplier) Apply(ctx context.Context, eventType string, payload domain.Payload) error {
	switch eventType {
	case EventPurchaseCompleted:
		return a.grant(ctx, payload)
	case EventPurchaseRefunded:
		return a.revoke(ctx, payload)
	default:
		a.log.Debug().Str("event_type", eventType).Msg("ignoring unhandled event type")
		return nil
	}
}

func (a *EntitlementApplier) grant(ctx context.Context, payload domain.Payload) error {
	orderRef := payload.String("order_ref")
	userID := payload.String("user_id")
	if orderRef == "" || userID == "" {
		return fmt.Errorf("purchase.completed payload missing order_ref or user_id")
	}

	e := &domain.Entitlement{
		ID:        uuid.New(),
		UserID:    userID,
		OrderRef:  orderRef,
		GalleryID: payload.String("gallery_id"),
		Status:    domain.EntitlementStatusActive,
		GrantedAt: time.Now().UTC(),
	}

	created, err := a.entitlements.Grant(ctx, e)
	if err != nil {
		return fmt.Errorf("granting entitlement: %w", err)
	}
	if !created {
		a.log.Debug().Str("order_ref", orderRef).Msg("entitlement already granted")
	}
	return nil
}

func (a *EntitlementApplier) revoke(ctx context.Context, payload domain.Payload) error {
	orderRef := payload.String("order_ref")
	if orderRef == "" {
		return fmt.Errorf("purchase.refunded payload missing order_ref")
	}

	if err := a.entitlements.Revoke(ctx, orderRef); err != nil {
		return fmt.Errorf("revoking entitlement: %w", err)
	}
	return nil
}
