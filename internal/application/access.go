package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Capability is a permission name checked before a booking operation.
type Capability string

const (
	CapabilityCreateReservation Capability = "create_reservation"
	CapabilityUpdateReservation Capability = "update_reservation"
	CapabilityDeleteReservation Capability = "delete_reservation"
	CapabilityViewReservations  Capability = "view_reservations"
)

// AccessGate answers whether an actor holds a capability.
type AccessGate interface {
	HasCapability(ctx context.Context, actorID string, capability Capability) (bool, error)
}

// PermissionSource is the role based permission lookup a RoleGate reads.
type PermissionSource interface {
	UserRoles(ctx context.Context, userID string) ([]string, error)
	HasPermission(ctx context.Context, userID, permission string) (bool, error)
	RoleHasPermission(ctx context.Context, role, permission string) (bool, error)
}

// DefaultRole is granted to actors without an explicit role assignment.
const DefaultRole = "user"

// RoleGate resolves capabilities through role assignments. Actors with no
// assigned role are evaluated as the default role.
type RoleGate struct {
	source      PermissionSource
	defaultRole string
	logger      *slog.Logger
}

// NewRoleGate constructs a RoleGate. An empty defaultRole disables the fallback.
func NewRoleGate(source PermissionSource, defaultRole string, logger *slog.Logger) *RoleGate {
	return &RoleGate{
		source:      source,
		defaultRole: strings.TrimSpace(defaultRole),
		logger:      defaultLogger(logger),
	}
}

// HasCapability implements AccessGate.
func (g *RoleGate) HasCapability(ctx context.Context, actorID string, capability Capability) (bool, error) {
	if g == nil || g.source == nil {
		return false, fmt.Errorf("RoleGate is nil")
	}
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return false, nil
	}

	logger := serviceLogger(ctx, g.logger, "RoleGate", "HasCapability", "actor_id", actorID, "capability", string(capability))

	granted, err := g.source.HasPermission(ctx, actorID, string(capability))
	if err != nil {
		logger.ErrorContext(ctx, "permission lookup failed", "error", err)
		return false, fmt.Errorf("%w: permission lookup: %v", ErrStoreUnavailable, err)
	}
	if granted || g.defaultRole == "" {
		return granted, nil
	}

	roles, err := g.source.UserRoles(ctx, actorID)
	if err != nil {
		logger.ErrorContext(ctx, "role lookup failed", "error", err)
		return false, fmt.Errorf("%w: role lookup: %v", ErrStoreUnavailable, err)
	}
	if len(roles) > 0 {
		return false, nil
	}

	granted, err = g.source.RoleHasPermission(ctx, g.defaultRole, string(capability))
	if err != nil {
		logger.ErrorContext(ctx, "default role lookup failed", "error", err)
		return false, fmt.Errorf("%w: default role lookup: %v", ErrStoreUnavailable, err)
	}
	logger.DebugContext(ctx, "capability resolved through default role", "role", g.defaultRole, "granted", granted)
	return granted, nil
}

// Authorize returns ErrForbidden unless gate grants capability to actorID.
// A nil gate grants everything.
func Authorize(ctx context.Context, gate AccessGate, actorID string, capability Capability) error {
	if gate == nil {
		return nil
	}
	granted, err := gate.HasCapability(ctx, actorID, capability)
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !granted {
		return fmt.Errorf("%w: missing capability %s", ErrForbidden, capability)
	}
	return nil
}
