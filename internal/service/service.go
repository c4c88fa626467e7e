package service

import (
	"context"
	"errors"
	"time"

	"qrtrace/internal/apierror"
	"qrtrace/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// runTx executes fn inside a GORM transaction when db is available,
// or calls fn(nil) directly when db is nil (unit test mode).
func runTx(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	if db == nil {
		return fn(nil)
	}
	return db.WithContext(ctx).Transaction(fn)
}

// lookupErr turns a repository miss into a NotFoundError and passes anything
// else through untouched.
func lookupErr(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apierror.NotFound(format, args...)
	}
	return err
}

func parseID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apierror.Validation("%s must be a valid uuid", field)
	}
	return id, nil
}

func ptr[T any](v T) *T { return &v }

func sameID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Clock lets tests pin time.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c()
}

func unitMovement(u *model.UnitCode, action, to string, actor, ref *uuid.UUID, note string) model.Movement {
	return model.Movement{
		CodeID:      u.ID,
		CodeType:    model.CodeTypeUnit,
		Action:      action,
		FromStatus:  u.Status,
		ToStatus:    to,
		FromOrgID:   u.CurrentOrgID,
		ToOrgID:     u.CurrentOrgID,
		ActorID:     actor,
		ReferenceID: ref,
		Note:        note,
	}
}

func masterMovement(m *model.MasterCode, action, to string, actor, ref *uuid.UUID, note string) model.Movement {
	return model.Movement{
		CodeID:      m.ID,
		CodeType:    model.CodeTypeMaster,
		Action:      action,
		FromStatus:  m.Status,
		ToStatus:    to,
		FromOrgID:   m.CurrentOrgID,
		ToOrgID:     m.CurrentOrgID,
		ActorID:     actor,
		ReferenceID: ref,
		Note:        note,
	}
}

// Actor is the authenticated caller as carried by the bearer token.
type Actor struct {
	UserID *uuid.UUID
	OrgID  *uuid.UUID
	Role   string
}

// RoleAdmin may act on behalf of any organization.
const RoleAdmin = "admin"

// authorizeOrg fails unless the actor belongs to orgID or is an admin.
func authorizeOrg(actor Actor, orgID uuid.UUID) error {
	if actor.Role == RoleAdmin {
		return nil
	}
	if actor.OrgID == nil || *actor.OrgID != orgID {
		return apierror.Authorization("organization mismatch: this resource belongs to %s", orgID)
	}
	return nil
}
