package kinds

import (
	"context"

	"github.com/nmxmxh/reviewqueue/internal/service/reviewable"
)

type flaggedUserPayload struct {
	Username     string `mapstructure:"username"`
	Name         string `mapstructure:"name"`
	RejectReason string `mapstructure:"reject_reason"`
}

func flaggedUser() reviewable.KindSpec {
	return reviewable.KindSpec{
		Kind: FlaggedUser,
		Fields: []reviewable.FieldSpec{
			{
				Path:       "payload.reject_reason",
				Type:       reviewable.FieldString,
				Constraint: "len(value) <= 500",
				EditableBy: []reviewable.Capability{reviewable.CapModerator},
			},
			{
				Path:       "payload.name",
				Type:       reviewable.FieldString,
				Constraint: "len(value) <= 100",
				EditableBy: []reviewable.Capability{reviewable.CapAdmin},
			},
		},
		Actions: []reviewable.ActionSpec{
			{
				ID:           ActionApprove,
				To:           reviewable.StatusApproved,
				RequiredCaps: []reviewable.Capability{reviewable.CapAdmin, CapApproveUsers},
				Handler:      setTarget(reviewable.TargetActive),
				Notify:       "user_approved",
			},
			{
				ID:           ActionReject,
				To:           reviewable.StatusRejected,
				RequiredCaps: []reviewable.Capability{reviewable.CapModerator},
				Handler:      suspendUser,
				Notify:       "user_rejected",
			},
			{
				ID:           ActionDelete,
				To:           reviewable.StatusDeleted,
				RequiredCaps: []reviewable.Capability{reviewable.CapAdmin},
				Handler:      setTarget(reviewable.TargetDeleted),
				Notify:       "user_deleted",
			},
			{
				ID:           ActionIgnore,
				To:           reviewable.StatusIgnored,
				RequiredCaps: []reviewable.Capability{reviewable.CapModerator},
			},
		},
	}
}

func suspendUser(ctx context.Context, ac *reviewable.ActionContext) error {
	var p flaggedUserPayload
	if err := decodePayload(ac.Item.Payload, &p); err != nil {
		return err
	}
	if p.RejectReason != "" {
		ac.Notes["reject_reason"] = p.RejectReason
	}
	if p.Username != "" {
		ac.Notes["username"] = p.Username
	}
	return ac.Effects.SetTargetState(ctx, ac.Item.Target, reviewable.TargetSuspended)
}
