package kinds

import (
	"context"

	"github.com/nmxmxh/reviewqueue/internal/service/reviewable"
)

var postReviewers = []reviewable.Capability{reviewable.CapModerator, reviewable.CapReviewer}

func flaggedPost() reviewable.KindSpec {
	return reviewable.KindSpec{
		Kind: FlaggedPost,
		Fields: []reviewable.FieldSpec{
			{
				Path:       "payload.moderator_note",
				Type:       reviewable.FieldString,
				Constraint: "len(value) <= 1000",
				EditableBy: []reviewable.Capability{reviewable.CapModerator},
			},
		},
		Actions: []reviewable.ActionSpec{
			{
				ID:           ActionApprove,
				To:           reviewable.StatusApproved,
				RequiredCaps: postReviewers,
				Handler:      agreeWithFlags,
				Notify:       "flag_agreed",
			},
			{
				ID:           ActionReject,
				To:           reviewable.StatusRejected,
				RequiredCaps: postReviewers,
				Handler:      setTarget(reviewable.TargetVisible),
				Notify:       "flag_disagreed",
			},
			{
				ID:           ActionIgnore,
				To:           reviewable.StatusIgnored,
				RequiredCaps: postReviewers,
				Notify:       "flag_ignored",
			},
			{
				ID:           ActionDelete,
				To:           reviewable.StatusDeleted,
				RequiredCaps: []reviewable.Capability{reviewable.CapModerator},
				Handler:      setTarget(reviewable.TargetDeleted),
				Notify:       "post_deleted",
			},
		},
	}
}

// agreeWithFlags hides the flagged post.
func agreeWithFlags(ctx context.Context, ac *reviewable.ActionContext) error {
	if err := requireTarget(ctx, ac); err != nil {
		return err
	}
	return ac.Effects.SetTargetState(ctx, ac.Item.Target, reviewable.TargetHidden)
}
