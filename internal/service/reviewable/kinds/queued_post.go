package kinds

import (
	"context"
	"strings"

	"github.com/nmxmxh/reviewqueue/internal/service/reviewable"
)

type queuedPostPayload struct {
	Raw   string   `mapstructure:"raw"`
	Title string   `mapstructure:"title"`
	Tags  []string `mapstructure:"tags"`
}

func queuedPost() reviewable.KindSpec {
	return reviewable.KindSpec{
		Kind: QueuedPost,
		Fields: []reviewable.FieldSpec{
			{
				Path:       "category_id",
				Type:       reviewable.FieldInt,
				Constraint: "value > 0",
				EditableBy: []reviewable.Capability{reviewable.CapModerator},
			},
			{
				Path:       "payload.raw",
				Type:       reviewable.FieldString,
				Constraint: "len(value) >= 1 && len(value) <= 32000",
				EditableBy: postReviewers,
			},
			{
				Path:       "payload.title",
				Type:       reviewable.FieldString,
				Constraint: "len(value) <= 255",
				EditableBy: []reviewable.Capability{reviewable.CapModerator},
			},
			{
				Path:       "payload.tags",
				Type:       reviewable.FieldStringList,
				Constraint: "len(value) <= 5",
				EditableBy: []reviewable.Capability{reviewable.CapModerator},
			},
		},
		Actions: []reviewable.ActionSpec{
			{
				ID:           ActionApprove,
				To:           reviewable.StatusApproved,
				RequiredCaps: postReviewers,
				Handler:      publishQueuedPost,
				Notify:       "post_approved",
			},
			{
				ID:           ActionReject,
				To:           reviewable.StatusRejected,
				RequiredCaps: postReviewers,
				Handler:      setTarget(reviewable.TargetHidden),
				Notify:       "post_rejected",
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

// publishQueuedPost creates the post from the queued payload.
func publishQueuedPost(ctx context.Context, ac *reviewable.ActionContext) error {
	var p queuedPostPayload
	if err := decodePayload(ac.Item.Payload, &p); err != nil {
		return err
	}
	if strings.TrimSpace(p.Raw) == "" {
		return reviewable.NewBusinessRuleError("payload.raw", "blank", "queued post has no body")
	}
	if p.Title != "" {
		ac.Notes["title"] = p.Title
	}
	return ac.Effects.SetTargetState(ctx, ac.Item.Target, reviewable.TargetPublished)
}
