// Package kinds declares the reviewable kinds served by the review queue.
package kinds

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/nmxmxh/reviewqueue/internal/service/reviewable"
)

const (
	FlaggedPost reviewable.Kind = "flagged_post"
	QueuedPost  reviewable.Kind = "queued_post"
	FlaggedUser reviewable.Kind = "flagged_user"
)

// CapApproveUsers lets non-admin staff approve flagged users.
const CapApproveUsers reviewable.Capability = "approve_users"

// Action identifiers shared by several kinds.
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
	ActionIgnore  = "ignore"
	ActionDelete  = "delete"
	ActionReopen  = "reopen"
)

// Options selects optional behaviour at registration time.
type Options struct {
	AllowReopen bool
}

// Specs returns the kind declarations.
func Specs(opts Options) []reviewable.KindSpec {
	specs := []reviewable.KindSpec{flaggedPost(), queuedPost(), flaggedUser()}
	if opts.AllowReopen {
		for i := range specs {
			specs[i].Actions = append(specs[i].Actions, reopen())
		}
	}
	return specs
}

// Default builds the registry of every kind.
func Default(opts Options) (*reviewable.Registry, error) {
	return reviewable.NewRegistry(Specs(opts)...)
}

// reopen returns a resolved item to the queue.
func reopen() reviewable.ActionSpec {
	return reviewable.ActionSpec{
		ID:           ActionReopen,
		From:         []reviewable.Status{reviewable.StatusApproved, reviewable.StatusRejected, reviewable.StatusIgnored},
		To:           reviewable.StatusPending,
		RequiredCaps: []reviewable.Capability{reviewable.CapModerator},
		Handler:      requeue,
		Notify:       "reviewable_reopened",
	}
}

// requeue refuses to reopen an item whose target was flagged again after it
// was resolved.
func requeue(ctx context.Context, ac *reviewable.ActionContext) error {
	id, found, err := ac.Effects.PendingFor(ctx, ac.Item.Kind, ac.Item.Target)
	if err != nil {
		return err
	}
	if found && id != ac.Item.ID {
		return reviewable.NewBusinessRuleError("target", reviewable.CodeAlreadyPending,
			fmt.Sprintf("reviewable %d is already pending for this target", id))
	}
	return nil
}

// decodePayload maps an item payload onto a typed struct.
func decodePayload(payload map[string]interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// setTarget returns a handler that moves the target into state.
func setTarget(state reviewable.TargetState) reviewable.ActionHandler {
	return func(ctx context.Context, ac *reviewable.ActionContext) error {
		return ac.Effects.SetTargetState(ctx, ac.Item.Target, state)
	}
}

// requireTarget fails with a business error when the target is deleted.
func requireTarget(ctx context.Context, ac *reviewable.ActionContext) error {
	state, err := ac.Effects.TargetState(ctx, ac.Item.Target)
	if err != nil {
		return err
	}
	if state == reviewable.TargetDeleted {
		return reviewable.NewBusinessRuleError("target", "target_deleted",
			fmt.Sprintf("%s was deleted", ac.Item.Target))
	}
	return nil
}
