package reviewable

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ActionContext is handed to an action handler. Item is the locked copy; changes
// the handler makes to it are persisted with the transition.
type ActionContext struct {
	Item    *Item
	Action  *ActionSpec
	Viewer  *Viewer
	Effects Effects
	From    Status
	// Notes are merged into the payload of the action's notification.
	Notes map[string]interface{}
}

// Transition records a status change.
type Transition struct {
	From Status `json:"from"`
	To   Status `json:"to"`
}

// ActionResult is the outcome of performing an action. Business-rule failures
// are reported with Success false and Errors set.
type ActionResult struct {
	Success    bool         `json:"success"`
	Action     string       `json:"action"`
	Item       *Item        `json:"-"`
	Version    int64        `json:"version"`
	Transition *Transition  `json:"transition,omitempty"`
	Errors     []FieldError `json:"errors,omitempty"`
}

// RemovedFromQueue reports whether the action resolved the item.
func (r *ActionResult) RemovedFromQueue() bool {
	return r.Success && r.Transition != nil && r.Transition.To.Resolved()
}

// ActionExecutor validates and performs actions on items.
type ActionExecutor struct {
	matrix *PermissionMatrix
	guard  *VersionGuard
	now    func() time.Time
}

func NewActionExecutor(matrix *PermissionMatrix, guard *VersionGuard) *ActionExecutor {
	return &ActionExecutor{matrix: matrix, guard: guard, now: time.Now}
}

// Perform runs actionID on item. The action must be available to the viewer for
// the item's current status. A stale expected version is ErrUpdateConflict even
// when the action is no longer available. Conflicts are never retried here.
func (x *ActionExecutor) Perform(ctx context.Context, item *Item, viewer *Viewer, actionID string, expected int64) (*ActionResult, error) {
	if item.Version != expected {
		return nil, ErrUpdateConflict
	}
	action, err := x.matrix.Action(item, viewer.Capabilities, actionID)
	if err != nil {
		return nil, err
	}

	var (
		transition Transition
		notes      map[string]interface{}
	)
	updated, err := x.guard.Guard(ctx, item.ID, expected, func(ctx context.Context, fx Effects, locked *Item) error {
		if !action.AvailableFrom(locked.Status) {
			return &InvalidActionError{Action: actionID, Status: locked.Status}
		}
		transition = Transition{From: locked.Status, To: action.To}
		if action.Handler != nil {
			ac := &ActionContext{Item: locked, Action: action, Viewer: viewer, Effects: fx, From: locked.Status, Notes: map[string]interface{}{}}
			if err := action.Handler(ctx, ac); err != nil {
				return err
			}
			notes = ac.Notes
		}
		locked.Status = action.To

		now := x.now().UTC()
		if err := fx.RecordHistory(ctx, HistoryEntry{
			ItemID:    locked.ID,
			Type:      HistoryTransitioned,
			Status:    action.To,
			ActorID:   viewer.UserID,
			Version:   expected + 1,
			CreatedAt: now,
		}); err != nil {
			return err
		}
		if action.Notify == "" || locked.TargetCreatedBy == nil {
			return nil
		}
		payload := map[string]interface{}{
			"action":      actionID,
			"type":        string(locked.Kind),
			"status":      action.To.String(),
			"target_type": locked.Target.Type,
			"target_id":   locked.Target.ID,
		}
		for k, v := range notes {
			payload[k] = v
		}
		return fx.EnqueueNotification(ctx, Notification{
			ID:          uuid.NewString(),
			ItemID:      locked.ID,
			Type:        action.Notify,
			RecipientID: *locked.TargetCreatedBy,
			Payload:     payload,
			CreatedAt:   now,
		})
	})
	if err != nil {
		var rule *BusinessRuleError
		if errors.As(err, &rule) {
			return &ActionResult{Action: actionID, Version: item.Version, Errors: rule.Errors}, nil
		}
		return nil, err
	}
	return &ActionResult{
		Success:    true,
		Action:     actionID,
		Item:       updated,
		Version:    updated.Version,
		Transition: &transition,
	}, nil
}
