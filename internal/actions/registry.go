// Package actions implements the closed set of executable action
// types. Executors produce output and optionally emit follow-up events;
// they never touch run state.
package actions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/vantori/flowgate/internal/connector"
	"github.com/vantori/flowgate/internal/engine"
	"github.com/vantori/flowgate/pkg/schema"
)

type handler func(ctx context.Context, req engine.ExecuteRequest) (*engine.ExecuteResult, error)

// Registry dispatches action runs to their typed executors.
type Registry struct {
	adapter  *connector.Adapter
	logger   *slog.Logger
	handlers map[schema.ActionType]handler
}

// NewRegistry creates a Registry over the full action set.
func NewRegistry(adapter *connector.Adapter, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{adapter: adapter, logger: logger}
	r.handlers = map[schema.ActionType]handler{
		schema.ActionCreateTask:         r.createTask,
		schema.ActionRouteLead:          r.routeLead,
		schema.ActionApplyNurturePlan:   r.applyNurturePlan,
		schema.ActionCreateContentDraft: r.createContentDraft,
		schema.ActionSchedulePublish:    r.schedulePublish,
		schema.ActionRunPresenceAudit:   r.runPresenceAudit,
		schema.ActionDraftReply:         r.draftReply,
		schema.ActionTagLead:            r.tagLead,
		schema.ActionWebhook:            r.webhook,
	}
	return r
}

// Execute implements engine.ActionExecutor.
func (r *Registry) Execute(ctx context.Context, req engine.ExecuteRequest) (*engine.ExecuteResult, error) {
	h, ok := r.handlers[req.ActionType]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "no executor for action type %q", req.ActionType)
	}
	return h(ctx, req)
}

func (r *Registry) createTask(_ context.Context, req engine.ExecuteRequest) (*engine.ExecuteResult, error) {
	title := stringParam(req.Params, "title")
	if title == "" {
		title = fmt.Sprintf("Follow up on %s", req.Event.Type)
	}
	return &engine.ExecuteResult{
		Output: map[string]any{
			"task_id":  uuid.NewString(),
			"title":    title,
			"assignee": stringParam(req.Params, "assignee"),
			"due_in":   stringParam(req.Params, "due_in"),
		},
	}, nil
}

func (r *Registry) routeLead(_ context.Context, req engine.ExecuteRequest) (*engine.ExecuteResult, error) {
	leadID := leadIDFrom(req)
	if leadID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "route_lead requires a lead_id")
	}
	assignee := stringParam(req.Params, "assignee")
	if assignee == "" {
		assignee = "round_robin"
	}
	return &engine.ExecuteResult{
		Output: map[string]any{"lead_id": leadID, "assignee": assignee},
		Events: []engine.EmittedEvent{{
			Source:  "automation",
			Channel: req.Event.Channel,
			Type:    "lead.routed",
			Payload: map[string]any{"lead_id": leadID, "assignee": assignee},
		}},
	}, nil
}

func (r *Registry) applyNurturePlan(_ context.Context, req engine.ExecuteRequest) (*engine.ExecuteResult, error) {
	leadID := leadIDFrom(req)
	planID := stringParam(req.Params, "plan_id")
	if leadID == "" || planID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "apply_nurture_plan requires lead_id and plan_id")
	}
	return &engine.ExecuteResult{
		Output: map[string]any{"lead_id": leadID, "plan_id": planID, "enrolled": true},
	}, nil
}

func (r *Registry) createContentDraft(_ context.Context, req engine.ExecuteRequest) (*engine.ExecuteResult, error) {
	topic := stringParam(req.Params, "topic")
	if topic == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "create_content_draft requires a topic")
	}
	contentID := uuid.NewString()
	return &engine.ExecuteResult{
		Output: map[string]any{
			"content_item_id": contentID,
			"topic":           topic,
			"channel":         stringParam(req.Params, "channel"),
			"status":          "draft",
		},
		Events: []engine.EmittedEvent{{
			Source:  "automation",
			Channel: stringParam(req.Params, "channel"),
			Type:    "content.drafted",
			Payload: map[string]any{"content_item_id": contentID, "topic": topic},
		}},
	}, nil
}

func (r *Registry) schedulePublish(ctx context.Context, req engine.ExecuteRequest) (*engine.ExecuteResult, error) {
	provider := stringParam(req.Params, "provider")
	accountRef := stringParam(req.Params, "account_ref")
	if provider == "" || accountRef == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "schedule_publish requires provider and account_ref")
	}
	result, err := r.adapter.Execute(ctx, connector.PublishRequest{
		OrgID:      req.OrgID,
		Provider:   provider,
		AccountRef: accountRef,
		Channel:    stringParam(req.Params, "channel"),
		Payload: map[string]any{
			"content_item_id": stringParam(req.Params, "content_item_id"),
			"publish_at":      stringParam(req.Params, "publish_at"),
			"body":            req.Params["body"],
		},
	})
	if err != nil {
		return nil, err
	}
	return &engine.ExecuteResult{
		Output: map[string]any{
			"external_id": result.ExternalID,
			"provider":    provider,
			"account_ref": accountRef,
		},
	}, nil
}

func (r *Registry) runPresenceAudit(_ context.Context, req engine.ExecuteRequest) (*engine.ExecuteResult, error) {
	scope := stringParam(req.Params, "scope")
	if scope == "" {
		scope = "all"
	}
	return &engine.ExecuteResult{
		Output: map[string]any{
			"audit_id": uuid.NewString(),
			"scope":    scope,
			"status":   "scheduled",
		},
	}, nil
}

func (r *Registry) draftReply(_ context.Context, req engine.ExecuteRequest) (*engine.ExecuteResult, error) {
	messageID := stringParam(req.Params, "message_id")
	if messageID == "" {
		if id, ok := req.Event.Payload["message_id"].(string); ok {
			messageID = id
		}
	}
	if messageID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "draft_reply requires a message_id")
	}
	return &engine.ExecuteResult{
		Output: map[string]any{
			"message_id": messageID,
			"draft_id":   uuid.NewString(),
			"tone":       stringParam(req.Params, "tone"),
			"status":     "draft",
		},
	}, nil
}

func (r *Registry) tagLead(_ context.Context, req engine.ExecuteRequest) (*engine.ExecuteResult, error) {
	leadID := leadIDFrom(req)
	if leadID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "tag_lead requires a lead_id")
	}
	tags, _ := req.Params["tags"].([]any)
	return &engine.ExecuteResult{
		Output: map[string]any{"lead_id": leadID, "tags": tags},
		Events: []engine.EmittedEvent{{
			Source:  "automation",
			Channel: req.Event.Channel,
			Type:    "lead.updated",
			Payload: map[string]any{"lead_id": leadID, "tags": tags},
		}},
	}, nil
}

func (r *Registry) webhook(ctx context.Context, req engine.ExecuteRequest) (*engine.ExecuteResult, error) {
	url := stringParam(req.Params, "url")
	if url == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "webhook requires a url")
	}
	result, err := r.adapter.Execute(ctx, connector.PublishRequest{
		OrgID:      req.OrgID,
		Provider:   "webhook",
		AccountRef: url,
		Payload: map[string]any{
			"url": url,
			"body": map[string]any{
				"event":           req.Event.Type,
				"payload":         req.Event.Payload,
				"workflow_run_id": req.WorkflowRunID,
			},
		},
	})
	if err != nil {
		return nil, err
	}
	return &engine.ExecuteResult{Output: map[string]any{"url": url, "detail": result.Detail}}, nil
}

func stringParam(params map[string]any, key string) string {
	v, _ := params[key].(string)
	return v
}

// leadIDFrom resolves the lead from explicit params first, then the
// triggering event payload.
func leadIDFrom(req engine.ExecuteRequest) string {
	if id := stringParam(req.Params, "lead_id"); id != "" {
		return id
	}
	if id, ok := req.Event.Payload["lead_id"].(string); ok {
		return id
	}
	return ""
}
