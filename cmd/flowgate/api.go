package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/vantori/flowgate/internal/service"
	"github.com/vantori/flowgate/internal/store"
	"github.com/vantori/flowgate/pkg/schema"
)

// newAPIHandler builds the HTTP surface over the service. Every route
// is org-scoped via the X-Org-ID header.
func newAPIHandler(svc *service.Service) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/workflows", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Key        string          `json:"key"`
			Definition json.RawMessage `json:"definition"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		wf, err := svc.CreateWorkflow(r.Context(), orgID(r), body.Key, body.Definition)
		respond(w, wf, err, http.StatusCreated)
	})

	mux.HandleFunc("GET /v1/workflows", func(w http.ResponseWriter, r *http.Request) {
		wfs, err := svc.ListWorkflows(r.Context(), orgID(r), store.WorkflowFilter{})
		respond(w, wfs, err, http.StatusOK)
	})

	mux.HandleFunc("GET /v1/workflows/{id}", func(w http.ResponseWriter, r *http.Request) {
		wf, err := svc.GetWorkflow(r.Context(), orgID(r), r.PathValue("id"))
		respond(w, wf, err, http.StatusOK)
	})

	mux.HandleFunc("PUT /v1/workflows/{id}", func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			respondError(w, schema.NewError(schema.ErrCodeValidation, "read body"))
			return
		}
		wf, err := svc.UpdateWorkflow(r.Context(), orgID(r), r.PathValue("id"), raw)
		respond(w, wf, err, http.StatusOK)
	})

	mux.HandleFunc("DELETE /v1/workflows/{id}", func(w http.ResponseWriter, r *http.Request) {
		err := svc.DeleteWorkflow(r.Context(), orgID(r), r.PathValue("id"))
		respond(w, map[string]any{"deleted": err == nil}, err, http.StatusOK)
	})

	mux.HandleFunc("POST /v1/events", func(w http.ResponseWriter, r *http.Request) {
		var input service.EventInput
		if !decodeBody(w, r, &input) {
			return
		}
		result, err := svc.IngestEvent(r.Context(), orgID(r), input)
		respond(w, result, err, http.StatusAccepted)
	})

	mux.HandleFunc("POST /v1/dry-run", func(w http.ResponseWriter, r *http.Request) {
		var input service.EventInput
		if !decodeBody(w, r, &input) {
			return
		}
		results, err := svc.DryRun(r.Context(), orgID(r), input)
		respond(w, results, err, http.StatusOK)
	})

	mux.HandleFunc("GET /v1/runs", func(w http.ResponseWriter, r *http.Request) {
		filter := store.RunFilter{WorkflowID: r.URL.Query().Get("workflow_id")}
		if s := r.URL.Query().Get("status"); s != "" {
			status := schema.RunStatus(s)
			filter.Status = &status
		}
		runs, err := svc.ListRuns(r.Context(), orgID(r), filter)
		respond(w, runs, err, http.StatusOK)
	})

	mux.HandleFunc("GET /v1/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		run, err := svc.GetRun(r.Context(), orgID(r), r.PathValue("id"))
		respond(w, run, err, http.StatusOK)
	})

	mux.HandleFunc("GET /v1/runs/{id}/actions", func(w http.ResponseWriter, r *http.Request) {
		filter := store.ActionRunFilter{WorkflowRunID: r.PathValue("id")}
		if s := r.URL.Query().Get("status"); s != "" {
			status := schema.ActionRunStatus(s)
			filter.Status = &status
		}
		ars, err := svc.ListActionRuns(r.Context(), orgID(r), filter)
		respond(w, ars, err, http.StatusOK)
	})

	mux.HandleFunc("GET /v1/approvals", func(w http.ResponseWriter, r *http.Request) {
		filter := store.ApprovalFilter{}
		if s := r.URL.Query().Get("status"); s != "" {
			status := schema.ApprovalStatus(s)
			filter.Status = &status
		}
		approvals, err := svc.ListApprovals(r.Context(), orgID(r), filter)
		respond(w, approvals, err, http.StatusOK)
	})

	mux.HandleFunc("POST /v1/approvals/{id}/approve", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			DecidedBy string `json:"decided_by"`
			Notes     string `json:"notes"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		err := svc.Approve(r.Context(), orgID(r), r.PathValue("id"), body.DecidedBy, body.Notes)
		respond(w, map[string]any{"status": "approved"}, err, http.StatusOK)
	})

	mux.HandleFunc("POST /v1/approvals/{id}/reject", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			DecidedBy string `json:"decided_by"`
			Notes     string `json:"notes"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		err := svc.Reject(r.Context(), orgID(r), r.PathValue("id"), body.DecidedBy, body.Notes)
		respond(w, map[string]any{"status": "rejected"}, err, http.StatusOK)
	})

	mux.HandleFunc("GET /v1/connectors/{provider}/{ref}/health", func(w http.ResponseWriter, r *http.Request) {
		health, err := svc.GetConnectorHealth(r.Context(), orgID(r), r.PathValue("provider"), r.PathValue("ref"))
		respond(w, health, err, http.StatusOK)
	})

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return mux
}

func orgID(r *http.Request) string {
	return r.Header.Get("X-Org-ID")
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(dst); err != nil {
		respondError(w, schema.NewError(schema.ErrCodeValidation, "invalid request body").WithCause(err))
		return false
	}
	return true
}

func respond(w http.ResponseWriter, payload any, err error, okStatus int) {
	if err != nil {
		respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(okStatus)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		switch fe.Code {
		case schema.ErrCodeValidation:
			status = http.StatusBadRequest
		case schema.ErrCodeNotFound:
			status = http.StatusNotFound
		case schema.ErrCodeConflict, schema.ErrCodeInvalidTransition:
			status = http.StatusConflict
		case schema.ErrCodeRateLimited:
			status = http.StatusTooManyRequests
		}
	} else {
		fe = schema.NewError(schema.ErrCodeExecution, err.Error())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(fe)
}
