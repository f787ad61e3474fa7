package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"leboy/internal/domain"
	"leboy/internal/engine"
	"leboy/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_state_transition"`
	Message string         `json:"message" example:"operation close mission not allowed from state IN_PROGRESS"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the LeBoy API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("LeBoy API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMissions(group, cfg.Engine)
	registerLifecycle(group, cfg.Engine)
	registerPhases(group, cfg.Engine)
	registerMessages(group, cfg.Engine)
	registerCommission(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ist engine.InvalidStateTransitionError
	if errors.As(err, &ist) {
		return newAPIError(http.StatusConflict, "invalid_state_transition", err.Error(), map[string]any{
			"from":      string(ist.From),
			"operation": ist.Operation,
		})
	}
	var ur engine.UnauthorizedRoleError
	if errors.As(err, &ur) {
		return newAPIError(http.StatusForbidden, "unauthorized_role", err.Error(), map[string]any{
			"role":      string(ur.Role),
			"operation": ur.Operation,
		})
	}
	var ppi engine.PhasePrecedingIncompleteError
	if errors.As(err, &ppi) {
		return newAPIError(http.StatusUnprocessableEntity, "phase_preceding_incomplete", err.Error(), map[string]any{
			"phase": ppi.PhaseName,
			"ordre": ppi.Ordre,
		})
	}
	var ma engine.MissionArchivedError
	if errors.As(err, &ma) {
		return newAPIError(http.StatusConflict, "mission_archived", err.Error(), nil)
	}
	var re engine.RetentionExpiredError
	if errors.As(err, &re) {
		return newAPIError(http.StatusGone, "retention_expired", err.Error(), map[string]any{
			"archived_at": re.ArchivedAt,
			"days":        re.Days,
		})
	}
	if errors.Is(err, engine.ErrBalanceNotPaid) {
		return newAPIError(http.StatusConflict, "balance_not_paid", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrProofsRequired) {
		return newAPIError(http.StatusUnprocessableEntity, "proofs_required", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "not allowed"),
		strings.Contains(lowered, "not flagged"):
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", msg, nil)
	case strings.Contains(lowered, "already used"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") ||
		strings.Contains(lowered, "must be") || strings.Contains(lowered, "unknown"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type MissionPath struct {
	MissionID string `path:"mission_id"`
}

type missionBody struct {
	Body MissionResponse `json:"body"`
}

func missionOut(m domain.Mission) *missionBody {
	return &missionBody{Body: missionResponse(m)}
}

func registerMissions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-mission",
		Method:        http.MethodPost,
		Path:          "/missions",
		Summary:       "Create mission",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateMissionRequest `json:"body"`
	}) (*missionBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.CreateMission(ctx, engine.MissionCreateOptions{
			ClientEmail: input.Body.ClientEmail,
			Category:    input.Body.Category,
			Title:       input.Body.Title,
			Description: input.Body.Description,
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return missionOut(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-missions",
		Method:      http.MethodGet,
		Path:        "/missions",
		Summary:     "List missions",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		State       string `query:"state"`
		ProviderID  string `query:"provider_id"`
		ClientEmail string `query:"client_email"`
		Archived    bool   `query:"archived"`
		Limit       int    `query:"limit"`
	}) (*struct {
		Body []MissionResponse `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListMissions(ctx, repo.MissionFilters{
			State:        input.State,
			ProviderID:   input.ProviderID,
			ClientEmail:  input.ClientEmail,
			ArchivedOnly: input.Archived,
			Limit:        input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []MissionResponse `json:"body"`
		}{Body: mapMissions(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-mission",
		Method:      http.MethodGet,
		Path:        "/missions/{mission_id}",
		Summary:     "Get mission",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *MissionPath) (*missionBody, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		m, err := e.GetMission(ctx, input.MissionID)
		if err != nil {
			return nil, handleError(err)
		}
		return missionOut(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mission-events",
		Method:      http.MethodGet,
		Path:        "/missions/{mission_id}/events",
		Summary:     "Mission event history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		MissionPath
		Limit int `query:"limit"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.GetMission(ctx, input.MissionID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.MissionEvents(ctx, input.MissionID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mission-summary",
		Method:      http.MethodGet,
		Path:        "/missions/summary",
		Summary:     "Active mission counts per state",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]int `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		counts, err := e.MissionSummary(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int `json:"body"`
		}{Body: counts}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-mission",
		Method:      http.MethodPost,
		Path:        "/missions/{mission_id}/archive",
		Summary:     "Archive mission",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *MissionPath) (*missionBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.ArchiveMission(ctx, input.MissionID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return missionOut(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "restore-mission",
		Method:      http.MethodPost,
		Path:        "/missions/{mission_id}/restore",
		Summary:     "Restore archived mission",
		Errors:      append(mutationErrors, http.StatusGone),
	}, func(ctx context.Context, input *MissionPath) (*missionBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.RestoreMission(ctx, input.MissionID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return missionOut(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-mission",
		Method:      http.MethodDelete,
		Path:        "/missions/{mission_id}",
		Summary:     "Delete mission permanently",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *MissionPath) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteMission(ctx, input.MissionID, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerLifecycle(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "assign-provider",
		Method:      http.MethodPost,
		Path:        "/missions/{mission_id}/assign",
		Summary:     "Assign provider",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		MissionPath
		Body AssignProviderRequest `json:"body"`
	}) (*missionBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.AssignProvider(ctx, input.MissionID, input.Body.ProviderID, input.Body.ProviderEmail, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return missionOut(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-estimation",
		Method:      http.MethodPost,
		Path:        "/missions/{mission_id}/estimation",
		Summary:     "Submit or revise estimation",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		MissionPath
		Body EstimationRequest `json:"body"`
	}) (*missionBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.SubmitEstimation(ctx, input.MissionID, engine.EstimationOptions{
			Price:             input.Body.Price,
			DelayHours:        input.Body.DelayHours,
			Note:              input.Body.Note,
			DelaiMaximalHours: input.Body.DelaiMaximalHours,
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return missionOut(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-payment",
		Method:      http.MethodPost,
		Path:        "/missions/{mission_id}/request-payment",
		Summary:     "Accept estimation and request client payment",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *MissionPath) (*missionBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.RequestClientPayment(ctx, input.MissionID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return missionOut(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "confirm-payment",
		Method:      http.MethodPost,
		Path:        "/missions/{mission_id}/confirm-payment",
		Summary:     "Confirm client payment received",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *MissionPath) (*missionBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.ConfirmPayment(ctx, input.MissionID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return missionOut(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "send-advance",
		Method:      http.MethodPost,
		Path:        "/missions/{mission_id}/advance",
		Summary:     "Send advance to provider",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		MissionPath
		Body AdvanceRequest `json:"body"`
	}) (*missionBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.SendAdvance(ctx, input.MissionID, input.Body.Percentage, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return missionOut(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "take-over",
		Method:      http.MethodPost,
		Path:        "/missions/{mission_id}/takeover",
		Summary:     "Provider takes over the mission",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *MissionPath) (*missionBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.TakeOverMission(ctx, input.MissionID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return missionOut(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-validation",
		Method:      http.MethodPost,
		Path:        "/missions/{mission_id}/submit-validation",
		Summary:     "Submit proofs for validation",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		MissionPath
		Body SubmitValidationRequest `json:"body"`
	}) (*missionBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.SubmitProofsForValidation(ctx, input.MissionID, input.Body.Comment, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return missionOut(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "confirm-completion",
		Method:      http.MethodPost,
		Path:        "/missions/{mission_id}/confirm-completion",
		Summary:     "Admin confirms completion",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		MissionPath
		Body ConfirmCompletionRequest `json:"body"`
	}) (*missionBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.ConfirmCompletion(ctx, input.MissionID, input.Body.SoldePaid, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return missionOut(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-balance-paid",
		Method:      http.MethodPost,
		Path:        "/missions/{mission_id}/balance-paid",
		Summary:     "Flag final balance transfer",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *MissionPath) (*missionBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.MarkBalancePaid(ctx, input.MissionID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return missionOut(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "close-mission",
		Method:      http.MethodPost,
		Path:        "/missions/{mission_id}/close",
		Summary:     "Close mission",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *MissionPath) (*missionBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.CloseMission(ctx, input.MissionID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return missionOut(m), nil
	})
}

func registerPhases(api huma.API, e engine.Engine) {
	type PhasePath struct {
		MissionID string `path:"mission_id"`
		PhaseID   string `path:"phase_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID:   "add-phase",
		Method:        http.MethodPost,
		Path:          "/missions/{mission_id}/phases",
		Summary:       "Add execution phase",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		MissionPath
		Body PhaseRequest `json:"body"`
	}) (*missionBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.AddPhase(ctx, input.MissionID, engine.PhaseCreateOptions{
			Ordre:       input.Body.Ordre,
			Name:        input.Body.Name,
			Description: input.Body.Description,
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return missionOut(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-phase",
		Method:      http.MethodDelete,
		Path:        "/missions/{mission_id}/phases/{phase_id}",
		Summary:     "Delete execution phase",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *PhasePath) (*missionBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.DeletePhase(ctx, input.MissionID, input.PhaseID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return missionOut(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "toggle-phase",
		Method:      http.MethodPost,
		Path:        "/missions/{mission_id}/phases/{phase_id}/toggle",
		Summary:     "Toggle phase completion",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *PhasePath) (*missionBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.TogglePhase(ctx, input.MissionID, input.PhaseID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return missionOut(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "flag-phase-retard",
		Method:      http.MethodPost,
		Path:        "/missions/{mission_id}/phases/{phase_id}/retard",
		Summary:     "Flag phase as delayed",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *PhasePath) (*missionBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.FlagPhaseRetard(ctx, input.MissionID, input.PhaseID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return missionOut(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "annotate-phase-delay",
		Method:      http.MethodPost,
		Path:        "/missions/{mission_id}/phases/{phase_id}/delay-note",
		Summary:     "Attach delay note",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		PhasePath
		Body DelayNoteRequest `json:"body"`
	}) (*missionBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.MarkPhaseDelayed(ctx, input.MissionID, input.PhaseID, input.Body.Note, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return missionOut(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-proof",
		Method:        http.MethodPost,
		Path:          "/missions/{mission_id}/proofs",
		Summary:       "Attach proof metadata",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		MissionPath
		Body ProofRequest `json:"body"`
	}) (*missionBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.AddProof(ctx, input.MissionID, engine.ProofOptions{
			Filename:    input.Body.Filename,
			ContentType: input.Body.ContentType,
			SizeBytes:   input.Body.SizeBytes,
			URL:         input.Body.URL,
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return missionOut(m), nil
	})
}

func registerMessages(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "send-message",
		Method:        http.MethodPost,
		Path:          "/missions/{mission_id}/messages",
		Summary:       "Send message",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		MissionPath
		Body SendMessageRequest `json:"body"`
	}) (*struct {
		Body domain.Message `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		msg, err := e.SendMessage(ctx, input.MissionID, engine.MessageOptions{
			TargetRole:  domain.Role(input.Body.TargetRole),
			TargetEmail: input.Body.TargetEmail,
			Content:     input.Body.Content,
			Type:        domain.MessageType(input.Body.Type),
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Message `json:"body"`
		}{Body: msg}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-messages",
		Method:      http.MethodGet,
		Path:        "/missions/{mission_id}/messages",
		Summary:     "List messages visible to the caller",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *MissionPath) (*struct {
		Body []domain.Message `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		msgs, err := e.ListMessagesFor(ctx, input.MissionID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Message `json:"body"`
		}{Body: msgs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-messages-read",
		Method:      http.MethodPost,
		Path:        "/missions/{mission_id}/messages/read",
		Summary:     "Mark visible messages as read",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *MissionPath) (*struct {
		Body map[string]int `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.MarkMessagesRead(ctx, input.MissionID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int `json:"body"`
		}{Body: map[string]int{"marked": n}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unread-count",
		Method:      http.MethodGet,
		Path:        "/missions/{mission_id}/messages/unread",
		Summary:     "Unread message count for the caller",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *MissionPath) (*struct {
		Body map[string]int `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.UnreadCount(ctx, input.MissionID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int `json:"body"`
		}{Body: map[string]int{"unread": n}}, nil
	})
}

func registerCommission(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "commission-quote",
		Method:      http.MethodGet,
		Path:        "/commission/quote",
		Summary:     "Compute commission for a price",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Category string `query:"category"`
		Price    int64  `query:"price"`
	}) (*struct {
		Body CommissionQuoteResponse `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		amount, cfg, err := e.CommissionQuote(ctx, input.Category, input.Price)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CommissionQuoteResponse `json:"body"`
		}{Body: CommissionQuoteResponse{
			Category:   cfg.Category,
			Price:      input.Price,
			Commission: amount,
			Total:      input.Price + amount,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-commission-configs",
		Method:      http.MethodGet,
		Path:        "/commission/configs",
		Summary:     "List commission categories",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.CommissionConfig `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListCommissionConfigs(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.CommissionConfig `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-commission-config",
		Method:      http.MethodPut,
		Path:        "/commission/configs/{category}",
		Summary:     "Update commission category",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Category string                  `path:"category"`
		Body     CommissionConfigRequest `json:"body"`
	}) (*struct {
		Body domain.CommissionConfig `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cfg, err := e.UpdateCommissionConfig(ctx, domain.CommissionConfig{
			Category:      input.Category,
			Name:          input.Body.Name,
			BasePercent:   input.Body.BasePercent,
			MinCommission: input.Body.MinCommission,
			MaxCommission: input.Body.MaxCommission,
			RiskPercent:   input.Body.RiskPercent,
			Enabled:       input.Body.Enabled,
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CommissionConfig `json:"body"`
		}{Body: cfg}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-commission-config",
		Method:      http.MethodDelete,
		Path:        "/commission/configs/{category}",
		Summary:     "Delete commission category",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Category string `path:"category"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteCommissionConfig(ctx, input.Category, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Provision API key",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		k, raw, err := e.CreateAPIKey(ctx, domain.Role(input.Body.Role), input.Body.Email, input.Body.Name, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: apiKeyResponse(k, raw)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListAPIKeys(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]APIKeyResponse, 0, len(items))
		for _, k := range items {
			res = append(res, apiKeyResponse(k, ""))
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/apikeys/{key_id}",
		Summary:     "Delete API key",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteAPIKey(ctx, input.KeyID, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>LeBoy API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}
