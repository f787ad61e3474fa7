package server

import (
	"leboy/internal/domain"
)

// CreateMissionRequest is the payload for POST /missions.
type CreateMissionRequest struct {
	ClientEmail string `json:"client_email" example:"client@example.com"`
	Category    string `json:"category,omitempty" example:"demarches"`
	Title       string `json:"title" example:"Renouvellement de passeport"`
	Description string `json:"description,omitempty"`
}

type AssignProviderRequest struct {
	ProviderID    string `json:"provider_id"`
	ProviderEmail string `json:"provider_email,omitempty"`
}

type EstimationRequest struct {
	Price             int64  `json:"price" example:"200000"`
	DelayHours        int    `json:"delay_hours" example:"72"`
	Note              string `json:"note,omitempty"`
	DelaiMaximalHours int    `json:"delai_maximal_hours,omitempty"`
}

type AdvanceRequest struct {
	Percentage int `json:"percentage" example:"50"`
}

type SubmitValidationRequest struct {
	Comment string `json:"comment,omitempty"`
}

type ConfirmCompletionRequest struct {
	SoldePaid bool `json:"solde_paid,omitempty"`
}

type PhaseRequest struct {
	Ordre       int    `json:"ordre" example:"1"`
	Name        string `json:"name" example:"Dépôt du dossier"`
	Description string `json:"description,omitempty"`
}

type DelayNoteRequest struct {
	Note string `json:"note"`
}

type ProofRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
	URL         string `json:"url,omitempty"`
}

type SendMessageRequest struct {
	TargetRole  string `json:"target_role,omitempty" enum:"client,prestataire,admin"`
	TargetEmail string `json:"target_email,omitempty"`
	Content     string `json:"content"`
	Type        string `json:"type,omitempty" enum:"chat,email"`
}

type CommissionConfigRequest struct {
	Name          string  `json:"name,omitempty"`
	BasePercent   float64 `json:"base_percent"`
	MinCommission int64   `json:"min_commission"`
	MaxCommission int64   `json:"max_commission"`
	RiskPercent   float64 `json:"risk_percent"`
	Enabled       bool    `json:"enabled"`
}

type CreateAPIKeyRequest struct {
	Role  string `json:"role" enum:"client,prestataire,admin"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// MissionResponse is a mission plus its derived projections: progress
// percentage, the legacy display status and the step timeline.
type MissionResponse struct {
	domain.Mission
	Status   string        `json:"status"`
	Progress int           `json:"progress"`
	Steps    []domain.Step `json:"steps"`
}

func missionResponse(m domain.Mission) MissionResponse {
	return MissionResponse{
		Mission:  m,
		Status:   m.InternalState.Display(),
		Progress: m.InternalState.Progress(),
		Steps:    domain.Steps(m),
	}
}

func mapMissions(items []domain.Mission) []MissionResponse {
	res := make([]MissionResponse, 0, len(items))
	for _, m := range items {
		res = append(res, missionResponse(m))
	}
	return res
}

type CommissionQuoteResponse struct {
	Category   string `json:"category"`
	Price      int64  `json:"price"`
	Commission int64  `json:"commission"`
	Total      int64  `json:"total"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at"`
	Key       string `json:"key,omitempty"`
}

func apiKeyResponse(k domain.APIKey, raw string) APIKeyResponse {
	return APIKeyResponse{
		ID:        k.ID,
		Role:      string(k.Role),
		Email:     k.Email,
		Name:      k.Name,
		CreatedAt: k.CreatedAt,
		Key:       raw,
	}
}
