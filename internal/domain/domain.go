package domain

// Role identifies one of the three actor kinds of the marketplace.
// Admin is the single operator role mediating between clients and providers.
type Role string

const (
	RoleClient      Role = "client"
	RolePrestataire Role = "prestataire"
	RoleAdmin       Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleClient, RolePrestataire, RoleAdmin:
		return true
	}
	return false
}

// Estimation is the provider-proposed price and delay for a mission.
// It is overwritten, not appended, on revision.
type Estimation struct {
	Price      int64  `json:"price"`
	DelayHours int    `json:"delay_hours"`
	Note       string `json:"note,omitempty"`
}

type Mission struct {
	ID                string           `json:"id"`
	Reference         string           `json:"reference"`
	ClientEmail       string           `json:"client_email"`
	ProviderID        *string          `json:"provider_id,omitempty"`
	ProviderEmail     *string          `json:"provider_email,omitempty"`
	Category          string           `json:"category"`
	Title             string           `json:"title"`
	Description       string           `json:"description,omitempty"`
	InternalState     State            `json:"internal_state"`
	Estimation        *Estimation      `json:"estimation,omitempty"`
	AvancePercentage  int              `json:"avance_percentage"`
	DelaiMaximalHours *int             `json:"delai_maximal_hours,omitempty"`
	DateLimiteMission *string          `json:"date_limite_mission,omitempty" format:"date-time"`
	SoldeVersee       bool             `json:"solde_versee"`
	DateAssignation   *string          `json:"date_assignation,omitempty" format:"date-time"`
	DateAcceptation   *string          `json:"date_acceptation,omitempty" format:"date-time"`
	SubmissionComment string           `json:"submission_comment,omitempty"`
	Phases            []ExecutionPhase `json:"phases,omitempty"`
	Proofs            []Proof          `json:"proofs,omitempty"`
	ArchivedAt        *string          `json:"archived_at,omitempty" format:"date-time"`
	CreatedAt         string           `json:"created_at" format:"date-time"`
	UpdatedAt         string           `json:"updated_at" format:"date-time"`
}

// Archived reports whether the mission is soft-deleted.
func (m Mission) Archived() bool { return m.ArchivedAt != nil }

// ExecutionPhase is one ordered checklist step within an in-progress mission.
type ExecutionPhase struct {
	ID          string  `json:"id"`
	MissionID   string  `json:"mission_id"`
	Ordre       int     `json:"ordre"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Completed   bool    `json:"completed"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
	Retard      bool    `json:"retard"`
	NoteRetard  string  `json:"note_retard,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

// Proof is evidence metadata attached by the provider; upload mechanics live elsewhere.
type Proof struct {
	ID          string `json:"id"`
	MissionID   string `json:"mission_id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
	URL         string `json:"url,omitempty"`
	UploadedAt  string `json:"uploaded_at" format:"date-time"`
}

type MessageType string

const (
	MessageChat  MessageType = "chat"
	MessageEmail MessageType = "email"
)

// Message is one entry in a mission's communication log. Immutable after
// creation except for the read flag.
type Message struct {
	ID        string      `json:"id"`
	Seq       int64       `json:"seq"`
	MissionID string      `json:"mission_id"`
	From      Role        `json:"from" enum:"client,prestataire,admin"`
	To        Role        `json:"to" enum:"client,prestataire,admin"`
	FromEmail string      `json:"from_email"`
	ToEmail   string      `json:"to_email"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type" enum:"chat,email"`
	Lu        bool        `json:"lu"`
	CreatedAt string      `json:"created_at" format:"date-time"`
}

// CommissionConfig holds the per-category pricing rule used at quote and
// settlement time.
type CommissionConfig struct {
	Category      string  `json:"category"`
	Name          string  `json:"name"`
	BasePercent   float64 `json:"base_percent"`
	MinCommission int64   `json:"min_commission"`
	MaxCommission int64   `json:"max_commission"`
	RiskPercent   float64 `json:"risk_percent"`
	Enabled       bool    `json:"enabled"`
	UpdatedAt     string  `json:"updated_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	MissionID  string `json:"mission_id,omitempty"`
	ActorRole  string `json:"actor_role"`
	ActorEmail string `json:"actor_email"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	Role      Role   `json:"role" enum:"client,prestataire,admin"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
