package domain

// State is the single source of truth for a mission's lifecycle position.
// The legacy human-readable status string is derived via Display, never stored.
type State string

const (
	StateCreated                     State = "CREATED"
	StateAssignedToProvider          State = "ASSIGNED_TO_PROVIDER"
	StateProviderEstimated           State = "PROVIDER_ESTIMATED"
	StateWaitingClientPayment        State = "WAITING_CLIENT_PAYMENT"
	StatePaidWaitingTakeover         State = "PAID_WAITING_TAKEOVER"
	StateAdvanceSent                 State = "ADVANCE_SENT"
	StateInProgress                  State = "IN_PROGRESS"
	StateProviderValidationSubmitted State = "PROVIDER_VALIDATION_SUBMITTED"
	StateAdminConfirmed              State = "ADMIN_CONFIRMED"
	StateCompleted                   State = "COMPLETED"
)

// stateOrder lists states in normal progression order.
var stateOrder = []State{
	StateCreated,
	StateAssignedToProvider,
	StateProviderEstimated,
	StateWaitingClientPayment,
	StatePaidWaitingTakeover,
	StateAdvanceSent,
	StateInProgress,
	StateProviderValidationSubmitted,
	StateAdminConfirmed,
	StateCompleted,
}

var stateProgress = map[State]int{
	StateCreated:                     5,
	StateAssignedToProvider:          15,
	StateProviderEstimated:           25,
	StateWaitingClientPayment:        35,
	StatePaidWaitingTakeover:         45,
	StateAdvanceSent:                 55,
	StateInProgress:                  65,
	StateProviderValidationSubmitted: 80,
	StateAdminConfirmed:              90,
	StateCompleted:                   100,
}

var stateDisplay = map[State]string{
	StateCreated:                     "Nouvelle mission",
	StateAssignedToProvider:          "Assignée au prestataire",
	StateProviderEstimated:           "Estimation reçue",
	StateWaitingClientPayment:        "En attente de paiement client",
	StatePaidWaitingTakeover:         "Payée, en attente de prise en charge",
	StateAdvanceSent:                 "Avance versée",
	StateInProgress:                  "En cours d'exécution",
	StateProviderValidationSubmitted: "Preuves soumises pour validation",
	StateAdminConfirmed:              "Validée par l'administration",
	StateCompleted:                   "Terminée",
}

func (s State) Valid() bool {
	_, ok := stateProgress[s]
	return ok
}

// Ordinal returns the state's position in normal progression, -1 if unknown.
func (s State) Ordinal() int {
	for i, st := range stateOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Progress returns the derived progress percentage for the state, in [0,100].
func (s State) Progress() int {
	if p, ok := stateProgress[s]; ok {
		return p
	}
	return 0
}

// Display returns the legacy human-readable status string for the state.
func (s State) Display() string {
	if d, ok := stateDisplay[s]; ok {
		return d
	}
	return string(s)
}

// Terminal reports whether no further forward transition exists.
func (s State) Terminal() bool { return s == StateCompleted }

// Reached reports whether s is at or beyond the given threshold state.
func (s State) Reached(threshold State) bool {
	so, to := s.Ordinal(), threshold.Ordinal()
	return so >= 0 && to >= 0 && so >= to
}

// Step is one entry of the derived mission timeline consumed by dashboards.
// At most one step is ever unlocked (actionable) at a time.
type Step struct {
	Key       string `json:"key"`
	Label     string `json:"label"`
	Completed bool   `json:"completed"`
	Unlocked  bool   `json:"unlocked"`
}

type stepDef struct {
	key   string
	label string
	// reaches marks the step completed once the mission is at or past it.
	reaches State
}

var stepDefs = []stepDef{
	{"assignation", "Assignation du prestataire", StateAssignedToProvider},
	{"estimation", "Estimation du prestataire", StateProviderEstimated},
	{"paiement", "Paiement du client", StatePaidWaitingTakeover},
	{"avance", "Versement de l'avance", StateAdvanceSent},
	{"prise_en_charge", "Prise en charge", StateInProgress},
	{"validation", "Soumission des preuves", StateProviderValidationSubmitted},
	{"confirmation", "Confirmation administrateur", StateAdminConfirmed},
	{"cloture", "Clôture de la mission", StateCompleted},
}

// Steps projects the mission onto its timeline. A step is completed once the
// mission state has reached the step's threshold; it is unlocked only when the
// mission sits in the state immediately preceding that threshold. The
// validation step additionally requires the phase gate: when phases exist, at
// least one must be completed before submission becomes actionable.
func Steps(m Mission) []Step {
	steps := make([]Step, 0, len(stepDefs))
	for _, def := range stepDefs {
		st := Step{
			Key:       def.key,
			Label:     def.label,
			Completed: m.InternalState.Reached(def.reaches),
		}
		if !st.Completed && m.InternalState.Ordinal() == def.reaches.Ordinal()-1 {
			st.Unlocked = true
			if def.key == "validation" {
				st.Unlocked = m.InternalState == StateInProgress && phaseGateSatisfied(m.Phases)
			}
		}
		// The paiement step covers both the payment request and its
		// confirmation, so it is already actionable from PROVIDER_ESTIMATED.
		if !st.Completed && def.key == "paiement" && m.InternalState == StateProviderEstimated {
			st.Unlocked = true
		}
		steps = append(steps, st)
	}
	return steps
}

func phaseGateSatisfied(phases []ExecutionPhase) bool {
	if len(phases) == 0 {
		return true
	}
	for _, p := range phases {
		if p.Completed {
			return true
		}
	}
	return false
}
