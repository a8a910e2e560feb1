package domain

// NestedHistory is the tree-shaped audit payload the backend returns for a
// single project. Every node carries its own history slice; optional branches
// are simply absent when the project has no data for them.
type NestedHistory struct {
	Project []RawHistoryRecord `json:"project,omitempty"`
	PPAP    *NestedPPAP        `json:"ppap,omitempty"`
	Team    *NestedTeam        `json:"team,omitempty"`
	Users   []NestedUser       `json:"users,omitempty"`
}

// NestedPPAP groups PPAP-level history with its phases, keyed by phase ID.
type NestedPPAP struct {
	History []RawHistoryRecord     `json:"history,omitempty"`
	Phases  map[string]NestedPhase `json:"phases,omitempty"`
}

// NestedPhase carries phase history and its outputs, keyed by output ID.
type NestedPhase struct {
	Name    string                  `json:"name"`
	History []RawHistoryRecord      `json:"history,omitempty"`
	Outputs map[string]NestedOutput `json:"outputs,omitempty"`
}

// NestedOutput carries output history and its documents, keyed by document ID.
type NestedOutput struct {
	Name      string                    `json:"name"`
	History   []RawHistoryRecord        `json:"history,omitempty"`
	Documents map[string]NestedDocument `json:"documents,omitempty"`
}

// NestedDocument is a leaf node holding document-level history.
type NestedDocument struct {
	Name    string             `json:"name"`
	History []RawHistoryRecord `json:"history,omitempty"`
}

// NestedTeam groups team-level history with its members, keyed by person ID.
type NestedTeam struct {
	History []RawHistoryRecord      `json:"history,omitempty"`
	Persons map[string]NestedPerson `json:"persons,omitempty"`
}

// NestedPerson is a leaf node holding a team member's history.
type NestedPerson struct {
	Name    string             `json:"name"`
	History []RawHistoryRecord `json:"history,omitempty"`
}

// NestedUser is a flat branch entry for account-level history.
type NestedUser struct {
	ID       string             `json:"id"`
	Username string             `json:"username"`
	History  []RawHistoryRecord `json:"history,omitempty"`
}

// ProjectHistory pairs a project's display name with its nested audit tree.
type ProjectHistory struct {
	ProjectName string        `json:"project_name"`
	History     NestedHistory `json:"history"`
}

// PaginatedHistory is the envelope of the paginated history endpoint.
// Results maps project IDs to their audit trees.
type PaginatedHistory struct {
	Total    int                       `json:"total"`
	Page     int                       `json:"page"`
	PageSize int                       `json:"page_size"`
	Pages    int                       `json:"pages"`
	Results  map[string]ProjectHistory `json:"results"`
}
