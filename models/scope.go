package models

// ResolvedLogin is the login configuration bound to one role
type ResolvedLogin struct {
	URL              string `json:"url"`
	UsernameSelector string `json:"usernameSelector"`
	PasswordSelector string `json:"passwordSelector"`
	SubmitSelector   string `json:"submitSelector"`
	SuccessRedirect  string `json:"successRedirect"`
	Role             string `json:"role"`
	Username         string `json:"username"`
	Password         string `json:"-"`
}

// ResolvedTestFlow is a flow flattened with its owning module's metadata
type ResolvedTestFlow struct {
	FlowID       string `json:"flowId"`
	FlowName     string `json:"flowName"`
	Description  string `json:"description"`
	Route        string `json:"route"`
	Priority     int    `json:"priority"`
	StepsHint    string `json:"stepsHint"`
	ModuleID     string `json:"moduleId"`
	ModuleName   string `json:"moduleName"`
	RequiredRole string `json:"requiredRole"`
	// MaxSteps overrides the per-flow step cap when positive.
	MaxSteps int `json:"maxSteps,omitempty"`
}

// TestScope is the resolved set of flows to run, immutable once built
type TestScope struct {
	TriggerType       TriggerType        `json:"triggerType"`
	TestFlows         []ResolvedTestFlow `json:"testFlows"`
	AffectedModuleIDs []string           `json:"affectedModuleIds"`
	ModuleNames       []string           `json:"moduleNames"`
	ScopeDescription  string             `json:"scopeDescription"`
	Role              string             `json:"role"`
	Login             ResolvedLogin      `json:"login"`
	TotalFlows        int                `json:"totalFlows"`
}

// IsSmoke reports whether this is the fallback smoke scope
func (s *TestScope) IsSmoke() bool {
	return s.TriggerType == TriggerSmoke
}
