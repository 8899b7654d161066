package models

// RoleAdmin can reach every page of the application under test
const RoleAdmin = "ADMIN"

// DefaultFlowPriority is applied to flows that do not declare one
const DefaultFlowPriority = 5

// Credentials is a username/password pair used to log in
type Credentials struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// LoginConfig describes how to authenticate against the application
type LoginConfig struct {
	URL              string                 `yaml:"url" json:"url"`
	UsernameSelector string                 `yaml:"usernameSelector" json:"usernameSelector"`
	PasswordSelector string                 `yaml:"passwordSelector" json:"passwordSelector"`
	SubmitSelector   string                 `yaml:"submitSelector" json:"submitSelector"`
	SuccessRedirect  string                 `yaml:"successRedirect" json:"successRedirect"`
	Username         string                 `yaml:"username" json:"username"`
	Password         string                 `yaml:"password" json:"-"`
	RoleAccounts     map[string]Credentials `yaml:"roleAccounts" json:"roleAccounts,omitempty"`
}

// CredentialsFor returns the account for role, falling back to the default one
func (l LoginConfig) CredentialsFor(role string) Credentials {
	if acc, ok := l.RoleAccounts[role]; ok && acc.Username != "" {
		return acc
	}
	return Credentials{Username: l.Username, Password: l.Password}
}

// TestFlowDefinition is one user scenario inside a module
type TestFlowDefinition struct {
	ID           string   `yaml:"id" json:"id"`
	Name         string   `yaml:"name" json:"name"`
	Description  string   `yaml:"description" json:"description"`
	Route        string   `yaml:"route" json:"route"`
	Priority     int      `yaml:"priority" json:"priority"`
	StepsHint    string   `yaml:"stepsHint" json:"stepsHint"`
	FilePatterns []string `yaml:"filePatterns" json:"filePatterns,omitempty"`
}

// HasFilePatterns reports whether the flow narrows its own inclusion
func (f TestFlowDefinition) HasFilePatterns() bool {
	return len(f.FilePatterns) > 0
}

// ModuleDefinition is a business area owned by a set of file globs
type ModuleDefinition struct {
	ID           string               `yaml:"id" json:"id"`
	Name         string               `yaml:"name" json:"name"`
	Critical     bool                 `yaml:"critical" json:"critical"`
	FilePatterns []string             `yaml:"filePatterns" json:"filePatterns"`
	RequiredRole string               `yaml:"requiredRole" json:"requiredRole"`
	TestFlows    []TestFlowDefinition `yaml:"testFlows" json:"testFlows"`
}

// ModuleMapping is the static table loaded at startup
type ModuleMapping struct {
	Login   LoginConfig        `yaml:"login" json:"login"`
	Modules []ModuleDefinition `yaml:"modules" json:"modules"`
}
