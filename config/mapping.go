package config

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/KBesada24/AI-E2E-Agent/models"
	"gopkg.in/yaml.v3"
)

// mappingFile is the on-disk shape, wrapping the table under an e2e key
type mappingFile struct {
	E2E models.ModuleMapping `yaml:"e2e"`
}

// LoadModuleMapping reads the module mapping table from a YAML file
func LoadModuleMapping(path string) (*models.ModuleMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read module mapping %s: %w", path, err)
	}
	return ParseModuleMapping(data)
}

// placeholderPattern matches ${NAME} and ${NAME:default}
var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([^}]*))?\}`)

// ParseModuleMapping decodes, expands ${ENV} placeholders in credentials, applies defaults and validates
func ParseModuleMapping(data []byte) (*models.ModuleMapping, error) {
	var file mappingFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode module mapping: %w", err)
	}

	mapping := &file.E2E
	expandCredentials(&mapping.Login)
	applyMappingDefaults(mapping)
	if err := validateMapping(mapping); err != nil {
		return nil, err
	}
	return mapping, nil
}

// DefaultModuleMapping is the table used when no mapping file exists: login defaults and no modules,
// so every push resolves to the smoke scope
func DefaultModuleMapping() *models.ModuleMapping {
	m := &models.ModuleMapping{}
	applyMappingDefaults(m)
	return m
}

// expandCredentials resolves placeholders in the default and per-role credentials only
func expandCredentials(l *models.LoginConfig) {
	l.Username = expandPlaceholders(l.Username)
	l.Password = expandPlaceholders(l.Password)
	for role, creds := range l.RoleAccounts {
		l.RoleAccounts[role] = models.Credentials{
			Username: expandPlaceholders(creds.Username),
			Password: expandPlaceholders(creds.Password),
		}
	}
}

// expandPlaceholders replaces ${NAME} and ${NAME:default} from the environment, leaving any other $ literal
func expandPlaceholders(value string) string {
	if !strings.Contains(value, "${") {
		return value
	}
	return placeholderPattern.ReplaceAllStringFunc(value, func(match string) string {
		groups := placeholderPattern.FindStringSubmatch(match)
		if env, ok := os.LookupEnv(groups[1]); ok {
			return env
		}
		return groups[2]
	})
}

// applyMappingDefaults fills the login and flow defaults
func applyMappingDefaults(m *models.ModuleMapping) {
	l := &m.Login
	setDefault(&l.URL, "/login")
	setDefault(&l.UsernameSelector, "input[name='username']")
	setDefault(&l.PasswordSelector, "input[name='password']")
	setDefault(&l.SubmitSelector, "button[type='submit']")
	setDefault(&l.SuccessRedirect, "/")
	setDefault(&l.Username, "admin")
	setDefault(&l.Password, "admin")

	for i := range m.Modules {
		mod := &m.Modules[i]
		setDefault(&mod.RequiredRole, models.RoleAdmin)
		setDefault(&mod.Name, mod.ID)
		for j := range mod.TestFlows {
			flow := &mod.TestFlows[j]
			if flow.Priority == 0 {
				flow.Priority = models.DefaultFlowPriority
			}
			setDefault(&flow.Name, flow.ID)
		}
	}
}

func setDefault(field *string, value string) {
	if strings.TrimSpace(*field) == "" {
		*field = value
	}
}

// validateMapping rejects tables with missing or duplicate identifiers
func validateMapping(m *models.ModuleMapping) error {
	seenModules := make(map[string]bool, len(m.Modules))
	for i, mod := range m.Modules {
		if mod.ID == "" {
			return fmt.Errorf("module #%d has no id", i+1)
		}
		if seenModules[mod.ID] {
			return fmt.Errorf("duplicate module id %q", mod.ID)
		}
		seenModules[mod.ID] = true

		seenFlows := make(map[string]bool, len(mod.TestFlows))
		for j, flow := range mod.TestFlows {
			if flow.ID == "" {
				return fmt.Errorf("module %q: flow #%d has no id", mod.ID, j+1)
			}
			if seenFlows[flow.ID] {
				return fmt.Errorf("module %q: duplicate flow id %q", mod.ID, flow.ID)
			}
			seenFlows[flow.ID] = true
		}
	}
	return nil
}
