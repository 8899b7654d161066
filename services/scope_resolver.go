package services

import (
	"fmt"
	"sort"
	"strings"

	"github.com/KBesada24/AI-E2E-Agent/models"
	"github.com/KBesada24/AI-E2E-Agent/utils"
	"github.com/samber/lo"
)

// Smoke flow identity
const (
	SmokeFlowID     = "smoke-home"
	SmokeFlowName   = "home smoke check"
	SmokeModuleID   = "smoke"
	WholeAppFlowID  = "whole-app"
	WholeAppModule  = "app"
	wholeAppFlowTag = "Whole application"
)

// ScopeResolver turns affected modules into an ordered test scope
type ScopeResolver struct {
	mapping  *models.ModuleMapping
	analyzer *ChangeAnalyzer
	logger   *utils.Logger
}

// NewScopeResolver creates a scope resolver over the mapping table
func NewScopeResolver(mapping *models.ModuleMapping, analyzer *ChangeAnalyzer, logger *utils.Logger) *ScopeResolver {
	if mapping == nil {
		mapping = &models.ModuleMapping{}
	}
	if logger == nil {
		logger = utils.GetLogger()
	}
	if analyzer == nil {
		analyzer = NewChangeAnalyzer(mapping, logger)
	}
	return &ScopeResolver{
		mapping:  mapping,
		analyzer: analyzer,
		logger:   logger.WithSource("scope_resolver"),
	}
}

// ResolveScope resolves modules to flows; changedFiles narrows flows that declare their own patterns
func (r *ScopeResolver) ResolveScope(moduleIDs []string, changedFiles []string) *models.TestScope {
	return r.resolve(models.TriggerPush, moduleIDs, changedFiles)
}

// ResolveDeploymentScope runs every flow of every critical module
func (r *ScopeResolver) ResolveDeploymentScope() *models.TestScope {
	ids := lo.Map(r.analyzer.CriticalModules(), func(m models.ModuleDefinition, _ int) string {
		return m.ID
	})
	return r.resolve(models.TriggerDeployment, ids, nil)
}

// ResolveChanges analyzes changed files and resolves the resulting modules
func (r *ScopeResolver) ResolveChanges(changedFiles []string) ([]string, *models.TestScope) {
	ids := r.analyzer.AnalyzeChangedFiles(changedFiles)
	return ids, r.ResolveScope(ids, changedFiles)
}

func (r *ScopeResolver) resolve(trigger models.TriggerType, moduleIDs []string, changedFiles []string) *models.TestScope {
	if len(moduleIDs) == 0 {
		r.logger.Info("No affected modules, using smoke scope")
		return r.SmokeScope()
	}

	wanted := lo.Associate(moduleIDs, func(id string) (string, bool) { return id, true })
	modules := lo.Filter(r.mapping.Modules, func(m models.ModuleDefinition, _ int) bool {
		return wanted[m.ID]
	})
	if len(modules) == 0 {
		r.logger.Warn("Affected module ids not found in mapping, using smoke scope", map[string]interface{}{
			"module_ids": moduleIDs,
		})
		return r.SmokeScope()
	}

	files := normalizePaths(changedFiles)
	var flows []models.ResolvedTestFlow
	var roles []string

	for _, module := range modules {
		roles = append(roles, module.RequiredRole)
		for _, flow := range module.TestFlows {
			if flow.HasFilePatterns() && len(files) > 0 && !r.analyzer.MatchesAnyPattern(files, flow.FilePatterns) {
				r.logger.Debug("Flow patterns did not match changed files, skipping", map[string]interface{}{
					"module_id": module.ID,
					"flow_id":   flow.ID,
				})
				continue
			}
			flows = append(flows, models.ResolvedTestFlow{
				FlowID:       flow.ID,
				FlowName:     flow.Name,
				Description:  flow.Description,
				Route:        flow.Route,
				Priority:     flow.Priority,
				StepsHint:    flow.StepsHint,
				ModuleID:     module.ID,
				ModuleName:   module.Name,
				RequiredRole: module.RequiredRole,
			})
		}
	}

	if len(flows) == 0 {
		r.logger.Info("Every flow was filtered out by its file patterns, using smoke scope", map[string]interface{}{
			"module_ids": moduleIDs,
		})
		return r.SmokeScope()
	}

	sort.SliceStable(flows, func(i, j int) bool {
		return flows[i].Priority < flows[j].Priority
	})

	role := chooseRole(roles)
	scope := &models.TestScope{
		TriggerType:       trigger,
		TestFlows:         flows,
		AffectedModuleIDs: lo.Map(modules, func(m models.ModuleDefinition, _ int) string { return m.ID }),
		ModuleNames:       lo.Map(modules, func(m models.ModuleDefinition, _ int) string { return m.Name }),
		ScopeDescription:  describeScope(modules, flows),
		Role:              role,
		Login:             r.resolveLogin(role),
		TotalFlows:        len(flows),
	}

	r.logger.Info("Test scope resolved", map[string]interface{}{
		"trigger": string(trigger),
		"modules": scope.AffectedModuleIDs,
		"flows":   len(flows),
		"role":    role,
	})
	return scope
}

// SmokeScope returns the canonical single-flow fallback scope
func (r *ScopeResolver) SmokeScope() *models.TestScope {
	flow := models.ResolvedTestFlow{
		FlowID:       SmokeFlowID,
		FlowName:     SmokeFlowName,
		Description:  "Verify the application home page loads",
		Route:        "/",
		Priority:     1,
		StepsHint:    "Confirm the home page renders, main navigation is visible and there are no error messages",
		ModuleID:     SmokeModuleID,
		ModuleName:   "Smoke",
		RequiredRole: models.RoleAdmin,
	}
	return &models.TestScope{
		TriggerType:       models.TriggerSmoke,
		TestFlows:         []models.ResolvedTestFlow{flow},
		AffectedModuleIDs: []string{},
		ModuleNames:       []string{},
		ScopeDescription: "## Test scope\n\nNo specific module was affected. Run a basic smoke check:\n" +
			"- " + flow.FlowName + " (" + flow.Route + "): " + flow.Description + "\n" +
			"  Hint: " + flow.StepsHint + "\n",
		Role:       models.RoleAdmin,
		Login:      r.resolveLogin(models.RoleAdmin),
		TotalFlows: 1,
	}
}

// WholeAppScope is the unscoped mode: one synthetic flow exploring the whole application
func (r *ScopeResolver) WholeAppScope(appDescription string, maxSteps int) *models.TestScope {
	hint := strings.TrimSpace(appDescription)
	if hint == "" {
		hint = "Explore the main pages, exercise the primary navigation and forms, verify content renders without errors"
	}
	flow := models.ResolvedTestFlow{
		FlowID:       WholeAppFlowID,
		FlowName:     wholeAppFlowTag,
		Description:  "Exploratory test of the whole application",
		Route:        "/",
		Priority:     1,
		StepsHint:    hint,
		ModuleID:     WholeAppModule,
		ModuleName:   "Application",
		RequiredRole: models.RoleAdmin,
		MaxSteps:     maxSteps,
	}
	return &models.TestScope{
		TriggerType:       models.TriggerManual,
		TestFlows:         []models.ResolvedTestFlow{flow},
		AffectedModuleIDs: []string{},
		ModuleNames:       []string{flow.ModuleName},
		ScopeDescription:  "## Test scope\n\nThe whole application.\n\n" + hint + "\n",
		Role:              models.RoleAdmin,
		Login:             r.resolveLogin(models.RoleAdmin),
		TotalFlows:        1,
	}
}

// Modules returns the mapping table modules
func (r *ScopeResolver) Modules() []models.ModuleDefinition {
	return r.mapping.Modules
}

// Analyzer returns the change analyzer backing this resolver
func (r *ScopeResolver) Analyzer() *ChangeAnalyzer {
	return r.analyzer
}

func (r *ScopeResolver) resolveLogin(role string) models.ResolvedLogin {
	l := r.mapping.Login
	creds := l.CredentialsFor(role)
	return models.ResolvedLogin{
		URL:              l.URL,
		UsernameSelector: l.UsernameSelector,
		PasswordSelector: l.PasswordSelector,
		SubmitSelector:   l.SubmitSelector,
		SuccessRedirect:  l.SuccessRedirect,
		Role:             role,
		Username:         creds.Username,
		Password:         creds.Password,
	}
}

// chooseRole prefers ADMIN, otherwise the first role seen
func chooseRole(roles []string) string {
	roles = lo.Uniq(lo.Filter(roles, func(r string, _ int) bool { return r != "" }))
	if len(roles) == 0 || lo.Contains(roles, models.RoleAdmin) {
		return models.RoleAdmin
	}
	return roles[0]
}

// describeScope renders the planner context listing each module and its included flows
func describeScope(modules []models.ModuleDefinition, flows []models.ResolvedTestFlow) string {
	var b strings.Builder
	b.WriteString("## Test scope\n\n")
	b.WriteString("Code changes affect the following modules and flows:\n\n")

	for _, module := range modules {
		marker := ""
		if module.Critical {
			marker = " [critical]"
		}
		fmt.Fprintf(&b, "### %s (%s)%s\n", module.Name, module.ID, marker)
		for _, flow := range flows {
			if flow.ModuleID != module.ID {
				continue
			}
			fmt.Fprintf(&b, "- %s (%s): %s\n", flow.FlowName, flow.Route, flow.Description)
			if flow.StepsHint != "" {
				fmt.Fprintf(&b, "  Hint: %s\n", flow.StepsHint)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("Plan concrete steps following the flows above in order. ")
	b.WriteString("Check that pages load, buttons respond, forms submit and data renders correctly.\n")
	return b.String()
}
