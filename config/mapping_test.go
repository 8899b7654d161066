package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/KBesada24/AI-E2E-Agent/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModuleMapping(t *testing.T) {
	t.Setenv("E2E_TEST_SALES_USER", "seller")

	mapping, err := ParseModuleMapping([]byte(`
e2e:
  login:
    username: ${E2E_TEST_MISSING_USER:root}
    roleAccounts:
      SALES:
        username: ${E2E_TEST_SALES_USER}
        password: ${E2E_TEST_MISSING_PASSWORD}
  modules:
    - id: order
      critical: true
      filePatterns: ["**/views/order/**"]
      testFlows:
        - id: order-query
          route: /order/list
        - id: order-submit
          name: Submit Order
          priority: 1
`))
	require.NoError(t, err)

	login := mapping.Login
	assert.Equal(t, "/login", login.URL)
	assert.Equal(t, "input[name='username']", login.UsernameSelector)
	assert.Equal(t, "button[type='submit']", login.SubmitSelector)
	assert.Equal(t, "root", login.Username)
	assert.Equal(t, "admin", login.Password)
	assert.Equal(t, models.Credentials{Username: "seller", Password: ""}, login.RoleAccounts["SALES"])

	require.Len(t, mapping.Modules, 1)
	module := mapping.Modules[0]
	assert.Equal(t, "order", module.Name)
	assert.Equal(t, models.RoleAdmin, module.RequiredRole)
	require.Len(t, module.TestFlows, 2)
	assert.Equal(t, "order-query", module.TestFlows[0].Name)
	assert.Equal(t, models.DefaultFlowPriority, module.TestFlows[0].Priority)
	assert.Equal(t, 1, module.TestFlows[1].Priority)
}

func TestParseModuleMappingKeepsLiteralDollars(t *testing.T) {
	t.Setenv("E2E_TEST_REPORTS_PASSWORD", "s3cret")

	mapping, err := ParseModuleMapping([]byte(`
e2e:
  login:
    username: "$USER"
    password: "pa$$w0rd$1"
    roleAccounts:
      REPORTS:
        username: "rep-${E2E_TEST_REPORTS_USER:viewer}"
        password: "${E2E_TEST_REPORTS_PASSWORD}$"
  modules:
    - id: billing
      filePatterns: ["**/billing/$generated/**"]
      testFlows:
        - id: invoice-total
          route: /billing/${invoiceId}
          stepsHint: "Total must read $100 and the ${currency} label must show"
`))
	require.NoError(t, err)

	assert.Equal(t, "$USER", mapping.Login.Username)
	assert.Equal(t, "pa$$w0rd$1", mapping.Login.Password)
	assert.Equal(t, models.Credentials{Username: "rep-viewer", Password: "s3cret$"}, mapping.Login.RoleAccounts["REPORTS"])

	module := mapping.Modules[0]
	assert.Equal(t, []string{"**/billing/$generated/**"}, module.FilePatterns)
	flow := module.TestFlows[0]
	assert.Equal(t, "/billing/${invoiceId}", flow.Route)
	assert.Equal(t, "Total must read $100 and the ${currency} label must show", flow.StepsHint)
}

func TestExpandPlaceholders(t *testing.T) {
	t.Setenv("E2E_TEST_TOKEN", "abc")

	tests := []struct {
		name  string
		value string
		want  string
	}{
		{name: "set variable", value: "${E2E_TEST_TOKEN}", want: "abc"},
		{name: "default used", value: "${E2E_TEST_UNSET_TOKEN:fallback}", want: "fallback"},
		{name: "unset without default", value: "x${E2E_TEST_UNSET_TOKEN}y", want: "xy"},
		{name: "bare dollar name", value: "$E2E_TEST_TOKEN", want: "$E2E_TEST_TOKEN"},
		{name: "shell forms", value: "pa$$w0rd$1", want: "pa$$w0rd$1"},
		{name: "invalid name", value: "${1abc}", want: "${1abc}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, expandPlaceholders(tt.value))
		})
	}
}

func TestParseModuleMappingErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown field",
			yaml:    "e2e:\n  modules:\n    - id: order\n      owner: sales\n",
			wantErr: "field owner not found",
		},
		{
			name:    "module without id",
			yaml:    "e2e:\n  modules:\n    - name: Order\n",
			wantErr: "module #1 has no id",
		},
		{
			name:    "duplicate module",
			yaml:    "e2e:\n  modules:\n    - id: order\n    - id: order\n",
			wantErr: `duplicate module id "order"`,
		},
		{
			name:    "flow without id",
			yaml:    "e2e:\n  modules:\n    - id: order\n      testFlows:\n        - name: Query\n",
			wantErr: `module "order": flow #1 has no id`,
		},
		{
			name:    "duplicate flow",
			yaml:    "e2e:\n  modules:\n    - id: order\n      testFlows:\n        - id: q\n        - id: q\n",
			wantErr: `duplicate flow id "q"`,
		},
		{
			name:    "not yaml",
			yaml:    "e2e: [",
			wantErr: "decode module mapping",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseModuleMapping([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadModuleMapping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.yml")
	require.NoError(t, os.WriteFile(path, []byte("e2e:\n  modules:\n    - id: order\n"), 0o600))

	mapping, err := LoadModuleMapping(path)
	require.NoError(t, err)
	assert.Len(t, mapping.Modules, 1)

	_, err = LoadModuleMapping(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestBundledMappingFileParses(t *testing.T) {
	mapping, err := LoadModuleMapping(filepath.Join("..", "e2e-module-mapping.yml"))
	require.NoError(t, err)
	assert.NotEmpty(t, mapping.Modules)
}

func TestDefaultModuleMapping(t *testing.T) {
	mapping := DefaultModuleMapping()
	assert.Empty(t, mapping.Modules)
	assert.Equal(t, "/login", mapping.Login.URL)
	assert.Equal(t, "admin", mapping.Login.Username)
}
