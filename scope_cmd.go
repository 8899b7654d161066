package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"

	"github.com/KBesada24/AI-E2E-Agent/config"
	"github.com/KBesada24/AI-E2E-Agent/models"
	"github.com/KBesada24/AI-E2E-Agent/services"
	"github.com/KBesada24/AI-E2E-Agent/utils"
	"github.com/spf13/cobra"
)

type scopeOptions struct {
	mappingPath string
	diffRange   string
	deployment  bool
	stdin       bool
}

func newScopeCommand() *cobra.Command {
	opts := scopeOptions{}
	cmd := &cobra.Command{
		Use:   "scope [changed-file...]",
		Short: "Resolve the test scope for a set of changed files and print it as JSON",
		Long: "Resolve the test scope offline. Changed files come from the arguments, from stdin " +
			"(one path per line, or raw git diff output) or from `git diff --name-only <range>`.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScope(cmd.OutOrStdout(), cmd.InOrStdin(), opts, args)
		},
	}
	cmd.Flags().StringVarP(&opts.mappingPath, "mapping", "m", "e2e-module-mapping.yml", "module mapping YAML file")
	cmd.Flags().StringVar(&opts.diffRange, "diff", "", "git revision range to read changed files from, e.g. HEAD~1..HEAD")
	cmd.Flags().BoolVar(&opts.deployment, "deployment", false, "resolve the deployment scope (every critical module)")
	cmd.Flags().BoolVar(&opts.stdin, "stdin", false, "read changed files or git diff output from stdin")
	return cmd
}

func runScope(out io.Writer, in io.Reader, opts scopeOptions, args []string) error {
	mapping, err := config.LoadModuleMapping(opts.mappingPath)
	if err != nil {
		return err
	}
	logger := utils.NewNopLogger()
	analyzer := services.NewChangeAnalyzer(mapping, logger)
	resolver := services.NewScopeResolver(mapping, analyzer, logger)

	if opts.deployment {
		scope := resolver.ResolveDeploymentScope()
		return writeJSON(out, models.ScopeAnalysis{
			ChangedFiles:      []string{},
			AffectedModuleIDs: scope.AffectedModuleIDs,
			Scope:             scope,
		})
	}

	files, err := collectChangedFiles(in, opts, args)
	if err != nil {
		return err
	}
	ids, scope := resolver.ResolveChanges(files)
	return writeJSON(out, models.ScopeAnalysis{
		ChangedFiles:      files,
		AffectedModuleIDs: ids,
		Scope:             scope,
	})
}

// collectChangedFiles merges paths from args, stdin and git
func collectChangedFiles(in io.Reader, opts scopeOptions, args []string) ([]string, error) {
	files := append([]string(nil), args...)

	if opts.stdin {
		data, err := io.ReadAll(bufio.NewReader(in))
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		files = append(files, services.ParseGitDiffOutput(string(data))...)
	}

	if opts.diffRange != "" {
		out, err := exec.Command("git", "diff", "--name-only", opts.diffRange).Output()
		if err != nil {
			return nil, fmt.Errorf("git diff %s: %w", opts.diffRange, err)
		}
		files = append(files, services.ParseGitDiffOutput(string(out))...)
	}

	return services.NormalizeWebhookPaths(files), nil
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode scope: %w", err)
	}
	return nil
}
