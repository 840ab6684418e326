package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/coreagent/loopcore/internal/config"
	"github.com/coreagent/loopcore/internal/hooks"
	"github.com/coreagent/loopcore/internal/hooks/bundled"
	"github.com/coreagent/loopcore/internal/jobs"
	"github.com/coreagent/loopcore/internal/providers/bedrock"
	"github.com/coreagent/loopcore/internal/workspace"
	"github.com/coreagent/loopcore/pkg/pluginsdk"
)

// doctorCheck is one pass/fail line of the health report.
type doctorCheck struct {
	name string
	err  error
}

func newDoctorCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "validate config, workspace files, and storage connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags.configPath)
			if err != nil {
				fmt.Printf("FAIL config: %v\n", err)
				return err
			}
			fmt.Println("OK   config loaded and validated")

			checks := []doctorCheck{
				checkWorkspace(cfg),
				checkWorkspaceFiles(cfg),
				checkProviderCredentials(cfg, flags.provider),
				checkPluginManifests(cfg),
				checkBundledHooks(),
				checkBedrockDiscovery(cmd.Context(), cfg, flags.provider),
				checkDatabase(cfg),
			}

			failed := false
			for _, c := range checks {
				if c.err != nil {
					failed = true
					fmt.Printf("FAIL %s: %v\n", c.name, c.err)
					continue
				}
				fmt.Printf("OK   %s\n", c.name)
			}
			if failed {
				return fmt.Errorf("doctor found issues")
			}
			return nil
		},
	}
}

func checkWorkspace(cfg *config.Config) doctorCheck {
	check := doctorCheck{name: "workspace"}
	if !cfg.Workspace.Enabled {
		return check
	}
	base := strings.TrimSpace(cfg.Workspace.Path)
	if base == "" {
		return check
	}
	if info, err := os.Stat(base); err != nil || !info.IsDir() {
		check.err = fmt.Errorf("workspace path %q is not a directory", base)
	}
	return check
}

// checkWorkspaceFiles loads the workspace persona/memory files through the
// workspace loader, so a malformed identity file fails here instead of
// silently producing a broken system prompt at run time.
func checkWorkspaceFiles(cfg *config.Config) doctorCheck {
	check := doctorCheck{name: "workspace files"}
	if !cfg.Workspace.Enabled || strings.TrimSpace(cfg.Workspace.Path) == "" {
		return check
	}
	ws, err := workspace.LoadWorkspace(workspace.LoaderConfigFromConfig(cfg))
	if err != nil {
		check.err = err
		return check
	}
	if ws != nil && strings.TrimSpace(ws.SystemPromptContext()) == "" {
		check.err = fmt.Errorf("workspace loaded but produced no prompt context (missing AGENTS.md/IDENTITY.md?)")
	}
	return check
}

// checkPluginManifests validates every plugin manifest on the configured
// load paths.
func checkPluginManifests(cfg *config.Config) doctorCheck {
	check := doctorCheck{name: "plugin manifests"}
	var problems []string
	for _, root := range cfg.Plugins.Load.Paths {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			path := filepath.Join(root, entry.Name(), pluginsdk.ManifestFilename)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			manifest, err := pluginsdk.DecodeManifestFile(path)
			if err == nil {
				err = manifest.Validate()
			}
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s: %v", path, err))
			}
		}
	}
	if len(problems) > 0 {
		check.err = fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return check
}

// checkBundledHooks parses every hook shipped in the binary so a malformed
// bundled HOOK.md is caught by CI instead of a user.
func checkBundledHooks() doctorCheck {
	check := doctorCheck{name: "bundled hooks"}
	fsys := bundled.BundledFS()
	var problems []string
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != hooks.HookFilename {
			return nil
		}
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", path, err))
			return nil
		}
		entry, err := hooks.ParseHook(data, path)
		if err == nil {
			err = hooks.ValidateHook(entry)
		}
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", path, err))
		}
		return nil
	})
	if err != nil {
		check.err = err
		return check
	}
	if len(problems) > 0 {
		check.err = fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return check
}

// checkBedrockDiscovery exercises AWS Bedrock model discovery when the
// selected provider is bedrock and discovery is enabled.
func checkBedrockDiscovery(ctx context.Context, cfg *config.Config, providerOverride string) doctorCheck {
	check := doctorCheck{name: "bedrock model discovery"}
	providerID := strings.ToLower(strings.TrimSpace(providerOverride))
	if providerID == "" {
		providerID = strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider))
	}
	if providerID != "bedrock" || !cfg.LLM.Bedrock.Enabled {
		return check
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	defs, err := bedrock.DiscoverModels(ctx, &bedrock.DiscoveryConfig{Region: cfg.LLM.Bedrock.Region})
	if err != nil {
		check.err = err
		return check
	}
	if len(defs) == 0 {
		check.err = fmt.Errorf("discovery returned no foundation models")
	}
	return check
}

func checkProviderCredentials(cfg *config.Config, providerOverride string) doctorCheck {
	check := doctorCheck{name: "llm provider credentials"}
	providerID := strings.ToLower(strings.TrimSpace(providerOverride))
	if providerID == "" {
		providerID = strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider))
	}
	if providerID == "" {
		check.err = fmt.Errorf("no default_provider configured")
		return check
	}
	entry, ok := cfg.LLM.Providers[providerID]
	if !ok {
		check.err = fmt.Errorf("provider %q has no entry under llm.providers", providerID)
		return check
	}
	if providerID != "ollama" && strings.TrimSpace(entry.APIKey) == "" {
		check.err = fmt.Errorf("provider %q is missing an api_key", providerID)
	}
	return check
}

func checkDatabase(cfg *config.Config) doctorCheck {
	check := doctorCheck{name: "database connectivity"}
	dsn := strings.TrimSpace(cfg.Database.URL)
	if dsn == "" {
		return check
	}
	store, err := jobs.NewCockroachStoreFromDSN(dsn, jobs.DefaultCockroachConfig())
	if err != nil {
		check.err = err
		return check
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := store.List(ctx, 1, 0); err != nil {
		check.err = fmt.Errorf("query failed: %w", err)
	}
	return check
}
