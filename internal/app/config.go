package app

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"slipway/internal/security"
)

const (
	DefaultKeepReleases   = 5
	DefaultCloneTimeout   = 120
	DefaultBuildTimeout   = 600
	DefaultMigrateTimeout = 300
	DefaultHookTimeout    = 300
)

// LoadConfig loads and validates the configuration from a YAML file.
func LoadConfig(configPath string) (*Config, map[string]*App, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	// Empty YAML files unmarshal to a nil map
	if config.Apps == nil {
		config.Apps = make(map[string]AppConfig)
	}

	apps := make(map[string]*App)
	for name, appConfig := range config.Apps {
		errors := ValidateAppConfig(name, appConfig)
		if len(errors) > 0 {
			return nil, nil, fmt.Errorf("invalid configuration for app '%s':\n%s",
				name, strings.Join(errors, "\n"))
		}

		apps[name] = buildApp(name, appConfig)
	}

	return &config, apps, nil
}

// buildApp applies defaults and produces a validated App.
// ValidateAppConfig must have passed already.
func buildApp(name string, c AppConfig) *App {
	branch := c.Branch
	if branch == "" {
		branch = "main"
	}

	strategy := Strategy(c.Strategy)
	if c.Strategy == "" {
		strategy = StrategySymlink
	}

	policy := MigrationPolicy(c.MigrationPolicy)
	if c.MigrationPolicy == "" {
		policy = MigrateOff
	}

	keep := c.KeepReleases
	if keep == 0 {
		keep = DefaultKeepReleases
	}

	token := c.GitHubToken
	if env := os.Getenv("SLIPWAY_GITHUB_TOKEN"); env != "" {
		token = env
	}

	return &App{
		Name:             name,
		Path:             filepath.Clean(c.Path),
		Repo:             c.Repo,
		Branch:           branch,
		Strategy:         strategy,
		HealthURL:        c.HealthURL,
		KeepReleases:     keep,
		MigrationPolicy:  policy,
		BuildCommands:    c.BuildCommands,
		MigrateCommand:   c.MigrateCommand,
		SelfCheckCommand: c.SelfCheckCommand,
		DumpCommand:      c.DumpCommand,
		Service:          c.Service,
		WorkerServices:   c.WorkerServices,
		ReloadNginx:      c.ReloadNginx,
		Secret:           c.Secret,
		GitHubToken:      token,
		CloneTimeout:     defaultInt(c.CloneTimeout, DefaultCloneTimeout),
		BuildTimeout:     defaultInt(c.BuildTimeout, DefaultBuildTimeout),
		MigrateTimeout:   defaultInt(c.MigrateTimeout, DefaultMigrateTimeout),
		HookTimeout:      defaultInt(c.HookTimeout, DefaultHookTimeout),
	}
}

func defaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// ValidateAppConfig validates a single app configuration.
// Returns the full list of problems so the operator can fix them in one go.
func ValidateAppConfig(name string, config AppConfig) []string {
	var errors []string

	appendErr := func(format string, args ...interface{}) {
		errors = append(errors, fmt.Sprintf("  - App '%s': ", name)+fmt.Sprintf(format, args...))
	}

	if err := security.ValidateAppName(name); err != nil {
		appendErr("invalid name: %v", err)
	}

	// Path must be absolute. It does not need to exist yet: the first
	// deployment creates the layout.
	if config.Path == "" {
		appendErr("missing required 'path' field")
	} else if !filepath.IsAbs(config.Path) {
		appendErr("path must be absolute, got '%s'", config.Path)
	} else if info, err := os.Stat(config.Path); err == nil && !info.IsDir() {
		appendErr("path is not a directory: '%s'", config.Path)
	}

	if config.Repo == "" {
		appendErr("missing required 'repo' field")
	} else if err := security.ValidateRepoURL(config.Repo); err != nil {
		appendErr("invalid repo: %v", err)
	}

	branch := config.Branch
	if branch == "" {
		branch = "main"
	}
	if err := security.ValidateBranchName(branch); err != nil {
		appendErr("invalid branch: %v", err)
	}

	switch Strategy(config.Strategy) {
	case "", StrategySymlink, StrategyInplace:
	default:
		appendErr("strategy must be '%s' or '%s', got '%s'", StrategySymlink, StrategyInplace, config.Strategy)
	}

	switch MigrationPolicy(config.MigrationPolicy) {
	case "", MigrateBeforeSwitch, MigrateAfterSwitch, MigrateOff:
	default:
		appendErr("migration_policy must be '%s', '%s' or '%s', got '%s'",
			MigrateBeforeSwitch, MigrateAfterSwitch, MigrateOff, config.MigrationPolicy)
	}

	if config.MigrationPolicy != "" && MigrationPolicy(config.MigrationPolicy) != MigrateOff && config.MigrateCommand == nil {
		appendErr("migration_policy '%s' requires a 'migrate_command'", config.MigrationPolicy)
	}

	if config.HealthURL != "" {
		u, err := url.Parse(config.HealthURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			appendErr("health_url must be an absolute http(s) URL, got '%s'", config.HealthURL)
		}
	}

	if config.KeepReleases < 0 {
		appendErr("keep_releases must be a positive integer, got %d", config.KeepReleases)
	}

	validateCommandShape := func(field string, cmd interface{}) {
		switch cmd.(type) {
		case nil, string, []interface{}:
		default:
			appendErr("%s must be a string or list, got %T", field, cmd)
		}
	}

	for i, cmd := range config.BuildCommands {
		validateCommandShape(fmt.Sprintf("build_commands[%d]", i), cmd)
	}
	validateCommandShape("migrate_command", config.MigrateCommand)
	validateCommandShape("self_check_command", config.SelfCheckCommand)
	validateCommandShape("db_dump_command", config.DumpCommand)

	for _, field := range []struct {
		name  string
		value int
	}{
		{"clone_timeout", config.CloneTimeout},
		{"build_timeout", config.BuildTimeout},
		{"migrate_timeout", config.MigrateTimeout},
		{"hook_timeout", config.HookTimeout},
	} {
		if field.value < 0 {
			appendErr("%s must be a positive integer, got %d", field.name, field.value)
		}
	}

	return errors
}

// ValidateServeSecrets checks webhook secret strength for every app.
// This runs only for serve mode; plain CLI deployments have no webhook
// surface and may leave 'secret' empty.
func ValidateServeSecrets(apps map[string]*App) []string {
	var errors []string
	for name, a := range apps {
		if a.Secret == "" {
			errors = append(errors, fmt.Sprintf("  - App '%s': missing required 'secret' field for serve mode", name))
			continue
		}
		if err := security.ValidateSecret(a.Secret); err != nil {
			errors = append(errors, fmt.Sprintf("  - App '%s': %v", name, err))
		}
	}
	return errors
}
