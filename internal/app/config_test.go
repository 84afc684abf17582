package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validConfig(t *testing.T) AppConfig {
	t.Helper()
	return AppConfig{
		Path:      t.TempDir(),
		Repo:      "https://github.com/acme/webapp.git",
		Branch:    "main",
		Strategy:  "symlink",
		HealthURL: "https://webapp.example.com/up",
	}
}

func TestValidateAppConfig_ValidConfig(t *testing.T) {
	errors := ValidateAppConfig("webapp", validConfig(t))
	if len(errors) > 0 {
		t.Errorf("Expected valid config to pass validation, got errors: %v", errors)
	}
}

func TestValidateAppConfig_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
		want   string
	}{
		{
			"missing path",
			func(c *AppConfig) { c.Path = "" },
			"missing required 'path'",
		},
		{
			"relative path",
			func(c *AppConfig) { c.Path = "var/www/app" },
			"path must be absolute",
		},
		{
			"missing repo",
			func(c *AppConfig) { c.Repo = "" },
			"missing required 'repo'",
		},
		{
			"bad repo scheme",
			func(c *AppConfig) { c.Repo = "http://github.com/acme/webapp.git" },
			"invalid repo",
		},
		{
			"bad branch",
			func(c *AppConfig) { c.Branch = "-evil" },
			"invalid branch",
		},
		{
			"unknown strategy",
			func(c *AppConfig) { c.Strategy = "bluegreen" },
			"strategy must be",
		},
		{
			"unknown migration policy",
			func(c *AppConfig) { c.MigrationPolicy = "sometimes" },
			"migration_policy must be",
		},
		{
			"policy without command",
			func(c *AppConfig) { c.MigrationPolicy = "before-switch" },
			"requires a 'migrate_command'",
		},
		{
			"bad health url",
			func(c *AppConfig) { c.HealthURL = "not-a-url" },
			"health_url must be",
		},
		{
			"negative keep",
			func(c *AppConfig) { c.KeepReleases = -1 },
			"keep_releases must be",
		},
		{
			"bad command shape",
			func(c *AppConfig) { c.MigrateCommand = 42 },
			"migrate_command must be a string or list",
		},
		{
			"negative timeout",
			func(c *AppConfig) { c.BuildTimeout = -5 },
			"build_timeout must be",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig(t)
			tt.mutate(&config)

			errors := ValidateAppConfig("webapp", config)
			if len(errors) == 0 {
				t.Fatalf("Expected validation errors, got none")
			}
			found := false
			for _, e := range errors {
				if strings.Contains(e, tt.want) {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("Expected error containing %q, got %v", tt.want, errors)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	appPath := t.TempDir()

	configYAML := `
apps:
  webapp:
    path: ` + appPath + `
    repo: https://github.com/acme/webapp.git
    branch: main
    strategy: symlink
    health_url: https://webapp.example.com/up
    keep_releases: 7
    migration_policy: before-switch
    migrate_command: "php artisan migrate --force"
    build_commands:
      - "composer install --no-dev"
      - ["npm", "ci"]
    service: php8.3-fpm
    worker_services: [webapp-worker]
    reload_nginx: true
`
	configPath := filepath.Join(tmpDir, "apps.yaml")
	if err := os.WriteFile(configPath, []byte(configYAML), 0640); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	_, apps, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	a, ok := apps["webapp"]
	if !ok {
		t.Fatal("LoadConfig() did not return app 'webapp'")
	}

	if a.Strategy != StrategySymlink {
		t.Errorf("Strategy = %v, want %v", a.Strategy, StrategySymlink)
	}
	if a.MigrationPolicy != MigrateBeforeSwitch {
		t.Errorf("MigrationPolicy = %v, want %v", a.MigrationPolicy, MigrateBeforeSwitch)
	}
	if a.KeepReleases != 7 {
		t.Errorf("KeepReleases = %d, want 7", a.KeepReleases)
	}
	if len(a.BuildCommands) != 2 {
		t.Errorf("BuildCommands length = %d, want 2", len(a.BuildCommands))
	}
	if a.CloneTimeout != DefaultCloneTimeout {
		t.Errorf("CloneTimeout = %d, want default %d", a.CloneTimeout, DefaultCloneTimeout)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	tmpDir := t.TempDir()
	appPath := t.TempDir()

	configYAML := `
apps:
  webapp:
    path: ` + appPath + `
    repo: https://github.com/acme/webapp.git
`
	configPath := filepath.Join(tmpDir, "apps.yaml")
	if err := os.WriteFile(configPath, []byte(configYAML), 0640); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	_, apps, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	a := apps["webapp"]
	if a.Branch != "main" {
		t.Errorf("Branch default = %q, want main", a.Branch)
	}
	if a.Strategy != StrategySymlink {
		t.Errorf("Strategy default = %v, want %v", a.Strategy, StrategySymlink)
	}
	if a.MigrationPolicy != MigrateOff {
		t.Errorf("MigrationPolicy default = %v, want %v", a.MigrationPolicy, MigrateOff)
	}
	if a.KeepReleases != DefaultKeepReleases {
		t.Errorf("KeepReleases default = %d, want %d", a.KeepReleases, DefaultKeepReleases)
	}
}

func TestLoadConfig_EmptyFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "apps.yaml")
	if err := os.WriteFile(configPath, []byte(""), 0640); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	_, apps, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v for empty file", err)
	}
	if len(apps) != 0 {
		t.Errorf("LoadConfig() returned %d apps for empty file, want 0", len(apps))
	}
}

func TestLoadConfig_InvalidApp(t *testing.T) {
	tmpDir := t.TempDir()

	configYAML := `
apps:
  webapp:
    path: relative/path
    repo: https://github.com/acme/webapp.git
`
	configPath := filepath.Join(tmpDir, "apps.yaml")
	if err := os.WriteFile(configPath, []byte(configYAML), 0640); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	if _, _, err := LoadConfig(configPath); err == nil {
		t.Error("LoadConfig() expected error for invalid app config")
	}
}

func TestMatchesRef(t *testing.T) {
	a := &App{Branch: "main"}

	tests := []struct {
		ref  string
		want bool
	}{
		{"refs/heads/main", true},
		{"refs/heads/develop", false},
		{"refs/tags/v1.0", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := a.MatchesRef(tt.ref); got != tt.want {
			t.Errorf("MatchesRef(%q) = %v, want %v", tt.ref, got, tt.want)
		}
	}
}

func TestRegistry(t *testing.T) {
	apps := map[string]*App{
		"webapp": {Name: "webapp"},
		"api":    {Name: "api"},
	}
	registry := NewRegistry(apps)

	if registry.Count() != 2 {
		t.Errorf("Count() = %d, want 2", registry.Count())
	}

	if _, err := registry.Get("webapp"); err != nil {
		t.Errorf("Get(webapp) error = %v", err)
	}

	if _, err := registry.Get("missing"); err == nil {
		t.Error("Get(missing) expected error")
	}

	if len(registry.List()) != 2 {
		t.Errorf("List() length = %d, want 2", len(registry.List()))
	}
}
