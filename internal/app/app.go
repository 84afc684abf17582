package app

// Strategy selects how a new release is materialized and promoted.
type Strategy string

const (
	// StrategySymlink keeps every release in releases/<id> and promotes
	// by atomically repointing the current symlink.
	StrategySymlink Strategy = "symlink"

	// StrategyInplace updates the serving directory in place, after
	// snapshotting it into backups/<id> for rollback.
	StrategyInplace Strategy = "inplace"
)

// MigrationPolicy controls when schema migrations run relative to the
// atomic switch.
type MigrationPolicy string

const (
	// MigrateBeforeSwitch runs migrations against the new release before
	// promotion. Safe only under expand/contract schema discipline: the
	// still-live previous release keeps running against the new schema.
	MigrateBeforeSwitch MigrationPolicy = "before-switch"

	// MigrateAfterSwitch runs migrations after promotion. Simpler, but
	// the freshly promoted release briefly serves against the old schema.
	MigrateAfterSwitch MigrationPolicy = "after-switch"

	// MigrateOff disables the migration stage entirely.
	MigrateOff MigrationPolicy = "off"
)

// App represents a validated application deployment configuration.
type App struct {
	Name            string
	Path            string
	Repo            string
	Branch          string
	Strategy        Strategy
	HealthURL       string
	KeepReleases    int
	MigrationPolicy MigrationPolicy

	// Hook commands, each a shell-quoted string or a list in YAML.
	BuildCommands    []interface{} // empty = autodetect from lockfiles
	MigrateCommand   interface{}
	SelfCheckCommand interface{}
	DumpCommand      interface{} // optional database dump for inplace backups

	// Services signaled after the switch, all best-effort.
	Service        string
	WorkerServices []string
	ReloadNginx    bool

	// Webhook secret, required only for serve mode.
	Secret string

	// GitHubToken enables API-side ref resolution before materializing.
	GitHubToken string

	// Timeouts in seconds.
	CloneTimeout   int
	BuildTimeout   int
	MigrateTimeout int
	HookTimeout    int
}

// AppConfig represents the YAML configuration for one application.
type AppConfig struct {
	Path            string `yaml:"path"`
	Repo            string `yaml:"repo"`
	Branch          string `yaml:"branch"`
	Strategy        string `yaml:"strategy"`
	HealthURL       string `yaml:"health_url"`
	KeepReleases    int    `yaml:"keep_releases"`
	MigrationPolicy string `yaml:"migration_policy"`

	BuildCommands    []interface{} `yaml:"build_commands"`
	MigrateCommand   interface{}   `yaml:"migrate_command"`
	SelfCheckCommand interface{}   `yaml:"self_check_command"`
	DumpCommand      interface{}   `yaml:"db_dump_command"`

	Service        string   `yaml:"service"`
	WorkerServices []string `yaml:"worker_services"`
	ReloadNginx    bool     `yaml:"reload_nginx"`

	Secret      string `yaml:"secret"`
	GitHubToken string `yaml:"github_token"`

	CloneTimeout   int `yaml:"clone_timeout"`
	BuildTimeout   int `yaml:"build_timeout"`
	MigrateTimeout int `yaml:"migrate_timeout"`
	HookTimeout    int `yaml:"hook_timeout"`
}

// Config represents the root configuration structure.
type Config struct {
	Apps map[string]AppConfig `yaml:"apps"`
}

// MatchesRef checks if a git ref matches the app's target branch.
func (a *App) MatchesRef(ref string) bool {
	return ref == "refs/heads/"+a.Branch
}
