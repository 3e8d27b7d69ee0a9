package cli

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mchmarny/photoguard/pkg/auth"
	"github.com/mchmarny/photoguard/pkg/config"
	"github.com/mchmarny/photoguard/pkg/data"
	"github.com/mchmarny/photoguard/pkg/logging"
	"github.com/mchmarny/photoguard/pkg/sensitivity"
	"github.com/mchmarny/photoguard/pkg/store"
	"github.com/mchmarny/photoguard/pkg/upload"
	urfave "github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

const (
	appName      = "photoguard"
	appConfigKey = "app-config"

	formatJSON = "json"
	formatYAML = "yaml"

	secretS3Key      = "s3_secret_key"
	secretFetchToken = "fetch_token"
)

var (
	version = "v0.0.1-default"
	commit  = ""
	date    = ""

	debugFlag = &urfave.BoolFlag{
		Name:  "debug",
		Usage: "Prints verbose logs (optional, default: false)",
	}

	dbFilePathFlag = &urfave.StringFlag{
		Name:    "db",
		Usage:   "Path to the Sqlite database file (default: $HOME/.photoguard/data.db)",
		EnvVars: []string{"PHOTOGUARD_DB"},
	}

	formatFlag = &urfave.StringFlag{
		Name:  "format",
		Usage: "Output format [json, yaml]",
		Value: formatJSON,
	}

	configFlag = &urfave.StringFlag{
		Name:    "config",
		Usage:   "Path to the config file (default: $HOME/.photoguard/config.yaml)",
		EnvVars: []string{"PHOTOGUARD_CONFIG"},
	}
)

// Execute creates and runs the CLI application.
func Execute() {
	logging.SetDefaultCLILogger("info")

	app := newApp()
	if err := app.Run(os.Args); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

type appConfig struct {
	HomeDir string
	DBPath  string
	Debug   bool
	Format  string
	DB      *sql.DB
	Config  *config.Config
	Secrets *auth.SecretStore

	classifierOnce sync.Once
	classifier     *sensitivity.Classifier

	svcOnce sync.Once
	svc     *upload.Service
	svcErr  error
}

func getConfig(c *urfave.Context) *appConfig {
	return c.App.Metadata[appConfigKey].(*appConfig)
}

// Classifier returns the classifier built from the configured thresholds.
func (a *appConfig) Classifier() *sensitivity.Classifier {
	a.classifierOnce.Do(func() {
		a.classifier = sensitivity.New(a.Config.Classifier)
	})
	return a.classifier
}

// Uploads lazily connects the object store so commands that never touch
// photo bytes work without storage credentials.
func (a *appConfig) Uploads() (*upload.Service, error) {
	a.svcOnce.Do(func() {
		opt := a.Config.Storage
		if opt.Type == store.TypeS3 && opt.SecretKey == "" && a.Secrets != nil {
			secret, err := a.Secrets.Get(secretS3Key)
			if err != nil && !errors.Is(err, auth.ErrSecretNotFound) {
				a.svcErr = fmt.Errorf("reading s3 secret: %w", err)
				return
			}
			opt.SecretKey = secret
		}

		st, err := store.New(opt)
		if err != nil {
			a.svcErr = fmt.Errorf("creating object store: %w", err)
			return
		}

		a.svc, a.svcErr = upload.NewService(a.DB, st, a.Classifier(), a.Config.Upload.MaxBytes)
	})
	return a.svc, a.svcErr
}

// FetchToken returns the configured bearer token for remote downloads.
func (a *appConfig) FetchToken() string {
	if a.Config.Upload.FetchToken != "" {
		return a.Config.Upload.FetchToken
	}
	if a.Secrets == nil {
		return ""
	}
	token, err := a.Secrets.Get(secretFetchToken)
	if err != nil {
		slog.Debug("no fetch token", "error", err)
		return ""
	}
	return token
}

func newApp() *urfave.App {
	return &urfave.App{
		Name:                 appName,
		Version:              fmt.Sprintf("%s (%s - %s)", version, commit, date),
		Compiled:             time.Now(),
		EnableBashCompletion: true,
		HideHelpCommand:      true,
		Usage:                "Classify, store and moderate profile and message photos",
		Flags: []urfave.Flag{
			debugFlag,
			dbFilePathFlag,
			formatFlag,
			configFlag,
		},
		Commands: []*urfave.Command{
			scanCmd,
			uploadCmd,
			listCmd,
			showCmd,
			rescanCmd,
			deleteCmd,
			stateCmd,
			authCmd,
			resetCmd,
			serverCmd,
		},
		Before: initApp,
		After: func(c *urfave.Context) error {
			if cfg, ok := c.App.Metadata[appConfigKey].(*appConfig); ok && cfg.DB != nil {
				cfg.DB.Close()
			}
			return nil
		},
	}
}

func initApp(c *urfave.Context) error {
	applyFlags(c)

	homeDir, _, err := config.GetOrCreateHomeDir(appName)
	if err != nil {
		return fmt.Errorf("getting home dir: %w", err)
	}

	var cfg *config.Config
	if p := c.String(configFlag.Name); p != "" {
		cfg, err = config.Load(p, config.Default(homeDir))
	} else {
		cfg, err = config.ReadOrCreate(homeDir)
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	dbPath := c.String(dbFilePathFlag.Name)
	if dbPath == "" {
		dbPath = filepath.Join(homeDir, data.DataFileName)
	}

	if err := data.Init(dbPath); err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}

	db, err := data.GetDB(dbPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	if c.App.Metadata == nil {
		c.App.Metadata = map[string]any{}
	}
	c.App.Metadata[appConfigKey] = &appConfig{
		HomeDir: homeDir,
		DBPath:  dbPath,
		Debug:   c.Bool(debugFlag.Name),
		Format:  outputFormat(c.String(formatFlag.Name)),
		DB:      db,
		Config:  cfg,
		Secrets: auth.NewSecretStore(homeDir),
	}
	return nil
}

// applyFlags handles flags that may be set at both the app and command level.
func applyFlags(c *urfave.Context) {
	if c.Bool(debugFlag.Name) {
		logging.SetDefaultCLILogger("debug")
	}
}

func outputFormat(f string) string {
	if f == formatYAML || f == "yml" {
		return formatYAML
	}
	return formatJSON
}

func encode(c *urfave.Context, v any) error {
	var w io.Writer = os.Stdout
	if c.App.Writer != nil {
		w = c.App.Writer
	}

	f := formatJSON
	if cfg, ok := c.App.Metadata[appConfigKey].(*appConfig); ok {
		f = cfg.Format
	}

	if f == formatYAML {
		return yaml.NewEncoder(w).Encode(v)
	}
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	return e.Encode(v)
}
