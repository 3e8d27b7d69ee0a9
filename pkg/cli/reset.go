package cli

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/mchmarny/photoguard/pkg/data"
	"github.com/mchmarny/photoguard/pkg/store"
	urfave "github.com/urfave/cli/v2"
)

var (
	yesFlag = &urfave.BoolFlag{
		Name:    "yes",
		Aliases: []string{"y"},
		Usage:   "Do not ask for confirmation",
	}

	objectsFlag = &urfave.BoolFlag{
		Name:  "objects",
		Usage: "Also delete photo bytes in the local file store",
	}

	resetCmd = &urfave.Command{
		Name:            "reset",
		Usage:           "Delete all photo records and start fresh",
		HideHelpCommand: true,
		Flags:           []urfave.Flag{yesFlag, objectsFlag, debugFlag},
		Action:          cmdReset,
	}
)

func cmdReset(c *urfave.Context) error {
	applyFlags(c)
	cfg := getConfig(c)
	out := c.App.Writer

	if !c.Bool(yesFlag.Name) {
		fmt.Fprintf(out, "This will permanently delete all data in %s\n", cfg.DBPath)
		fmt.Fprint(out, "Are you sure? [y/N]: ")

		reader := bufio.NewReader(c.App.Reader)
		answer, err := reader.ReadString('\n')
		if err != nil && answer == "" {
			return fmt.Errorf("reading input: %w", err)
		}

		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	// close the DB before deleting the file
	if cfg.DB != nil {
		cfg.DB.Close()
		cfg.DB = nil
	}

	if err := os.Remove(cfg.DBPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting database: %w", err)
	}

	slog.Info("database deleted", "path", cfg.DBPath)

	if c.Bool(objectsFlag.Name) {
		opt := cfg.Config.Storage
		if opt.Type != "" && opt.Type != store.TypeFile {
			slog.Warn("only the local file store can be reset", "type", opt.Type)
		} else if err := os.RemoveAll(opt.Dir); err != nil {
			return fmt.Errorf("deleting objects: %w", err)
		} else {
			slog.Info("objects deleted", "path", opt.Dir)
		}
	}

	// re-initialize empty database
	if err := data.Init(cfg.DBPath); err != nil {
		return fmt.Errorf("re-initializing database: %w", err)
	}

	slog.Info("database re-initialized", "path", cfg.DBPath)
	fmt.Fprintln(out, "Reset complete.")
	return nil
}
