package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	urfave "github.com/urfave/cli/v2"
)

var (
	secretNames = map[string]string{
		"s3":    secretS3Key,
		"fetch": secretFetchToken,
	}

	secretFlag = &urfave.StringFlag{
		Name:  "secret",
		Usage: "Which secret to manage [s3, fetch]",
		Value: "s3",
	}

	removeFlag = &urfave.BoolFlag{
		Name:  "remove",
		Usage: "Remove the stored secret",
	}

	authCmd = &urfave.Command{
		Name:            "auth",
		HideHelpCommand: true,
		Usage:           "Store the object store secret key or the fetch token in the OS keychain",
		Action:          cmdAuth,
		Flags: []urfave.Flag{
			secretFlag,
			removeFlag,
			debugFlag,
		},
	}
)

func cmdAuth(c *urfave.Context) error {
	applyFlags(c)
	cfg := getConfig(c)

	name, ok := secretNames[strings.ToLower(c.String(secretFlag.Name))]
	if !ok {
		return fmt.Errorf("unsupported secret: %s", c.String(secretFlag.Name))
	}

	if c.Bool(removeFlag.Name) {
		if err := cfg.Secrets.Delete(name); err != nil {
			return fmt.Errorf("removing secret: %w", err)
		}
		fmt.Fprintln(c.App.Writer, "Secret removed")
		return nil
	}

	fmt.Fprint(c.App.Writer, "Paste the secret and hit enter:\n>")

	value, err := bufio.NewReader(c.App.Reader).ReadString('\n')
	if err != nil && value == "" {
		return fmt.Errorf("reading user input: %w", err)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return errors.New("empty secret")
	}

	if err := cfg.Secrets.Save(name, value); err != nil {
		return fmt.Errorf("saving secret: %w", err)
	}

	fmt.Fprintln(c.App.Writer, "Secret saved")
	return nil
}
