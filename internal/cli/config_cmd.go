// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config_cmd.go - The "config" command.
//
// Subcommands:
//   init [--force]     Write a default config file
//   show [--json]      Show the effective configuration
//   validate           Check the config file
//   path               Print the config file location
//   get KEY            Print one value (e.g. provider.model)
//   set KEY VALUE      Change one value in the config file

package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	urfave "github.com/urfave/cli/v2"

	"github.com/jeranaias/chatterm/internal/config"
	"github.com/jeranaias/chatterm/internal/util"
)

func (a *app) configCommand() *urfave.Command {
	return &urfave.Command{
		Name:  "config",
		Usage: "Manage the configuration file",
		Subcommands: []*urfave.Command{
			{
				Name:  "init",
				Usage: "Write a configuration file with default values",
				Flags: []urfave.Flag{
					&urfave.BoolFlag{
						Name:  "force",
						Usage: "Overwrite an existing file",
					},
				},
				Action: a.runConfigInit,
			},
			{
				Name:  "show",
				Usage: "Show the effective configuration",
				Flags: []urfave.Flag{
					&urfave.BoolFlag{
						Name:  "json",
						Usage: "Output as JSON",
					},
				},
				Action: a.runConfigShow,
			},
			{
				Name:   "validate",
				Usage:  "Validate the configuration file",
				Action: a.runConfigValidate,
			},
			{
				Name:  "path",
				Usage: "Print the configuration file path",
				Action: func(c *urfave.Context) error {
					path, err := a.configPath(c)
					if err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, path)
					return nil
				},
			},
			{
				Name:      "get",
				Usage:     "Print one configuration value",
				ArgsUsage: "KEY",
				Action:    a.runConfigGet,
			},
			{
				Name:      "set",
				Usage:     "Change one value in the configuration file",
				ArgsUsage: "KEY VALUE",
				Action:    a.runConfigSet,
			},
		},
	}
}

// configPath returns the file named by --config or the default location.
func (a *app) configPath(c *urfave.Context) (string, error) {
	if p := a.runtimeOptions(c).ConfigPath; p != "" {
		return util.ExpandHome(p)
	}
	return config.ConfigPath()
}

// loadEffective loads the configuration the chat commands would use.
func (a *app) loadEffective(c *urfave.Context) (*config.Config, error) {
	opts := a.runtimeOptions(c)
	if !opts.SkipDotEnv {
		// Only consulted for the key status line.
		_, _ = config.LoadDotEnv(config.DotEnvFiles()...)
	}
	cfg, _, err := loadConfig(opts)
	return cfg, err
}

func (a *app) runConfigInit(c *urfave.Context) error {
	path, err := a.configPath(c)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil && !c.Bool("force") {
		return &UsageError{
			Reason:  "configuration file already exists at " + path,
			Example: "chatterm config init --force",
		}
	}

	if err := config.SaveTOML(config.Default(), path); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Created configuration file at %s\n", path)
	return nil
}

func (a *app) runConfigShow(c *urfave.Context) error {
	cfg, err := a.loadEffective(c)
	if err != nil {
		return err
	}
	if c.Bool("json") {
		fmt.Fprintln(c.App.Writer, cfg.String())
		return nil
	}

	w := c.App.Writer
	fmt.Fprintln(w, TitleStyle.Render("chatterm configuration"))
	fmt.Fprintln(w, RenderSeparator(40))

	section := ""
	for _, key := range config.Keys() {
		sec, _, _ := strings.Cut(key, ".")
		if sec != section {
			section = sec
			fmt.Fprintln(w)
			fmt.Fprintln(w, TitleStyle.Render("["+sec+"]"))
		}
		v, err := cfg.Get(key)
		if err != nil {
			return err
		}
		value := util.TruncateWidth(util.OneLine(fmt.Sprint(v)), 56)
		fmt.Fprintf(w, "  %s%s\n", RenderLabel(key), ValueStyle.Render(value))
	}

	fmt.Fprintln(w)
	keyStatus := WarningStyle.Render("not set (export " + cfg.Provider.APIKeyEnv + ")")
	if _, source := cfg.APIKey(); source != "" {
		keyStatus = ValueStyle.Render("set in " + source)
	}
	fmt.Fprintf(w, "  %s%s\n", RenderLabel("api key"), keyStatus)

	if path, err := a.configPath(c); err == nil {
		fmt.Fprintf(w, "  %s%s\n", RenderLabel("config file"), DimStyle.Render(path))
	}
	return nil
}

func (a *app) runConfigValidate(c *urfave.Context) error {
	path, err := a.configPath(c)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(c.App.Writer, "No configuration file at %s; defaults are in use\n", path)
		return nil
	}
	if _, err := config.LoadFromPath(path); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	fmt.Fprintln(c.App.Writer, SuccessStyle.Render("Configuration is valid"))
	return nil
}

func (a *app) runConfigGet(c *urfave.Context) error {
	if c.NArg() != 1 {
		return ErrMissingArgument("key", "chatterm config get provider.model")
	}
	cfg, err := a.loadEffective(c)
	if err != nil {
		return err
	}
	v, err := cfg.Get(c.Args().First())
	if err != nil {
		return &UsageError{Reason: err.Error(), Example: "keys: " + strings.Join(config.Keys(), ", ")}
	}
	fmt.Fprintln(c.App.Writer, v)
	return nil
}

// runConfigSet edits the file itself, so environment overrides are not
// written back.
func (a *app) runConfigSet(c *urfave.Context) error {
	if c.NArg() != 2 {
		return ErrMissingArgument("key and value", "chatterm config set reveal.base_delay_ms 10")
	}
	key, value := c.Args().Get(0), c.Args().Get(1)

	path, err := a.configPath(c)
	if err != nil {
		return err
	}
	cfg := config.Default()
	if _, statErr := os.Stat(path); statErr == nil {
		if err := config.LoadTOML(cfg, path); err != nil {
			return err
		}
	}

	if err := cfg.Set(key, value); err != nil {
		return &UsageError{Reason: err.Error(), Example: "keys: " + strings.Join(config.Keys(), ", ")}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := config.SaveTOML(cfg, path); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s = %s\n", key, value)
	return nil
}
