package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/foreman/internal/config"
)

const secretKey = "server.api_key"

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify foreman configuration.

Without arguments, displays the effective configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the value in the user config file.

Configuration is stored at ~/.config/foreman/config.yaml
Project-specific overrides can be placed in .foreman.yaml`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 2 {
			path, err := config.Set(args[0], args[1])
			if err != nil {
				return err
			}
			shown := args[1]
			if strings.EqualFold(args[0], secretKey) {
				shown = mask(shown)
			}
			printStatus(cmd.OutOrStdout(), "✓", fmt.Sprintf("Set %s = %s in %s", strings.ToLower(args[0]), shown, path), color.FgGreen)
			return nil
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		settings := cfg.Settings()
		settings[secretKey] = mask(cfg.Server.APIKey)

		if len(args) == 1 {
			key := strings.ToLower(args[0])
			value, ok := settings[key]
			if !ok {
				return fmt.Errorf("unknown configuration key: %s", args[0])
			}
			return render(cmd, map[string]any{key: value}, func(w io.Writer) {
				fmt.Fprintln(w, value)
			})
		}

		return render(cmd, settings, func(w io.Writer) {
			keys := make([]string, 0, len(settings))
			for k := range settings {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(w, "%s: %v\n", k, settings[k])
			}
		})
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to the user config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.Save(config.Default())
		if err != nil {
			return err
		}
		printStatus(cmd.OutOrStdout(), "✓", "Wrote "+path, color.FgGreen)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "List the config files in effect",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		out := map[string]any{
			"user":  config.GetUserConfigPath(),
			"files": nonNil(cfg.Files),
		}
		return render(cmd, out, func(w io.Writer) {
			fmt.Fprintf(w, "user config: %s\n", config.GetUserConfigPath())
			if len(cfg.Files) == 0 {
				fmt.Fprintln(w, "no config files found, using defaults")
			}
			for _, f := range cfg.Files {
				fmt.Fprintf(w, "loaded: %s\n", f)
			}
		})
	},
}

func mask(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	return "****"
}

func init() {
	configCmd.AddCommand(configInitCmd, configPathCmd)
}
