// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigchat/internal/engine"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/util"
)

// customProviderHandler is the built-in handler serving every custom provider.
const customProviderHandler = "custom"

func newSettingsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change provider settings",
		Long: `Provider settings choose which backend answers and hold its model, API key
and endpoint. They are saved with your chats and shared by every rigchat
process using the same data directory.`,
	}
	cmd.AddCommand(
		newSettingsShowCmd(a),
		newSettingsUseCmd(a),
		newSettingsSetCmd(a),
		newSettingsCustomCmd(a),
	)
	return cmd
}

func newSettingsShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show provider settings with API keys masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
				printSettings(cmd.OutOrStdout(), eng.Settings(), eng.Providers())
				return nil
			})
		},
	}
}

func newSettingsUseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "use <provider>",
		Short: "Make a provider the active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
				s := eng.Settings()
				s.ActiveProvider = args[0]
				return eng.SaveSettings(ctx, s)
			})
		},
	}
}

func newSettingsSetCmd(a *app) *cobra.Command {
	var (
		modelName string
		key       string
		keyEnv    string
		endpoint  string
		use       bool
	)
	cmd := &cobra.Command{
		Use:   "set <provider>",
		Short: "Set the model, API key or endpoint of a built-in provider",
		Example: `  rigchat settings set openai --model gpt-4o-mini --key-env OPENAI_API_KEY --use
  rigchat settings set ollama --model llama3.2 --endpoint http://localhost:11434`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			apiKey, err := readKey(key, keyEnv)
			if err != nil {
				return err
			}
			return a.withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
				if !hasProvider(eng.Providers(), name) {
					return fmt.Errorf("unknown provider %q (one of %s)", name, strings.Join(builtinNames(eng.Providers()), ", "))
				}
				s := eng.Settings()
				pc := s.Providers[name]
				if cmd.Flags().Changed("model") {
					pc.Model = modelName
				}
				if apiKey != "" {
					pc.APIKey = apiKey
				}
				if cmd.Flags().Changed("endpoint") {
					pc.Endpoint = endpoint
				}
				s.SetProvider(name, pc)
				if use {
					s.ActiveProvider = name
				}
				return eng.SaveSettings(ctx, s)
			})
		},
	}
	cmd.Flags().StringVarP(&modelName, "model", "m", "", "Model name")
	cmd.Flags().StringVar(&key, "key", "", "API key")
	cmd.Flags().StringVar(&keyEnv, "key-env", "", "Read the API key from this environment variable")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Override the provider's base URL")
	cmd.Flags().BoolVar(&use, "use", false, "Also make this the active provider")
	return cmd
}

func newSettingsCustomCmd(a *app) *cobra.Command {
	var (
		c      model.CustomProvider
		keyEnv string
		use    bool
		remove bool
	)
	cmd := &cobra.Command{
		Use:   "custom <id>",
		Short: "Add, update or remove an OpenAI-compatible provider",
		Example: `  rigchat settings custom lmstudio --endpoint http://localhost:1234/v1 --model qwen2.5 --use
  rigchat settings custom lmstudio --remove`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			apiKey, err := readKey(c.APIKey, keyEnv)
			if err != nil {
				return err
			}
			return a.withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
				s := eng.Settings()
				id := args[0]

				if remove {
					kept := s.Custom[:0]
					for _, existing := range s.Custom {
						if existing.ID != id {
							kept = append(kept, existing)
						}
					}
					if len(kept) == len(s.Custom) {
						return fmt.Errorf("no custom provider %q", id)
					}
					s.Custom = kept
					return eng.SaveSettings(ctx, s)
				}

				merged, _ := s.FindCustom(id)
				merged.ID = id
				if cmd.Flags().Changed("name") {
					merged.Name = c.Name
				}
				if merged.Name == "" {
					merged.Name = id
				}
				if cmd.Flags().Changed("endpoint") {
					merged.Endpoint = c.Endpoint
				}
				if cmd.Flags().Changed("model") {
					merged.Model = c.Model
				}
				if apiKey != "" {
					merged.APIKey = apiKey
				}
				s.UpsertCustom(merged)
				if use {
					s.ActiveProvider = id
				}
				return eng.SaveSettings(ctx, s)
			})
		},
	}
	cmd.Flags().StringVar(&c.Name, "name", "", "Display name (default: the ID)")
	cmd.Flags().StringVar(&c.Endpoint, "endpoint", "", "Base URL of the OpenAI-compatible API")
	cmd.Flags().StringVarP(&c.Model, "model", "m", "", "Model name")
	cmd.Flags().StringVar(&c.APIKey, "key", "", "API key, if the endpoint needs one")
	cmd.Flags().StringVar(&keyEnv, "key-env", "", "Read the API key from this environment variable")
	cmd.Flags().BoolVar(&use, "use", false, "Also make this the active provider")
	cmd.Flags().BoolVar(&remove, "remove", false, "Remove the custom provider")
	return cmd
}

// =============================================================================
// HELPERS
// =============================================================================

// readKey returns the key given directly or, failing that, from envName.
func readKey(key, envName string) (string, error) {
	if key != "" || envName == "" {
		return strings.TrimSpace(key), nil
	}
	v := strings.TrimSpace(os.Getenv(envName))
	if v == "" {
		return "", fmt.Errorf("environment variable %s is not set", envName)
	}
	return v, nil
}

// builtinNames returns the sorted built-in provider names, without the
// handler shared by custom providers.
func builtinNames(registered []string) []string {
	names := make([]string, 0, len(registered))
	for _, n := range registered {
		if n != customProviderHandler {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

func hasProvider(registered []string, name string) bool {
	for _, n := range builtinNames(registered) {
		if n == name {
			return true
		}
	}
	return false
}

// printSettings writes every provider's configuration with keys masked.
func printSettings(w io.Writer, s model.Settings, registered []string) {
	const width = 12

	row := func(marker, name string, pc model.ProviderConfig) {
		line := fmt.Sprintf("%s %s  model=%s", marker, util.PadRight(name, width), orNone(pc.Model))
		if pc.APIKey != "" {
			line += "  key=" + model.MaskKey(pc.APIKey)
		}
		if pc.Endpoint != "" {
			line += "  endpoint=" + pc.Endpoint
		}
		if marker == "*" {
			line = activeStyle.Render(line)
		}
		fmt.Fprintln(w, line)
	}
	marker := func(name string) string {
		if name == s.ActiveProvider {
			return "*"
		}
		return " "
	}

	fmt.Fprintln(w, titleStyle.Render("Providers"))
	for _, name := range builtinNames(registered) {
		row(marker(name), name, s.Providers[name])
	}
	if len(s.Custom) == 0 {
		return
	}
	fmt.Fprintln(w, titleStyle.Render("Custom providers"))
	for _, c := range s.Custom {
		label := c.ID
		if c.Name != "" && c.Name != c.ID {
			label += " (" + c.Name + ")"
		}
		row(marker(c.ID), label, c.Config())
	}
}

func orNone(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
