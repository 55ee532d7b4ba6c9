package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/consts"
	"github.com/parley-chat/parley/internal/provider"
)

var providerHwd = &ProviderRunner{}

type ProviderRunner struct{}

func (r *ProviderRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "provider",
		Usage: "Inspect and switch agent provider backends",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List configured providers and the current default",
				Action: r.list,
			},
			{
				Name:      "set",
				Usage:     "Override the provider for one group",
				ArgsUsage: "<group-folder> <provider-name>",
				Action:    r.set,
			},
			{
				Name:      "clear",
				Usage:     "Remove a group's provider override",
				ArgsUsage: "<group-folder>",
				Action:    r.clear,
			},
			{
				Name:      "default",
				Usage:     "Set the global default provider",
				ArgsUsage: "<provider-name>",
				Action:    r.setDefault,
			},
		},
	}
}

// registry loads the provider registry with all configured backends so that
// name validation on set/default works the same as in the daemon.
func (r *ProviderRunner) registry() (*provider.Registry, error) {
	cfg, err := config.Load(consts.DefaultConfigPath())
	if err != nil {
		return nil, fmt.Errorf("loading config error: %w", err)
	}

	reg := provider.NewRegistry(filepath.Join(consts.StateDir(), "providers.json"), cfg.DefaultProvider)
	for id, pc := range cfg.Providers {
		p, err := provider.FromConfig(pc)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", id, err)
		}
		reg.Register(p)
	}
	if err := reg.Load(); err != nil {
		return nil, fmt.Errorf("load provider state: %w", err)
	}
	return reg, nil
}

func (r *ProviderRunner) list(_ context.Context, _ *cli.Command) error {
	reg, err := r.registry()
	if err != nil {
		return err
	}

	def := reg.Default()
	for _, p := range reg.List() {
		marker := " "
		if p.Name() == def {
			marker = "*"
		}
		fmt.Printf("%s %s\n", marker, p.Name())
	}
	return nil
}

func (r *ProviderRunner) set(_ context.Context, cmd *cli.Command) error {
	folder, name := cmd.Args().Get(0), cmd.Args().Get(1)
	if folder == "" || name == "" {
		return fmt.Errorf("usage: parley provider set <group-folder> <provider-name>")
	}

	reg, err := r.registry()
	if err != nil {
		return err
	}
	if err := reg.SetOverride(folder, name); err != nil {
		return err
	}
	fmt.Printf("Group %s now uses provider %s.\n", folder, name)
	return nil
}

func (r *ProviderRunner) clear(_ context.Context, cmd *cli.Command) error {
	folder := cmd.Args().First()
	if folder == "" {
		return fmt.Errorf("group folder is required")
	}

	reg, err := r.registry()
	if err != nil {
		return err
	}
	if err := reg.ClearOverride(folder); err != nil {
		return err
	}
	fmt.Printf("Group %s follows the default provider again.\n", folder)
	return nil
}

func (r *ProviderRunner) setDefault(_ context.Context, cmd *cli.Command) error {
	name := cmd.Args().First()
	if name == "" {
		return fmt.Errorf("provider name is required")
	}

	reg, err := r.registry()
	if err != nil {
		return err
	}
	if err := reg.SetDefault(name); err != nil {
		return err
	}
	fmt.Printf("Default provider is now %s.\n", name)
	return nil
}
