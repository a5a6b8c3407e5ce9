package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/kons-9/shapechangeable-computer/internal/config"
	"github.com/kons-9/shapechangeable-computer/internal/identity"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Interactively create a unit configuration",
	Long: `Interactive setup: choose the unit's place in its local net, its local
net number, and the medium hub to join, then write the config file.`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	cfgPath, err := resolvedConfigPath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); err == nil {
		var overwrite bool
		confirm := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Config already exists at %s. Overwrite?", cfgPath)).
				Affirmative("Overwrite").
				Negative("Abort").
				Value(&overwrite),
		))
		if err := confirm.Run(); err != nil || !overwrite {
			fmt.Fprintln(os.Stderr, "Aborted.")
			return nil
		}
	}

	cfg := config.DefaultConfig()
	hostname, _ := os.Hostname()
	cfg.Unit.Name = hostname

	var (
		quadrant identity.Quadrant
		isRoot   bool
		netStr   string
	)
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Unit name").
				Value(&cfg.Unit.Name),
			huh.NewSelect[identity.Quadrant]().
				Title("Position in the 2x2 local net").
				Options(
					huh.NewOption("up-left", identity.UpLeft),
					huh.NewOption("up-right", identity.UpRight),
					huh.NewOption("down-left", identity.DownLeft),
					huh.NewOption("down-right", identity.DownRight),
				).
				Value(&quadrant),
			huh.NewInput().
				Title("Local net number (0..8191)").
				Placeholder("0").
				Value(&netStr),
			huh.NewConfirm().
				Title("Is this unit part of the origin cell?").
				Affirmative("Root").
				Negative("Not root").
				Value(&isRoot),
			huh.NewInput().
				Title("Medium hub URL").
				Value(&cfg.Hub.URL),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("cancelled")
	}

	var netID uint16
	if netStr != "" {
		if _, err := fmt.Sscanf(netStr, "%d", &netID); err != nil {
			return fmt.Errorf("invalid local net number %q: %w", netStr, err)
		}
	}
	if netID >= 1<<13 {
		return fmt.Errorf("local net number %d does not fit 13 bits", netID)
	}

	word := identity.Compose(isRoot, quadrant, netID)
	cfg.Unit.Identity = config.Identity(word)

	if err := config.SaveConfig(cfgPath, cfg); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Config written to %s\n", cfgPath)
	for _, line := range word.Summary() {
		fmt.Fprintln(os.Stderr, line)
	}
	return nil
}
