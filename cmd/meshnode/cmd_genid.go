package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kons-9/shapechangeable-computer/internal/identity"
)

var (
	genidRoot     bool
	genidQuadrant string
	genidNet      uint16
)

var genidCmd = &cobra.Command{
	Use:   "genid",
	Short: "Compose an identity word",
	Long: `Compose the 16-bit identity word a unit would carry in its fuse block:
the root flag, the quadrant within the 2x2 local net, and the local
net number.

Example:
  meshnode genid --quadrant ur --net 5
  meshnode genid --root --quadrant dl --net 0`,
	RunE: runGenid,
}

func init() {
	genidCmd.Flags().BoolVar(&genidRoot, "root", false, "mark the unit as part of the origin cell")
	genidCmd.Flags().StringVar(&genidQuadrant, "quadrant", "", "position in the local net: ul, ur, dl or dr")
	genidCmd.Flags().Uint16Var(&genidNet, "net", 0, "local net number (13 bits)")
	_ = genidCmd.MarkFlagRequired("quadrant")
}

func parseQuadrant(s string) (identity.Quadrant, error) {
	switch s {
	case "ul":
		return identity.UpLeft, nil
	case "ur":
		return identity.UpRight, nil
	case "dl":
		return identity.DownLeft, nil
	case "dr":
		return identity.DownRight, nil
	}
	return 0, fmt.Errorf("unknown quadrant %q (want ul, ur, dl or dr)", s)
}

func runGenid(cmd *cobra.Command, args []string) error {
	q, err := parseQuadrant(genidQuadrant)
	if err != nil {
		return err
	}
	if genidNet >= 1<<13 {
		return fmt.Errorf("local net number %d does not fit 13 bits", genidNet)
	}

	word := identity.Compose(genidRoot, q, genidNet)

	// The word to stdout (pipe-friendly); the decoded summary to stderr.
	fmt.Println(word)
	for _, line := range word.Summary() {
		fmt.Fprintln(cmd.ErrOrStderr(), line)
	}
	return nil
}
