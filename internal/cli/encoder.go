package cli

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"alexhalogen/rsraid/internal/orchestrator"
	"alexhalogen/rsraid/internal/types"
)

type protectOptions struct {
	dataCount int
	eccCount  int
	codecType string
	outDir    string
	pw        passwordFlags
}

// NewEncoderCommand returns the root command of the encoder binary.
func NewEncoderCommand() *cobra.Command {
	var g globalOptions
	root := newRoot("encoder", "Protect files with Reed-Solomon ECC volumes")
	g.register(root)
	root.AddCommand(newProtectCommand(&g))
	return root
}

func newProtectCommand(g *globalOptions) *cobra.Command {
	var o protectOptions
	cmd := &cobra.Command{
		Use:   "protect FILE",
		Short: "Split a file into data volumes and add ECC volumes",
		Long: `Split FILE into n data volumes and compute m ECC volumes over GF(2^16).
Any n of the n+m volumes restore the file.

Examples:
  # Four data and two ECC volumes next to the file
  encoder protect archive.tar -n 4 -m 2

  # Dispersal code, volumes in another directory
  encoder protect archive.tar -n 10 -m 4 --type dispersal --out-dir /backup

  # Encrypt the volume contents, password from stdin
  echo "secret" | encoder protect archive.tar -P`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProtect(cmd, g, &o, args[0])
		},
	}
	cmd.Flags().IntVarP(&o.dataCount, "data", "n", 0, "Number of data volumes (configuration default when 0)")
	cmd.Flags().IntVarP(&o.eccCount, "ecc", "m", 0, "Number of ECC volumes (configuration default when 0)")
	cmd.Flags().StringVarP(&o.codecType, "type", "t", "", "Codec type: dispersal, alternative or cauchy")
	cmd.Flags().StringVarP(&o.outDir, "out-dir", "o", "", "Directory for the volumes (next to FILE by default)")
	cmd.Flags().StringVarP(&o.pw.password, "password", "p", "", "Encrypt volume contents with this password")
	cmd.Flags().BoolVarP(&o.pw.stdin, "password-stdin", "P", false, "Read the password from stdin")
	cmd.Flags().BoolVarP(&o.pw.prompt, "encrypt", "e", false, "Prompt for a password and encrypt")
	return cmd
}

func runProtect(cmd *cobra.Command, g *globalOptions, o *protectOptions, src string) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	c := cfg.DefaultCoding()
	if o.dataCount != 0 {
		c.DataCount = o.dataCount
	}
	if o.eccCount != 0 {
		c.EccCount = o.eccCount
	}
	if o.codecType != "" {
		if c.Type, err = types.ParseCodecType(o.codecType); err != nil {
			return err
		}
	}
	password, err := o.pw.resolve(cmd.InOrStdin(), true)
	if err != nil {
		return err
	}

	fi, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("cannot access %s: %w", src, err)
	}
	reporter := NewReporter(cmd.ErrOrStderr(), g.quiet)
	reporter.PrintSuccess("Protecting %s (%s) as %s", src, humanize.IBytes(uint64(fi.Size())), c)

	res := g.run(cmd, cfg, orchestrator.Protect, orchestrator.Job{
		Source:   src,
		Dir:      o.outDir,
		Coding:   c,
		Password: password,
	})
	if res.Err != nil {
		return res.Err
	}
	for _, v := range res.Volumes {
		fmt.Fprintln(cmd.OutOrStdout(), v)
	}
	return nil
}
