package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"alexhalogen/rsraid/internal/cmdparser"
	"alexhalogen/rsraid/internal/config"
	rserr "alexhalogen/rsraid/internal/errors"
	"alexhalogen/rsraid/internal/integrity"
	"alexhalogen/rsraid/internal/orchestrator"
)

// NewDecoderCommand returns the root command of the decoder binary.
func NewDecoderCommand() *cobra.Command {
	var g globalOptions
	root := newRoot("decoder", "Check, repair and restore Reed-Solomon protected files")
	g.register(root)
	root.AddCommand(newRecoverCommand(&g), newRepairCommand(&g), newTestCommand(&g))
	return root
}

// setJob loads the configuration and derives the job from any volume of the
// set.
func setJob(g *globalOptions, volume string) (config.Config, orchestrator.Job, error) {
	cfg, err := g.load()
	if err != nil {
		return config.Config{}, orchestrator.Job{}, err
	}
	job, err := orchestrator.JobFromVolume(volume)
	return cfg, job, err
}

func newRecoverCommand(g *globalOptions) *cobra.Command {
	var (
		output    string
		available string
		pw        passwordFlags
	)
	cmd := &cobra.Command{
		Use:   "recover VOLUME",
		Short: "Restore the protected file from the surviving volumes",
		Long: `Check the volume set VOLUME belongs to, rebuild missing data volumes
and glue the data volumes back into the original file.

Examples:
  decoder recover vols/C000000040002.archive.tar -o archive.tar

  # Decode from an explicit volume list
  decoder recover vols/C000000040002.archive.tar --available "[0, 2, 4, 5]"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, job, err := setJob(g, args[0])
			if err != nil {
				return err
			}
			if available != "" {
				vols, ok := cmdparser.ParseAvailability(available, job.Coding.Total())
				if !ok {
					return rserr.NewConfigError("available", "malformed volume list %q", available)
				}
				job.Availability = vols
			}
			if job.Password, err = pw.resolve(cmd.InOrStdin(), false); err != nil {
				return err
			}
			job.Output = output

			res := g.run(cmd, cfg, orchestrator.Recover, job)
			if res.Report != nil {
				printDamage(cmd, res.Report)
			}
			if res.Err != nil {
				return res.Err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Restored file (original name next to the volumes by default)")
	cmd.Flags().StringVar(&available, "available", "", `Volumes to decode from, e.g. "[0, 1, 4]"`)
	cmd.Flags().StringVarP(&pw.password, "password", "p", "", "Password of encrypted volumes")
	cmd.Flags().BoolVarP(&pw.stdin, "password-stdin", "P", false, "Read the password from stdin")
	cmd.Flags().BoolVarP(&pw.prompt, "encrypted", "e", false, "Prompt for the password")
	return cmd
}

func newRepairCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "repair VOLUME",
		Short: "Rebuild damaged or missing volumes in place",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, job, err := setJob(g, args[0])
			if err != nil {
				return err
			}
			res := g.run(cmd, cfg, orchestrator.Repair, job)
			if res.Report != nil {
				printDamage(cmd, res.Report)
			}
			if res.Err != nil {
				return res.Err
			}
			if res.Report != nil && !res.Report.Damaged() {
				fmt.Fprintln(cmd.OutOrStdout(), "volume set is intact, nothing to repair")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "volume set repaired")
			return nil
		},
	}
}

// reportView is the --yaml form of a check.
type reportView struct {
	Name        string `yaml:"name"`
	Scheme      string `yaml:"scheme"`
	Recoverable bool   `yaml:"recoverable"`
	Available   string `yaml:"available"`

	integrity.Report `yaml:",inline"`
}

func newTestCommand(g *globalOptions) *cobra.Command {
	var fast, asYAML bool
	cmd := &cobra.Command{
		Use:   "test VOLUME",
		Short: "Check every volume of the set without changing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, job, err := setJob(g, args[0])
			if err != nil {
				return err
			}
			job.Fast = fast
			res := g.run(cmd, cfg, orchestrator.Test, job)
			if res.Err != nil {
				return res.Err
			}
			rep := res.Report
			if asYAML {
				view := reportView{
					Name:        job.Name,
					Scheme:      job.Coding.String(),
					Recoverable: rep.Recoverable(),
					Available:   cmdparser.AvailabilityToCSV(rep.VolList),
					Report:      *rep,
				}
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(view); err != nil {
					return err
				}
				return enc.Close()
			}
			printDamage(cmd, rep)
			if !rep.Recoverable() {
				return rserr.ErrTooFewVolumes
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&fast, "fast", false, "Only check presence and size, skip checksums")
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Print the report as YAML")
	return cmd
}

func printDamage(cmd *cobra.Command, rep *integrity.Report) {
	s := rep.Stats
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "volumes:   %d of %d intact, %s each\n",
		len(rep.VolList), rep.Coding.Total(), humanize.IBytes(uint64(max(rep.VolumeSize, 0))))
	fmt.Fprintf(out, "missing:   %d data volume(s)\n", s.MissingCount)
	fmt.Fprintf(out, "ecc:       %d present\n", s.AltEccPresentCount)
	fmt.Fprintf(out, "damage:    %s%%\n", humanize.FtoaWithDigits(s.PercentDamage, 2))
	fmt.Fprintf(out, "reserve:   %s%%\n", humanize.FtoaWithDigits(s.PercentReserve, 2))
	fmt.Fprintf(out, "available: %s\n", cmdparser.AvailabilityToCSV(rep.VolList))
}
