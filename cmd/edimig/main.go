package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wattline/edimig"
)

var (
	schemaDir     string
	formatVersion string
	messageType   string
)

func main() {
	root := &cobra.Command{
		Use:           "edimig",
		Short:         "Schema-driven EDIFACT / BO4E conversion for German market communication",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&schemaDir, "schemas", "s", "schemas", "schema bundle root directory")
	root.PersistentFlags().StringVar(&formatVersion, "format-version", string(edimig.FV2504), "format version, ex: FV2504")

	root.AddCommand(convertCmd(), validateCmd(), roundtripCmd(), detectCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConverter() (*edimig.Converter, *edimig.Registry, error) {
	registry, err := edimig.LoadRegistryDir(schemaDir)
	if err != nil {
		return nil, nil, fmt.Errorf("loading schemas from %s: %w", schemaDir, err)
	}
	return edimig.NewConverter(registry), registry, nil
}

func readInput(args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return os.ReadFile("/dev/stdin")
	}
	return os.ReadFile(args[0])
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func convertCmd() *cobra.Command {
	var reverse bool
	cmd := &cobra.Command{
		Use:   "convert [file]",
		Short: "Convert EDIFACT to BO4E JSON (or back with --reverse)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			converter, _, err := loadConverter()
			if err != nil {
				return err
			}
			data, err := readInput(args)
			if err != nil {
				return err
			}
			fv := edimig.FormatVersion(formatVersion)
			if reverse {
				var mapped edimig.MappedMessage
				if err := json.Unmarshal(data, &mapped); err != nil {
					return fmt.Errorf("parsing BO4E input: %w", err)
				}
				out, err := converter.FromBo4e(&mapped, messageType, fv)
				if err != nil {
					return err
				}
				_, err = os.Stdout.Write(out)
				return err
			}
			result, err := converter.ToBo4e(data, fv)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().BoolVarP(&reverse, "reverse", "r", false, "convert BO4E JSON back to EDIFACT")
	cmd.Flags().StringVarP(&messageType, "message-type", "m", "UTILMD", "message type for reverse conversion")
	return cmd
}

func validateCmd() *cobra.Command {
	var level string
	cmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate an EDIFACT interchange against its AHB workflows",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, registry, err := loadConverter()
			if err != nil {
				return err
			}
			data, err := readInput(args)
			if err != nil {
				return err
			}
			raw, err := edimig.Tokenize(data)
			if err != nil {
				return err
			}
			inter, err := edimig.SplitInterchange(raw)
			if err != nil {
				return err
			}

			validationLevel := edimig.LevelFull
			switch level {
			case "structure":
				validationLevel = edimig.LevelStructure
			case "conditions":
				validationLevel = edimig.LevelConditions
			}

			exitError := false
			for i := range inter.Messages {
				msg := &inter.Messages[i]
				bundle, err := registry.Bundle(msg.MessageType, edimig.FormatVersion(formatVersion))
				if err != nil {
					return err
				}
				pid, err := edimig.DetectPid(msg, bundle.PidTable)
				if err != nil {
					return fmt.Errorf("message %d: %w", msg.Index, err)
				}
				report, err := bundle.Validator().Validate(msg, pid, validationLevel)
				if err != nil {
					return fmt.Errorf("message %d: %w", msg.Index, err)
				}
				if err := printJSON(report); err != nil {
					return err
				}
				if !report.Valid() {
					exitError = true
				}
			}
			if exitError {
				os.Exit(2)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&level, "level", "l", "full", "validation level: structure, conditions, full")
	return cmd
}

func roundtripCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "roundtrip [file]",
		Short: "Parse and re-render an interchange, verifying byte fidelity",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, registry, err := loadConverter()
			if err != nil {
				return err
			}
			data, err := readInput(args)
			if err != nil {
				return err
			}
			raw, err := edimig.Tokenize(data)
			if err != nil {
				return err
			}
			inter, err := edimig.SplitInterchange(raw)
			if err != nil {
				return err
			}
			if len(inter.Messages) == 0 {
				return fmt.Errorf("input carries no messages")
			}
			mig, err := registry.Mig(inter.Messages[0].MessageType, edimig.FormatVersion(formatVersion))
			if err != nil {
				return err
			}
			out, err := edimig.Roundtrip(data, mig)
			if err != nil {
				return err
			}
			if _, err := os.Stdout.Write(out); err != nil {
				return err
			}
			if string(out) != string(data) {
				fmt.Fprintln(os.Stderr, "warning: output differs from input")
				os.Exit(3)
			}
			return nil
		},
	}
}

func detectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detect [file]",
		Short: "Detect the Prüfidentifikator of each message",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(args)
			if err != nil {
				return err
			}
			raw, err := edimig.Tokenize(data)
			if err != nil {
				return err
			}
			inter, err := edimig.SplitInterchange(raw)
			if err != nil {
				return err
			}
			table := edimig.DefaultPidTable()
			for i := range inter.Messages {
				msg := &inter.Messages[i]
				pid, err := edimig.DetectPid(msg, table)
				if err != nil {
					fmt.Printf("%s\t%s\t%s\n", msg.Reference, msg.MessageType, err)
					continue
				}
				fmt.Printf("%s\t%s\t%s\n", msg.Reference, msg.MessageType, pid)
			}
			return nil
		},
	}
}
