package main

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/hfi/secret-shepherd/internal/engine"
	"github.com/hfi/secret-shepherd/internal/stash"
)

func newStashCmd(state *appState) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "stash [file]",
		Short: "Replace managed secret values with anchors",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				if len(args) > 0 {
					return errors.New("--all takes no file argument")
				}
				res, err := state.eng.StashAll(cmd.Context())
				if err != nil {
					return err
				}
				printBulkResult("Stashed", res)
				return nil
			}
			if len(args) == 0 {
				return errors.New("stash requires a file (or --all)")
			}
			res, err := state.eng.Stash(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printTransformResult("Stashed", args[0], res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "stash every tracked file")
	return cmd
}

func newUnstashCmd(state *appState) *cobra.Command {
	var (
		all bool
		yes bool
	)
	cmd := &cobra.Command{
		Use:   "unstash [file]",
		Short: "Replace anchors with managed secret values",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				if len(args) > 0 {
					return errors.New("--all takes no file argument")
				}
				if !yes {
					ok, err := confirm("Write live secret values into every tracked file?")
					if err != nil {
						return err
					}
					if !ok {
						return errors.New("unstash cancelled")
					}
				}
				res, err := state.eng.UnstashAll(cmd.Context())
				if err != nil {
					return err
				}
				printBulkResult("Unstashed", res)
				return nil
			}
			if len(args) == 0 {
				return errors.New("unstash requires a file (or --all)")
			}
			res, err := state.eng.Unstash(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printTransformResult("Unstashed", args[0], res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "unstash every tracked file")
	cmd.Flags().BoolVar(&yes, "yes", false, "skip confirmation prompt for --all")
	return cmd
}

func printTransformResult(verb, filePath string, res stash.Result) {
	fmt.Printf("%s %d secret(s) in %s\n", verb, res.Replaced, filePath)
	if len(res.Missing) > 0 {
		fmt.Fprintf(os.Stderr, "warning: not found in file: %v\n", res.Missing)
	}
}

func printBulkResult(verb string, res engine.BulkResult) {
	fmt.Printf("%s %d file(s)\n", verb, len(res.Processed))
	if len(res.Failed) == 0 {
		return
	}
	files := make([]string, 0, len(res.Failed))
	for f := range res.Failed {
		files = append(files, f)
	}
	sort.Strings(files)
	for _, f := range files {
		fmt.Fprintf(os.Stderr, "failed: %s: %v\n", f, res.Failed[f])
	}
}

func newMaskCmd(state *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mask <file>",
		Short: "Print byte ranges of secret values present in a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := state.eng.Mask(cmd.Context(), args[0])
			if err != nil {
				// An unreadable file or store yields no ranges, not a hard
				// failure; callers rendering the file degrade to showing it
				// unmasked rather than refusing to show it.
				state.logger.Warn().Err(err).Str("file", args[0]).Msg("mask failed")
				return nil
			}
			for _, r := range res.Ranges {
				fmt.Printf("%d\t%d\n", r.Start, r.End)
			}
			if len(res.Missing) > 0 {
				fmt.Fprintf(os.Stderr, "warning: not found in file: %v\n", res.Missing)
			}
			return nil
		},
	}
	return cmd
}

func newResolveCmd(state *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <file>",
		Short: "Register anchors found in a file against known secrets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			adopted, err := state.eng.ResolveAnchors(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(adopted) == 0 {
				fmt.Println("No new anchors resolved.")
				return nil
			}
			fmt.Printf("Resolved %d anchor(s): %v\n", len(adopted), adopted)
			return nil
		},
	}
	return cmd
}
