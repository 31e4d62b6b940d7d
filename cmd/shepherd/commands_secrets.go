package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/hfi/secret-shepherd/internal/secrets"
)

func newAddCmd(state *appState) *cobra.Command {
	var (
		filePath string
		typeStr  string
		ctlStr   string
		value    string
		fromEnv  string
		shortcut bool
	)
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a secret and start tracking it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			typ, err := parseType(typeStr)
			if err != nil {
				return err
			}
			ctl, err := parseControl(ctlStr)
			if err != nil {
				return err
			}

			scope := filePath
			switch {
			case shortcut:
				scope = secrets.ShortcutScope
			case scope == "" && typ == secrets.TypeEnvironment:
				scope = secrets.EnvScope
			case scope == "":
				return errors.New("add requires --file (or --shortcut)")
			}

			v, err := resolveValueInput(value, fromEnv, name)
			if err != nil {
				return err
			}

			sec, err := state.eng.AddSecret(cmd.Context(), name, v, scope, typ, ctl)
			if err != nil {
				return err
			}
			if typ == secrets.TypeStatic {
				// Resolvable for the rest of this run; persistence needs a
				// values.static entry in the config file.
				state.static.Set(name, v)
				if _, ok := state.cfg.Values.Static[name]; !ok {
					fmt.Fprintf(os.Stderr, "note: add %q to values.static in the config to unstash it in later runs\n", name)
				}
			}
			fmt.Printf("Tracking %s (%s, %s) in %s\n", sec.Name, sec.Type, sec.ControlType, sec.FilePath)
			return nil
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "file the secret lives in")
	cmd.Flags().StringVar(&typeStr, "type", "static", "secret type (static, environment, vault, storage-key, custom)")
	cmd.Flags().StringVar(&ctlStr, "control", "managed", "control type (managed or supervised)")
	cmd.Flags().StringVar(&value, "value", "", "secret value (prefer --from-env or the prompt)")
	cmd.Flags().StringVar(&fromEnv, "from-env", "", "read the value from this environment variable")
	cmd.Flags().BoolVar(&shortcut, "shortcut", false, "register under the shortcuts scope instead of a file")
	return cmd
}

// resolveValueInput picks the plaintext source: explicit flag, environment
// variable, or a hidden terminal prompt.
func resolveValueInput(value, fromEnv, name string) (string, error) {
	if value != "" {
		return value, nil
	}
	if fromEnv != "" {
		v, ok := os.LookupEnv(fromEnv)
		if !ok {
			return "", fmt.Errorf("environment variable %q not set", fromEnv)
		}
		return v, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("reading value from stdin: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	fmt.Fprintf(os.Stderr, "Value for %s: ", name)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func newListCmd(state *appState) *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked secrets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secs, err := state.eng.ListSecrets(cmd.Context(), filePath, filePath != "")
			if err != nil {
				return err
			}
			if len(secs) == 0 {
				fmt.Println("No secrets tracked.")
				return nil
			}
			for _, sec := range secs {
				fmt.Printf("%s\t%s\t%s\tlen=%d\t%s\n",
					sec.Name, sec.Type, sec.ControlType, sec.Length, sec.FilePath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "only secrets registered for this file")
	return cmd
}

func newForgetCmd(state *appState) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "forget <file> <name>...",
		Short: "Stop tracking secrets (values in files are left as-is)",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			filePath, names := args[0], args[1:]
			if !yes {
				prompt := fmt.Sprintf("Forget %s in %s? Unstashing them later will not be possible.",
					strings.Join(names, ", "), filePath)
				ok, err := confirm(prompt)
				if err != nil {
					return err
				}
				if !ok {
					return errors.New("forget cancelled")
				}
			}
			if err := state.eng.Forget(cmd.Context(), filePath, names); err != nil {
				return err
			}
			fmt.Printf("Forgot %d secret(s) in %s\n", len(names), filePath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "skip confirmation prompt")
	return cmd
}

func newRotateCmd(state *appState) *cobra.Command {
	var (
		filePath string
		value    string
		fromEnv  string
	)
	cmd := &cobra.Command{
		Use:   "rotate <name>",
		Short: "Re-fingerprint a secret after its value changed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			secs, err := state.eng.ListSecrets(cmd.Context(), filePath, filePath != "")
			if err != nil {
				return err
			}
			var oldHash string
			for _, sec := range secs {
				if sec.Name == name {
					oldHash = sec.Hash
					break
				}
			}
			if oldHash == "" {
				return fmt.Errorf("no tracked secret named %q", name)
			}

			v, err := resolveValueInput(value, fromEnv, name)
			if err != nil {
				return err
			}
			updated, err := state.eng.Rotate(cmd.Context(), oldHash, v)
			if err != nil {
				return err
			}
			fmt.Printf("Rotated %d record(s) of %s\n", updated, name)
			return nil
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "limit the hash lookup to one file")
	cmd.Flags().StringVar(&value, "value", "", "new secret value (prefer --from-env or the prompt)")
	cmd.Flags().StringVar(&fromEnv, "from-env", "", "read the new value from this environment variable")
	return cmd
}

// confirm asks a yes/no question on the terminal. Non-interactive runs must
// pass --yes instead.
func confirm(prompt string) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, errors.New("confirmation required; pass --yes when not running interactively")
	}
	fmt.Fprintf(os.Stderr, "%s [y/N] ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
