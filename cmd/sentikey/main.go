// Command sentikey encrypts an exchange API secret for use with
// binance.encrypted_secret_path and verifies existing key files.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/sentibot/internal/crypto"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "sentikey",
		Short:        "Manage the encrypted exchange API secret",
		SilenceUsage: true,
	}
	root.AddCommand(newEncryptCmd(), newVerifyCmd())
	return root
}

func newEncryptCmd() *cobra.Command {
	var out, passwordEnv string
	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a secret read from stdin",
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := passwordFrom(passwordEnv)
			if err != nil {
				return err
			}
			secret, err := readLine(cmd)
			if err != nil {
				return err
			}
			blob, err := crypto.EncryptSecret(secret, password)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, blob, 0o600); err != nil {
				return fmt.Errorf("writing %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "encrypted secret written to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "binance.key.json", "output file")
	cmd.Flags().StringVar(&passwordEnv, "password-env", "SENTIBOT_BINANCE_SECRET_PASSWORD", "environment variable holding the password")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	var passwordEnv string
	cmd := &cobra.Command{
		Use:   "verify <file>",
		Short: "Check that a key file decrypts with the password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := passwordFrom(passwordEnv)
			if err != nil {
				return err
			}
			secret, err := crypto.LoadSecret(crypto.SecretConfig{EncryptedPath: args[0], Password: password})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d-character secret\n", len(secret))
			return nil
		},
	}
	cmd.Flags().StringVar(&passwordEnv, "password-env", "SENTIBOT_BINANCE_SECRET_PASSWORD", "environment variable holding the password")
	return cmd
}

func passwordFrom(env string) (string, error) {
	pw := os.Getenv(env)
	if pw == "" {
		return "", fmt.Errorf("%s is not set", env)
	}
	return pw, nil
}

func readLine(cmd *cobra.Command) (string, error) {
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading secret from stdin: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("empty secret")
	}
	return line, nil
}
