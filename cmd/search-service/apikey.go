package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"jobmate/search-service/internal/config"
	"jobmate/search-service/internal/secrets"
)

var keyAccount string

var apiKeyCmd = &cobra.Command{
	Use:   "api-key",
	Short: "Manage the SerpApi key stored in the OS keychain",
}

var apiKeySetCmd = &cobra.Command{
	Use:   "set [key]",
	Short: "Store the key (reads stdin when no argument is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var key string
		if len(args) == 1 {
			key = args[0]
		} else {
			fmt.Fprint(os.Stderr, "SerpApi key: ")
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read key: %w", err)
			}
			key = line
		}
		if err := secrets.SetAPIKey(keyAccount, key); err != nil {
			return err
		}
		fmt.Printf("stored key for account %q\n", keyAccount)
		return nil
	},
}

var apiKeyStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether a key is stored",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := secrets.GetAPIKey(keyAccount)
		if errors.Is(err, secrets.ErrNotFound) {
			fmt.Printf("no key stored for account %q\n", keyAccount)
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("key stored for account %q (%s)\n", keyAccount, mask(key))
		return nil
	},
}

var apiKeyDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove the stored key",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := secrets.DeleteAPIKey(keyAccount); err != nil {
			return err
		}
		fmt.Printf("deleted key for account %q\n", keyAccount)
		return nil
	},
}

func init() {
	apiKeyCmd.PersistentFlags().StringVar(&keyAccount, "account", config.Default().Upstream.KeyringAccount, "keychain account name")
	apiKeyCmd.AddCommand(apiKeySetCmd, apiKeyStatusCmd, apiKeyDeleteCmd)
	rootCmd.AddCommand(apiKeyCmd)
}

func mask(key string) string {
	key = strings.TrimSpace(key)
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
