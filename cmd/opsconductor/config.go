package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/opsconductor/opsconductor/internal/config"
	"github.com/opsconductor/opsconductor/internal/models"
	"github.com/opsconductor/opsconductor/internal/store"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	exportFile  string
	importFile  string
	passphrase  string
	forceImport bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Manage OpsConductor configuration and connector credentials`,
}

var configInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show configuration information",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		fmt.Println("OpsConductor Configuration")
		fmt.Println("==========================")
		fmt.Println()
		fmt.Printf("Data directory : %s\n", cfg.DataDir)
		fmt.Printf("Database       : %s\n", cfg.DatabasePath)
		fmt.Printf("Trap listener  : %s:%d (queue %d, workers %d)\n",
			cfg.TrapHost, cfg.TrapPort, cfg.TrapQueueSize, cfg.TrapWorkers)
		fmt.Printf("Webhook ingress: %s\n", cfg.WebhookAddr)
		fmt.Println()
		fmt.Println("Connector credentials (API tokens, passhashes, communities)")
		fmt.Println("live in the connectors table; use 'config export' to take an")
		fmt.Println("encrypted backup and 'config import' to restore one.")
		return nil
	},
}

// exportPayload is the encrypted-backup wire shape.
type exportPayload struct {
	Version    int                `json:"version"`
	Connectors []exportConnector  `json:"connectors"`
}

type exportConnector struct {
	ConnectorType string          `json:"connector_type"`
	Config        json.RawMessage `json:"config"`
	Enabled       bool            `json:"enabled"`
}

var configExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export connector credentials with encryption",
	Example: `  # Export with interactive passphrase prompt
  opsconductor config export -o opsconductor-config.enc

  # Export with passphrase from environment variable
  OPSCONDUCTOR_PASSPHRASE=mysecret opsconductor config export -o opsconductor-config.enc`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pass := getPassphrase("Enter passphrase for encryption: ", false)
		if pass == "" {
			return fmt.Errorf("passphrase is required")
		}

		st, err := openConfiguredStore()
		if err != nil {
			return err
		}
		defer st.Close()

		rows, err := st.EnabledConnectors(context.Background())
		if err != nil {
			return fmt.Errorf("failed to read connectors: %w", err)
		}
		payload := exportPayload{Version: 1}
		for _, row := range rows {
			payload.Connectors = append(payload.Connectors, exportConnector{
				ConnectorType: row.ConnectorType,
				Config:        json.RawMessage(row.Config),
				Enabled:       row.Enabled,
			})
		}
		plain, err := json.Marshal(payload)
		if err != nil {
			return err
		}

		sealed, err := config.EncryptWithPassphrase(plain, pass)
		if err != nil {
			return fmt.Errorf("failed to encrypt configuration: %w", err)
		}

		if exportFile != "" {
			if err := os.WriteFile(exportFile, []byte(sealed), 0600); err != nil {
				return fmt.Errorf("failed to write export file: %w", err)
			}
			fmt.Printf("Configuration exported to %s\n", exportFile)
		} else {
			fmt.Println(sealed)
		}
		return nil
	},
}

var configImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import connector credentials from an encrypted export",
	Example: `  # Import with interactive passphrase prompt
  opsconductor config import -i opsconductor-config.enc

  # Force import without confirmation
  opsconductor config import -i opsconductor-config.enc --force`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if importFile == "" {
			return fmt.Errorf("import file is required (use -i flag)")
		}
		data, err := os.ReadFile(importFile)
		if err != nil {
			return fmt.Errorf("failed to read import file: %w", err)
		}

		pass := getPassphrase("Enter passphrase for decryption: ", false)
		if pass == "" {
			return fmt.Errorf("passphrase is required")
		}

		if !forceImport {
			fmt.Println("WARNING: This will add connectors on top of the existing configuration!")
			fmt.Print("Continue? (yes/no): ")
			reader := bufio.NewReader(os.Stdin)
			response, _ := reader.ReadString('\n')
			response = strings.TrimSpace(strings.ToLower(response))
			if response != "yes" && response != "y" {
				fmt.Println("Import cancelled")
				return nil
			}
		}

		plain, err := config.DecryptWithPassphrase(strings.TrimSpace(string(data)), pass)
		if err != nil {
			return fmt.Errorf("failed to decrypt configuration: %w", err)
		}
		var payload exportPayload
		if err := json.Unmarshal(plain, &payload); err != nil {
			return fmt.Errorf("failed to parse configuration: %w", err)
		}

		st, err := openConfiguredStore()
		if err != nil {
			return err
		}
		defer st.Close()

		imported := 0
		for _, c := range payload.Connectors {
			if _, err := st.InsertConnector(context.Background(), models.Connector{
				ConnectorType: c.ConnectorType,
				Config:        []byte(c.Config),
				Enabled:       c.Enabled,
			}); err != nil {
				return fmt.Errorf("failed to import %s connector: %w", c.ConnectorType, err)
			}
			imported++
		}

		fmt.Printf("Imported %d connectors\n", imported)
		fmt.Println("Restart OpsConductor for changes to take effect")
		return nil
	},
}

// Hidden command for automated first-boot setup.
var configAutoImportCmd = &cobra.Command{
	Use:    "auto-import",
	Hidden: true,
	Short:  "Auto-import configuration on startup",
	RunE: func(cmd *cobra.Command, args []string) error {
		configData := os.Getenv("OPSCONDUCTOR_INIT_CONFIG_DATA")
		configPass := os.Getenv("OPSCONDUCTOR_INIT_CONFIG_PASSPHRASE")
		if configData == "" {
			return nil
		}
		if configPass == "" {
			return fmt.Errorf("OPSCONDUCTOR_INIT_CONFIG_PASSPHRASE is required for auto-import")
		}

		plain, err := config.DecryptWithPassphrase(strings.TrimSpace(configData), configPass)
		if err != nil {
			return fmt.Errorf("failed to decrypt auto-import payload: %w", err)
		}
		var payload exportPayload
		if err := json.Unmarshal(plain, &payload); err != nil {
			return fmt.Errorf("failed to parse auto-import payload: %w", err)
		}

		st, err := openConfiguredStore()
		if err != nil {
			return err
		}
		defer st.Close()
		for _, c := range payload.Connectors {
			if _, err := st.InsertConnector(context.Background(), models.Connector{
				ConnectorType: c.ConnectorType,
				Config:        []byte(c.Config),
				Enabled:       c.Enabled,
			}); err != nil {
				return fmt.Errorf("failed to auto-import %s connector: %w", c.ConnectorType, err)
			}
		}
		fmt.Println("Configuration auto-imported successfully")
		return nil
	},
}

func openConfiguredStore() (*store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0700); err != nil {
		return nil, err
	}
	return store.Open(cfg.DatabasePath)
}

var readPassword = term.ReadPassword

func getPassphrase(prompt string, confirm bool) string {
	if pass := os.Getenv("OPSCONDUCTOR_PASSPHRASE"); pass != "" {
		return pass
	}
	if passphrase != "" {
		return passphrase
	}

	fmt.Print(prompt)
	bytePassword, err := readPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return ""
	}
	pass := string(bytePassword)

	if confirm {
		fmt.Print("Confirm passphrase: ")
		bytePassword2, err := readPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return ""
		}
		if string(bytePassword2) != pass {
			fmt.Println("Passphrases do not match")
			return ""
		}
	}
	return pass
}

func init() {
	configCmd.AddCommand(configInfoCmd)
	configCmd.AddCommand(configExportCmd)
	configCmd.AddCommand(configImportCmd)
	configCmd.AddCommand(configAutoImportCmd)

	configExportCmd.Flags().StringVarP(&exportFile, "output", "o", "", "Output file for encrypted configuration")
	configExportCmd.Flags().StringVarP(&passphrase, "passphrase", "p", "", "Passphrase for encryption (or use OPSCONDUCTOR_PASSPHRASE env var)")

	configImportCmd.Flags().StringVarP(&importFile, "input", "i", "", "Input file with encrypted configuration")
	configImportCmd.Flags().StringVarP(&passphrase, "passphrase", "p", "", "Passphrase for decryption (or use OPSCONDUCTOR_PASSPHRASE env var)")
	configImportCmd.Flags().BoolVarP(&forceImport, "force", "f", false, "Force import without confirmation")
}
