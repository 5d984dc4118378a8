package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/netman/internal/config"
	"github.com/anstrom/netman/internal/daemon"
	"github.com/anstrom/netman/internal/db"
	"github.com/anstrom/netman/internal/device"
	"github.com/anstrom/netman/internal/registry"
)

var (
	credentialUsername string
	credentialPassword string
	credentialScope    string
)

// credentialsCmd represents the credentials command.
var credentialsCmd = &cobra.Command{
	Use:     "credentials",
	Aliases: []string{"creds"},
	Short:   "Manage device login credentials",
	Long: `Credentials are tried in the order they were added when logging
into a device. A credential with a scope is only tried on devices of
that type or below it; one without a scope is tried everywhere.`,
	Example: `  netman credentials add --username admin --password secret
  netman credentials add --username ubnt --password ubnt --scope ubiquiti
  netman credentials list
  netman credentials delete 0b4f6a7e-2f0c-4bd4-8c71-8f7a52b1e9d3`,
}

var credentialsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a credential",
	Args:  cobra.NoArgs,
	RunE:  runCredentialsAdd,
}

var credentialsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List credentials",
	Args:  cobra.NoArgs,
	RunE:  runCredentialsList,
}

var credentialsDeleteCmd = &cobra.Command{
	Use:   "delete [ID]",
	Short: "Delete a credential",
	Args:  cobra.ExactArgs(1),
	RunE:  runCredentialsDelete,
}

func init() {
	rootCmd.AddCommand(credentialsCmd)
	credentialsCmd.AddCommand(credentialsAddCmd, credentialsListCmd, credentialsDeleteCmd)

	credentialsAddCmd.Flags().StringVar(&credentialUsername, "username", "", "Login username")
	credentialsAddCmd.Flags().StringVar(&credentialPassword, "password", "", "Login password")
	credentialsAddCmd.Flags().StringVar(&credentialScope, "scope", "", "Device type the credential is limited to")
	_ = credentialsAddCmd.MarkFlagRequired("username")
}

// validateScope checks that scope names a known device type.
func validateScope(reg *registry.Registry, scope string) error {
	if scope == "" {
		return nil
	}
	if _, ok := reg.Get(registry.TypeID(scope)); !ok {
		return fmt.Errorf("unknown device type '%s'", scope)
	}
	return nil
}

func runCredentialsAdd(_ *cobra.Command, _ []string) error {
	return withDatabase(func(ctx context.Context, cfg *config.Config, database *db.DB) error {
		reg, err := daemon.LoadRegistry(cfg)
		if err != nil {
			return err
		}
		if err := validateScope(reg, credentialScope); err != nil {
			return err
		}

		cred := &device.Credential{
			Username: credentialUsername,
			Passkey:  credentialPassword,
			Scope:    registry.TypeID(credentialScope),
		}
		if err := db.NewCredentialRepository(database).Create(ctx, cred); err != nil {
			return fmt.Errorf("error storing credential: %w", err)
		}
		fmt.Printf("Added credential %s\n", cred.ID)
		return nil
	})
}

func runCredentialsList(_ *cobra.Command, _ []string) error {
	return withDatabase(func(ctx context.Context, _ *config.Config, database *db.DB) error {
		creds, err := db.NewCredentialRepository(database).List(ctx)
		if err != nil {
			return fmt.Errorf("error querying credentials: %w", err)
		}
		displayCredentials(os.Stdout, creds)
		return nil
	})
}

func runCredentialsDelete(_ *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	return withDatabase(func(ctx context.Context, _ *config.Config, database *db.DB) error {
		if err := db.NewCredentialRepository(database).Delete(ctx, id); err != nil {
			return err
		}
		fmt.Printf("Deleted credential %s\n", id)
		return nil
	})
}

// displayCredentials renders credentials as a table. Passkeys are never shown.
func displayCredentials(w io.Writer, creds []device.Credential) {
	if len(creds) == 0 {
		fmt.Fprintln(w, "No credentials configured.")
		return
	}

	table := tablewriter.NewWriter(w)
	table.Header("ID", "Username", "Scope", "Created")

	for i := range creds {
		cred := &creds[i]
		scope := string(cred.Scope)
		if cred.IsGlobal() {
			scope = "(all types)"
		}
		_ = table.Append([]string{
			cred.ID.String(),
			cred.Username,
			scope,
			cred.CreatedAt.Local().Format(timestampFormat),
		})
	}
	_ = table.Render()
}
