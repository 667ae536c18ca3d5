package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/repclub/gymgate/internal/domain/policy"
)

var catalogRole string

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Print the capability catalog",
	Long: `Print which roles hold each capability, as YAML.

With --role, print only the capabilities that role holds.

Examples:
  gymgate catalog
  gymgate catalog --role trainer`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var doc any
		if catalogRole != "" {
			role, err := policy.ParseRole(catalogRole)
			if err != nil {
				return err
			}
			doc = capabilitiesFor(policy.DefaultCatalog(), role)
		} else {
			doc = catalogDocument(policy.DefaultCatalog())
		}

		out, err := yaml.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encode catalog: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

// catalogEntry is the YAML shape of one capability.
type catalogEntry struct {
	Capability string   `yaml:"capability"`
	Roles      []string `yaml:"roles"`
}

func catalogDocument(c *policy.Catalog) []catalogEntry {
	caps := c.Capabilities()
	entries := make([]catalogEntry, 0, len(caps))
	for _, capability := range caps {
		roles := c.AllowedRoles(capability)
		names := make([]string, len(roles))
		for i, r := range roles {
			names[i] = r.String()
		}
		entries = append(entries, catalogEntry{Capability: string(capability), Roles: names})
	}
	return entries
}

type roleCapabilities struct {
	Role         string   `yaml:"role"`
	Level        int      `yaml:"level"`
	Capabilities []string `yaml:"capabilities"`
}

func capabilitiesFor(c *policy.Catalog, role policy.Role) roleCapabilities {
	doc := roleCapabilities{Role: role.String(), Level: role.Level(), Capabilities: []string{}}
	for _, capability := range c.Capabilities() {
		if c.Allows(capability, role) {
			doc.Capabilities = append(doc.Capabilities, string(capability))
		}
	}
	return doc
}

func init() {
	catalogCmd.Flags().StringVar(&catalogRole, "role", "", "only list capabilities held by this role")
	rootCmd.AddCommand(catalogCmd)
}
