package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mailkite/mailkite/internal/config"
	"github.com/mailkite/mailkite/internal/dkim"
)

var (
	dkimDomain   string
	dkimSelector string
	dkimKeyFile  string
)

var dkimCmd = &cobra.Command{
	Use:   "dkim",
	Short: "DKIM signing key commands",
	Long: `Manage the DKIM signing key. Domain, selector and key path default to
the dkim section of the config file; flags override them.`,
}

var dkimKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate the signing key and print its DNS record",
	RunE:  runDKIMKeygen,
}

var dkimRecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Print the DNS record for the existing signing key",
	RunE:  runDKIMRecord,
}

func init() {
	for _, c := range []*cobra.Command{dkimKeygenCmd, dkimRecordCmd} {
		c.Flags().StringVar(&dkimDomain, "domain", "", "signing domain")
		c.Flags().StringVar(&dkimSelector, "selector", "", "DKIM selector")
		c.Flags().StringVar(&dkimKeyFile, "key", "", "private key path")
	}

	dkimCmd.AddCommand(dkimKeygenCmd, dkimRecordCmd)
	rootCmd.AddCommand(dkimCmd)
}

// resolveDKIMSettings merges the config file's dkim section with the command
// flags, flags winning.
func resolveDKIMSettings() (domain, selector, keyFile string, err error) {
	if cfgFile != "" {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return "", "", "", fmt.Errorf("failed to load config: %w", err)
		}
		domain = cfg.DKIM.Domain
		selector = cfg.DKIM.Selector
		keyFile = cfg.DKIM.KeyFile
	}
	if dkimDomain != "" {
		domain = dkimDomain
	}
	if dkimSelector != "" {
		selector = dkimSelector
	}
	if dkimKeyFile != "" {
		keyFile = dkimKeyFile
	}

	if domain == "" {
		return "", "", "", fmt.Errorf("signing domain is required (set dkim.domain in the config or pass --domain)")
	}
	if selector == "" {
		selector = "mailkite"
	}
	if keyFile == "" {
		keyFile = fmt.Sprintf("%s.%s.key", selector, domain)
	}
	return domain, selector, keyFile, nil
}

func runDKIMKeygen(cmd *cobra.Command, args []string) error {
	domain, selector, keyFile, err := resolveDKIMSettings()
	if err != nil {
		return err
	}

	kp, err := dkim.GenerateKey(domain, selector)
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}
	if err := kp.SavePrivateKey(keyFile); err != nil {
		return fmt.Errorf("failed to save private key: %w", err)
	}

	fmt.Printf("wrote %s\n\npublish this TXT record:\n\n", keyFile)
	printDNSRecord(kp)
	return nil
}

func runDKIMRecord(cmd *cobra.Command, args []string) error {
	domain, selector, keyFile, err := resolveDKIMSettings()
	if err != nil {
		return err
	}

	key, err := dkim.LoadPrivateKey(keyFile)
	if err != nil {
		return fmt.Errorf("failed to load private key: %w", err)
	}

	printDNSRecord(&dkim.KeyPair{PrivateKey: key, Domain: domain, Selector: selector})
	return nil
}

func printDNSRecord(kp *dkim.KeyPair) {
	fmt.Printf("%s. IN TXT \"%s\"\n", kp.DNSName(), kp.DNSRecord())
}
