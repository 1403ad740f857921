package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

// Global flags
var (
	configPath string
	dbPath     string
	verbose    bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "sitekb",
	Short: "sitekb - website knowledge base MCP server",
	Long: `sitekb turns a business website into a searchable knowledge base and
answers questions from it.

Run without arguments to start the MCP server on stdio.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server on stdio",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Args:  cobra.NoArgs,
	RunE:  runVersion,
}

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage tenants",
}

var tenantAddCmd = &cobra.Command{
	Use:   "add <id> <name> <url>...",
	Short: "Create or update a tenant and its website URLs",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runTenantAdd,
}

var uploadCmd = &cobra.Command{
	Use:   "upload <tenant-id> <file>...",
	Short: "Store text documents for the tenant's next build",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runUpload,
}

var buildCmd = &cobra.Command{
	Use:   "build <tenant-id>",
	Short: "Build the tenant's knowledge base",
	Long: `Crawl the tenant's website, chunk and embed its content, and publish a new
knowledge base. The previous knowledge base stays searchable until the new one
is complete.`,
	Args: cobra.ExactArgs(1),
	RunE: runBuild,
}

var statusCmd = &cobra.Command{
	Use:   "status <tenant-id>",
	Short: "Show the tenant's build status",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var askCmd = &cobra.Command{
	Use:   "ask <tenant-id> <question>",
	Short: "Answer a question from the tenant's knowledge base",
	Args:  cobra.ExactArgs(2),
	RunE:  runAsk,
}

var disableCmd = &cobra.Command{
	Use:   "disable <tenant-id>",
	Short: "Disable the tenant's assistant",
	Args:  cobra.ExactArgs(1),
	RunE:  runDisable,
}

// Command flags
var (
	buildURLs     []string
	buildRescrape bool
	askTopK       int
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $SITEKB_CONFIG or ~/.sitekb/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	buildCmd.Flags().StringSliceVar(&buildURLs, "url", nil, "Seed URL for this build only (repeatable)")
	buildCmd.Flags().BoolVar(&buildRescrape, "rescrape", false, "Require a ready knowledge base")

	askCmd.Flags().IntVarP(&askTopK, "top-k", "k", 0, "Passages to retrieve (default from config)")

	tenantCmd.AddCommand(tenantAddCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(tenantCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(disableCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
