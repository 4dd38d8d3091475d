package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ssankko/speechkit/auth"
	"github.com/ssankko/speechkit/health"
	"github.com/ssankko/speechkit/recognize"
	"github.com/ssankko/speechkit/www"
)

var logger *log.Logger

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(streamCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(serveCmd)

	rootCmd.PersistentFlags().
		String("key-file", "", "Path to the PEM-encoded RSA private key")
	rootCmd.PersistentFlags().
		String("service-account-id", "", "Service account ID the assertions are issued by")
	rootCmd.PersistentFlags().
		String("key-id", "", "ID of the authorized key the assertions are signed with")
	rootCmd.PersistentFlags().
		String("folder-id", "", "Cloud folder recognition sessions are billed against")
	rootCmd.PersistentFlags().
		String("token-endpoint", auth.DefaultEndpoint, "Token exchange endpoint")
	rootCmd.PersistentFlags().
		String("stt-endpoint", recognize.DefaultEndpoint, "Streaming recognition endpoint")

	viper.BindPFlag(
		"key_file",
		rootCmd.PersistentFlags().Lookup("key-file"),
	)
	viper.BindPFlag(
		"service_account_id",
		rootCmd.PersistentFlags().Lookup("service-account-id"),
	)
	viper.BindPFlag(
		"key_id",
		rootCmd.PersistentFlags().Lookup("key-id"),
	)
	viper.BindPFlag(
		"folder_id",
		rootCmd.PersistentFlags().Lookup("folder-id"),
	)
	viper.BindPFlag(
		"token_endpoint",
		rootCmd.PersistentFlags().Lookup("token-endpoint"),
	)
	viper.BindPFlag(
		"stt_endpoint",
		rootCmd.PersistentFlags().Lookup("stt-endpoint"),
	)
}

func initConfig() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.SetEnvPrefix("speechkit")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Printf("Error reading config file: %s\n", err)
		}
	}

	logger = log.New(os.Stderr)
}

var rootCmd = &cobra.Command{
	Use:   "speechkit",
	Short: "Streaming speech recognition client",
	Long:  `speechkit streams audio to an assertion-authenticated recognition service and prints the transcripts it sends back.`,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Exchange a signed assertion for an access token",
	Run:   runToken,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Print a one-shot health report",
	Run:   runHealth,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the health endpoint over HTTP",
	Run:   runServe,
}

func init() {
	serveCmd.Flags().IntP("port", "p", 4444, "Port to run the HTTP server on")
}

// newTokenCache builds the signer and cache from viper settings. Every
// command that talks to the cloud goes through here.
func newTokenCache() (*auth.Cache, error) {
	keyFile := viper.GetString("key_file")
	if keyFile == "" {
		return nil, fmt.Errorf(
			"key file not set (use --key-file or SPEECHKIT_KEY_FILE)",
		)
	}

	pemKey, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	tokenEndpoint := viper.GetString("token_endpoint")

	signer, err := auth.NewSigner(
		pemKey,
		viper.GetString("service_account_id"),
		tokenEndpoint,
		viper.GetString("key_id"),
	)
	if err != nil {
		return nil, err
	}

	cache := auth.NewCache(signer, logger)
	cache.Endpoint = tokenEndpoint
	return cache, nil
}

func runToken(cmd *cobra.Command, args []string) {
	cache, err := newTokenCache()
	if err != nil {
		logger.Fatal("token cache", "error", err)
	}

	token, err := cache.Token(cmd.Context())
	if err != nil {
		logger.Fatal("token exchange", "error", err)
	}

	if cached, ok := cache.Cached(); ok {
		logger.Info("token", "expires_at", cached.ExpiresAt)
	}
	fmt.Println(token)
}

func runHealth(cmd *cobra.Command, args []string) {
	poller := health.NewPoller(logger)
	poller.Start(cmd.Context())
	defer poller.Stop()

	snap := poller.Snapshot()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Metric", "Value"})
	table.SetBorder(false)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetAutoWrapText(false)

	table.Append([]string{"Taken At", snap.TakenAt.Format("2006-01-02 15:04:05")})
	if snap.Memory != nil {
		table.Append([]string{
			"Memory Used",
			fmt.Sprintf("%.1f%%", snap.Memory.UsedPercent),
		})
	}
	if snap.LoadAverage != nil {
		table.Append([]string{
			"Load Average",
			fmt.Sprintf("%.2f %.2f %.2f",
				snap.LoadAverage.Load1,
				snap.LoadAverage.Load5,
				snap.LoadAverage.Load15,
			),
		})
	}
	if snap.Disk != nil {
		table.Append([]string{
			"Disk Used",
			fmt.Sprintf("%.1f%%", snap.Disk.UsedPercent),
		})
	}
	for i, pct := range snap.CPUPercent {
		table.Append([]string{
			fmt.Sprintf("CPU %d", i),
			fmt.Sprintf("%.1f%%", pct),
		})
	}
	table.Append([]string{"Uptime", fmt.Sprintf("%d s", snap.UptimeSec)})
	for _, probe := range snap.Errors {
		table.Append([]string{"Probe Error", probe})
	}

	table.Render()
}

func runServe(cmd *cobra.Command, args []string) {
	port, _ := cmd.Flags().GetInt("port")

	tracker := &health.Tracker{}
	poller := health.NewPoller(logger)
	poller.Start(cmd.Context())
	defer poller.Stop()

	if err := www.Serve(port, tracker, poller); err != nil {
		logger.Fatal("http server", "error", err)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
