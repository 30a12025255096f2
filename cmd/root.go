package cmd

import (
	"context"
	"fmt"
	u "net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tanq16/splitfetch/internal/output"
	"github.com/tanq16/splitfetch/internal/scheduler"
	"github.com/tanq16/splitfetch/internal/utils"
)

var (
	connections      int
	segmentSize      string
	workers          int
	timeout          time.Duration
	kaTimeout        time.Duration
	userAgent        string
	proxyURL         string
	proxyUsername    string
	proxyPassword    string
	bearerToken      string
	headers          []string
	debug            bool
	plain            bool
	segmentBytes     int64
	globalHTTPConfig utils.HTTPClientConfig
)

var SplitfetchVersion = "dev"

var rootCmd = &cobra.Command{
	Use:           "splitfetch",
	Short:         "Splitfetch is a segmented, resumable HTTP downloader",
	Version:       SplitfetchVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		utils.InitLogger(debug)
		if connections < 1 {
			return fmt.Errorf("connections must be at least 1")
		}
		if segmentSize != "" {
			n, err := utils.ParseBytes(segmentSize)
			if err != nil {
				return fmt.Errorf("invalid segment size: %w", err)
			}
			segmentBytes = n
		}
		if userAgent == "randomize" {
			userAgent = utils.GetRandomUserAgent()
		}
		// credentials embedded in the proxy URL move to the client config
		parsedProxy, err := u.Parse(proxyURL)
		if err == nil && parsedProxy.User != nil && proxyUsername == "" {
			proxyUsername = parsedProxy.User.Username()
			if password, set := parsedProxy.User.Password(); set {
				proxyPassword = password
			}
			parsedProxy.User = nil
			proxyURL = parsedProxy.String()
		}
		globalHTTPConfig = utils.HTTPClientConfig{
			Timeout:       timeout,
			KATimeout:     kaTimeout,
			ProxyURL:      proxyURL,
			ProxyUsername: proxyUsername,
			ProxyPassword: proxyPassword,
			UserAgent:     userAgent,
			Headers:       utils.ParseHeaderArgs(headers),
			BearerToken:   bearerToken,
		}
		return nil
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		output.PrintError(fmt.Sprintf("%s %v", output.StyleSymbols["fail"], err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().IntVarP(&connections, "connections", "c", utils.DefaultConnections, "Number of connections per download (above 5 enables high-thread-mode)")
	rootCmd.PersistentFlags().StringVar(&segmentSize, "segment-size", "", "Fixed segment size (eg. 8MB); defaults to one segment per connection")
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "w", 1, "Number of links to download in parallel")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", utils.DefaultTimeout, "Per-operation timeout (eg. 5s, 10m)")
	rootCmd.PersistentFlags().DurationVarP(&kaTimeout, "keep-alive-timeout", "k", 90*time.Second, "Keep-alive timeout for client (eg. 10s, 1m, 80s)")
	rootCmd.PersistentFlags().StringVarP(&userAgent, "user-agent", "a", utils.ToolUserAgent, "User agent (randomize for a random browser agent)")
	rootCmd.PersistentFlags().StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	rootCmd.PersistentFlags().StringVar(&proxyUsername, "proxy-username", "", "Proxy username (if not provided in proxy URL)")
	rootCmd.PersistentFlags().StringVar(&proxyPassword, "proxy-password", "", "Proxy password (if not provided in proxy URL)")
	rootCmd.PersistentFlags().StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	rootCmd.PersistentFlags().StringVar(&bearerToken, "bearer-token", "", "OAuth2 bearer token sent with every request")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&plain, "plain", false, "Disable the live display and log to the terminal")

	rootCmd.AddCommand(newHTTPCmd())
	rootCmd.AddCommand(newAVCmd())
	rootCmd.AddCommand(newStreamCmd())
	rootCmd.AddCommand(newS3Cmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newCleanCmd())
}

func newJob(jobType, link, outputPath string) utils.Job {
	return utils.Job{
		JobType:          jobType,
		URL:              link,
		OutputPath:       outputPath,
		Connections:      connections,
		SegmentSize:      segmentBytes,
		HTTPClientConfig: globalHTTPConfig,
		Metadata:         make(map[string]any),
	}
}

// runJobs hands jobs to the scheduler. The live display owns the terminal,
// so logs go to a file while it runs.
func runJobs(ctx context.Context, jobs []utils.Job) error {
	display := !plain && output.IsTerminal()
	if display {
		logFile, err := os.OpenFile(utils.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			utils.SetLogOutput(logFile)
			defer logFile.Close()
		}
	}
	log.Debug().Str("op", "cmd/root").Msgf("Starting scheduler with %d jobs", len(jobs))
	return scheduler.Run(ctx, jobs, workers, display)
}
