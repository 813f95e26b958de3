package main

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"sdcpp_server/core"
)

// clientOptions are shared by every subcommand.
type clientOptions struct {
	url     string
	token   string
	timeout time.Duration
}

func (o *clientOptions) baseURL() string {
	return strings.TrimRight(o.url, "/")
}

func (o *clientOptions) httpClient() *http.Client {
	return &http.Client{Timeout: o.timeout}
}

func newRootCmd() *cobra.Command {
	opts := &clientOptions{}

	root := &cobra.Command{
		Use:   "sdgen",
		Short: "Client for sd-cpp-server",
		Long: `sdgen talks to a running sd-cpp-server.

Examples:
  sdgen health --url http://localhost:8080
  sdgen generate --url http://localhost:8080 --token $SD_CPP_SERVER_TOKEN \
    --model sd-v1-5.safetensors --prompt "a lighthouse at dusk" --out lighthouse.png`,
		Version:       core.VersionInfo(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.url, "url", "http://localhost:8080", "Server base URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("SD_CPP_SERVER_TOKEN"), "Bearer token (default $SD_CPP_SERVER_TOKEN)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Minute, "Request timeout")

	root.AddCommand(newGenerateCmd(opts))
	root.AddCommand(newHealthCmd(opts))
	return root
}
