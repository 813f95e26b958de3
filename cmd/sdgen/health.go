package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"sdcpp_server/server"
)

func newHealthCmd(client *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the server is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(cmd, client)
		},
	}
}

func runHealth(cmd *cobra.Command, client *clientOptions) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), client.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, client.baseURL()+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := client.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %s", resp.Status)
	}

	var health server.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("invalid health response: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s (server time %s)\n", health.Status,
		time.Unix(health.Timestamp, 0).UTC().Format(time.RFC3339))
	return nil
}
