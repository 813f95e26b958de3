package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	"sdcpp_server/core"
)

type generateOptions struct {
	model  string
	prompt string
	size   string
	out    string
}

func newGenerateCmd(client *clientOptions) *cobra.Command {
	opts := &generateOptions{}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate one image and write it as PNG",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, client, opts)
		},
	}

	cmd.Flags().StringVar(&opts.model, "model", "", "Model file name inside the server's models directory")
	cmd.Flags().StringVar(&opts.prompt, "prompt", "", "Text prompt")
	cmd.Flags().StringVar(&opts.size, "size", "512x512", "Image size as WIDTHxHEIGHT")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "Output PNG path")
	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("prompt")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

func runGenerate(cmd *cobra.Command, client *clientOptions, opts *generateOptions) error {
	if client.token == "" {
		return errors.New("a token is required: pass --token or set SD_CPP_SERVER_TOKEN")
	}

	cfg := openai.DefaultConfig(client.token)
	cfg.BaseURL = client.baseURL() + "/v1"
	cfg.HTTPClient = client.httpClient()
	api := openai.NewClientWithConfig(cfg)

	ctx, cancel := context.WithTimeout(cmd.Context(), client.timeout)
	defer cancel()

	resp, err := api.CreateImage(ctx, openai.ImageRequest{
		Prompt:         opts.prompt,
		Model:          opts.model,
		Size:           opts.size,
		N:              1,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("server returned %d (%s): %s", apiErr.HTTPStatusCode, apiErr.Type, apiErr.Message)
		}
		return fmt.Errorf("generation request failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return errors.New("server returned no images")
	}

	image, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return fmt.Errorf("invalid image payload: %w", err)
	}
	if err := os.WriteFile(opts.out, image, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", opts.out, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s to %s\n", core.FormatBytes(int64(len(image))), opts.out)
	return nil
}
