package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"table-access-service/pkg/loadtest"
)

// loadtestCmd は負荷テストサービス操作コマンド。
func loadtestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Interact with the load testing service",
	}
	cmd.AddCommand(loadtestUploadCmd())
	cmd.AddCommand(loadtestRunCmd())
	return cmd
}

// loadtestEndpoint はエンドポイントをフラグまたは環境変数から解決する。
func loadtestEndpoint(endpoint string) (string, error) {
	if endpoint == "" {
		endpoint = os.Getenv("LOADTEST_ENDPOINT")
	}
	if endpoint == "" {
		return "", fmt.Errorf("--endpoint is required (or set LOADTEST_ENDPOINT)")
	}
	return endpoint, nil
}

// loadtestUploadCmd はテストファイルをアップロードし、検証完了まで待つ。
func loadtestUploadCmd() *cobra.Command {
	var (
		endpoint     string
		fileID       string
		filePath     string
		pollInterval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload a test file and wait for validation",
		RunE: func(cmd *cobra.Command, args []string) error {
			ep, err := loadtestEndpoint(endpoint)
			if err != nil {
				return err
			}

			f, err := os.Open(filePath)
			if err != nil {
				return fmt.Errorf("opening file: %w", err)
			}
			defer f.Close()

			if fileID == "" {
				fileID = uuid.New().String()
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			client := loadtest.NewClient(ep, nil)
			resp, err := client.UploadFile(ctx, fileID, f)
			if err != nil {
				return fmt.Errorf("upload failed: %w", err)
			}
			resp.Body.Close()

			poller, err := loadtest.NewPoller(client, resp)
			if err != nil {
				return err
			}
			filePoller, ok := poller.(*loadtest.FilePoller)
			if !ok {
				return fmt.Errorf("unexpected poller kind %s", poller.Kind())
			}

			info, err := filePoller.PollUntilDone(ctx, pollInterval)
			if err != nil {
				return fmt.Errorf("waiting for validation: %w", err)
			}

			if output == "json" {
				fmt.Printf("{\"file_id\":%q,\"validation_status\":%q}\n", info.FileID, info.ValidationStatus)
			} else {
				fmt.Printf("File %q validation finished: %s\n", fileID, info.ValidationStatus)
				if info.ValidationFailureDetails != "" {
					fmt.Printf("  details: %s\n", info.ValidationFailureDetails)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Load testing service endpoint (or set LOADTEST_ENDPOINT)")
	cmd.Flags().StringVar(&fileID, "file-id", "", "File ID (generated when omitted)")
	cmd.Flags().StringVar(&filePath, "file", "", "Path of the file to upload (required)")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 5*time.Second, "Polling interval")
	cmd.MarkFlagRequired("file")
	return cmd
}

// loadtestRunCmd はテスト実行を作成し、完了まで待つ。
func loadtestRunCmd() *cobra.Command {
	var (
		endpoint     string
		runID        string
		testID       string
		displayName  string
		pollInterval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a test run and wait for completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			ep, err := loadtestEndpoint(endpoint)
			if err != nil {
				return err
			}

			if runID == "" {
				runID = uuid.New().String()
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			client := loadtest.NewClient(ep, nil)
			resp, err := client.CreateOrUpdateTestRun(ctx, runID, &loadtest.TestRunRequest{
				TestID:      testID,
				DisplayName: displayName,
			})
			if err != nil {
				return fmt.Errorf("creating test run: %w", err)
			}
			resp.Body.Close()

			poller, err := loadtest.NewPoller(client, resp)
			if err != nil {
				return err
			}
			runPoller, ok := poller.(*loadtest.TestRunPoller)
			if !ok {
				return fmt.Errorf("unexpected poller kind %s", poller.Kind())
			}

			run, err := runPoller.PollUntilDone(ctx, pollInterval)
			if err != nil {
				return fmt.Errorf("waiting for test run: %w", err)
			}

			if output == "json" {
				fmt.Printf("{\"test_run_id\":%q,\"status\":%q}\n", run.TestRunID, run.Status)
			} else {
				fmt.Printf("Test run %q finished: %s\n", runID, run.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Load testing service endpoint (or set LOADTEST_ENDPOINT)")
	cmd.Flags().StringVar(&runID, "run-id", "", "Test run ID (generated when omitted)")
	cmd.Flags().StringVar(&testID, "test-id", "", "Test ID to execute (required)")
	cmd.Flags().StringVar(&displayName, "display-name", "", "Display name for the run")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 5*time.Second, "Polling interval")
	cmd.MarkFlagRequired("test-id")
	return cmd
}
