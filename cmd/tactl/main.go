// Package main はCLIツールのエントリポイント。
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

var (
	apiURL  string
	output  string
	timeout time.Duration
)

// HTTPクライアント
var httpClient *http.Client

func main() {
	rootCmd := &cobra.Command{
		Use:   "tactl",
		Short: "Table Access Service CLI",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if apiURL == "" {
				apiURL = os.Getenv("TACTL_API_URL")
			}
			httpClient = &http.Client{Timeout: timeout}
		},
	}

	// グローバルフラグ
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "API endpoint URL (or set TACTL_API_URL)")
	rootCmd.PersistentFlags().StringVar(&output, "output", "text", "Output format: text, json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	// サブコマンド登録
	rootCmd.AddCommand(issueCmd())
	rootCmd.AddCommand(policyCmd())
	rootCmd.AddCommand(tokensCmd())
	rootCmd.AddCommand(loadtestCmd())
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// versionCmd はバージョン情報を表示する。
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tactl version %s\n", version)
		},
	}
}

// issueCmd はSASトークンの発行コマンド。
func issueCmd() *cobra.Command {
	var (
		tableName   string
		identifier  string
		permissions string
		startsOn    string
		expiresOn   string
		ipRange     string
	)
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a SAS token for a table",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiURL == "" {
				return fmt.Errorf("--api-url is required (or set TACTL_API_URL)")
			}

			payload := map[string]string{}
			if identifier != "" {
				payload["identifier"] = identifier
			}
			if permissions != "" {
				payload["permissions"] = permissions
			}
			if startsOn != "" {
				payload["starts_on"] = startsOn
			}
			if expiresOn != "" {
				payload["expires_on"] = expiresOn
			}
			if ipRange != "" {
				// "start" または "start-end" 形式をAPIの2フィールドへ分解する
				ipStart, ipEnd, _ := strings.Cut(ipRange, "-")
				payload["ip_range_start"] = ipStart
				if ipEnd != "" {
					payload["ip_range_end"] = ipEnd
				}
			}
			reqBody, err := json.Marshal(payload)
			if err != nil {
				return fmt.Errorf("encoding request: %w", err)
			}

			url := fmt.Sprintf("%s/v1/tables/%s/sas", apiURL, tableName)
			resp, err := httpClient.Post(url, "application/json", bytes.NewReader(reqBody))
			if err != nil {
				return fmt.Errorf("API request failed: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}

			if resp.StatusCode != http.StatusCreated {
				return handleErrorResponse(resp.StatusCode, body)
			}

			if output == "json" {
				fmt.Println(string(body))
			} else {
				var result map[string]interface{}
				if err := json.Unmarshal(body, &result); err != nil {
					return fmt.Errorf("parsing response: %w", err)
				}
				fmt.Println(result["token"])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tableName, "table", "", "Table name (required)")
	cmd.Flags().StringVar(&identifier, "policy", "", "Stored access policy identifier")
	cmd.Flags().StringVar(&permissions, "permissions", "", "Permission string (e.g. raud)")
	cmd.Flags().StringVar(&startsOn, "starts-on", "", "Start timestamp (RFC3339)")
	cmd.Flags().StringVar(&expiresOn, "expires-on", "", "Expiry timestamp (RFC3339)")
	cmd.Flags().StringVar(&ipRange, "ip-range", "", "Allowed IP range (start or start-end)")
	cmd.MarkFlagRequired("table")
	return cmd
}

// policyCmd はアクセスポリシー管理コマンド。
func policyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage stored access policies",
	}
	cmd.AddCommand(policyCreateCmd())
	cmd.AddCommand(policyListCmd())
	cmd.AddCommand(policyRevokeCmd())
	return cmd
}

// policyCreateCmd はポリシー作成コマンド。
func policyCreateCmd() *cobra.Command {
	var (
		tableName   string
		identifier  string
		permissions string
		startsOn    string
		expiresOn   string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a stored access policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiURL == "" {
				return fmt.Errorf("--api-url is required (or set TACTL_API_URL)")
			}

			payload := map[string]string{
				"identifier":  identifier,
				"permissions": permissions,
			}
			if startsOn != "" {
				payload["starts_on"] = startsOn
			}
			if expiresOn != "" {
				payload["expires_on"] = expiresOn
			}
			reqBody, err := json.Marshal(payload)
			if err != nil {
				return fmt.Errorf("encoding request: %w", err)
			}

			url := fmt.Sprintf("%s/v1/tables/%s/policies", apiURL, tableName)
			resp, err := httpClient.Post(url, "application/json", bytes.NewReader(reqBody))
			if err != nil {
				return fmt.Errorf("API request failed: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}

			if resp.StatusCode != http.StatusCreated {
				return handleErrorResponse(resp.StatusCode, body)
			}

			if output == "json" {
				fmt.Println(string(body))
			} else {
				fmt.Printf("Created policy %q on table %q\n", identifier, tableName)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tableName, "table", "", "Table name (required)")
	cmd.Flags().StringVar(&identifier, "identifier", "", "Policy identifier (required)")
	cmd.Flags().StringVar(&permissions, "permissions", "", "Permission string (required)")
	cmd.Flags().StringVar(&startsOn, "starts-on", "", "Start timestamp (RFC3339)")
	cmd.Flags().StringVar(&expiresOn, "expires-on", "", "Expiry timestamp (RFC3339)")
	cmd.MarkFlagRequired("table")
	cmd.MarkFlagRequired("identifier")
	cmd.MarkFlagRequired("permissions")
	return cmd
}

// policyListCmd はポリシー一覧の取得コマンド。
func policyListCmd() *cobra.Command {
	var tableName string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored access policies for a table",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiURL == "" {
				return fmt.Errorf("--api-url is required (or set TACTL_API_URL)")
			}

			url := fmt.Sprintf("%s/v1/tables/%s/policies", apiURL, tableName)
			resp, err := httpClient.Get(url)
			if err != nil {
				return fmt.Errorf("API request failed: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}

			if resp.StatusCode != http.StatusOK {
				return handleErrorResponse(resp.StatusCode, body)
			}

			if output == "json" {
				fmt.Println(string(body))
			} else {
				var result struct {
					Policies []struct {
						Identifier  string `json:"identifier"`
						Permissions string `json:"permissions"`
						Status      string `json:"status"`
						ExpiresOn   string `json:"expires_on"`
					} `json:"policies"`
				}
				if err := json.Unmarshal(body, &result); err != nil {
					return fmt.Errorf("parsing response: %w", err)
				}

				fmt.Printf("%-20s %-12s %-10s %s\n", "IDENTIFIER", "PERMISSIONS", "STATUS", "EXPIRES_ON")
				for _, p := range result.Policies {
					fmt.Printf("%-20s %-12s %-10s %s\n", p.Identifier, p.Permissions, p.Status, p.ExpiresOn)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tableName, "table", "", "Table name (required)")
	cmd.MarkFlagRequired("table")
	return cmd
}

// policyRevokeCmd はポリシー失効コマンド。
func policyRevokeCmd() *cobra.Command {
	var (
		tableName  string
		identifier string
	)
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a stored access policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiURL == "" {
				return fmt.Errorf("--api-url is required (or set TACTL_API_URL)")
			}

			url := fmt.Sprintf("%s/v1/tables/%s/policies/%s", apiURL, tableName, identifier)
			req, err := http.NewRequest(http.MethodDelete, url, nil)
			if err != nil {
				return fmt.Errorf("creating request: %w", err)
			}

			resp, err := httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("API request failed: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}

			if resp.StatusCode != http.StatusAccepted {
				return handleErrorResponse(resp.StatusCode, body)
			}

			if output == "json" {
				fmt.Println("{}")
			} else {
				fmt.Printf("Revoked policy %q on table %q\n", identifier, tableName)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tableName, "table", "", "Table name (required)")
	cmd.Flags().StringVar(&identifier, "identifier", "", "Policy identifier (required)")
	cmd.MarkFlagRequired("table")
	cmd.MarkFlagRequired("identifier")
	return cmd
}

// tokensCmd は発行済みトークン一覧の取得コマンド。
func tokensCmd() *cobra.Command {
	var tableName string
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "List issued tokens for a table",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiURL == "" {
				return fmt.Errorf("--api-url is required (or set TACTL_API_URL)")
			}

			url := fmt.Sprintf("%s/v1/tables/%s/tokens", apiURL, tableName)
			resp, err := httpClient.Get(url)
			if err != nil {
				return fmt.Errorf("API request failed: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}

			if resp.StatusCode != http.StatusOK {
				return handleErrorResponse(resp.StatusCode, body)
			}

			if output == "json" {
				fmt.Println(string(body))
			} else {
				var result struct {
					Tokens []struct {
						CorrelationID string `json:"correlation_id"`
						Identifier    string `json:"identifier"`
						Permissions   string `json:"permissions"`
						ExpiresOn     string `json:"expires_on"`
						IssuedAt      string `json:"issued_at"`
					} `json:"tokens"`
				}
				if err := json.Unmarshal(body, &result); err != nil {
					return fmt.Errorf("parsing response: %w", err)
				}

				fmt.Printf("%-38s %-16s %-8s %-22s %s\n", "CORRELATION_ID", "IDENTIFIER", "PERMS", "EXPIRES_ON", "ISSUED_AT")
				for _, tk := range result.Tokens {
					fmt.Printf("%-38s %-16s %-8s %-22s %s\n", tk.CorrelationID, tk.Identifier, tk.Permissions, tk.ExpiresOn, tk.IssuedAt)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tableName, "table", "", "Table name (required)")
	cmd.MarkFlagRequired("table")
	return cmd
}

func handleErrorResponse(statusCode int, body []byte) error {
	var errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&errResp); err == nil && errResp.Message != "" {
		return fmt.Errorf("Error: %s", errResp.Message)
	}
	return fmt.Errorf("Error: server returned status %d", statusCode)
}
