package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var (
	// discoverServerURL is the base URL of the running insightd daemon.
	discoverServerURL string
	// discoverScope is the scope to run discovery for.
	discoverScope string
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Trigger a pattern discovery run on a running daemon",
	Long: `Trigger an immediate pattern discovery run for a scope against a
running insightd daemon, ahead of the next scheduled run.

Examples:
  # Discover patterns for a scope
  insightd discover --scope product-a

  # Use a different server
  insightd discover --scope product-a --server http://localhost:9280`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().StringVar(&discoverServerURL, "server", "http://localhost:9180", "insightd server URL")
	discoverCmd.Flags().StringVar(&discoverScope, "scope", "", "scope to run discovery for (required)")
	_ = discoverCmd.MarkFlagRequired("scope")
}

// discoverRequest matches internal/httpapi DiscoverRequest.
type discoverRequest struct {
	Scope string `json:"scope"`
}

// discoverResponse matches internal/httpapi DiscoverResponse.
type discoverResponse struct {
	Patterns []struct {
		ID              string  `json:"id"`
		CandidateIDs    []string `json:"candidate_ids"`
		ConfidenceScore float64 `json:"confidence_score"`
		NoveltyScore    float64 `json:"novelty_score"`
		Status          string  `json:"status"`
	} `json:"patterns"`
}

func runDiscover(cmd *cobra.Command, args []string) error {
	reqJSON, err := json.Marshal(discoverRequest{Scope: discoverScope})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/discover", discoverServerURL)
	httpReq, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, url, bytes.NewReader(reqJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{
		Timeout: 5 * time.Minute, // discovery embeds and clusters, can be slow
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var discoverResp discoverResponse
	if err := json.NewDecoder(resp.Body).Decode(&discoverResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if len(discoverResp.Patterns) == 0 {
		fmt.Printf("No patterns discovered for scope %s\n", discoverScope)
		return nil
	}

	fmt.Printf("Discovered %d pattern(s) for scope %s:\n", len(discoverResp.Patterns), discoverScope)
	for _, pattern := range discoverResp.Patterns {
		fmt.Printf("  %s  members=%d confidence=%.2f novelty=%.2f status=%s\n",
			pattern.ID, len(pattern.CandidateIDs), pattern.ConfidenceScore, pattern.NoveltyScore, pattern.Status)
	}
	return nil
}
