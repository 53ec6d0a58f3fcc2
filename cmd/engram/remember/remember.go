// Package remembercmder provides the remember command for storing memories
// via a running engram server.
package remembercmder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/engram/pkg/cliui"
	"github.com/papercomputeco/engram/pkg/config"
)

type rememberCommander struct {
	source    string
	extract   bool
	apiTarget string
}

const rememberLongDesc string = `Store a memory via a running engram server.

Sends the given text to the server's ingest endpoint. By default the server
extracts facts in the background; pass --extract to wait for extraction and
see the resulting facts immediately.

Examples:
  engram remember "John moved to Berlin last month"
  engram remember --extract "The user prefers dark mode"
  engram remember --source slack "Standup moved to 9:30"`

const rememberShortDesc string = "Store a memory"

// ingestRequest mirrors the server's ingest payload.
type ingestRequest struct {
	Content string `json:"content"`
	Source  string `json:"source,omitempty"`
	Extract bool   `json:"extract,omitempty"`
}

type ingestResponse struct {
	Resource struct {
		ID string `json:"id"`
	} `json:"resource"`
	Results []struct {
		Action string `json:"action"`
		Fact   struct {
			Subject   string `json:"subject"`
			Predicate string `json:"predicate"`
			Object    string `json:"object"`
			Category  string `json:"category"`
		} `json:"fact"`
	} `json:"results"`
}

func NewRememberCmd() *cobra.Command {
	cmder := &rememberCommander{}

	cmd := &cobra.Command{
		Use:   "remember <text>",
		Short: rememberShortDesc,
		Long:  rememberLongDesc,
		Args:  cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return resolveAPITarget(cmd, &cmder.apiTarget)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(strings.Join(args, " "))
		},
	}

	defaults := config.NewDefaultConfig()
	cmd.Flags().StringVar(&cmder.source, "source", "cli", "Source label for the stored memory")
	cmd.Flags().BoolVar(&cmder.extract, "extract", false, "Extract facts synchronously and print them")
	cmd.Flags().StringVar(&cmder.apiTarget, "api-target", defaults.Client.APITarget, "Engram API server URL")

	return cmd
}

func (c *rememberCommander) run(content string) error {
	payload, err := json.Marshal(ingestRequest{
		Content: content,
		Source:  c.source,
		Extract: c.extract,
	})
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Post(
		strings.TrimRight(c.apiTarget, "/")+"/ingest",
		"application/json",
		bytes.NewReader(payload),
	)
	if err != nil {
		return fmt.Errorf("calling engram server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var out ingestResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	fmt.Printf("\n  %s Remembered %s\n",
		cliui.SuccessMark,
		cliui.DimStyle.Render(out.Resource.ID),
	)

	for _, r := range out.Results {
		text := strings.TrimSpace(strings.Join([]string{
			r.Fact.Subject, r.Fact.Predicate, r.Fact.Object,
		}, " "))
		fmt.Printf("    %s\n", cliui.FactLine(r.Action, text, r.Fact.Category))
	}
	fmt.Println()

	return nil
}

// resolveAPITarget fills target from client.api_target when the flag was not
// passed explicitly.
func resolveAPITarget(cmd *cobra.Command, target *string) error {
	if cmd.Flags().Changed("api-target") {
		return nil
	}

	configDir, _ := cmd.Flags().GetString("config-dir")
	cfger, err := config.NewConfiger(configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfg, err := cfger.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	*target = cfg.Client.APITarget
	return nil
}
