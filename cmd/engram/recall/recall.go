// Package recallcmder provides the recall command for retrieving memory
// context from a running engram server.
package recallcmder

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

type recallCommander struct {
	categories []string
	maxChars   int
	raw        bool
	apiTarget  string
}

const recallLongDesc string = `Retrieve memory context from a running engram server.

Fetches the rendered markdown context for a query. Without a query, returns
the general memory context across all categories. The context is rendered
for the terminal unless --raw is passed.

Examples:
  engram recall
  engram recall "where does john work"
  engram recall --category preferences --category goals
  engram recall "project deadlines" --max-chars 2000 --raw`

const recallShortDesc string = "Retrieve memory context"

// contextRequest mirrors the server's retrieval payload.
type contextRequest struct {
	Query      string   `json:"query,omitempty"`
	Categories []string `json:"categories,omitempty"`
	MaxChars   int      `json:"max_chars,omitempty"`
}

type contextResponse struct {
	Context string `json:"context"`
}

func NewRecallCmd() *cobra.Command {
	cmder := &recallCommander{}

	cmd := &cobra.Command{
		Use:   "recall [query]",
		Short: recallShortDesc,
		Long:  recallLongDesc,
		Args:  cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
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

			cmder.apiTarget = cfg.Client.APITarget
			return nil
		},
		RunE: func(_ *cobra.Command, args []string) error {
			query := ""
			if len(args) == 1 {
				query = args[0]
			}
			return cmder.run(query)
		},
	}

	defaults := config.NewDefaultConfig()
	cmd.Flags().StringArrayVar(&cmder.categories, "category", nil, "Restrict recall to a category (repeatable)")
	cmd.Flags().IntVar(&cmder.maxChars, "max-chars", 0, "Character budget for the returned context")
	cmd.Flags().BoolVar(&cmder.raw, "raw", false, "Print raw markdown without terminal rendering")
	cmd.Flags().StringVar(&cmder.apiTarget, "api-target", defaults.Client.APITarget, "Engram API server URL")

	return cmd
}

func (c *recallCommander) run(query string) error {
	payload, err := json.Marshal(contextRequest{
		Query:      query,
		Categories: c.categories,
		MaxChars:   c.maxChars,
	})
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Post(
		strings.TrimRight(c.apiTarget, "/")+"/context",
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

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var out contextResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	if strings.TrimSpace(out.Context) == "" {
		fmt.Println("No memories found.")
		return nil
	}

	if c.raw {
		fmt.Println(out.Context)
		return nil
	}

	rendered, err := cliui.RenderMarkdown(out.Context)
	if err != nil {
		fmt.Println(out.Context)
		return nil
	}
	fmt.Print(rendered)

	return nil
}
