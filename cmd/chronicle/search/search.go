// Package searchcmder provides the search command for semantic search over
// active memories.
package searchcmder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/chronicle/api"
	"github.com/papercomputeco/chronicle/cmd/chronicle/stack"
	"github.com/papercomputeco/chronicle/pkg/cliui"
	"github.com/papercomputeco/chronicle/pkg/config"
	"github.com/papercomputeco/chronicle/pkg/pipeline"
	"github.com/papercomputeco/chronicle/pkg/search"
)

var (
	rankStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
	scoreStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	idStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	contentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	headerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type searchCommander struct {
	req       pipeline.SearchRequest
	quiet     bool
	output    string
	apiTarget string

	out io.Writer
}

const searchLongDesc string = `Search active memories.

Memories are ranked by semantic similarity to the query. Only memories of
each conversation's active memory version are searched.

By default the configured vector store is searched directly. With
--api-target the search is sent to a running "chronicle serve" instead.

Use --quiet to print only memory ids, one per line.

Examples:
  chronicle search "what does ada drink"
  chronicle search "travel plans" --user ada --limit 10
  chronicle search "coffee" --api-target http://localhost:8081 -o json`

const searchShortDesc string = "Search memories"

func NewSearchCmd() *cobra.Command {
	cmder := &searchCommander{}

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: searchShortDesc,
		Long:  searchLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmder.req.Query = args[0]
			cmder.out = cmd.OutOrStdout()
			return cmder.run(cmd)
		},
	}

	stack.AddFlags(cmd)
	cmd.Flags().StringVar(&cmder.req.UserID, "user", "", "Only search memories of this user")
	cmd.Flags().StringVar(&cmder.req.ConversationID, "conversation", "", "Only search memories of this conversation")
	cmd.Flags().StringVar(&cmder.req.Contains, "contains", "", "Only return memories containing this text")
	cmd.Flags().IntVarP(&cmder.req.Limit, "limit", "k", 5, "Number of results to return")
	cmd.Flags().Float32Var(&cmder.req.ScoreThreshold, "threshold", 0, "Minimum score between 0 and 1")
	cmd.Flags().BoolVarP(&cmder.quiet, "quiet", "q", false, "Print only memory ids, one per line")
	cmd.Flags().StringVarP(&cmder.output, "output", "o", cliui.FormatText, "Output format (text, json, yaml)")
	cmd.Flags().StringVar(&cmder.apiTarget, "api-target", "", "Search through a chronicle API server at this URL")

	return cmd
}

func (c *searchCommander) run(cmd *cobra.Command) error {
	if c.output != cliui.FormatText && !cliui.Structured(c.output) {
		return fmt.Errorf("unsupported output format: %q", c.output)
	}
	if c.req.Limit <= 0 {
		return fmt.Errorf("--limit must be positive")
	}
	if c.req.ScoreThreshold < 0 || c.req.ScoreThreshold > 1 {
		return fmt.Errorf("--threshold must be between 0 and 1")
	}

	var (
		results []search.Result
		err     error
	)
	if c.apiTarget != "" {
		results, err = SearchAPI(cmd.Context(), c.apiTarget, c.req)
	} else {
		results, err = c.searchLocal(cmd)
	}
	if err != nil {
		return err
	}
	if results == nil {
		results = []search.Result{}
	}

	if cliui.Structured(c.output) {
		return cliui.Encode(c.out, c.output, api.SearchResponse{
			Query:   c.req.Query,
			Count:   len(results),
			Results: results,
		})
	}

	if c.quiet {
		for _, r := range results {
			fmt.Fprintln(c.out, r.Memory.ID)
		}
		return nil
	}

	if len(results) == 0 {
		fmt.Fprintln(c.out, "No results found.")
		return nil
	}

	fmt.Fprintf(c.out, "\n%s %s\n\n",
		headerStyle.Render("Search Results for:"),
		idStyle.Render(fmt.Sprintf("%q", c.req.Query)),
	)
	for i, r := range results {
		c.printResult(i+1, r)
	}
	return nil
}

func (c *searchCommander) searchLocal(cmd *cobra.Command) ([]search.Result, error) {
	cfg, err := stack.LoadConfig(cmd, config.StackFlags)
	if err != nil {
		return nil, err
	}
	s, err := stack.Open(cmd.Context(), cfg, stack.Options{
		ConfigDir: stack.ConfigDir(cmd),
		Search:    true,
		Logger:    stack.NewLogger(cmd),
	})
	if err != nil {
		return nil, err
	}
	defer s.Close()

	return s.Service.SearchMemories(cmd.Context(), c.req)
}

func (c *searchCommander) printResult(rank int, r search.Result) {
	m := r.Memory
	fmt.Fprintf(c.out, "  %s  %s  %s\n",
		rankStyle.Render(fmt.Sprintf("#%d", rank)),
		scoreStyle.Render(fmt.Sprintf("score: %.4f", r.Score)),
		idStyle.Render(m.ID),
	)
	fmt.Fprintf(c.out, "  %s\n", contentStyle.Render(strings.ReplaceAll(m.Content, "\n", " ")))
	fmt.Fprintf(c.out, "  %s\n\n", dimStyle.Render(fmt.Sprintf("user %s, conversation %s, %s",
		m.UserID, m.SourceConversationID, m.CreatedAt.Local().Format("2006-01-02"))))
}

// SearchAPI runs req against the memory search endpoint of a chronicle API
// server.
func SearchAPI(ctx context.Context, apiTarget string, req pipeline.SearchRequest) ([]search.Result, error) {
	searchURL, err := url.Parse(apiTarget)
	if err != nil {
		return nil, fmt.Errorf("invalid API target URL: %w", err)
	}
	searchURL.Path = "/v1/memories/search"
	q := searchURL.Query()
	q.Set("query", req.Query)
	q.Set("limit", strconv.Itoa(req.Limit))
	for k, v := range map[string]string{
		"user_id":         req.UserID,
		"conversation_id": req.ConversationID,
		"contains":        req.Contains,
	} {
		if v != "" {
			q.Set(k, v)
		}
	}
	if req.ScoreThreshold > 0 {
		q.Set("score_threshold", strconv.FormatFloat(float64(req.ScoreThreshold), 'f', -1, 32))
	}
	searchURL.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating search request: %w", err)
	}

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chronicle API at %s: %w", apiTarget, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr api.ErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("search request failed (HTTP %d): %s", resp.StatusCode, apiErr.Error)
		}
		return nil, fmt.Errorf("search request failed (HTTP %d): %s", resp.StatusCode, string(body))
	}

	var output api.SearchResponse
	if err := json.Unmarshal(body, &output); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}
	return output.Results, nil
}
