package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"jobmate/search-service/internal/model"
)

var (
	searchLocation   string
	searchDatePosted string
	searchJobType    string
	searchExperience string
	searchLimit      int
	searchRefresh    bool
	searchJSON       bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run one search through the cache and print the results",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	f := searchCmd.Flags()
	f.StringVarP(&searchLocation, "location", "l", "", "location filter, e.g. \"Austin, TX\" or \"Remote\"")
	f.StringVar(&searchDatePosted, "date-posted", "", "today, 3days, week or month")
	f.StringVar(&searchJobType, "job-type", "", "fulltime, parttime, contractor or internship")
	f.StringVar(&searchExperience, "experience", "", "entry_level, mid_level, senior_level or executive")
	f.IntVarP(&searchLimit, "results", "n", 0, "results per page (default from config)")
	f.BoolVar(&searchRefresh, "refresh", false, "bypass the cache")
	f.BoolVar(&searchJSON, "json", false, "print the raw JSON response")
	rootCmd.AddCommand(searchCmd)
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	hitStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	missStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
)

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, logger := bootstrap()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	svc, cleanup := buildService(ctx, cfg, st, logger)
	defer cleanup()

	resp, err := svc.Search(ctx, model.SearchRequest{
		Query:           strings.Join(args, " "),
		Location:        searchLocation,
		ResultsPerPage:  searchLimit,
		DatePosted:      searchDatePosted,
		JobType:         searchJobType,
		ExperienceLevel: searchExperience,
		ForceRefresh:    searchRefresh,
	})
	if err != nil {
		return err
	}

	if searchJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	fmt.Println(renderResults(resp))
	return nil
}

func renderResults(resp *model.SearchResponse) string {
	origin := missStyle.Render("FRESH")
	if resp.FromCache {
		origin = hitStyle.Render("CACHED")
	}
	summary := fmt.Sprintf("%s  %d result(s), showing %d  %s",
		origin, resp.TotalResults, len(resp.Jobs),
		dimStyle.Render("updated "+resp.LastUpdated+" · key "+resp.DebugInfo.CacheKey))

	if len(resp.Jobs) == 0 {
		return summary
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("#", "TITLE", "COMPANY", "LOCATION", "SOURCE", "POSTED").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for i, j := range resp.Jobs {
		location := j.Location
		if j.Remote && !strings.Contains(strings.ToLower(location), "remote") {
			location += " (remote)"
		}
		t.Row(fmt.Sprint(i+1), clip(j.Title, 48), clip(j.Company, 28), clip(location, 28), j.Source, j.PostedAt)
	}
	return summary + "\n" + t.Render()
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
