package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/rewired-gh/trendscout/internal/fetcher"
	"github.com/rewired-gh/trendscout/internal/models"
	"github.com/rewired-gh/trendscout/internal/runner"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRun(w io.Writer, run *models.MissionRun) {
	fmt.Fprintf(w, "Run %s (#%d) %s\n", run.ID, run.RunNumber, run.Status)
	s := run.Stats
	fmt.Fprintf(w, "  regions %d, scanned %d, matched %d, stored %d, api calls %d, %dms\n",
		s.RegionsScanned, s.KeywordsScanned, s.KeywordsMatched, s.ResultsStored, s.APICallsMade, s.DurationMS())
	if run.ErrorMessage != "" {
		fmt.Fprintf(w, "  error: %s\n", run.ErrorMessage)
	}
	for _, e := range s.Errors {
		if e != run.ErrorMessage {
			fmt.Fprintf(w, "  - %s\n", e)
		}
	}
}

func printRuns(w io.Writer, runs []models.MissionRun) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTATUS\tTRIGGER\tSTORED\tERRORS\tCREATED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%s\n",
			r.RunNumber, r.Status, r.TriggeredBy, r.Stats.ResultsStored, len(r.Stats.Errors),
			r.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	tw.Flush()
}

func printMissions(w io.Writer, missions []models.Mission) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tRUNS\tREGIONS\tSOURCES")
	for _, m := range missions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			m.ID, m.Name, m.Status, m.TotalRuns,
			strings.Join(m.Config.Regions, ","), strings.Join(m.Config.Sources, ","))
	}
	tw.Flush()
}

func printObservations(w io.Writer, observations []models.TrendObservation) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEYWORD\tREGION\tCURRENT\tBASELINE\tSCORE\tRELATED")
	for i := range observations {
		o := &observations[i]
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.2f\t%s\n",
			o.Keyword, o.Region, o.CurrentInterest, o.BaselineInterest, o.TrendScore,
			strings.Join(o.RelatedQueries, ", "))
	}
	tw.Flush()
}

func printIngestReport(w io.Writer, r *runner.IngestReport) {
	fmt.Fprintf(w, "Ingested %s/%s (%s): fetched %d, stored %d, points %d\n",
		r.Source, r.Region, r.TimeWindow, r.Fetched, r.Stored, r.PointsWritten)
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  - %s\n", e)
	}
}

func printKeywords(w io.Writer, keywords []models.Keyword) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEYWORD\tLANGUAGE\tFIRST SEEN\tLAST SEEN\tID")
	for _, k := range keywords {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", k.Keyword, k.Language,
			k.FirstSeenAt.Format("2006-01-02 15:04"), k.LastSeenAt.Format("2006-01-02 15:04"), k.ID)
	}
	tw.Flush()
}

func printSources(w io.Writer, sources []models.Source) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tNAME\tACTIVE")
	for _, s := range sources {
		fmt.Fprintf(tw, "%s\t%s\t%t\n", s.Code, s.Name, s.IsActive)
	}
	tw.Flush()
}

func printRegions(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tNAME")
	for _, r := range models.Regions {
		fmt.Fprintf(tw, "%s\t%s\n", r.Code, r.Name)
	}
	tw.Flush()
}

func printRegionInterest(w io.Writer, areas []fetcher.RegionInterest) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GEO\tNAME\tINTEREST")
	for _, a := range areas {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", a.GeoCode, a.GeoName, a.Value)
	}
	tw.Flush()
}

func printSuggestions(w io.Writer, suggestions []fetcher.Suggestion) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TITLE\tTYPE\tMID")
	for _, s := range suggestions {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Title, s.Type, s.MID)
	}
	tw.Flush()
}

func printStatus(w io.Writer, checks []statusCheck) {
	for _, c := range checks {
		if c.OK {
			fmt.Fprintf(w, "%s: OK\n", c.Name)
			continue
		}
		fmt.Fprintf(w, "%s: %s\n", c.Name, c.Error)
	}
}
