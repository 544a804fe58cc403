package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/intraday/experience"
	"github.com/rustyeddy/intraday/risk"
)

var experienceCmd = &cobra.Command{
	Use:     "experience",
	Aliases: []string{"exp"},
	Short:   "Query the experience store",
	Long: `Query closed-trade experiences from the configured store.

Subcommands:
  list    - Table of recent experiences
  show    - Org-mode details of one experience (ID or ID prefix)
  day     - Org-mode list of experiences closed on a day
  export  - Write experiences as CSV

Examples:
  intraday experience list -i ES -n 20
  intraday experience show 01JA2B
  intraday experience day 2026-10-15
  intraday experience export -o experiences.csv`,
}

var experienceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent experiences",
	Args:  cobra.NoArgs,
	RunE:  runExperienceList,
}

var experienceShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one experience",
	Args:  cobra.ExactArgs(1),
	RunE:  runExperienceShow,
}

var experienceDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List experiences closed on a specific day",
	Args:  cobra.ExactArgs(1),
	RunE:  runExperienceDay,
}

var experienceExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export experiences as CSV",
	Args:  cobra.NoArgs,
	RunE:  runExperienceExport,
}

var (
	expInstrument string
	expDirection  string
	expLimit      int
	expOutput     string
)

func init() {
	rootCmd.AddCommand(experienceCmd)
	experienceCmd.AddCommand(experienceListCmd)
	experienceCmd.AddCommand(experienceShowCmd)
	experienceCmd.AddCommand(experienceDayCmd)
	experienceCmd.AddCommand(experienceExportCmd)

	experienceCmd.PersistentFlags().StringVarP(&expInstrument, "instrument", "i", "", "only this instrument")
	experienceCmd.PersistentFlags().StringVar(&expDirection, "direction", "", "only long or short")
	experienceListCmd.Flags().IntVarP(&expLimit, "limit", "n", 50, "most recent N records (0 for all)")
	experienceExportCmd.Flags().StringVarP(&expOutput, "output", "o", "", "output file (stdout when empty)")
}

func openExperience() (experience.Store, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	store, err := experience.Open(cfg.Store.Type, cfg.Store.DBPath, cfg.Store.CSVPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store, nil
}

func baseQuery() (experience.Query, error) {
	q := experience.Query{Instrument: expInstrument}
	if expDirection != "" {
		d, err := risk.ParseDirection(expDirection)
		if err != nil {
			return q, err
		}
		q.Direction = d
	}
	return q, nil
}

func runExperienceList(cmd *cobra.Command, args []string) error {
	q, err := baseQuery()
	if err != nil {
		return err
	}
	q.Limit = expLimit

	store, err := openExperience()
	if err != nil {
		return err
	}
	defer store.Close()

	recs, err := store.List(cmd.Context(), q)
	if err != nil {
		return fmt.Errorf("query experiences: %w", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Closed", "Instrument", "Dir", "Entry", "Units", "Conf", "Explored", "R", "Peak R", "P&L", "Exit"})

	var totalR, totalPnL float64
	wins := 0
	for _, r := range recs {
		t.AppendRow(table.Row{
			r.ID,
			r.CloseTime.UTC().Format(time.DateTime),
			r.Instrument,
			r.Direction,
			r.EntryPrice,
			r.Units,
			fmt.Sprintf("%.2f", r.Confidence),
			r.Explored,
			fmt.Sprintf("%.2f", r.RealizedR),
			fmt.Sprintf("%.2f", r.PeakR),
			fmt.Sprintf("%.2f", r.RealizedPnL),
			r.ExitReason,
		})
		totalR += r.RealizedR
		totalPnL += r.RealizedPnL
		if r.Win() {
			wins++
		}
	}
	winRate := 0.0
	if len(recs) > 0 {
		winRate = float64(wins) / float64(len(recs)) * 100
	}
	t.AppendFooter(table.Row{
		fmt.Sprintf("%d records", len(recs)), "", "", "", "", "", "",
		fmt.Sprintf("win %.0f%%", winRate),
		fmt.Sprintf("%.2f", totalR), "",
		fmt.Sprintf("%.2f", totalPnL), "",
	})
	t.Render()
	return nil
}

func runExperienceShow(cmd *cobra.Command, args []string) error {
	store, err := openExperience()
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := findExperience(cmd.Context(), store, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), experience.FormatRecordOrg(rec))
	return nil
}

// findExperience resolves an ID or a unique ID prefix.
func findExperience(ctx context.Context, r experience.Reader, id string) (experience.Record, error) {
	recs, err := r.List(ctx, experience.Query{})
	if err != nil {
		return experience.Record{}, fmt.Errorf("query experiences: %w", err)
	}

	var found []experience.Record
	for _, rec := range recs {
		if rec.ID == id {
			return rec, nil
		}
		if strings.HasPrefix(rec.ID, strings.ToUpper(id)) {
			found = append(found, rec)
		}
	}
	switch len(found) {
	case 0:
		return experience.Record{}, fmt.Errorf("experience %s not found", id)
	case 1:
		return found[0], nil
	default:
		return experience.Record{}, fmt.Errorf("experience prefix %s is ambiguous (%d matches)", id, len(found))
	}
}

func runExperienceDay(cmd *cobra.Command, args []string) error {
	q, err := baseQuery()
	if err != nil {
		return err
	}
	q.Since, q.Until, err = dayBounds(time.Local, args[0])
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}

	store, err := openExperience()
	if err != nil {
		return err
	}
	defer store.Close()

	recs, err := store.List(cmd.Context(), q)
	if err != nil {
		return fmt.Errorf("query experiences: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), experience.FormatRecordsOrg(recs))
	return nil
}

func runExperienceExport(cmd *cobra.Command, args []string) error {
	q, err := baseQuery()
	if err != nil {
		return err
	}

	store, err := openExperience()
	if err != nil {
		return err
	}
	defer store.Close()

	recs, err := store.List(cmd.Context(), q)
	if err != nil {
		return fmt.Errorf("query experiences: %w", err)
	}

	out := cmd.OutOrStdout()
	if expOutput != "" {
		f, err := os.Create(expOutput)
		if err != nil {
			return fmt.Errorf("create %s: %w", expOutput, err)
		}
		defer f.Close()
		out = f
	}
	if err := experience.WriteCSV(out, recs); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	if expOutput != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "✓ Exported %d experiences to %s\n", len(recs), expOutput)
	}
	return nil
}

func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation(time.DateOnly, day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)
	return start, end, nil
}
