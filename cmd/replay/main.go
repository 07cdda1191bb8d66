// Replay tool for scoring exported restaurant history in bulk.
//
// Usage:
//
//	go run ./cmd/replay -csv orders.csv -domain churn -now 2026-06-01T00:00:00Z
//	go run ./cmd/replay -csv sales.csv -profiles stock.csv -domain inventory
//
// This tool:
//  1. Reads dated events (entity_id,kind,amount,quantity,timestamp)
//  2. Groups them per entity, attaching stock parameters when given
//  3. Scores every entity through the pipeline with a bounded worker pool
//  4. Prints the tier distribution and the most severe entities
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/opensource-finance/larder/internal/config"
	"github.com/opensource-finance/larder/internal/domain"
	"github.com/opensource-finance/larder/internal/pipeline"
)

func main() {
	csvPath := flag.String("csv", "", "Path to the events CSV file")
	profilesPath := flag.String("profiles", "", "Path to an inventory parameters CSV (inventory domain)")
	domainName := flag.String("domain", pipeline.DomainChurn, "Domain to score against")
	configPath := flag.String("config", "", "YAML config with domain overrides")
	nowFlag := flag.String("now", "", "Reference time, RFC 3339 (default: now)")
	tenantID := flag.String("tenant", "replay", "Tenant ID stamped on evaluations")
	workers := flag.Int("workers", pipeline.DefaultBatchWorkers, "Number of concurrent evaluations")
	top := flag.Int("top", 20, "Entities to list, most severe first (0 = all)")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: replay -csv <events.csv> [-domain churn|inventory|marketing]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	now := time.Now().UTC()
	if *nowFlag != "" {
		t, err := time.Parse(time.RFC3339, *nowFlag)
		if err != nil {
			fmt.Printf("ERROR: invalid -now: %v\n", err)
			os.Exit(1)
		}
		now = t
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	p, err := pipeline.New(config.MergeDomains(pipeline.BuiltinDomains(), cfg.Domains))
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	if !p.HasDomain(*domainName) {
		fmt.Printf("ERROR: unknown domain %q\n", *domainName)
		os.Exit(1)
	}

	events, err := readEventsFile(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d events from %s\n", len(events), *csvPath)

	var profiles map[string]domain.InventoryParams
	if *profilesPath != "" {
		profiles, err = readProfilesFile(*profilesPath)
		if err != nil {
			fmt.Printf("ERROR: Failed to read profiles: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Loaded %d inventory profiles from %s\n", len(profiles), *profilesPath)
	}

	inputs := buildInputs(*tenantID, *domainName, events, profiles, now)
	fmt.Printf("\nScoring %d entities with %d workers...\n", len(inputs), *workers)

	start := time.Now()
	results := p.EvaluateBatch(context.Background(), inputs, *workers)
	duration := time.Since(start)

	printResults(os.Stdout, summarize(results), *top, duration)
}

// Summary aggregates a replay run.
type Summary struct {
	Evaluations []*domain.Evaluation
	Tiers       map[string]int
	Errors      []error
}

func summarize(results []pipeline.BatchResult) Summary {
	s := Summary{Tiers: make(map[string]int)}
	for _, r := range results {
		if r.Err != nil {
			s.Errors = append(s.Errors, r.Err)
			continue
		}
		s.Evaluations = append(s.Evaluations, r.Evaluation)
		s.Tiers[r.Evaluation.Classification.Tier]++
	}

	// Most severe first, then highest score.
	sort.SliceStable(s.Evaluations, func(i, j int) bool {
		a, b := s.Evaluations[i], s.Evaluations[j]
		if a.Classification.Severity != b.Classification.Severity {
			return a.Classification.Severity > b.Classification.Severity
		}
		return a.Score.Composite > b.Score.Composite
	})
	return s
}

func readEventsFile(path string) ([]domain.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readEvents(f)
}

// readEvents parses a CSV with a header naming at least entity_id and
// timestamp. kind, amount and quantity are optional columns.
func readEvents(r io.Reader) ([]domain.Event, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	col := columnIndex(header)
	for _, required := range []string{"entity_id", "timestamp"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing %s column", required)
		}
	}

	var events []domain.Event
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		ts, err := time.Parse(time.RFC3339, field(record, col, "timestamp"))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid timestamp: %w", line, err)
		}
		ev := domain.Event{
			EntityID:  field(record, col, "entity_id"),
			Kind:      field(record, col, "kind"),
			Timestamp: ts,
		}
		if ev.EntityID == "" {
			return nil, fmt.Errorf("line %d: empty entity_id", line)
		}
		if ev.Kind == "" {
			ev.Kind = domain.EventOrder
		}
		if ev.Amount, err = number(record, col, "amount"); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if ev.Quantity, err = number(record, col, "quantity"); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func readProfilesFile(path string) (map[string]domain.InventoryParams, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readProfiles(f)
}

// readProfiles parses entity_id,current_stock,lead_time_days,
// safety_multiplier,ordering_cost,holding_cost,unit_cost rows.
func readProfiles(r io.Reader) (map[string]domain.InventoryParams, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	col := columnIndex(header)
	if _, ok := col["entity_id"]; !ok {
		return nil, fmt.Errorf("missing entity_id column")
	}

	profiles := make(map[string]domain.InventoryParams)
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		var params domain.InventoryParams
		fields := []struct {
			name string
			dst  *float64
		}{
			{"current_stock", &params.CurrentStock},
			{"lead_time_days", &params.LeadTimeDays},
			{"safety_multiplier", &params.SafetyMultiplier},
			{"ordering_cost", &params.OrderingCost},
			{"holding_cost", &params.HoldingCost},
			{"unit_cost", &params.UnitCost},
		}
		for _, f := range fields {
			if *f.dst, err = number(record, col, f.name); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		}
		profiles[field(record, col, "entity_id")] = params
	}
	return profiles, nil
}

// buildInputs groups events by entity in first-seen order. Entities that
// only appear in profiles are scored with an empty history.
func buildInputs(tenantID, domainName string, events []domain.Event, profiles map[string]domain.InventoryParams, now time.Time) []*pipeline.EvaluateInput {
	byEntity := make(map[string]*pipeline.EvaluateInput)
	var order []string

	get := func(entityID string) *pipeline.EvaluateInput {
		in, ok := byEntity[entityID]
		if !ok {
			in = &pipeline.EvaluateInput{
				TenantID: tenantID,
				Domain:   domainName,
				EntityID: entityID,
				Profile:  domain.Profile{EntityID: entityID},
				Now:      now,
			}
			byEntity[entityID] = in
			order = append(order, entityID)
		}
		return in
	}

	for _, ev := range events {
		in := get(ev.EntityID)
		in.History = append(in.History, ev)
	}

	ids := make([]string, 0, len(profiles))
	for id := range profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		params := profiles[id]
		get(id).Profile.Inventory = &params
	}

	inputs := make([]*pipeline.EvaluateInput, len(order))
	for i, id := range order {
		inputs[i] = byEntity[id]
	}
	return inputs
}

func printResults(w io.Writer, s Summary, top int, duration time.Duration) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "TIERS")
	tiers := make([]string, 0, len(s.Tiers))
	for t := range s.Tiers {
		tiers = append(tiers, t)
	}
	sort.Strings(tiers)
	for _, t := range tiers {
		fmt.Fprintf(w, "   %-10s %d\n", t, s.Tiers[t])
	}
	if len(s.Errors) > 0 {
		fmt.Fprintf(w, "   %-10s %d (first: %v)\n", "errors", len(s.Errors), s.Errors[0])
	}

	list := s.Evaluations
	if top > 0 && len(list) > top {
		list = list[:top]
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "ENTITIES")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "   ENTITY\tTIER\tSCORE\tTOP ACTION\tPRIORITY")
	for _, e := range list {
		action, priority := "-", "-"
		if rec := e.TopRecommendation(); rec != nil {
			action, priority = rec.ActionID, string(rec.Priority)
		}
		fmt.Fprintf(tw, "   %s\t%s\t%.3f\t%s\t%s\n",
			e.EntityID, e.Classification.Tier, e.Score.Composite, action, priority)
	}
	tw.Flush()

	n := len(s.Evaluations) + len(s.Errors)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "PERFORMANCE")
	fmt.Fprintf(w, "   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if n > 0 && duration > 0 {
		fmt.Fprintf(w, "   Throughput:       %.2f entities/sec\n", float64(n)/duration.Seconds())
	}
}

func columnIndex(header []string) map[string]int {
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return col
}

func field(record []string, col map[string]int, name string) string {
	i, ok := col[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func number(record []string, col map[string]int, name string) (float64, error) {
	v := field(record, col, name)
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return f, nil
}
