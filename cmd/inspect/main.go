package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/Zynapses/Radiant-sub008/internal/breaker"
	"github.com/Zynapses/Radiant-sub008/internal/eventlog"
	"github.com/Zynapses/Radiant-sub008/internal/integration"
	"github.com/Zynapses/Radiant-sub008/internal/logging"
	"github.com/Zynapses/Radiant-sub008/internal/metrics"
	"github.com/Zynapses/Radiant-sub008/internal/notify"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to sentinel.db")
	tenant := flag.String("tenant", "default", "tenant to inspect")
	last := flag.Int("last", 20, "show N most recent ticks")
	showBreakers := flag.Bool("breakers", false, "show breaker dashboard")
	showPhi := flag.Bool("phi", false, "show integration readings")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/sentinel.db [--tenant id] [--last N] [--breakers] [--phi] [--json]")
		os.Exit(2)
	}

	events, err := eventlog.NewStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer events.Close()

	ctx := context.Background()
	switch {
	case *showBreakers:
		err = runBreakerMode(ctx, events, *tenant, *jsonOut)
	case *showPhi:
		err = runPhiMode(ctx, events, *tenant, *last, *jsonOut)
	default:
		err = runTickMode(ctx, events, *tenant, *last, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region tick-mode

func runTickMode(ctx context.Context, events *eventlog.Store, tenant string, last int, jsonOut bool) error {
	ticks, err := events.ListTicks(ctx, tenant, last)
	if err != nil {
		return err
	}
	if len(ticks) == 0 {
		fmt.Fprintln(os.Stderr, "no ticks found")
		return nil
	}

	// Store returns DESC; reverse for chronological display.
	for i, j := 0, len(ticks)-1; i < j; i, j = i+1, j-1 {
		ticks[i], ticks[j] = ticks[j], ticks[i]
	}

	if jsonOut {
		return printJSON(ticks)
	}

	fmt.Printf("%-10s  %9s  %6s  %-13s  %-22s  %5s  %s\n",
		"Tick", "Coherence", "p(OK)", "State", "Action", "Phi", "Time")
	fmt.Printf("%-10s+-%9s+-%6s+-%-13s+-%-22s+-%5s+-%s\n",
		"----------", "---------", "------", "-------------", "----------------------", "-----", "--------------------")
	for _, t := range ticks {
		fmt.Printf("%-10s  %9.3f  %6.3f  %-13s  %-22s  %5.3f  %s\n",
			shortID(t.ID), t.Coherence, t.POK, t.InferredState, t.ActionTaken,
			t.Phi, t.CreatedAt.Format("2006-01-02T15:04:05Z"))
	}

	latest := ticks[len(ticks)-1]
	fmt.Printf("\nLatest: state=%s p(OK)=%.3f", latest.InferredState, latest.POK)
	if latest.Notes != "" {
		fmt.Printf(" notes=%s", latest.Notes)
	}
	fmt.Println()
	return nil
}

// #endregion tick-mode

// #region breaker-mode

func runBreakerMode(ctx context.Context, events *eventlog.Store, tenant string, jsonOut bool) error {
	registry, err := breaker.NewRegistry(events.DB(), logging.Nop(), notify.Nop{}, metrics.NewNop(), "")
	if err != nil {
		return err
	}

	dashboard, err := registry.Dashboard(ctx, tenant)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(dashboard)
	}

	if len(dashboard.Breakers) == 0 {
		fmt.Fprintln(os.Stderr, "no breakers registered")
		return nil
	}

	fmt.Printf("%-16s  %-10s  %5s  %9s  %s\n", "Name", "State", "Trips", "Failures", "Last Tripped")
	fmt.Printf("%-16s+-%-10s+-%5s+-%9s+-%s\n",
		"----------------", "----------", "-----", "---------", "--------------------")
	for _, b := range dashboard.Breakers {
		tripped := "—"
		if !b.LastTrippedAt.IsZero() {
			tripped = b.LastTrippedAt.Format("2006-01-02T15:04:05Z")
		}
		fmt.Printf("%-16s  %-10s  %5d  %9d  %s\n",
			b.Name, b.State, b.TripCount, b.ConsecutiveFailures, tripped)
	}
	fmt.Printf("\nIntervention level: %s (open: %d)\n", dashboard.Level, dashboard.OpenCount)
	return nil
}

// #endregion breaker-mode

// #region phi-mode

func runPhiMode(ctx context.Context, events *eventlog.Store, tenant string, last int, jsonOut bool) error {
	estimator, err := integration.NewEstimator(events, logging.Nop(), metrics.NewNop(), integration.DefaultConfig())
	if err != nil {
		return err
	}

	readings, err := estimator.GetPhiHistory(ctx, tenant, last)
	if err != nil {
		return err
	}
	if len(readings) == 0 {
		fmt.Fprintln(os.Stderr, "no readings found")
		return nil
	}
	if jsonOut {
		return printJSON(readings)
	}

	fmt.Printf("%5s  %8s  %6s  %-24s  %s\n", "Phi", "Concepts", "Events", "Main Complex", "Time")
	fmt.Printf("%5s+-%8s+-%6s+-%-24s+-%s\n",
		"-----", "--------", "------", "------------------------", "--------------------")
	for _, r := range readings {
		members := strings.Join(r.MainComplexNodes, ",")
		if members == "" {
			members = "—"
		}
		fmt.Printf("%5.3f  %8d  %6d  %-24s  %s\n",
			r.Phi, r.NumConcepts, r.SourceEventCount, members,
			r.ComputedAt.Format("2006-01-02T15:04:05Z"))
	}
	return nil
}

// #endregion phi-mode

// #region output

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion output
