package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"

	billingoverviewdomain "github.com/smallbiznis/meterly/internal/billingoverview/domain"
	ledgerdomain "github.com/smallbiznis/meterly/internal/ledger/domain"
	limitsdomain "github.com/smallbiznis/meterly/internal/limits/domain"
	"github.com/smallbiznis/meterly/internal/plan"
	subscriptiondomain "github.com/smallbiznis/meterly/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/meterly/internal/usage/domain"
	"github.com/smallbiznis/meterly/pkg/db/pagination"
	"go.uber.org/fx"
)

type services struct {
	fx.In

	Limits        limitsdomain.Service
	Overview      billingoverviewdomain.Service
	Usage         usagedomain.Service
	Ledger        ledgerdomain.Service
	Subscriptions subscriptiondomain.Service
}

type command struct {
	summary string
	run     func(ctx context.Context, svc services, args []string, out io.Writer) error
}

var commands = map[string]command{
	"check":    {"evaluate a user's limits", runCheck},
	"stats":    {"show current period usage", runStats},
	"trend":    {"show usage across recent periods", runTrend},
	"history":  {"list ledger rows, newest first", runHistory},
	"events":   {"list audited usage events for a period", runEvents},
	"record":   {"record a token usage event", runRecord},
	"resource": {"record a storage, deployment, compute or transfer charge", runResource},
	"project":  {"count a created project", runProject},
	"plan":     {"change a user's plan tier", runPlan},
	"payment":  {"set whether a user has a payment method", runPayment},
	"role":     {"set a user's role", runRole},
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: meterctl <command> [flags]")
	fmt.Fprintln(w)
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-10s %s\n", name, commands[name].summary)
	}
}

func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	userID := fs.String("user", "", "user id")
	return fs, userID
}

func parse(fs *flag.FlagSet, args []string, userID *string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*userID) == "" {
		return fmt.Errorf("-user is required")
	}
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runCheck(ctx context.Context, svc services, args []string, out io.Writer) error {
	fs, userID := newFlagSet("check")
	if err := parse(fs, args, userID); err != nil {
		return err
	}
	return writeJSON(out, svc.Limits.CheckLimits(ctx, *userID))
}

func runStats(ctx context.Context, svc services, args []string, out io.Writer) error {
	fs, userID := newFlagSet("stats")
	if err := parse(fs, args, userID); err != nil {
		return err
	}
	stats, err := svc.Overview.GetUsageStats(ctx, *userID)
	if err != nil {
		return err
	}
	return writeJSON(out, stats)
}

func runTrend(ctx context.Context, svc services, args []string, out io.Writer) error {
	fs, userID := newFlagSet("trend")
	months := fs.Int("months", 6, "number of periods")
	if err := parse(fs, args, userID); err != nil {
		return err
	}
	trend, err := svc.Overview.GetUsageTrend(ctx, *userID, *months)
	if err != nil {
		return err
	}
	return writeJSON(out, trend)
}

func runHistory(ctx context.Context, svc services, args []string, out io.Writer) error {
	fs, userID := newFlagSet("history")
	limit := fs.Int("limit", 12, "max periods")
	if err := parse(fs, args, userID); err != nil {
		return err
	}
	records, err := svc.Ledger.History(ctx, *userID, *limit)
	if err != nil {
		return err
	}
	return writeJSON(out, records)
}

func runEvents(ctx context.Context, svc services, args []string, out io.Writer) error {
	fs, userID := newFlagSet("events")
	period := fs.String("period", "", "period key YYYY-MM, current period when empty")
	pageToken := fs.String("page-token", "", "cursor from a previous page")
	pageSize := fs.Int("page-size", 50, "events per page")
	if err := parse(fs, args, userID); err != nil {
		return err
	}
	if *pageSize < 1 || *pageSize > pagination.MaxPageSize {
		return fmt.Errorf("-page-size must be between 1 and %d", pagination.MaxPageSize)
	}
	resp, err := svc.Usage.List(ctx, usagedomain.ListUsageRequest{
		UserID:    *userID,
		PeriodKey: *period,
		PageToken: *pageToken,
		PageSize:  int32(*pageSize),
	})
	if err != nil {
		return err
	}
	return writeJSON(out, resp)
}

func runRecord(ctx context.Context, svc services, args []string, out io.Writer) error {
	fs, userID := newFlagSet("record")
	category := fs.String("category", string(usagedomain.CategoryTokenGeneration), "token_generation, chat or api_request")
	mode := fs.String("mode", string(usagedomain.BillingModePlan), "plan or premium")
	variant := fs.String("variant", "", "pricing model variant")
	input := fs.Int64("in", 0, "input tokens")
	output := fs.Int64("out", 0, "output tokens")
	project := fs.String("project", "", "project id")
	if err := parse(fs, args, userID); err != nil {
		return err
	}

	req := usagedomain.RecordRequest{
		UserID:         *userID,
		Category:       usagedomain.Category(*category),
		InputUnits:     *input,
		OutputUnits:    *output,
		PricingVariant: *variant,
		BillingMode:    usagedomain.BillingMode(*mode),
	}
	if p := strings.TrimSpace(*project); p != "" {
		req.ProjectID = &p
	}
	return writeResult(out, svc.Usage.Record(ctx, req))
}

func runResource(ctx context.Context, svc services, args []string, out io.Writer) error {
	fs, userID := newFlagSet("resource")
	kind := fs.String("kind", "", "storage, deployment, compute or data_transfer")
	quantity := fs.Int64("quantity", 0, "bytes, visits or milliseconds")
	if err := parse(fs, args, userID); err != nil {
		return err
	}
	return writeResult(out, svc.Usage.RecordResource(ctx, usagedomain.ResourceCharge{
		UserID:   *userID,
		Kind:     usagedomain.ResourceKind(*kind),
		Quantity: *quantity,
	}))
}

func runProject(ctx context.Context, svc services, args []string, out io.Writer) error {
	fs, userID := newFlagSet("project")
	if err := parse(fs, args, userID); err != nil {
		return err
	}
	return writeResult(out, svc.Usage.RecordProjectCreated(ctx, *userID))
}

func writeResult(out io.Writer, res usagedomain.Result) error {
	payload := map[string]any{
		"success": res.Success,
		"cost":    res.Cost,
	}
	if res.EventID != 0 {
		payload["event_id"] = res.EventID.String()
	}
	if res.Err != nil {
		payload["error"] = res.Err.Error()
	}
	return writeJSON(out, payload)
}

func runPlan(ctx context.Context, svc services, args []string, out io.Writer) error {
	fs, userID := newFlagSet("plan")
	tier := fs.String("tier", "", "free, starter, pro or enterprise")
	if err := parse(fs, args, userID); err != nil {
		return err
	}
	parsed, err := plan.ParseTier(*tier)
	if err != nil {
		return err
	}
	sub, err := svc.Subscriptions.ChangePlan(ctx, *userID, parsed)
	if err != nil {
		return err
	}
	return writeJSON(out, sub)
}

func runPayment(ctx context.Context, svc services, args []string, out io.Writer) error {
	fs, userID := newFlagSet("payment")
	enabled := fs.Bool("enabled", true, "user has a payment method on file")
	if err := parse(fs, args, userID); err != nil {
		return err
	}
	sub, err := svc.Subscriptions.SetPaymentMethod(ctx, *userID, *enabled)
	if err != nil {
		return err
	}
	return writeJSON(out, sub)
}

func runRole(ctx context.Context, svc services, args []string, out io.Writer) error {
	fs, userID := newFlagSet("role")
	role := fs.String("role", string(subscriptiondomain.RoleUser), "user or admin")
	if err := parse(fs, args, userID); err != nil {
		return err
	}
	sub, err := svc.Subscriptions.SetRole(ctx, *userID, subscriptiondomain.Role(*role))
	if err != nil {
		return err
	}
	return writeJSON(out, sub)
}
