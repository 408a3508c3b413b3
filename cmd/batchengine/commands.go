package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pesio-ai/be-mfg-batch-approvals/internal/repository"
)

var stdout io.Writer = os.Stdout

func run(ctx context.Context, a *app, cmd string, args []string) error {
	switch cmd {
	case "detect":
		return runDetect(ctx, a, args)
	case "group":
		return runGroup(ctx, a, args)
	case "approve":
		return runApprove(ctx, a, args)
	case "reject":
		return runReject(ctx, a, args)
	case "copy":
		return runCopy(ctx, a, args)
	case "apply-template":
		return runApplyTemplate(ctx, a, args)
	case "ready":
		return runReady(ctx, a, args)
	case "metrics":
		return runMetrics(ctx, a, args)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// dateFlag parses YYYY-MM-DD values.
type dateFlag struct {
	t   time.Time
	set bool
}

func (d *dateFlag) String() string {
	if !d.set {
		return ""
	}
	return repository.DateKey(d.t)
}

func (d *dateFlag) Set(s string) error {
	t, err := repository.ParseDate(s)
	if err != nil {
		return fmt.Errorf("expected YYYY-MM-DD: %w", err)
	}
	d.t, d.set = t, true
	return nil
}

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ContinueOnError)
}

func required(fs *flag.FlagSet, names ...string) error {
	seen := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { seen[f.Name] = true })
	var missing []string
	for _, n := range names {
		if !seen[n] {
			missing = append(missing, "-"+n)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s: missing %s", fs.Name(), strings.Join(missing, ", "))
	}
	return nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runDetect(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("detect")
	var date dateFlag
	fs.Var(&date, "date", "target date (YYYY-MM-DD)")
	groupID := fs.String("group", "", "also check this approval group")
	resolve := fs.Bool("resolve", false, "record automatic resolutions for the detected conflicts")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, "date"); err != nil {
		return err
	}

	conflicts, err := a.groups.DetectConflictsForDate(ctx, date.t)
	if err != nil {
		return err
	}
	if *groupID != "" {
		more, err := a.groups.DetectGroupConflicts(ctx, *groupID)
		if err != nil {
			return err
		}
		conflicts = append(conflicts, more...)
	}

	out := map[string]any{"date": date.String(), "conflicts": conflicts}
	if *resolve {
		resolutions, err := a.groups.ResolveConflicts(ctx, conflicts)
		if err != nil {
			return err
		}
		out["resolutions"] = resolutions
	}
	return printJSON(out)
}

func runGroup(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("group")
	var date dateFlag
	fs.Var(&date, "date", "target date (YYYY-MM-DD)")
	coordinator := fs.String("coordinator", "", "coordinator id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, "date", "coordinator"); err != nil {
		return err
	}

	groups, err := a.groups.CreateOptimalBatchGroups(ctx, date.t, *coordinator)
	if err != nil {
		return err
	}
	return printJSON(groups)
}

func runApprove(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("approve")
	groupID := fs.String("group", "", "approval group id")
	approver := fs.String("approver", "", "approver id")
	notes := fs.String("notes", "", "review notes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, "group", "approver"); err != nil {
		return err
	}

	var notesPtr *string
	if *notes != "" {
		notesPtr = notes
	}
	res, err := a.groups.BatchApprove(ctx, *groupID, *approver, notesPtr)
	if err != nil {
		return err
	}
	if err := printJSON(res); err != nil {
		return err
	}
	if res.Err() != nil {
		a.log.Warn().Err(res.Err()).Int("failed", len(res.FailedIDs)).Msg("Some batches were not approved")
	}
	return nil
}

func runReject(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("reject")
	groupID := fs.String("group", "", "approval group id")
	approver := fs.String("approver", "", "approver id")
	reason := fs.String("reason", "", "rejection reason")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, "group", "approver", "reason"); err != nil {
		return err
	}

	g, err := a.groups.RejectGroup(ctx, *groupID, *approver, *reason)
	if err != nil {
		return err
	}
	return printJSON(g)
}

func runCopy(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("copy")
	var from, to dateFlag
	fs.Var(&from, "from", "source date (YYYY-MM-DD)")
	fs.Var(&to, "to", "target date (YYYY-MM-DD)")
	coordinator := fs.String("coordinator", "", "coordinator id")
	machines := fs.String("machines", "", "comma-separated machine ids to copy (default all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, "from", "to", "coordinator"); err != nil {
		return err
	}

	copies, err := a.groups.CopyConfiguration(ctx, from.t, to.t, splitList(*machines), *coordinator)
	if err != nil {
		return err
	}
	return printJSON(copies)
}

func runApplyTemplate(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("apply-template")
	file := fs.String("file", "", "YAML template file to load and apply")
	templateID := fs.String("template", "", "stored template id")
	machines := fs.String("machines", "", "comma-separated machine ids")
	var date dateFlag
	fs.Var(&date, "date", "target date (YYYY-MM-DD)")
	coordinator := fs.String("coordinator", "", "coordinator id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, "machines", "date", "coordinator"); err != nil {
		return err
	}
	if (*file == "") == (*templateID == "") {
		return fmt.Errorf("apply-template: exactly one of -file or -template is required")
	}

	ids := splitList(*machines)
	if *templateID != "" {
		batches, err := a.templates.ApplyTemplateByID(ctx, *templateID, ids, date.t, *coordinator)
		if err != nil {
			return err
		}
		return printJSON(batches)
	}

	loaded, err := a.templates.LoadTemplatesFile(ctx, *file, *coordinator)
	if err != nil {
		return err
	}
	var all []*repository.ProductionBatch
	for _, tmpl := range loaded {
		if !tmpl.IsActive {
			a.log.Info().Str("template", tmpl.Name).Msg("Skipping inactive template")
			continue
		}
		batches, err := a.templates.ApplyTemplate(ctx, tmpl, ids, date.t, *coordinator)
		if err != nil {
			return err
		}
		all = append(all, batches...)
	}
	return printJSON(all)
}

func runReady(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("ready")
	machine := fs.String("machine", "", "machine id")
	var date dateFlag
	fs.Var(&date, "date", "target date (YYYY-MM-DD)")
	by := fs.String("by", "", "operator id")
	status := fs.String("status", string(repository.ReadinessReady), "ready, maintenance or unavailable")
	health := fs.Float64("health", -1, "health score in [0,1]; unchanged when omitted")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, "machine", "date", "by"); err != nil {
		return err
	}

	var (
		st  *repository.MachineReadinessState
		err error
	)
	switch repository.ReadinessStatus(*status) {
	case repository.ReadinessReady:
		st, err = a.readiness.MarkReady(ctx, *machine, date.t, *by)
	case repository.ReadinessMaintenance:
		st, err = a.readiness.MarkMaintenance(ctx, *machine, date.t, *by)
	case repository.ReadinessUnavailable:
		st, err = a.readiness.MarkUnavailable(ctx, *machine, date.t, *by)
	default:
		return fmt.Errorf("ready: unsupported -status %q", *status)
	}
	if err != nil {
		return err
	}
	if *health >= 0 {
		if st, err = a.readiness.UpdateHealth(ctx, *machine, date.t, *health, *by); err != nil {
			return err
		}
	}
	return printJSON(st)
}

func runMetrics(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("metrics")
	var from, to dateFlag
	fs.Var(&from, "from", "range start (YYYY-MM-DD, inclusive)")
	fs.Var(&to, "to", "range end (YYYY-MM-DD, exclusive)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, "from", "to"); err != nil {
		return err
	}

	approvals, err := a.analytics.FetchApprovalMetrics(ctx, from.t, to.t)
	if err != nil {
		return err
	}
	utilization, err := a.analytics.FetchMachineUtilization(ctx, from.t, to.t)
	if err != nil {
		return err
	}
	usage, err := a.analytics.FetchTemplateUsageStatistics(ctx, from.t, to.t)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"approvals":      approvals,
		"utilization":    utilization,
		"template_usage": usage,
	})
}
