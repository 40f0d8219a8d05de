package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/yairfalse/siivous/pkg/resource"
)

// Format selects the output encoding.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
)

// ParseFormat validates a --output value.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatTable, FormatJSON:
		return Format(s), nil
	}
	return "", fmt.Errorf("unknown output format %q (want table or json)", s)
}

// Render writes r to w.
func Render(w io.Writer, r *Report, format Format, color bool) error {
	switch format {
	case FormatJSON:
		return renderJSON(w, r)
	default:
		_, err := io.WriteString(w, Table(r, color)+"\n")
		return err
	}
}

// ActionLabel renders the outcome column.
func ActionLabel(o resource.Outcome) string {
	switch {
	case o.Action == resource.ActionFailed:
		if msg := o.ErrString(); msg != "" {
			return string(o.Action) + ": " + msg
		}
		return string(o.Action) + ": " + o.Reason
	case o.DryRun && !o.Action.Skipped():
		return string(o.Action) + " (dry-run)"
	}
	return string(o.Action)
}

// Table renders the outcome table followed by the summary.
func Table(r *Report, color bool) string {
	tw := table.Table{}
	tw.AppendHeader(table.Row{"Resource", "Kind", "Action", "Verdict", "State", "Scope"})

	for _, o := range r.Outcomes {
		state := o.Resource.RawState
		if state == "" {
			state = string(o.Resource.State)
		}
		label := ActionLabel(o)
		if color {
			label = colorFor(o.Action).Sprint(label)
		}
		tw.AppendRow(table.Row{
			o.Resource.DisplayName(),
			string(o.Resource.Kind),
			label,
			string(o.Verdict),
			state,
			o.Resource.Scope().ID(),
		})
	}

	s := r.Summary()
	footer := fmt.Sprintf("%d evaluated, %d destroyed, %d tagged, %d failed, %d skipped", s.Total, s.Destroyed, s.Tagged, s.Failed, s.Skipped)
	if r.DryRun {
		footer += " (dry run)"
	}
	if r.Interrupted {
		footer += fmt.Sprintf(", interrupted with %d unevaluated", r.Unevaluated)
	}
	tw.AppendFooter(table.Row{footer})

	tw.SetStyle(table.StyleRounded)
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignCenter},
	})
	return tw.Render()
}

func colorFor(a resource.Action) text.Colors {
	switch a {
	case resource.ActionDestroyed:
		return text.Colors{text.FgHiRed}
	case resource.ActionFailed:
		return text.Colors{text.FgRed, text.Bold}
	case resource.ActionTagged:
		return text.Colors{text.FgHiYellow}
	}
	return text.Colors{text.FgHiBlack}
}

type jsonOutcome struct {
	ID      string           `json:"id"`
	Name    string           `json:"name"`
	Kind    resource.Kind    `json:"kind"`
	Scope   string           `json:"scope"`
	State   string           `json:"state"`
	Verdict resource.Verdict `json:"verdict"`
	Action  resource.Action  `json:"action"`
	Op      resource.Op      `json:"op,omitempty"`
	DryRun  bool             `json:"dry_run"`
	Reason  string           `json:"reason,omitempty"`
	Error   string           `json:"error,omitempty"`
}

type jsonReport struct {
	*Report
	Summary         Summary       `json:"summary"`
	Outcomes        []jsonOutcome `json:"outcomes"`
	DiscoveryErrors []string      `json:"discovery_errors,omitempty"`
}

func renderJSON(w io.Writer, r *Report) error {
	out := jsonReport{Report: r, Summary: r.Summary(), Outcomes: make([]jsonOutcome, 0, len(r.Outcomes))}
	for _, o := range r.Outcomes {
		state := o.Resource.RawState
		if state == "" {
			state = string(o.Resource.State)
		}
		out.Outcomes = append(out.Outcomes, jsonOutcome{
			ID:      o.Resource.ID,
			Name:    o.Resource.DisplayName(),
			Kind:    o.Resource.Kind,
			Scope:   o.Resource.Scope().ID(),
			State:   state,
			Verdict: o.Verdict,
			Action:  o.Action,
			Op:      o.Op,
			DryRun:  o.DryRun,
			Reason:  o.Reason,
			Error:   o.ErrString(),
		})
	}
	for _, err := range r.DiscoveryErrors {
		out.DiscoveryErrors = append(out.DiscoveryErrors, err.Error())
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
