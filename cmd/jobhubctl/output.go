package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"

	"github.com/sudo-init-do/jobhub/internal/admin"
	"github.com/sudo-init-do/jobhub/internal/escrow"
	"github.com/sudo-init-do/jobhub/internal/jobs"
)

// render prints v as JSON, YAML or a table built by rows.
func render[T any](w io.Writer, format string, v T, rows func(T) (table.Row, []table.Row)) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		// round-trip through JSON so the json tags name the fields
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(b, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		return enc.Close()
	case "table", "":
		header, body := rows(v)
		tw := table.NewWriter()
		tw.SetOutputMirror(w)
		tw.AppendHeader(header)
		tw.AppendRows(body)
		tw.Render()
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func jobRows(items []jobs.Job) (table.Row, []table.Row) {
	out := make([]table.Row, 0, len(items))
	for _, j := range items {
		accepted := ""
		if j.AcceptedBidID != nil {
			accepted = *j.AcceptedBidID
		}
		out = append(out, table.Row{j.ID, j.Title, j.ServiceType, j.Status, j.PostedBy, accepted, j.CreatedAt.Format(time.RFC3339)})
	}
	return table.Row{"ID", "Title", "Service", "Status", "Poster", "Accepted bid", "Created"}, out
}

func paymentRows(items []escrow.Payment) (table.Row, []table.Row) {
	out := make([]table.Row, 0, len(items))
	for _, p := range items {
		out = append(out, table.Row{
			p.ID, p.JobID, p.Status, p.Amount.String(), p.Currency,
			p.ReleasedAmount.String(), p.Unreleased().String(), p.RefundedAmount.String(), p.FeeAmount.String(),
		})
	}
	return table.Row{"ID", "Job", "Status", "Amount", "Currency", "Released", "Unreleased", "Refunded", "Fee"}, out
}

func overviewRows(o admin.Overview) (table.Row, []table.Row) {
	statuses := make([]string, 0, len(o.Jobs))
	for st := range o.Jobs {
		statuses = append(statuses, string(st))
	}
	sort.Strings(statuses)

	var out []table.Row
	for _, st := range statuses {
		out = append(out, table.Row{"jobs", st, o.Jobs[jobs.Status(st)], ""})
	}
	for _, t := range o.Payments {
		out = append(out, table.Row{"payments", t.Status, t.Count, t.Amount.String()})
	}
	return table.Row{"Kind", "Status", "Count", "Amount"}, out
}
