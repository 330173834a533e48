package output

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/agentstation/catsync/pkg/reconcile"
)

// Render writes v in format. Engine results get purpose-built tables; JSON
// and YAML serialize them as-is.
func Render(w io.Writer, format Format, v any) error {
	if format == FormatTable || format == "" {
		if data, ok := toTable(v); ok {
			return NewFormatter(FormatTable).Format(w, data)
		}
	}
	return NewFormatter(format).Format(w, v)
}

func toTable(v any) (Tables, bool) {
	switch r := v.(type) {
	case *reconcile.SyncOutcome:
		return OutcomeTables(r), true
	case *reconcile.Preview:
		return PreviewTables(r), true
	case []reconcile.ConflictDecision:
		return Tables{DecisionsTable(r)}, true
	case *reconcile.ResolveResult:
		return Tables{ResolveTable(r)}, true
	}
	return nil, false
}

// OutcomeTables renders a sync outcome as a count table plus any errors,
// conflicts and duplicates.
func OutcomeTables(o *reconcile.SyncOutcome) Tables {
	counts := Data{
		Title:           o.Summary(),
		Headers:         []string{"Pass", "Created", "Updated", "Unchanged", "Skipped", "Errors"},
		ColumnAlignment: []Align{AlignLeft, AlignRight, AlignRight, AlignRight, AlignRight, AlignRight},
	}
	passes := []*reconcile.SyncOutcome{o}
	if o.Push != nil || o.Pull != nil {
		passes = []*reconcile.SyncOutcome{o.Push, o.Pull, o}
	}
	for i, p := range passes {
		if p == nil {
			continue
		}
		name := string(p.Direction)
		if len(passes) > 1 && i == len(passes)-1 {
			name = "total"
		}
		counts.Rows = append(counts.Rows, []string{
			name, itoa(p.Created), itoa(p.Updated), itoa(p.Unchanged), itoa(p.Skipped), itoa(len(p.Errors)),
		})
	}

	out := Tables{counts}
	if len(o.Errors) > 0 {
		out = append(out, errorsTable(o.Errors))
	}
	if len(o.Conflicts) > 0 {
		out = append(out, conflictsTable(o.Conflicts))
	}
	if len(o.Duplicates) > 0 {
		out = append(out, duplicatesTable(o.Duplicates))
	}
	return out
}

// PreviewTables renders a preview as one table of planned actions plus the
// conflicts and duplicates it found.
func PreviewTables(p *reconcile.Preview) Tables {
	plan := Data{
		Title:   p.Summary(),
		Headers: []string{"Action", "Record", "Name"},
		Empty:   "nothing to write",
	}
	for _, l := range p.ToCreateRemote {
		plan.Rows = append(plan.Rows, []string{"create remote", l.ID, l.DisplayName})
	}
	for _, r := range p.ToCreateLocal {
		plan.Rows = append(plan.Rows, []string{"create local", r.ExternalID, r.Name()})
	}
	for _, u := range p.ToUpdateLocal {
		plan.Rows = append(plan.Rows, []string{"rename local", u.Local.ID, u.Local.DisplayName + " -> " + u.RemoteName})
	}
	for _, u := range p.ToUpdateRemote {
		plan.Rows = append(plan.Rows, []string{"rename remote", u.Remote.ExternalID, u.Remote.Name() + " -> " + u.Local.DisplayName})
	}

	out := Tables{plan}
	if len(p.Conflicts) > 0 {
		out = append(out, conflictsTable(p.Conflicts))
	}
	if len(p.Duplicates) > 0 {
		out = append(out, duplicatesTable(p.Duplicates))
	}
	return out
}

// DecisionsTable renders detected conflicts as decision rows.
func DecisionsTable(ds []reconcile.ConflictDecision) Data {
	data := Data{
		Headers: []string{"Target", "Reason", "Local", "Remote ID", "Remote", "Score", "Last Synced"},
		Empty:   "no conflicts",
	}
	for _, d := range ds {
		score := ""
		if d.Reason == reconcile.ReasonPotentialDuplicate {
			score = strconv.FormatFloat(d.Score, 'f', 2, 64)
		}
		data.Rows = append(data.Rows, []string{
			d.TargetID, d.Reason, d.LocalName, d.RemoteID, d.RemoteName, score, formatTime(d.LastSyncedAt),
		})
	}
	return data
}

// ResolveTable renders a resolution result.
func ResolveTable(r *reconcile.ResolveResult) Data {
	data := Data{
		Title:           r.Summary(),
		Headers:         []string{"Updated", "Created", "Skipped", "Errors"},
		ColumnAlignment: []Align{AlignRight, AlignRight, AlignRight, AlignRight},
		Rows:            [][]string{{itoa(r.Updated), itoa(r.Created), itoa(r.Skipped), itoa(len(r.Errors))}},
	}
	for _, e := range r.Errors {
		data.Title += "\n  " + e
	}
	return data
}

func errorsTable(errs []string) Data {
	data := Data{Title: "Errors", Headers: []string{"#", "Error"}}
	for i, e := range errs {
		data.Rows = append(data.Rows, []string{itoa(i + 1), e})
	}
	return data
}

func conflictsTable(cs []reconcile.PendingConflict) Data {
	data := Data{Title: "Conflicts", Headers: []string{"Local ID", "Local", "Remote ID", "Remote", "Last Synced"}}
	for _, c := range cs {
		data.Rows = append(data.Rows, []string{
			c.Local.ID, c.Local.DisplayName, c.Remote.ExternalID, c.Remote.Name(), formatTime(c.LastSyncedAt),
		})
	}
	return data
}

func duplicatesTable(ds []reconcile.PotentialDuplicate) Data {
	data := Data{Title: "Potential duplicates", Headers: []string{"Local ID", "Local", "Remote ID", "Remote", "Score"}}
	for _, d := range ds {
		data.Rows = append(data.Rows, []string{
			d.Local.ID, d.Local.DisplayName, d.Remote.ExternalID, d.Remote.Name(), fmt.Sprintf("%.2f", d.Score),
		})
	}
	return data
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
