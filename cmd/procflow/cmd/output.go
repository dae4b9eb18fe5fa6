package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/petrijr/procflow/pkg/api"
)

func writeOutput(w io.Writer, format string, v any, text func(io.Writer) error) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return text(w)
	}
}

func writeProcessText(w io.Writer, d *api.ProcessDetails) error {
	fmt.Fprintf(w, "Process:  %s\n", d.Process.ID)
	fmt.Fprintf(w, "Type:     %s\n", d.Process.ProcessTypeID)
	fmt.Fprintf(w, "Version:  %s\n", d.Process.Version)
	if d.Process.LockExpiryDate != nil {
		fmt.Fprintf(w, "Locked:   until %s\n", d.Process.LockExpiryDate.UTC().Format(time.RFC3339))
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tSTATUS\tCREATED\tMESSAGE")
	for _, st := range d.Steps {
		msg := ""
		if st.Message != nil {
			msg = *st.Message
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			st.StepTypeID, st.Status, st.DateCreated.UTC().Format(time.RFC3339), msg)
	}
	return tw.Flush()
}
