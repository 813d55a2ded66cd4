package main

import (
	"encoding/json"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/xraph/jobq/engine"
)

type auditEntry struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	ResourceID string         `json:"resource_id"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	AtMS       int64          `json:"at_ms"`
}

// newAuditCommand constructs the `audit` command, which reads the stream
// written by audithook.StreamRecorder.
func newAuditCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the latest audit events, newest first",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, _ []string, _ *engine.Engine) error {
			key, _ := cmd.Flags().GetString("stream")
			count, _ := cmd.Flags().GetInt64("count")
			if key == "" {
				key = a.prefix + ":audit"
			}

			msgs, err := a.store.Client().XRevRangeN(cmd.Context(), key, "+", "-", count).Result()
			if err != nil {
				return err
			}
			out := make([]auditEntry, 0, len(msgs))
			for _, m := range msgs {
				e := auditEntry{ID: m.ID}
				e.Action, _ = m.Values["action"].(string)
				e.Resource, _ = m.Values["resource"].(string)
				e.ResourceID, _ = m.Values["resource_id"].(string)
				e.Outcome, _ = m.Values["outcome"].(string)
				e.Severity, _ = m.Values["severity"].(string)
				e.Reason, _ = m.Values["reason"].(string)
				if raw, ok := m.Values["metadata"].(string); ok {
					_ = json.Unmarshal([]byte(raw), &e.Metadata)
				}
				if at, ok := m.Values["at"].(string); ok {
					e.AtMS, _ = strconv.ParseInt(at, 10, 64)
				}
				out = append(out, e)
			}
			return printJSON(cmd, out)
		}),
	}
	cmd.Flags().String("stream", "", "Stream key (default <key prefix>:audit)")
	cmd.Flags().Int64("count", 20, "Maximum number of events")
	return cmd
}
