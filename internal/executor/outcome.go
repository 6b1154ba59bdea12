package executor

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/randalmurphal/orc-forged/internal/orcmodel"
)

// ParseOutcome scans raw subprocess output for the last well-formed JSON
// object containing a "status" field and interprets it as a
// WorkerOutcome. Model CLIs interleave their structured result with
// progress chatter, so a strict json.Unmarshal of the whole buffer
// almost never succeeds; scanning for candidate `{...}` spans and taking
// the last one that parses is the resilient approach.
func ParseOutcome(raw []byte) *orcmodel.WorkerOutcome {
	text := string(raw)
	if obj, ok := lastJSONObject(text); ok {
		status := gjson.Get(obj, "status")
		if status.Exists() {
			out := &orcmodel.WorkerOutcome{
				Status:  orcmodel.OutcomeStatus(status.String()),
				Summary: gjson.Get(obj, "summary").String(),
			}
			if details := gjson.Get(obj, "details"); details.Exists() {
				out.Details = details.String()
			}
			if !isKnownStatus(out.Status) {
				out.Details = "unrecognized status \"" + status.String() + "\" in worker output; " + out.Details
				out.Status = orcmodel.OutcomeBlocked
			}
			return out
		}
	}
	return &orcmodel.WorkerOutcome{
		Status:  orcmodel.OutcomeBlocked,
		Summary: "worker produced no recognizable outcome document",
	}
}

func isKnownStatus(s orcmodel.OutcomeStatus) bool {
	switch s {
	case orcmodel.OutcomeOK, orcmodel.OutcomeBlocked, orcmodel.OutcomeChangesRequested:
		return true
	default:
		return false
	}
}

// lastJSONObject scans text right-to-left for brace-balanced `{...}`
// spans and returns the last one gjson considers valid JSON that has a
// top-level "status" field.
func lastJSONObject(text string) (string, bool) {
	depth := 0
	end := -1
	for i := len(text) - 1; i >= 0; i-- {
		switch text[i] {
		case '}':
			if depth == 0 {
				end = i
			}
			depth++
		case '{':
			if depth > 0 {
				depth--
				if depth == 0 && end != -1 {
					candidate := text[i : end+1]
					if gjson.Valid(candidate) && gjson.Get(candidate, "status").Exists() {
						return candidate, true
					}
					end = -1
				}
			}
		}
	}
	return "", false
}

// TrimOutputForLog truncates s to the last n bytes, on a line boundary
// where possible, for inclusion in worker-crash error messages.
func TrimOutputForLog(s string, n int) string {
	if len(s) <= n {
		return s
	}
	tail := s[len(s)-n:]
	if idx := strings.IndexByte(tail, '\n'); idx >= 0 {
		return tail[idx+1:]
	}
	return tail
}
