// Package handoff sequences the two-agent pipeline: it runs the planner
// agent, detects the handoff marker in its reply and forwards the extracted
// payload to the rewriter agent.
package handoff

import "strings"

// Marker is the literal token that, as the exact first line of a reply,
// signals transfer of control from the planner to the rewriter. Matching is
// strict: case-sensitive and position-sensitive.
const Marker = "HANDOFF_AGENT2"

// Outcome is the typed result of classifying an agent reply: either the
// reply is the final answer, or it carries a payload for the second agent.
type Outcome struct {
	// Text is the final answer, or the extracted payload when Handoff is set.
	Text string
	// Handoff reports whether control transfers to the second agent.
	Handoff bool
}

// Classifier decides whether a reply is a final answer or a handoff. The
// marker matching is isolated here so the protocol can be swapped without
// touching orchestration logic.
type Classifier func(reply string) Outcome

// ClassifyReply is the default classifier. A reply hands off if and only if
// its first line, after trimming surrounding whitespace, is exactly Marker;
// the payload is all lines after the first, re-joined and trimmed. Everything
// else (empty replies, the marker on a later line, partial or case-varied
// matches) is a final answer.
func ClassifyReply(reply string) Outcome {
	if reply == "" {
		return Outcome{Text: reply}
	}

	lines := strings.Split(reply, "\n")
	if strings.TrimSpace(lines[0]) != Marker {
		return Outcome{Text: reply}
	}

	payload := strings.TrimSpace(strings.Join(lines[1:], "\n"))
	return Outcome{Text: payload, Handoff: true}
}
