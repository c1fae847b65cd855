package conversation

import (
	"encoding/json"
	"regexp"
	"strings"
)

const (
	confirmationSuffix = "_generation_confirmation_required"
	inProgressSuffix   = "_generation_in_progress"
)

var (
	chunkListPattern  = regexp.MustCompile(`^\s*\[`)
	chunkTextPattern  = regexp.MustCompile(`['"]text['"]\s*:\s*(?:'((?:[^'\\]|\\.)*)'|"((?:[^"\\]|\\.)*)")`)
	fencedJSONPattern = regexp.MustCompile("(?s)```json\\s*(.*?)```")
	chunkUnescaper    = strings.NewReplacer(`\'`, "'", `\"`, `"`, `\n`, "\n", `\\`, `\`)
)

var eventPrefix = map[string]GenKind{
	"requirement": GenRequirements,
	"scenario":    GenScenarios,
	"testcase":    GenTestCases,
}

// envelope is the control payload a system turn may embed, either inside
// a fenced ```json block or as the whole message body.
type envelope struct {
	SystemEvent string          `json:"system_event"`
	UserAnswer  json.RawMessage `json:"user_answer"`
}

// ExtractMainText recovers display text from a raw system payload. The
// upstream agent sometimes persists model-streamed chunk arrays without
// normalizing them first, so the stored string looks like a list of
// chunk maps with single- or double-quoted text keys and is not valid
// JSON. The regex scan pulls every text value back out and joins them
// with blank lines. Anything that does not look like such a list is
// returned unchanged. This is a compatibility shim, not a parse path;
// it goes away once the store normalizes chunks before insert.
func ExtractMainText(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !chunkListPattern.MatchString(trimmed) {
		return raw
	}
	matches := chunkTextPattern.FindAllStringSubmatch(trimmed, -1)
	if len(matches) == 0 {
		return raw
	}
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		value := m[1]
		if value == "" {
			value = m[2]
		}
		parts = append(parts, chunkUnescaper.Replace(value))
	}
	return strings.Join(parts, "\n\n")
}

// Decode turns one raw log entry into its displayable form.
//
// latest must be true only for the final turn of the conversation;
// suppressed reports whether the workflow for a kind was already
// confirmed or handled for this conversation. Events fail both gates
// silently, so replaying a historical log can never reopen a dialog.
//
// Decode never lets a malformed envelope escape: decode trouble of any
// shape degrades to showing the extracted text with no event.
func Decode(entry LogEntry, latest bool, suppressed func(GenKind) bool) (turn DecodedTurn) {
	turn = DecodedTurn{ID: entry.ID, Role: RoleAssistant, Traces: entry.Traces}
	defer func() {
		if r := recover(); r != nil {
			turn.DisplayText = entry.Text
			turn.Event = nil
		}
	}()

	if entry.Kind == EntryUser {
		turn.Role = RoleUser
		turn.DisplayText = entry.Text
		turn.Attachment = entry.Attachment
		return turn
	}

	turn.DisplayText = ExtractMainText(entry.Text)

	env, ok := parseEnvelope(entry.Text)
	if !ok {
		return turn
	}
	if kind, signal, ok := classifyEvent(env.SystemEvent); ok {
		switch signal {
		case SignalConfirmationRequired:
			turn.DisplayText = ConfirmationNotice(kind)
		case SignalInProgress:
			turn.DisplayText = ProgressNotice(kind)
		}
		if latest && (suppressed == nil || !suppressed(kind)) {
			turn.Event = &Event{Kind: kind, Signal: signal}
		}
		return turn
	}
	if answer, ok := env.answerText(); ok {
		turn.DisplayText = answer
	}
	return turn
}

func parseEnvelope(raw string) (envelope, bool) {
	body := raw
	if m := fencedJSONPattern.FindStringSubmatch(raw); m != nil {
		body = m[1]
	}
	var env envelope
	if err := json.Unmarshal([]byte(strings.TrimSpace(body)), &env); err != nil {
		return envelope{}, false
	}
	if env.SystemEvent == "" && len(env.UserAnswer) == 0 {
		return envelope{}, false
	}
	return env, true
}

func classifyEvent(name string) (GenKind, Signal, bool) {
	if prefix, ok := strings.CutSuffix(name, confirmationSuffix); ok {
		if kind, ok := eventPrefix[prefix]; ok {
			return kind, SignalConfirmationRequired, true
		}
	}
	if prefix, ok := strings.CutSuffix(name, inProgressSuffix); ok {
		if kind, ok := eventPrefix[prefix]; ok {
			return kind, SignalInProgress, true
		}
	}
	return "", "", false
}

func (e envelope) answerText() (string, bool) {
	if len(e.UserAnswer) == 0 {
		return "", false
	}
	var answer string
	if err := json.Unmarshal(e.UserAnswer, &answer); err != nil {
		// Non-string answers are rare agent bugs; show them raw rather
		// than dropping the turn.
		return string(e.UserAnswer), true
	}
	return answer, true
}

// ConfirmationNotice is the fixed assistant text shown in place of a
// confirmation-required envelope.
func ConfirmationNotice(kind GenKind) string {
	switch kind {
	case GenRequirements:
		return "Requirement generation is ready to start. Confirm to generate requirements from the uploaded documents."
	case GenScenarios:
		return "Scenario generation is ready to start. Confirm to generate scenarios from the approved requirements."
	case GenTestCases:
		return "Test case generation is ready to start. Confirm to generate test cases from the approved scenarios."
	}
	return "A generation step is ready to start."
}

// ProgressNotice is the fixed assistant text shown in place of an
// in-progress envelope.
func ProgressNotice(kind GenKind) string {
	switch kind {
	case GenRequirements:
		return "Requirement generation is in progress. Results will appear here when the run completes."
	case GenScenarios:
		return "Scenario generation is in progress. Results will appear here when the run completes."
	case GenTestCases:
		return "Test case generation is in progress. Results will appear here when the run completes."
	}
	return "Generation is in progress."
}
