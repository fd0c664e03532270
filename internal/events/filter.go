package events

import (
	"strings"
)

// Filter selects messages by topic pattern and workbook. The zero Filter
// matches everything.
type Filter struct {
	// Topics are NATS-style patterns: "*" matches one segment, a trailing
	// ">" matches one or more.
	Topics     []string
	WorkbookID string
}

// ParseTopics splits a comma-separated pattern list, dropping blanks.
func ParseTopics(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// MatchTopic reports whether topic matches pattern.
func MatchTopic(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	pp := strings.Split(pattern, ".")
	tp := strings.Split(topic, ".")
	for i, p := range pp {
		if p == ">" {
			return i < len(tp)
		}
		if i >= len(tp) || (p != "*" && p != tp[i]) {
			return false
		}
	}
	return len(pp) == len(tp)
}

// MatchesTopic applies only the topic half of the filter.
func (f Filter) MatchesTopic(topic string) bool {
	if len(f.Topics) == 0 {
		return true
	}
	for _, p := range f.Topics {
		if MatchTopic(p, topic) {
			return true
		}
	}
	return false
}

// Match reports whether m passes both halves of the filter. Payloads that
// name no workbook never match a workbook filter.
func (f Filter) Match(m Message) bool {
	if !f.MatchesTopic(m.Topic) {
		return false
	}
	return f.WorkbookID == "" || WorkbookOf(m) == f.WorkbookID
}

// WorkbookOf returns the workbook a message concerns, or "". Payloads are
// decoded only when the transport did not carry the workbook.
func WorkbookOf(m Message) string {
	if m.Workbook != "" {
		return m.Workbook
	}
	v, err := Decode(m)
	if err != nil {
		return ""
	}
	if raw, ok := v.(map[string]any); ok {
		id, _ := raw["workbook_id"].(string)
		return id
	}
	return WorkbookRef(v)
}
