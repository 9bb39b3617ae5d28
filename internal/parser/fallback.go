package parser

import (
	"regexp"
	"strings"
)

// Per-field regex fallback. Each field is pulled independently so that a
// few malformed fields do not lose the whole result. Only reached when
// every structural repair stage has failed.
var (
	reScore   = regexp.MustCompile(`"score"\s*:\s*"?(-?\d+(?:\.\d+)?)"?`)
	reVerdict = regexp.MustCompile(`"verdict"\s*:\s*"([^"]*)"`)
	reString  = map[string]*regexp.Regexp{
		"explanation":        regexp.MustCompile(`"explanation"\s*:\s*"((?:[^"\\]|\\.)*)"`),
		"hard_reject_reason": regexp.MustCompile(`"hard_reject_reason"\s*:\s*"((?:[^"\\]|\\.)*)"`),
		"best_resume":        regexp.MustCompile(`"best_resume"\s*:\s*"((?:[^"\\]|\\.)*)"`),
	}
	reArray = map[string]*regexp.Regexp{
		"matches": regexp.MustCompile(`"matches"\s*:\s*\[([^\]]*)\]`),
		"risks":   regexp.MustCompile(`"risks"\s*:\s*\[([^\]]*)\]`),
	}
	reArrayItem = regexp.MustCompile(`"((?:[^"\\]|\\.)*)"`)
)

// extractFields scrapes fields out of an irreparably malformed reply.
// Returns false when nothing recognizable was found, in which case the
// reply is truly unparseable.
func extractFields(raw string) (map[string]any, bool) {
	obj := make(map[string]any)

	if m := reScore.FindStringSubmatch(raw); m != nil {
		obj["score"] = m[1]
	}
	if m := reVerdict.FindStringSubmatch(raw); m != nil {
		obj["verdict"] = m[1]
	}
	for field, re := range reString {
		if m := re.FindStringSubmatch(raw); m != nil && m[1] != "" {
			obj[field] = unescape(m[1])
		}
	}
	for field, re := range reArray {
		m := re.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		var items []any
		for _, item := range reArrayItem.FindAllStringSubmatch(m[1], -1) {
			items = append(items, unescape(item[1]))
		}
		if len(items) > 0 {
			obj[field] = items
		}
	}

	return obj, len(obj) > 0
}

var unescaper = strings.NewReplacer(`\"`, `"`, `\\`, `\`, `\n`, "\n", `\t`, "\t")

func unescape(s string) string {
	return unescaper.Replace(s)
}
