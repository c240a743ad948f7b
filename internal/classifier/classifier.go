// Package classifier scores free-text task descriptions for complexity,
// risk, and importance, and routes them to a tier/mode/oversight decision.
// Grounded on internal/router/router.go's ordered keyword-bucket matching,
// generalized to the numeric weighted-sum scoring in
// original_source/.../gm/federation_router.py's capability extraction and
// sibling scoring modules.
package classifier

import (
	"math"
	"strings"

	"github.com/clawos/brain/internal/stringutils"
)

// Context carries optional caller-supplied hints that participate in
// scoring alongside the free-text task description.
type Context struct {
	RiskLevel string // "critical", "high", "medium", "low"
	Priority  string // "urgent", "critical", "high", "normal"
	Domains   []string
}

// Scores is the three-axis scoring output, all on a 0..10 scale, plus the
// weighted total.
type Scores struct {
	Complexity float64 `json:"complexity"`
	Risk       float64 `json:"risk"`
	Importance float64 `json:"importance"`
	Total      float64 `json:"total"`
}

// Decision is the routing recommendation derived from Scores.
type Decision struct {
	Handler             string  `json:"handler"`
	Mode                string  `json:"mode"`
	Confidence          float64 `json:"confidence"`
	Reason              string  `json:"reason"`
	EstimatedTime       string  `json:"estimatedTime"`
	Oversight           string  `json:"oversight"`
	RequiresHumanReview bool    `json:"requiresHumanReview,omitempty"`
}

// Result is the full output of Classify.
type Result struct {
	Scores        Scores   `json:"scores"`
	IsMultiDomain bool     `json:"isMultiDomain"`
	Decision      Decision `json:"decision"`
}

var topicalKeywords = []struct {
	keyword string
	bonus   float64
}{
	{"machine-learning", 3.0},
	{"distributed-systems", 2.5},
	{"microservices", 2.0},
	{"database", 1.5},
	{"api", 1.0},
	{"authentication", 1.5},
	{"encryption", 1.0},
}

var riskKeywords = []struct {
	keyword string
	weight  float64
}{
	{"security", 2},
	{"privacy", 2},
	{"payment", 2.5},
	{"compliance", 1.5},
	{"data-loss", 2.5},
	{"downtime", 1.5},
	{"production", 2},
	{"deploy", 1},
}

var riskLevelWeight = map[string]float64{"critical": 3, "high": 2, "medium": 1, "low": 0}

var urgencyKeywords = []struct {
	keyword string
	weight  float64
}{
	{"urgent", 2},
	{"critical", 2.5},
	{"asap", 2},
	{"priority", 1.5},
}

var strategicKeywords = []struct {
	keyword string
	weight  float64
}{
	{"core", 2},
	{"strategic", 2},
	{"key", 1.5},
	{"critical", 1.5},
}

var priorityWeight = map[string]float64{"urgent": 2, "critical": 2.5, "high": 1.5, "normal": 0}

var allDomains = []string{"dev", "design", "marketing", "legal", "ops"}

func clamp10(v float64) float64 {
	if v > 10 {
		return 10
	}
	if v < 0 {
		return 0
	}
	return v
}

func countStepMarkers(text string) int {
	// Numbered or bulleted lines, plus "then"/"after that" sequencing words,
	// are treated as step markers.
	count := 0
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "-") || strings.HasPrefix(trimmed, "*") {
			count++
			continue
		}
		for i := 1; i <= 9; i++ {
			if strings.HasPrefix(trimmed, itoa(i)+".") || strings.HasPrefix(trimmed, itoa(i)+")") {
				count++
				break
			}
		}
	}
	lower := strings.ToLower(text)
	count += strings.Count(lower, "then ")
	count += strings.Count(lower, "after that")
	return count
}

func itoa(i int) string {
	return string(rune('0' + i))
}

func countDependencies(text string) int {
	lower := strings.ToLower(text)
	count := 0
	for _, marker := range []string{"depends on", "requires", "needs", "after", "blocked by"} {
		count += strings.Count(lower, marker)
	}
	return count
}

func hasDataHandling(lower string) float64 {
	var bonus float64
	for _, marker := range []string{"pii", "personal data", "sensitive data", "user data"} {
		if strings.Contains(lower, marker) {
			bonus += 1.0
		}
	}
	return bonus
}

func complexityScore(lower string) float64 {
	// Caps apply to the scaled term, not the raw count: 3 step markers
	// contribute min(3*1.5, 4.0) = 4.0, not 1.5*min(3,4) = 4.5.
	score := math.Min(1.5*float64(countStepMarkers(lower)), 4)

	for _, tk := range topicalKeywords {
		if strings.Contains(lower, tk.keyword) {
			score += tk.bonus
			break // first-match only
		}
	}

	score += math.Min(0.5*float64(countDependencies(lower)), 2)
	score += hasDataHandling(lower)

	return clamp10(score)
}

func riskScore(lower string, ctx Context) float64 {
	var score float64
	for _, rk := range riskKeywords {
		if strings.Contains(lower, rk.keyword) {
			score += rk.weight
		}
	}
	if w, ok := riskLevelWeight[strings.ToLower(ctx.RiskLevel)]; ok {
		score += w
	}
	return clamp10(score)
}

func importanceScore(lower string, ctx Context) float64 {
	var score float64
	for _, uk := range urgencyKeywords {
		if strings.Contains(lower, uk.keyword) {
			score += uk.weight
		}
	}
	for _, sk := range strategicKeywords {
		if strings.Contains(lower, sk.keyword) {
			score += sk.weight
		}
	}
	if w, ok := priorityWeight[strings.ToLower(ctx.Priority)]; ok {
		score += w
	}
	return clamp10(score)
}

func detectDomains(lower string, ctxDomains []string) []string {
	found := map[string]bool{}
	domainKeywords := map[string][]string{
		"dev":       {"code", "implement", "build", "api", "database", "refactor", "bug"},
		"design":    {"design", "ui", "ux", "mockup", "wireframe"},
		"marketing": {"marketing", "campaign", "seo", "social media", "brand"},
		"legal":     {"legal", "compliance", "contract", "policy", "gdpr"},
		"ops":       {"deploy", "infrastructure", "monitoring", "incident", "downtime"},
	}
	for _, d := range allDomains {
		for _, kw := range domainKeywords[d] {
			if strings.Contains(lower, kw) {
				found[d] = true
				break
			}
		}
	}
	for _, d := range ctxDomains {
		found[strings.ToLower(d)] = true
	}
	out := make([]string, 0, len(found))
	for d := range found {
		out = append(out, d)
	}
	return out
}

// Classify is a pure function over taskText and an optional context. A
// blank or whitespace-only taskText classifies as the lowest-scored,
// single-domain result rather than scoring an empty string.
func Classify(taskText string, ctx Context) Result {
	if stringutils.IsEmpty(taskText) {
		return Result{Decision: decide(Scores{}, false)}
	}

	lower := strings.ToLower(taskText)

	scores := Scores{
		Complexity: complexityScore(lower),
		Risk:       riskScore(lower, ctx),
		Importance: importanceScore(lower, ctx),
	}
	scores.Total = clamp10(0.35*scores.Complexity + 0.30*scores.Risk + 0.35*scores.Importance)

	domains := detectDomains(lower, ctx.Domains)
	multiDomain := len(domains) >= 2

	decision := decide(scores, multiDomain)

	return Result{Scores: scores, IsMultiDomain: multiDomain, Decision: decision}
}

func decide(scores Scores, multiDomain bool) Decision {
	d := Decision{RequiresHumanReview: scores.Total > 9.0}

	switch {
	case scores.Total >= 7.5 || multiDomain:
		d.Handler = "command"
		d.Mode = "managed"
		d.Oversight = "command"
		d.Reason = "high composite score or multi-domain task requires command-tier oversight"
		d.EstimatedTime = "4h+"
	case scores.Total >= 5.0:
		d.Handler = "worker"
		d.Mode = "assisted"
		d.Oversight = "pm"
		d.Reason = "moderate composite score warrants pm review"
		d.EstimatedTime = "1-4h"
	default:
		d.Handler = "worker"
		d.Mode = "solo"
		d.Oversight = "none"
		d.Reason = "low composite score, routine task"
		d.EstimatedTime = "<1h"
	}

	d.Confidence = confidenceFor(scores.Total)
	return d
}

func confidenceFor(total float64) float64 {
	switch {
	case total >= 7.5 || total < 5.0:
		return 0.9
	default:
		return 0.7
	}
}
