// Package federation implements the Federation Router: extracting required
// capabilities from task text, scanning Agent Cards for eligible candidates,
// ranking by utility score, and reporting routing confidence. Grounded
// directly on original_source/.../gm/federation_router.py's
// route_task/_find_agents/_calculate_confidence, with the capability
// keyword-bucket idiom generalized from internal/router/router.go's
// ClassifyQuery.
package federation

import (
	"sort"
	"strings"

	"github.com/clawos/brain/internal/agentcard"
)

// capabilityKeywords maps a lowercase keyword found in task text to the
// capabilities it implies. A task may match several keywords; capabilities
// are deduplicated.
var capabilityKeywords = map[string][]string{
	"write":         {"writing", "content-creation"},
	"readme":        {"writing", "documentation"},
	"document":      {"documentation"},
	"api":           {"backend", "api-design"},
	"database":      {"backend", "database"},
	"test":          {"testing"},
	"deploy":        {"devops", "deployment"},
	"infrastructure": {"devops", "infrastructure"},
	"design":        {"design", "ui-ux"},
	"security":      {"security"},
	"review":        {"code-review"},
	"refactor":      {"backend", "refactoring"},
	"marketing":     {"marketing"},
	"legal":         {"legal"},
}

// ExtractCapabilities derives the set of required capabilities from free
// task text via the fixed keyword map.
func ExtractCapabilities(taskText string) []string {
	lower := strings.ToLower(taskText)
	seen := map[string]bool{}
	var out []string
	for kw, caps := range capabilityKeywords {
		if !strings.Contains(lower, kw) {
			continue
		}
		for _, c := range caps {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	sort.Strings(out)
	return out
}

// NodeLiveness reports whether a node is currently online. This package
// ships no status-file implementation; NewRouter falls back to treating
// every node as online when none is supplied.
type NodeLiveness interface {
	IsOnline(node string) bool
}

// alwaysOnline is used when no NodeLiveness is supplied.
type alwaysOnline struct{}

func (alwaysOnline) IsOnline(string) bool { return true }

// Candidate is a ranked routing candidate.
type Candidate struct {
	AgentID        string  `json:"agentId"`
	Node           string  `json:"node"`
	Tier           string  `json:"tier"`
	UtilityScore   float64 `json:"utilityScore"`
	TasksCompleted int     `json:"tasksCompleted"`
}

// RouteResult is the successful outcome of RouteTask.
type RouteResult struct {
	AgentID      string      `json:"agentId"`
	Node         string      `json:"node"`
	Tier         string      `json:"tier"`
	Confidence   float64     `json:"confidence"`
	UtilityScore float64     `json:"utilityScore"`
	Alternatives []Candidate `json:"alternatives"`
}

// RouteError is returned when no candidate is available.
type RouteError struct {
	Error                 string   `json:"error"`
	CapabilitiesRequested []string `json:"capabilitiesRequested"`
	CandidatesFound       int      `json:"candidatesFound"`
	AvailableCount        int      `json:"availableCount"`
}

// Router scans a live Agent Card registry to route tasks.
type Router struct {
	registry *agentcard.Registry
	liveness NodeLiveness
}

// NewRouter constructs a Router. A nil liveness checker treats every node as
// online.
func NewRouter(registry *agentcard.Registry, liveness NodeLiveness) *Router {
	if liveness == nil {
		liveness = alwaysOnline{}
	}
	return &Router{registry: registry, liveness: liveness}
}

// RouteTask extracts capabilities from taskText, scans Agent Cards for
// matches, filters by node liveness, and ranks the survivors by utility
// score.
func (r *Router) RouteTask(taskText string) (*RouteResult, *RouteError) {
	capabilities := ExtractCapabilities(taskText)

	cards := r.registry.List()
	var matched []*agentcard.Card
	for _, c := range cards {
		if cardHasAnyCapability(c, capabilities) {
			matched = append(matched, c)
		}
	}
	candidatesFound := len(matched)

	var available []*agentcard.Card
	for _, c := range matched {
		if r.liveness.IsOnline(c.Identity.Node) {
			available = append(available, c)
		}
	}

	if len(available) == 0 {
		return nil, &RouteError{
			Error:                 "No available agent",
			CapabilitiesRequested: capabilities,
			CandidatesFound:       candidatesFound,
			AvailableCount:        0,
		}
	}

	sort.Slice(available, func(i, j int) bool {
		a, b := available[i], available[j]
		if a.Performance.UtilityScore != b.Performance.UtilityScore {
			return a.Performance.UtilityScore > b.Performance.UtilityScore
		}
		if a.Performance.TasksCompleted != b.Performance.TasksCompleted {
			return a.Performance.TasksCompleted > b.Performance.TasksCompleted
		}
		return a.HumanReadableID < b.HumanReadableID
	})

	best := available[0]
	altLimit := 3
	if len(available)-1 < altLimit {
		altLimit = len(available) - 1
	}
	alternatives := toCandidates(available[1 : 1+altLimit])

	confidence := 1.0
	if len(available) > 1 {
		confidence = confidenceFor(available[0].Performance.UtilityScore, available[1].Performance.UtilityScore)
	}

	return &RouteResult{
		AgentID:      best.HumanReadableID,
		Node:         best.Identity.Node,
		Tier:         string(best.Identity.Tier),
		Confidence:   confidence,
		UtilityScore: best.Performance.UtilityScore,
		Alternatives: alternatives,
	}, nil
}

func confidenceFor(best, second float64) float64 {
	c := 0.5 + (best-second)/2
	if c > 1.0 {
		c = 1.0
	}
	if c < 0.5 {
		c = 0.5
	}
	return c
}

func cardHasAnyCapability(c *agentcard.Card, capabilities []string) bool {
	if len(capabilities) == 0 {
		return false
	}
	for _, cap := range capabilities {
		if c.HasCapability(cap) {
			return true
		}
	}
	return false
}

func toCandidates(cards []*agentcard.Card) []Candidate {
	out := make([]Candidate, 0, len(cards))
	for _, c := range cards {
		out = append(out, Candidate{
			AgentID:        c.HumanReadableID,
			Node:           c.Identity.Node,
			Tier:           string(c.Identity.Tier),
			UtilityScore:   c.Performance.UtilityScore,
			TasksCompleted: c.Performance.TasksCompleted,
		})
	}
	return out
}
