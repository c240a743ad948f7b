package react

import "github.com/clawos/brain/internal/memory/l3"

// L3Adapter adapts internal/memory/l3.Store to the Executor's
// ExperienceStore interface, so production wiring uses the real L3 tier
// while tests inject a fake.
type L3Adapter struct {
	Store *l3.Store
}

// NewL3Adapter wraps store for use as an Executor's ExperienceStore.
func NewL3Adapter(store *l3.Store) *L3Adapter {
	return &L3Adapter{Store: store}
}

func (a *L3Adapter) StoreExperience(agentID, content, expType string, metadata map[string]interface{}, score *float64) (string, error) {
	return a.Store.StoreExperience(agentID, content, expType, metadata, score)
}

func (a *L3Adapter) RetrieveRecent(agentID string, limit int, typeFilter string) []PastExperience {
	recent := a.Store.RetrieveRecent(agentID, limit, typeFilter)
	out := make([]PastExperience, 0, len(recent))
	for _, e := range recent {
		out = append(out, PastExperience{Content: e.Content, Type: e.Type})
	}
	return out
}
