package delivery

import (
	"sync"
	"time"

	"hookrelay/internal/config"
	"hookrelay/pkg/metrics"
	"hookrelay/pkg/models"
)

// SubscriptionRegistry tracks which agents can receive deliveries and how to
// reach them. Delivery workers consult it per attempt; admission never looks
// at it.
type SubscriptionRegistry struct {
	mu   sync.RWMutex
	subs map[string]models.Subscription
}

func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{subs: make(map[string]models.Subscription)}
}

// NewSubscriptionRegistryFromConfig seeds the registry with the statically
// configured agents.
func NewSubscriptionRegistryFromConfig(cfg config.DeliveryConfig) *SubscriptionRegistry {
	r := NewSubscriptionRegistry()
	for agentID, agent := range cfg.Agents {
		var filters []models.EventFilter
		for _, f := range agent.Filters {
			filters = append(filters, models.EventFilter{
				Source:    f.Source,
				EventType: f.EventType,
			})
		}
		r.Register(models.Subscription{
			AgentID:   agentID,
			Endpoint:  agent.Endpoint,
			Secret:    agent.Secret,
			Filters:   filters,
			CreatedAt: time.Now(),
		})
	}
	return r
}

func (r *SubscriptionRegistry) Register(sub models.Subscription) {
	r.mu.Lock()
	r.subs[sub.AgentID] = sub
	count := len(r.subs)
	r.mu.Unlock()
	metrics.SetSubscriberCount(count)
}

func (r *SubscriptionRegistry) Unregister(agentID string) {
	r.mu.Lock()
	delete(r.subs, agentID)
	count := len(r.subs)
	r.mu.Unlock()
	metrics.SetSubscriberCount(count)
}

func (r *SubscriptionRegistry) Get(agentID string) (models.Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[agentID]
	return sub, ok
}

func (r *SubscriptionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
