package broker

import (
	"sort"
	"sync"
)

// Subscription an active consumer group subscription
type Subscription interface {
	// Close stop delivery and leave the consumer group
	Close()
}

// SubscriptionFactory open a new subscription
type SubscriptionFactory func() (Subscription, error)

// ConsumerGroupTable tracks the active subscription of each consumer group.
//
// At most one subscription exists per group ID.
type ConsumerGroupTable struct {
	lock   sync.Mutex
	groups map[string]Subscription
}

// NewConsumerGroupTable define a new ConsumerGroupTable
func NewConsumerGroupTable() *ConsumerGroupTable {
	return &ConsumerGroupTable{groups: make(map[string]Subscription)}
}

// Register open a subscription for the group if it has none.
//
// The lock is held while the factory runs, so concurrent registrations of one group
// produce one subscription. Returns whether a new subscription was created.
func (t *ConsumerGroupTable) Register(groupID string, factory SubscriptionFactory) (bool, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if _, ok := t.groups[groupID]; ok {
		return false, nil
	}
	sub, err := factory()
	if err != nil {
		return false, err
	}
	t.groups[groupID] = sub
	return true, nil
}

// Groups list the groups with an active subscription
func (t *ConsumerGroupTable) Groups() []string {
	t.lock.Lock()
	defer t.lock.Unlock()
	result := make([]string, 0, len(t.groups))
	for groupID := range t.groups {
		result = append(result, groupID)
	}
	sort.Strings(result)
	return result
}

// CloseAll close every subscription and empty the table
func (t *ConsumerGroupTable) CloseAll() {
	t.lock.Lock()
	groups := t.groups
	t.groups = make(map[string]Subscription)
	t.lock.Unlock()
	for _, sub := range groups {
		sub.Close()
	}
}
