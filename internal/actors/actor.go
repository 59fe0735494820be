// Package actors limits how many replies stream concurrently from each model provider.
// Every provider with a max_concurrent setting gets that many slots (actors); a stream
// holds one for its whole duration.
package actors

// ActorStatus represents the state of an actor slot.
type ActorStatus string

const (
	ActorIdle ActorStatus = "idle"
	ActorBusy ActorStatus = "busy"
)

// Actor represents a single capacity slot bound to a provider.
type Actor struct {
	ID           string      `json:"id"`
	ProviderName string      `json:"provider_name"`
	Status       ActorStatus `json:"status"`
	Owner        string      `json:"owner,omitempty"` // conversation id while busy

	slots *slotSet
}
