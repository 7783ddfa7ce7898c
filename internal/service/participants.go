package service

import (
	"fmt"
	"net/url"

	"pairchat/internal/models"
)

// Registry is the static participant registry for a deployment. It is
// immutable after construction, so reads need no locking. The engine is
// participant-count-agnostic even though deployments carry exactly two.
type Registry struct {
	local        string
	participants map[string]models.Participant
	orderedNames []string
}

// NewRegistry builds a registry from configuration.
func NewRegistry(local string, participants []models.Participant) (*Registry, error) {
	r := &Registry{
		local:        local,
		participants: make(map[string]models.Participant),
		orderedNames: make([]string, 0, len(participants)),
	}

	for _, p := range participants {
		if p.Name == "" {
			return nil, fmt.Errorf("empty participant name in registry configuration")
		}
		if _, exists := r.participants[p.Name]; exists {
			return nil, fmt.Errorf("duplicate participant name: %s", p.Name)
		}
		r.participants[p.Name] = p
		r.orderedNames = append(r.orderedNames, p.Name)
	}

	if len(r.participants) == 0 {
		return nil, fmt.Errorf("no participants configured")
	}
	if local == "" {
		return nil, fmt.Errorf("local participant is required")
	}
	if _, exists := r.participants[local]; !exists {
		return nil, fmt.Errorf("local participant %q is not in the registry", local)
	}

	return r, nil
}

// Local returns the local participant's identity.
func (r *Registry) Local() string {
	return r.local
}

// IsLocal reports whether the identity is the local participant.
func (r *Registry) IsLocal(name string) bool {
	return name == r.local
}

// Get looks up a participant by identity.
func (r *Registry) Get(name string) (models.Participant, bool) {
	p, ok := r.participants[name]
	return p, ok
}

// Others returns all remote participants in configuration order.
func (r *Registry) Others() []models.Participant {
	others := make([]models.Participant, 0, len(r.orderedNames)-1)
	for _, name := range r.orderedNames {
		if name != r.local {
			others = append(others, r.participants[name])
		}
	}
	return others
}

// Count returns the number of registered participants.
func (r *Registry) Count() int {
	return len(r.participants)
}

// AvatarURL returns the participant's configured avatar, or a generated
// placeholder for identities without one.
func (r *Registry) AvatarURL(name string) string {
	if p, ok := r.participants[name]; ok && p.AvatarURL != "" {
		return p.AvatarURL
	}
	return "https://ui-avatars.com/api/?name=" + url.QueryEscape(name)
}
