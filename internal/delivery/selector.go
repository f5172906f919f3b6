package delivery

import (
	"slices"

	"github.com/kursadbilgin/hookline/internal/domain"
)

// SelectEndpoints returns the endpoints that should receive msg, in input
// order. Disabled and deleted endpoints never match. A manual trigger skips
// the event type and channel filters.
func SelectEndpoints(msg *domain.Message, endpoints []domain.Endpoint, trigger domain.TriggerType) []domain.Endpoint {
	selected := make([]domain.Endpoint, 0, len(endpoints))
	for _, endpoint := range endpoints {
		if !endpoint.Live() {
			continue
		}
		if trigger == domain.TriggerManual || (matchesEventType(msg, &endpoint) && matchesChannels(msg, &endpoint)) {
			selected = append(selected, endpoint)
		}
	}
	return selected
}

func matchesEventType(msg *domain.Message, endpoint *domain.Endpoint) bool {
	if endpoint.EventTypes == nil {
		return true
	}
	return slices.Contains(endpoint.EventTypes, msg.EventType)
}

// matchesChannels: an endpoint with a channel filter only receives messages
// sharing at least one channel. Channel-less messages never match it.
func matchesChannels(msg *domain.Message, endpoint *domain.Endpoint) bool {
	if endpoint.Channels == nil {
		return true
	}
	for _, channel := range msg.Channels {
		if slices.Contains(endpoint.Channels, channel) {
			return true
		}
	}
	return false
}
