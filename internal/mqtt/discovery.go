package mqtt

import (
	"encoding/json"
	"strings"

	"github.com/srg/ydbolt/internal/lock"
)

// Payloads exchanged with Home Assistant
const (
	PayloadLock      = "LOCK"
	PayloadUnlock    = "UNLOCK"
	StateLocked      = "LOCKED"
	StateUnlocked    = "UNLOCKED"
	StateLocking     = "LOCKING"
	StateUnlocking   = "UNLOCKING"
	StateJammed      = "JAMMED"
	AvailabilityUp   = "online"
	AvailabilityDown = "offline"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/lock/ydbolt_yd_lo1_.../config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
}

// haLock is the discovery payload of a lock entity.
type haLock struct {
	Name                string   `json:"name"`
	UniqueID            string   `json:"unique_id"`
	StateTopic          string   `json:"state_topic"`
	CommandTopic        string   `json:"command_topic"`
	AvailabilityTopic   string   `json:"availability_topic"`
	JSONAttributesTopic string   `json:"json_attributes_topic"`
	PayloadLock         string   `json:"payload_lock"`
	PayloadUnlock       string   `json:"payload_unlock"`
	StateLocked         string   `json:"state_locked"`
	StateUnlocked       string   `json:"state_unlocked"`
	StateLocking        string   `json:"state_locking"`
	StateUnlocking      string   `json:"state_unlocking"`
	StateJammed         string   `json:"state_jammed"`
	Optimistic          bool     `json:"optimistic"`
	Device              haDevice `json:"device"`
}

// attributes is published on the json_attributes_topic.
type attributes struct {
	State        byte   `json:"state"`
	LastOperated string `json:"last_operated"`
	MAC          string `json:"mac,omitempty"`
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, strings.ToLower(s))
}

// DiscoveryID is the HA unique id of a lock.
func DiscoveryID(id lock.Identity) string {
	return "ydbolt_" + sanitize(id.UUID)
}

// TopicName is the topic segment of a lock.
func TopicName(id lock.Identity) string {
	return sanitize(id.DisplayName())
}

func stateTopic(prefix string, id lock.Identity) string {
	return prefix + "/" + TopicName(id) + "/state"
}

func attributesTopic(prefix string, id lock.Identity) string {
	return prefix + "/" + TopicName(id) + "/attributes"
}

func commandTopic(prefix string, id lock.Identity) string {
	return prefix + "/" + TopicName(id) + "/set"
}

func availabilityTopic(prefix string) string {
	return prefix + "/bridge/state"
}

func buildDiscovery(id lock.Identity, topicPrefix, discoveryPrefix string) discoveryMsg {
	uid := DiscoveryID(id)
	payload := haLock{
		Name:                id.DisplayName(),
		UniqueID:            uid,
		StateTopic:          stateTopic(topicPrefix, id),
		CommandTopic:        commandTopic(topicPrefix, id),
		AvailabilityTopic:   availabilityTopic(topicPrefix),
		JSONAttributesTopic: attributesTopic(topicPrefix, id),
		PayloadLock:         PayloadLock,
		PayloadUnlock:       PayloadUnlock,
		StateLocked:         StateLocked,
		StateUnlocked:       StateUnlocked,
		StateLocking:        StateLocking,
		StateUnlocking:      StateUnlocking,
		StateJammed:         StateJammed,
		Device: haDevice{
			Identifiers:  []string{uid},
			Manufacturer: "Wyze",
			Model:        id.Model,
			Name:         id.DisplayName(),
		},
	}
	return discoveryMsg{
		Topic:   discoveryPrefix + "/lock/" + uid + "/config",
		Payload: mustJSON(payload),
	}
}

func buildRemoveDiscovery(id lock.Identity, discoveryPrefix string) discoveryMsg {
	return discoveryMsg{Topic: discoveryPrefix + "/lock/" + DiscoveryID(id) + "/config"}
}

func statePayload(st lock.State) string {
	if st.IsLocked() {
		return StateLocked
	}
	if st.Value == lock.StateUnlocked {
		return StateUnlocked
	}
	return StateJammed
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
