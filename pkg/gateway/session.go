package gateway

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
)

const sessionKeyVersion = "s1"

// SessionIdentity names one live conversation: an actor talking to an
// agent in a given chat of a given channel.
type SessionIdentity struct {
	AgentID        string
	Channel        string
	ConversationID string
	ActorID        string
}

func (id SessionIdentity) Validate() error {
	if strings.TrimSpace(id.AgentID) == "" {
		return fmt.Errorf("missing agent id")
	}
	if strings.TrimSpace(id.Channel) == "" {
		return fmt.Errorf("missing channel")
	}
	if strings.TrimSpace(id.ConversationID) == "" {
		return fmt.Errorf("missing conversation id")
	}
	if strings.TrimSpace(id.ActorID) == "" {
		return fmt.Errorf("missing actor id")
	}
	return nil
}

func (id SessionIdentity) Canonical() string {
	return strings.TrimSpace(id.AgentID) + "|" +
		strings.ToLower(strings.TrimSpace(id.Channel)) + "|" +
		strings.TrimSpace(id.ConversationID) + "|" +
		strings.TrimSpace(id.ActorID)
}

func (id SessionIdentity) SessionKey() string {
	sum := sha1.Sum([]byte(id.Canonical()))
	return sessionKeyVersion + ":" + hex.EncodeToString(sum[:16])
}

func isCanonicalSessionKey(sessionKey string) bool {
	return strings.HasPrefix(strings.TrimSpace(sessionKey), sessionKeyVersion+":")
}

// resolveSessionKey keeps any key the caller supplied and otherwise derives
// a canonical one from the identity.
func resolveSessionKey(explicitKey, agentID, channel, conversationID, actorID string) (string, error) {
	if explicitKey = strings.TrimSpace(explicitKey); explicitKey != "" {
		return explicitKey, nil
	}
	identity := SessionIdentity{
		AgentID:        agentID,
		Channel:        channel,
		ConversationID: conversationID,
		ActorID:        actorID,
	}
	if err := identity.Validate(); err != nil {
		return "", fmt.Errorf("resolve session identity: %w", err)
	}
	return identity.SessionKey(), nil
}
