package agent

import (
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/c360/testbedbus/config"
	"github.com/c360/testbedbus/errors"
	"github.com/c360/testbedbus/topic"
)

// SiteField is the template field bound once from TopicsConfig.Site.
const SiteField = "site"

// Hostname returns the HOSTNAME environment variable, falling back to the
// system host name.
func Hostname() string {
	if h := os.Getenv("HOSTNAME"); h != "" {
		return h
	}
	h, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return h
}

// ClientID returns a broker-unique client id, name-<uuid>. An empty name
// uses the host name.
func ClientID(name string) string {
	if name == "" {
		name = Hostname()
	}
	return fmt.Sprintf("%s-%s", name, uuid.New())
}

// Topics builds the topic tree of an agent: every template of defs is
// placed under the agent topic, cfg.AgentTopic overriding agentTopic, then
// prefixed with cfg.Prefix and formatted with the static site. Per-message
// fields stay in the templates. The tree holds the agent topic itself
// under topic.AgentTopicKey.
func Topics(defs map[string]string, agentTopic string, cfg config.TopicsConfig) (map[string]string, error) {
	if cfg.AgentTopic != "" {
		agentTopic = cfg.AgentTopic
	}
	if agentTopic == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("empty agent topic: %w", errors.ErrMissingConfig),
			"agent", "Topics", "resolve agent topic")
	}

	var static topic.Fields
	if cfg.Site != "" {
		static = topic.Fields{SiteField: cfg.Site}
	}

	tree, err := topic.GenerateTree(defs, cfg.Prefix, agentTopic, static)
	if err != nil {
		return nil, errors.WrapInvalid(err, "agent", "Topics", "format topic tree")
	}
	return tree, nil
}
