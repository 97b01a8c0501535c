package topic

import "strings"

// AgentTopicKey is the tree entry holding the agent-wide topic itself.
const AgentTopicKey = "agenttopic"

// Join joins topic parts with a single separator. Empty parts are
// skipped and a part starting with "/" restarts the path.
func Join(parts ...string) string {
	var path string
	for _, p := range parts {
		switch {
		case p == "":
		case strings.HasPrefix(p, Separator) || path == "":
			path = p
		case strings.HasSuffix(path, Separator):
			path += p
		default:
			path += Separator + p
		}
	}
	return path
}

// FormatTree prefixes every template of topics and binds the static
// fields once, leaving per-message fields for runtime.
func FormatTree(topics map[string]string, prefix string, static Fields) (map[string]string, error) {
	out := make(map[string]string, len(topics))
	for name, tmpl := range topics {
		formatted, err := LazyFormat(Join(prefix, tmpl), static)
		if err != nil {
			return nil, err
		}
		out[name] = formatted
	}
	return out, nil
}

// GenerateTree places every template under agentTopic, adds the
// AgentTopicKey entry and formats the result with FormatTree.
func GenerateTree(topics map[string]string, prefix, agentTopic string, static Fields) (map[string]string, error) {
	tree := make(map[string]string, len(topics)+1)
	for name, tmpl := range topics {
		tree[name] = Join(agentTopic, tmpl)
	}
	tree[AgentTopicKey] = agentTopic
	return FormatTree(tree, prefix, static)
}
