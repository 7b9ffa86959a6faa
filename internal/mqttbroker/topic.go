package mqttbroker

import (
	"fmt"
	"strings"
)

// ValidateFilter checks a subscription filter against the MQTT 3.1.1 wildcard rules.
func ValidateFilter(filter string) error {
	if filter == "" {
		return fmt.Errorf("empty topic filter")
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == "#":
			if i != len(levels)-1 {
				return fmt.Errorf("topic filter %q: # must be the last level", filter)
			}
		case level == "+":
		case strings.ContainsAny(level, "#+"):
			return fmt.Errorf("topic filter %q: wildcard must occupy a whole level", filter)
		}
	}
	return nil
}

// MatchTopic reports whether a concrete topic name matches a subscription filter.
func MatchTopic(filter, topic string) bool {
	if filter == topic {
		return true
	}
	// Topics starting with $ are not matched by leading wildcards.
	if strings.HasPrefix(topic, "$") && (strings.HasPrefix(filter, "+") || strings.HasPrefix(filter, "#")) {
		return false
	}

	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")
	for i, level := range fl {
		if level == "#" {
			return true
		}
		if i >= len(tl) {
			return false
		}
		if level != "+" && level != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}
