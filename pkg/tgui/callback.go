package tgui

import "strings"

// Data joins callback data as "prefix:action" or "prefix:action:payload".
func Data(prefix, action, payload string) string {
	s := strings.TrimSpace(prefix) + ":" + strings.TrimSpace(action)
	if payload != "" {
		s += ":" + payload
	}
	return s
}

// ParseData is the inverse of Data. Colons inside the payload are kept.
func ParseData(data string) (prefix, action, payload string, ok bool) {
	prefix, rest, found := strings.Cut(strings.TrimSpace(data), ":")
	if !found || prefix == "" {
		return "", "", "", false
	}
	action, payload, _ = strings.Cut(rest, ":")
	if action == "" {
		return "", "", "", false
	}
	return prefix, action, payload, true
}
