package router

import (
	"strings"

	kit "assetsy/internal/transport"
)

// commandName lowercases s and checks it against Telegram's command
// alphabet [a-z0-9_]{1,32}.
func commandName(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(s, "/")))
	if s == "" || len(s) > 32 {
		return "", false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return "", false
		}
	}
	return s, true
}

func menuCommands(cmds []Command) []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		if c.Hidden {
			continue
		}
		d := strings.TrimSpace(c.Description)
		if d == "" {
			d = c.Name
		}
		out = append(out, kit.BotCommand{Command: c.Name, Description: d})
	}
	return out
}
