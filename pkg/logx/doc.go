// Package logx is assetsy's structured logging on top of zerolog.
//
// Components take a Logger value tagged with a "comp" field. A Service owns
// the sinks (console, JSON file, and a rate-limited Telegram log chat for
// warnings and errors) and can swap them at runtime.
package logx
