// Package bot implements the chat commands: the main keyboard, subscription
// management and the on-demand view of what is free right now.
package bot
