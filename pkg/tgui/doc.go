// Package tgui holds the Telegram presentation helpers shared by the bot
// commands, the asset renderers and failure alerts: inline keyboards,
// "prefix:action:payload" callback data, and escaped HTML fragments.
package tgui
