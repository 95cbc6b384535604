package bot

import (
	"fmt"

	tele "gopkg.in/telebot.v4"

	"assetsy/internal/core"
	"assetsy/pkg/tgui"
)

const (
	cbCommand = "cmd"
	cbSub     = "sub"
	actAdd    = "add"
	actRemove = "remove"
)

// MainKeyboard has one button per command except start.
func MainKeyboard() *tele.ReplyMarkup {
	kb := tgui.NewInline()
	for _, c := range commands {
		if c.name == cmdStart {
			continue
		}
		kb.Row(tgui.Btn(c.description, tgui.Data(cbCommand, c.name, "")))
	}
	return kb.Markup()
}

func subscriptionsKeyboard(current, available []core.Source) *tele.ReplyMarkup {
	kb := tgui.NewInline()
	for _, s := range available {
		kb.Row(tgui.Btn(fmt.Sprintf("Subscribe to [%s]", s), tgui.Data(cbSub, actAdd, string(s))))
	}
	for _, s := range current {
		kb.Row(tgui.Btn(fmt.Sprintf("Unsubscribe from [%s]", s), tgui.Data(cbSub, actRemove, string(s))))
	}
	kb.Row(tgui.Btn("Back", tgui.Data(cbCommand, cmdHelp, "")))
	return kb.Markup()
}
