package tgui

import tele "gopkg.in/telebot.v4"

// Keyboard accumulates rows of an inline keyboard.
type Keyboard struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Keyboard { return &Keyboard{rm: &tele.ReplyMarkup{}} }

// Row adds one row holding btns.
func (k *Keyboard) Row(btns ...tele.Btn) *Keyboard {
	k.rows = append(k.rows, k.rm.Row(btns...))
	k.rm.Inline(k.rows...)
	return k
}

func (k *Keyboard) Markup() *tele.ReplyMarkup { return k.rm }

// Btn is a callback button. data is sent verbatim; build it with Data.
func Btn(text, data string) tele.Btn { return tele.Btn{Text: text, Data: data} }
