package tgbot

import (
	tele "gopkg.in/telebot.v4"

	"github.com/kompomir/servicebot/core/telegram/keyboard"
	"github.com/kompomir/servicebot/intake/engine"
	"github.com/kompomir/servicebot/intake/flow"
)

// Callback keys of the conversation controls.
const (
	KeyManager  = "manager"
	KeyConfirm  = "confirm"
	KeyReject   = "reject"
	KeyCancel   = "cancel"
	KeyBack     = "back"
	KeyMain     = "main"
	KeyContacts = "contacts"
	KeySocial   = "social"
)

// Button labels.
const (
	LabelManager  = "💬 Связаться с менеджером"
	LabelContacts = "📍 Адрес и контакты"
	LabelSocial   = "🌐 Мы в соцсетях"
	LabelConfirm  = "✅ Подтвердить"
	LabelReject   = "❌ Отменить"
	LabelCancel   = "❌ Отмена"
	LabelBack     = "⬅️ Назад"
	LabelMain     = "⬅️ Назад в меню"
)

// Keyboards renders engine controls as inline keyboards. A fresh markup is
// built on every call since telebot rewrites button data while sending.
type Keyboards struct {
	menu  []keyboard.InlineBtn
	pages []keyboard.InlineBtn
}

// NewKeyboards lays out the main menu from the registered flows. Only the
// listed static pages get a menu button.
func NewKeyboards(flows *flow.Registry, pages ...string) *Keyboards {
	k := &Keyboards{}
	for _, p := range pages {
		switch p {
		case KeyContacts:
			k.pages = append(k.pages, keyboard.InlineBtn{Text: LabelContacts, Unique: KeyContacts})
		case KeySocial:
			k.pages = append(k.pages, keyboard.InlineBtn{Text: LabelSocial, Unique: KeySocial})
		}
	}
	if flows != nil {
		for _, e := range flows.Entries() {
			text := e.Variant.Button
			if text == "" {
				text = e.Variant.Title
			}
			k.menu = append(k.menu, keyboard.InlineBtn{Text: text, Unique: e.Variant.Key})
		}
	}
	return k
}

// Markup returns the keyboard for c, or nil for ControlsNone.
func (k *Keyboards) Markup(c engine.Controls) *tele.ReplyMarkup {
	switch c {
	case engine.ControlsCancelOnly:
		return keyboard.InlineButtons(keyboard.InlineBtn{Text: LabelCancel, Unique: KeyCancel})
	case engine.ControlsBackCancel:
		return keyboard.InlineButtonsRows([]keyboard.InlineBtn{
			{Text: LabelBack, Unique: KeyBack},
			{Text: LabelCancel, Unique: KeyCancel},
		})
	case engine.ControlsConfirmCancel:
		return keyboard.InlineButtonsRows([]keyboard.InlineBtn{
			{Text: LabelConfirm, Unique: KeyConfirm},
			{Text: LabelReject, Unique: KeyReject},
		})
	case engine.ControlsMenu:
		return k.mainMenu()
	case engine.ControlsBackToMenu:
		return keyboard.InlineButtons(keyboard.InlineBtn{Text: LabelMain, Unique: KeyMain})
	default:
		return nil
	}
}

func (k *Keyboards) mainMenu() *tele.ReplyMarkup {
	rows := make([][]keyboard.InlineBtn, 0, len(k.menu)+2)
	for _, btn := range k.menu {
		rows = append(rows, []keyboard.InlineBtn{btn})
	}
	rows = append(rows, []keyboard.InlineBtn{{Text: LabelManager, Unique: KeyManager}}, k.pages)
	return keyboard.InlineButtonsRows(rows...)
}
