package router

import (
	"strconv"
	"strings"

	"github.com/kompomir/servicebot/intake/engine"
)

// Profile is the sender information shown to the operator.
type Profile struct {
	FirstName string
	Username  string
}

// Sender renders the "Name (@username)" part of operator messages.
func (p Profile) Sender() string {
	name := strings.TrimSpace(p.FirstName)
	if name == "" {
		name = "Без имени"
	}
	handle := "без @"
	if u := strings.TrimPrefix(strings.TrimSpace(p.Username), "@"); u != "" {
		handle = "@" + u
	}
	return name + " (" + handle + ")"
}

// SubmissionMessage renders a confirmed submission for the operator.
func SubmissionMessage(sub engine.Submission, p Profile) string {
	var b strings.Builder
	b.WriteString(sub.Tag())
	b.WriteString(" Новая заявка\n")
	writeSender(&b, sub.UserID, p)
	b.WriteString("\n")
	b.WriteString(sub.Summary)
	return b.String()
}

// ChatMessage renders a free chat message for the operator.
func ChatMessage(userID int64, p Profile, text string) string {
	var b strings.Builder
	b.WriteString("#manager Сообщение менеджеру\n")
	writeSender(&b, userID, p)
	b.WriteString("\n")
	b.WriteString(text)
	return b.String()
}

func writeSender(b *strings.Builder, userID int64, p Profile) {
	b.WriteString("От: ")
	b.WriteString(p.Sender())
	b.WriteString("\nID: ")
	b.WriteString(strconv.FormatInt(userID, 10))
	b.WriteString("\n")
}
