package peers

import (
	tele "gopkg.in/telebot.v4"
)

// MiddlewareFunc executes at every bot update after it is observed by the plugin.
// Update is dropped if it returns false.
type MiddlewareFunc func(upd *tele.Update) bool

// senderOf returns the user who caused the update, it is nil for anonymous updates.
func senderOf(upd *tele.Update) *tele.User {
	switch {
	case upd.Message != nil:
		return upd.Message.Sender
	case upd.EditedMessage != nil:
		return upd.EditedMessage.Sender
	case upd.Callback != nil:
		return upd.Callback.Sender
	case upd.Query != nil:
		return upd.Query.Sender
	case upd.MyChatMember != nil:
		return upd.MyChatMember.Sender
	case upd.ChatMember != nil:
		return upd.ChatMember.Sender
	case upd.ChatJoinRequest != nil:
		return upd.ChatJoinRequest.Sender
	default:
		return nil
	}
}
