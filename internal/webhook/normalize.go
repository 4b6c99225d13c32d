package webhook

import (
	"time"

	"github.com/google/uuid"

	"github.com/firesend/engine/internal/store"
)

// Normalize converts a messaging event into a pending inbound message
// row. Returns nil for events the pipeline ignores: echoes of our own
// outbound sends, read receipts, and empty events.
func Normalize(ev *MessagingEvent) *store.Message {
	if ev.Message == nil || ev.Message.IsEcho {
		return nil
	}

	msg := &store.Message{
		ID:             uuid.Must(uuid.NewV7()),
		ConversationID: store.ConversationID(ev.Recipient.ID, ev.Sender.ID),
		Type:           store.TypeUser,
		Subtype:        store.SubtypeText,
		Status:         store.StatusPending,
		SenderID:       ev.Sender.ID,
		RecipientID:    ev.Recipient.ID,
		Source:         store.SourceAuto,
		PlatformMID:    ev.Message.MID,
		Text:           ev.Message.Text,
		Timestamp:      time.UnixMilli(ev.Timestamp).UTC(),
	}

	switch {
	case ev.Message.ReplyTo != nil && ev.Message.ReplyTo.Story != nil:
		msg.Subtype = store.SubtypeStoryReply
		msg.StoryID = ev.Message.ReplyTo.Story.ID
		msg.AttachmentURL = ev.Message.ReplyTo.Story.URL
		if msg.Text == "" {
			msg.Text = "[Story reply]"
		}
	case len(ev.Message.Attachments) > 0:
		att := ev.Message.Attachments[0]
		msg.AttachmentURL = att.Payload.URL
		if att.Type == "story_mention" {
			msg.Subtype = store.SubtypeStoryMention
			msg.Text = "[Story mention]"
		} else {
			msg.Subtype = store.SubtypeAttachment
			if msg.Text == "" {
				msg.Text = "[" + att.Type + " attachment]"
			}
		}
	case msg.Text == "":
		return nil
	}

	return msg
}
