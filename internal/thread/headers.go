// Package thread builds replies to stored messages with the headers mail
// clients use to group a conversation.
package thread

import (
	"strings"

	"github.com/emersion/go-message/mail"

	"github.io/infrasutra/mailroom/internal/store"
)

const replyPrefix = "Re: "

// ReplyAddress extracts the bare address to answer from a From value such as
// "Name <addr@host>". Values that cannot be parsed are returned trimmed.
func ReplyAddress(from string) string {
	from = strings.TrimSpace(from)
	if addr, err := mail.ParseAddress(from); err == nil && addr.Address != "" {
		return addr.Address
	}
	if start := strings.LastIndex(from, "<"); start >= 0 {
		if end := strings.Index(from[start:], ">"); end > 0 {
			if addr := strings.TrimSpace(from[start+1 : start+end]); addr != "" {
				return addr
			}
		}
	}
	return from
}

// ReplySubject prefixes subject with "Re: " unless it already starts with it.
func ReplySubject(subject string) string {
	if strings.HasPrefix(subject, replyPrefix) {
		return subject
	}
	return replyPrefix + subject
}

// References returns the ordered, de-duplicated message ids a reply to msg
// must reference: the inbound References chain, every earlier reply and
// finally msg itself. Ids are returned without angle brackets.
func References(msg store.Message) []string {
	var ids []string
	seen := map[string]struct{}{}
	add := func(id string) {
		id = bareID(id)
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	for _, id := range parseMsgIDs(msg.Headers.Get("References")) {
		add(id)
	}
	for _, entry := range msg.ReplyHistory {
		add(entry.MessageID)
	}
	add(msg.MessageID)
	return ids
}

// FormatMsgIDs renders ids as a space separated list of <id> tokens.
func FormatMsgIDs(ids []string) string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, "<"+bareID(id)+">")
	}
	return strings.Join(out, " ")
}

func parseMsgIDs(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var h mail.Header
	h.Set("References", raw)
	if ids, err := h.MsgIDList("References"); err == nil && len(ids) > 0 {
		return ids
	}
	return strings.Fields(raw)
}

func bareID(id string) string {
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(id), "<"), ">"))
}
