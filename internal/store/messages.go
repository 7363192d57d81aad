package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const messageColumns = `email_id, created_at, from_addr, to_addrs, cc_addrs, bcc_addrs, reply_to,
        subject, html, text, message_id, headers, attachments, is_read, is_replied,
        received_at, reply_history`

// UpsertMessage stores msg keyed by its email id. Content fields are replaced
// on conflict; read/replied flags, reply history and received_at are only set
// when the row is first inserted, so a re-delivered webhook cannot reset a
// thread that was already read or answered.
func (s *Store) UpsertMessage(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.EmailID) == "" {
		return errors.New("upsert message: email id is required")
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now()
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	msg.ReceivedAt = msg.ReceivedAt.UTC()
	msg.IsRead = false
	msg.IsReplied = false
	msg.ReplyHistory = ReplyHistory{}

	_, err := s.db.NamedExecContext(ctx, `INSERT INTO messages (`+messageColumns+`)
        VALUES (:email_id, :created_at, :from_addr, :to_addrs, :cc_addrs, :bcc_addrs, :reply_to,
            :subject, :html, :text, :message_id, :headers, :attachments, :is_read, :is_replied,
            :received_at, :reply_history)
        ON CONFLICT(email_id) DO UPDATE SET
            created_at = excluded.created_at,
            from_addr = excluded.from_addr,
            to_addrs = excluded.to_addrs,
            cc_addrs = excluded.cc_addrs,
            bcc_addrs = excluded.bcc_addrs,
            reply_to = excluded.reply_to,
            subject = excluded.subject,
            html = excluded.html,
            text = excluded.text,
            message_id = excluded.message_id,
            headers = excluded.headers,
            attachments = excluded.attachments;`, msg)
	if err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, emailID string) (Message, error) {
	var msg Message
	err := s.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE email_id = ?;`, emailID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Message{}, ErrNotFound
		}
		return Message{}, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

// ListMessages returns one page of messages matching filter together with
// the total number of matches.
func (s *Store) ListMessages(ctx context.Context, filter MessageFilter, sort string, offset, limit int32) ([]Message, int32, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}

	whereQuery, args := filter.where()

	var total int64
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(1) FROM messages`+whereQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}
	if total > int64(^uint32(0)>>1) {
		total = int64(^uint32(0) >> 1)
	}

	orderBy := " ORDER BY created_at DESC, email_id DESC"
	switch sort {
	case "oldest", "asc":
		orderBy = " ORDER BY created_at ASC, email_id ASC"
	}

	listArgs := append([]any{}, args...)
	listArgs = append(listArgs, limit, offset)
	messages := []Message{}
	err := s.db.SelectContext(ctx, &messages,
		`SELECT `+messageColumns+` FROM messages`+whereQuery+orderBy+` LIMIT ? OFFSET ?`, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	return messages, int32(total), nil
}

func (f MessageFilter) where() (string, []any) {
	var conditions []string
	var args []any

	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		conditions = append(conditions, `(instr(casefold(from_addr), ?) > 0
            OR instr(casefold(subject), ?) > 0
            OR EXISTS (SELECT 1 FROM json_each(messages.to_addrs) WHERE instr(casefold(json_each.value), ?) > 0))`)
		args = append(args, q, q, q)
	}
	if from := strings.TrimSpace(f.From); from != "" {
		conditions = append(conditions, "instr(from_addr, ?) > 0")
		args = append(args, from)
	}
	if subject := strings.TrimSpace(f.Subject); subject != "" {
		conditions = append(conditions, "instr(subject, ?) > 0")
		args = append(args, subject)
	}
	if f.IsRead != nil {
		conditions = append(conditions, "is_read = ?")
		args = append(args, *f.IsRead)
	}
	if f.HasAttachments != nil {
		if *f.HasAttachments {
			conditions = append(conditions, "json_array_length(attachments) > 0")
		} else {
			conditions = append(conditions, "json_array_length(attachments) = 0")
		}
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func (s *Store) MarkRead(ctx context.Context, emailID string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE messages SET is_read = 1 WHERE email_id = ?;`, emailID)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return requireRow(result, "mark read")
}

// AppendReply marks the thread replied and appends entry to its history in a
// single statement.
func (s *Store) AppendReply(ctx context.Context, emailID string, entry ReplyEntry) error {
	entry.RepliedAt = entry.RepliedAt.UTC()
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal reply entry: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `UPDATE messages
        SET is_replied = 1, reply_history = json_insert(reply_history, '$[#]', json(?))
        WHERE email_id = ?;`, string(data), emailID)
	if err != nil {
		return fmt.Errorf("append reply: %w", err)
	}
	return requireRow(result, "append reply")
}

func (s *Store) DeleteMessage(ctx context.Context, emailID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE email_id = ?;`, emailID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return requireRow(result, "delete message")
}
