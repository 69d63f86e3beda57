package gateway

import (
	"encoding/json"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/saker-ai/cometrpc/internal/protocol"
	"github.com/saker-ai/cometrpc/internal/transport/comet/codec"
)

type methodHandler func(c *conn, params json.RawMessage) (any, *protocol.ErrorBody)

func (h *Handler) methodTable() map[string]methodHandler {
	return map[string]methodHandler{
		protocol.MethodPing:    h.onPing,
		protocol.MethodEcho:    h.onEcho,
		protocol.MethodRename:  h.onRename,
		protocol.MethodPublish: h.onPublish,
		protocol.MethodJoin:    h.onJoin,
	}
}

func (h *Handler) dispatch(c *conn, msg codec.Message) (any, *protocol.ErrorBody) {
	if handler, ok := h.methods[msg.Method]; ok {
		return handler(c, msg.Params)
	}
	c.logger.Debug("gateway unknown method",
		zap.String("conn_id", c.id),
		zap.String("method", msg.Method),
	)
	return nil, failure(protocol.ErrTextNotImplemented)
}

func (h *Handler) onPing(_ *conn, _ json.RawMessage) (any, *protocol.ErrorBody) {
	return "pong", nil
}

func (h *Handler) onEcho(_ *conn, params json.RawMessage) (any, *protocol.ErrorBody) {
	if len(params) == 0 {
		return nil, nil
	}
	return params, nil
}

func (h *Handler) onRename(c *conn, params json.RawMessage) (any, *protocol.ErrorBody) {
	var p protocol.RenameParams
	if err := decodeParams(params, &p); err != nil || strings.TrimSpace(p.Name) == "" {
		return nil, failure(protocol.ErrTextBadParams)
	}

	h.mu.Lock()
	if _, taken := h.names[p.Name]; taken {
		h.mu.Unlock()
		return nil, failure(protocol.ErrTextAlreadyExists)
	}
	prev := c.name
	delete(h.names, prev)
	c.name = p.Name
	h.names[p.Name] = c
	h.mu.Unlock()

	h.broadcast(h.everyone(), protocol.MethodRename, protocol.RenameNotice{
		Prev: prev,
		Name: p.Name,
		Time: timestamp(),
	})
	return nil, nil
}

func (h *Handler) onPublish(c *conn, params json.RawMessage) (any, *protocol.ErrorBody) {
	var p protocol.PublishParams
	if err := decodeParams(params, &p); err != nil {
		return nil, failure(protocol.ErrTextBadParams)
	}
	if room := parseJoinText(p.Text); room != "" {
		return h.join(c, room)
	}

	notice := protocol.PublishNotice{
		Author: c.displayName(),
		Text:   p.Text,
		Time:   timestamp(),
	}
	targets := h.everyone()
	if room := h.rooms.RoomOf(c.id); room != "" {
		notice.Room = room
		targets = h.lookup(h.rooms.Members(room))
	}
	h.broadcast(targets, protocol.MethodPublish, notice)
	return nil, nil
}

func (h *Handler) onJoin(c *conn, params json.RawMessage) (any, *protocol.ErrorBody) {
	var p protocol.JoinParams
	if err := decodeParams(params, &p); err != nil || strings.TrimSpace(p.Room) == "" {
		return nil, failure(protocol.ErrTextBadParams)
	}
	return h.join(c, strings.TrimSpace(p.Room))
}

func (h *Handler) join(c *conn, room string) (any, *protocol.ErrorBody) {
	prev, members, ok := h.rooms.Join(c.id, room)
	if !ok {
		return nil, failure(protocol.ErrTextBadParams)
	}
	c.logger.Debug("gateway room joined",
		zap.String("conn_id", c.id),
		zap.String("room", room),
		zap.String("prev", prev),
	)
	return protocol.JoinResult{Room: room, Members: h.memberNames(members)}, nil
}

func (h *Handler) memberNames(ids []string) []string {
	names := make([]string, 0, len(ids))
	for _, c := range h.lookup(ids) {
		names = append(names, c.displayName())
	}
	return names
}

// parseJoinText recognizes "#join <number>".
func parseJoinText(text string) string {
	parts := strings.SplitN(strings.TrimSpace(text), " ", 2)
	if len(parts) != 2 || parts[0] != "#join" {
		return ""
	}
	room := strings.TrimSpace(parts[1])
	if _, err := strconv.Atoi(room); err != nil {
		return ""
	}
	return room
}

func decodeParams(params json.RawMessage, v any) error {
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	return json.Unmarshal(params, v)
}

func failure(text string) *protocol.ErrorBody {
	return &protocol.ErrorBody{Error: text}
}
