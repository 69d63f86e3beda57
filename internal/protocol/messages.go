// Package protocol holds the method names and parameter shapes of the chat
// service spoken over the comet envelope.
package protocol

// Requests handled by the gateway.
const (
	MethodPing    = "ping"
	MethodEcho    = "echo"
	MethodRename  = "rename"
	MethodPublish = "publish"
	MethodJoin    = "join"
)

// Notifications pushed by the gateway. Rename and publish notifications share
// the request method names.
const (
	NoticeHello   = "hello"
	NoticeGreet   = "greet"
	NoticeGoodbye = "goodbye"
)

// Error texts carried in reply error bodies.
const (
	ErrTextBadParams      = "bad params"
	ErrTextAlreadyExists  = "already exists"
	ErrTextNotImplemented = "not implemented"
)

// RenameParams is the rename request.
type RenameParams struct {
	Name string `json:"name"`
}

// PublishParams is the publish request. A text of the form "#join <room>"
// joins the numeric room instead of publishing.
type PublishParams struct {
	Text string `json:"text"`
}

// JoinParams is the join request.
type JoinParams struct {
	Room string `json:"room"`
}

// JoinResult is returned by join.
type JoinResult struct {
	Room    string   `json:"room"`
	Members []string `json:"members"`
}

// HelloNotice tells a new connection its display name.
type HelloNotice struct {
	Name string `json:"name"`
}

// PresenceNotice announces a connection arriving (greet) or leaving (goodbye).
type PresenceNotice struct {
	Name string `json:"name"`
	Time int64  `json:"time"`
}

// RenameNotice announces a name change.
type RenameNotice struct {
	Prev string `json:"prev"`
	Name string `json:"name"`
	Time int64  `json:"time"`
}

// PublishNotice carries a published chat line.
type PublishNotice struct {
	Author string `json:"author"`
	Text   string `json:"text"`
	Time   int64  `json:"time"`
	Room   string `json:"room,omitempty"`
}

// ErrorBody is the error value of a failed reply.
type ErrorBody struct {
	Error string `json:"error"`
}

// TokenResponse is served by the bootstrap endpoint.
type TokenResponse struct {
	Addresses []string `json:"addresses"`
	Token     string   `json:"token"`
	ExpireAt  int64    `json:"expire_at"`
}
