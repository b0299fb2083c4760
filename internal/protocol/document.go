// Package protocol defines the wire format shared by the relay server and
// its clients: a length-prefixed, obfuscated frame carrying a structured
// text document, plus the command and event vocabulary carried inside it.
package protocol

import "encoding/json"

// Command identifies a client → server request.
type Command string

const (
	CmdLogin        Command = "login"
	CmdRegister     Command = "register"
	CmdGetUsers     Command = "get_users"
	CmdGetHistory   Command = "get_history"
	CmdChat         Command = "chat"
	CmdFileRequest  Command = "file_request"
	CmdFileResponse Command = "file_response"
	CmdClose        Command = "close"
)

// EventType identifies a server → client event.
type EventType string

const (
	EventLoginResult    EventType = "login_result"
	EventRegisterResult EventType = "register_result"
	EventPeerJoined     EventType = "peer_joined"
	EventPeerLeft       EventType = "peer_left"
	EventGetUsers       EventType = "get_users"
	EventGetHistory     EventType = "get_history"
	EventPrivateMessage EventType = "private_message"
	EventBroadcast      EventType = "broadcast_message"
	EventFileRequest    EventType = "file_request"
	EventFileResponse   EventType = "file_response"
)

// Document is the structured text form carried inside every frame: a
// key/value map of scalars, lists, and nested maps. JSON is its UTF-8 text
// encoding, matching the original implementation's use of json.dumps/loads
// over the same XOR-obfuscated transport.
type Document map[string]any

// Str returns the string value of key, or "" if absent or not a string.
func (d Document) Str(key string) string {
	v, ok := d[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Command returns the "command" field of a client request document.
func (d Document) Command() Command {
	return Command(d.Str("command"))
}

// HistoryEntry is one stored (sender, timestamp, text) tuple, wire-encoded
// as an object with "sender", "timestamp" and "message" keys.
type HistoryEntry struct {
	Sender    string `json:"sender"`
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
}

// --- request builders -------------------------------------------------

// LoginRequest builds a login command document.
func LoginRequest(username, password string) Document {
	return Document{"command": string(CmdLogin), "username": username, "password": password}
}

// RegisterRequest builds a register command document.
func RegisterRequest(username, password string) Document {
	return Document{"command": string(CmdRegister), "username": username, "password": password}
}

// ChatRequest builds a chat command document; an empty peer means broadcast.
func ChatRequest(peer, message string) Document {
	return Document{"command": string(CmdChat), "peer": peer, "message": message}
}

// FileRequest builds a file_request command document.
func FileRequest(peer, filename, size, md5 string) Document {
	return Document{
		"command":  string(CmdFileRequest),
		"peer":     peer,
		"filename": filename,
		"size":     size,
		"md5":      md5,
	}
}

// FileResponseRequest builds a file_response command document.
func FileResponseRequest(peer, response string) Document {
	return Document{"command": string(CmdFileResponse), "peer": peer, "response": response}
}

// --- event builders -----------------------------------------------------

// LoginResult builds a login_result event document.
func LoginResult(username string, ok bool, reason string) Document {
	d := Document{"type": string(EventLoginResult), "username": username}
	if ok {
		d["response"] = "ok"
	} else {
		d["response"] = "fail"
		d["reason"] = reason
	}
	return d
}

// RegisterResult builds a register_result event document.
func RegisterResult(username string, ok bool, reason string) Document {
	d := Document{"type": string(EventRegisterResult), "username": username}
	if ok {
		d["response"] = "ok"
	} else {
		d["response"] = "fail"
		d["reason"] = reason
	}
	return d
}

// PeerEvent builds a peer_joined or peer_left event document.
func PeerEvent(event EventType, peer string) Document {
	return Document{"type": string(event), "peer": peer}
}

// GetUsersResult builds a get_users response document.
func GetUsersResult(users []string) Document {
	if users == nil {
		users = []string{}
	}
	return Document{"type": string(EventGetUsers), "data": users}
}

// GetHistoryResult builds a get_history response document.
func GetHistoryResult(peer string, entries []HistoryEntry) Document {
	if entries == nil {
		entries = []HistoryEntry{}
	}
	return Document{"type": string(EventGetHistory), "peer": peer, "data": entries}
}

// PrivateMessage builds a private_message event document.
func PrivateMessage(sender, message string) Document {
	return Document{"type": string(EventPrivateMessage), "peer": sender, "message": message}
}

// BroadcastMessage builds a broadcast_message event document.
func BroadcastMessage(sender, message string) Document {
	return Document{"type": string(EventBroadcast), "peer": sender, "message": message}
}

// FileRequestEvent builds a file_request event document forwarded to the
// target peer.
func FileRequestEvent(sender, filename, size, md5 string) Document {
	return Document{
		"type":     string(EventFileRequest),
		"peer":     sender,
		"filename": filename,
		"size":     size,
		"md5":      md5,
	}
}

// FileResponseEvent builds a file_response event document. ip is included
// only when response == "accept".
func FileResponseEvent(sender, response, ip string) Document {
	d := Document{"type": string(EventFileResponse), "peer": sender, "response": response}
	if response == "accept" && ip != "" {
		d["ip"] = ip
	}
	return d
}

// FileResponseError builds the error reply sent back to a file_request
// initiator whose peer is not online.
func FileResponseError(reason string) Document {
	return Document{"type": string(EventFileResponse), "response": "error", "reason": reason}
}

// marshal/unmarshal helpers used by the frame codec.

func marshalDocument(d Document) ([]byte, error) {
	return json.Marshal(d)
}

func unmarshalDocument(data []byte) (Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return d, nil
}
