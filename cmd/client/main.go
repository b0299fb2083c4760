// Reference TUI client for the relay chat server.
//
// Screens
// -------
//   stateLogin – centered login / register form
//   stateChat  – full-screen chat with scrollable message viewport; an
//                incoming file offer is shown as an inline prompt rather
//                than a separate screen
//
// Concurrency
// -----------
//   One goroutine reads frames off the TCP connection and forwards decoded
//   documents to the frames channel; a second delivers the outcome of any
//   in-flight file transfer over fileDone. The Bubbletea event loop consumes
//   one value at a time via waitForFrame/waitForFileDone, re-queuing the
//   next wait immediately after each is processed.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"relaychat/internal/protocol"
)

// ---------------------------------------------------------------------------
// Styles
// ---------------------------------------------------------------------------

var (
	purple = lipgloss.Color("99")
	cyan   = lipgloss.Color("86")
	green  = lipgloss.Color("82")
	red    = lipgloss.Color("196")
	yellow = lipgloss.Color("220")
	gray   = lipgloss.Color("241")
	white  = lipgloss.Color("255")
	orange = lipgloss.Color("214")
	blue   = lipgloss.Color("75")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Background(purple).
			Foreground(white).
			Padding(0, 1)

	footerBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.NormalBorder(), true, false, false, false).
				BorderForeground(gray).
				Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(purple).
			Padding(0, 2)

	labelStyle = lipgloss.NewStyle().
			Foreground(gray).
			Width(10)

	focusedLabelStyle = lipgloss.NewStyle().
				Foreground(cyan).
				Width(10)

	hintStyle = lipgloss.NewStyle().
			Foreground(gray).
			Italic(true)

	successStyle = lipgloss.NewStyle().Foreground(green)
	errorStyle   = lipgloss.NewStyle().Foreground(red)
	sysStyle     = lipgloss.NewStyle().Foreground(yellow).Italic(true)
	tsStyle      = lipgloss.NewStyle().Foreground(gray)
	myNameStyle  = lipgloss.NewStyle().Bold(true).Foreground(orange)
	peerStyle    = lipgloss.NewStyle().Bold(true).Foreground(blue)
)

// ---------------------------------------------------------------------------
// Bubbletea message types
// ---------------------------------------------------------------------------

type frameMsg protocol.Document
type disconnectedMsg struct{}

type fileDoneMsg struct {
	sending bool
	peer    string
	path    string
	bytes   int64
	dur     time.Duration
	err     error
}

// ---------------------------------------------------------------------------
// Application state
// ---------------------------------------------------------------------------

type appState int

const (
	stateLogin appState = iota
	stateChat
)

// fileOffer is an incoming file_request awaiting accept/deny.
type fileOffer struct {
	peer     string
	filename string
	size     string
	md5      string
}

// ---------------------------------------------------------------------------
// Model
// ---------------------------------------------------------------------------

type model struct {
	conn     net.Conn
	frames   chan protocol.Document
	fileDone chan fileDoneMsg

	state appState
	me    string

	// Login / register
	loginIsReg  bool
	loginFocus  int
	loginFields [2]textinput.Model
	statusMsg   string

	// Chat
	ready     bool
	viewport  viewport.Model
	chatInput textinput.Model
	chatLines []string
	online    []string

	// File transfer
	pendingOffer *fileOffer
	outgoing     map[string]string // peer -> local path queued for file_request

	width, height int
}

func newModel(conn net.Conn, frames chan protocol.Document, fileDone chan fileDoneMsg) model {
	uf := textinput.New()
	uf.Placeholder = "username"
	uf.Focus()
	uf.CharLimit = 32
	uf.Width = 32

	pf := textinput.New()
	pf.Placeholder = "password"
	pf.EchoMode = textinput.EchoPassword
	pf.EchoCharacter = '•'
	pf.CharLimit = 64
	pf.Width = 32

	ci := textinput.New()
	ci.Placeholder = "Type a message, or /help for commands…"
	ci.CharLimit = 500

	return model{
		conn:        conn,
		frames:      frames,
		fileDone:    fileDone,
		state:       stateLogin,
		loginFields: [2]textinput.Model{uf, pf},
		chatInput:   ci,
		outgoing:    make(map[string]string),
	}
}

// ---------------------------------------------------------------------------
// Tea interface – Init
// ---------------------------------------------------------------------------

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForFrame(m.frames), waitForFileDone(m.fileDone))
}

// ---------------------------------------------------------------------------
// Tea interface – Update
// ---------------------------------------------------------------------------

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if !m.ready {
			m.viewport = viewport.New(msg.Width, m.vpHeight())
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = m.vpHeight()
		}
		m.chatInput.Width = msg.Width - 4
		return m, nil

	case frameMsg:
		m = m.handleServerFrame(protocol.Document(msg))
		return m, waitForFrame(m.frames)

	case fileDoneMsg:
		m = m.handleFileDone(msg)
		return m, waitForFileDone(m.fileDone)

	case disconnectedMsg:
		m.statusMsg = "disconnected from server"
		return m, tea.Quit

	case tea.KeyMsg:
		switch m.state {
		case stateLogin:
			return m.handleLoginKey(msg)
		case stateChat:
			return m.handleChatKey(msg)
		}
	}
	return m, nil
}

func (m model) vpHeight() int {
	h := m.height - 3
	if h < 1 {
		h = 1
	}
	return h
}

// ---------------------------------------------------------------------------
// Key handlers
// ---------------------------------------------------------------------------

func (m model) handleLoginKey(msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit

	case tea.KeyTab, tea.KeyShiftTab:
		m.loginFocus = (m.loginFocus + 1) % 2
		for i := range m.loginFields {
			if i == m.loginFocus {
				m.loginFields[i].Focus()
			} else {
				m.loginFields[i].Blur()
			}
		}
		return m, textinput.Blink

	case tea.KeyCtrlR:
		m.loginIsReg = !m.loginIsReg
		m.statusMsg = ""
		return m, nil

	case tea.KeyEnter:
		user := strings.TrimSpace(m.loginFields[0].Value())
		pass := m.loginFields[1].Value()
		if user == "" || pass == "" {
			m.statusMsg = "username and password are required"
			return m, nil
		}
		if m.loginIsReg {
			m.send(protocol.RegisterRequest(user, pass))
		} else {
			m.send(protocol.LoginRequest(user, pass))
		}
		m.statusMsg = "Authenticating…"
		return m, nil
	}

	var cmd tea.Cmd
	m.loginFields[m.loginFocus], cmd = m.loginFields[m.loginFocus].Update(msg)
	return m, cmd
}

func (m model) handleChatKey(msg tea.KeyMsg) (model, tea.Cmd) {
	if m.pendingOffer != nil {
		return m.handleOfferKey(msg)
	}

	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyCtrlQ:
		m.send(protocol.Document{"command": string(protocol.CmdClose)})
		return m, tea.Quit

	case tea.KeyEnter:
		text := strings.TrimSpace(m.chatInput.Value())
		if text != "" {
			m.chatInput.Reset()
			return m.handleChatLine(text)
		}
		return m, nil

	case tea.KeyPgUp:
		m.viewport.HalfViewUp()
		return m, nil

	case tea.KeyPgDown:
		m.viewport.HalfViewDown()
		return m, nil
	}

	var cmd tea.Cmd
	m.chatInput, cmd = m.chatInput.Update(msg)
	return m, cmd
}

// handleOfferKey accepts (y) or denies (n) the pending incoming file offer.
func (m model) handleOfferKey(msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y":
		offer := m.pendingOffer
		m.pendingOffer = nil
		dest := "received_" + offer.filename
		go func() {
			n, dur, err := receiveFile(dest)
			m.fileDone <- fileDoneMsg{sending: false, peer: offer.peer, path: dest, bytes: n, dur: dur, err: err}
		}()
		m.send(protocol.FileResponseRequest(offer.peer, "accept"))
		m.appendChat(sysStyle.Render(fmt.Sprintf("⚡ accepting %q from %s, saving to %s", offer.filename, offer.peer, dest)))
		return m, nil
	case "n", "N", "esc":
		offer := m.pendingOffer
		m.pendingOffer = nil
		m.send(protocol.FileResponseRequest(offer.peer, "deny"))
		m.appendChat(sysStyle.Render(fmt.Sprintf("⚡ denied %q from %s", offer.filename, offer.peer)))
		return m, nil
	case "ctrl+c":
		return m, tea.Quit
	}
	return m, nil
}

// handleChatLine dispatches a non-empty chat input line: either a /command
// or a plain broadcast message.
func (m model) handleChatLine(text string) (model, tea.Cmd) {
	if !strings.HasPrefix(text, "/") {
		m.send(protocol.ChatRequest("", text))
		return m, nil
	}

	fields := strings.Fields(text)
	switch fields[0] {
	case "/help":
		m.appendChat(hintStyle.Render("  /msg <user> <text>  /file <user> <path>  /history <user>  /users  /help"))

	case "/users":
		m.send(protocol.Document{"command": string(protocol.CmdGetUsers)})

	case "/history":
		if len(fields) < 2 {
			m.appendChat(errorStyle.Render("usage: /history <user>"))
			break
		}
		m.send(protocol.Document{"command": string(protocol.CmdGetHistory), "peer": fields[1]})

	case "/msg":
		if len(fields) < 3 {
			m.appendChat(errorStyle.Render("usage: /msg <user> <text>"))
			break
		}
		peer := fields[1]
		content := strings.TrimSpace(strings.TrimPrefix(text, "/msg "+peer))
		m.send(protocol.ChatRequest(peer, content))
		m.appendChat(tsStyle.Render("["+time.Now().Format("15:04:05")+"]") + " " + myNameStyle.Render(m.me) + " -> " + peerStyle.Render(peer) + ": " + content)

	case "/file":
		if len(fields) < 3 {
			m.appendChat(errorStyle.Render("usage: /file <user> <path>"))
			break
		}
		peer, path := fields[1], fields[2]
		return m.initiateFileSend(peer, path)

	default:
		m.appendChat(errorStyle.Render("unknown command: " + fields[0]))
	}
	return m, nil
}

func (m model) initiateFileSend(peer, path string) (model, tea.Cmd) {
	info, err := os.Stat(path)
	if err != nil {
		m.appendChat(errorStyle.Render("cannot read " + path + ": " + err.Error()))
		return m, nil
	}
	sum, err := fileChecksum(path)
	if err != nil {
		m.appendChat(errorStyle.Render("checksum failed: " + err.Error()))
		return m, nil
	}
	m.outgoing[peer] = path
	m.send(protocol.FileRequest(peer, filepath.Base(path), formatFileSize(info.Size()), sum))
	m.appendChat(sysStyle.Render(fmt.Sprintf("⚡ offering %q to %s, waiting for response…", filepath.Base(path), peer)))
	return m, nil
}

// ---------------------------------------------------------------------------
// Server frame handler
// ---------------------------------------------------------------------------

func (m model) handleServerFrame(doc protocol.Document) model {
	switch protocol.EventType(doc.Str("type")) {

	case protocol.EventLoginResult:
		if doc.Str("response") == "ok" {
			m.me = doc.Str("username")
			m.state = stateChat
			m.chatInput.Focus()
			m.online = []string{m.me}
			m.send(protocol.Document{"command": string(protocol.CmdGetUsers)})
		} else {
			m.statusMsg = doc.Str("reason")
		}

	case protocol.EventRegisterResult:
		if doc.Str("response") == "ok" {
			user := strings.TrimSpace(m.loginFields[0].Value())
			pass := m.loginFields[1].Value()
			m.send(protocol.LoginRequest(user, pass))
			m.statusMsg = "Authenticating…"
		} else {
			m.statusMsg = doc.Str("reason")
		}

	case protocol.EventPeerJoined:
		peer := doc.Str("peer")
		if !containsStr(m.online, peer) {
			m.online = append(m.online, peer)
		}
		if peer != m.me {
			m.appendChat(sysStyle.Render("⚡ " + peer + " joined the chat"))
		}

	case protocol.EventPeerLeft:
		peer := doc.Str("peer")
		m.online = removeStr(m.online, peer)
		m.appendChat(sysStyle.Render("⚡ " + peer + " left the chat"))

	case protocol.EventGetUsers:
		if data, ok := doc["data"].([]any); ok {
			users := make([]string, 0, len(data))
			for _, u := range data {
				if s, ok := u.(string); ok {
					users = append(users, s)
				}
			}
			m.online = users
		}

	case protocol.EventGetHistory:
		peer := doc.Str("peer")
		if data, ok := doc["data"].([]any); ok && len(data) > 0 {
			lines := make([]string, 0, len(data))
			for _, raw := range data {
				entry, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				sender, _ := entry["sender"].(string)
				ts, _ := entry["timestamp"].(string)
				text, _ := entry["message"].(string)
				name := peerStyle.Render(sender)
				if sender == m.me {
					name = myNameStyle.Render(sender)
				}
				lines = append(lines, tsStyle.Render("["+ts+"]")+" "+name+": "+text)
			}
			m.chatLines = append(m.chatLines, lines...)
			m.viewport.SetContent(strings.Join(m.chatLines, "\n"))
			m.viewport.GotoBottom()
		} else {
			label := peer
			if label == "" {
				label = "everyone"
			}
			m.appendChat(hintStyle.Render("(no history with " + label + ")"))
		}

	case protocol.EventPrivateMessage:
		peer := doc.Str("peer")
		ts := tsStyle.Render("[" + time.Now().Format("15:04:05") + "]")
		m.appendChat(ts + " " + peerStyle.Render(peer) + " -> " + myNameStyle.Render("you") + ": " + doc.Str("message"))

	case protocol.EventBroadcast:
		peer := doc.Str("peer")
		ts := tsStyle.Render("[" + time.Now().Format("15:04:05") + "]")
		var name string
		if peer == m.me {
			name = myNameStyle.Render(peer)
		} else {
			name = peerStyle.Render(peer)
		}
		m.appendChat(ts + " " + name + ": " + doc.Str("message"))

	case protocol.EventFileRequest:
		m.pendingOffer = &fileOffer{
			peer:     doc.Str("peer"),
			filename: doc.Str("filename"),
			size:     doc.Str("size"),
			md5:      doc.Str("md5"),
		}

	case protocol.EventFileResponse:
		m = m.handleFileResponse(doc)
	}
	return m
}

func (m model) handleFileResponse(doc protocol.Document) model {
	if doc.Str("response") == "error" {
		m.appendChat(errorStyle.Render("⚠ file transfer: " + doc.Str("reason")))
		return m
	}

	peer := doc.Str("peer")
	path, ok := m.outgoing[peer]
	if !ok {
		return m
	}
	delete(m.outgoing, peer)

	if doc.Str("response") != "accept" {
		m.appendChat(sysStyle.Render("⚡ " + peer + " declined the file"))
		return m
	}

	ip := doc.Str("ip")
	m.appendChat(sysStyle.Render("⚡ " + peer + " accepted, sending " + filepath.Base(path) + "…"))
	go func() {
		n, dur, err := sendFile(ip, path)
		m.fileDone <- fileDoneMsg{sending: true, peer: peer, path: path, bytes: n, dur: dur, err: err}
	}()
	return m
}

func (m model) handleFileDone(msg fileDoneMsg) model {
	verb := "sent to"
	if !msg.sending {
		verb = "received from"
	}
	if msg.err != nil {
		m.appendChat(errorStyle.Render(fmt.Sprintf("⚠ file transfer with %s failed: %v", msg.peer, msg.err)))
		return m
	}
	m.appendChat(successStyle.Render(fmt.Sprintf("✓ %s %s %s (%s in %s)",
		filepath.Base(msg.path), verb, msg.peer, formatFileSize(msg.bytes), msg.dur.Round(time.Millisecond))))
	return m
}

func (m *model) appendChat(line string) {
	m.chatLines = append(m.chatLines, line)
	m.viewport.SetContent(strings.Join(m.chatLines, "\n"))
	m.viewport.GotoBottom()
}

func (m model) send(doc protocol.Document) {
	_ = protocol.WriteFrame(m.conn, doc)
}

// ---------------------------------------------------------------------------
// Tea interface – View
// ---------------------------------------------------------------------------

func (m model) View() string {
	switch m.state {
	case stateLogin:
		return m.viewLogin()
	case stateChat:
		return m.viewChat()
	}
	return ""
}

func (m model) viewLogin() string {
	if m.width == 0 {
		return "\n  Connecting to server…"
	}

	mode := "Login"
	other := "Register"
	if m.loginIsReg {
		mode, other = "Register", "Login"
	}

	title := titleStyle.Render("  Relay Chat  ")

	renderField := func(label string, f textinput.Model, focused bool) string {
		var lbl string
		if focused {
			lbl = focusedLabelStyle.Render(label)
		} else {
			lbl = labelStyle.Render(label)
		}
		return lbl + "  " + f.View()
	}

	form := lipgloss.JoinVertical(lipgloss.Left,
		title,
		"",
		renderField("Username", m.loginFields[0], m.loginFocus == 0),
		renderField("Password", m.loginFields[1], m.loginFocus == 1),
		"",
		hintStyle.Render(fmt.Sprintf("Tab: switch field   Enter: %s   Ctrl+R: switch to %s", mode, other)),
		hintStyle.Render("Ctrl+C: quit"),
		"",
		m.renderStatus(),
	)

	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, form)
}

func (m model) viewChat() string {
	if !m.ready {
		return "\n  Connecting…"
	}

	hdr := headerStyle.
		Width(m.width).
		Render(fmt.Sprintf(" Relay Chat  ·  %s  ·  %d online  ·  /help  ·  PgUp/Dn: Scroll  ·  Ctrl+C: Quit",
			m.me, len(m.online)))

	var footer string
	if m.pendingOffer != nil {
		o := m.pendingOffer
		footer = footerBorderStyle.
			Width(m.width - 2).
			Render(fmt.Sprintf("%s wants to send %q (%s) — accept? [y/n]", o.peer, o.filename, o.size))
	} else {
		footer = footerBorderStyle.
			Width(m.width - 2).
			Render(m.chatInput.View())
	}

	return lipgloss.JoinVertical(lipgloss.Left, hdr, m.viewport.View(), footer)
}

func (m model) renderStatus() string {
	if m.statusMsg == "" {
		return ""
	}
	if strings.Contains(m.statusMsg, "Authenticating") {
		return hintStyle.Render(m.statusMsg)
	}
	return errorStyle.Render(m.statusMsg)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func removeStr(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

// waitForFrame returns a tea.Cmd that blocks until the next document arrives
// on ch. When ch is closed (server disconnected), it returns disconnectedMsg.
func waitForFrame(ch <-chan protocol.Document) tea.Cmd {
	return func() tea.Msg {
		doc, ok := <-ch
		if !ok {
			return disconnectedMsg{}
		}
		return frameMsg(doc)
	}
}

func waitForFileDone(ch <-chan fileDoneMsg) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	addr := flag.String("addr", "localhost:8888", "server address")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	frames := make(chan protocol.Document, 64)
	fileDone := make(chan fileDoneMsg, 4)

	go func() {
		defer close(frames)
		for {
			doc, err := protocol.ReadFrame(conn)
			if err != nil {
				return
			}
			frames <- doc
		}
	}()

	p := tea.NewProgram(
		newModel(conn, frames, fileDone),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
