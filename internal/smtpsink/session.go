package smtpsink

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/shineum/mail-dispatch/internal/mailerr"
	"github.com/shineum/mail-dispatch/internal/parser"
)

// Session states.
const (
	stateConnected = iota
	stateGreeted
	stateAuthOK
	stateMailFrom
	stateRcptTo
)

// idleTimeout closes sessions that send nothing for this long.
const idleTimeout = 60 * time.Second

// session is one client connection.
type session struct {
	srv    *Server
	raw    net.Conn
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	state  int

	tlsActive bool

	mailFrom string
	rcptTo   []string
}

func newSession(conn net.Conn, srv *Server) *session {
	return &session{
		srv:    srv,
		raw:    conn,
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		state:  stateConnected,
	}
}

// handle runs the session until the client quits, the connection fails, or
// ctx is cancelled.
func (s *session) handle(ctx context.Context) {
	defer s.conn.Close()

	// Unblock a pending read on shutdown.
	stop := context.AfterFunc(ctx, func() {
		s.raw.SetReadDeadline(time.Now())
	})
	defer stop()

	s.writeLine("220 %s ESMTP mail-dispatch sink", s.srv.config.Hostname)

	for {
		if ctx.Err() != nil {
			s.writeLine("421 Service shutting down")
			return
		}
		if err := s.conn.SetDeadline(time.Now().Add(idleTimeout)); err != nil {
			s.srv.logger.Error("failed to set connection deadline", "error", err)
			return
		}
		if ctx.Err() != nil {
			s.writeLine("421 Service shutting down")
			return
		}

		line, err := s.reader.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				s.srv.logger.Debug("connection read error", "error", err)
			}
			return
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		cmd, arg := parseCommand(line)
		if s.handleCommand(ctx, cmd, arg) {
			return
		}
	}
}

// handleCommand processes one command and reports whether the session should end.
func (s *session) handleCommand(ctx context.Context, cmd, arg string) bool {
	switch cmd {
	case "EHLO", "HELO":
		s.handleEHLO(cmd, arg)
	case "STARTTLS":
		s.handleSTARTTLS()
	case "AUTH":
		s.handleAUTH(arg)
	case "MAIL":
		s.handleMAIL(arg)
	case "RCPT":
		s.handleRCPT(arg)
	case "DATA":
		s.handleDATA(ctx)
	case "RSET":
		s.resetTransaction()
		s.writeLine("250 OK")
	case "NOOP":
		s.writeLine("250 OK")
	case "QUIT":
		s.writeLine("221 Bye")
		return true
	default:
		s.writeLine("500 Unrecognized command")
	}
	return false
}

func (s *session) handleEHLO(cmd, arg string) {
	if arg == "" {
		s.writeLine("501 Syntax: %s hostname", cmd)
		return
	}

	hostname := s.srv.config.Hostname
	s.state = stateGreeted
	if cmd == "HELO" {
		s.writeLine("250 %s Hello %s", hostname, arg)
		return
	}

	s.writeLine("250-%s Hello %s", hostname, arg)
	if s.srv.config.TLSConfig != nil && !s.tlsActive {
		s.writeLine("250-STARTTLS")
	}
	if s.srv.creds.enabled() {
		s.writeLine("250-AUTH PLAIN LOGIN")
	}
	s.writeLine("250-SIZE %d", s.srv.config.MaxMessageSize)
	s.writeLine("250 OK")
}

func (s *session) handleSTARTTLS() {
	if s.srv.config.TLSConfig == nil {
		s.writeLine("454 TLS not available")
		return
	}
	if s.tlsActive {
		s.writeLine("454 TLS already active")
		return
	}

	s.writeLine("220 Ready to start TLS")

	tlsConn := tls.Server(s.conn, s.srv.config.TLSConfig)
	if err := tlsConn.Handshake(); err != nil {
		s.srv.logger.Error("TLS handshake failed", "error", err)
		return
	}

	s.conn = tlsConn
	s.reader = bufio.NewReader(tlsConn)
	s.writer = bufio.NewWriter(tlsConn)
	s.tlsActive = true
	s.state = stateConnected
}

func (s *session) handleAUTH(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}
	if !s.srv.creds.enabled() {
		s.writeLine("503 AUTH not available")
		return
	}

	mechanism, initial, _ := strings.Cut(arg, " ")
	var err error
	switch strings.ToUpper(mechanism) {
	case "PLAIN":
		err = s.authPlain(initial)
	case "LOGIN":
		err = s.authLogin()
	default:
		s.writeLine("504 Unrecognized authentication type")
		return
	}

	switch {
	case errors.Is(err, errCancelled):
		s.writeLine("501 Authentication cancelled")
	case err != nil:
		s.srv.logger.Info("auth refused", "mechanism", mechanism, "error", err)
		s.writeLine("535 5.7.8 Authentication credentials invalid")
	default:
		s.state = stateAuthOK
		s.writeLine("235 Authentication successful")
	}
}

var errCancelled = errors.New("authentication cancelled")

// readChallenge sends a 334 challenge and returns the client's reply.
func (s *session) readChallenge(prompt string) (string, error) {
	if prompt == "" {
		s.writeLine("334")
	} else {
		s.writeLine("334 %s", prompt)
	}
	line, err := s.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "*" {
		return "", errCancelled
	}
	return line, nil
}

func (s *session) authPlain(initial string) error {
	encoded := initial
	if encoded == "" {
		var err error
		if encoded, err = s.readChallenge(""); err != nil {
			return err
		}
	}
	if encoded == "*" {
		return errCancelled
	}
	return s.srv.creds.verifyPlain(encoded)
}

func (s *session) authLogin() error {
	user, err := s.readChallenge("VXNlcm5hbWU6") // "Username:"
	if err != nil {
		return err
	}
	pass, err := s.readChallenge("UGFzc3dvcmQ6") // "Password:"
	if err != nil {
		return err
	}
	return s.srv.creds.verifyLogin(user, pass)
}

func (s *session) handleMAIL(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}
	if s.srv.creds.enabled() && s.state < stateAuthOK {
		s.writeLine("530 5.7.0 Authentication required")
		return
	}

	if !strings.HasPrefix(strings.ToUpper(arg), "FROM:") {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}
	addr := extractAddress(arg[5:])
	if addr == "" {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	s.mailFrom = addr
	s.rcptTo = nil
	s.state = stateMailFrom
	s.writeLine("250 OK")
}

func (s *session) handleRCPT(arg string) {
	if s.state < stateMailFrom {
		s.writeLine("503 Send MAIL FROM first")
		return
	}

	if !strings.HasPrefix(strings.ToUpper(arg), "TO:") {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}
	addr := extractAddress(arg[3:])
	if addr == "" {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}

	s.rcptTo = append(s.rcptTo, addr)
	s.state = stateRcptTo
	s.writeLine("250 OK")
}

// handleDATA reads the message up to the terminating dot, then applies
// fault injection before handing the parsed message to the transport.
func (s *session) handleDATA(ctx context.Context) {
	if s.state < stateRcptTo {
		s.writeLine("503 Send RCPT TO first")
		return
	}

	s.writeLine("354 Start mail input; end with <CRLF>.<CRLF>")

	var data strings.Builder
	tooLarge := false
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			s.srv.logger.Error("error reading DATA", "error", err)
			return
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "." {
			break
		}
		if strings.HasPrefix(trimmed, "..") {
			line = line[1:]
		}
		if data.Len()+len(line) > s.srv.config.MaxMessageSize {
			tooLarge = true
			continue
		}
		data.WriteString(line)
	}
	defer s.resetTransaction()

	if tooLarge {
		s.writeLine("552 5.3.4 Message size exceeds fixed limit")
		return
	}
	if s.srv.throttleNext() {
		s.writeLine("451 4.7.1 Rate limit exceeded, try again later")
		return
	}

	msg, err := parser.Parse([]byte(data.String()))
	if err != nil {
		s.srv.logger.Error("failed to parse message", "error", err)
		s.writeLine("550 Failed to process message")
		return
	}
	if msg.From == "" {
		msg.From = s.mailFrom
	}
	// The envelope decides delivery; Bcc recipients only appear there.
	msg.To = s.rcptTo

	if s.srv.config.Transport == nil {
		s.srv.accepted.Add(1)
		s.writeLine("250 OK message accepted")
		return
	}

	id, err := s.srv.config.Transport.Submit(ctx, msg)
	if err != nil {
		s.srv.logger.Error("transport submit failed",
			"transport", s.srv.config.Transport.Name(),
			"kind", mailerr.KindOf(err).String(),
			"error", err,
		)
		s.writeLine("451 Temporary failure, please try again later")
		return
	}

	s.srv.accepted.Add(1)
	s.writeLine("250 OK queued as %s", id)
}

// resetTransaction clears the mail transaction, keeping greeting and auth.
func (s *session) resetTransaction() {
	s.mailFrom = ""
	s.rcptTo = nil

	switch {
	case s.srv.creds.enabled() && s.state >= stateAuthOK:
		s.state = stateAuthOK
	case s.state >= stateGreeted:
		s.state = stateGreeted
	}
}

func (s *session) writeLine(format string, args ...any) {
	if _, err := fmt.Fprintf(s.writer, format+"\r\n", args...); err != nil {
		s.srv.logger.Debug("failed to write to client", "error", err)
		return
	}
	if err := s.writer.Flush(); err != nil {
		s.srv.logger.Debug("failed to flush to client", "error", err)
	}
}

// parseCommand splits a command line into the upper-cased verb and its argument.
func parseCommand(line string) (string, string) {
	cmd, arg, _ := strings.Cut(line, " ")
	return strings.ToUpper(cmd), arg
}

// extractAddress returns the address from "<addr>" or a bare address,
// ignoring trailing ESMTP parameters.
func extractAddress(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "<") {
		end := strings.Index(s, ">")
		if end < 0 {
			return ""
		}
		return s[1:end]
	}
	addr, _, _ := strings.Cut(s, " ")
	return addr
}
