package connector

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sigilsec/sentinel/bus"
	"github.com/sigilsec/sentinel/core"
)

// SyslogMessage is one parsed syslog datagram or line.
type SyslogMessage struct {
	Facility   int    `json:"facility"`
	Severity   int    `json:"severity"`
	Hostname   string `json:"hostname"`
	AppName    string `json:"appName"`
	ProcID     string `json:"procId"`
	MsgID      string `json:"msgId"`
	Message    string `json:"message"`
	RawMessage string `json:"rawMessage"`
	SourceIP   string `json:"sourceIp"`
}

// SyslogConnector binds a UDP, TCP, or TLS listener and emits one RawEvent
// per accepted message. When the job queue is full the event is dropped
// and the error counter incremented; the listener goroutine never blocks.
type SyslogConnector struct {
	*Base

	mu      sync.Mutex
	udpConn net.PacketConn
	tcpLn   net.Listener
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewSyslogConnector validates the configuration and builds the adapter.
// Listeners are bound on Start, not here, so a port conflict surfaces as
// AdapterUnavailable rather than a construction failure.
func NewSyslogConnector(rec *core.ConnectorRecord, store core.Store, b *bus.Bus, logger core.Logger) (*SyslogConnector, error) {
	cfg := rec.Configuration
	if err := cfg.Validate(core.ConnectorTypeSyslog); err != nil {
		return nil, err
	}
	rec.Configuration = cfg
	return &SyslogConnector{Base: NewBase(rec, store, b, logger)}, nil
}

// IsPull reports that this adapter is push-mode.
func (c *SyslogConnector) IsPull() bool { return false }

// Start binds the configured listener and begins accepting messages.
// Idempotent.
func (c *SyslogConnector) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}

	cfg := c.Config().Syslog
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	listenCtx, cancel := context.WithCancel(context.Background())

	switch strings.ToLower(cfg.Protocol) {
	case "udp":
		conn, err := net.ListenPacket("udp", addr)
		if err != nil {
			cancel()
			c.mu.Unlock()
			c.SetStatus(ctx, core.StatusError, err.Error())
			return fmt.Errorf("bind udp %s: %w", addr, core.ErrAdapterUnavailable)
		}
		c.udpConn = conn
		c.wg.Add(1)
		go c.readUDP(listenCtx, conn)
	case "tcp", "tls":
		var ln net.Listener
		var err error
		if strings.EqualFold(cfg.Protocol, "tls") {
			cert, cerr := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
			if cerr != nil {
				cancel()
				c.mu.Unlock()
				return fmt.Errorf("load tls keypair: %w", core.ErrConfigInvalid)
			}
			ln, err = tls.Listen("tcp", addr, &tls.Config{Certificates: []tls.Certificate{cert}})
		} else {
			ln, err = net.Listen("tcp", addr)
		}
		if err != nil {
			cancel()
			c.mu.Unlock()
			c.SetStatus(ctx, core.StatusError, err.Error())
			return fmt.Errorf("bind %s %s: %w", cfg.Protocol, addr, core.ErrAdapterUnavailable)
		}
		c.tcpLn = ln
		c.wg.Add(1)
		go c.acceptTCP(listenCtx, ln)
	}

	c.cancel = cancel
	c.running = true
	c.mu.Unlock()

	c.MarkStarted()
	c.SetStatus(ctx, core.StatusActive, "")
	c.Logger().Info("Syslog listener started", map[string]interface{}{
		"connector_id": c.ID(),
		"protocol":     cfg.Protocol,
		"addr":         addr,
	})
	return nil
}

// Stop closes the listener, waits for reader goroutines, and transitions
// to paused. Safe to call from any state.
func (c *SyslogConnector) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	if c.cancel != nil {
		c.cancel()
	}
	if c.udpConn != nil {
		c.udpConn.Close()
		c.udpConn = nil
	}
	if c.tcpLn != nil {
		c.tcpLn.Close()
		c.tcpLn = nil
	}
	c.mu.Unlock()

	c.wg.Wait()
	c.SetStatus(ctx, core.StatusPaused, "")
	return nil
}

// HealthCheck reports whether the listener is bound.
func (c *SyslogConnector) HealthCheck() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// RunOnce is a stats refresh for push adapters; the listener does the real
// work.
func (c *SyslogConnector) RunOnce(ctx context.Context) error {
	return nil
}

// TestConnection checks that the configured port can be bound (or is
// already bound by this connector). It never emits events.
func (c *SyslogConnector) TestConnection(ctx context.Context) ProbeResult {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	if running {
		return ProbeResult{Success: true, Message: "listener active"}
	}
	cfg := c.Config().Syslog
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	if strings.EqualFold(cfg.Protocol, "udp") {
		conn, err := net.ListenPacket("udp", addr)
		if err != nil {
			return ProbeResult{Success: false, Message: err.Error()}
		}
		conn.Close()
	} else {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return ProbeResult{Success: false, Message: err.Error()}
		}
		ln.Close()
	}
	return ProbeResult{Success: true, Message: "port available"}
}

func (c *SyslogConnector) readUDP(ctx context.Context, conn net.PacketConn) {
	defer c.wg.Done()
	buf := make([]byte, 64*1024)
	for {
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			// Listener closed or transient read fault.
			return
		}
		sourceIP := ""
		if udpAddr, ok := peer.(*net.UDPAddr); ok {
			sourceIP = udpAddr.IP.String()
		}
		c.HandleMessage(string(buf[:n]), sourceIP)
	}
}

func (c *SyslogConnector) acceptTCP(ctx context.Context, ln net.Listener) {
	defer c.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		c.wg.Add(1)
		go c.readStream(ctx, conn)
	}
}

func (c *SyslogConnector) readStream(ctx context.Context, conn net.Conn) {
	defer c.wg.Done()
	defer conn.Close()

	sourceIP := ""
	if tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		sourceIP = tcpAddr.IP.String()
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		c.HandleMessage(line, sourceIP)
	}
}

// HandleMessage parses one raw syslog line, applies the allow-list
// filters, and emits the event. Exposed for the line/datagram readers and
// for tests.
func (c *SyslogConnector) HandleMessage(raw, sourceIP string) {
	msg := ParseSyslogMessage(raw, sourceIP)
	if !c.allowed(msg) {
		return
	}

	event := &core.RawEvent{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Source:    "syslog",
		Type:      "syslog",
		Payload: map[string]interface{}{
			"facility":   msg.Facility,
			"severity":   msg.Severity,
			"hostname":   msg.Hostname,
			"appName":    msg.AppName,
			"procId":     msg.ProcID,
			"msgId":      msg.MsgID,
			"message":    msg.Message,
			"rawMessage": msg.RawMessage,
			"sourceIp":   msg.SourceIP,
		},
		Tags: []string{"syslog", "network"},
		Metadata: core.EventMetadata{
			ConnectorID:    c.ID(),
			OrganizationID: c.OrganizationID(),
			SourceIP:       sourceIP,
		},
	}
	if c.Emit(event, core.PriorityMedium) == nil {
		c.RecordEvent(len(raw))
	}
}

// allowed applies the configured facility/severity allow-lists.
func (c *SyslogConnector) allowed(msg SyslogMessage) bool {
	cfg := c.Config().Syslog
	if cfg == nil || cfg.Filtering == nil {
		return true
	}
	if len(cfg.Filtering.Facilities) > 0 && !containsInt(cfg.Filtering.Facilities, msg.Facility) {
		return false
	}
	if len(cfg.Filtering.Severities) > 0 && !containsInt(cfg.Filtering.Severities, msg.Severity) {
		return false
	}
	return true
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// ParseSyslogMessage parses a BSD-style syslog line. Lines without a
// priority tag default to facility 1 (user), severity 6 (info). The parse
// is forgiving: whatever cannot be attributed to a header field stays in
// the message.
func ParseSyslogMessage(raw, sourceIP string) SyslogMessage {
	msg := SyslogMessage{
		Facility:   1,
		Severity:   6,
		RawMessage: raw,
		SourceIP:   sourceIP,
	}

	rest := raw
	if strings.HasPrefix(rest, "<") {
		if end := strings.Index(rest, ">"); end > 0 && end <= 4 {
			if pri, err := strconv.Atoi(rest[1:end]); err == nil && pri >= 0 && pri <= 191 {
				msg.Facility = pri / 8
				msg.Severity = pri % 8
				rest = rest[end+1:]
			}
		}
	}

	// RFC3164 timestamp: "Jan _2 15:04:05".
	if len(rest) >= 15 {
		if _, err := time.Parse(time.Stamp, rest[:15]); err == nil {
			rest = strings.TrimLeft(rest[15:], " ")
		}
	}

	// hostname, then "app[pid]:" or "app:" tag.
	if i := strings.IndexByte(rest, ' '); i > 0 {
		candidate := rest[:i]
		tail := rest[i+1:]
		if !strings.Contains(candidate, ":") {
			msg.Hostname = candidate
			rest = tail
		}
	}
	if i := strings.IndexByte(rest, ':'); i > 0 && !strings.ContainsAny(rest[:i], " ") {
		tag := rest[:i]
		if j := strings.IndexByte(tag, '['); j > 0 && strings.HasSuffix(tag, "]") {
			msg.AppName = tag[:j]
			msg.ProcID = tag[j+1 : len(tag)-1]
		} else {
			msg.AppName = tag
		}
		rest = strings.TrimLeft(rest[i+1:], " ")
	}

	msg.Message = rest
	return msg
}
