package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-dev/uisync/pkg/protocol"
)

type benchCounters struct {
	requests      atomic.Uint64
	requestBytes  atomic.Uint64
	responseBytes atomic.Uint64
	events        atomic.Uint64
	adapters      atomic.Uint64
	errorReplies  atomic.Uint64
	tokenMissing  atomic.Uint64
	clientErrors  atomic.Uint64
}

// benchClient plays one browser tab: it starts a session, then alternates
// between typing a unique token into the first name field, which the
// server answers with a greeting containing it, and adding notes.
type benchClient struct {
	id       int
	cfg      benchConfig
	counters *benchCounters
	record   func(time.Duration)

	conn  *websocket.Conn
	ids   map[string]string
	notes int
}

func (c *benchClient) run(ctx context.Context, wsURL string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	c.conn = conn
	c.ids = make(map[string]string)

	sessionID := "bench-" + strconv.Itoa(c.id)
	resp, err := c.roundTrip(&protocol.Request{Session: sessionID, Kind: protocol.KindStartup})
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	c.learn(resp)
	for _, name := range []string{"form", "First name", "Add note", "Clear notes"} {
		if c.ids[name] == "" {
			return fmt.Errorf("startup: no %s adapter", name)
		}
	}

	period := time.Duration(float64(time.Second) / c.cfg.RPS)
	for seq := uint64(1); ; seq++ {
		if ctx.Err() != nil {
			break
		}
		start := time.Now()
		if err := c.step(sessionID, seq); err != nil {
			if ctx.Err() != nil {
				break
			}
			return err
		}
		c.record(time.Since(start))

		if sleep := period - time.Since(start); sleep > 0 {
			timer := time.NewTimer(sleep)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
	}

	_, err = c.roundTrip(&protocol.Request{Session: sessionID, Kind: protocol.KindUnload})
	return err
}

// step sends one request and checks its effect.
func (c *benchClient) step(sessionID string, seq uint64) error {
	switch {
	case seq%4 != 0:
		token := makeToken(c.id, seq)
		resp, err := c.roundTrip(&protocol.Request{
			Session: sessionID,
			Kind:    protocol.KindEvent,
			Target:  c.ids["First name"],
			Event:   "property",
			Data:    map[string]any{"name": "value", "value": token},
		})
		if err != nil {
			return err
		}
		if !greets(resp, c.ids["form"], token) {
			c.counters.tokenMissing.Add(1)
			return fmt.Errorf("token %s not observed in greeting", token)
		}
	case c.notes < c.cfg.Notes:
		resp, err := c.click(sessionID, "Add note")
		if err != nil {
			return err
		}
		c.notes++
		if len(resp.AdapterData) != 1 {
			return fmt.Errorf("add note: %d adapters described", len(resp.AdapterData))
		}
	default:
		if _, err := c.click(sessionID, "Clear notes"); err != nil {
			return err
		}
		c.notes = 0
	}
	return nil
}

func (c *benchClient) click(sessionID, menu string) (*protocol.Response, error) {
	return c.roundTrip(&protocol.Request{
		Session: sessionID,
		Kind:    protocol.KindEvent,
		Target:  c.ids[menu],
		Event:   "click",
	})
}

func (c *benchClient) roundTrip(req *protocol.Request) (*protocol.Response, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.EventTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}
	c.counters.requests.Add(1)
	c.counters.requestBytes.Add(uint64(len(data)))

	c.conn.SetReadDeadline(time.Now().Add(c.cfg.EventTimeout))
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		if isTimeout(err) {
			c.counters.tokenMissing.Add(1)
		}
		return nil, fmt.Errorf("read: %w", err)
	}
	c.counters.responseBytes.Add(uint64(len(msg)))

	var resp protocol.Response
	if err := json.Unmarshal(msg, &resp); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if resp.IsError() {
		c.counters.errorReplies.Add(1)
		return nil, fmt.Errorf("server error %s: %s", resp.Code(), resp.Error.Message)
	}
	c.counters.events.Add(uint64(len(resp.Events)))
	c.counters.adapters.Add(uint64(len(resp.AdapterData)))
	return &resp, nil
}

func (c *benchClient) learn(resp *protocol.Response) {
	for id, a := range resp.AdapterData {
		if a.ObjectType == "Form" {
			c.ids["form"] = id
		}
		for _, key := range []string{"label", "text"} {
			if v, ok := a.Properties[key].(string); ok {
				c.ids[v] = id
			}
		}
	}
}

func greets(resp *protocol.Response, form, token string) bool {
	for _, ev := range resp.Events {
		if ev.Target != form || ev.Type != protocol.EventProperty {
			continue
		}
		if g, ok := ev.Properties["greeting"].(string); ok && strings.Contains(g, token) {
			return true
		}
	}
	return false
}

// makeToken returns a value unique per client and sequence number.
func makeToken(clientID int, seq uint64) string {
	return strconv.FormatUint(uint64(clientID)<<32^seq, 36)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
