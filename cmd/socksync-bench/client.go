package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/socksync/pkg/protocol"
)

type benchCounters struct {
	callsSent     atomic.Uint64
	callsComplete atomic.Uint64
	sentBytes     atomic.Uint64
	recvBytes     atomic.Uint64
	recvMessages  atomic.Uint64
}

type benchErrors struct {
	connectFailures atomic.Uint64
	writeFailures   atomic.Uint64
	decodeFailures  atomic.Uint64
	serverErrors    atomic.Uint64
	failedReturns   atomic.Uint64
	returnMissing   atomic.Uint64
	totalErrors     atomic.Uint64
}

// funcCounts counts received messages by their func field.
type funcCounts struct {
	counts sync.Map // string -> *atomic.Uint64
}

func (f *funcCounts) add(fn string) {
	v, ok := f.counts.Load(fn)
	if !ok {
		v, _ = f.counts.LoadOrStore(fn, new(atomic.Uint64))
	}
	v.(*atomic.Uint64).Add(1)
}

func (f *funcCounts) snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	f.counts.Range(func(k, v any) bool {
		out[k.(string)] = v.(*atomic.Uint64).Load()
		return true
	})
	return out
}

func runClient(
	ctx context.Context,
	wsURL string,
	clientID int,
	cfg benchConfig,
	counters *benchCounters,
	errCounts *benchErrors,
	funcs *funcCounts,
	samples chan<- time.Duration,
) error {
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		errCounts.connectFailures.Add(1)
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	for _, sub := range []protocol.Message{
		protocol.New("list", "items", protocol.FuncSubscribe),
		protocol.New("function", "touch", protocol.FuncSubscribe),
	} {
		if err := writeMessage(conn, sub, counters); err != nil {
			errCounts.connectFailures.Add(1)
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	period := time.Duration(float64(time.Second) / cfg.RPS)
	var seq uint64

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		seq++
		token := makeToken(clientID, seq, cfg.PayloadBytes)

		start := time.Now()

		call := protocol.New("function", "touch", protocol.FuncCall)
		call[protocol.FieldID] = token
		call[protocol.FieldArgs] = map[string]any{"token": token}
		if err := writeMessage(conn, call, counters); err != nil {
			errCounts.writeFailures.Add(1)
			return fmt.Errorf("call write: %w", err)
		}
		counters.callsSent.Add(1)

		if cfg.CallTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(cfg.CallTimeout))
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
		err := waitForReturn(callCtx, conn, token, counters, errCounts, funcs)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || isTimeout(err) {
				errCounts.returnMissing.Add(1)
				return fmt.Errorf("return not observed")
			}
			return fmt.Errorf("wait for return: %w", err)
		}

		rtt := time.Since(start)
		counters.callsComplete.Add(1)
		samples <- rtt

		if sleep := period - time.Since(start); sleep > 0 {
			timer := time.NewTimer(sleep)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
		}
	}
}

func writeMessage(conn *websocket.Conn, msg protocol.Message, counters *benchCounters) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	counters.sentBytes.Add(uint64(len(data)))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// waitForReturn reads until the return of call id arrives, counting every
// broadcast received on the way.
func waitForReturn(
	ctx context.Context,
	conn *websocket.Conn,
	id string,
	counters *benchCounters,
	errCounts *benchErrors,
	funcs *funcCounts,
) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		counters.recvMessages.Add(1)
		counters.recvBytes.Add(uint64(len(data)))

		msg, err := protocol.Decode(data)
		if err != nil {
			errCounts.decodeFailures.Add(1)
			return err
		}
		funcs.add(msg.Func())

		switch {
		case msg.IsError():
			errCounts.serverErrors.Add(1)
			return fmt.Errorf("server error: %v", msg)
		case msg.Func() == protocol.FuncReturn:
			if got, _ := msg.String(protocol.FieldID); got != id {
				continue
			}
			if msg.Has(protocol.FieldError) {
				errCounts.failedReturns.Add(1)
				return fmt.Errorf("call failed: %v", msg[protocol.FieldError])
			}
			return nil
		}
	}
}

func makeToken(clientID int, seq uint64, payloadBytes int) string {
	if payloadBytes <= 0 {
		return ""
	}
	seed := (uint64(clientID) << 32) ^ seq
	base := strings.ToLower(strconv.FormatUint(seed, 36))
	if len(base) >= payloadBytes {
		return base[len(base)-payloadBytes:]
	}
	pad := strings.Repeat("x", payloadBytes-len(base))
	return base + pad
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
