// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ffutop/watlow/modbus"
)

const (
	tcpTimeout = 1 * time.Second

	// Per-request chunk sizes.
	registersPerRead = 124
	floatsPerWrite   = 61 // FC16 carries at most 123 registers, so 122 per write
)

type queuedRequest struct {
	ctx      context.Context
	name     string
	connect  bool
	op       func(link Link) ([]byte, error)
	started  atomic.Bool
	response chan *queuedResponse
}

type queuedResponse struct {
	data []byte
	err  error
}

// Client is a Modbus TCP client for one gateway.
//
// A background connect step is queued on construction. Every request,
// connect steps included, passes through one FIFO queue served by a single
// worker goroutine, so requests complete in submission order and never
// overlap on the wire. A request that times out or fails at the connection
// level marks the link lost; later requests fail fast with ErrNotConnected
// until Reconnect succeeds.
type Client struct {
	Address string
	Timeout time.Duration
	SlaveID byte

	newLink LinkFactory
	link    Link // owned by the worker

	state       atomic.Uint32
	mu          sync.Mutex
	connectErr  error
	ready       chan struct{}
	requestChan chan *queuedRequest
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds every request from the moment the worker sends it.
// Waiting in the queue is bounded by the caller's context only.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.Timeout = timeout
		}
	}
}

// WithSlaveID sets the unit identifier of every request.
func WithSlaveID(id byte) Option {
	return func(c *Client) { c.SlaveID = id }
}

// WithLink replaces the Modbus TCP link, mostly for tests.
func WithLink(factory LinkFactory) Option {
	return func(c *Client) {
		if factory != nil {
			c.newLink = factory
		}
	}
}

// NewClient allocates a Client and starts connecting in the background.
func NewClient(address string, opts ...Option) *Client {
	c := &Client{
		Address:     address,
		Timeout:     tcpTimeout,
		SlaveID:     1,
		newLink:     NewTCPLink,
		ready:       make(chan struct{}),
		requestChan: make(chan *queuedRequest, 100),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	// The initial connect step is the head of the queue.
	c.requestChan <- &queuedRequest{
		ctx:      context.Background(),
		name:     "connect",
		connect:  true,
		response: make(chan *queuedResponse, 1),
	}

	c.wg.Add(1)
	go c.worker()
	return c
}

// State returns the current link state.
func (c *Client) State() ConnState {
	return ConnState(c.state.Load())
}

// Wait blocks until the initial connect step finished and reports its
// outcome.
func (c *Client) Wait(ctx context.Context) error {
	select {
	case <-c.ready:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	switch state := c.State(); state {
	case StateConnected:
		return nil
	case StateFailed:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.connectErr
	case StateClosed:
		return ErrClosed
	default:
		return ErrNotConnected
	}
}

// Reconnect closes the current link, if any, and queues a fresh connect step.
func (c *Client) Reconnect(ctx context.Context) error {
	_, err := c.submit(ctx, &queuedRequest{name: "connect", connect: true})
	return err
}

// Session waits for the link, runs fn and always closes the client.
func (c *Client) Session(ctx context.Context, fn func(ctx context.Context, c *Client) error) (err error) {
	defer func() {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}()

	if err = c.Wait(ctx); err != nil {
		return err
	}
	return fn(ctx, c)
}

// Close stops the worker and closes the link. Pending requests fail with
// ErrClosed.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.state.Store(uint32(StateClosed))
		close(c.done)
		c.wg.Wait()
		if c.link != nil {
			err = c.link.Close()
			c.link = nil
		}
		slog.Debug("modbus tcp client closed", "addr", c.Address)
	})
	return err
}

// ReadRegisters reads count holding registers starting at address. Reads
// above the per-message limit are split and concatenated in address order.
func (c *Client) ReadRegisters(ctx context.Context, address uint16, count int) ([]uint16, error) {
	if err := checkRange(address, count, 1); err != nil {
		return nil, err
	}

	out := make([]uint16, 0, count)
	for offset := 0; offset < count; offset += registersPerRead {
		n := min(registersPerRead, count-offset)
		addr := address + uint16(offset)
		data, err := c.submit(ctx, &queuedRequest{
			name: "read holding registers",
			op: func(link Link) ([]byte, error) {
				return link.ReadHoldingRegisters(addr, uint16(n))
			},
		})
		if err != nil {
			return nil, err
		}
		if len(data) < 2*n {
			return nil, fmt.Errorf("%w: %d bytes for %d registers at %d", ErrShortResponse, len(data), n, addr)
		}
		out = append(out, modbus.DecodeRegisters(data[:2*n])...)
	}
	return out, nil
}

// WriteRegisters writes values to consecutive holding registers starting
// at address, split at the per-message limit.
func (c *Client) WriteRegisters(ctx context.Context, address uint16, values []uint16) error {
	if err := checkRange(address, len(values), 1); err != nil {
		return err
	}

	const chunk = 2 * floatsPerWrite
	for offset := 0; offset < len(values); offset += chunk {
		part := values[offset:min(offset+chunk, len(values))]
		if err := c.writeMultiple(ctx, address+uint16(offset), modbus.EncodeRegisters(part)); err != nil {
			return err
		}
	}
	return nil
}

// WriteFloats writes 32-bit floats, two registers each, starting at address.
// Writes above the per-message limit are split with the address advanced by
// two registers per value.
func (c *Client) WriteFloats(ctx context.Context, address uint16, values []float32) error {
	if err := checkRange(address, len(values), 2); err != nil {
		return err
	}

	for offset := 0; offset < len(values); offset += floatsPerWrite {
		part := values[offset:min(offset+floatsPerWrite, len(values))]
		payload := make([]byte, 0, 4*len(part))
		for _, v := range part {
			payload = append(payload, modbus.EncodeFloat32(v)...)
		}
		if err := c.writeMultiple(ctx, address+uint16(2*offset), payload); err != nil {
			return err
		}
	}
	return nil
}

// WriteRegister writes a single holding register.
func (c *Client) WriteRegister(ctx context.Context, address, value uint16) error {
	_, err := c.submit(ctx, &queuedRequest{
		name: "write single register",
		op: func(link Link) ([]byte, error) {
			return link.WriteSingleRegister(address, value)
		},
	})
	return err
}

// ReadCoils reads count coils starting at address.
func (c *Client) ReadCoils(ctx context.Context, address uint16, count int) ([]bool, error) {
	if err := checkRange(address, count, 1); err != nil {
		return nil, err
	}

	out := make([]bool, 0, count)
	for offset := 0; offset < count; offset += modbus.MaxReadCoils {
		n := min(modbus.MaxReadCoils, count-offset)
		addr := address + uint16(offset)
		data, err := c.submit(ctx, &queuedRequest{
			name: "read coils",
			op: func(link Link) ([]byte, error) {
				return link.ReadCoils(addr, uint16(n))
			},
		})
		if err != nil {
			return nil, err
		}
		if len(data) < (n+7)/8 {
			return nil, fmt.Errorf("%w: %d bytes for %d coils at %d", ErrShortResponse, len(data), n, addr)
		}
		out = append(out, modbus.UnpackBits(data, n)...)
	}
	return out, nil
}

// WriteCoil switches a single coil.
func (c *Client) WriteCoil(ctx context.Context, address uint16, on bool) error {
	value := modbus.CoilOff
	if on {
		value = modbus.CoilOn
	}
	_, err := c.submit(ctx, &queuedRequest{
		name: "write single coil",
		op: func(link Link) ([]byte, error) {
			return link.WriteSingleCoil(address, value)
		},
	})
	return err
}

func (c *Client) writeMultiple(ctx context.Context, address uint16, payload []byte) error {
	quantity := uint16(len(payload) / 2)
	_, err := c.submit(ctx, &queuedRequest{
		name: "write multiple registers",
		op: func(link Link) ([]byte, error) {
			return link.WriteMultipleRegisters(address, quantity, payload)
		},
	})
	return err
}

// submit queues req and waits for its response. Time spent in the queue
// is bounded by ctx only; the worker bounds the request itself.
func (c *Client) submit(ctx context.Context, req *queuedRequest) ([]byte, error) {
	req.ctx = ctx
	req.response = make(chan *queuedResponse, 1)

	select {
	case <-c.done:
		return nil, ErrClosed
	default:
	}

	select {
	case c.requestChan <- req:
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, c.abandon(req, ctx.Err())
	}

	select {
	case resp := <-req.response:
		return resp.data, resp.err
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, c.abandon(req, ctx.Err())
	}
}

// abandon resolves a request whose caller gave up before the worker
// answered. A request already on the wire leaves the link in an unknown
// state.
func (c *Client) abandon(req *queuedRequest, err error) error {
	if req.started.Load() && !req.connect {
		c.markLost(req.name, err)
	}
	return c.waitError(req, err)
}

func (c *Client) waitError(req *queuedRequest, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s after %s", ErrTimeout, req.name, c.Timeout)
	}
	return err
}

// worker is a background goroutine that serves queued requests serially.
func (c *Client) worker() {
	defer c.wg.Done()
	slog.Debug("modbus tcp worker started", "addr", c.Address)

	for {
		select {
		case <-c.done:
			return
		case req := <-c.requestChan:
			c.serve(req)
		}
	}
}

func (c *Client) serve(req *queuedRequest) {
	if err := req.ctx.Err(); err != nil {
		req.response <- &queuedResponse{err: err}
		return
	}
	req.started.Store(true)

	if req.connect {
		req.response <- &queuedResponse{err: c.connect()}
		return
	}

	if err := c.checkConnected(); err != nil {
		req.response <- &queuedResponse{err: err}
		return
	}

	// The clock starts on the wire, not in the queue.
	ctx, cancel := context.WithTimeout(req.ctx, c.Timeout)
	defer cancel()

	link := c.link
	result := make(chan *queuedResponse, 1)
	go func() {
		data, err := req.op(link)
		result <- &queuedResponse{data: data, err: err}
	}()

	select {
	case resp := <-result:
		if resp.err != nil {
			resp.err = c.classify(req.name, resp.err)
		}
		if !c.State().IsConnected() {
			c.closeLink()
		}
		req.response <- resp
	case <-ctx.Done():
		c.markLost(req.name, ctx.Err())
		req.response <- &queuedResponse{err: c.waitError(req, ctx.Err())}
		// The link is not reused, but nothing else may touch it before the
		// abandoned operation returns.
		<-result
		c.closeLink()
	}
}

// checkConnected fails requests arriving at a link that is not connected.
// After a failed connect step the connect error is carried along.
func (c *Client) checkConnected() error {
	state := c.State()
	if state.IsConnected() {
		return nil
	}
	if state == StateFailed {
		c.mu.Lock()
		cerr := c.connectErr
		c.mu.Unlock()
		if cerr != nil {
			return fmt.Errorf("%w: %w", ErrNotConnected, cerr)
		}
	}
	return fmt.Errorf("%w: link is %s", ErrNotConnected, state)
}

// connect runs a connect step. Called from the worker only.
func (c *Client) connect() error {
	defer c.markReady()

	if !c.setState(StateConnecting) {
		return ErrClosed
	}
	c.closeLink()

	slog.Info("connecting to modbus tcp gateway", "addr", c.Address, "slaveID", c.SlaveID, "timeout", c.Timeout)
	link := c.newLink(c.Address, c.Timeout, c.SlaveID)
	if err := link.Connect(); err != nil {
		cerr := &ConnectError{Address: c.Address, Err: err}
		c.mu.Lock()
		c.connectErr = cerr
		c.mu.Unlock()
		c.setState(StateFailed)
		slog.Error("failed to connect to modbus tcp gateway", "addr", c.Address, "err", err)
		return cerr
	}

	c.link = link
	if !c.setState(StateConnected) {
		c.closeLink()
		return ErrClosed
	}
	slog.Info("connected to modbus tcp gateway", "addr", c.Address)
	return nil
}

func (c *Client) markReady() {
	select {
	case <-c.ready:
	default:
		close(c.ready)
	}
}

// classify maps link errors. Modbus exceptions pass through unchanged.
func (c *Client) classify(name string, err error) error {
	switch {
	case IsException(err):
		slog.Debug("modbus exception", "addr", c.Address, "request", name, "err", err)
		return err
	case isTimeout(err):
		c.markLost(name, err)
		return fmt.Errorf("%w: %s: %v", ErrTimeout, name, err)
	case isConnectionError(err):
		c.markLost(name, err)
		return fmt.Errorf("%w: %s: %v", ErrConnectionLost, name, err)
	default:
		return err
	}
}

func (c *Client) markLost(name string, err error) {
	if c.state.CompareAndSwap(uint32(StateConnected), uint32(StateLost)) {
		slog.Error("modbus tcp link lost", "addr", c.Address, "request", name, "err", err)
	}
}

// setState moves to s unless the client is closed.
func (c *Client) setState(s ConnState) bool {
	for {
		cur := c.state.Load()
		if ConnState(cur) == StateClosed {
			return false
		}
		if c.state.CompareAndSwap(cur, uint32(s)) {
			return true
		}
	}
}

func (c *Client) closeLink() {
	if c.link == nil {
		return
	}
	if err := c.link.Close(); err != nil {
		slog.Debug("failed to close modbus tcp link", "addr", c.Address, "err", err)
	}
	c.link = nil
}

// checkRange validates count items of width registers starting at address.
func checkRange(address uint16, count, width int) error {
	if count <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCount, count)
	}
	if int(address)+count*width > modbus.MaxAddress+1 {
		return fmt.Errorf("%w: %d items at %d exceed the address space", ErrInvalidCount, count, address)
	}
	return nil
}
