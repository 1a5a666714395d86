package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/skypro1111/udp-audio-relay/internal/config"
	"github.com/skypro1111/udp-audio-relay/internal/membership"
	"github.com/skypro1111/udp-audio-relay/internal/metrics"
	"github.com/skypro1111/udp-audio-relay/internal/protocol"
	"github.com/skypro1111/udp-audio-relay/internal/queue"
)

// ErrPayloadTooLarge is returned by Announce when the encoded envelope exceeds the datagram size limit
var ErrPayloadTooLarge = errors.New("payload exceeds maximum datagram size")

// Relay receives datagrams from clients and rebroadcasts them to every other
// registered client. One goroutine receives and one broadcasts; they share the
// socket, the membership set, and the delivery queue.
type Relay struct {
	conn    *net.UDPConn
	config  *config.ServerConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	members *membership.Set
	queue   *queue.Queue
	limiter *rate.Limiter

	// Concurrency management
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	errCh    chan error
	stopOnce sync.Once

	// Counters
	startTime         time.Time
	datagramsReceived uint64
	registrations     uint64
	broadcasts        uint64
	sends             uint64
	sendErrors        uint64
	mu                sync.RWMutex
}

// NewRelay creates a relay from cfg. Nothing is bound until Start.
func NewRelay(cfg *config.ServerConfig, logger *slog.Logger, m *metrics.Metrics) (*Relay, error) {
	policy, err := queue.ParsePolicy(cfg.QueuePolicy)
	if err != nil {
		return nil, fmt.Errorf("invalid relay config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	r := &Relay{
		config:  cfg,
		logger:  logger,
		metrics: m,
		members: membership.New(),
		queue:   queue.New(cfg.QueueCapacity, policy),
		ctx:     ctx,
		cancel:  cancel,
		errCh:   make(chan error, 1),
	}

	if interval := cfg.GetBroadcastInterval(); interval > 0 {
		r.limiter = rate.NewLimiter(rate.Every(interval), 1)
	}

	r.queue.OnDrop(func(d queue.Datagram) {
		r.metrics.RecordDrops(1)
		r.logger.Warn("Delivery queue full, dropping oldest datagram",
			slog.String("origin", d.Origin.String()),
			slog.Int("size", len(d.Payload)),
		)
	})

	return r, nil
}

// Start binds the socket and launches the receiver and broadcaster
func (r *Relay) Start() error {
	addr, err := net.ResolveUDPAddr("udp", r.config.Address())
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	r.conn = conn
	r.startTime = time.Now()

	r.logger.Info("Started receiving messages",
		slog.String("address", conn.LocalAddr().String()),
		slog.Int("buffer_size", r.config.BufferSize),
		slog.Int("queue_capacity", r.queue.Cap()),
		slog.String("queue_policy", r.queue.Policy().String()),
	)

	r.wg.Add(2)
	go r.broadcastLoop()
	go r.receiveLoop()

	return nil
}

// Stop closes the socket and waits for both loops to exit. Queued datagrams are discarded.
func (r *Relay) Stop() error {
	var closeErr error

	r.stopOnce.Do(func() {
		r.logger.Info("Stopping relay...")

		r.cancel()

		// Closing the socket unblocks the receive loop
		if r.conn != nil {
			closeErr = r.conn.Close()
		}

		r.wg.Wait()
		r.queue.Close()

		stats := r.GetStatistics()
		r.logger.Info("Relay stopped",
			slog.Uint64("datagrams_received", stats.DatagramsReceived),
			slog.Uint64("broadcasts", stats.Broadcasts),
			slog.Uint64("sends", stats.Sends),
			slog.Int("clients", stats.Clients),
		)
	})

	return closeErr
}

// Err delivers the error that terminated the receive loop, if any.
// The broadcaster keeps running after a receive failure; the caller must call Stop.
func (r *Relay) Err() <-chan error {
	return r.errCh
}

// LocalAddr returns the bound socket address
func (r *Relay) LocalAddr() *net.UDPAddr {
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr().(*net.UDPAddr)
}

// Members returns the registered clients
func (r *Relay) Members() []membership.Member {
	return r.members.Snapshot()
}

// receiveLoop reads datagrams until the socket fails or the relay stops.
// A read failure while running is fatal to the loop.
func (r *Relay) receiveLoop() {
	defer r.wg.Done()

	buffer := make([]byte, r.config.BufferSize)

	for {
		n, addr, err := r.conn.ReadFromUDPAddrPort(buffer)
		if err != nil {
			if r.ctx.Err() != nil {
				return
			}

			r.logger.Error("Failed to read UDP datagram", slog.String("error", err.Error()))
			select {
			case r.errCh <- fmt.Errorf("receive loop: %w", err):
			default:
			}
			return
		}

		r.handleDatagram(buffer[:n], membership.Normalize(addr))
	}
}

// handleDatagram registers the sender on "init" and queues everything else
func (r *Relay) handleDatagram(data []byte, addr netip.AddrPort) {
	r.mu.Lock()
	r.datagramsReceived++
	r.mu.Unlock()
	r.metrics.RecordReceived(len(data))

	r.logger.Debug("Received",
		slog.String("remote_addr", addr.String()),
		slog.Int("size", len(data)),
		slog.String("preview", fmt.Sprintf("%q", protocol.Truncate(data, protocol.ReceivePreviewSize))),
	)

	if protocol.IsRegistration(data) {
		r.register(addr)
		return
	}

	// Copy out of the receive buffer, which is reused
	payload := make([]byte, len(data))
	copy(payload, data)

	r.enqueue(queue.Datagram{
		Payload:  payload,
		Origin:   addr,
		Received: time.Now(),
	})
}

func (r *Relay) register(addr netip.AddrPort) {
	added := r.members.Add(addr)

	r.mu.Lock()
	r.registrations++
	r.mu.Unlock()

	clients := r.members.Len()
	r.metrics.RecordRegistration(clients)

	if added {
		r.logger.Info("Added client",
			slog.String("remote_addr", addr.String()),
			slog.Int("clients", clients),
		)
	} else {
		r.logger.Debug("Client already registered", slog.String("remote_addr", addr.String()))
	}
}

func (r *Relay) enqueue(d queue.Datagram) error {
	if err := r.queue.Push(r.ctx, d); err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, queue.ErrClosed) {
			r.logger.Warn("Failed to queue datagram",
				slog.String("origin", d.Origin.String()),
				slog.String("error", err.Error()),
			)
		}
		return err
	}

	r.metrics.RecordQueued(r.queue.Len())

	return nil
}

// broadcastLoop sends each queued datagram to every member except its origin
func (r *Relay) broadcastLoop() {
	defer r.wg.Done()

	for {
		d, err := r.queue.Pop(r.ctx)
		if err != nil {
			return
		}

		r.broadcast(d)

		if r.limiter != nil {
			if err := r.limiter.Wait(r.ctx); err != nil {
				return
			}
		}
	}
}

// broadcast fans one datagram out. Sends are best-effort; a failed send is
// logged and the remaining targets are still tried.
func (r *Relay) broadcast(d queue.Datagram) {
	targets := r.members.Targets(d.Origin)

	sent, failed := 0, 0
	for _, target := range targets {
		if _, err := r.conn.WriteToUDPAddrPort(d.Payload, target); err != nil {
			failed++
			r.logger.Warn("Failed to send datagram",
				slog.String("client", target.String()),
				slog.String("error", err.Error()),
			)
			continue
		}

		sent++
		r.logger.Debug("Sending",
			slog.String("client", target.String()),
			slog.String("preview", fmt.Sprintf("%q", protocol.Truncate(d.Payload, protocol.SendPreviewSize))),
		)
	}

	r.mu.Lock()
	r.broadcasts++
	r.sends += uint64(sent)
	r.sendErrors += uint64(failed)
	r.mu.Unlock()

	r.metrics.RecordBroadcast(time.Since(d.Received).Seconds(), sent, failed, r.queue.Len())
}

// Announce queues a control envelope for every registered client.
// It returns the number of clients registered at the time of queueing.
func (r *Relay) Announce(message string) (int, error) {
	now := time.Now()

	payload, err := protocol.EncodeEnvelope(message, now)
	if err != nil {
		return 0, err
	}
	if len(payload) > r.config.BufferSize {
		return 0, fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(payload), r.config.BufferSize)
	}

	// The zero origin is never a member, so nobody is excluded
	if err := r.enqueue(queue.Datagram{Payload: payload, Received: now}); err != nil {
		return 0, fmt.Errorf("failed to queue announcement: %w", err)
	}

	r.logger.Info("Announcement queued", slog.String("message", message))
	return r.members.Len(), nil
}

// GetStatistics returns current relay statistics
func (r *Relay) GetStatistics() RelayStatistics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var uptime time.Duration
	if !r.startTime.IsZero() {
		uptime = time.Since(r.startTime)
	}

	return RelayStatistics{
		DatagramsReceived: r.datagramsReceived,
		Registrations:     r.registrations,
		DatagramsQueued:   r.queue.Pushed(),
		Broadcasts:        r.broadcasts,
		Sends:             r.sends,
		SendErrors:        r.sendErrors,
		QueueDrops:        r.queue.Dropped(),
		QueueSize:         r.queue.Len(),
		QueueCapacity:     r.queue.Cap(),
		QueuePolicy:       r.queue.Policy().String(),
		Clients:           r.members.Len(),
		Uptime:            uptime.Round(time.Second).String(),
	}
}

// RelayStatistics represents relay counters
type RelayStatistics struct {
	DatagramsReceived uint64 `json:"datagrams_received"`
	Registrations     uint64 `json:"registrations"`
	DatagramsQueued   uint64 `json:"datagrams_queued"`
	Broadcasts        uint64 `json:"broadcasts"`
	Sends             uint64 `json:"sends"`
	SendErrors        uint64 `json:"send_errors"`
	QueueDrops        uint64 `json:"queue_drops"`
	QueueSize         int    `json:"queue_size"`
	QueueCapacity     int    `json:"queue_capacity"`
	QueuePolicy       string `json:"queue_policy"`
	Clients           int    `json:"clients"`
	Uptime            string `json:"uptime"`
}
