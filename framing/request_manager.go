package framing

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/CUXIDUMDUM/qpid/amqperror"
)

// ResponseHandler receives the response to a request
type ResponseHandler interface {
	HandleResponse(method Method)
}

// ResponseHandlerFunc is a function adapter for ResponseHandler
type ResponseHandlerFunc func(method Method)

func (f ResponseHandlerFunc) HandleResponse(method Method) {
	f(method)
}

// RequestManager sends requests on one channel and matches incoming
// responses to the handlers registered for them.
//
// A RequestManager belongs to exactly one channel. Its mutex only guards the
// counters and the pending table; handlers run outside of it.
type RequestManager struct {
	channel uint16
	writer  FrameWriter
	logger  *slog.Logger
	metrics MetricsCollector

	mu                      sync.Mutex
	requestIDCount          uint64 // next request id to hand out
	lastProcessedResponseID uint64
	pending                 map[uint64]ResponseHandler
}

// RequestManagerOption configures a RequestManager
type RequestManagerOption func(*RequestManager)

// WithRequestLogger sets the logger
func WithRequestLogger(logger *slog.Logger) RequestManagerOption {
	return func(m *RequestManager) {
		m.logger = logger
	}
}

// WithRequestMetrics sets the metrics collector
func WithRequestMetrics(collector MetricsCollector) RequestManagerOption {
	return func(m *RequestManager) {
		m.metrics = collector
	}
}

// NewRequestManager creates the request side of a channel
func NewRequestManager(channel uint16, writer FrameWriter, options ...RequestManagerOption) *RequestManager {
	m := &RequestManager{
		channel:        channel,
		writer:         writer,
		logger:         slog.Default(),
		metrics:        noopMetrics{},
		requestIDCount: 1,
		pending:        make(map[uint64]ResponseHandler),
	}

	for _, opt := range options {
		opt(m)
	}

	return m
}

// SendRequest writes method as a new request and registers handler for its
// response. The returned request id is consumed even when the write fails;
// in that case no handler stays registered.
func (m *RequestManager) SendRequest(method Method, handler ResponseHandler) (uint64, error) {
	if handler == nil {
		return 0, fmt.Errorf("framing: response handler cannot be nil")
	}

	m.mu.Lock()
	requestID := m.requestIDCount
	m.requestIDCount++
	frame := RequestFrame{
		Channel:      m.channel,
		RequestID:    requestID,
		ResponseMark: m.lastProcessedResponseID,
		Method:       method,
	}
	// registered before the write so a fast peer cannot answer an unknown id
	m.pending[requestID] = handler
	pending := len(m.pending)
	m.mu.Unlock()

	if err := m.writer.WriteFrame(frame); err != nil {
		m.mu.Lock()
		delete(m.pending, requestID)
		pending = len(m.pending)
		m.mu.Unlock()
		m.metrics.RecordPendingRequests(m.channel, pending)

		m.logger.Error("failed to write request frame",
			"channel", m.channel,
			"requestId", requestID,
			"error", err,
		)
		return requestID, fmt.Errorf("framing: write request %d on channel %d: %w", requestID, m.channel, err)
	}

	m.metrics.RecordPendingRequests(m.channel, pending)
	return requestID, nil
}

// ResponseReceived resolves every request covered by frame, in increasing
// id order, delivering the same method body to each handler. A request id
// without a pending handler fails with CorrelationMismatch and stops the
// batch; ids before it stay resolved.
func (m *RequestManager) ResponseReceived(frame ResponseFrame) error {
	start := frame.RequestID
	stop := frame.LastRequestID()
	if stop < start {
		m.metrics.RecordCorrelationMismatch(m.channel)
		return amqperror.CorrelationMismatch(m.channel, start)
	}

	for requestID := start; ; requestID++ {
		m.mu.Lock()
		handler, ok := m.pending[requestID]
		if ok {
			delete(m.pending, requestID)
		}
		pending := len(m.pending)
		m.mu.Unlock()

		if !ok {
			m.metrics.RecordCorrelationMismatch(m.channel)
			m.logger.Error("response references unknown request",
				"channel", m.channel,
				"responseId", frame.ResponseID,
				"requestId", requestID,
				"batchStart", start,
				"batchOffset", frame.BatchOffset,
			)
			return amqperror.CorrelationMismatch(m.channel, requestID)
		}

		m.metrics.RecordPendingRequests(m.channel, pending)
		handler.HandleResponse(frame.Method)

		if requestID == stop {
			break
		}
	}

	m.mu.Lock()
	m.lastProcessedResponseID = frame.ResponseID
	m.mu.Unlock()
	return nil
}

// Pending returns the number of requests awaiting a response.
func (m *RequestManager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// LastProcessedResponseID returns the response mark sent with the next request.
func (m *RequestManager) LastProcessedResponseID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastProcessedResponseID
}

// Channel returns the channel id.
func (m *RequestManager) Channel() uint16 {
	return m.channel
}
