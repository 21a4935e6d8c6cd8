package framing

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/CUXIDUMDUM/qpid/amqperror"
)

// ResponseManager is the answering side of a channel. It tracks the
// requests received from the peer, allocates response ids and keeps every
// response it sent until the peer's response mark shows it was processed.
type ResponseManager struct {
	channel uint16
	writer  FrameWriter
	logger  *slog.Logger

	mu                    sync.Mutex
	responseIDCount       uint64 // next response id to hand out
	lastReceivedRequestID uint64
	peerResponseMark      uint64
	unanswered            map[uint64]struct{}
	retained              map[uint64]ResponseFrame
}

// ResponseManagerOption configures a ResponseManager
type ResponseManagerOption func(*ResponseManager)

// WithResponseLogger sets the logger
func WithResponseLogger(logger *slog.Logger) ResponseManagerOption {
	return func(m *ResponseManager) {
		m.logger = logger
	}
}

// NewResponseManager creates the response side of a channel
func NewResponseManager(channel uint16, writer FrameWriter, options ...ResponseManagerOption) *ResponseManager {
	m := &ResponseManager{
		channel:         channel,
		writer:          writer,
		logger:          slog.Default(),
		responseIDCount: 1,
		unanswered:      make(map[uint64]struct{}),
		retained:        make(map[uint64]ResponseFrame),
	}

	for _, opt := range options {
		opt(m)
	}

	return m
}

// RequestReceived records an incoming request. Request ids must strictly
// increase. The frame's response mark releases every retained response up to
// and including it.
func (m *ResponseManager) RequestReceived(frame RequestFrame) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if frame.RequestID <= m.lastReceivedRequestID {
		m.logger.Error("request received out of order",
			"channel", m.channel,
			"requestId", frame.RequestID,
			"lastReceived", m.lastReceivedRequestID,
		)
		return amqperror.CorrelationMismatch(m.channel, frame.RequestID)
	}
	m.lastReceivedRequestID = frame.RequestID
	m.unanswered[frame.RequestID] = struct{}{}

	if frame.ResponseMark > m.peerResponseMark {
		m.peerResponseMark = frame.ResponseMark
		for id := range m.retained {
			if id <= frame.ResponseMark {
				delete(m.retained, id)
			}
		}
	}
	return nil
}

// SendResponse answers a single request.
func (m *ResponseManager) SendResponse(requestID uint64, method Method) (uint64, error) {
	return m.SendBatchResponse(requestID, 0, method)
}

// SendBatchResponse answers the contiguous requests
// firstRequestID..firstRequestID+batchOffset with one frame. Every id in the
// range must have been received and not yet answered.
func (m *ResponseManager) SendBatchResponse(firstRequestID, batchOffset uint64, method Method) (uint64, error) {
	m.mu.Lock()
	last := firstRequestID + batchOffset
	if last < firstRequestID {
		m.mu.Unlock()
		return 0, amqperror.CorrelationMismatch(m.channel, firstRequestID)
	}
	for id := firstRequestID; ; id++ {
		if _, ok := m.unanswered[id]; !ok {
			m.mu.Unlock()
			return 0, amqperror.CorrelationMismatch(m.channel, id)
		}
		if id == last {
			break
		}
	}

	responseID := m.responseIDCount
	m.responseIDCount++
	frame := ResponseFrame{
		Channel:     m.channel,
		ResponseID:  responseID,
		RequestID:   firstRequestID,
		BatchOffset: batchOffset,
		Method:      method,
	}
	for id := firstRequestID; ; id++ {
		delete(m.unanswered, id)
		if id == last {
			break
		}
	}
	m.retained[responseID] = frame
	m.mu.Unlock()

	if err := m.writer.WriteFrame(frame); err != nil {
		return responseID, fmt.Errorf("framing: write response %d on channel %d: %w", responseID, m.channel, err)
	}
	return responseID, nil
}

// Suppress drops a received request that is answered by nothing, such as a
// no-wait declare.
func (m *ResponseManager) Suppress(requestID uint64) {
	m.mu.Lock()
	delete(m.unanswered, requestID)
	m.mu.Unlock()
}

// Unanswered returns the received request ids without a response, ascending.
func (m *ResponseManager) Unanswered() []uint64 {
	m.mu.Lock()
	ids := make([]uint64, 0, len(m.unanswered))
	for id := range m.unanswered {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Retained returns the number of sent responses the peer has not yet
// acknowledged through its response mark.
func (m *ResponseManager) Retained() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.retained)
}

// PeerResponseMark returns the highest response mark received.
func (m *ResponseManager) PeerResponseMark() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peerResponseMark
}
