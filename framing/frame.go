// Package framing correlates asynchronous request and response frames on an
// AMQP channel.
//
// Every request a channel sends carries a request id, allocated per channel
// from 1 upwards, and a response mark: the id of the last response this side
// has processed, so the peer can release what it retained for earlier
// responses. A single response frame may answer a contiguous batch of
// outstanding requests.
//
// This package includes:
//   - RequestManager: the requesting side, matching responses to callbacks
//   - ResponseManager: the answering side, allocating response ids and
//     batching responses
//   - the method bodies exchanged by the session layer
//
// The byte encoding of frames is left to the transport behind FrameWriter.
package framing

// Frame is anything a FrameWriter can put on the wire.
type Frame interface {
	ChannelID() uint16
}

// RequestFrame carries a request method.
type RequestFrame struct {
	Channel      uint16
	RequestID    uint64
	ResponseMark uint64 // last response id processed by the sender
	Method       Method
}

// ChannelID implements Frame.
func (f RequestFrame) ChannelID() uint16 { return f.Channel }

// ResponseFrame answers the requests RequestID..RequestID+BatchOffset.
type ResponseFrame struct {
	Channel     uint16
	ResponseID  uint64
	RequestID   uint64 // first request id of the batch
	BatchOffset uint64 // number of further contiguous request ids answered
	Method      Method
}

// ChannelID implements Frame.
func (f ResponseFrame) ChannelID() uint16 { return f.Channel }

// LastRequestID returns the last request id covered by the frame.
func (f ResponseFrame) LastRequestID() uint64 { return f.RequestID + f.BatchOffset }

// FrameWriter hands frames to the transport
type FrameWriter interface {
	WriteFrame(frame Frame) error
}

// FrameWriterFunc is a function adapter for FrameWriter
type FrameWriterFunc func(frame Frame) error

func (f FrameWriterFunc) WriteFrame(frame Frame) error {
	return f(frame)
}

// MetricsCollector receives correlation metrics
type MetricsCollector interface {
	RecordPendingRequests(channel uint16, pending int)
	RecordCorrelationMismatch(channel uint16)
}

type noopMetrics struct{}

func (noopMetrics) RecordPendingRequests(uint16, int) {}
func (noopMetrics) RecordCorrelationMismatch(uint16)  {}
