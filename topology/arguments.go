package topology

import (
	"fmt"
	"math"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Queue declare arguments understood by the registry
const (
	ArgPriorities            = "x-qpid-priorities"
	ArgLastValueQueue        = "qpid.last_value_queue"
	ArgLastValueQueueKey     = "qpid.last_value_queue_key"
	ArgDeadLetterEnabled     = "x-qpid-dlq-enabled"
	ArgMaximumMessageAge     = "x-qpid-maximum-message-age"
	ArgMaximumMessageSize    = "x-qpid-maximum-message-size"
	ArgMaximumMessageCount   = "x-qpid-maximum-message-count"
	ArgMinimumAlertRepeatGap = "x-qpid-minimum-alert-repeat-gap"
	ArgCapacity              = "x-qpid-capacity"
	ArgFlowResumeCapacity    = "x-qpid-flow-resume-capacity"

	// DefaultConflationKey is used when a conflation queue names no key
	DefaultConflationKey = "qpid.LVQ_key"

	// DeadLetterRoutingKey binds a dead-letter queue to its exchange
	DeadLetterRoutingKey = "dlq"

	// DefaultPriorities is used by configuration that asks for a priority
	// queue without a count
	DefaultPriorities = 10
)

// tuningArguments lists the numeric arguments applied after creation
var tuningArguments = []struct {
	key   string
	apply func(*Tuning, int64)
}{
	{ArgMaximumMessageAge, func(t *Tuning, v int64) { t.MaximumMessageAge = v }},
	{ArgMaximumMessageSize, func(t *Tuning, v int64) { t.MaximumMessageSize = v }},
	{ArgMaximumMessageCount, func(t *Tuning, v int64) { t.MaximumMessageCount = v }},
	{ArgMinimumAlertRepeatGap, func(t *Tuning, v int64) { t.MinimumAlertRepeatGap = v }},
	{ArgCapacity, func(t *Tuning, v int64) { t.Capacity = v }},
	{ArgFlowResumeCapacity, func(t *Tuning, v int64) { t.FlowResumeCapacity = v }},
}

// numeric converts any numeric field value to int64. Floats are truncated.
func numeric(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return math.MaxInt64, true
		}
		return int64(n), true
	case float32:
		return int64(n), true
	case float64:
		return int64(n), true
	case amqp.Decimal:
		value := int64(n.Value)
		for i := uint8(0); i < n.Scale; i++ {
			value /= 10
		}
		return value, true
	}
	return 0, false
}

// integer accepts only integral field values.
func integer(v interface{}) (int64, bool) {
	switch v.(type) {
	case float32, float64, amqp.Decimal:
		return 0, false
	}
	return numeric(v)
}

// lookupBool returns the boolean a table carries under key. present is false
// when the key is absent or holds a non boolean value.
func lookupBool(args amqp.Table, key string) (value, present bool) {
	v, ok := args[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func stringValue(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// copyTable returns a shallow copy so a queue never shares its declare
// arguments with the caller.
func copyTable(args amqp.Table) amqp.Table {
	if args == nil {
		return nil
	}
	out := make(amqp.Table, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}
