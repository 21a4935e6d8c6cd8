package store

import (
	"github.com/tinylib/msgp/msgp"
)

// MarshalMsg implements msgp.Marshaler
func (z *ExchangeRecord) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.Require(b, z.Msgsize())
	o = msgp.AppendMapHeader(o, 5)
	o = msgp.AppendString(o, "v")
	o = msgp.AppendString(o, z.VirtualHost)
	o = msgp.AppendString(o, "n")
	o = msgp.AppendString(o, z.Name)
	o = msgp.AppendString(o, "t")
	o = msgp.AppendString(o, z.Type)
	o = msgp.AppendString(o, "d")
	o = msgp.AppendBool(o, z.Durable)
	o = msgp.AppendString(o, "a")
	o = msgp.AppendBool(o, z.AutoDelete)
	return
}

// UnmarshalMsg implements msgp.Unmarshaler
func (z *ExchangeRecord) UnmarshalMsg(bts []byte) (o []byte, err error) {
	var field []byte
	var zb0001 uint32
	zb0001, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		err = msgp.WrapError(err)
		return
	}
	for zb0001 > 0 {
		zb0001--
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			err = msgp.WrapError(err)
			return
		}
		switch msgp.UnsafeString(field) {
		case "v":
			z.VirtualHost, bts, err = msgp.ReadStringBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "VirtualHost")
				return
			}
		case "n":
			z.Name, bts, err = msgp.ReadStringBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "Name")
				return
			}
		case "t":
			z.Type, bts, err = msgp.ReadStringBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "Type")
				return
			}
		case "d":
			z.Durable, bts, err = msgp.ReadBoolBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "Durable")
				return
			}
		case "a":
			z.AutoDelete, bts, err = msgp.ReadBoolBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "AutoDelete")
				return
			}
		default:
			bts, err = msgp.Skip(bts)
			if err != nil {
				err = msgp.WrapError(err)
				return
			}
		}
	}
	o = bts
	return
}

// Msgsize returns an upper bound estimate of the number of bytes occupied by the serialized message
func (z *ExchangeRecord) Msgsize() (s int) {
	s = 1 + 2 + msgp.StringPrefixSize + len(z.VirtualHost) + 2 + msgp.StringPrefixSize + len(z.Name) +
		2 + msgp.StringPrefixSize + len(z.Type) + 2 + msgp.BoolSize + 2 + msgp.BoolSize
	return
}

// MarshalMsg implements msgp.Marshaler
func (z *QueueRecord) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.Require(b, z.Msgsize())
	o = msgp.AppendMapHeader(o, 6)
	o = msgp.AppendString(o, "v")
	o = msgp.AppendString(o, z.VirtualHost)
	o = msgp.AppendString(o, "n")
	o = msgp.AppendString(o, z.Name)
	o = msgp.AppendString(o, "o")
	o = msgp.AppendString(o, z.Owner)
	o = msgp.AppendString(o, "d")
	o = msgp.AppendBool(o, z.Durable)
	o = msgp.AppendString(o, "a")
	o = msgp.AppendBool(o, z.AutoDelete)
	o = msgp.AppendString(o, "args")
	o, err = appendTable(o, z.Arguments)
	if err != nil {
		err = msgp.WrapError(err, "Arguments")
		return
	}
	return
}

// UnmarshalMsg implements msgp.Unmarshaler
func (z *QueueRecord) UnmarshalMsg(bts []byte) (o []byte, err error) {
	var field []byte
	var zb0001 uint32
	zb0001, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		err = msgp.WrapError(err)
		return
	}
	for zb0001 > 0 {
		zb0001--
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			err = msgp.WrapError(err)
			return
		}
		switch msgp.UnsafeString(field) {
		case "v":
			z.VirtualHost, bts, err = msgp.ReadStringBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "VirtualHost")
				return
			}
		case "n":
			z.Name, bts, err = msgp.ReadStringBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "Name")
				return
			}
		case "o":
			z.Owner, bts, err = msgp.ReadStringBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "Owner")
				return
			}
		case "d":
			z.Durable, bts, err = msgp.ReadBoolBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "Durable")
				return
			}
		case "a":
			z.AutoDelete, bts, err = msgp.ReadBoolBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "AutoDelete")
				return
			}
		case "args":
			z.Arguments, bts, err = readTable(bts)
			if err != nil {
				err = msgp.WrapError(err, "Arguments")
				return
			}
		default:
			bts, err = msgp.Skip(bts)
			if err != nil {
				err = msgp.WrapError(err)
				return
			}
		}
	}
	o = bts
	return
}

// Msgsize returns an upper bound estimate of the number of bytes occupied by the serialized message
func (z *QueueRecord) Msgsize() (s int) {
	s = 1 + 2 + msgp.StringPrefixSize + len(z.VirtualHost) + 2 + msgp.StringPrefixSize + len(z.Name) +
		2 + msgp.StringPrefixSize + len(z.Owner) + 2 + msgp.BoolSize + 2 + msgp.BoolSize + 5 + msgp.MapHeaderSize
	for k, v := range z.Arguments {
		s += msgp.StringPrefixSize + len(k) + msgp.GuessSize(v)
	}
	return
}

// MarshalMsg implements msgp.Marshaler
func (z *BindingRecord) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.Require(b, z.Msgsize())
	o = msgp.AppendMapHeader(o, 5)
	o = msgp.AppendString(o, "v")
	o = msgp.AppendString(o, z.VirtualHost)
	o = msgp.AppendString(o, "e")
	o = msgp.AppendString(o, z.Exchange)
	o = msgp.AppendString(o, "q")
	o = msgp.AppendString(o, z.Queue)
	o = msgp.AppendString(o, "k")
	o = msgp.AppendString(o, z.RoutingKey)
	o = msgp.AppendString(o, "args")
	o, err = appendTable(o, z.Arguments)
	if err != nil {
		err = msgp.WrapError(err, "Arguments")
		return
	}
	return
}

// UnmarshalMsg implements msgp.Unmarshaler
func (z *BindingRecord) UnmarshalMsg(bts []byte) (o []byte, err error) {
	var field []byte
	var zb0001 uint32
	zb0001, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		err = msgp.WrapError(err)
		return
	}
	for zb0001 > 0 {
		zb0001--
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			err = msgp.WrapError(err)
			return
		}
		switch msgp.UnsafeString(field) {
		case "v":
			z.VirtualHost, bts, err = msgp.ReadStringBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "VirtualHost")
				return
			}
		case "e":
			z.Exchange, bts, err = msgp.ReadStringBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "Exchange")
				return
			}
		case "q":
			z.Queue, bts, err = msgp.ReadStringBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "Queue")
				return
			}
		case "k":
			z.RoutingKey, bts, err = msgp.ReadStringBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "RoutingKey")
				return
			}
		case "args":
			z.Arguments, bts, err = readTable(bts)
			if err != nil {
				err = msgp.WrapError(err, "Arguments")
				return
			}
		default:
			bts, err = msgp.Skip(bts)
			if err != nil {
				err = msgp.WrapError(err)
				return
			}
		}
	}
	o = bts
	return
}

// Msgsize returns an upper bound estimate of the number of bytes occupied by the serialized message
func (z *BindingRecord) Msgsize() (s int) {
	s = 1 + 2 + msgp.StringPrefixSize + len(z.VirtualHost) + 2 + msgp.StringPrefixSize + len(z.Exchange) +
		2 + msgp.StringPrefixSize + len(z.Queue) + 2 + msgp.StringPrefixSize + len(z.RoutingKey) + 5 + msgp.MapHeaderSize
	for k, v := range z.Arguments {
		s += msgp.StringPrefixSize + len(k) + msgp.GuessSize(v)
	}
	return
}

// MarshalMsg implements msgp.Marshaler
func (z *MessageRecord) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.Require(b, z.Msgsize())
	o = msgp.AppendMapHeader(o, 3)
	o = msgp.AppendString(o, "id")
	o = msgp.AppendInt64(o, z.ID)
	o = msgp.AppendString(o, "ct")
	o = msgp.AppendString(o, z.ContentType)
	o = msgp.AppendString(o, "b")
	o = msgp.AppendBytes(o, z.Body)
	return
}

// UnmarshalMsg implements msgp.Unmarshaler
func (z *MessageRecord) UnmarshalMsg(bts []byte) (o []byte, err error) {
	var field []byte
	var zb0001 uint32
	zb0001, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		err = msgp.WrapError(err)
		return
	}
	for zb0001 > 0 {
		zb0001--
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			err = msgp.WrapError(err)
			return
		}
		switch msgp.UnsafeString(field) {
		case "id":
			z.ID, bts, err = msgp.ReadInt64Bytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "ID")
				return
			}
		case "ct":
			z.ContentType, bts, err = msgp.ReadStringBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "ContentType")
				return
			}
		case "b":
			z.Body, bts, err = msgp.ReadBytesBytes(bts, z.Body)
			if err != nil {
				err = msgp.WrapError(err, "Body")
				return
			}
		default:
			bts, err = msgp.Skip(bts)
			if err != nil {
				err = msgp.WrapError(err)
				return
			}
		}
	}
	o = bts
	return
}

// Msgsize returns an upper bound estimate of the number of bytes occupied by the serialized message
func (z *MessageRecord) Msgsize() (s int) {
	s = 1 + 3 + msgp.Int64Size + 3 + msgp.StringPrefixSize + len(z.ContentType) + 2 + msgp.BytesPrefixSize + len(z.Body)
	return
}
