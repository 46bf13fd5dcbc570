package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"reflect"
	"sync"
)

// CompactCodec is a field-order binary codec: unlike ReflectiveCodec it
// never writes type descriptors on the wire, only a one-byte class tag
// followed by each exported field's raw encoding in declaration order.
// Smaller on the wire, at the cost of requiring both peers to agree on
// field order ahead of time (exactly the tradeoff spec.md implies by
// calling this the "compact binary codec" alongside the self-describing
// reflective one).
type CompactCodec struct {
	mu       sync.RWMutex
	ids      map[string]uint8
	types    map[uint8]reflect.Type
	typeToID map[reflect.Type]uint8
	nextTag  uint8
}

func NewCompactCodec() *CompactCodec {
	return &CompactCodec{
		ids:      make(map[string]uint8),
		types:    make(map[uint8]reflect.Type),
		typeToID: make(map[reflect.Type]uint8),
	}
}

func (c *CompactCodec) Register(classID string, sample any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.ids[classID]; exists {
		return false
	}
	t := reflect.TypeOf(sample)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	tag := c.nextTag
	c.nextTag++
	c.ids[classID] = tag
	c.types[tag] = t
	c.typeToID[t] = tag
	return true
}

func (c *CompactCodec) IsRegistered(classID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.ids[classID]
	return ok
}

func (c *CompactCodec) Serialize(obj any) ([]byte, error) {
	t := reflect.TypeOf(obj)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	c.mu.RLock()
	tag, ok := c.typeToID[t]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrUnregistered
	}
	var buf bytes.Buffer
	buf.WriteByte(tag)
	v := reflect.ValueOf(obj)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if err := encodeValue(&buf, v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return buf.Bytes(), nil
}

func (c *CompactCodec) Deserialize(data []byte) (any, error) {
	if len(data) < 1 {
		return nil, ErrCorrupt
	}
	tag := data[0]
	c.mu.RLock()
	t, ok := c.types[tag]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownClass
	}
	r := bytes.NewReader(data[1:])
	out := reflect.New(t).Elem()
	if err := decodeValue(r, out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return out.Interface(), nil
}

func (c *CompactCodec) Clone() Codec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := NewCompactCodec()
	for id, tag := range c.ids {
		cp.ids[id] = tag
		cp.types[tag] = c.types[tag]
		cp.typeToID[c.types[tag]] = tag
	}
	cp.nextTag = c.nextTag
	return cp
}

func encodeValue(buf *bytes.Buffer, v reflect.Value) error {
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			f := v.Field(i)
			if !v.Type().Field(i).IsExported() {
				continue
			}
			if err := encodeValue(buf, f); err != nil {
				return err
			}
		}
	case reflect.String:
		s := v.String()
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(s)))
		buf.Write(n[:])
		buf.WriteString(s)
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			b := v.Bytes()
			var n [4]byte
			binary.BigEndian.PutUint32(n[:], uint32(len(b)))
			buf.Write(n[:])
			buf.Write(b)
			return nil
		}
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(v.Len()))
		buf.Write(n[:])
		for i := 0; i < v.Len(); i++ {
			if err := encodeValue(buf, v.Index(i)); err != nil {
				return err
			}
		}
	case reflect.Bool:
		if v.Bool() {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case reflect.Int, reflect.Int64:
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(v.Int()))
		buf.Write(n[:])
	case reflect.Int32:
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(v.Int()))
		buf.Write(n[:])
	case reflect.Uint32:
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(v.Uint()))
		buf.Write(n[:])
	case reflect.Uint64, reflect.Uint:
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], v.Uint())
		buf.Write(n[:])
	default:
		return fmt.Errorf("compact codec: unsupported kind %s", v.Kind())
	}
	return nil
}

func decodeValue(r *bytes.Reader, v reflect.Value) error {
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if !v.Type().Field(i).IsExported() {
				continue
			}
			if err := decodeValue(r, v.Field(i)); err != nil {
				return err
			}
		}
	case reflect.String:
		n, err := readU32(r)
		if err != nil {
			return err
		}
		b := make([]byte, n)
		if _, err := r.Read(b); err != nil {
			return err
		}
		v.SetString(string(b))
	case reflect.Slice:
		n, err := readU32(r)
		if err != nil {
			return err
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, n)
			if n > 0 {
				if _, err := r.Read(b); err != nil {
					return err
				}
			}
			v.SetBytes(b)
			return nil
		}
		s := reflect.MakeSlice(v.Type(), int(n), int(n))
		for i := 0; i < int(n); i++ {
			if err := decodeValue(r, s.Index(i)); err != nil {
				return err
			}
		}
		v.Set(s)
	case reflect.Bool:
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		v.SetBool(b != 0)
	case reflect.Int, reflect.Int64:
		n, err := readU64(r)
		if err != nil {
			return err
		}
		v.SetInt(int64(n))
	case reflect.Int32:
		n, err := readU32(r)
		if err != nil {
			return err
		}
		v.SetInt(int64(int32(n)))
	case reflect.Uint32:
		n, err := readU32(r)
		if err != nil {
			return err
		}
		v.SetUint(uint64(n))
	case reflect.Uint64, reflect.Uint:
		n, err := readU64(r)
		if err != nil {
			return err
		}
		v.SetUint(n)
	default:
		return fmt.Errorf("compact codec: unsupported kind %s", v.Kind())
	}
	return nil
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}
