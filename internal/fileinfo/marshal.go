// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fileinfo

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrTruncated is returned by Unmarshal when the blob ends mid attribute.
var ErrTruncated = errors.New("truncated file info")

const (
	objectNone byte = 0
	objectIcon byte = 1
)

func appendString(b []byte, s string) []byte {
	// Strings that do not fit the length prefix are sent empty.
	if len(s) > math.MaxUint16 {
		s = ""
	}
	b = binary.BigEndian.AppendUint16(b, uint16(len(s)))
	return append(b, s...)
}

// Marshal serializes fi. Attributes are written in name order.
func Marshal(fi *FileInfo) []byte {
	b := binary.BigEndian.AppendUint32(nil, uint32(fi.Len()))

	for _, name := range fi.Names() {
		a := fi.attrs[name]
		b = appendString(b, name)
		b = append(b, byte(a.Type), byte(a.Status))

		switch a.Type {
		case TypeString, TypeByteString:
			s, _ := a.Value.(string)
			b = appendString(b, s)

		case TypeStringV:
			v, _ := a.Value.([]string)
			if len(v) > math.MaxUint16 {
				v = v[:math.MaxUint16]
			}
			b = binary.BigEndian.AppendUint16(b, uint16(len(v)))
			for _, s := range v {
				b = appendString(b, s)
			}

		case TypeBoolean:
			v, _ := a.Value.(bool)
			if v {
				b = append(b, 1)
			} else {
				b = append(b, 0)
			}

		case TypeUint32:
			v, _ := a.Value.(uint32)
			b = binary.BigEndian.AppendUint32(b, v)

		case TypeInt32:
			v, _ := a.Value.(int32)
			b = binary.BigEndian.AppendUint32(b, uint32(v))

		case TypeUint64:
			v, _ := a.Value.(uint64)
			b = binary.BigEndian.AppendUint64(b, v)

		case TypeInt64:
			v, _ := a.Value.(int64)
			b = binary.BigEndian.AppendUint64(b, uint64(v))

		case TypeObject:
			if icon, ok := a.Value.(Icon); ok {
				b = append(b, objectIcon)
				b = appendString(b, string(icon))
			} else {
				b = append(b, objectNone)
			}

		case TypeInvalid:
		}
	}

	return b
}

type decoder struct {
	b   []byte
	off int
}

func (d *decoder) need(n int) error {
	if len(d.b)-d.off < n {
		return fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncated, n, d.off, len(d.b)-d.off)
	}
	return nil
}

func (d *decoder) byte() (v byte, err error) {
	if err = d.need(1); err != nil {
		return
	}
	v = d.b[d.off]
	d.off++
	return
}

func (d *decoder) uint16() (v uint16, err error) {
	if err = d.need(2); err != nil {
		return
	}
	v = binary.BigEndian.Uint16(d.b[d.off:])
	d.off += 2
	return
}

func (d *decoder) uint32() (v uint32, err error) {
	if err = d.need(4); err != nil {
		return
	}
	v = binary.BigEndian.Uint32(d.b[d.off:])
	d.off += 4
	return
}

func (d *decoder) uint64() (v uint64, err error) {
	if err = d.need(8); err != nil {
		return
	}
	v = binary.BigEndian.Uint64(d.b[d.off:])
	d.off += 8
	return
}

func (d *decoder) string() (s string, err error) {
	n, err := d.uint16()
	if err != nil {
		return
	}
	if err = d.need(int(n)); err != nil {
		return
	}
	s = string(d.b[d.off : d.off+int(n)])
	d.off += int(n)
	return
}

// Unmarshal parses a blob produced by Marshal. Decoding stops quietly at the
// first attribute with an unknown type tag, returning the attributes decoded
// so far.
func Unmarshal(b []byte) (*FileInfo, error) {
	d := &decoder{b: b}
	fi := New()

	count, err := d.uint32()
	if err != nil {
		return nil, err
	}

	for range count {
		name, err := d.string()
		if err != nil {
			return nil, err
		}
		t, err := d.byte()
		if err != nil {
			return nil, err
		}
		status, err := d.byte()
		if err != nil {
			return nil, err
		}

		a := Attribute{Type: AttributeType(t), Status: AttributeStatus(status)}
		switch a.Type {
		case TypeString, TypeByteString:
			a.Value, err = d.string()

		case TypeStringV:
			var n uint16
			if n, err = d.uint16(); err != nil {
				break
			}
			v := make([]string, 0, n)
			for range n {
				var s string
				if s, err = d.string(); err != nil {
					break
				}
				v = append(v, s)
			}
			a.Value = v

		case TypeBoolean:
			var v byte
			v, err = d.byte()
			a.Value = v != 0

		case TypeUint32:
			a.Value, err = d.uint32()

		case TypeInt32:
			var v uint32
			v, err = d.uint32()
			a.Value = int32(v)

		case TypeUint64:
			a.Value, err = d.uint64()

		case TypeInt64:
			var v uint64
			v, err = d.uint64()
			a.Value = int64(v)

		case TypeObject:
			var kind byte
			if kind, err = d.byte(); err != nil {
				break
			}
			if kind == objectIcon {
				var s string
				s, err = d.string()
				a.Value = Icon(s)
			}

		case TypeInvalid:

		default:
			return fi, nil
		}

		if err != nil {
			return nil, err
		}
		fi.attrs[name] = a
	}

	return fi, nil
}
