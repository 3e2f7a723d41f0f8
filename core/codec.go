// Copyright 2025 Poiesic Systems
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


package core

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
)

// ErrCorruptValue indicates a persisted value could not be decoded.
var ErrCorruptValue = errors.New("corrupt value")

// zeroTime marks a zero time.Time on the wire.
const zeroTime = math.MinInt64

// field visits every field of a value in wire order. The same visitor drives
// sizing, marshaling and unmarshaling so the three can never drift apart.
type field interface {
	str(p *string)
	strs(p *[]string)
	u64(p *uint64)
	i64(p *int64)
	f64(p *float64)
	f32s(p *[]float32)
	ts(p *time.Time)
}

// sizer accumulates the encoded size.
type sizer struct{ n int }

func (s *sizer) str(p *string) { s.n += ord.String.Size(*p) }
func (s *sizer) strs(p *[]string) {
	s.n += varint.Uint64.Size(uint64(len(*p)))
	for _, v := range *p {
		s.n += ord.String.Size(v)
	}
}
func (s *sizer) u64(p *uint64)  { s.n += varint.Uint64.Size(*p) }
func (s *sizer) i64(p *int64)   { s.n += varint.Int64.Size(*p) }
func (s *sizer) f64(p *float64) { s.n += raw.Float64.Size(*p) }
func (s *sizer) f32s(p *[]float32) {
	s.n += varint.Uint64.Size(uint64(len(*p)))
	for _, v := range *p {
		s.n += raw.Float32.Size(v)
	}
}
func (s *sizer) ts(p *time.Time) { s.n += varint.Int64.Size(encodeTime(*p)) }

// writer marshals into a buffer sized by sizer.
type writer struct {
	bs []byte
	n  int
}

func (w *writer) str(p *string) { w.n += ord.String.Marshal(*p, w.bs[w.n:]) }
func (w *writer) strs(p *[]string) {
	w.n += varint.Uint64.Marshal(uint64(len(*p)), w.bs[w.n:])
	for _, v := range *p {
		w.n += ord.String.Marshal(v, w.bs[w.n:])
	}
}
func (w *writer) u64(p *uint64)  { w.n += varint.Uint64.Marshal(*p, w.bs[w.n:]) }
func (w *writer) i64(p *int64)   { w.n += varint.Int64.Marshal(*p, w.bs[w.n:]) }
func (w *writer) f64(p *float64) { w.n += raw.Float64.Marshal(*p, w.bs[w.n:]) }
func (w *writer) f32s(p *[]float32) {
	w.n += varint.Uint64.Marshal(uint64(len(*p)), w.bs[w.n:])
	for _, v := range *p {
		w.n += raw.Float32.Marshal(v, w.bs[w.n:])
	}
}
func (w *writer) ts(p *time.Time) { w.n += varint.Int64.Marshal(encodeTime(*p), w.bs[w.n:]) }

// reader unmarshals; the first error sticks and later fields are skipped.
type reader struct {
	bs  []byte
	n   int
	err error
}

func (r *reader) str(p *string) {
	if r.err != nil {
		return
	}
	v, n, err := ord.String.Unmarshal(r.bs[r.n:])
	r.n += n
	*p, r.err = v, err
}

func (r *reader) length() int {
	var l uint64
	r.u64(&l)
	if r.err == nil && l > uint64(len(r.bs)-r.n) {
		r.err = fmt.Errorf("%w: length %d exceeds remaining %d bytes", ErrCorruptValue, l, len(r.bs)-r.n)
	}
	if r.err != nil {
		return 0
	}
	return int(l)
}

func (r *reader) strs(p *[]string) {
	l := r.length()
	if r.err != nil || l == 0 {
		*p = nil
		return
	}
	out := make([]string, l)
	for i := range out {
		r.str(&out[i])
	}
	*p = out
}

func (r *reader) u64(p *uint64) {
	if r.err != nil {
		return
	}
	v, n, err := varint.Uint64.Unmarshal(r.bs[r.n:])
	r.n += n
	*p, r.err = v, err
}

func (r *reader) i64(p *int64) {
	if r.err != nil {
		return
	}
	v, n, err := varint.Int64.Unmarshal(r.bs[r.n:])
	r.n += n
	*p, r.err = v, err
}

func (r *reader) f64(p *float64) {
	if r.err != nil {
		return
	}
	v, n, err := raw.Float64.Unmarshal(r.bs[r.n:])
	r.n += n
	*p, r.err = v, err
}

func (r *reader) f32s(p *[]float32) {
	l := r.length()
	if r.err != nil || l == 0 {
		*p = nil
		return
	}
	out := make([]float32, l)
	for i := range out {
		if r.err != nil {
			return
		}
		v, n, err := raw.Float32.Unmarshal(r.bs[r.n:])
		r.n += n
		out[i], r.err = v, err
	}
	*p = out
}

func (r *reader) ts(p *time.Time) {
	var v int64
	r.i64(&v)
	*p = decodeTime(v)
}

func encodeTime(t time.Time) int64 {
	if t.IsZero() {
		return zeroTime
	}
	return t.UnixMicro()
}

func decodeTime(v int64) time.Time {
	if v == zeroTime {
		return time.Time{}
	}
	return time.UnixMicro(v).UTC()
}

func boolToU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// serializer implements the mus-go Serializer shape for a type whose fields
// are enumerated by visit.
type serializer[T any] struct {
	visit func(v *T, f field)
}

// Size returns the encoded size of v.
func (s serializer[T]) Size(v T) int {
	var sz sizer
	s.visit(&v, &sz)
	return sz.n
}

// Marshal encodes v into bs, which must be at least Size(v) bytes long.
func (s serializer[T]) Marshal(v T, bs []byte) int {
	w := writer{bs: bs}
	s.visit(&v, &w)
	return w.n
}

// Unmarshal decodes a value from bs. Truncated or malformed input yields an
// error wrapping ErrCorruptValue.
func (s serializer[T]) Unmarshal(bs []byte) (v T, n int, err error) {
	r := reader{bs: bs}
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.err = fmt.Errorf("%w: %v", ErrCorruptValue, rec)
			}
		}()
		s.visit(&v, &r)
	}()
	if r.err != nil && !errors.Is(r.err, ErrCorruptValue) {
		r.err = fmt.Errorf("%w: %w", ErrCorruptValue, r.err)
	}
	return v, r.n, r.err
}

// Skip returns the number of bytes occupied by the next encoded value.
func (s serializer[T]) Skip(bs []byte) (int, error) {
	_, n, err := s.Unmarshal(bs)
	return n, err
}

// NodeMUS encodes Node values.
var NodeMUS = serializer[Node]{visit: func(v *Node, f field) {
	f.str(&v.ID)
	f.str(&v.Path)
	f.str(&v.Content)
	f.f32s(&v.Vector)
	f.str(&v.Model)
	degraded := boolToU64(v.Degraded)
	f.u64(&degraded)
	v.Degraded = degraded == 1
	f.strs(&v.Tags)
	f.ts(&v.LastModified)
	f.ts(&v.IndexedAt)
	f.ts(&v.UpdatedAt)
}}

// EdgeMUS encodes Edge values.
var EdgeMUS = serializer[Edge]{visit: func(v *Edge, f field) {
	f.str(&v.SourceID)
	f.str(&v.TargetID)
	f.f64(&v.Weight)
	f.ts(&v.LastReinforced)
	f.u64(&v.Reinforcements)
}}

// CacheEntryMUS encodes CacheEntry values.
var CacheEntryMUS = serializer[CacheEntry]{visit: func(v *CacheEntry, f field) {
	f.str(&v.Key)
	f.str(&v.Model)
	f.f32s(&v.Vector)
	tokens := int64(v.Tokens)
	f.i64(&tokens)
	v.Tokens = int(tokens)
	f.ts(&v.Timestamp)
	version := uint64(v.Version)
	f.u64(&version)
	v.Version = uint32(version)
}}

// TemporalPatternMUS encodes TemporalPattern values.
var TemporalPatternMUS = serializer[TemporalPattern]{visit: func(v *TemporalPattern, f field) {
	slot := string(v.Slot)
	f.str(&slot)
	v.Slot = TimeSlot(slot)
	day := int64(v.Day)
	f.i64(&day)
	v.Day = time.Weekday(day)
	f.u64(&v.Frequency)
	f.strs(&v.Tasks)
	f.strs(&v.Files)
	f.f64(&v.Confidence)
	f.ts(&v.LastSeen)
}}

// CheckpointMUS encodes Checkpoint values.
var CheckpointMUS = serializer[Checkpoint]{visit: func(v *Checkpoint, f field) {
	f.str(&v.Source)
	f.ts(&v.Since)
	f.ts(&v.UpdatedAt)
}}
