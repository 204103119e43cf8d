package bucket

import (
	"encoding/binary"
	"fmt"
	"time"

	dberrors "github.com/vnykmshr/distbucket/pkg/common/errors"
)

const (
	recordFormatV1 byte = 1
	recordSize          = 1 + 5*8 + 8
)

// Record is the value stored under a key by compare-and-swap stores. It
// embeds the configuration next to the state so one read observes both.
//
// Revision increases with every write, which keeps the encoded bytes of
// successive writes distinct for stores that version by content.
type Record struct {
	Configuration Configuration
	State         State
	Revision      uint64
}

// MarshalBinary encodes r as a fixed-size big-endian record.
func (r Record) MarshalBinary() ([]byte, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}

	b := make([]byte, recordSize)
	b[0] = recordFormatV1
	binary.BigEndian.PutUint64(b[1:], uint64(r.Configuration.Capacity))
	binary.BigEndian.PutUint64(b[9:], uint64(r.Configuration.RefillTokens))
	binary.BigEndian.PutUint64(b[17:], uint64(r.Configuration.PeriodMillis()))
	binary.BigEndian.PutUint64(b[25:], uint64(r.State.Tokens))
	binary.BigEndian.PutUint64(b[33:], uint64(r.State.LastRefillAtMillis))
	binary.BigEndian.PutUint64(b[41:], r.Revision)
	return b, nil
}

// UnmarshalBinary decodes a record written by MarshalBinary. Errors wrap
// ErrCorruptState.
func (r *Record) UnmarshalBinary(b []byte) error {
	if len(b) != recordSize {
		return fmt.Errorf("%w: record is %d bytes, want %d", dberrors.ErrCorruptState, len(b), recordSize)
	}
	if b[0] != recordFormatV1 {
		return fmt.Errorf("%w: unknown record format %d", dberrors.ErrCorruptState, b[0])
	}

	decoded := Record{
		Configuration: Configuration{
			Capacity:     int64(binary.BigEndian.Uint64(b[1:])),
			RefillTokens: int64(binary.BigEndian.Uint64(b[9:])),
			RefillPeriod: time.Duration(int64(binary.BigEndian.Uint64(b[17:]))) * time.Millisecond,
		},
		Revision: binary.BigEndian.Uint64(b[41:]),
	}
	decoded.State = State{
		Capacity:           decoded.Configuration.Capacity,
		Tokens:             int64(binary.BigEndian.Uint64(b[25:])),
		LastRefillAtMillis: int64(binary.BigEndian.Uint64(b[33:])),
	}

	if err := decoded.validate(); err != nil {
		return err
	}
	*r = decoded
	return nil
}

func (r Record) validate() error {
	if err := r.Configuration.Validate(); err != nil {
		return fmt.Errorf("%w: %w", dberrors.ErrCorruptState, err)
	}
	if r.State.Tokens < 0 || r.State.Tokens > r.Configuration.Capacity {
		return fmt.Errorf("%w: tokens %d outside [0, %d]", dberrors.ErrCorruptState, r.State.Tokens, r.Configuration.Capacity)
	}
	return nil
}
