// Package wire implements the framing and message types spoken between
// metric clients and the out-of-process proxy collector.
//
// Frames are JSON objects separated by a single null byte. Each frame
// carries exactly one command, encoded as an externally tagged union:
//
//	{"Desc":{"name":"requests","doc":"...","ctype":{"Counter":{"value":0}}}}
//	{"Value":{"name":"requests","value":{"Counter":{"value":12}}}}
//	{"JobDesc":{"jobid":"1234-0","command":"./a.out","size":8,...}}
//
// The encoding matches the collector's native format, so a client built
// on this package can talk to an existing proxy deployment without
// translation.
package wire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Delimiter separates frames on the stream. It can never appear inside a
// frame because JSON strings escape control characters.
const Delimiter byte = 0x00

var (
	// ErrEmptyCommand reports a decoded frame with no variant set.
	ErrEmptyCommand = errors.New("wire: command has no variant")

	// ErrAmbiguousPayload reports a payload with both variants set.
	ErrAmbiguousPayload = errors.New("wire: payload has both counter and gauge variants")
)

// CounterPayload is the running value of a monotonic counter.
type CounterPayload struct {
	Value float64 `json:"value"`
}

// GaugePayload summarizes gauge observations: the observed extremes plus
// the number of observations and their sum. Payloads fold: the collector
// takes the min and max across reports and adds hits and total, then
// derives the mean from the folded sums. A client may therefore report
// per-interval windows or running extremes, whichever it tracks.
type GaugePayload struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Hits  float64 `json:"hits"`
	Total float64 `json:"total"`
}

// Payload is the tagged union carried by Desc and Value frames. Exactly
// one of the two variants is set.
type Payload struct {
	Counter *CounterPayload `json:"Counter,omitempty"`
	Gauge   *GaugePayload   `json:"Gauge,omitempty"`
}

// NewCounterPayload returns a counter payload holding v.
func NewCounterPayload(v float64) Payload {
	return Payload{Counter: &CounterPayload{Value: v}}
}

// NewGaugePayload returns a gauge payload with the given window summary.
func NewGaugePayload(min, max, hits, total float64) Payload {
	return Payload{Gauge: &GaugePayload{Min: min, Max: max, Hits: hits, Total: total}}
}

// IsGauge reports whether the gauge variant is set.
func (p Payload) IsGauge() bool { return p.Gauge != nil }

func (p Payload) validate() error {
	if p.Counter == nil && p.Gauge == nil {
		return ErrEmptyCommand
	}
	if p.Counter != nil && p.Gauge != nil {
		return ErrAmbiguousPayload
	}
	return nil
}

// ValueDesc announces a metric before any of its values are sent: its
// unique name, a human readable doc string, and the zero payload that
// tells the collector which kind of metric to allocate.
type ValueDesc struct {
	Name  string  `json:"name"`
	Doc   string  `json:"doc"`
	CType Payload `json:"ctype"`
}

// CounterValue carries one report for a previously described metric.
type CounterValue struct {
	Name  string  `json:"name"`
	Value Payload `json:"value"`
}

// JobDesc identifies the job a client belongs to. The collector groups
// per-process streams with equal jobid into a single job aggregate.
type JobDesc struct {
	JobID     string `json:"jobid"`
	Command   string `json:"command"`
	Size      int    `json:"size"`
	NodeList  string `json:"nodelist"`
	Partition string `json:"partition"`
	Cluster   string `json:"cluster"`
	RunDir    string `json:"run_dir"`
	StartTime uint64 `json:"start_time"`
	EndTime   uint64 `json:"end_time"`
}

// Command is one frame on the stream. Exactly one field is set; the field
// name doubles as the union tag in the JSON encoding.
type Command struct {
	Desc    *ValueDesc    `json:"Desc,omitempty"`
	Value   *CounterValue `json:"Value,omitempty"`
	JobDesc *JobDesc      `json:"JobDesc,omitempty"`
}

func (c Command) validate() error {
	n := 0
	if c.Desc != nil {
		if err := c.Desc.CType.validate(); err != nil {
			return err
		}
		n++
	}
	if c.Value != nil {
		if err := c.Value.Value.validate(); err != nil {
			return err
		}
		n++
	}
	if c.JobDesc != nil {
		n++
	}
	switch {
	case n == 0:
		return ErrEmptyCommand
	case n > 1:
		return fmt.Errorf("wire: command has %d variants set", n)
	}
	return nil
}

// An Encoder writes delimited commands to a stream.
type Encoder struct {
	w io.Writer
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes cmd followed by the frame delimiter. The frame is written
// with a single Write call so concurrent encoders on the same connection
// never interleave partial frames.
func (e *Encoder) Encode(cmd *Command) error {
	if err := cmd.validate(); err != nil {
		return err
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("wire: encode command: %w", err)
	}
	data = append(data, Delimiter)
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("wire: write frame: %w", err)
	}
	return nil
}

// A Decoder reads delimited commands from a stream.
type Decoder struct {
	br *bufio.Reader
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{br: bufio.NewReader(r)}
}

// Decode reads the next command from the stream. It skips empty frames,
// returns io.EOF on a clean end of stream and io.ErrUnexpectedEOF when
// the stream ends inside a frame.
func (d *Decoder) Decode() (*Command, error) {
	for {
		data, err := d.br.ReadBytes(Delimiter)
		if err != nil {
			if errors.Is(err, io.EOF) && len(bytes.TrimSpace(data)) > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		data = data[:len(data)-1]
		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}
		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("wire: decode frame: %w", err)
		}
		if err := cmd.validate(); err != nil {
			return nil, err
		}
		return &cmd, nil
	}
}
