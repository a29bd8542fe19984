// Package packet implements the probe datagram wire format as a gopacket layer.
//
// Wire format, network byte order:
//
//	uint16 sequence id | uint16 payload length | payload length raw bytes
package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/tkjaer/pathq/internal/shared"
)

const (
	// HeaderLen is the fixed probe header size in bytes.
	HeaderLen = 4
	// MaxPayloadLen is the largest payload the length field can describe.
	MaxPayloadLen = 1<<16 - 1
	// MaxEncodedLen is the largest encoded probe, used to size receive buffers.
	MaxEncodedLen = HeaderLen + MaxPayloadLen
	// MaxUDPPayload is the largest datagram an IPv4 UDP socket can carry.
	MaxUDPPayload = 65507
	// MaxProbePayload is the largest payload that still fits in one UDP datagram.
	MaxProbePayload = MaxUDPPayload - HeaderLen
)

// LayerTypeProbe identifies probe packets to gopacket.
var LayerTypeProbe = gopacket.RegisterLayerType(4981, gopacket.LayerTypeMetadata{
	Name:    "Probe",
	Decoder: gopacket.DecodeFunc(decodeProbe),
})

// ProbePacket is one probe datagram. The filler bytes live in BaseLayer.Payload.
type ProbePacket struct {
	layers.BaseLayer
	SequenceID    uint16
	PayloadLength uint16
}

// New builds a probe packet whose length field matches payload.
func New(seq uint16, payload []byte) *ProbePacket {
	return &ProbePacket{
		BaseLayer:     layers.BaseLayer{Payload: payload},
		SequenceID:    seq,
		PayloadLength: uint16(len(payload)),
	}
}

func (p *ProbePacket) LayerType() gopacket.LayerType { return LayerTypeProbe }

func (p *ProbePacket) CanDecode() gopacket.LayerClass { return LayerTypeProbe }

func (p *ProbePacket) NextLayerType() gopacket.LayerType { return gopacket.LayerTypePayload }

// DecodeFromBytes decodes a probe without copying data. Bytes past the
// declared payload are ignored.
func (p *ProbePacket) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < HeaderLen {
		df.SetTruncated()
		return fmt.Errorf("%w: %d bytes is shorter than the %d byte header", shared.ErrDecode, len(data), HeaderLen)
	}
	seq := binary.BigEndian.Uint16(data[0:2])
	length := binary.BigEndian.Uint16(data[2:4])
	if len(data)-HeaderLen < int(length) {
		df.SetTruncated()
		return fmt.Errorf("%w: header declares %d payload bytes, %d present", shared.ErrDecode, length, len(data)-HeaderLen)
	}
	end := HeaderLen + int(length)
	p.SequenceID = seq
	p.PayloadLength = length
	p.Contents = data[:HeaderLen]
	p.Payload = data[HeaderLen:end:end]
	return nil
}

// SerializeTo writes the header and payload. With opts.FixLengths the length
// field is taken from the payload, otherwise a mismatch is an error.
func (p *ProbePacket) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	if len(p.Payload) > MaxPayloadLen {
		return fmt.Errorf("%w: payload of %d bytes exceeds %d", shared.ErrEncode, len(p.Payload), MaxPayloadLen)
	}
	if opts.FixLengths {
		p.PayloadLength = uint16(len(p.Payload))
	}
	if int(p.PayloadLength) != len(p.Payload) {
		return fmt.Errorf("%w: length field %d does not match %d payload bytes", shared.ErrEncode, p.PayloadLength, len(p.Payload))
	}
	bytes, err := b.PrependBytes(HeaderLen + len(p.Payload))
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(bytes[0:2], p.SequenceID)
	binary.BigEndian.PutUint16(bytes[2:4], p.PayloadLength)
	copy(bytes[HeaderLen:], p.Payload)
	return nil
}

func decodeProbe(data []byte, pb gopacket.PacketBuilder) error {
	p := &ProbePacket{}
	if err := p.DecodeFromBytes(data, pb); err != nil {
		return err
	}
	pb.AddLayer(p)
	if len(p.Payload) == 0 {
		return nil
	}
	return pb.NextDecoder(p.NextLayerType())
}

// Encode serializes p into a freshly allocated buffer.
func Encode(p *ProbePacket) ([]byte, error) {
	buf := gopacket.NewSerializeBufferExpectedSize(HeaderLen+len(p.Payload), 0)
	if err := p.SerializeTo(buf, gopacket.SerializeOptions{}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses data into a packet that owns a copy of its payload.
func Decode(data []byte) (*ProbePacket, error) {
	p := &ProbePacket{}
	if err := p.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return nil, err
	}
	payload := make([]byte, len(p.Payload))
	copy(payload, p.Payload)
	p.Payload = payload
	p.Contents = nil
	return p, nil
}
