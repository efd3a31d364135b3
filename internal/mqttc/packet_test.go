package mqttc

import (
	"bytes"
	"errors"
	"testing"
)

func TestRemainingLengthRoundTrip(t *testing.T) {
	cases := []int{0, 1, 127, 128, 16383, 16384, 2097151, 2097152, 268435455}
	for _, n := range cases {
		encoded := encodeRemainingLength(n)
		if len(encoded) > 4 {
			t.Fatalf("encode(%d) produced %d bytes, want <= 4", n, len(encoded))
		}
		decoded, err := decodeRemainingLength(bytes.NewReader(encoded))
		if err != nil {
			t.Fatalf("decode(%d): %v", n, err)
		}
		if decoded != n {
			t.Fatalf("round trip mismatch: encoded %d, decoded %d", n, decoded)
		}
	}
}

func TestDecodeRemainingLengthRejectsFiveByteVarint(t *testing.T) {
	// Four continuation bytes followed by a terminator is one byte too many.
	malformed := []byte{0xff, 0xff, 0xff, 0xff, 0x01}
	_, err := decodeRemainingLength(bytes.NewReader(malformed))
	if !errors.Is(err, ErrRemainingLengthTooLong) {
		t.Fatalf("expected ErrRemainingLengthTooLong, got %v", err)
	}
}

func TestEncodeConnectSetsCleanSessionAndCredentialFlags(t *testing.T) {
	frame := encodeConnect("client-1", "user", "pass", 30)
	pkt, err := decodePacket(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pkt.packetType != packetConnect {
		t.Fatalf("expected CONNECT packet type, got %#x", pkt.packetType)
	}

	r := bytes.NewReader(pkt.body)
	protoName, err := readUTF8String(r)
	if err != nil {
		t.Fatalf("read proto name: %v", err)
	}
	if protoName != "MQTT" {
		t.Fatalf("expected protocol name MQTT, got %q", protoName)
	}

	level, err := r.ReadByte()
	if err != nil || level != 4 {
		t.Fatalf("expected protocol level 4, got %d (err %v)", level, err)
	}

	flags, err := r.ReadByte()
	if err != nil {
		t.Fatalf("read flags: %v", err)
	}
	if flags&connectFlagCleanSession == 0 {
		t.Fatal("expected clean session flag set")
	}
	if flags&connectFlagUsername == 0 {
		t.Fatal("expected username flag set")
	}
	if flags&connectFlagPassword == 0 {
		t.Fatal("expected password flag set")
	}
}

func TestEncodeConnectOmitsCredentialFlagsWhenAbsent(t *testing.T) {
	frame := encodeConnect("client-1", "", "", 30)
	pkt, err := decodePacket(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	r := bytes.NewReader(pkt.body)
	if _, err := readUTF8String(r); err != nil {
		t.Fatalf("read proto name: %v", err)
	}
	if _, err := r.ReadByte(); err != nil {
		t.Fatalf("read level: %v", err)
	}
	flags, err := r.ReadByte()
	if err != nil {
		t.Fatalf("read flags: %v", err)
	}
	if flags&connectFlagUsername != 0 || flags&connectFlagPassword != 0 {
		t.Fatalf("expected no credential flags, got %#x", flags)
	}
}

func TestPublishPayloadSkipsQoS1PacketID(t *testing.T) {
	frame := buildFixedHeader(packetPublish, func() []byte {
		var body bytes.Buffer
		body.Write(encodeUTF8String("room/self/offer"))
		body.Write([]byte{0x00, 0x01}) // packet id, QoS1 only
		body.Write([]byte("payload-bytes"))
		return body.Bytes()
	}())

	// manually set QoS1 flag bits (bit 1) on the fixed header's first byte
	frame[0] = packetPublish | 0x02

	pkt, err := decodePacket(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	topic, payload, err := publishPayload(pkt)
	if err != nil {
		t.Fatalf("publishPayload: %v", err)
	}
	if topic != "room/self/offer" {
		t.Fatalf("unexpected topic: %q", topic)
	}
	if string(payload) != "payload-bytes" {
		t.Fatalf("unexpected payload: %q", payload)
	}
}

func TestPublishPayloadQoS0HasNoPacketID(t *testing.T) {
	frame := encodePublish("room/self/ping", []byte("hi"))
	pkt, err := decodePacket(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	topic, payload, err := publishPayload(pkt)
	if err != nil {
		t.Fatalf("publishPayload: %v", err)
	}
	if topic != "room/self/ping" || string(payload) != "hi" {
		t.Fatalf("unexpected topic/payload: %q/%q", topic, payload)
	}
}

func TestEncodeSubscribeCarriesPacketID(t *testing.T) {
	frame := encodeSubscribe(42, "room/+/announce")
	pkt, err := decodePacket(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pkt.packetType != packetSubscribe&0xf0 {
		t.Fatalf("expected SUBSCRIBE packet type, got %#x", pkt.packetType)
	}
	if len(pkt.body) < 2 {
		t.Fatal("expected at least a packet id in the body")
	}
}

func TestDisconnectAndPingreqAreFixedTwoByteFrames(t *testing.T) {
	if got := encodeDisconnect(); !bytes.Equal(got, []byte{0xE0, 0x00}) {
		t.Fatalf("unexpected DISCONNECT frame: %x", got)
	}
	if got := encodePingreq(); !bytes.Equal(got, []byte{0xC0, 0x00}) {
		t.Fatalf("unexpected PINGREQ frame: %x", got)
	}
}
