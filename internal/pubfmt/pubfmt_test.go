package pubfmt

import (
	"bytes"
	"net"
	"testing"
)

func TestFormatDatagramBasicExample(t *testing.T) {
	datagram := append([]byte("news/sport\x00"), 0x03, 'h', 'i', 0)
	src := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 5000}

	topic, payload, err := FormatDatagram(src, datagram)
	if err != nil {
		t.Fatalf("FormatDatagram: %v", err)
	}
	if topic != "news/sport" {
		t.Errorf("topic = %q", topic)
	}

	wantPrefix := "10.0.0.1 5000 news/sport"
	if !bytes.HasPrefix(payload, []byte(wantPrefix)) {
		t.Fatalf("payload missing prefix, got %q", payload)
	}

	header := []byte("10.0.0.1 5000 ")
	topicField := payload[len(header) : len(header)+MaxTopicLen]
	if !bytes.Equal(topicField[:len("news/sport")], []byte("news/sport")) {
		t.Errorf("topic field mismatch: %q", topicField)
	}
	for _, b := range topicField[len("news/sport"):] {
		if b != 0 {
			t.Fatalf("expected null padding, got %v", topicField)
		}
	}

	rest := payload[len(header)+MaxTopicLen:]
	if !bytes.Equal(rest, []byte{0x03, 'h', 'i', 0}) {
		t.Errorf("rest = %v", rest)
	}
}

func TestExtractTopicNoNullTerminator(t *testing.T) {
	datagram := bytes.Repeat([]byte{'a'}, MaxTopicLen+5)
	if _, _, err := ExtractTopic(datagram); err != ErrTopicTooLong {
		t.Errorf("err = %v, want ErrTopicTooLong", err)
	}
}

func TestExtractTopicEmpty(t *testing.T) {
	datagram := []byte{0, 'x'}
	topic, restOff, err := ExtractTopic(datagram)
	if err != nil {
		t.Fatalf("ExtractTopic: %v", err)
	}
	if topic != "" || restOff != 1 {
		t.Errorf("topic=%q restOff=%d", topic, restOff)
	}
}
