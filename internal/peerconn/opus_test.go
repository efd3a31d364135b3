package peerconn

import (
	"strings"
	"testing"
)

const sampleSDP = `v=0
o=- 1 1 IN IP4 127.0.0.1
s=-
t=0 0
m=audio 9 UDP/TLS/RTP/SAVPF 111
a=rtpmap:111 opus/48000/2
a=fmtp:111 minptime=10;useinbandfec=1
`

func TestConfigureOpusSDPAppendsTuningParamsOnce(t *testing.T) {
	out := ConfigureOpusSDP(sampleSDP)
	if !containsAll(out, "maxaveragebitrate=60000", "stereo=0", "useinbandfec=1") {
		t.Fatalf("expected tuning params present, got %q", out)
	}
}

// §8 invariant 6: applying the transform twice is not the same as applying
// it once — the second pass appends onto the already-tuned line.
func TestConfigureOpusSDPIsNotIdempotent(t *testing.T) {
	once := ConfigureOpusSDP(sampleSDP)
	twice := ConfigureOpusSDP(once)
	if once == twice {
		t.Fatal("expected double application to differ from single application")
	}
	if !containsAll(twice, "maxaveragebitrate=60000") {
		t.Fatal("expected tuning params still present after double application")
	}
}

func containsAll(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
