package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func init() {
	log = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSelftest_Sim(t *testing.T) {
	for _, id := range []uint16{0, 1} {
		if err := selftest(context.Background(), id, time.Second); err != nil {
			t.Fatalf("device %d: %v", id, err)
		}
	}
	if err := selftest(context.Background(), 7, time.Second); err == nil {
		t.Fatalf("selftest on unknown device succeeded")
	}
}

func TestPair_Sim(t *testing.T) {
	for _, n := range []int{0, maxPairFrames + 1} {
		pairFrames = n
		if err := pair(context.Background()); err == nil {
			t.Fatalf("pair accepted --frames %d", n)
		}
	}
	pairFrames = 100
	pairTimeout = 10 * time.Second
	for _, rx := range []uint16{0, 1} {
		pairTx, pairRx = 0, rx
		if err := pair(context.Background()); err != nil {
			t.Fatalf("rx device %d: %v", rx, err)
		}
	}
}

func TestDump(t *testing.T) {
	var buf bytes.Buffer
	if err := dump(&buf, 1); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"canfd1 (device 1, mailbox)", "SRR", "WIR", "RCS2"} {
		if !strings.Contains(out, want) {
			t.Errorf("dump output missing %q:\n%s", want, out)
		}
	}
	// A fresh simulated core reports Config mode.
	if !strings.Contains(out, "0x00000001") {
		t.Errorf("SR not in Config mode:\n%s", out)
	}

	buf.Reset()
	if err := dump(&buf, 0); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "RCS0") {
		t.Errorf("sequential device dumped mailbox status:\n%s", buf.String())
	}
}
