package recognizer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"scribe/internal/engine"
)

func scriptPath(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-recognize.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestRecognizeStreamsSegments(t *testing.T) {
	p := &Process{bin: scriptPath(t, `
echo '{"idx":0,"start":0,"end":5,"text":"hello"}'
echo '{"idx":1,"start":5,"end":10,"text":"world"}'
`)}

	segc, errc := p.Recognize(context.Background(), engine.RecognizeRequest{AudioPath: "a.wav", ModelPath: "/models/base", Device: "cpu", ComputeType: "int8"})

	var got []engine.RawSegment
	for seg := range segc {
		got = append(got, seg)
	}
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(time.Second):
	}

	require.Equal(t, []engine.RawSegment{
		{Idx: 0, Start: 0, End: 5, Text: "hello"},
		{Idx: 1, Start: 5, End: 10, Text: "world"},
	}, got)
}

func TestRecognizeSurfacesNonZeroExit(t *testing.T) {
	p := &Process{bin: scriptPath(t, `
echo '{"idx":0,"start":0,"end":1,"text":"partial"}'
exit 1
`)}

	segc, errc := p.Recognize(context.Background(), engine.RecognizeRequest{AudioPath: "a.wav", ModelPath: "/models/base", Device: "cpu", ComputeType: "int8"})

	for range segc {
	}

	select {
	case err := <-errc:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("expected error on errc")
	}
}

func TestRecognizeSurfacesMalformedOutput(t *testing.T) {
	p := &Process{bin: scriptPath(t, `
echo 'not json'
`)}

	segc, errc := p.Recognize(context.Background(), engine.RecognizeRequest{AudioPath: "a.wav", ModelPath: "/models/base", Device: "cpu", ComputeType: "int8"})

	for range segc {
	}

	select {
	case err := <-errc:
		require.Error(t, err)
		require.Contains(t, err.Error(), "malformed recognizer output")
	case <-time.After(time.Second):
		t.Fatal("expected parse error on errc")
	}
}

func TestRecognizeCanceledContextStopsCleanly(t *testing.T) {
	p := &Process{bin: scriptPath(t, `
echo '{"idx":0,"start":0,"end":1,"text":"first"}'
sleep 5
echo '{"idx":1,"start":1,"end":2,"text":"never"}'
`)}

	ctx, cancel := context.WithCancel(context.Background())
	segc, errc := p.Recognize(ctx, engine.RecognizeRequest{AudioPath: "a.wav", ModelPath: "/models/base", Device: "cpu", ComputeType: "int8"})

	first := <-segc
	require.Equal(t, 0, first.Idx)
	cancel()

	for range segc {
	}
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
	}
}
