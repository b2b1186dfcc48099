package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskrelay/taskrelay-go/contracts"
)

func TestMarshalRecord(t *testing.T) {
	t.Run("renders ts as UTC RFC3339 and payload verbatim", func(t *testing.T) {
		ts := time.Date(2026, 8, 29, 12, 30, 0, 0, time.UTC)
		line, err := MarshalRecord(Record{
			TS:      ts,
			Payload: map[string]interface{}{"sku": "A1", "amount": float64(5)},
		})

		require.NoError(t, err)
		assert.JSONEq(t, `{"ts":"2026-08-29T12:30:00Z","payload":{"sku":"A1","amount":5}}`, string(line))
	})

	t.Run("non-UTC timestamps are converted", func(t *testing.T) {
		loc := time.FixedZone("CET", 3600)
		line, err := MarshalRecord(Record{
			TS:      time.Date(2026, 8, 29, 13, 30, 0, 0, loc),
			Payload: map[string]interface{}{},
		})

		require.NoError(t, err)
		var out map[string]interface{}
		require.NoError(t, json.Unmarshal(line, &out))
		assert.Equal(t, "2026-08-29T12:30:00Z", out["ts"])
	})

	t.Run("values without native JSON form fall back to string form", func(t *testing.T) {
		line, err := MarshalRecord(Record{
			TS: time.Now(),
			Payload: map[string]interface{}{
				"ch":     make(chan int),
				"nested": map[string]interface{}{"fn": func() {}},
			},
		})

		require.NoError(t, err)
		var out map[string]interface{}
		require.NoError(t, json.Unmarshal(line, &out))
		payload := out["payload"].(map[string]interface{})
		assert.IsType(t, "", payload["ch"])
		nested := payload["nested"].(map[string]interface{})
		assert.IsType(t, "", nested["fn"])
	})
}

func TestFileSink(t *testing.T) {
	ctx := context.Background()

	t.Run("appends one line per record", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "received.jsonl")
		s, err := NewFileSink(path)
		require.NoError(t, err)
		defer s.Close()

		for i := 0; i < 3; i++ {
			err := s.Write(ctx, Record{
				TS:      time.Now(),
				Payload: map[string]interface{}{"n": float64(i)},
			})
			require.NoError(t, err)
		}

		lines := readLines(t, path)
		require.Len(t, lines, 3)
		for i, line := range lines {
			var out map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(line), &out))
			payload := out["payload"].(map[string]interface{})
			assert.Equal(t, float64(i), payload["n"])
		}
	})

	t.Run("open failure is a SinkError", func(t *testing.T) {
		_, err := NewFileSink(filepath.Join(t.TempDir(), "missing", "received.jsonl"))

		var sinkErr *contracts.SinkError
		require.ErrorAs(t, err, &sinkErr)
		assert.Equal(t, "open", sinkErr.Op)
	})

	t.Run("write after close surfaces a SinkError", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "received.jsonl")
		s, err := NewFileSink(path)
		require.NoError(t, err)
		require.NoError(t, s.Close())

		err = s.Write(ctx, Record{TS: time.Now(), Payload: map[string]interface{}{}})

		var sinkErr *contracts.SinkError
		assert.ErrorAs(t, err, &sinkErr)
	})

	t.Run("best-effort mode swallows write failures", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "received.jsonl")
		s, err := NewFileSink(path, WithBestEffort(true))
		require.NoError(t, err)
		require.NoError(t, s.Close())

		err = s.Write(ctx, Record{TS: time.Now(), Payload: map[string]interface{}{}})

		assert.NoError(t, err, "legacy mode drops the record instead of failing")
	})
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	return lines
}
