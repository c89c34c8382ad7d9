package cache

import (
	"encoding/binary"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/chorus-llm/chorus/pkg/api"
)

// Key fingerprints the deterministic parts of a request: provider, model,
// messages, and sampling parameters. Caller identity and credentials are
// deliberately excluded; identical prompts produce identical completions
// regardless of whose key paid for them, and secrets must never feed a
// cache key.
func Key(req *api.ChatRequest) uint64 {
	d := xxhash.New()

	writeField(d, req.Provider)
	writeField(d, req.Model)
	for _, m := range req.Messages {
		writeField(d, string(m.Role))
		writeField(d, m.Content)
	}
	writeFloat(d, req.Temperature)
	writeFloat(d, req.TopP)
	writeInt(d, req.TopK)
	writeInt(d, req.MaxTokens)
	for _, s := range req.Stop {
		writeField(d, s)
	}

	return d.Sum64()
}

// writeField writes a length-prefixed string so that field boundaries
// cannot collide ("ab"+"c" vs "a"+"bc").
func writeField(d *xxhash.Digest, s string) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(len(s)))
	d.Write(buf[:])
	d.WriteString(s)
}

func writeFloat(d *xxhash.Digest, f *float64) {
	if f == nil {
		writeField(d, "")
		return
	}
	writeField(d, strconv.FormatFloat(*f, 'g', -1, 64))
}

func writeInt(d *xxhash.Digest, i *int) {
	if i == nil {
		writeField(d, "")
		return
	}
	writeField(d, strconv.Itoa(*i))
}
