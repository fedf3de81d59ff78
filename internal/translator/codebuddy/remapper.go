package codebuddy

import (
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"
)

const (
	vendorToolCallPrefix = "tooluse_"
	openAIToolCallPrefix = "call_"
)

// ConvertToolCallID rewrites a vendor tool-call id (tooluse_<x>) to the OpenAI
// form (call_<x>). Other ids are returned unchanged.
func ConvertToolCallID(id string) string {
	if strings.HasPrefix(id, vendorToolCallPrefix) {
		return openAIToolCallPrefix + id[len(vendorToolCallPrefix):]
	}
	return id
}

// ToolCallRemapper assigns stable, dense OpenAI tool-call indexes to the vendor's
// tool-call fragments. One remapper serves exactly one stream.
type ToolCallRemapper struct {
	indexByID map[string]int
	lastIndex int
	hasLast   bool
}

// NewToolCallRemapper returns an empty remapper.
func NewToolCallRemapper() *ToolCallRemapper {
	return &ToolCallRemapper{indexByID: make(map[string]int)}
}

// Remap returns the payload for chunk with every tool-call fragment's id
// converted and its index rewritten. A fragment with an id seen for the first
// time reserves the next index; a fragment without an id inherits the index of
// the most recent id. Chunks without tool calls are returned as received.
func (r *ToolCallRemapper) Remap(chunk *Chunk) []byte {
	if chunk == nil {
		return nil
	}
	if len(chunk.ToolCalls) == 0 {
		return chunk.Raw
	}

	out := make([]byte, len(chunk.Raw))
	copy(out, chunk.Raw)

	for _, frag := range chunk.ToolCalls {
		base := "choices.0.delta.tool_calls." + strconv.Itoa(frag.Position)
		var index int
		switch {
		case frag.ID != "":
			converted := ConvertToolCallID(frag.ID)
			idx, seen := r.indexByID[converted]
			if !seen {
				idx = len(r.indexByID)
				r.indexByID[converted] = idx
			}
			r.lastIndex, r.hasLast = idx, true
			index = idx
			if converted != frag.ID {
				out = r.set(out, base+".id", converted)
			}
		case r.hasLast:
			index = r.lastIndex
		default:
			continue
		}
		out = r.set(out, base+".index", index)
	}
	return out
}

// Len returns how many distinct tool calls have been seen.
func (r *ToolCallRemapper) Len() int {
	return len(r.indexByID)
}

func (r *ToolCallRemapper) set(payload []byte, path string, value interface{}) []byte {
	updated, err := sjson.SetBytes(payload, path, value)
	if err != nil {
		log.Debugf("codebuddy: rewrite %s failed: %v", path, err)
		return payload
	}
	return updated
}
