package flights

import (
	"encoding/json"
	"sort"
	"strings"
)

type bulkAction struct {
	Index struct {
		Index string `json:"_index"`
	} `json:"index"`
}

// indexBuffer accumulates action/document line pairs for one index.
type indexBuffer struct {
	lines []string
	count int
}

func (b *indexBuffer) add(indexName string, doc Document) error {
	var action bulkAction
	action.Index.Index = indexName

	actionJSON, err := json.Marshal(action)
	if err != nil {
		return err
	}
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	b.lines = append(b.lines, string(actionJSON), string(docJSON))
	b.count++
	return nil
}

// payload renders the NDJSON body; the bulk API requires a trailing newline.
func (b *indexBuffer) payload() string {
	return strings.Join(b.lines, "\n") + "\n"
}

func (b *indexBuffer) reset() {
	b.lines = b.lines[:0]
	b.count = 0
}

// buffers holds one indexBuffer per destination index for a single file.
type buffers map[string]*indexBuffer

func (bs buffers) get(indexName string) *indexBuffer {
	b, ok := bs[indexName]
	if !ok {
		b = &indexBuffer{}
		bs[indexName] = b
	}
	return b
}

// pending lists indices with buffered documents in name order.
func (bs buffers) pending() []string {
	var names []string
	for name, b := range bs {
		if b.count > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
