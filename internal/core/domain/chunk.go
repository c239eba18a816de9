package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

type ChunkType string

const (
	ChunkTypeParent ChunkType = "parent"
	ChunkTypeChild  ChunkType = "child"
)

// Chunk is a stored unit of corpus text. Retrieval only reads chunks.
type Chunk struct {
	ID                string        `json:"id"`
	Content           string        `json:"content"`
	ContextualContent string        `json:"contextual_content,omitempty"`
	Category          string        `json:"category,omitempty"`
	Metadata          ChunkMetadata `json:"metadata"`
	ParentID          string        `json:"parent_id,omitempty"`
	ContentHash       string        `json:"content_hash,omitempty"`
}

// HasParentRef reports whether the chunk is a child pointing at a parent chunk.
func (c Chunk) HasParentRef() bool {
	return c.Metadata.Type == ChunkTypeChild && strings.TrimSpace(c.ParentID) != ""
}

// ChunkMetadata is the typed view of a chunk's attribute bag.
//
// Known keys are decoded into fields only when they carry the expected JSON type.
// Everything else, including known keys with an unexpected type, stays in Extra and
// is written back unchanged.
type ChunkMetadata struct {
	Type    ChunkType
	Parva   string
	Chapter string
	Section string
	Speaker string
	Source  string
	Page    *int
	Extra   map[string]any
}

const (
	metaKeyType    = "type"
	metaKeyParva   = "parva"
	metaKeyChapter = "chapter"
	metaKeySection = "section"
	metaKeySpeaker = "speaker"
	metaKeySource  = "source"
	metaKeyPage    = "page"
)

func (m ChunkMetadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+7)
	for k, v := range m.Extra {
		out[k] = v
	}
	setString := func(key, value string) {
		if value != "" {
			out[key] = value
		}
	}
	setString(metaKeyType, string(m.Type))
	setString(metaKeyParva, m.Parva)
	setString(metaKeyChapter, m.Chapter)
	setString(metaKeySection, m.Section)
	setString(metaKeySpeaker, m.Speaker)
	setString(metaKeySource, m.Source)
	if m.Page != nil {
		out[metaKeyPage] = *m.Page
	}
	return json.Marshal(out)
}

func (m *ChunkMetadata) UnmarshalJSON(data []byte) error {
	*m = ChunkMetadata{}
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	takeString := func(key string, dst *string) {
		if s, ok := raw[key].(string); ok {
			*dst = s
			delete(raw, key)
		}
	}
	var typ string
	takeString(metaKeyType, &typ)
	m.Type = ChunkType(typ)
	takeString(metaKeyParva, &m.Parva)
	takeString(metaKeyChapter, &m.Chapter)
	takeString(metaKeySection, &m.Section)
	takeString(metaKeySpeaker, &m.Speaker)
	takeString(metaKeySource, &m.Source)

	if n, ok := raw[metaKeyPage].(json.Number); ok {
		if page, err := n.Int64(); err == nil {
			p := int(page)
			m.Page = &p
			delete(raw, metaKeyPage)
		}
	}

	if len(raw) > 0 {
		m.Extra = raw
	}
	return nil
}

// Locator renders the human-readable source position used in attributions.
func (m ChunkMetadata) Locator() string {
	parts := make([]string, 0, 5)
	add := func(label, value string) {
		if value != "" {
			parts = append(parts, label+" "+value)
		}
	}
	add("parva", m.Parva)
	add("chapter", m.Chapter)
	add("section", m.Section)
	add("speaker", m.Speaker)
	if m.Page != nil {
		parts = append(parts, "page "+strconv.Itoa(*m.Page))
	}
	return strings.Join(parts, ", ")
}
