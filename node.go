package snapsync

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind tags a snapshot node with its role in the solution graph.
type Kind string

const (
	KindSolution  Kind = "solution"
	KindProject   Kind = "project"
	KindDocument  Kind = "document"
	KindOptionSet Kind = "options"
)

func (k Kind) valid() bool {
	switch k {
	case KindSolution, KindProject, KindDocument, KindOptionSet:
		return true
	}
	return false
}

// SnapshotNode is the encodable form of a single node in the solution graph:
// its own canonical content plus the ordered checksums of its children.
// The node's checksum is a pure function of this struct.
type SnapshotNode struct {
	Kind    Kind
	Name    string
	Attrs   map[string]string
	Payload []byte

	// Children holds child checksums in order. Order is significant:
	// reordering children changes the node's checksum.
	Children []Checksum
}

// Encode serializes the node into its canonical binary form.
//
// Format: "<kind> {bodylen}\x00{body}" where body is
//
//	{nameLen:2}{name}
//	{attrCount:2}({keyLen:2}{key}{valLen:4}{val})...  keys sorted
//	{payloadLen:4}{payload}
//	{childCount:2}({hash:32})...                      order preserved
//
// Attribute order does not affect the encoding; child order does. Content
// exceeding the field limits cannot be canonically serialized and fails
// with ErrNotCanonical.
func (n *SnapshotNode) Encode() ([]byte, error) {
	if !n.Kind.valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, n.Kind)
	}
	if len(n.Name) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: name too long (%d bytes)", ErrNotCanonical, len(n.Name))
	}
	if len(n.Attrs) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: too many attributes (%d)", ErrNotCanonical, len(n.Attrs))
	}
	if uint64(len(n.Payload)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: payload too large (%d bytes)", ErrNotCanonical, len(n.Payload))
	}
	if len(n.Children) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: too many children (%d)", ErrNotCanonical, len(n.Children))
	}

	var body bytes.Buffer

	binary.Write(&body, binary.BigEndian, uint16(len(n.Name)))
	body.WriteString(n.Name)

	keys := make([]string, 0, len(n.Attrs))
	for k := range n.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	binary.Write(&body, binary.BigEndian, uint16(len(keys)))
	for _, k := range keys {
		v := n.Attrs[k]
		if len(k) > math.MaxUint16 {
			return nil, fmt.Errorf("%w: attribute key too long (%d bytes)", ErrNotCanonical, len(k))
		}
		if uint64(len(v)) > math.MaxUint32 {
			return nil, fmt.Errorf("%w: attribute value too large (%d bytes)", ErrNotCanonical, len(v))
		}
		binary.Write(&body, binary.BigEndian, uint16(len(k)))
		body.WriteString(k)
		binary.Write(&body, binary.BigEndian, uint32(len(v)))
		body.WriteString(v)
	}

	binary.Write(&body, binary.BigEndian, uint32(len(n.Payload)))
	body.Write(n.Payload)

	binary.Write(&body, binary.BigEndian, uint16(len(n.Children)))
	for _, child := range n.Children {
		raw, err := child.raw()
		if err != nil {
			return nil, err
		}
		body.Write(raw[:])
	}

	header := fmt.Sprintf("%s %d\x00", n.Kind, body.Len())
	buf := make([]byte, 0, len(header)+body.Len())
	buf = append(buf, header...)
	buf = append(buf, body.Bytes()...)
	return buf, nil
}

// DecodeNode parses a canonically encoded node.
func DecodeNode(data []byte) (*SnapshotNode, error) {
	idx := bytes.IndexByte(data, 0)
	if idx == -1 {
		return nil, fmt.Errorf("%w: missing null terminator", ErrNotCanonical)
	}

	header := string(data[:idx])
	body := data[idx+1:]

	kindStr, sizeStr, ok := strings.Cut(header, " ")
	if !ok {
		return nil, fmt.Errorf("%w: malformed header %q", ErrNotCanonical, header)
	}
	kind := Kind(kindStr)
	if !kind.valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kindStr)
	}
	size, err := strconv.Atoi(sizeStr)
	if err != nil || size != len(body) {
		return nil, fmt.Errorf("%w: body length mismatch", ErrNotCanonical)
	}

	r := bytes.NewReader(body)
	n := &SnapshotNode{Kind: kind}

	name, err := readString16(r)
	if err != nil {
		return nil, err
	}
	n.Name = name

	var attrCount uint16
	if err := binary.Read(r, binary.BigEndian, &attrCount); err != nil {
		return nil, fmt.Errorf("%w: truncated attributes", ErrNotCanonical)
	}
	if attrCount > 0 {
		n.Attrs = make(map[string]string, attrCount)
		for i := uint16(0); i < attrCount; i++ {
			k, err := readString16(r)
			if err != nil {
				return nil, err
			}
			v, err := readString32(r)
			if err != nil {
				return nil, err
			}
			n.Attrs[k] = v
		}
	}

	var payloadLen uint32
	if err := binary.Read(r, binary.BigEndian, &payloadLen); err != nil {
		return nil, fmt.Errorf("%w: truncated payload length", ErrNotCanonical)
	}
	if payloadLen > 0 {
		n.Payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r, n.Payload); err != nil {
			return nil, fmt.Errorf("%w: truncated payload", ErrNotCanonical)
		}
	}

	var childCount uint16
	if err := binary.Read(r, binary.BigEndian, &childCount); err != nil {
		return nil, fmt.Errorf("%w: truncated child count", ErrNotCanonical)
	}
	if childCount > 0 {
		n.Children = make([]Checksum, 0, childCount)
		var raw [sha256.Size]byte
		for i := uint16(0); i < childCount; i++ {
			if _, err := io.ReadFull(r, raw[:]); err != nil {
				return nil, fmt.Errorf("%w: truncated child checksum", ErrNotCanonical)
			}
			n.Children = append(n.Children, checksumFromRaw(raw))
		}
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrNotCanonical, r.Len())
	}

	return n, nil
}

func readString16(r *bytes.Reader) (string, error) {
	var length uint16
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return "", fmt.Errorf("%w: truncated string length", ErrNotCanonical)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("%w: truncated string", ErrNotCanonical)
	}
	return string(buf), nil
}

func readString32(r *bytes.Reader) (string, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return "", fmt.Errorf("%w: truncated string length", ErrNotCanonical)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("%w: truncated string", ErrNotCanonical)
	}
	return string(buf), nil
}

// MaterializedNode is the realized, shared, immutable in-memory counterpart
// of a SnapshotNode. One instance exists per checksum per service; every
// workspace referencing an unchanged subtree sees the same instance.
// Consumers must never mutate a materialized node.
type MaterializedNode struct {
	sum      Checksum
	kind     Kind
	name     string
	attrs    map[string]string
	payload  []byte
	children []*MaterializedNode
}

// Checksum returns the content checksum this node was materialized under.
func (m *MaterializedNode) Checksum() Checksum { return m.sum }

// Kind returns the node kind.
func (m *MaterializedNode) Kind() Kind { return m.kind }

// Name returns the node name.
func (m *MaterializedNode) Name() string { return m.name }

// Attr returns a content attribute (project metadata, option defaults).
func (m *MaterializedNode) Attr(key string) (string, bool) {
	v, ok := m.attrs[key]
	return v, ok
}

// Attrs returns a copy of the node's attributes.
func (m *MaterializedNode) Attrs() map[string]string {
	if len(m.attrs) == 0 {
		return nil
	}
	out := make(map[string]string, len(m.attrs))
	for k, v := range m.attrs {
		out[k] = v
	}
	return out
}

// Payload returns the node's leaf content (document text for documents).
func (m *MaterializedNode) Payload() []byte { return m.payload }

// Children returns the node's children in checksum order.
func (m *MaterializedNode) Children() []*MaterializedNode { return m.children }

// Child returns the first child with the given kind and name.
func (m *MaterializedNode) Child(kind Kind, name string) (*MaterializedNode, bool) {
	for _, c := range m.children {
		if c.kind == kind && c.name == name {
			return c, true
		}
	}
	return nil, false
}

// snapshotNode rebuilds the encodable form from the materialized tree,
// used to re-verify a materialized node against its claimed checksum.
func (m *MaterializedNode) snapshotNode() *SnapshotNode {
	n := &SnapshotNode{
		Kind:    m.kind,
		Name:    m.name,
		Attrs:   m.attrs,
		Payload: m.payload,
	}
	if len(m.children) > 0 {
		n.Children = make([]Checksum, 0, len(m.children))
		for _, c := range m.children {
			n.Children = append(n.Children, c.sum)
		}
	}
	return n
}
