package remote

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
)

const (
	// layerTargetSize caps the uncompressed size of a packed layer.
	layerTargetSize = 8 * 1024 * 1024

	// checksumLen is the fixed on-wire width of a checksum:
	// "sha256:" (7) + hex (64).
	checksumLen = 71
)

// planLayers splits objects into layer-sized groups of checksums, sorted
// for deterministic packing.
func planLayers(objects map[string][]byte) [][]string {
	sums := make([]string, 0, len(objects))
	for sum := range objects {
		sums = append(sums, sum)
	}
	sort.Strings(sums)

	var layers [][]string
	var current []string
	var size int64

	for _, sum := range sums {
		objSize := int64(len(objects[sum]))
		if len(current) > 0 && size+objSize > layerTargetSize {
			layers = append(layers, current)
			current = nil
			size = 0
		}
		current = append(current, sum)
		size += objSize
	}
	if len(current) > 0 {
		layers = append(layers, current)
	}

	return layers
}

// packObjects packs assets into binary layer format:
// [checksum 71B][length 8B][data]... per object.
func packObjects(sums []string, objects map[string][]byte) []byte {
	var buf bytes.Buffer
	sumBuf := make([]byte, checksumLen)
	lenBuf := make([]byte, 8)

	for _, sum := range sums {
		data := objects[sum]

		copy(sumBuf, sum)
		for i := len(sum); i < checksumLen; i++ {
			sumBuf[i] = 0
		}
		buf.Write(sumBuf)

		binary.BigEndian.PutUint64(lenBuf, uint64(len(data)))
		buf.Write(lenBuf)

		buf.Write(data)
	}
	return buf.Bytes()
}

// unpackObjects reverses packObjects.
func unpackObjects(data []byte) (map[string][]byte, error) {
	result := make(map[string][]byte)
	buf := bytes.NewReader(data)
	sumBuf := make([]byte, checksumLen)

	for buf.Len() > 0 {
		if _, err := buf.Read(sumBuf); err != nil {
			return nil, fmt.Errorf("read checksum: %w", err)
		}
		sum := strings.TrimRight(string(sumBuf), "\x00")

		var length uint64
		if err := binary.Read(buf, binary.BigEndian, &length); err != nil {
			return nil, fmt.Errorf("read length: %w", err)
		}
		if length > uint64(buf.Len()) {
			return nil, fmt.Errorf("truncated object %s", sum)
		}

		objData := make([]byte, length)
		if _, err := buf.Read(objData); err != nil {
			return nil, fmt.Errorf("read data: %w", err)
		}

		result[sum] = objData
	}

	return result, nil
}
