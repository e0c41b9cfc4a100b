package hnsw

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/wzb1005/ivf-hnsw/internal/space"
)

// infoHeader mirrors the fixed-size prefix of the info file. All size_t
// fields are uint64 little-endian on disk.
type infoHeader struct {
	OffsetData      uint64
	MaxElements     uint64
	CurElementCount uint64
	SizePerElement  uint64
	M               uint64
	MaxM            uint64
	MaxM0           uint64
	EfConstruction  uint64
	Mult            float64
	MaxLevel        int32
	EnterPoint      int32
}

// SaveInfo writes the graph parameters and the base-layer data region:
// for each element, a neighbor-count header, maxM0 neighbor slots, the
// payload, and the external label.
func (g *Graph) SaveInfo(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create info file: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)

	hdr := infoHeader{
		OffsetData:      uint64(4 + g.maxM0*4),
		MaxElements:     uint64(len(g.nodes)),
		CurElementCount: uint64(g.Len()),
		SizePerElement:  uint64(4 + g.maxM0*4 + g.space.DataSize() + 4),
		M:               uint64(g.m),
		MaxM:            uint64(g.maxM),
		MaxM0:           uint64(g.maxM0),
		EfConstruction:  uint64(g.efConstruction),
		Mult:            g.mult,
		MaxLevel:        int32(g.maxLevel),
		EnterPoint:      g.enterPoint,
	}
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("failed to write info header: %w", err)
	}

	slots := make([]uint32, g.maxM0)
	for i := 0; i < g.Len(); i++ {
		n := &g.nodes[i]
		links := n.links[0]
		if err := binary.Write(w, binary.LittleEndian, uint32(len(links))); err != nil {
			return fmt.Errorf("failed to write element %d: %w", i, err)
		}
		copy(slots, links)
		for j := len(links); j < g.maxM0; j++ {
			slots[j] = 0
		}
		if err := binary.Write(w, binary.LittleEndian, slots); err != nil {
			return fmt.Errorf("failed to write element %d: %w", i, err)
		}
		if _, err := w.Write(n.payload); err != nil {
			return fmt.Errorf("failed to write element %d: %w", i, err)
		}
		if err := binary.Write(w, binary.LittleEndian, n.label); err != nil {
			return fmt.Errorf("failed to write element %d: %w", i, err)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush info file: %w", err)
	}
	return nil
}

// SaveEdges writes the upper-layer topology: for each element in id
// order, its level, then per layer 1..level a count and the neighbor ids.
func (g *Graph) SaveEdges(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create edges file: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	for i := 0; i < g.Len(); i++ {
		n := &g.nodes[i]
		if err := binary.Write(w, binary.LittleEndian, int32(n.level)); err != nil {
			return fmt.Errorf("failed to write edges for element %d: %w", i, err)
		}
		for layer := 1; layer <= n.level; layer++ {
			links := n.links[layer]
			if err := binary.Write(w, binary.LittleEndian, int32(len(links))); err != nil {
				return fmt.Errorf("failed to write edges for element %d: %w", i, err)
			}
			if err := binary.Write(w, binary.LittleEndian, links); err != nil {
				return fmt.Errorf("failed to write edges for element %d: %w", i, err)
			}
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush edges file: %w", err)
	}
	return nil
}

// Load rebuilds a graph from its info and edges files. The space must
// match the one the graph was built with; a payload-size mismatch is a
// format error.
func Load(sp space.Space, pathInfo, pathEdges string) (*Graph, error) {
	infoFile, err := os.Open(pathInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to open info file: %w", err)
	}
	defer infoFile.Close()

	r := bufio.NewReader(infoFile)

	var hdr infoHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("failed to read info header: %w", err)
	}

	payloadSize := int(hdr.SizePerElement) - int(hdr.OffsetData) - 4
	if payloadSize != sp.DataSize() {
		return nil, fmt.Errorf("payload size %d does not match space data size %d",
			payloadSize, sp.DataSize())
	}
	if hdr.CurElementCount > hdr.MaxElements {
		return nil, fmt.Errorf("corrupt info header: count %d exceeds capacity %d",
			hdr.CurElementCount, hdr.MaxElements)
	}

	g, err := New(&Config{
		Space:          sp,
		MaxElements:    int(hdr.MaxElements),
		M:              int(hdr.M),
		MaxM0:          int(hdr.MaxM0),
		EfConstruction: int(hdr.EfConstruction),
	})
	if err != nil {
		return nil, err
	}
	g.maxM = int(hdr.MaxM)
	g.mult = hdr.Mult
	g.maxLevel = int(hdr.MaxLevel)
	g.enterPoint = hdr.EnterPoint
	g.count = int(hdr.CurElementCount)

	slots := make([]uint32, hdr.MaxM0)
	for i := 0; i < g.count; i++ {
		n := &g.nodes[i]

		var linkCount uint32
		if err := binary.Read(r, binary.LittleEndian, &linkCount); err != nil {
			return nil, fmt.Errorf("failed to read element %d: %w", i, err)
		}
		if int(linkCount) > int(hdr.MaxM0) {
			return nil, fmt.Errorf("corrupt element %d: %d links exceed maxM0 %d",
				i, linkCount, hdr.MaxM0)
		}
		if err := binary.Read(r, binary.LittleEndian, slots); err != nil {
			return nil, fmt.Errorf("failed to read element %d: %w", i, err)
		}

		n.payload = make([]byte, payloadSize)
		if _, err := io.ReadFull(r, n.payload); err != nil {
			return nil, fmt.Errorf("failed to read element %d payload: %w", i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &n.label); err != nil {
			return nil, fmt.Errorf("failed to read element %d label: %w", i, err)
		}

		n.links = [][]uint32{append([]uint32(nil), slots[:linkCount]...)}
	}

	if err := loadEdges(g, pathEdges); err != nil {
		return nil, err
	}

	if g.count > 0 && (g.enterPoint < 0 || int(g.enterPoint) >= g.count) {
		return nil, fmt.Errorf("corrupt info header: enter point %d out of range", g.enterPoint)
	}

	return g, nil
}

func loadEdges(g *Graph, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open edges file: %w", err)
	}
	defer file.Close()

	r := bufio.NewReader(file)
	for i := 0; i < g.count; i++ {
		n := &g.nodes[i]

		var level int32
		if err := binary.Read(r, binary.LittleEndian, &level); err != nil {
			return fmt.Errorf("failed to read edges for element %d: %w", i, err)
		}
		if level < 0 {
			return fmt.Errorf("corrupt edges file: element %d has level %d", i, level)
		}
		n.level = int(level)

		for layer := int32(1); layer <= level; layer++ {
			var count int32
			if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
				return fmt.Errorf("failed to read edges for element %d: %w", i, err)
			}
			links := make([]uint32, count)
			if err := binary.Read(r, binary.LittleEndian, links); err != nil {
				return fmt.Errorf("failed to read edges for element %d: %w", i, err)
			}
			n.links = append(n.links, links)
		}
	}

	return nil
}
