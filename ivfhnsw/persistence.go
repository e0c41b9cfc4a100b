package ivfhnsw

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Write persists the posting lists and centroid norms: a header of d, nc,
// nprobe, maxCodes; then per centroid the ids, the residual codes, and
// the norm codes, each framed by a uint64 length; then the centroid
// norms. The coarse quantizer and the PQ codebooks persist separately
// (SaveQuantizers, BuildCoarseQuantizer).
func (idx *Index) Write(path string) error {
	if idx.centroidNorms == nil {
		if err := idx.ComputeCentroidNorms(); err != nil {
			return err
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)

	hdr := []uint64{uint64(idx.d), uint64(idx.nc), uint64(idx.nprobe), uint64(idx.maxCodes)}
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return fmt.Errorf("failed to write index header: %w", err)
	}

	for i := 0; i < idx.nc; i++ {
		if err := binary.Write(w, binary.LittleEndian, uint64(len(idx.ids[i]))); err != nil {
			return fmt.Errorf("failed to write ids for list %d: %w", i, err)
		}
		if err := binary.Write(w, binary.LittleEndian, idx.ids[i]); err != nil {
			return fmt.Errorf("failed to write ids for list %d: %w", i, err)
		}
	}

	for i := 0; i < idx.nc; i++ {
		if err := binary.Write(w, binary.LittleEndian, uint64(len(idx.codes[i]))); err != nil {
			return fmt.Errorf("failed to write codes for list %d: %w", i, err)
		}
		if _, err := w.Write(idx.codes[i]); err != nil {
			return fmt.Errorf("failed to write codes for list %d: %w", i, err)
		}
	}

	for i := 0; i < idx.nc; i++ {
		if err := binary.Write(w, binary.LittleEndian, uint64(len(idx.normCodes[i]))); err != nil {
			return fmt.Errorf("failed to write norm codes for list %d: %w", i, err)
		}
		if _, err := w.Write(idx.normCodes[i]); err != nil {
			return fmt.Errorf("failed to write norm codes for list %d: %w", i, err)
		}
	}

	if err := binary.Write(w, binary.LittleEndian, idx.centroidNorms); err != nil {
		return fmt.Errorf("failed to write centroid norms: %w", err)
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush index file: %w", err)
	}
	return nil
}

// Read restores posting lists, centroid norms, and the nprobe/maxCodes
// tunables from a file written by Write. The header dimensions must
// match the configuration.
func (idx *Index) Read(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer file.Close()

	r := bufio.NewReader(file)

	hdr := make([]uint64, 4)
	if err := binary.Read(r, binary.LittleEndian, hdr); err != nil {
		return fmt.Errorf("failed to read index header: %w", err)
	}
	if int(hdr[0]) != idx.d || int(hdr[1]) != idx.nc {
		return fmt.Errorf("index file (d=%d nc=%d) does not match config (d=%d nc=%d)",
			hdr[0], hdr[1], idx.d, idx.nc)
	}
	idx.nprobe = int(hdr[2])
	idx.maxCodes = int(hdr[3])

	idx.ids = make([][]uint32, idx.nc)
	for i := 0; i < idx.nc; i++ {
		var size uint64
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return fmt.Errorf("failed to read ids for list %d: %w", i, err)
		}
		idx.ids[i] = make([]uint32, size)
		if err := binary.Read(r, binary.LittleEndian, idx.ids[i]); err != nil {
			return fmt.Errorf("failed to read ids for list %d: %w", i, err)
		}
	}

	idx.codes = make([][]byte, idx.nc)
	for i := 0; i < idx.nc; i++ {
		var size uint64
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return fmt.Errorf("failed to read codes for list %d: %w", i, err)
		}
		idx.codes[i] = make([]byte, size)
		if _, err := io.ReadFull(r, idx.codes[i]); err != nil {
			return fmt.Errorf("failed to read codes for list %d: %w", i, err)
		}
	}

	idx.normCodes = make([][]byte, idx.nc)
	for i := 0; i < idx.nc; i++ {
		var size uint64
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return fmt.Errorf("failed to read norm codes for list %d: %w", i, err)
		}
		idx.normCodes[i] = make([]byte, size)
		if _, err := io.ReadFull(r, idx.normCodes[i]); err != nil {
			return fmt.Errorf("failed to read norm codes for list %d: %w", i, err)
		}
	}

	for i := 0; i < idx.nc; i++ {
		if len(idx.ids[i]) != len(idx.normCodes[i]) || len(idx.codes[i]) != len(idx.ids[i])*idx.codeSize {
			return fmt.Errorf("corrupt index file: posting list %d arrays disagree", i)
		}
	}

	idx.centroidNorms = make([]float32, idx.nc)
	if err := binary.Read(r, binary.LittleEndian, idx.centroidNorms); err != nil {
		return fmt.Errorf("failed to read centroid norms: %w", err)
	}

	return nil
}

// SaveQuantizers persists the residual and norm codebooks.
func (idx *Index) SaveQuantizers(pathPQ, pathNormPQ string) error {
	if err := idx.pq.Save(pathPQ); err != nil {
		return fmt.Errorf("failed to save residual quantizer: %w", err)
	}
	if err := idx.normPQ.Save(pathNormPQ); err != nil {
		return fmt.Errorf("failed to save norm quantizer: %w", err)
	}
	return nil
}

// LoadQuantizers restores codebooks written by SaveQuantizers.
func (idx *Index) LoadQuantizers(pathPQ, pathNormPQ string) error {
	if err := idx.pq.Load(pathPQ); err != nil {
		return fmt.Errorf("failed to load residual quantizer: %w", err)
	}
	if err := idx.normPQ.Load(pathNormPQ); err != nil {
		return fmt.Errorf("failed to load norm quantizer: %w", err)
	}
	return nil
}
