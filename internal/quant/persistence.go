package quant

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
)

// Save writes the trained codebooks: a uint64 header of dim, M, nbits
// followed by the M*ksub*dsub centroid floats.
func (pq *ProductQuantizer) Save(path string) error {
	if !pq.trained {
		return fmt.Errorf("quantizer not trained")
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create quantizer file: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	hdr := []uint64{uint64(pq.config.Dim), uint64(pq.config.M), uint64(pq.config.Nbits)}
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return fmt.Errorf("failed to write quantizer header: %w", err)
	}
	for m := 0; m < pq.config.M; m++ {
		if err := binary.Write(w, binary.LittleEndian, pq.centroids[m]); err != nil {
			return fmt.Errorf("failed to write codebook %d: %w", m, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush quantizer file: %w", err)
	}
	return nil
}

// Load reads codebooks previously written by Save. The header must match
// the quantizer's configuration.
func (pq *ProductQuantizer) Load(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open quantizer file: %w", err)
	}
	defer file.Close()

	r := bufio.NewReader(file)
	hdr := make([]uint64, 3)
	if err := binary.Read(r, binary.LittleEndian, hdr); err != nil {
		return fmt.Errorf("failed to read quantizer header: %w", err)
	}
	if int(hdr[0]) != pq.config.Dim || int(hdr[1]) != pq.config.M || int(hdr[2]) != pq.config.Nbits {
		return fmt.Errorf("quantizer file (d=%d M=%d nbits=%d) does not match config (d=%d M=%d nbits=%d)",
			hdr[0], hdr[1], hdr[2], pq.config.Dim, pq.config.M, pq.config.Nbits)
	}

	pq.centroids = make([][]float32, pq.config.M)
	for m := 0; m < pq.config.M; m++ {
		pq.centroids[m] = make([]float32, pq.ksub*pq.dsub)
		if err := binary.Read(r, binary.LittleEndian, pq.centroids[m]); err != nil {
			return fmt.Errorf("failed to read codebook %d: %w", m, err)
		}
	}

	pq.trained = true
	return nil
}
