package space

import (
	"encoding/binary"
	"fmt"

	"github.com/wzb1005/ivf-hnsw/internal/quant"
)

// PQADC is the asymmetric-distance space over product-quantized codes.
// Stored payloads are M-byte codes. Construction distances between two
// codes come from precomputed codeword-to-codeword tables; query
// distances come from per-query tables filled by ComputeQueryTables, and
// the query representation handed to Distance is a little-endian uint32
// index into those tables.
type PQADC struct {
	pq   *quant.ProductQuantizer
	m    int
	ksub int

	// construction[m*ksub*ksub + a*ksub + b] = ||centroid_m[a] - centroid_m[b]||^2
	construction []float32

	// queries holds nq consecutive M*ksub ADC tables.
	queries []float32
	nq      int
}

// NewPQADC builds the construction tables for a trained quantizer.
func NewPQADC(pq *quant.ProductQuantizer) (*PQADC, error) {
	if !pq.Trained() {
		return nil, fmt.Errorf("quantizer not trained")
	}

	m, ksub := pq.M(), pq.Ksub()
	construction := make([]float32, m*ksub*ksub)
	for sub := 0; sub < m; sub++ {
		base := sub * ksub * ksub
		for a := 0; a < ksub; a++ {
			ca := pq.Centroid(sub, a)
			for b := a + 1; b < ksub; b++ {
				d := L2Sqr(ca, pq.Centroid(sub, b))
				construction[base+a*ksub+b] = d
				construction[base+b*ksub+a] = d
			}
		}
	}

	return &PQADC{
		pq:           pq,
		m:            m,
		ksub:         ksub,
		construction: construction,
	}, nil
}

func (s *PQADC) Dim() int      { return s.pq.Dim() }
func (s *PQADC) DataSize() int { return s.pq.CodeSize() }

// ComputeQueryTables fills the per-query ADC tables. Query i is afterwards
// addressed by QueryRepr(i).
func (s *PQADC) ComputeQueryTables(queries [][]float32) error {
	tableLen := s.m * s.ksub
	s.queries = make([]float32, len(queries)*tableLen)
	s.nq = len(queries)
	for i, q := range queries {
		if err := s.pq.ComputeDistanceTable(q, s.queries[i*tableLen:(i+1)*tableLen]); err != nil {
			return fmt.Errorf("failed to build ADC table for query %d: %w", i, err)
		}
	}
	return nil
}

// QueryRepr returns the query representation for query index i.
func (s *PQADC) QueryRepr(i int) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(i))
	return b[:]
}

// Distance sums the query's ADC table entries over the code bytes,
// unrolled by four the way the posting-list scan does it.
func (s *PQADC) Distance(q, code []byte) float32 {
	idx := int(binary.LittleEndian.Uint32(q))
	table := s.queries[idx*s.m*s.ksub:]

	var sum float32
	m := 0
	for ; m+4 <= s.m; m += 4 {
		sum += table[m*s.ksub+int(code[m])]
		sum += table[(m+1)*s.ksub+int(code[m+1])]
		sum += table[(m+2)*s.ksub+int(code[m+2])]
		sum += table[(m+3)*s.ksub+int(code[m+3])]
	}
	for ; m < s.m; m++ {
		sum += table[m*s.ksub+int(code[m])]
	}
	return sum
}

// PairDistance sums codeword-to-codeword distances between two codes.
func (s *PQADC) PairDistance(a, b []byte) float32 {
	var sum float32
	for m := 0; m < s.m; m++ {
		sum += s.construction[m*s.ksub*s.ksub+int(a[m])*s.ksub+int(b[m])]
	}
	return sum
}
