// Package ivfhnsw implements a billion-scale approximate nearest
// neighbor index: an HNSW graph over coarse centroids routes each query
// to a handful of inverted posting lists whose entries are residual
// vectors compressed with product quantization. Search evaluates
// asymmetric distances over the compressed codes without decompressing
// the database.
package ivfhnsw

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/wzb1005/ivf-hnsw/internal/hnsw"
	"github.com/wzb1005/ivf-hnsw/internal/obs"
	"github.com/wzb1005/ivf-hnsw/internal/quant"
	"github.com/wzb1005/ivf-hnsw/internal/space"
	"github.com/wzb1005/ivf-hnsw/internal/vecio"
)

// Index is the IVF-ADC index. It owns its coarse quantizer, both product
// quantizers, the posting lists, and the centroid norms. Posting lists
// grow append-only under AddBatch; centroids are immutable once the
// coarse quantizer is built.
type Index struct {
	config   *Config
	d        int
	nc       int
	codeSize int

	nprobe   int
	maxCodes int
	efSearch int

	quantizer *hnsw.Graph
	pq        *quant.ProductQuantizer
	normPQ    *quant.ProductQuantizer

	// Per-centroid posting lists: parallel arrays of equal length.
	ids       [][]uint32
	codes     [][]byte
	normCodes [][]byte

	// centroids[k] is the raw centroid whose label is k; centroidNorms
	// holds the squared L2 norms, indexed the same way.
	centroids     [][]float32
	centroidNorms []float32

	mu      sync.Mutex // protects posting-list appends
	metrics *obs.Metrics
}

// New creates an empty index. The coarse quantizer is built separately
// with BuildCoarseQuantizer.
func New(config *Config) (*Index, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid index config: %w", err)
	}

	pq, err := quant.New(&quant.Config{
		Dim:           config.Dim,
		M:             config.CodeBytes,
		Nbits:         config.Nbits,
		MaxIterations: 25,
		Tolerance:     1e-6,
		RandomSeed:    config.RandomSeed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create residual quantizer: %w", err)
	}

	normPQ, err := quant.New(&quant.Config{
		Dim:           1,
		M:             1,
		Nbits:         config.Nbits,
		MaxIterations: 25,
		Tolerance:     1e-6,
		RandomSeed:    config.RandomSeed + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create norm quantizer: %w", err)
	}

	return &Index{
		config:    config,
		d:         config.Dim,
		nc:        config.NCentroids,
		codeSize:  config.CodeBytes,
		nprobe:    config.NProbe,
		maxCodes:  config.MaxCodes,
		pq:        pq,
		normPQ:    normPQ,
		ids:       make([][]uint32, config.NCentroids),
		codes:     make([][]byte, config.NCentroids),
		normCodes: make([][]byte, config.NCentroids),
		metrics:   config.Metrics,
	}, nil
}

// SetNProbe adjusts the number of posting lists probed per query.
func (idx *Index) SetNProbe(nprobe int) {
	if nprobe > 0 && nprobe <= idx.nc {
		idx.nprobe = nprobe
	}
}

// SetMaxCodes adjusts the soft cap on codes scanned per query.
func (idx *Index) SetMaxCodes(maxCodes int) {
	if maxCodes >= 0 {
		idx.maxCodes = maxCodes
	}
}

// SetEfSearch adjusts the coarse quantizer's candidate list size.
func (idx *Index) SetEfSearch(ef int) {
	if ef > 0 {
		idx.efSearch = ef
	}
}

// Len returns the number of indexed vectors across all posting lists.
func (idx *Index) Len() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	total := 0
	for _, list := range idx.ids {
		total += len(list)
	}
	return total
}

// BuildCoarseQuantizer loads the HNSW coarse quantizer from pathInfo and
// pathEdges when both exist; otherwise it reads nc centroids from the
// fvecs file at pathClusters, inserts them in parallel into a new graph,
// and persists both files.
func (idx *Index) BuildCoarseQuantizer(ctx context.Context, pathClusters, pathInfo, pathEdges string, m, efConstruction int) error {
	sp := space.NewFloatL2(idx.d)

	if fileExists(pathInfo) && fileExists(pathEdges) {
		g, err := hnsw.Load(sp, pathInfo, pathEdges)
		if err != nil {
			return fmt.Errorf("failed to load coarse quantizer: %w", err)
		}
		if g.Len() != idx.nc {
			return fmt.Errorf("loaded quantizer has %d centroids, expected %d", g.Len(), idx.nc)
		}
		idx.quantizer = g
		idx.efSearch = efConstruction
		return idx.cacheCentroids()
	}

	g, err := hnsw.New(&hnsw.Config{
		Space:          sp,
		MaxElements:    idx.nc,
		M:              m,
		MaxM0:          2 * m,
		EfConstruction: efConstruction,
		RandomSeed:     idx.config.RandomSeed,
	})
	if err != nil {
		return fmt.Errorf("failed to create coarse quantizer: %w", err)
	}

	scanner, err := vecio.OpenFvecs(pathClusters, idx.d)
	if err != nil {
		return fmt.Errorf("failed to open centroids: %w", err)
	}
	defer scanner.Close()

	// The scanner is serialized by a critical section; insertion runs in
	// parallel. The centroid's file position becomes its label.
	var readMu sync.Mutex
	next := 0
	eg, egCtx := errgroup.WithContext(ctx)
	for w := 0; w < runtime.GOMAXPROCS(0); w++ {
		eg.Go(func() error {
			payload := make([]byte, 0, idx.d*4)
			for {
				select {
				case <-egCtx.Done():
					return egCtx.Err()
				default:
				}

				readMu.Lock()
				if !scanner.Scan() {
					err := scanner.Err()
					readMu.Unlock()
					return err
				}
				label := uint32(next)
				next++
				payload = space.EncodeFloats(payload[:0], scanner.Vector())
				readMu.Unlock()

				if err := g.AddPoint(payload, label); err != nil {
					return err
				}
			}
		})
	}
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("failed to build coarse quantizer: %w", err)
	}
	if g.Len() != idx.nc {
		return fmt.Errorf("centroids file holds %d records, expected %d", g.Len(), idx.nc)
	}

	if err := g.SaveInfo(pathInfo); err != nil {
		return fmt.Errorf("failed to persist coarse quantizer: %w", err)
	}
	if err := g.SaveEdges(pathEdges); err != nil {
		return fmt.Errorf("failed to persist coarse quantizer: %w", err)
	}

	idx.quantizer = g
	idx.efSearch = efConstruction
	return idx.cacheCentroids()
}

// cacheCentroids copies the graph payloads into a label-indexed dense
// array so residual computation does not chase graph internals.
func (idx *Index) cacheCentroids() error {
	idx.centroids = make([][]float32, idx.nc)
	for id := 0; id < idx.quantizer.Len(); id++ {
		label := idx.quantizer.Label(uint32(id))
		if int(label) >= idx.nc {
			return fmt.Errorf("quantizer label %d out of range [0, %d)", label, idx.nc)
		}
		vec := make([]float32, idx.d)
		space.DecodeFloats(vec, idx.quantizer.Payload(uint32(id)))
		idx.centroids[label] = vec
	}
	for k, c := range idx.centroids {
		if c == nil {
			return fmt.Errorf("quantizer is missing centroid %d", k)
		}
	}
	return nil
}

// ComputeCentroidNorms fills the centroid-norms vector with the squared
// L2 norm of every centroid.
func (idx *Index) ComputeCentroidNorms() error {
	if idx.quantizer == nil {
		return ErrNoQuantizer
	}
	idx.centroidNorms = make([]float32, idx.nc)
	for k := 0; k < idx.nc; k++ {
		idx.centroidNorms[k] = space.NormL2Sqr(idx.centroids[k])
	}
	return nil
}

// Assign finds the nearest centroid label for each vector, in parallel.
func (idx *Index) Assign(ctx context.Context, vectors [][]float32, out []uint32) error {
	if idx.quantizer == nil {
		return ErrNoQuantizer
	}
	if len(out) < len(vectors) {
		return fmt.Errorf("output buffer too small: %d < %d", len(out), len(vectors))
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(runtime.GOMAXPROCS(0))
	for i := range vectors {
		i := i
		eg.Go(func() error {
			select {
			case <-egCtx.Done():
				return egCtx.Err()
			default:
			}
			results := idx.quantizer.SearchKnn(space.EncodeFloats(nil, vectors[i]), 1, idx.efSearch, nil)
			if len(results) == 0 {
				return fmt.Errorf("empty assignment for vector %d", i)
			}
			out[i] = results[0].Label
			return nil
		})
	}
	return eg.Wait()
}

// TrainPQ learns the residual and norm codebooks from training vectors:
// residuals against assigned centroids feed the residual quantizer, and
// the squared norms of the reconstructions feed the norm quantizer.
func (idx *Index) TrainPQ(ctx context.Context, vectors [][]float32) error {
	if idx.quantizer == nil {
		return ErrNoQuantizer
	}
	if len(vectors) == 0 {
		return fmt.Errorf("no training vectors provided")
	}

	assigned := make([]uint32, len(vectors))
	if err := idx.Assign(ctx, vectors, assigned); err != nil {
		return fmt.Errorf("failed to assign training vectors: %w", err)
	}

	residuals := make([][]float32, len(vectors))
	for i, vec := range vectors {
		residuals[i] = idx.computeResidual(vec, assigned[i])
	}

	if err := idx.pq.Train(ctx, residuals); err != nil {
		return fmt.Errorf("failed to train residual quantizer: %w", err)
	}

	// Norm training runs on reconstructions, not originals: search
	// corrects with the norm the compressed representation implies.
	norms := make([][]float32, len(vectors))
	code := make([]byte, idx.codeSize)
	decoded := make([]float32, idx.d)
	for i := range vectors {
		if err := idx.pq.Encode(residuals[i], code); err != nil {
			return fmt.Errorf("failed to encode residual %d: %w", i, err)
		}
		if err := idx.pq.Decode(code, decoded); err != nil {
			return fmt.Errorf("failed to decode residual %d: %w", i, err)
		}
		rec := idx.reconstruct(decoded, assigned[i])
		norms[i] = []float32{space.NormL2Sqr(rec)}
	}

	if err := idx.normPQ.Train(ctx, norms); err != nil {
		return fmt.Errorf("failed to train norm quantizer: %w", err)
	}
	return nil
}

// AddBatch appends n vectors to the posting lists named by their
// precomputed coarse assignments.
func (idx *Index) AddBatch(ctx context.Context, vectors [][]float32, labels []uint32, assignments []uint32) error {
	if idx.quantizer == nil {
		return ErrNoQuantizer
	}
	if !idx.pq.Trained() || !idx.normPQ.Trained() {
		return ErrNotTrained
	}
	if len(labels) != len(vectors) || len(assignments) != len(vectors) {
		return fmt.Errorf("vectors, labels, and assignments must have equal length")
	}

	n := len(vectors)
	codes := make([]byte, n*idx.codeSize)
	normCodes := make([]byte, n)
	decoded := make([]float32, idx.d)
	normVec := make([]float32, 1)

	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		key := assignments[i]
		if int(key) >= idx.nc {
			return fmt.Errorf("assignment %d out of range [0, %d)", key, idx.nc)
		}

		residual := idx.computeResidual(vectors[i], key)
		code := codes[i*idx.codeSize : (i+1)*idx.codeSize]
		if err := idx.pq.Encode(residual, code); err != nil {
			return fmt.Errorf("failed to encode vector %d: %w", i, err)
		}
		if err := idx.pq.Decode(code, decoded); err != nil {
			return fmt.Errorf("failed to decode vector %d: %w", i, err)
		}

		rec := idx.reconstruct(decoded, key)
		normVec[0] = space.NormL2Sqr(rec)
		if err := idx.normPQ.Encode(normVec, normCodes[i:i+1]); err != nil {
			return fmt.Errorf("failed to encode norm %d: %w", i, err)
		}
	}

	idx.mu.Lock()
	for i := 0; i < n; i++ {
		key := assignments[i]
		idx.ids[key] = append(idx.ids[key], labels[i])
		idx.codes[key] = append(idx.codes[key], codes[i*idx.codeSize:(i+1)*idx.codeSize]...)
		idx.normCodes[key] = append(idx.normCodes[key], normCodes[i])
	}
	idx.mu.Unlock()

	if idx.metrics != nil {
		idx.metrics.VectorAdds.Add(float64(n))
	}
	return nil
}

// computeResidual returns vec - centroid[key] in a fresh buffer.
func (idx *Index) computeResidual(vec []float32, key uint32) []float32 {
	centroid := idx.centroids[key]
	out := make([]float32, idx.d)
	for i := range out {
		out[i] = vec[i] - centroid[i]
	}
	return out
}

// reconstruct returns centroid[key] + decodedResidual in a fresh buffer.
func (idx *Index) reconstruct(decodedResidual []float32, key uint32) []float32 {
	centroid := idx.centroids[key]
	out := make([]float32, idx.d)
	for i := range out {
		out[i] = centroid[i] + decodedResidual[i]
	}
	return out
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
