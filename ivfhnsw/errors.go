package ivfhnsw

import "errors"

var (
	// ErrNoQuantizer is returned when an operation needs the coarse
	// quantizer before BuildCoarseQuantizer has run.
	ErrNoQuantizer = errors.New("coarse quantizer not built")

	// ErrNotTrained is returned when an operation needs trained PQ
	// codebooks before TrainPQ has run.
	ErrNotTrained = errors.New("product quantizers not trained")
)
